package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openberth/openberth/pkg/scan"
	"github.com/openberth/openberth/pkg/slot"
)

func newScanCommand() *cobra.Command {
	var (
		withDatabases bool
		withCaches    bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the managed host's observed state",
		Long: `Scan the managed host and report what is actually running: listening
ports with their owners, container-backed services, and optionally the
database catalog and cache index usage.

Port ownership is resolved from three sources in preference order:
container runtime labels, the socket table, and registry seeding for
listeners nothing else could name. Sources that fail are recorded as
gaps rather than failing the scan.`,
		Example: `  # Scan ports and services
  berth scan

  # Include database catalog and cache keyspace usage
  berth scan --databases --caches

  # Machine-readable snapshot
  berth scan --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := newSession("scan")
			if err != nil {
				return err
			}
			defer sess.Close()

			reg, err := sess.registryStore().Load(ctx)
			if err != nil {
				return err
			}

			scanner := sess.scanner()
			obs, err := scanner.ScanPorts(ctx, reg)
			if err != nil {
				return err
			}

			report := struct {
				Host      string                 `json:"host"`
				Observed  *scan.Observed         `json:"observed"`
				Databases []string               `json:"databases,omitempty"`
				Users     []string               `json:"users,omitempty"`
				Caches    map[int]int64          `json:"cache_indexes,omitempty"`
			}{Host: sess.client.Host(), Observed: obs}

			if withDatabases {
				principal := sess.cfg.Provision.DatabasePrincipal
				if report.Databases, err = scanner.ScanDatabases(ctx, principal); err != nil {
					return err
				}
				if report.Users, err = scanner.ScanDatabaseUsers(ctx, principal); err != nil {
					return err
				}
			}
			if withCaches {
				if report.Caches, err = scanner.ScanCacheIndexes(ctx); err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(report)
			}

			fmt.Printf("Host %s: %d ports in use, %d services\n", report.Host, len(obs.UsedPorts), len(obs.Services))
			ports := make([]int, 0, len(obs.UsedPorts))
			for port := range obs.UsedPorts {
				ports = append(ports, port)
			}
			sort.Ints(ports)
			for _, port := range ports {
				marker := ""
				if owner, managed := slot.ManagedRangeFor(port); managed {
					marker = fmt.Sprintf("  [%s/%s]", owner.Environment, owner.Kind)
				}
				fmt.Printf("  %5d  %s%s\n", port, obs.UsedPorts[port], marker)
			}
			for _, gap := range obs.Gaps {
				fmt.Printf("  gap: %s\n", gap)
			}
			for _, db := range report.Databases {
				fmt.Printf("  database: %s\n", db)
			}
			if len(report.Caches) > 0 {
				indexes := make([]int, 0, len(report.Caches))
				for idx := range report.Caches {
					indexes = append(indexes, idx)
				}
				sort.Ints(indexes)
				for _, idx := range indexes {
					fmt.Printf("  cache db%d: %d keys\n", idx, report.Caches[idx])
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withDatabases, "databases", false, "include the database catalog")
	cmd.Flags().BoolVar(&withCaches, "caches", false, "include cache index key counts")

	return cmd
}
