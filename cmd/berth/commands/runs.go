package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openberth/openberth/pkg/config"
	"github.com/openberth/openberth/pkg/ledger"
)

func newRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show provisioning run history",
		Long: `Show recent provisioning runs recorded in the local ledger. Works
offline: the ledger lives on the operator's machine, not the managed
host.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			hostCfg, err := cfg.HostConfig(hostName)
			if err != nil {
				return err
			}

			store, err := ledger.NewStore(cfg.Paths.Ledger)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Init(ctx); err != nil {
				return err
			}

			runs, err := store.ListRuns(ctx, hostCfg.Host, limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(runs)
			}

			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			for _, run := range runs {
				fmt.Printf("  %s  %-9s  %-20s  %s\n",
					run.StartedAt.Format("2006-01-02 15:04:05"), run.Status, run.Project, run.ID)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show")

	return cmd
}
