package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openberth/openberth/pkg/drift"
	"github.com/openberth/openberth/pkg/ledger"
)

func newDriftCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Drift detection between manifest, registry, and host",
		Long: `Detect drift by comparing three sources of truth: the deployment
manifest (intent), the provisioning registry (record), and the host's
observed state (reality), plus the local allocation ledger.

Findings are classified: manifest entries with nothing listening,
untracked listeners inside managed ranges, stale ledger entries, and
registry ports stuck in deprecated ranges.`,
	}

	cmd.AddCommand(newDriftDetectCommand())
	cmd.AddCommand(newDriftWatchCommand())

	return cmd
}

func newDriftDetectCommand() *cobra.Command {
	var (
		manifestPath string
		reportFile   string
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect drift once and report findings",
		Example: `  # Detect drift using the configured manifest
  berth drift detect

  # Explicit manifest and a JSON report file
  berth drift detect --manifest deploy.yaml --report drift-report.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := newSession("drift-detect")
			if err != nil {
				return err
			}
			defer sess.Close()

			findings, err := detectDrift(ctx, sess, resolveManifestPath(sess, manifestPath))
			if err != nil {
				return err
			}

			if reportFile != "" {
				data, err := json.MarshalIndent(findings, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(reportFile, data, 0o644); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
			}

			if jsonOutput {
				return printJSON(findings)
			}
			printFindings(findings)

			for _, f := range findings {
				if f.Severity == drift.SeverityError {
					return fmt.Errorf("drift detected: %d finding(s), at least one error", len(findings))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "deployment manifest path (default from config)")
	cmd.Flags().StringVar(&reportFile, "report", "", "drift report output file")

	return cmd
}

func newDriftWatchCommand() *cobra.Command {
	var (
		manifestPath string
		interval     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run drift detection when the manifest changes",
		Long: `Watch the deployment manifest and re-run drift detection whenever it
changes, and at a fixed interval regardless, so host-side drift is
noticed without an operator editing anything.`,
		Example: `  # Watch the configured manifest, rescanning every 10 minutes
  berth drift watch

  # Tighter loop against an explicit manifest
  berth drift watch --manifest deploy.yaml --interval 2m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := newSession("drift-watch")
			if err != nil {
				return err
			}
			defer sess.Close()

			path := resolveManifestPath(sess, manifestPath)
			if path == "" {
				return fmt.Errorf("no manifest path configured; watch needs a file to watch")
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()
			if err := watcher.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}

			run := func(reason string) {
				log.Info().Str("reason", reason).Msg("running drift detection")
				findings, err := detectDrift(ctx, sess, path)
				if err != nil {
					log.Error().Err(err).Msg("drift detection failed")
					return
				}
				printFindings(findings)
			}

			run("startup")

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			// Editors replace files rather than writing in place, so a
			// rename/remove means re-adding the watch on the new inode.
			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
						continue
					}
					if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
						time.Sleep(100 * time.Millisecond)
						_ = watcher.Add(path)
					}
					run("manifest changed")
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Warn().Err(err).Msg("watch error")
				case <-ticker.C:
					run("interval")
				}
			}
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "deployment manifest path (default from config)")
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Minute, "periodic rescan interval")

	return cmd
}

// detectDrift gathers the three sources plus the ledger and runs the
// detector.
func detectDrift(ctx context.Context, sess *session, manifestPath string) ([]drift.Finding, error) {
	var manifest *drift.Manifest
	if manifestPath != "" {
		manifest = drift.TryLoadManifest(manifestPath)
	}

	reg, err := sess.registryStore().Load(ctx)
	if err != nil {
		return nil, err
	}

	obs, err := sess.scanner().ScanPorts(ctx, reg)
	if err != nil {
		return nil, err
	}

	ledgerPorts := map[int]string{}
	if store, err := ledger.NewStore(sess.cfg.Paths.Ledger); err == nil {
		defer store.Close()
		if err := store.Init(ctx); err == nil {
			if active, err := store.ActivePorts(ctx, sess.client.Host()); err == nil {
				ledgerPorts = active
			}
		}
	}

	detector := drift.NewDetector(sess.metrics)
	return detector.Detect(manifest, reg, obs, ledgerPorts), nil
}

func resolveManifestPath(sess *session, override string) string {
	if override != "" {
		return override
	}
	return sess.cfg.Paths.Manifest
}

func printFindings(findings []drift.Finding) {
	if len(findings) == 0 {
		fmt.Println("No drift detected.")
		return
	}
	fmt.Printf("%d finding(s):\n", len(findings))
	for _, f := range findings {
		fmt.Printf("  [%s] %-16s %s\n", f.Severity, f.Class, f.Detail)
		if f.Suggestion != "" {
			fmt.Printf("           %s\n", f.Suggestion)
		}
	}
}
