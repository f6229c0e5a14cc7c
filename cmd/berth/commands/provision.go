package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openberth/openberth/pkg/envfile"
	"github.com/openberth/openberth/pkg/ledger"
	"github.com/openberth/openberth/pkg/policy"
	"github.com/openberth/openberth/pkg/provision"
	"github.com/openberth/openberth/pkg/slot"
)

func newProvisionCommand() *cobra.Command {
	var (
		projectType string
		environment string
		kinds       []string
		appPort     int
		domain      string
		autoApprove bool
		skipEnv     bool
	)

	cmd := &cobra.Command{
		Use:   "provision <project>",
		Short: "Provision a project's resources on the managed host",
		Long: `Provision a project's backing resources: database and owning user,
cache index or prefix reservation, storage directories, and the
environment's application port.

Every step is idempotent. A partially failed run is repaired by
re-running it; resources that already exist are detected and skipped,
never rolled back. The registry is written once, after all steps.`,
		Example: `  # Provision everything for a project in staging
  berth provision shopfront --env staging --type rails

  # Only the database, with an explicit app port
  berth provision shopfront --env production --kinds database --port 4002

  # Accept the suggested port on conflict without prompting
  berth provision shopfront --env staging --port 3000 --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := args[0]
			ctx := cmd.Context()

			sess, err := newSession("provision")
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := gateRequest(ctx, sess, project, projectType, environment, kinds, appPort); err != nil {
				return err
			}

			ledgerStore, err := ledger.NewStore(sess.cfg.Paths.Ledger)
			if err != nil {
				return err
			}
			defer ledgerStore.Close()
			if err := ledgerStore.Init(ctx); err != nil {
				return err
			}

			prov := provision.NewProvisioner(
				sess.executor(),
				sess.registryStore(),
				sess.scanner(),
				ledgerStore,
				sess.metrics,
				sess.cfg.Provision.DatabasePrincipal,
			)

			req := provision.Request{
				Project:     project,
				Type:        projectType,
				Environment: slot.Environment(environment),
				Kinds:       parseKinds(kinds),
				AppPort:     appPort,
				Domain:      domain,
				AutoResolve: autoApprove,
			}

			outcome, err := prov.Provision(ctx, req)
			var conflict *provision.ConflictError
			if errors.As(err, &conflict) && !autoApprove {
				accepted := false
				prompt := &survey.Confirm{
					Message: fmt.Sprintf("Port %d is held by %s. Use suggested port %d instead?",
						conflict.Requested, conflict.Owner, conflict.Suggested),
				}
				if err := survey.AskOne(prompt, &accepted); err != nil {
					return err
				}
				if !accepted {
					return fmt.Errorf("port %d is unavailable; pick another port", conflict.Requested)
				}
				req.AutoResolve = true
				outcome, err = prov.Provision(ctx, req)
			}
			if err != nil {
				if outcome != nil {
					reportOutcome(outcome)
				}
				return err
			}

			if !skipEnv {
				pushEnvFile(ctx, sess, project, slot.Environment(environment), outcome)
			}

			if jsonOutput {
				return printJSON(outcome)
			}
			reportOutcome(outcome)
			return nil
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", "staging", "target environment (staging, production, preview)")
	cmd.Flags().StringVarP(&projectType, "type", "t", "", "application type tag recorded on first provisioning")
	cmd.Flags().StringSliceVarP(&kinds, "kinds", "k", []string{"database", "cache", "storage"}, "resource kinds to provision")
	cmd.Flags().IntVarP(&appPort, "port", "p", 0, "explicit application port (0 allocates the next free)")
	cmd.Flags().StringVar(&domain, "domain", "", "domain recorded on the environment binding")
	cmd.Flags().BoolVarP(&autoApprove, "yes", "y", false, "accept suggested substitutions without prompting")
	cmd.Flags().BoolVar(&skipEnv, "skip-env", false, "do not push the project's env file")

	return cmd
}

// gateRequest runs the policy engine over the request before any remote
// work happens. Advisory mode only logs violations.
func gateRequest(ctx context.Context, sess *session, project, projectType, environment string, kinds []string, port int) error {
	engine, err := policy.NewEngine(policy.Mode(sess.cfg.Policy.Mode))
	if err != nil {
		return err
	}
	for _, path := range sess.cfg.Policy.Files {
		p, err := policy.LoadPolicyFile(path)
		if err != nil {
			return err
		}
		if err := engine.AddPolicy(p); err != nil {
			return err
		}
	}

	decision, err := engine.Evaluate(ctx, policy.Input{
		Project:     project,
		Type:        projectType,
		Environment: environment,
		Kinds:       kinds,
		Port:        port,
	})
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return fmt.Errorf("request blocked by policy: %s", violationSummary(decision))
	}
	return nil
}

func violationSummary(decision *policy.Decision) string {
	parts := make([]string, 0, len(decision.Violations))
	for _, v := range decision.Violations {
		parts = append(parts, v.Message)
	}
	return strings.Join(parts, "; ")
}

// pushEnvFile renders and pushes the project's env file. Failures here
// never fail the provisioning run.
func pushEnvFile(ctx context.Context, sess *session, project string, env slot.Environment, outcome *provision.Outcome) {
	reg, err := sess.registryStore().Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to reload registry for env file")
		return
	}
	proj, ok := reg.Projects[project]
	if !ok {
		return
	}

	draft := envfile.Render(project, env, proj, outcome.GeneratedCredential)
	remotePath := fmt.Sprintf("%s/%s.%s.env", sess.cfg.Paths.EnvDir, project, env)

	writer := envfile.NewWriter(sess.executor(), sess.cfg.Paths.EnvBackupDir)
	if err := writer.Push(ctx, draft, remotePath, project); err != nil {
		log.Warn().Err(err).Str("path", remotePath).Msg("failed to push env file")
	}
}

func parseKinds(kinds []string) []provision.Kind {
	out := make([]provision.Kind, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, provision.Kind(strings.TrimSpace(k)))
	}
	return out
}

func reportOutcome(outcome *provision.Outcome) {
	fmt.Printf("Provisioning %s (run %s): %s\n", outcome.Project, outcome.RunID, outcome.Status())
	if outcome.AppPort > 0 {
		if outcome.Substituted {
			fmt.Printf("  app port: %d (substituted for requested %d)\n", outcome.AppPort, outcome.RequestedApp)
		} else {
			fmt.Printf("  app port: %d\n", outcome.AppPort)
		}
	}
	for _, r := range outcome.Results {
		line := fmt.Sprintf("  %-8s %s", r.Kind, r.Status)
		if r.Detail != "" {
			line += "  " + r.Detail
		}
		if r.Err != nil {
			line += "  " + r.Err.Error()
		}
		fmt.Println(line)
	}
	for _, w := range outcome.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	if outcome.GeneratedCredential != "" {
		fmt.Println("  database credential generated; it is recorded only in the pushed env file")
	}
}
