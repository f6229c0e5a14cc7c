package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openberth/openberth/pkg/alloc"
	"github.com/openberth/openberth/pkg/slot"
)

func newValidateCommand() *cobra.Command {
	var (
		environment string
		appPort     int
		dbPort      int
		redisPort   int
	)

	cmd := &cobra.Command{
		Use:   "validate <project>",
		Short: "Validate a proposed port configuration",
		Long: `Validate a project's proposed ports against what the host is actually
using and what the registry has handed out. Conflicting ports get a
substitution suggestion drawn from the same range; accepted suggestions
are folded into the working set so the final configuration is
internally consistent.

Nothing is written: this is a dry run over live data.`,
		Example: `  # Check a full staging configuration
  berth validate shopfront --env staging --app 3000 --db 5432 --redis 6379

  # Check just the app port in production
  berth validate shopfront --env production --app 4002`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := args[0]
			ctx := cmd.Context()

			env := slot.Environment(environment)
			if !slot.ValidEnvironment(env) {
				return fmt.Errorf("unknown environment %q", environment)
			}

			var requests []alloc.PortRequest
			if appPort > 0 {
				requests = append(requests, alloc.PortRequest{Environment: env, Kind: slot.KindApp, Port: appPort})
			}
			if dbPort > 0 {
				requests = append(requests, alloc.PortRequest{Environment: env, Kind: slot.KindDatabase, Port: dbPort})
			}
			if redisPort > 0 {
				requests = append(requests, alloc.PortRequest{Environment: env, Kind: slot.KindCache, Port: redisPort})
			}
			if len(requests) == 0 {
				return fmt.Errorf("nothing to validate: pass at least one of --app, --db, --redis")
			}

			sess, err := newSession("validate")
			if err != nil {
				return err
			}
			defer sess.Close()

			reg, err := sess.registryStore().Load(ctx)
			if err != nil {
				return err
			}

			obs, err := sess.scanner().ScanPorts(ctx, reg)
			if err != nil {
				return err
			}

			resolutions, err := alloc.ValidateProject(project, requests, obs.UsedPorts)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(resolutions)
			}

			clean := true
			for _, res := range resolutions {
				switch {
				case res.Substituted:
					clean = false
					fmt.Printf("  %s/%s %d: held by %s, suggested %d\n",
						res.Request.Environment, res.Request.Kind, res.Request.Port,
						res.Validation.Owner, res.Final)
				default:
					fmt.Printf("  %s/%s %d: ok\n", res.Request.Environment, res.Request.Kind, res.Final)
				}
				if w := res.Validation.Warning(); w != "" {
					fmt.Printf("    warning: %s\n", w)
				}
			}
			if !clean {
				return fmt.Errorf("configuration has conflicts; suggestions shown above")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", "staging", "target environment")
	cmd.Flags().IntVar(&appPort, "app", 0, "proposed application port")
	cmd.Flags().IntVar(&dbPort, "db", 0, "proposed database port")
	cmd.Flags().IntVar(&redisPort, "redis", 0, "proposed cache port")

	return cmd
}
