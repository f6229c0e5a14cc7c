package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openberth/openberth/pkg/envfile"
	"github.com/openberth/openberth/pkg/slot"
)

func newEnvCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Render and push project environment files",
		Long: `Render a project's environment file from its registry records and
push it to the managed host.

Pushes merge into whatever already exists: credential-bearing keys
(DATABASE_URL, REDIS_URL, POSTGRES_*, DB_*) keep their existing values,
other keys are updated, and comments are preserved.`,
	}

	cmd.AddCommand(newEnvRenderCommand())
	cmd.AddCommand(newEnvPushCommand())

	return cmd
}

func newEnvRenderCommand() *cobra.Command {
	var environment string

	cmd := &cobra.Command{
		Use:   "render <project>",
		Short: "Render a project's env file to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := args[0]
			ctx := cmd.Context()

			sess, err := newSession("env-render")
			if err != nil {
				return err
			}
			defer sess.Close()

			reg, err := sess.registryStore().Load(ctx)
			if err != nil {
				return err
			}
			proj, ok := reg.Projects[project]
			if !ok {
				return fmt.Errorf("project %q is not in the registry", project)
			}

			draft := envfile.Render(project, slot.Environment(environment), proj, "")
			_, err = os.Stdout.Write(draft)
			return err
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", "staging", "target environment")

	return cmd
}

func newEnvPushCommand() *cobra.Command {
	var environment string

	cmd := &cobra.Command{
		Use:   "push <project>",
		Short: "Push a project's env file to the managed host",
		Example: `  # Push the staging env file, merging with what exists
  berth env push shopfront --env staging`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := args[0]
			ctx := cmd.Context()

			sess, err := newSession("env-push")
			if err != nil {
				return err
			}
			defer sess.Close()

			reg, err := sess.registryStore().Load(ctx)
			if err != nil {
				return err
			}
			proj, ok := reg.Projects[project]
			if !ok {
				return fmt.Errorf("project %q is not in the registry", project)
			}

			draft := envfile.Render(project, slot.Environment(environment), proj, "")
			remotePath := fmt.Sprintf("%s/%s.%s.env", sess.cfg.Paths.EnvDir, project, environment)

			writer := envfile.NewWriter(sess.executor(), sess.cfg.Paths.EnvBackupDir)
			if err := writer.Push(ctx, draft, remotePath, project); err != nil {
				return err
			}
			fmt.Printf("Pushed %s\n", remotePath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", "staging", "target environment")

	return cmd
}
