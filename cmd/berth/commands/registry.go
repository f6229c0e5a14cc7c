package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newRegistryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the provisioning registry",
	}

	cmd.AddCommand(newRegistryShowCommand())

	return cmd
}

func newRegistryShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [project]",
		Short: "Show the registry, or one project's records",
		Example: `  # Full registry
  berth registry show

  # One project, machine-readable
  berth registry show shopfront --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := newSession("registry-show")
			if err != nil {
				return err
			}
			defer sess.Close()

			reg, err := sess.registryStore().Load(ctx)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				proj, ok := reg.Projects[args[0]]
				if !ok {
					return fmt.Errorf("project %q is not in the registry", args[0])
				}
				return printJSON(proj)
			}

			if jsonOutput {
				return printJSON(reg)
			}

			fmt.Printf("Registry v%d (updated %s), %d project(s)\n",
				reg.Version, reg.UpdatedAt.Format("2006-01-02 15:04:05"), len(reg.Projects))
			names := make([]string, 0, len(reg.Projects))
			for name := range reg.Projects {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				proj := reg.Projects[name]
				fmt.Printf("  %s", name)
				if proj.Type != "" {
					fmt.Printf(" (%s)", proj.Type)
				}
				fmt.Println()
				for env, binding := range proj.Environments {
					fmt.Printf("    %s: port %d", env, binding.Port)
					if binding.Domain != "" {
						fmt.Printf(" domain %s", binding.Domain)
					}
					fmt.Println()
				}
				if db := proj.Resources.Database; db != nil {
					fmt.Printf("    database: %s owned by %s at %s:%d\n", db.Name, db.User, db.Host, db.Port)
				}
				if c := proj.Resources.Cache; c != nil {
					if c.Index != nil {
						fmt.Printf("    cache: index %d at %s:%d\n", *c.Index, c.Host, c.Port)
					} else {
						fmt.Printf("    cache: prefix %q at %s:%d\n", c.Prefix, c.Host, c.Port)
					}
				}
				if st := proj.Resources.Storage; st != nil {
					fmt.Printf("    storage: %s\n", st.BasePath)
				}
			}
			return nil
		},
	}

	return cmd
}
