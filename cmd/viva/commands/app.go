package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/frkl/viva/pkg/engine"
	"github.com/frkl/viva/pkg/viva"
)

func newAppCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "app",
		Aliases: []string{"apps"},
		Short:   "Manage apps",
		Long: `Manage apps.

An app is an executable plus the packages it needs. Each app is bound to an environment
when it is registered, using a placement strategy:

  --default--        the "default" environment
  --collection_id--  an environment named after the app's collection
  --app_id--         an environment named after the app
  <name>             the named environment`,
	}

	cmd.AddCommand(newAppListCommand())
	cmd.AddCommand(newAppAddCommand())
	cmd.AddCommand(newAppRemoveCommand())

	return cmd
}

func newAppListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List apps",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContext(cmd, func(ctx context.Context, vc *viva.Context) error {
				apps := vc.AppSnapshots()
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), apps)
				}
				return printAppTable(cmd.OutOrStdout(), apps)
			})
		},
	}
}

func newAppAddCommand() *cobra.Command {
	var (
		flags     specFlags
		pkgSpecs  []string
		placement string
		merge     bool
	)

	cmd := &cobra.Command{
		Use:   "add <name> <executable> [arg...]",
		Short: "Add an app",
		Long: `Add an app and write its spec to the config directory.

The app's packages are not added to any environment until apps are merged, either
with --merge or with 'viva merge-apps'.`,
		Example: `  # jq in its own environment
  viva app add jq jq --pkg jq --placement=--app_id--

  # A script runner sharing the default environment
  viva app add report python --pkg python=3.12 --merge -- report.py --verbose`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContext(cmd, func(ctx context.Context, vc *viva.Context) error {
				spec := engine.AppSpec{
					Executable: args[1],
					Args:       args[2:],
					EnvSpec:    flags.spec(pkgSpecs),
				}

				var strategy *engine.PlacementStrategy
				if cmd.Flags().Changed("placement") {
					s := engine.ParsePlacementStrategy(placement)
					strategy = &s
				}

				app, err := vc.AddApp(ctx, args[0], spec, strategy)
				if err != nil {
					return err
				}
				log.Info().Str("app", app.ID).Str("env", app.EnvID).Msg("App added")

				if merge {
					changed, err := vc.MergeAllApps(ctx)
					if err != nil {
						return err
					}
					log.Info().Strs("environments", changed).Msg("App requirements merged")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&flags.channels, "channel", "C", nil, "package channel (repeatable)")
	cmd.Flags().StringSliceVarP(&pkgSpecs, "pkg", "p", nil, "package spec (repeatable)")
	cmd.Flags().StringVar(&placement, "placement", "", "placement strategy (default from config)")
	cmd.Flags().BoolVar(&merge, "merge", false, "merge app requirements into environments after adding")
	return cmd
}

func newAppRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove an app",
		Long: `Remove an app's spec.

Packages already merged into its environment stay there.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContext(cmd, func(ctx context.Context, vc *viva.Context) error {
				if err := vc.Apps().Remove(ctx, args[0]); err != nil {
					return err
				}
				log.Info().Str("app", args[0]).Msg("App removed")
				return nil
			})
		},
	}
}

func newMergeAppsCommand() *cobra.Command {
	var sync bool

	cmd := &cobra.Command{
		Use:   "merge-apps",
		Short: "Merge every app's requirements into its environment",
		Long: `Merge every app's requirements into the environment it is placed in.

Missing environments are created. With --sync, changed environments are materialized.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContext(cmd, func(ctx context.Context, vc *viva.Context) error {
				changed, err := vc.MergeAllApps(ctx)
				if err != nil {
					return err
				}
				if len(changed) == 0 {
					log.Info().Msg("No environment changed")
				}
				if sync && len(changed) > 0 {
					if _, err := vc.SyncEnvs(ctx, changed...); err != nil {
						return err
					}
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string][]string{"changed": nonNilStrings(changed)})
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&sync, "sync", false, "sync changed environments")
	return cmd
}
