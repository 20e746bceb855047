package commands

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/frkl/viva/pkg/engine"
	"github.com/frkl/viva/pkg/viva"
)

func newEnvCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "env",
		Aliases: []string{"envs"},
		Short:   "Manage environments",
		Long: `Manage environments.

An environment is a set of channels and package specs. Its status is Synced when the
spec recorded at its last materialization contains everything the spec asks for.`,
	}

	cmd.AddCommand(newEnvListCommand())
	cmd.AddCommand(newEnvAddCommand())
	cmd.AddCommand(newEnvRemoveCommand())
	cmd.AddCommand(newEnvMergeCommand())
	cmd.AddCommand(newEnvRemoveChannelsCommand())
	cmd.AddCommand(newEnvSyncCommand())
	cmd.AddCommand(newEnvStatusCommand())
	cmd.AddCommand(newEnvHistoryCommand())
	cmd.AddCommand(newEnvWatchCommand())

	return cmd
}

func newEnvListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List environments",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContext(cmd, func(ctx context.Context, vc *viva.Context) error {
				envs := vc.EnvSnapshots()
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), envs)
				}
				return printEnvTable(cmd.OutOrStdout(), envs)
			})
		},
	}
}

func newEnvAddCommand() *cobra.Command {
	var flags specFlags

	cmd := &cobra.Command{
		Use:   "add <name> [pkg-spec...]",
		Short: "Add an environment",
		Long: `Add an environment and write its spec to the config directory.

Without --channel the configured default channels are used. The environment is not
materialized until it is synced.`,
		Example: `  # Add a Python environment
  viva env add data python=3.12 numpy pandas

  # Use a specific channel
  viva env add bio -C bioconda -C conda-forge samtools`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContext(cmd, func(ctx context.Context, vc *viva.Context) error {
				spec := flags.spec(args[1:])
				if len(spec.Channels) == 0 {
					spec.Channels = vc.DefaultEnvSpec().Channels
				}
				if err := vc.AddEnv(ctx, args[0], spec); err != nil {
					return err
				}
				log.Info().Str("env", args[0]).Msg("Environment added")
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&flags.channels, "channel", "C", nil, "package channel (repeatable)")
	return cmd
}

func newEnvRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove an environment and its materialized files",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContext(cmd, func(ctx context.Context, vc *viva.Context) error {
				if err := vc.Environments().Remove(ctx, args[0]); err != nil {
					return err
				}
				log.Info().Str("env", args[0]).Msg("Environment removed")
				return nil
			})
		},
	}
}

func newEnvMergeCommand() *cobra.Command {
	var (
		flags  specFlags
		create bool
	)

	cmd := &cobra.Command{
		Use:   "merge <name> [pkg-spec...]",
		Short: "Add channels and package specs to an environment",
		Example: `  # Add numpy to the default environment
  viva env merge default numpy`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContext(cmd, func(ctx context.Context, vc *viva.Context) error {
				changed, err := vc.Environments().Merge(ctx, args[0], flags.spec(args[1:]), create)
				if err != nil {
					return err
				}
				if !changed {
					log.Info().Str("env", args[0]).Msg("Environment already contains the given spec")
					return nil
				}
				status, err := vc.Environments().CheckSyncStatus(args[0])
				if err != nil {
					return err
				}
				log.Info().Str("env", args[0]).Str("status", status.Display()).Msg("Environment updated")
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&flags.channels, "channel", "C", nil, "package channel (repeatable)")
	cmd.Flags().BoolVar(&create, "create", false, "create the environment if it does not exist")
	return cmd
}

func newEnvRemoveChannelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-channels <name> <channel...>",
		Short: "Remove channels from an environment",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContext(cmd, func(ctx context.Context, vc *viva.Context) error {
				changed, err := vc.Environments().RemoveChannels(ctx, args[0], args[1:])
				if err != nil {
					return err
				}
				log.Info().Str("env", args[0]).Bool("changed", changed).Msg("Channels removed")
				return nil
			})
		},
	}
}

func newEnvSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [name...]",
		Short: "Materialize environments that are not synced",
		Long: `Materialize the given environments, or every environment if none is named.

Environments that are already synced are skipped. The first failure stops the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContext(cmd, func(ctx context.Context, vc *viva.Context) error {
				changed, err := vc.SyncEnvs(ctx, args...)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string][]string{"synced": nonNilStrings(changed)})
				}
				if len(changed) == 0 {
					log.Info().Msg("All environments already synced")
					return nil
				}
				for _, id := range changed {
					fmt.Fprintf(cmd.OutOrStdout(), "synced %s\n", id)
				}
				return nil
			})
		},
	}
}

func newEnvStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [name...]",
		Short: "Show sync status, re-reading materialized state from disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContext(cmd, func(ctx context.Context, vc *viva.Context) error {
				envs := vc.Environments()
				if err := envs.Refresh(ctx); err != nil {
					return err
				}
				statuses := envs.CheckSyncStatusAll()

				ids := args
				if len(ids) == 0 {
					ids = envs.ListIDs()
				}
				for _, id := range ids {
					if _, ok := statuses[id]; !ok {
						return engine.NewNotFoundError(fmt.Sprintf("environment '%s' not found", id)).WithID(id)
					}
				}

				if jsonOutput {
					out := make(map[string]engine.SyncStatus, len(ids))
					for _, id := range ids {
						out[id] = statuses[id]
					}
					return printJSON(cmd.OutOrStdout(), out)
				}
				return printStatusTable(cmd.OutOrStdout(), ids, statuses)
			})
		},
	}
}

func newEnvHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <name>",
		Short: "Show recorded sync attempts of an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContext(cmd, func(ctx context.Context, vc *viva.Context) error {
				runs, err := vc.History(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), runs)
				}
				return printHistoryTable(cmd.OutOrStdout(), runs)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	return cmd
}

func newEnvWatchCommand() *cobra.Command {
	var autoSync bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload specs when files in the config directory change",
		Long: `Watch the environment and app spec files and reload the registries when they change.

With --sync, environments that fall out of sync are materialized after every reload.
If telemetry.metrics.listen_address is set, Prometheus metrics are served while watching.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContext(cmd, func(ctx context.Context, vc *viva.Context) error {
				tel := vc.Telemetry()
				if server := tel.Metrics.StartMetricsServer(tel.Logger); server != nil {
					defer server.Close()
				}

				w, err := vc.Watch(ctx, func(err error) {
					if err != nil {
						log.Error().Err(err).Msg("Reload failed")
						return
					}
					statuses := vc.Environments().CheckSyncStatusAll()
					log.Info().Int("environments", len(statuses)).Msg("Specs reloaded")
					if !autoSync {
						return
					}
					changed, err := vc.SyncEnvs(ctx)
					if err != nil {
						log.Error().Err(err).Msg("Sync failed")
						return
					}
					if len(changed) > 0 {
						log.Info().Strs("environments", changed).Msg("Environments synced")
					}
				})
				if err != nil {
					return err
				}
				defer w.Close()

				<-ctx.Done()
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&autoSync, "sync", false, "sync environments after every reload")
	return cmd
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return slices.Clone(in)
}
