package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/frkl/viva/pkg/viva"
)

func newApplyCommand() *cobra.Command {
	var flags specFlags

	cmd := &cobra.Command{
		Use:   "apply <env> [pkg-spec...]",
		Short: "Make sure an environment contains packages and is materialized",
		Long: `Make sure an environment exists, contains the given channels and package specs,
and is materialized.

This command:
  - Creates the environment with the default channels if it does not exist
  - Merges the given channels and package specs into its spec
  - Syncs it if its materialized state does not satisfy the spec`,
		Example: `  # Ensure ripgrep is available in the default environment
  viva apply default ripgrep

  # Add a channel as well
  viva apply bio -C bioconda samtools`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContext(cmd, func(ctx context.Context, vc *viva.Context) error {
				env, changed, err := vc.Apply(ctx, args[0], flags.spec(args[1:]))
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), env)
				}
				log.Info().
					Str("env", env.ID).
					Str("path", env.EnvPath).
					Bool("materialized", changed).
					Str("status", env.SyncStatus.Display()).
					Msg("Environment applied")
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&flags.channels, "channel", "C", nil, "package channel (repeatable)")
	return cmd
}
