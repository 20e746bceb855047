package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frkl/viva/pkg/codec"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := codec.Encode(codec.FormatYAML, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", cfg.File)
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "paths",
		Short: "Print config, data and environment directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config file: %s\n", cfg.File)
			fmt.Fprintf(out, "config dir:  %s\n", cfg.ConfigDir)
			fmt.Fprintf(out, "data dir:    %s\n", cfg.DataDir)
			fmt.Fprintf(out, "envs dir:    %s\n", cfg.EnvsDir())
			fmt.Fprintf(out, "journal:     %s\n", cfg.JournalPath())
			return nil
		},
	})

	return cmd
}
