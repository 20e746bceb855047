package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/frkl/viva/pkg/config"
	"github.com/frkl/viva/pkg/viva"
)

var (
	// Global flags
	configPath string
	configDir  string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "viva",
		Short: "viva - declarative environments for your apps",
		Long: `viva keeps a registry of package environments and the apps that run in them.

Environments declare channels and package specs. Apps declare an executable and the
packages it needs; their requirements are merged into an environment chosen by a
placement strategy. Syncing materializes every environment whose recorded state no
longer satisfies its spec.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "config directory (default: user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newEnvCommand())
	rootCmd.AddCommand(newAppCommand())
	rootCmd.AddCommand(newMergeAppsCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}

// loadConfig reads the configuration, writing a default config file on first use.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile:   configPath,
		ConfigDir:    configDir,
		WriteDefault: configPath == "",
	})
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// withContext opens a viva context for the duration of fn and flushes it afterwards.
func withContext(cmd *cobra.Command, fn func(ctx context.Context, vc *viva.Context) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	vc, err := viva.New(ctx, viva.Options{Config: cfg})
	if err != nil {
		return err
	}
	log.Debug().Str("config", cfg.File).Msg("Opened viva context")

	runErr := fn(ctx, vc)
	closeErr := vc.Close(context.WithoutCancel(ctx))
	if runErr != nil {
		return runErr
	}
	return closeErr
}
