package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"github.com/frkl/viva/pkg/codec"
	"github.com/frkl/viva/pkg/engine"
	"github.com/frkl/viva/pkg/materializer"
	"github.com/frkl/viva/pkg/telemetry"
)

const (
	// AppName names the config and data directories.
	AppName = "viva"

	// ConfigFileName is the base name of the config file inside ConfigDir.
	ConfigFileName = "viva"

	// EnvPrefix prefixes environment variable overrides, e.g. VIVA_SPEC_FORMAT.
	EnvPrefix = "VIVA"
)

// Config holds everything needed to open a viva context.
type Config struct {
	// ConfigDir holds viva.yaml and the consolidated spec files.
	ConfigDir string `mapstructure:"config_dir" yaml:"-" validate:"required"`

	// DataDir holds materialized environments under envs/ and the journal database.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir,omitempty" validate:"required"`

	// DefaultChannels are used for environments created without channels.
	DefaultChannels []string `mapstructure:"default_channels" yaml:"default_channels" validate:"dive,required"`

	// SpecFormat is the format of newly written per-id spec files.
	SpecFormat string `mapstructure:"spec_format" yaml:"spec_format" validate:"required,oneof=yaml json"`

	// Placement is the default placement strategy for new apps.
	Placement string `mapstructure:"placement" yaml:"placement" validate:"required"`

	// Materializer configures the external installer.
	Materializer MaterializerConfig `mapstructure:"materializer" yaml:"materializer"`

	// Journal configures the sync history database.
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

// MaterializerConfig configures the command that builds environments.
type MaterializerConfig struct {
	Command   string   `mapstructure:"command" yaml:"command" validate:"required"`
	ExtraArgs []string `mapstructure:"extra_args" yaml:"extra_args"`
}

// JournalConfig configures the SQLite journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path,omitempty"`
}

// Default returns the default configuration for the current user.
func Default() *Config {
	return &Config{
		ConfigDir:       defaultConfigDir(),
		DataDir:         defaultDataDir(),
		DefaultChannels: []string{"conda-forge"},
		SpecFormat:      string(codec.FormatYAML),
		Placement:       engine.PlaceDefault.String(),
		Materializer: MaterializerConfig{
			Command: materializer.DefaultCommand,
		},
		Journal: JournalConfig{
			Enabled: true,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(".", "."+AppName, "config")
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", AppName)
	}
	return filepath.Join(".", "."+AppName, "data")
}

// EnvsDir returns the directory holding materialized environments.
func (c *Config) EnvsDir() string {
	return filepath.Join(c.DataDir, "envs")
}

// JournalPath returns the journal database location.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(c.DataDir, "journal.db")
}

// PlacementStrategy returns the parsed default placement strategy.
func (c *Config) PlacementStrategy() engine.PlacementStrategy {
	return engine.ParsePlacementStrategy(c.Placement)
}

// Format returns the parsed spec format.
func (c *Config) Format() codec.Format {
	f, err := codec.ParseFormat(c.SpecFormat)
	if err != nil {
		return codec.FormatYAML
	}
	return f
}

// Validate checks struct constraints, the placement strategy and the telemetry settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if p := c.PlacementStrategy(); p.Kind == engine.PlacementCustom {
		if err := engine.ValidateID(p.EnvID); err != nil {
			return fmt.Errorf("invalid placement: %w", err)
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}
