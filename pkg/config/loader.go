package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/frkl/viva/pkg/codec"
)

// LoadOptions selects where configuration is read from.
type LoadOptions struct {
	// ConfigFile is an explicit config file. It must exist.
	ConfigFile string

	// ConfigDir overrides the default config directory.
	ConfigDir string

	// WriteDefault writes a default viva.yaml into the config directory if none exists.
	WriteDefault bool
}

// Load reads the config file, applies VIVA_* environment overrides on top of defaults and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	defaults := Default()
	if opts.ConfigDir != "" {
		defaults.ConfigDir = opts.ConfigDir
	}

	v := viper.New()
	setDefaults(v, defaults)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configDir := v.GetString("config_dir")
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.AddConfigPath(configDir)
		v.SetConfigName(ConfigFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if opts.WriteDefault {
			path := DefaultConfigPath(configDir)
			if err := WriteDefaultConfig(path); err != nil {
				return nil, err
			}
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read default config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfigPath returns the location of viva.yaml inside configDir.
func DefaultConfigPath(configDir string) string {
	return filepath.Join(configDir, ConfigFileName+".yaml")
}

// WriteDefaultConfig writes the default settings to path. Directories are left out so they keep
// following the user's environment.
func WriteDefaultConfig(path string) error {
	cfg := Default()
	cfg.DataDir = ""
	if err := codec.WriteFile(path, cfg); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("config_dir", d.ConfigDir)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("default_channels", d.DefaultChannels)
	v.SetDefault("spec_format", d.SpecFormat)
	v.SetDefault("placement", d.Placement)

	v.SetDefault("materializer.command", d.Materializer.Command)
	v.SetDefault("materializer.extra_args", d.Materializer.ExtraArgs)

	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)

	t := d.Telemetry
	v.SetDefault("telemetry.service_name", t.ServiceName)
	v.SetDefault("telemetry.service_version", t.ServiceVersion)
	v.SetDefault("telemetry.logging.level", t.Logging.Level)
	v.SetDefault("telemetry.logging.format", t.Logging.Format)
	v.SetDefault("telemetry.logging.output", t.Logging.Output)
	v.SetDefault("telemetry.logging.enable_caller", t.Logging.EnableCaller)
	v.SetDefault("telemetry.logging.time_format", t.Logging.TimeFormat)
	v.SetDefault("telemetry.tracing.enabled", t.Tracing.Enabled)
	v.SetDefault("telemetry.tracing.exporter", t.Tracing.Exporter)
	v.SetDefault("telemetry.tracing.endpoint", t.Tracing.Endpoint)
	v.SetDefault("telemetry.tracing.sampling_rate", t.Tracing.SamplingRate)
	v.SetDefault("telemetry.tracing.export_timeout", t.Tracing.ExportTimeout)
	v.SetDefault("telemetry.tracing.insecure", t.Tracing.Insecure)
	v.SetDefault("telemetry.metrics.enabled", t.Metrics.Enabled)
	v.SetDefault("telemetry.metrics.listen_address", t.Metrics.ListenAddress)
	v.SetDefault("telemetry.metrics.path", t.Metrics.Path)
	v.SetDefault("telemetry.metrics.namespace", t.Metrics.Namespace)
}
