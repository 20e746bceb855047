// Package config loads viva's settings.
//
// Settings come from defaults, then <ConfigDir>/viva.yaml, then VIVA_* environment variables
// (nested keys use underscores, e.g. VIVA_MATERIALIZER_COMMAND). Load validates the merged result
// with struct tags and rejects unknown spec formats and invalid placement environment ids.
//
//	cfg, err := config.Load(config.LoadOptions{WriteDefault: true})
//	if err != nil {
//		return err
//	}
//	envsDir := cfg.EnvsDir()
package config
