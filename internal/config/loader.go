package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/stratahq/strata/internal/blast"
)

// Load reads a YAML configuration file over the built-in defaults and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("failed to load config from %q: %w", path, err)
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return Config{}, fmt.Errorf("failed to parse config from %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed for %q: %w", path, err)
	}
	return cfg, nil
}

// LoadRiskFile reads a standalone risk configuration file. A section absent
// from the file keeps its built-in default.
func LoadRiskFile(path string) (blast.RiskConfig, error) {
	cfg := blast.DefaultRiskConfig()

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return blast.RiskConfig{}, fmt.Errorf("failed to load risk config from %q: %w", path, err)
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return blast.RiskConfig{}, fmt.Errorf("failed to parse risk config from %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return blast.RiskConfig{}, fmt.Errorf("risk config validation failed for %q: %w", path, err)
	}
	return cfg, nil
}
