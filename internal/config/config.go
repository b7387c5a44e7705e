// Package config loads LeadWatch configuration from defaults, an optional
// YAML file and LEADWATCH_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/opensource-finance/leadwatch/internal/domain"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates sections: LEADWATCH_CACHE__ALERT_TTL=10s sets cache.alert_ttl.
const EnvPrefix = "LEADWATCH_"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the configuration. path may be empty; a missing file is not
// an error. LEADWATCH_TIER=pro starts from the Pro tier defaults.
func Load(path string) (*domain.Config, error) {
	k := koanf.New(".")

	defaults := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(os.Getenv(EnvPrefix+"TIER"))) == domain.TierPro {
		defaults = domain.ProConfig()
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints on cfg.
func Validate(cfg *domain.Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}
