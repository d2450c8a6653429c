// Package safety enforces the three execution gates: domain whitelist,
// daily submission quota, and mandatory human confirmation. Gates are
// independent of automation mechanics and independently testable.
package safety

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the safety configuration read at plan-build time.
type Config struct {
	// WhitelistDomains are origin suffixes allowed to receive automation.
	WhitelistDomains []string `yaml:"whitelist_domains"`

	// DailySubmissionMax caps completed submissions per calendar day.
	DailySubmissionMax int `yaml:"daily_submission_max"`

	// ConfirmationRequired blocks submit steps on explicit user approval.
	ConfirmationRequired bool `yaml:"confirmation_required"`
}

// FailClosed is the configuration used when none is provided: nothing
// whitelisted, zero quota, confirmation required.
func FailClosed() Config {
	return Config{ConfirmationRequired: true}
}

// LoadConfigFromFile reads the safety YAML. A missing file is not an error:
// it yields the fail-closed configuration.
func LoadConfigFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FailClosed(), nil
		}
		return FailClosed(), fmt.Errorf("reading safety config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FailClosed(), fmt.Errorf("parsing safety config YAML: %w", err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return FailClosed(), fmt.Errorf("invalid safety config: %w", err)
	}
	return cfg, nil
}

// ValidateConfig checks structural validity of the configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.DailySubmissionMax < 0 {
		return fmt.Errorf("daily_submission_max must not be negative, got %d", cfg.DailySubmissionMax)
	}
	for i, d := range cfg.WhitelistDomains {
		if d == "" {
			return fmt.Errorf("whitelist_domains[%d] must not be an empty string", i)
		}
	}
	return nil
}
