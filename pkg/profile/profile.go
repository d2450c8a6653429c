// Package profile loads the applicant value map: the answers the engine fills
// into detected fields, keyed by semantic field key.
package profile

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envRe matches values of the form {{ env.NAME }}, resolved from the process
// environment at load time.
var envRe = regexp.MustCompile(`^\s*\{\{\s*env\.([A-Za-z0-9_]+)\s*}}\s*$`)

// Input declares one profile key. Secret inputs feed the log redactor so
// their values never reach a sink in clear text.
type Input struct {
	Name     string `yaml:"name"`
	Required bool   `yaml:"required,omitempty"`
	Secret   bool   `yaml:"secret,omitempty"`
}

// Profile is the applicant's declared inputs and their values.
type Profile struct {
	Inputs []Input           `yaml:"inputs,omitempty"`
	Values map[string]string `yaml:"values"`
}

// Load reads a profile file and resolves {{ env.NAME }} values.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %q: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile YAML from %q: %w", path, err)
	}

	resolved := make(map[string]string, len(p.Values))
	for key, val := range p.Values {
		if m := envRe.FindStringSubmatch(val); m != nil {
			envVal, exists := os.LookupEnv(m[1])
			if !exists {
				return nil, fmt.Errorf("environment variable %q not set for profile key %q", m[1], key)
			}
			resolved[key] = envVal
		} else {
			resolved[key] = val
		}
	}
	p.Values = resolved

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that every required input has a non-empty value.
func (p *Profile) Validate() error {
	for _, in := range p.Inputs {
		if in.Name == "" {
			return fmt.Errorf("profile input with empty name")
		}
		if in.Required && p.Values[in.Name] == "" {
			return fmt.Errorf("required profile input %q has no value", in.Name)
		}
	}
	return nil
}

// Secrets returns the values of inputs marked secret, for the redactor.
func (p *Profile) Secrets() []string {
	var out []string
	for _, in := range p.Inputs {
		if in.Secret {
			if v := p.Values[in.Name]; v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
