package tier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// file is the on-disk tier list.
type file struct {
	Tiers []Config `yaml:"tiers"`
}

// LoadFile reads a YAML tier list from path.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier policy %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("tier policy %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML document of the form
//
//	tiers:
//	  - name: premium
//	    model: claude-sonnet-4-5
//	    max_tokens: 4096
//	    timeout: 30s
//
// Omitted max_tokens, failure_threshold and timeout take the package
// defaults. max_retries must be given explicitly to differ from zero.
func Parse(data []byte) (*Policy, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tier policy: %w", err)
	}
	return NewPolicy(ApplyDefaults(f.Tiers)...)
}

// ApplyDefaults returns a copy of tiers with zero MaxTokens, FailureThreshold
// and Timeout replaced by the package defaults.
func ApplyDefaults(tiers []Config) []Config {
	out := make([]Config, len(tiers))
	for i, t := range tiers {
		if t.MaxTokens == 0 {
			t.MaxTokens = DefaultMaxTokens
		}
		if t.FailureThreshold == 0 {
			t.FailureThreshold = DefaultFailureThreshold
		}
		if t.Timeout == 0 {
			t.Timeout = DefaultTimeout
		}
		out[i] = t
	}
	return out
}
