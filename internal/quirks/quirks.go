// Package quirks applies per-application overrides from a YAML file kept
// beside the main configuration. Patterns match the guest WM_CLASS, so
// individual applications can opt out of behavior that breaks them.
package quirks

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Overrides are the knobs a rule may set for matching applications.
type Overrides struct {
	NoDecorations bool    `yaml:"no_decorations"` // Never ask the host for server-side decorations
	Scale         float64 `yaml:"scale"`          // Fixed per-surface scale, 0 keeps the global factor
	NoViewport    bool    `yaml:"no_viewport"`    // Skip host crop/scale overrides entirely
}

// Rule pairs a class pattern with its overrides.
type Rule struct {
	Match     string `yaml:"match"`
	Overrides `yaml:",inline"`
}

type quirksFile struct {
	Apps []Rule `yaml:"apps"`
}

type compiled struct {
	re *regexp.Regexp
	ov Overrides
}

// Table answers override lookups by window class.
type Table struct {
	rules []compiled
}

// Load reads and compiles the quirks file. A missing file is not an
// error; it yields an empty table.
func Load(path string) (*Table, error) {
	t := &Table{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read quirks file: %w", err)
	}
	var f quirksFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse quirks file %s: %w", path, err)
	}
	for _, rule := range f.Apps {
		re, err := regexp.Compile("(?i)^(?:" + rule.Match + ")$")
		if err != nil {
			return nil, fmt.Errorf("quirks pattern %q: %w", rule.Match, err)
		}
		t.rules = append(t.rules, compiled{re: re, ov: rule.Overrides})
	}
	return t, nil
}

// Lookup returns the first rule matching the class or instance string.
func (t *Table) Lookup(class, instance string) (Overrides, bool) {
	for _, r := range t.rules {
		if r.re.MatchString(class) || r.re.MatchString(instance) {
			return r.ov, true
		}
	}
	return Overrides{}, false
}

// Len reports the number of loaded rules.
func (t *Table) Len() int {
	return len(t.rules)
}
