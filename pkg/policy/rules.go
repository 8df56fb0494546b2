// Package policy evaluates ingest rules against accepted events.
//
// Rules are CEL expressions loaded from a YAML file. They observe the
// stream: a matching rule flags or escalates the event in the audit
// log and through the finding hook, but never blocks ingestion.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Action is what a matching rule does with the event.
type Action string

const (
	// ActionFlag records the match at info level.
	ActionFlag Action = "flag"
	// ActionEscalate records the match at warn level.
	ActionEscalate Action = "escalate"
)

func (a Action) Valid() bool {
	return a == ActionFlag || a == ActionEscalate
}

// Rule is a single CEL ingest rule. The expression sees the accepted
// event as the variable `event` with its wire field names, e.g.
// `event.criticality == 'critical' && event.goldenThread.type == 'orphan'`.
type Rule struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Expression  string `yaml:"expression" json:"expression"`
	Action      Action `yaml:"action" json:"action"`
	Priority    int    `yaml:"priority" json:"priority"`
	Enabled     bool   `yaml:"enabled" json:"enabled"`
}

// RuleSet is a named, versioned collection of ingest rules.
type RuleSet struct {
	Version string `yaml:"version" json:"version"`
	Name    string `yaml:"name" json:"name"`
	Rules   []Rule `yaml:"rules" json:"rules"`
}

// LoadFile reads one YAML rule set from disk and checks it for the
// structural problems that should stop a deployment: missing or
// duplicate IDs, empty expressions, unknown actions.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}

	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	if set.Name == "" {
		set.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	seen := make(map[string]bool, len(set.Rules))
	for i := range set.Rules {
		r := &set.Rules[i]
		if r.ID == "" {
			return nil, fmt.Errorf("policy: %s: rule %d has no id", set.Name, i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("policy: %s: duplicate rule id %s", set.Name, r.ID)
		}
		seen[r.ID] = true
		if strings.TrimSpace(r.Expression) == "" {
			return nil, fmt.Errorf("policy: %s: rule %s has no expression", set.Name, r.ID)
		}
		if r.Action == "" {
			r.Action = ActionFlag
		}
		if !r.Action.Valid() {
			return nil, fmt.Errorf("policy: %s: rule %s has unknown action %q", set.Name, r.ID, r.Action)
		}
	}
	return &set, nil
}

// ActiveRules returns the enabled rules, highest priority first. Ties
// keep file order.
func (s *RuleSet) ActiveRules() []Rule {
	var rules []Rule
	for _, r := range s.Rules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
	return rules
}
