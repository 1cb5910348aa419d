package export

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

var ErrNoRules = errors.New("category rules are empty")

type Rule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// Rules is an ordered keyword rule list. Order decides priority when more
// than one rule matches and also the order of groups in the output.
type Rules struct {
	Default string `yaml:"default"`
	Rules   []Rule `yaml:"rules"`
}

func DefaultRules() Rules {
	rules, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded category rules: %v", err))
	}
	return rules
}

// LoadRules reads a YAML rule file. An empty path yields the built-in rules.
func LoadRules(path string) (Rules, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultRules(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read category rules %s: %w", path, err)
	}
	rules, err := ParseRules(raw)
	if err != nil {
		return Rules{}, fmt.Errorf("parse category rules %s: %w", path, err)
	}
	return rules, nil
}

func ParseRules(raw []byte) (Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return Rules{}, err
	}

	rules.Default = strings.TrimSpace(rules.Default)
	if rules.Default == "" {
		return Rules{}, fmt.Errorf("default category is required")
	}
	seen := map[string]struct{}{rules.Default: {}}
	cleaned := make([]Rule, 0, len(rules.Rules))
	for i, rule := range rules.Rules {
		category := strings.TrimSpace(rule.Category)
		if category == "" {
			return Rules{}, fmt.Errorf("rule %d: category is required", i)
		}
		if _, dup := seen[category]; dup {
			return Rules{}, fmt.Errorf("rule %d: duplicate category %q", i, category)
		}
		seen[category] = struct{}{}

		keywords := make([]string, 0, len(rule.Keywords))
		for _, k := range rule.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				keywords = append(keywords, k)
			}
		}
		if len(keywords) == 0 {
			return Rules{}, fmt.Errorf("rule %d (%s): at least one keyword is required", i, category)
		}
		cleaned = append(cleaned, Rule{Category: category, Keywords: keywords})
	}
	if len(cleaned) == 0 {
		return Rules{}, ErrNoRules
	}
	rules.Rules = cleaned
	return rules, nil
}

// Classify returns the first category with a keyword contained in any of the
// texts, case-insensitively, or the default category.
func (r Rules) Classify(texts ...string) string {
	haystack := strings.ToLower(strings.Join(texts, "\n"))
	for _, rule := range r.Rules {
		for _, keyword := range rule.Keywords {
			if strings.Contains(haystack, keyword) {
				return rule.Category
			}
		}
	}
	return r.Default
}

// Categories lists every category in output order, default last.
func (r Rules) Categories() []string {
	out := make([]string, 0, len(r.Rules)+1)
	for _, rule := range r.Rules {
		out = append(out, rule.Category)
	}
	return append(out, r.Default)
}
