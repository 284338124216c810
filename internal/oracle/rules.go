package oracle

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Rules holds the prompt material shown to the model: instructions, hard
// negatives, worked examples, and the nickname table shared with the
// suspicious-merge audit.
type Rules struct {
	Persona      string              `yaml:"persona"`
	Task         string              `yaml:"task"`
	HardRules    []HardRule          `yaml:"hard_rules"`
	Examples     []Example           `yaml:"examples"`
	OutputFormat string              `yaml:"output_format"`
	Nicknames    map[string][]string `yaml:"nicknames"`

	nicknameIndex map[string]map[string]struct{}
}

// HardRule is a rule that overrides other evidence.
type HardRule struct {
	Rule      string `yaml:"rule"`
	Exception string `yaml:"exception,omitempty"`
}

// Example is a worked few-shot decision.
type Example struct {
	Label    string          `yaml:"label"`
	A        map[string]any  `yaml:"a"`
	B        map[string]any  `yaml:"b"`
	Decision ExampleDecision `yaml:"decision"`
}

// ExampleDecision is the expected answer for an Example.
type ExampleDecision struct {
	ShouldMerge bool    `yaml:"should_merge" json:"should_merge"`
	Confidence  float64 `yaml:"confidence" json:"confidence"`
	Reasoning   string  `yaml:"reasoning" json:"reasoning"`
}

// DefaultRules returns the built-in rules.
func DefaultRules() *Rules {
	r, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(err) // embedded file is validated by tests
	}
	return r
}

// LoadRules reads rules from a YAML file. An empty path returns the
// built-in rules.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "oracle: read rules %s", path)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates rules YAML.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "oracle: parse rules")
	}
	if strings.TrimSpace(r.Persona) == "" {
		return nil, eris.New("oracle: rules missing persona")
	}
	if strings.TrimSpace(r.OutputFormat) == "" {
		return nil, eris.New("oracle: rules missing output_format")
	}
	r.buildNicknameIndex()
	return &r, nil
}

func (r *Rules) buildNicknameIndex() {
	r.nicknameIndex = make(map[string]map[string]struct{})
	link := func(a, b string) {
		if r.nicknameIndex[a] == nil {
			r.nicknameIndex[a] = make(map[string]struct{})
		}
		r.nicknameIndex[a][b] = struct{}{}
	}
	for formal, nicks := range r.Nicknames {
		formal = strings.ToLower(strings.TrimSpace(formal))
		for _, n := range nicks {
			n = strings.ToLower(strings.TrimSpace(n))
			link(formal, n)
			link(n, formal)
		}
	}
	// Nicknames of the same formal name are interchangeable (Bob and Rob).
	for _, nicks := range r.Nicknames {
		for _, a := range nicks {
			for _, b := range nicks {
				if a != b {
					link(strings.ToLower(a), strings.ToLower(b))
				}
			}
		}
	}
}

// IsNickname reports whether a and b are known variants of the same given
// name. Comparison is case-insensitive; identical names are not nicknames.
func (r *Rules) IsNickname(a, b string) bool {
	if r == nil || r.nicknameIndex == nil {
		return false
	}
	a, b = strings.ToLower(a), strings.ToLower(b)
	_, ok := r.nicknameIndex[a][b]
	return ok
}
