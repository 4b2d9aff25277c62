package classifier

import (
	_ "embed"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

type (
	// Rules is the YAML document the classifier is built from.
	Rules struct {
		Tiers  []TierRule `yaml:"tiers"`
		Sets   []SetRule  `yaml:"sets"`
		Grades GradeRule  `yaml:"grades"`
		// KnownWords are correctly spelled words that must never be taken for a misspelled
		// safeguarding keyword. Keywords of the sets and grades are known words too.
		KnownWords []string `yaml:"known_words"`
	}

	// TierRule is a safeguarding tier; a match short-circuits classification.
	TierRule struct {
		Name     string    `yaml:"name"`
		Risk     RiskLevel `yaml:"risk"`
		Fuzzy    bool      `yaml:"fuzzy"`
		Keywords []string  `yaml:"keywords"`
	}

	SetRule struct {
		Name              string    `yaml:"name"`
		Category          Category  `yaml:"category"`
		Risk              RiskLevel `yaml:"risk"`
		EducationalRecord bool      `yaml:"educational_record"`
		Keywords          []string      `yaml:"keywords"`
		Patterns          []PatternRule `yaml:"patterns"`
	}

	GradeRule struct {
		Keywords []string      `yaml:"keywords"`
		Patterns []PatternRule `yaml:"patterns"`
	}

	// PatternRule is a regular expression matched against the normalised text.
	// It is written either as a plain string or as a mapping.
	PatternRule struct {
		Expr string `yaml:"expr"`
		// Ignore is removed from the text before matching Expr.
		Ignore string `yaml:"ignore"`
		// MinDigits is the number of digits a match needs to count.
		MinDigits int `yaml:"min_digits"`
	}
)

func (p *PatternRule) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.Expr = value.Value
		return nil
	}
	type plain PatternRule
	return value.Decode((*plain)(p))
}

// DefaultRules returns the embedded rule sets.
func DefaultRules() (*Rules, error) {
	return ParseRules(defaultRules)
}

// LoadRules reads the rule sets at path, or the embedded ones if path is empty.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading rules file")
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (*Rules, error) {
	rules := new(Rules)
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, errors.Wrap(err, "decoding rules")
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *Rules) Validate() error {
	if len(r.Tiers) == 0 && len(r.Sets) == 0 {
		return errors.New("rules: no tiers nor sets defined")
	}
	for _, t := range r.Tiers {
		if !t.Risk.AtLeast(RiskHigh) {
			return errors.Errorf("rules: tier %q must be high or critical risk, got %q", t.Name, t.Risk)
		}
		if len(t.Keywords) == 0 {
			return errors.Errorf("rules: tier %q has no keywords", t.Name)
		}
	}
	for _, s := range r.Sets {
		if !s.Category.IsValid() || s.Category == CategorySafeguarding || s.Category == CategoryGeneral {
			return errors.Errorf("rules: set %q has an invalid category %q", s.Name, s.Category)
		}
		if !s.Risk.IsValid() || s.Risk.AtLeast(RiskHigh) {
			return errors.Errorf("rules: set %q must be low or medium risk, got %q", s.Name, s.Risk)
		}
		if len(s.Keywords) == 0 && len(s.Patterns) == 0 {
			return errors.Errorf("rules: set %q has no keywords nor patterns", s.Name)
		}
	}
	return nil
}

// keyword is a compiled keyword; it matches whole words of the normalised text.
type keyword struct {
	word   string // normalised, without the trailing `*`
	prefix bool
	single bool // single word: eligible to fuzzy matching
	re     *regexp.Regexp
}

func compileKeywords(raw []string) ([]keyword, error) {
	kws := make([]keyword, 0, len(raw))
	for _, r := range raw {
		prefix := strings.HasSuffix(r, "*")
		word := normalizeWords(strings.TrimSuffix(r, "*"))
		if word == "" {
			continue
		}

		expr := `\b` + regexp.QuoteMeta(word)
		if prefix {
			expr += `\w*`
		}
		expr += `\b`
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, errors.Wrapf(err, "compiling keyword %q", r)
		}
		kws = append(kws, keyword{
			word:   word,
			prefix: prefix,
			single: !strings.Contains(word, " "),
			re:     re,
		})
	}
	return kws, nil
}

// pattern is a compiled PatternRule.
type pattern struct {
	re        *regexp.Regexp
	ignore    *regexp.Regexp
	minDigits int
}

func (p pattern) match(text string) bool {
	if p.ignore != nil {
		text = p.ignore.ReplaceAllString(text, " ")
	}
	if p.minDigits <= 0 {
		return p.re.MatchString(text)
	}
	for _, m := range p.re.FindAllString(text, -1) {
		if countDigits(m) >= p.minDigits {
			return true
		}
	}
	return false
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func compilePatterns(raw []PatternRule) ([]pattern, error) {
	patterns := make([]pattern, 0, len(raw))
	for _, r := range raw {
		if r.Expr == "" {
			return nil, errors.New("empty pattern")
		}
		re, err := regexp.Compile(r.Expr)
		if err != nil {
			return nil, errors.Wrapf(err, "compiling pattern %q", r.Expr)
		}
		p := pattern{re: re, minDigits: r.MinDigits}
		if r.Ignore != "" {
			if p.ignore, err = regexp.Compile(r.Ignore); err != nil {
				return nil, errors.Wrapf(err, "compiling ignore pattern %q", r.Ignore)
			}
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}
