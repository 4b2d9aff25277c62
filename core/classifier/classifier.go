// Package classifier maps message text and participant roles to a compliance Profile.
// Classification is pure and never fails: content no rule matches gets the DefaultProfile.
package classifier

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

const (
	defaultFuzzyRatio = .85
	fuzzyMinLen       = 5
	fuzzyMaxLenDiff   = 2
)

type (
	tier struct {
		name     string
		risk     RiskLevel
		fuzzy    bool
		keywords []keyword
	}

	set struct {
		name      string
		category  Category
		risk      RiskLevel
		eduRecord bool
		keywords  []keyword
		patterns  []pattern
	}

	Classifier struct {
		tiers         []tier
		sets          []set
		gradeKeywords []keyword
		gradePatterns []pattern
		knownWords    map[string]struct{}
		fuzzyRatio    float64
		cache         Cache
	}
)

// New compiles rules into a Classifier. A nil cache disables caching;
// fuzzyRatio (0, 1] is the similarity above which a misspelled safeguarding keyword still matches.
func New(rules *Rules, cache Cache, fuzzyRatio float64) (*Classifier, error) {
	if rules == nil {
		return nil, errors.New("classifier: nil rules")
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if cache == nil {
		cache = NopCache{}
	}
	if fuzzyRatio <= 0 || fuzzyRatio > 1 {
		fuzzyRatio = defaultFuzzyRatio
	}

	c := &Classifier{fuzzyRatio: fuzzyRatio, cache: cache}
	for _, t := range rules.Tiers {
		kws, err := compileKeywords(t.Keywords)
		if err != nil {
			return nil, errors.Wrapf(err, "tier %s", t.Name)
		}
		c.tiers = append(c.tiers, tier{name: t.Name, risk: t.Risk, fuzzy: t.Fuzzy, keywords: kws})
	}
	for _, s := range rules.Sets {
		kws, err := compileKeywords(s.Keywords)
		if err != nil {
			return nil, errors.Wrapf(err, "set %s", s.Name)
		}
		patterns, err := compilePatterns(s.Patterns)
		if err != nil {
			return nil, errors.Wrapf(err, "set %s", s.Name)
		}
		c.sets = append(c.sets, set{
			name:      s.Name,
			category:  s.Category,
			risk:      s.Risk,
			eduRecord: s.EducationalRecord,
			keywords:  kws,
			patterns:  patterns,
		})
	}

	var err error
	if c.gradeKeywords, err = compileKeywords(rules.Grades.Keywords); err != nil {
		return nil, errors.Wrap(err, "grades")
	}
	if c.gradePatterns, err = compilePatterns(rules.Grades.Patterns); err != nil {
		return nil, errors.Wrap(err, "grades")
	}
	c.knownWords = knownWords(rules)
	return c, nil
}

// knownWords collects the words fuzzy matching must leave alone.
func knownWords(rules *Rules) map[string]struct{} {
	known := make(map[string]struct{})
	add := func(raw []string) {
		for _, r := range raw {
			for _, w := range tokenize(foldText(strings.TrimSuffix(r, "*"))) {
				known[w] = struct{}{}
			}
		}
	}
	add(rules.KnownWords)
	for _, s := range rules.Sets {
		add(s.Keywords)
	}
	add(rules.Grades.Keywords)
	return known
}

// NewFromConfig builds the Classifier from the compliance configuration.
func NewFromConfig(conf *core.Config) (*Classifier, error) {
	rules, err := LoadRules(conf.Compliance.RulesFile)
	if err != nil {
		return nil, errors.Wrap(err, "loading classifier rules")
	}
	cache := NewLRUCache(conf.Compliance.CacheSize, conf.Compliance.CacheTTL)
	return New(rules, cache, conf.Compliance.FuzzyRatio)
}

// Classify returns the compliance profile of in. It is safe for concurrent use.
func (c *Classifier) Classify(in Input) Profile {
	if strings.TrimSpace(in.Text) == "" {
		return DefaultProfile()
	}

	key := cacheKey(in)
	if p, ok := c.cache.Get(key); ok {
		return p.clone()
	}
	p := c.classify(in)
	c.cache.Add(key, p)
	return p.clone()
}

func (c *Classifier) classify(in Input) Profile {
	folded := foldText(in.Text)
	tokens := tokenize(folded)
	words := strings.Join(tokens, " ")

	// safeguarding tiers: first match wins
	for _, t := range c.tiers {
		matched := matchKeywords(words, t.keywords)
		if t.fuzzy {
			matched = append(matched, c.fuzzyMatches(tokens, t.keywords)...)
		}
		if len(matched) == 0 {
			continue
		}

		p := DefaultProfile()
		p.Category = CategorySafeguarding
		p.RiskLevel = t.risk
		p.AuditRequired = true
		p.ModerationRequired = true
		p.FlaggedKeywords = sortedSet(matched)
		p.EncryptionLevel = encryptionFor(p)
		return p
	}

	p := DefaultProfile()
	var (
		flagged []string
		winner  *set
	)
	for i := range c.sets {
		s := &c.sets[i]
		matched := matchKeywords(words, s.keywords)
		if matchesAny(folded, s.patterns) {
			// never flag the matched values themselves: they may be personal data
			matched = append(matched, s.name)
		}
		if len(matched) == 0 {
			continue
		}

		flagged = append(flagged, matched...)
		if s.eduRecord {
			p.IsEducationalRecord = true
		}
		if winner == nil || s.risk.Rank() > winner.risk.Rank() {
			winner = s
		}
	}
	if winner != nil {
		p.Category = winner.category
		p.RiskLevel = winner.risk
	}

	if c.isGradeDisclosure(in, folded, words) {
		p.IsEducationalRecord = true
		if winner == nil || winner.risk.Rank() < RiskMedium.Rank() {
			p.Category = CategoryAcademic
		}
	}

	if p.IsEducationalRecord && isStaff(in.SenderRole) {
		p.LegalBasis = LegalBasisLegitimateInterest
	}
	p.AuditRequired = p.RiskLevel.AtLeast(RiskHigh) || p.IsEducationalRecord
	p.EncryptionLevel = encryptionFor(p)
	p.FlaggedKeywords = sortedSet(flagged)
	return p
}

// isGradeDisclosure reports whether a teacher or admin mentions a grade/score to a student or parent.
func (c *Classifier) isGradeDisclosure(in Input, folded, words string) bool {
	if !isStaff(in.SenderRole) {
		return false
	}
	toLearner := false
	for _, role := range in.RecipientRoles {
		if fam := user.RoleFamily(role); fam == user.RoleStudent || fam == user.RoleParent {
			toLearner = true
			break
		}
	}
	if !toLearner {
		return false
	}
	return len(matchKeywords(words, c.gradeKeywords)) > 0 || matchesAny(folded, c.gradePatterns)
}

// fuzzyMatches returns the unknown tokens similar enough to a single word, non prefix keyword.
// A misspelling keeps the first letter of the keyword.
func (c *Classifier) fuzzyMatches(tokens []string, kws []keyword) []string {
	var matched []string
	for _, tok := range tokens {
		if _, ok := c.knownWords[tok]; ok {
			continue
		}
		tokRunes := strings.Split(tok, "")
		if len(tokRunes) < fuzzyMinLen {
			continue
		}
		for _, kw := range kws {
			if !kw.single || kw.prefix || kw.word == tok {
				continue
			}
			kwRunes := strings.Split(kw.word, "")
			if kwRunes[0] != tokRunes[0] || abs(len(kwRunes)-len(tokRunes)) > fuzzyMaxLenDiff {
				continue
			}
			if difflib.NewMatcher(tokRunes, kwRunes).Ratio() >= c.fuzzyRatio {
				matched = append(matched, tok)
				break
			}
		}
	}
	return matched
}

func matchKeywords(words string, kws []keyword) []string {
	var matched []string
	for _, kw := range kws {
		matched = append(matched, kw.re.FindAllString(words, -1)...)
	}
	return matched
}

func matchesAny(text string, patterns []pattern) bool {
	for _, p := range patterns {
		if p.match(text) {
			return true
		}
	}
	return false
}

func encryptionFor(p Profile) EncryptionLevel {
	switch {
	case p.RiskLevel.AtLeast(RiskHigh):
		return EncryptionMaximum
	case p.IsEducationalRecord, p.Category == CategoryPersonalData, p.RiskLevel == RiskMedium:
		return EncryptionEnhanced
	default:
		return EncryptionStandard
	}
}

func isStaff(role string) bool {
	fam := user.RoleFamily(role)
	return fam == user.RoleTeacher || fam == user.RoleAdmin
}

func sortedSet(ss []string) []string {
	out := core.UniqueStrings(ss)
	if out == nil {
		return []string{}
	}
	sort.Strings(out)
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
