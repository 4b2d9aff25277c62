package classifier

import (
	"github.com/pkg/errors"
)

// Category is the content category of a message.
type Category string

const (
	CategoryGeneral        Category = "general"
	CategoryAcademic       Category = "academic"
	CategoryAdministrative Category = "administrative"
	CategoryBehavioral     Category = "behavioral"
	CategoryPersonalData   Category = "personal_data"
	CategorySafeguarding   Category = "safeguarding"
)

func (c Category) IsValid() bool {
	switch c {
	case CategoryGeneral, CategoryAcademic, CategoryAdministrative,
		CategoryBehavioral, CategoryPersonalData, CategorySafeguarding:
		return true
	}
	return false
}

// RiskLevel is ordered: low < medium < high < critical.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// Rank returns the position of r in the risk order, 0 for unknown levels.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

func (r RiskLevel) IsValid() bool { return r.Rank() > 0 }

func (r RiskLevel) AtLeast(other RiskLevel) bool { return r.Rank() >= other.Rank() }

// MaxRisk returns the higher of a and b.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// EncryptionLevel is ordered: standard < enhanced < maximum.
type EncryptionLevel string

const (
	EncryptionStandard EncryptionLevel = "standard"
	EncryptionEnhanced EncryptionLevel = "enhanced"
	EncryptionMaximum  EncryptionLevel = "maximum"
)

func (e EncryptionLevel) Rank() int {
	switch e {
	case EncryptionStandard:
		return 1
	case EncryptionEnhanced:
		return 2
	case EncryptionMaximum:
		return 3
	}
	return 0
}

func (e EncryptionLevel) IsValid() bool { return e.Rank() > 0 }

// MaxEncryption returns the stronger of a and b.
func MaxEncryption(a, b EncryptionLevel) EncryptionLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// LegalBasis is the justification under which personal data in a message is processed.
type LegalBasis string

const (
	LegalBasisStandard           LegalBasis = "standard"
	LegalBasisLegitimateInterest LegalBasis = "legitimate_interest"
	LegalBasisConsent            LegalBasis = "consent"
)

func (lb LegalBasis) IsValid() bool {
	switch lb {
	case LegalBasisStandard, LegalBasisLegitimateInterest, LegalBasisConsent:
		return true
	}
	return false
}

// Input is what a message is classified on.
type Input struct {
	Text           string
	SenderRole     string
	RecipientRoles []string
	ClassID        string
}

// Profile is the compliance profile of a message.
// A critical risk level always requires an audit.
type Profile struct {
	Category            Category        `json:"content_category"`
	RiskLevel           RiskLevel       `json:"risk_level"`
	IsEducationalRecord bool            `json:"is_educational_record"`
	EncryptionLevel     EncryptionLevel `json:"encryption_level"`
	AuditRequired       bool            `json:"audit_required"`
	LegalBasis          LegalBasis      `json:"legal_basis"`
	FlaggedKeywords     []string        `json:"flagged_keywords"`
	ModerationRequired  bool            `json:"moderation_required"`
}

// DefaultProfile is the profile of content no rule matches.
func DefaultProfile() Profile {
	return Profile{
		Category:        CategoryGeneral,
		RiskLevel:       RiskLow,
		EncryptionLevel: EncryptionStandard,
		LegalBasis:      LegalBasisStandard,
		FlaggedKeywords: []string{},
	}
}

func (p Profile) clone() Profile {
	kws := make([]string, len(p.FlaggedKeywords))
	copy(kws, p.FlaggedKeywords)
	p.FlaggedKeywords = kws
	return p
}

// Validate checks a profile read back from storage.
func (p Profile) Validate() error {
	switch {
	case !p.Category.IsValid():
		return errors.Errorf("invalid content category %q", p.Category)
	case !p.RiskLevel.IsValid():
		return errors.Errorf("invalid risk level %q", p.RiskLevel)
	case !p.EncryptionLevel.IsValid():
		return errors.Errorf("invalid encryption level %q", p.EncryptionLevel)
	case !p.LegalBasis.IsValid():
		return errors.Errorf("invalid legal basis %q", p.LegalBasis)
	case p.RiskLevel == RiskCritical && !p.AuditRequired:
		return errors.New("critical risk profiles must require an audit")
	}
	return nil
}
