package audit

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/classifier"
)

// Action is the compliance event an Entry records.
type Action string

const (
	ActionClassified Action = "classified"
	ActionModerated  Action = "moderated"
	ActionDisclosed  Action = "disclosed"
)

func (a Action) IsValid() bool {
	_, err := a.metadataKind()
	return err == nil
}

// metadataKind returns the only metadata kind an action may carry.
func (a Action) metadataKind() (MetadataKind, error) {
	switch a {
	case ActionClassified:
		return KindClassification, nil
	case ActionModerated:
		return KindModeration, nil
	case ActionDisclosed:
		return KindDisclosure, nil
	}
	return "", errors.Errorf("invalid audit action %q", a)
}

type MetadataKind string

const (
	KindClassification MetadataKind = "classification"
	KindModeration     MetadataKind = "moderation"
	KindDisclosure     MetadataKind = "disclosure"
)

type (
	// Metadata is a tagged variant: Kind tells which one of the other fields is set.
	Metadata struct {
		Kind           MetadataKind        `json:"kind"`
		Classification *ClassificationMeta `json:"classification,omitempty"`
		Moderation     *ModerationMeta     `json:"moderation,omitempty"`
		Disclosure     *DisclosureMeta     `json:"disclosure,omitempty"`
	}

	ClassificationMeta struct {
		Category            classifier.Category        `json:"content_category"`
		RiskLevel           classifier.RiskLevel       `json:"risk_level"`
		IsEducationalRecord bool                       `json:"is_educational_record"`
		EncryptionLevel     classifier.EncryptionLevel `json:"encryption_level"`
		LegalBasis          classifier.LegalBasis      `json:"legal_basis"`
		FlaggedKeywords     []string                   `json:"flagged_keywords"`
		ModerationRequired  bool                       `json:"moderation_required"`
		RetentionTag        string                     `json:"retention_tag"`
	}

	ModerationMeta struct {
		Action     string `json:"action"`
		FromStatus string `json:"from_status"`
		ToStatus   string `json:"to_status"`
		Priority   string `json:"priority"`
		Notes      string `json:"notes,omitempty"`
	}

	DisclosureMeta struct {
		LegalBasis   classifier.LegalBasis `json:"legal_basis"`
		Purpose      string                `json:"purpose"`
		RecipientIDs []string              `json:"recipient_ids"`
		RetentionTag string                `json:"retention_tag"`
	}
)

func ClassificationMetadata(m ClassificationMeta) Metadata {
	return Metadata{Kind: KindClassification, Classification: &m}
}

func ModerationMetadata(m ModerationMeta) Metadata {
	return Metadata{Kind: KindModeration, Moderation: &m}
}

func DisclosureMetadata(m DisclosureMeta) Metadata {
	return Metadata{Kind: KindDisclosure, Disclosure: &m}
}

// Validate checks that exactly the variant named by Kind is set.
func (m Metadata) Validate() error {
	set := 0
	for _, present := range []bool{m.Classification != nil, m.Moderation != nil, m.Disclosure != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return errors.Errorf("audit metadata must carry exactly one variant, got %d", set)
	}

	switch m.Kind {
	case KindClassification:
		if m.Classification == nil {
			return errors.New("classification metadata missing")
		}
		if !m.Classification.RiskLevel.IsValid() || !m.Classification.Category.IsValid() {
			return errors.New("classification metadata: invalid category or risk level")
		}
	case KindModeration:
		if m.Moderation == nil {
			return errors.New("moderation metadata missing")
		}
		if m.Moderation.Action == "" || m.Moderation.ToStatus == "" {
			return errors.New("moderation metadata: action and to_status are required")
		}
	case KindDisclosure:
		if m.Disclosure == nil {
			return errors.New("disclosure metadata missing")
		}
		if !m.Disclosure.LegalBasis.IsValid() {
			return errors.New("disclosure metadata: invalid legal basis")
		}
	default:
		return errors.Errorf("unknown audit metadata kind %q", m.Kind)
	}
	return nil
}

// UnmarshalJSON rejects metadata that is not a valid variant.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	type plain Metadata
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if err := Metadata(p).Validate(); err != nil {
		return err
	}
	*m = Metadata(p)
	return nil
}

// Entry is an immutable audit record.
type Entry struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	Action    Action    `json:"action"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	Timestamp time.Time `json:"timestamp"` // UTC
	Metadata  Metadata  `json:"metadata"`
}

type NewEntry struct {
	MessageID string
	Action    Action
	ActorID   string
	ActorRole string
	Metadata  Metadata
}

// Filter fields are ANDed; zero values are ignored.
type Filter struct {
	MessageID string    `query:"message_id"`
	ActorID   string    `query:"actor_id"`
	Action    Action    `query:"action"`
	From      time.Time `query:"from"`
	To        time.Time `query:"to"`
}
