package message

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/classifier"
	"github.com/trezcool/academia/core/moderation"
	"github.com/trezcool/academia/core/user"
)

// Type is the audience of a message.
type Type string

const (
	TypePublic    Type = "public"
	TypePrivate   Type = "private"
	TypeGroup     Type = "group"
	TypeBroadcast Type = "broadcast"
	TypeSystem    Type = "system"
)

func (t Type) IsValid() bool {
	switch t {
	case TypePublic, TypePrivate, TypeGroup, TypeBroadcast, TypeSystem:
		return true
	}
	return false
}

// IsWide reports whether the message reaches more than one person at once.
func (t Type) IsWide() bool {
	switch t {
	case TypePublic, TypeGroup, TypeBroadcast:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryHeld      DeliveryStatus = "held"     // awaiting moderation
	DeliveryWithheld  DeliveryStatus = "withheld" // blocked by a moderator
)

// DeliveryStatusFor maps a moderation status to the status of the message deliveries.
func DeliveryStatusFor(status moderation.Status) DeliveryStatus {
	switch status {
	case "", moderation.StatusApproved:
		return DeliveryDelivered
	case moderation.StatusBlocked:
		return DeliveryWithheld
	default:
		return DeliveryHeld
	}
}

type MetadataKind string

const (
	KindAttachment MetadataKind = "attachment"
	KindLink       MetadataKind = "link"
)

type (
	// Metadata is a tagged variant: Kind tells which one of the other fields is set.
	Metadata struct {
		Kind       MetadataKind    `json:"kind"`
		Attachment *AttachmentMeta `json:"attachment,omitempty"`
		Link       *LinkMeta       `json:"link,omitempty"`
	}

	AttachmentMeta struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
		Size        int64  `json:"size"`
		URL         string `json:"url"`
	}

	LinkMeta struct {
		URL   string `json:"url"`
		Title string `json:"title,omitempty"`
	}
)

func (m Metadata) Validate() error {
	switch m.Kind {
	case KindAttachment:
		if m.Attachment == nil || m.Link != nil {
			return errors.New("attachment metadata must only carry an attachment")
		}
		if m.Attachment.Filename == "" || m.Attachment.Size < 0 {
			return errors.New("attachment metadata: invalid filename or size")
		}
		return validURL(m.Attachment.URL)
	case KindLink:
		if m.Link == nil || m.Attachment != nil {
			return errors.New("link metadata must only carry a link")
		}
		return validURL(m.Link.URL)
	}
	return errors.Errorf("unknown message metadata kind %q", m.Kind)
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

func validURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !(u.Scheme == "http" || u.Scheme == "https") || u.Host == "" {
		return errors.Errorf("invalid url %q", raw)
	}
	return nil
}

type Delivery struct {
	RecipientID string         `json:"recipient_id"`
	Role        string         `json:"role"`
	Status      DeliveryStatus `json:"status"`
	UpdatedAt   time.Time      `json:"updated_at"` // UTC
}

type Message struct {
	ID               string             `json:"id"`
	ClassID          string             `json:"class_id"`
	Author           user.Participant   `json:"author"`
	Type             Type               `json:"type"`
	Content          string             `json:"content"`
	ThreadID         string             `json:"thread_id,omitempty"`
	ParentID         string             `json:"parent_id,omitempty"`
	TaggedUserIDs    []string           `json:"tagged_user_ids"`
	Metadata         []Metadata         `json:"metadata"`
	Compliance       classifier.Profile `json:"compliance"`
	RetentionTag     string             `json:"retention_tag"`
	ModerationStatus moderation.Status  `json:"moderation_status,omitempty"`
	Deliveries       []Delivery         `json:"deliveries"`
	CreatedAt        time.Time          `json:"created_at"` // UTC

	// Encrypted is set when Content holds ciphertext.
	Encrypted bool `json:"-"`
}

func (m *Message) RecipientIDs() []string {
	ids := make([]string, 0, len(m.Deliveries))
	for _, d := range m.Deliveries {
		ids = append(ids, d.RecipientID)
	}
	return ids
}

// VisibleTo reports whether usr may read the message.
func (m *Message) VisibleTo(usr user.User) bool {
	if usr.IsAdmin() || m.Author.UserID == usr.ID {
		return true
	}
	for _, d := range m.Deliveries {
		if d.RecipientID == usr.ID {
			return d.Status == DeliveryDelivered
		}
	}
	return false
}

// NewMessage contains information needed to create a new Message.
type NewMessage struct {
	Content       string     `json:"content" validate:"required_without=Metadata,max=10000"`
	RecipientIDs  []string   `json:"recipients" validate:"required,min=1,dive,required"`
	ClassID       string     `json:"class_id" validate:"required"`
	Type          Type       `json:"type" validate:"required,msgtype"`
	ThreadID      string     `json:"thread_id"`
	ParentID      string     `json:"parent_id"`
	TaggedUserIDs []string   `json:"tagged_user_ids" validate:"dive,required"`
	Metadata      []Metadata `json:"metadata" validate:"max=20"`
}

func (nm *NewMessage) Validate(validate *validator.Validate) error {
	nm.Content = core.CleanString(nm.Content)
	nm.ClassID = core.CleanString(nm.ClassID)
	nm.ThreadID = core.CleanString(nm.ThreadID)
	nm.ParentID = core.CleanString(nm.ParentID)
	nm.RecipientIDs = core.UniqueStrings(nm.RecipientIDs)
	nm.TaggedUserIDs = core.UniqueStrings(nm.TaggedUserIDs)
	if err := validate.Struct(nm); err != nil {
		return err
	}
	for _, md := range nm.Metadata {
		if err := md.Validate(); err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "metadata", Error: err.Error()})
		}
	}
	return nil
}

// Filter fields are ANDed; zero values are ignored.
type Filter struct {
	ClassID  string `query:"class_id"`
	ThreadID string `query:"thread_id"`
	// VisibleTo restricts results to the messages a user authored or received.
	VisibleTo string `query:"-"`
}

// Scope selects the messages compliance stats are computed on.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeCampus Scope = "campus"
	ScopeClass  Scope = "class"
)

func (s Scope) IsValid() bool {
	switch s {
	case ScopeGlobal, ScopeCampus, ScopeClass:
		return true
	}
	return false
}

type StatsQuery struct {
	Scope Scope  `query:"scope"`
	ID    string `query:"id"`
}

type Stats struct {
	Scope              Scope                        `json:"scope"`
	ID                 string                       `json:"id,omitempty"`
	Total              int                          `json:"total"`
	ByRiskLevel        map[classifier.RiskLevel]int `json:"by_risk_level"`
	EducationalRecords int                          `json:"educational_records"`
	Audited            int                          `json:"audited"`
}

// NewStats returns empty Stats with every risk level present.
func NewStats(scope Scope, id string) Stats {
	byRisk := make(map[classifier.RiskLevel]int, len(classifier.RiskLevels))
	for _, r := range classifier.RiskLevels {
		byRisk[r] = 0
	}
	return Stats{Scope: scope, ID: id, ByRiskLevel: byRisk}
}
