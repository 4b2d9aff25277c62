// Package message runs the message creation pipeline:
// classification, privacy annotation, then a single transaction persisting the message,
// its deliveries, its audit entries and, when flagged, its moderation entry.
package message

import (
	"context"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/audit"
	"github.com/trezcool/academia/core/classifier"
	"github.com/trezcool/academia/core/classroom"
	"github.com/trezcool/academia/core/moderation"
	"github.com/trezcool/academia/core/privacy"
	"github.com/trezcool/academia/core/user"
)

var (
	ErrNotFound       = core.NewError(core.CodeNotFound, "message not found")
	ErrParentNotFound = core.NewError(core.CodeNotFound, "parent message not found")
	ErrSystemMessage  = core.NewError(core.CodeForbidden, "only admins can send system messages")
)

type (
	Repository interface {
		// CreateMessage inserts the message and its deliveries.
		CreateMessage(ctx context.Context, msg Message, exec ...core.DBExecutor) (Message, error)
		GetMessage(ctx context.Context, id string, exec ...core.DBExecutor) (Message, error)
		// QueryMessages returns the matching messages, oldest first.
		QueryMessages(ctx context.Context, filter Filter, exec ...core.DBExecutor) ([]Message, error)
		// SetModerationStatus stores the moderation status of a message and updates its deliveries to match.
		SetModerationStatus(ctx context.Context, id string, status moderation.Status, exec ...core.DBExecutor) error
		ParticipantIDs(ctx context.Context, id string, exec ...core.DBExecutor) ([]string, error)
	}

	StatsRepository interface {
		ComplianceStats(ctx context.Context, scope Scope, id string) (Stats, error)
	}

	// Cipher protects message contents at rest.
	Cipher interface {
		Encrypt(plaintext string) (string, error)
		Decrypt(ciphertext string) (string, error)
	}

	Service interface {
		Create(ctx context.Context, author user.User, nm NewMessage) (Message, error)
		Get(ctx context.Context, viewer user.User, id string) (Message, error)
		Query(ctx context.Context, viewer user.User, filter Filter) ([]Message, error)
		Stats(ctx context.Context, q StatsQuery) (Stats, error)
	}

	// Deps are the collaborators of the message Service.
	Deps struct {
		Repo        Repository
		StatsRepo   StatsRepository
		Tx          core.Transactor
		Cipher      Cipher
		Classifier  *classifier.Classifier
		Annotator   privacy.Annotator
		Moderation  moderation.Service
		Audit       audit.Service
		Users       user.Service
		Classes     classroom.Service
		Broadcaster core.Broadcaster
	}

	service struct {
		Deps
		nowFunc func() time.Time
	}
)

var _ moderation.MessageStore = Repository(nil)

func NewService(deps Deps) Service {
	if deps.Broadcaster == nil {
		deps.Broadcaster = core.NopBroadcaster{}
	}
	return &service{Deps: deps, nowFunc: time.Now}
}

func (svc *service) Create(ctx context.Context, author user.User, nm NewMessage) (Message, error) {
	if nm.Type == TypeSystem && !author.IsAdmin() {
		return Message{}, ErrSystemMessage
	}
	if nm.Type == TypePrivate && len(nm.RecipientIDs) != 1 {
		return Message{}, core.NewValidationError(nil, core.FieldError{Field: "recipients", Error: "a private message has exactly one recipient"})
	}

	cls, err := svc.Classes.GetByID(ctx, nm.ClassID)
	if err != nil {
		return Message{}, err
	}

	// resolve participants
	recipientIDs := make([]string, 0, len(nm.RecipientIDs))
	for _, id := range nm.RecipientIDs {
		if id != author.ID {
			recipientIDs = append(recipientIDs, id)
		}
	}
	if len(recipientIDs) == 0 {
		return Message{}, core.NewValidationError(nil, core.FieldError{Field: "recipients", Error: "a message needs a recipient other than its author"})
	}
	recipients, err := svc.Users.GetByIDs(ctx, recipientIDs)
	if err != nil {
		return Message{}, err
	}
	if _, err = svc.Users.GetByIDs(ctx, nm.TaggedUserIDs); err != nil {
		return Message{}, err
	}

	threadID := nm.ThreadID
	if nm.ParentID != "" {
		parent, err := svc.Repo.GetMessage(ctx, nm.ParentID)
		if err != nil {
			if errors.Cause(err) == ErrNotFound {
				return Message{}, ErrParentNotFound
			}
			return Message{}, err
		}
		if parent.ClassID != cls.ID || !parent.VisibleTo(author) {
			return Message{}, ErrParentNotFound
		}
		if threadID == "" {
			threadID = parent.ThreadID
			if threadID == "" {
				threadID = parent.ID
			}
		}
	}

	// classify and annotate
	sender := author.Participant()
	parts := privacy.Participants{Sender: sender, Wide: nm.Type.IsWide()}
	recipientRoles := make([]string, 0, len(recipients))
	for _, r := range recipients {
		p := r.Participant()
		parts.Recipients = append(parts.Recipients, p)
		recipientRoles = append(recipientRoles, p.Role)
	}
	profile := svc.Classifier.Classify(classifier.Input{
		Text:           nm.Content,
		SenderRole:     sender.Role,
		RecipientRoles: recipientRoles,
		ClassID:        cls.ID,
	})
	ann, err := svc.Annotator.Resolve(ctx, profile, parts)
	if err != nil {
		return Message{}, errors.Wrap(err, "annotating message")
	}
	profile = ann.Profile

	now := svc.nowFunc().UTC()
	msg := Message{
		ID:            uuid.New().String(),
		ClassID:       cls.ID,
		Author:        sender,
		Type:          nm.Type,
		Content:       nm.Content,
		ThreadID:      threadID,
		ParentID:      nm.ParentID,
		TaggedUserIDs: nm.TaggedUserIDs,
		Metadata:      nm.Metadata,
		Compliance:    profile,
		RetentionTag:  string(ann.RetentionTag),
		CreatedAt:     now,
	}
	if msg.TaggedUserIDs == nil {
		msg.TaggedUserIDs = []string{}
	}
	if msg.Metadata == nil {
		msg.Metadata = []Metadata{}
	}
	if profile.ModerationRequired {
		msg.ModerationStatus = moderation.StatusPending
	}
	deliveryStatus := DeliveryStatusFor(msg.ModerationStatus)
	for _, p := range parts.Recipients {
		msg.Deliveries = append(msg.Deliveries, Delivery{RecipientID: p.UserID, Role: p.Role, Status: deliveryStatus, UpdatedAt: now})
	}

	stored := msg
	if profile.EncryptionLevel.Rank() >= classifier.EncryptionEnhanced.Rank() && msg.Content != "" {
		ciphertext, err := svc.Cipher.Encrypt(msg.Content)
		if err != nil {
			return Message{}, errors.Wrap(err, "encrypting message content")
		}
		stored.Content = ciphertext
		stored.Encrypted = true
	}

	var entry moderation.Entry
	err = svc.Tx.WithinTx(ctx, func(exec core.DBExecutor) error {
		if _, err := svc.Repo.CreateMessage(ctx, stored, exec); err != nil {
			return errors.Wrap(err, "creating message")
		}
		if profile.AuditRequired || profile.ModerationRequired {
			if _, err := svc.Audit.Record(ctx, classifiedEntry(msg, ann), exec); err != nil {
				return errors.Wrap(err, "recording classification")
			}
		}
		if err := svc.Annotator.RecordDisclosure(ctx, msg.ID, parts, ann, exec); err != nil {
			return err
		}
		if profile.ModerationRequired {
			var err error
			entry, err = svc.Moderation.Enqueue(ctx, moderation.NewEntry{
				MessageID: msg.ID,
				ClassID:   msg.ClassID,
				RiskLevel: profile.RiskLevel,
				Reason:    moderationReason(profile, parts.Wide),
			}, exec)
			return err
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}

	if profile.ModerationRequired {
		svc.Moderation.Notify(ctx, entry)
	} else {
		svc.Broadcaster.Broadcast(core.Event{
			Type:         core.EventMessageCreated,
			ClassID:      msg.ClassID,
			RecipientIDs: append(msg.RecipientIDs(), msg.Author.UserID),
			Payload:      msg,
		})
	}
	return msg, nil
}

func (svc *service) Get(ctx context.Context, viewer user.User, id string) (Message, error) {
	msg, err := svc.Repo.GetMessage(ctx, id)
	if err != nil {
		return Message{}, err
	}
	if !msg.VisibleTo(viewer) {
		return Message{}, ErrNotFound
	}
	return svc.decrypt(msg)
}

func (svc *service) Query(ctx context.Context, viewer user.User, filter Filter) ([]Message, error) {
	filter.VisibleTo = ""
	if !viewer.IsAdmin() {
		filter.VisibleTo = viewer.ID
	}
	msgs, err := svc.Repo.QueryMessages(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}

	out := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		if !msg.VisibleTo(viewer) {
			continue
		}
		if msg, err = svc.decrypt(msg); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (svc *service) Stats(ctx context.Context, q StatsQuery) (Stats, error) {
	if q.Scope == "" {
		q.Scope = ScopeGlobal
	}
	if !q.Scope.IsValid() {
		return Stats{}, core.NewValidationError(nil, core.FieldError{Field: "scope", Error: "scope must be one of global, campus or class"})
	}
	q.ID = core.CleanString(q.ID)
	switch q.Scope {
	case ScopeGlobal:
		q.ID = ""
	case ScopeCampus, ScopeClass:
		if q.ID == "" {
			return Stats{}, core.NewValidationError(nil, core.FieldError{Field: "id", Error: "this field is required"})
		}
		if q.Scope == ScopeCampus {
			q.ID = strings.ToLower(q.ID)
		}
	}
	stats, err := svc.StatsRepo.ComplianceStats(ctx, q.Scope, q.ID)
	return stats, errors.Wrap(err, "computing compliance stats")
}

func (svc *service) decrypt(msg Message) (Message, error) {
	if !msg.Encrypted {
		return msg, nil
	}
	plaintext, err := svc.Cipher.Decrypt(msg.Content)
	if err != nil {
		return Message{}, errors.Wrap(err, "decrypting message content")
	}
	msg.Content = plaintext
	msg.Encrypted = false
	return msg, nil
}

func classifiedEntry(msg Message, ann privacy.Annotation) audit.NewEntry {
	p := ann.Profile
	return audit.NewEntry{
		MessageID: msg.ID,
		Action:    audit.ActionClassified,
		ActorID:   msg.Author.UserID,
		ActorRole: msg.Author.Role,
		Metadata: audit.ClassificationMetadata(audit.ClassificationMeta{
			Category:            p.Category,
			RiskLevel:           p.RiskLevel,
			IsEducationalRecord: p.IsEducationalRecord,
			EncryptionLevel:     p.EncryptionLevel,
			LegalBasis:          p.LegalBasis,
			FlaggedKeywords:     p.FlaggedKeywords,
			ModerationRequired:  p.ModerationRequired,
			RetentionTag:        string(ann.RetentionTag),
		}),
	}
}

func moderationReason(p classifier.Profile, wide bool) string {
	switch {
	case p.Category == classifier.CategorySafeguarding:
		return "safeguarding: " + strings.Join(p.FlaggedKeywords, ", ")
	case p.IsEducationalRecord && wide:
		return "educational record sent to a wide audience"
	}
	return "flagged by " + string(p.Category) + " rules"
}

var (
	msgTypeTag  = "msgtype"
	msgTypeText = "invalid message type"
)

// InitValidators registers the message validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(msgTypeTag, core.OneOfValidation(func(s string) bool { return Type(s).IsValid() }))
	core.RegisterCustomTranslation(validate, translator, msgTypeTag, msgTypeText)
}
