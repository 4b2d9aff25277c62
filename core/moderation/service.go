// Package moderation holds flagged messages until a moderator approves or blocks them.
package moderation

import (
	"context"
	"net/mail"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/audit"
	"github.com/trezcool/academia/core/user"
)

var (
	ErrNotFound       = core.NewError(core.CodeNotFound, "moderation entry not found")
	ErrNotModerator   = core.NewError(core.CodeForbidden, "only admins can moderate messages")
	ErrNotSeniorAdmin = core.NewError(core.CodeForbidden, "only a principal or an owner can restore an escalated message")
)

const alertTemplate = "moderation_alert"

type (
	Repository interface {
		CreateEntry(ctx context.Context, entry Entry, exec ...core.DBExecutor) (Entry, error)
		// GetEntryByMessage locks the entry for update when exec is a transaction.
		GetEntryByMessage(ctx context.Context, messageID string, exec ...core.DBExecutor) (Entry, error)
		UpdateEntry(ctx context.Context, entry Entry, exec ...core.DBExecutor) (Entry, error)
		// QueryEntries returns the matching entries, most urgent then oldest first.
		QueryEntries(ctx context.Context, filter Filter, exec ...core.DBExecutor) ([]Entry, error)
	}

	// MessageStore applies moderation outcomes to messages and their deliveries.
	MessageStore interface {
		SetModerationStatus(ctx context.Context, messageID string, status Status, exec ...core.DBExecutor) error
		// ParticipantIDs returns the ids of the author and the recipients of a message.
		ParticipantIDs(ctx context.Context, messageID string, exec ...core.DBExecutor) ([]string, error)
	}

	Service interface {
		// Enqueue creates the pending entry of a flagged message; pass exec to make it part of a transaction.
		Enqueue(ctx context.Context, ne NewEntry, exec ...core.DBExecutor) (Entry, error)
		// Act applies a moderator action. The entry, the message and the audit log are updated atomically.
		Act(ctx context.Context, actor user.User, messageID string, d Decision) (Entry, error)
		GetByMessage(ctx context.Context, messageID string) (Entry, error)
		Query(ctx context.Context, filter Filter) ([]Entry, error)
		// Notify alerts senior admins about urgent and escalated entries.
		Notify(ctx context.Context, entry Entry)
	}

	service struct {
		repo        Repository
		tx          core.Transactor
		messages    MessageStore
		auditSvc    audit.Service
		usrSvc      user.Service
		mailSvc     core.EmailService
		broadcaster core.Broadcaster
		logger      core.Logger
		nowFunc     func() time.Time
	}
)

func NewService(
	repo Repository,
	tx core.Transactor,
	messages MessageStore,
	auditSvc audit.Service,
	usrSvc user.Service,
	mailSvc core.EmailService,
	broadcaster core.Broadcaster,
	logger core.Logger,
) Service {
	return &service{
		repo:        repo,
		tx:          tx,
		messages:    messages,
		auditSvc:    auditSvc,
		usrSvc:      usrSvc,
		mailSvc:     mailSvc,
		broadcaster: broadcaster,
		logger:      logger,
		nowFunc:     time.Now,
	}
}

func (svc *service) Enqueue(ctx context.Context, ne NewEntry, exec ...core.DBExecutor) (Entry, error) {
	now := svc.nowFunc().UTC()
	entry, err := svc.repo.CreateEntry(ctx, Entry{
		ID:        uuid.New().String(),
		MessageID: ne.MessageID,
		ClassID:   ne.ClassID,
		Status:    StatusPending,
		Priority:  PriorityFor(ne.RiskLevel),
		Reason:    ne.Reason,
		CreatedAt: now,
		UpdatedAt: now,
	}, exec...)
	return entry, errors.Wrap(err, "enqueuing message")
}

func (svc *service) Act(ctx context.Context, actor user.User, messageID string, d Decision) (Entry, error) {
	if !d.Action.IsValid() {
		return Entry{}, core.NewValidationError(nil, core.FieldError{Field: "action", Error: "invalid moderation action"})
	}
	if !actor.IsAdmin() {
		return Entry{}, ErrNotModerator
	}
	if d.Action == ActionRestore && !actor.IsSeniorAdmin() {
		return Entry{}, ErrNotSeniorAdmin
	}

	var (
		entry        Entry
		from         Status
		participants []string
	)
	err := svc.tx.WithinTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if entry, err = svc.repo.GetEntryByMessage(ctx, messageID, exec); err != nil {
			return err
		}
		from = entry.Status
		to, err := d.Action.Next(from)
		if err != nil {
			return err
		}

		entry.Status = to
		entry.ReviewerID = actor.ID
		entry.Notes = core.CleanString(d.Notes)
		entry.UpdatedAt = svc.nowFunc().UTC()
		if entry, err = svc.repo.UpdateEntry(ctx, entry, exec); err != nil {
			return errors.Wrap(err, "updating moderation entry")
		}
		if err = svc.messages.SetModerationStatus(ctx, messageID, to, exec); err != nil {
			return errors.Wrap(err, "updating message moderation status")
		}
		if participants, err = svc.messages.ParticipantIDs(ctx, messageID, exec); err != nil {
			return errors.Wrap(err, "loading message participants")
		}

		part := actor.Participant()
		_, err = svc.auditSvc.Record(ctx, audit.NewEntry{
			MessageID: messageID,
			Action:    audit.ActionModerated,
			ActorID:   part.UserID,
			ActorRole: part.Role,
			Metadata: audit.ModerationMetadata(audit.ModerationMeta{
				Action:     string(d.Action),
				FromStatus: string(from),
				ToStatus:   string(to),
				Priority:   string(entry.Priority),
				Notes:      entry.Notes,
			}),
		}, exec)
		return err
	})
	if err != nil {
		return Entry{}, err
	}

	switch entry.Status {
	case StatusEscalated:
		svc.Notify(ctx, entry)
	case StatusApproved:
		svc.broadcaster.Broadcast(core.Event{
			Type:         core.EventMessageReleased,
			ClassID:      entry.ClassID,
			RecipientIDs: participants,
			Payload:      map[string]string{"message_id": entry.MessageID},
		})
	case StatusBlocked:
		svc.broadcaster.Broadcast(core.Event{
			Type:         core.EventMessageBlocked,
			ClassID:      entry.ClassID,
			RecipientIDs: participants,
			Payload:      map[string]string{"message_id": entry.MessageID},
		})
	}
	return entry, nil
}

func (svc *service) GetByMessage(ctx context.Context, messageID string) (Entry, error) {
	return svc.repo.GetEntryByMessage(ctx, messageID)
}

func (svc *service) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "status", Error: "invalid moderation status"})
	}
	if filter.Priority != "" && !filter.Priority.IsValid() {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "priority", Error: "invalid moderation priority"})
	}
	entries, err := svc.repo.QueryEntries(ctx, filter)
	return entries, errors.Wrap(err, "querying moderation entries")
}

func (svc *service) Notify(ctx context.Context, entry Entry) {
	if !(entry.Status == StatusEscalated || (entry.Status == StatusPending && entry.Priority == PriorityUrgent)) {
		return
	}

	admins, err := svc.usrSvc.SeniorAdmins(ctx)
	if err != nil {
		svc.logger.Error("moderation.Notify: querying senior admins", err)
		return
	}
	to := make([]mail.Address, 0, len(admins))
	for _, a := range admins {
		if a.Email != "" {
			to = append(to, mail.Address{Name: a.Name, Address: a.Email})
		}
	}
	if len(to) == 0 {
		svc.logger.Warn("moderation.Notify: no senior admin to alert", map[string]interface{}{"message_id": entry.MessageID})
		return
	}

	subject := "Urgent message awaiting moderation"
	if entry.Status == StatusEscalated {
		subject = "Message escalated for review"
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           to,
		Subject:      subject,
		TemplateName: alertTemplate,
		TemplateData: entry,
	})
}

var (
	modActionTag  = "modaction"
	modActionText = "invalid moderation action"
)

// InitValidators registers the moderation validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(modActionTag, core.OneOfValidation(func(s string) bool { return Action(s).IsValid() }))
	core.RegisterCustomTranslation(validate, translator, modActionTag, modActionText)
}
