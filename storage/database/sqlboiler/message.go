package boiledrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"
	"github.com/volatiletech/sqlboiler/v4/types"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/classifier"
	"github.com/trezcool/academia/core/message"
	"github.com/trezcool/academia/core/moderation"
	"github.com/trezcool/academia/core/user"
)

var (
	messageColumns = []string{
		"id", "class_id", "author_id", "author_role", "type", "content", "encrypted", "thread_id", "parent_id",
		"tagged_user_ids", "metadata", "content_category", "risk_level", "is_educational_record", "encryption_level",
		"audit_required", "legal_basis", "flagged_keywords", "moderation_required", "retention_tag", "moderation_status",
		"created_at",
	}
	recipientColumns = []string{"message_id", "recipient_id", "role", "status", "updated_at"}
)

type messageRow struct {
	ID                  string            `boil:"id"`
	ClassID             string            `boil:"class_id"`
	AuthorID            string            `boil:"author_id"`
	AuthorRole          string            `boil:"author_role"`
	Type                string            `boil:"type"`
	Content             string            `boil:"content"`
	Encrypted           bool              `boil:"encrypted"`
	ThreadID            null.String       `boil:"thread_id"`
	ParentID            null.String       `boil:"parent_id"`
	TaggedUserIDs       types.StringArray `boil:"tagged_user_ids"`
	Metadata            types.JSON        `boil:"metadata"`
	ContentCategory     string            `boil:"content_category"`
	RiskLevel           string            `boil:"risk_level"`
	IsEducationalRecord bool              `boil:"is_educational_record"`
	EncryptionLevel     string            `boil:"encryption_level"`
	AuditRequired       bool              `boil:"audit_required"`
	LegalBasis          string            `boil:"legal_basis"`
	FlaggedKeywords     types.StringArray `boil:"flagged_keywords"`
	ModerationRequired  bool              `boil:"moderation_required"`
	RetentionTag        string            `boil:"retention_tag"`
	ModerationStatus    null.String       `boil:"moderation_status"`
	CreatedAt           time.Time         `boil:"created_at"`
}

func (r *messageRow) values() []interface{} {
	return []interface{}{
		r.ID, r.ClassID, r.AuthorID, r.AuthorRole, r.Type, r.Content, r.Encrypted, r.ThreadID, r.ParentID,
		r.TaggedUserIDs, r.Metadata, r.ContentCategory, r.RiskLevel, r.IsEducationalRecord, r.EncryptionLevel,
		r.AuditRequired, r.LegalBasis, r.FlaggedKeywords, r.ModerationRequired, r.RetentionTag, r.ModerationStatus,
		r.CreatedAt,
	}
}

type recipientRow struct {
	MessageID   string    `boil:"message_id"`
	RecipientID string    `boil:"recipient_id"`
	Role        string    `boil:"role"`
	Status      string    `boil:"status"`
	UpdatedAt   time.Time `boil:"updated_at"`
}

type messageRepository struct {
	executor
}

var _ message.Repository = (*messageRepository)(nil) // interface compliance check

func NewMessageRepository(exec core.DBExecutor) *messageRepository {
	return &messageRepository{executor{exec: exec}}
}

func (repo messageRepository) boil(msg message.Message) (*messageRow, error) {
	md := msg.Metadata
	if md == nil {
		md = []message.Metadata{}
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return nil, errors.Wrap(err, "encoding message metadata")
	}
	tagged := msg.TaggedUserIDs
	if tagged == nil {
		tagged = []string{}
	}
	kws := msg.Compliance.FlaggedKeywords
	if kws == nil {
		kws = []string{}
	}

	p := msg.Compliance
	return &messageRow{
		ID:                  msg.ID,
		ClassID:             msg.ClassID,
		AuthorID:            msg.Author.UserID,
		AuthorRole:          msg.Author.Role,
		Type:                string(msg.Type),
		Content:             msg.Content,
		Encrypted:           msg.Encrypted,
		ThreadID:            null.NewString(msg.ThreadID, msg.ThreadID != ""),
		ParentID:            null.NewString(msg.ParentID, msg.ParentID != ""),
		TaggedUserIDs:       tagged,
		Metadata:            mdJSON,
		ContentCategory:     string(p.Category),
		RiskLevel:           string(p.RiskLevel),
		IsEducationalRecord: p.IsEducationalRecord,
		EncryptionLevel:     string(p.EncryptionLevel),
		AuditRequired:       p.AuditRequired,
		LegalBasis:          string(p.LegalBasis),
		FlaggedKeywords:     kws,
		ModerationRequired:  p.ModerationRequired,
		RetentionTag:        msg.RetentionTag,
		ModerationStatus:    null.NewString(string(msg.ModerationStatus), msg.ModerationStatus != ""),
		CreatedAt:           msg.CreatedAt.UTC(),
	}, nil
}

func (repo messageRepository) unboil(r *messageRow, recipients []recipientRow) (message.Message, error) {
	msg := message.Message{
		ID:            r.ID,
		ClassID:       r.ClassID,
		Author:        user.Participant{UserID: r.AuthorID, Role: r.AuthorRole},
		Type:          message.Type(r.Type),
		Content:       r.Content,
		Encrypted:     r.Encrypted,
		ThreadID:      r.ThreadID.String,
		ParentID:      r.ParentID.String,
		TaggedUserIDs: r.TaggedUserIDs,
		Compliance: classifier.Profile{
			Category:            classifier.Category(r.ContentCategory),
			RiskLevel:           classifier.RiskLevel(r.RiskLevel),
			IsEducationalRecord: r.IsEducationalRecord,
			EncryptionLevel:     classifier.EncryptionLevel(r.EncryptionLevel),
			AuditRequired:       r.AuditRequired,
			LegalBasis:          classifier.LegalBasis(r.LegalBasis),
			FlaggedKeywords:     r.FlaggedKeywords,
			ModerationRequired:  r.ModerationRequired,
		},
		RetentionTag:     r.RetentionTag,
		ModerationStatus: moderation.Status(r.ModerationStatus.String),
		CreatedAt:        r.CreatedAt.UTC(),
		Deliveries:       make([]message.Delivery, 0, len(recipients)),
	}
	if err := msg.Compliance.Validate(); err != nil {
		return message.Message{}, errors.Wrapf(err, "message %s", r.ID)
	}
	if err := r.Metadata.Unmarshal(&msg.Metadata); err != nil {
		return message.Message{}, errors.Wrapf(err, "decoding metadata of message %s", r.ID)
	}
	for _, rr := range recipients {
		msg.Deliveries = append(msg.Deliveries, message.Delivery{
			RecipientID: rr.RecipientID,
			Role:        rr.Role,
			Status:      message.DeliveryStatus(rr.Status),
			UpdatedAt:   rr.UpdatedAt.UTC(),
		})
	}
	return msg, nil
}

func (repo messageRepository) CreateMessage(ctx context.Context, msg message.Message, exec ...core.DBExecutor) (message.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	r, err := repo.boil(msg)
	if err != nil {
		return message.Message{}, err
	}
	exe := repo.getExec(exec)
	if err = insert(ctx, exe, messageTable, messageColumns, r.values()...); err != nil {
		return message.Message{}, errors.Wrap(err, "inserting message")
	}
	for _, d := range msg.Deliveries {
		err = insert(ctx, exe, recipientTable, recipientColumns, msg.ID, d.RecipientID, d.Role, string(d.Status), d.UpdatedAt.UTC())
		if err != nil {
			return message.Message{}, errors.Wrap(err, "inserting message recipient")
		}
	}
	return msg, nil
}

func (repo messageRepository) GetMessage(ctx context.Context, id string, exec ...core.DBExecutor) (message.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return message.Message{}, message.ErrNotFound
	}
	exe := repo.getExec(exec)

	var r messageRow
	if err := newQuery(messageTable, qm.Where("id = ?", id)).Bind(ctx, exe, &r); err != nil {
		return message.Message{}, trapNoRowsErr(err, message.ErrNotFound, "finding message")
	}
	recipients, err := repo.recipients(ctx, exe, []string{id})
	if err != nil {
		return message.Message{}, err
	}
	return repo.unboil(&r, recipients[id])
}

func (repo messageRepository) QueryMessages(ctx context.Context, filter message.Filter, exec ...core.DBExecutor) ([]message.Message, error) {
	mods := []qm.QueryMod{qm.OrderBy("created_at ASC, id ASC")}
	if filter.ClassID != "" {
		if _, err := uuid.Parse(filter.ClassID); err != nil {
			return []message.Message{}, nil
		}
		mods = append(mods, qm.Where("class_id = ?", filter.ClassID))
	}
	if filter.ThreadID != "" {
		if _, err := uuid.Parse(filter.ThreadID); err != nil {
			return []message.Message{}, nil
		}
		mods = append(mods, qm.Expr(qm.Where("thread_id = ?", filter.ThreadID), qm.Or("id = ?", filter.ThreadID)))
	}
	if filter.VisibleTo != "" {
		if _, err := uuid.Parse(filter.VisibleTo); err != nil {
			return []message.Message{}, nil
		}
		mods = append(mods, qm.Expr(
			qm.Where("author_id = ?", filter.VisibleTo),
			qm.Or(`id IN (SELECT message_id FROM "message_recipient" WHERE recipient_id = ?)`, filter.VisibleTo),
		))
	}

	exe := repo.getExec(exec)
	var rows []*messageRow
	if err := newQuery(messageTable, mods...).Bind(ctx, exe, &rows); err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	recipients, err := repo.recipients(ctx, exe, ids)
	if err != nil {
		return nil, err
	}

	msgs := make([]message.Message, 0, len(rows))
	for _, r := range rows {
		msg, err := repo.unboil(r, recipients[r.ID])
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// recipients returns the recipients of messages by message ID.
func (repo messageRepository) recipients(ctx context.Context, exec core.DBExecutor, messageIDs []string) (map[string][]recipientRow, error) {
	byMessage := make(map[string][]recipientRow, len(messageIDs))
	if len(messageIDs) == 0 {
		return byMessage, nil
	}
	var rows []recipientRow
	q := newQuery(recipientTable, whereIn("message_id", messageIDs), qm.OrderBy("message_id, recipient_id"))
	if err := q.Bind(ctx, exec, &rows); err != nil {
		return nil, errors.Wrap(err, "querying message recipients")
	}
	for _, r := range rows {
		byMessage[r.MessageID] = append(byMessage[r.MessageID], r)
	}
	return byMessage, nil
}

func (repo messageRepository) ParticipantIDs(ctx context.Context, id string, exec ...core.DBExecutor) ([]string, error) {
	msg, err := repo.GetMessage(ctx, id, exec...)
	if err != nil {
		return nil, err
	}
	return append(msg.RecipientIDs(), msg.Author.UserID), nil
}

func (repo messageRepository) SetModerationStatus(ctx context.Context, id string, status moderation.Status, exec ...core.DBExecutor) error {
	if _, err := uuid.Parse(id); err != nil {
		return message.ErrNotFound
	}
	exe := repo.getExec(exec)

	found, err := update(ctx, exe, messageTable, "id", id, []string{"moderation_status"}, null.NewString(string(status), status != ""))
	if err != nil {
		return errors.Wrap(err, "updating message moderation status")
	}
	if !found {
		return message.ErrNotFound
	}

	deliveryStatus := string(message.DeliveryStatusFor(status))
	_, err = queries.Raw(
		`UPDATE "message_recipient" SET "status" = $1, "updated_at" = $2 WHERE "message_id" = $3 AND "status" <> $1`,
		deliveryStatus, time.Now().UTC(), id,
	).ExecContext(ctx, exe)
	return errors.Wrap(err, "updating message deliveries")
}
