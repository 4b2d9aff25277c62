package boiledrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/moderation"
)

var moderationColumns = []string{"id", "message_id", "class_id", "status", "priority", "reason", "reviewer_id", "notes", "created_at", "updated_at"}

// most urgent first
const priorityOrder = `CASE "priority" WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'normal' THEN 2 ELSE 1 END DESC`

type moderationRow struct {
	ID         string      `boil:"id"`
	MessageID  string      `boil:"message_id"`
	ClassID    string      `boil:"class_id"`
	Status     string      `boil:"status"`
	Priority   string      `boil:"priority"`
	Reason     string      `boil:"reason"`
	ReviewerID null.String `boil:"reviewer_id"`
	Notes      string      `boil:"notes"`
	CreatedAt  time.Time   `boil:"created_at"`
	UpdatedAt  time.Time   `boil:"updated_at"`
}

func boilEntry(e moderation.Entry) *moderationRow {
	return &moderationRow{
		ID:         e.ID,
		MessageID:  e.MessageID,
		ClassID:    e.ClassID,
		Status:     string(e.Status),
		Priority:   string(e.Priority),
		Reason:     e.Reason,
		ReviewerID: null.NewString(e.ReviewerID, e.ReviewerID != ""),
		Notes:      e.Notes,
		CreatedAt:  e.CreatedAt.UTC(),
		UpdatedAt:  e.UpdatedAt.UTC(),
	}
}

func (r *moderationRow) values() []interface{} {
	return []interface{}{r.ID, r.MessageID, r.ClassID, r.Status, r.Priority, r.Reason, r.ReviewerID, r.Notes, r.CreatedAt, r.UpdatedAt}
}

func (r *moderationRow) unboil() moderation.Entry {
	return moderation.Entry{
		ID:         r.ID,
		MessageID:  r.MessageID,
		ClassID:    r.ClassID,
		Status:     moderation.Status(r.Status),
		Priority:   moderation.Priority(r.Priority),
		Reason:     r.Reason,
		ReviewerID: r.ReviewerID.String,
		Notes:      r.Notes,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

type moderationRepository struct {
	executor
}

var _ moderation.Repository = (*moderationRepository)(nil) // interface compliance check

func NewModerationRepository(exec core.DBExecutor) *moderationRepository {
	return &moderationRepository{executor{exec: exec}}
}

func (repo moderationRepository) CreateEntry(ctx context.Context, entry moderation.Entry, exec ...core.DBExecutor) (moderation.Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	r := boilEntry(entry)
	if err := insert(ctx, repo.getExec(exec), moderationTable, moderationColumns, r.values()...); err != nil {
		if isUniqueViolation(err) {
			return moderation.Entry{}, core.NewError(core.CodeValidation, "message already enqueued")
		}
		return moderation.Entry{}, errors.Wrap(err, "inserting moderation entry")
	}
	return r.unboil(), nil
}

// GetEntryByMessage takes a row lock when given an executor: the services only pass one within a transaction.
func (repo moderationRepository) GetEntryByMessage(ctx context.Context, messageID string, exec ...core.DBExecutor) (moderation.Entry, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return moderation.Entry{}, moderation.ErrNotFound
	}
	mods := []qm.QueryMod{qm.Where("message_id = ?", messageID)}
	if _, inTx := core.FirstExec(exec); inTx {
		mods = append(mods, qm.For("UPDATE"))
	}

	var r moderationRow
	if err := newQuery(moderationTable, mods...).Bind(ctx, repo.getExec(exec), &r); err != nil {
		return moderation.Entry{}, trapNoRowsErr(err, moderation.ErrNotFound, "finding moderation entry")
	}
	return r.unboil(), nil
}

func (repo moderationRepository) UpdateEntry(ctx context.Context, entry moderation.Entry, exec ...core.DBExecutor) (moderation.Entry, error) {
	r := boilEntry(entry)
	cols := []string{"status", "reviewer_id", "notes", "updated_at"}
	found, err := update(ctx, repo.getExec(exec), moderationTable, "id", r.ID, cols, r.Status, r.ReviewerID, r.Notes, r.UpdatedAt)
	if err != nil {
		return moderation.Entry{}, errors.Wrap(err, "updating moderation entry")
	}
	if !found {
		return moderation.Entry{}, moderation.ErrNotFound
	}
	return r.unboil(), nil
}

func (repo moderationRepository) QueryEntries(ctx context.Context, filter moderation.Filter, exec ...core.DBExecutor) ([]moderation.Entry, error) {
	mods := []qm.QueryMod{qm.OrderBy(priorityOrder + `, "created_at" ASC, "id" ASC`)}
	if filter.Status != "" {
		mods = append(mods, qm.Where("status = ?", string(filter.Status)))
	}
	if filter.Priority != "" {
		mods = append(mods, qm.Where("priority = ?", string(filter.Priority)))
	}
	if filter.ClassID != "" {
		if _, err := uuid.Parse(filter.ClassID); err != nil {
			return []moderation.Entry{}, nil
		}
		mods = append(mods, qm.Where("class_id = ?", filter.ClassID))
	}

	var rows []*moderationRow
	if err := newQuery(moderationTable, mods...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying moderation entries")
	}
	entries := make([]moderation.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.unboil())
	}
	return entries, nil
}
