// Package audit is the append-only log of compliance events.
// Entries are never updated nor deleted.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

type (
	Repository interface {
		CreateEntry(ctx context.Context, entry Entry, exec ...core.DBExecutor) (Entry, error)
		// QueryEntries returns the entries matching filter, newest first.
		QueryEntries(ctx context.Context, filter Filter, exec ...core.DBExecutor) ([]Entry, error)
	}

	Service interface {
		// Record appends an entry; pass exec to make it part of a transaction.
		Record(ctx context.Context, ne NewEntry, exec ...core.DBExecutor) (Entry, error)
		Query(ctx context.Context, filter Filter) ([]Entry, error)
	}

	service struct {
		repo    Repository
		nowFunc func() time.Time
	}
)

func NewService(repo Repository) Service {
	return &service{repo: repo, nowFunc: time.Now}
}

func (svc *service) Record(ctx context.Context, ne NewEntry, exec ...core.DBExecutor) (Entry, error) {
	if ne.MessageID == "" {
		return Entry{}, core.NewValidationError(nil, core.FieldError{Field: "message_id", Error: "this field is required"})
	}
	kind, err := ne.Action.metadataKind()
	if err != nil {
		return Entry{}, core.NewValidationError(err, core.FieldError{Field: "action", Error: err.Error()})
	}
	if ne.Metadata.Kind != kind {
		err = errors.Errorf("action %q cannot carry %q metadata", ne.Action, ne.Metadata.Kind)
		return Entry{}, core.NewValidationError(err, core.FieldError{Field: "metadata", Error: err.Error()})
	}
	if err = ne.Metadata.Validate(); err != nil {
		return Entry{}, core.NewValidationError(err, core.FieldError{Field: "metadata", Error: err.Error()})
	}

	entry, err := svc.repo.CreateEntry(ctx, Entry{
		ID:        uuid.New().String(),
		MessageID: ne.MessageID,
		Action:    ne.Action,
		ActorID:   ne.ActorID,
		ActorRole: ne.ActorRole,
		Timestamp: svc.nowFunc().UTC(),
		Metadata:  ne.Metadata,
	}, exec...)
	return entry, errors.Wrap(err, "recording audit entry")
}

func (svc *service) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Action != "" && !filter.Action.IsValid() {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "action", Error: "invalid audit action"})
	}
	entries, err := svc.repo.QueryEntries(ctx, filter)
	return entries, errors.Wrap(err, "querying audit entries")
}
