package dummydb

import (
	"context"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/audit"
)

type auditRepository struct {
	db *DB
}

var _ audit.Repository = (*auditRepository)(nil) // interface compliance check

func NewAuditRepository(db *DB) audit.Repository {
	return &auditRepository{db: db}
}

func (repo *auditRepository) CreateEntry(ctx context.Context, entry audit.Entry, exec ...core.DBExecutor) (audit.Entry, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	repo.db.audit = append(repo.db.audit, entry)
	return entry, nil
}

func (repo *auditRepository) QueryEntries(ctx context.Context, filter audit.Filter, exec ...core.DBExecutor) ([]audit.Entry, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	entries := make([]audit.Entry, 0)
	// entries are appended in time order: walk backwards for newest first
	for i := len(repo.db.audit) - 1; i >= 0; i-- {
		entry := repo.db.audit[i]
		if filter.MessageID != "" && entry.MessageID != filter.MessageID {
			continue
		}
		if filter.ActorID != "" && entry.ActorID != filter.ActorID {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if !filter.From.IsZero() && entry.Timestamp.Before(filter.From.UTC()) {
			continue
		}
		if !filter.To.IsZero() && entry.Timestamp.After(filter.To.UTC()) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
