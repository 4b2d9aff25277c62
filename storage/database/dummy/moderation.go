package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/moderation"
)

type moderationRepository struct {
	db *DB
}

var _ moderation.Repository = (*moderationRepository)(nil) // interface compliance check

func NewModerationRepository(db *DB) moderation.Repository {
	return &moderationRepository{db: db}
}

func (repo *moderationRepository) CreateEntry(ctx context.Context, entry moderation.Entry, exec ...core.DBExecutor) (moderation.Entry, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.moderation[entry.MessageID]; ok {
		return moderation.Entry{}, core.NewError(core.CodeValidation, "message already enqueued")
	}
	repo.db.moderation[entry.MessageID] = entry
	return entry, nil
}

func (repo *moderationRepository) GetEntryByMessage(ctx context.Context, messageID string, exec ...core.DBExecutor) (moderation.Entry, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if entry, ok := repo.db.moderation[messageID]; ok {
		return entry, nil
	}
	return moderation.Entry{}, moderation.ErrNotFound
}

func (repo *moderationRepository) UpdateEntry(ctx context.Context, entry moderation.Entry, exec ...core.DBExecutor) (moderation.Entry, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.moderation[entry.MessageID]; !ok {
		return moderation.Entry{}, moderation.ErrNotFound
	}
	repo.db.moderation[entry.MessageID] = entry
	return entry, nil
}

func (repo *moderationRepository) QueryEntries(ctx context.Context, filter moderation.Filter, exec ...core.DBExecutor) ([]moderation.Entry, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	entries := make([]moderation.Entry, 0)
	for _, entry := range repo.db.moderation {
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && entry.Priority != filter.Priority {
			continue
		}
		if filter.ClassID != "" && entry.ClassID != filter.ClassID {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return entries, nil
}
