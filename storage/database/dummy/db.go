// Package dummydb is an in-memory storage used by tests and by the API in test mode.
package dummydb

import (
	"context"
	"sync"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/audit"
	"github.com/trezcool/academia/core/classroom"
	"github.com/trezcool/academia/core/message"
	"github.com/trezcool/academia/core/moderation"
	"github.com/trezcool/academia/core/privacy"
	"github.com/trezcool/academia/core/user"
)

type (
	DB struct {
		mu   sync.RWMutex
		txMu sync.Mutex

		users      map[string]user.User
		classes    map[string]classroom.Class
		messages   map[string]message.Message
		moderation map[string]moderation.Entry // by message ID
		audit      []audit.Entry
		consents   map[consentKey]privacy.Consent
	}

	consentKey struct {
		userID  string
		purpose privacy.Purpose
	}

	snapshot struct {
		users      map[string]user.User
		classes    map[string]classroom.Class
		messages   map[string]message.Message
		moderation map[string]moderation.Entry
		audit      []audit.Entry
		consents   map[consentKey]privacy.Consent
	}
)

var _ core.Transactor = (*DB)(nil) // interface compliance check

func Open() *DB {
	return &DB{
		users:      make(map[string]user.User),
		classes:    make(map[string]classroom.Class),
		messages:   make(map[string]message.Message),
		moderation: make(map[string]moderation.Entry),
		consents:   make(map[consentKey]privacy.Consent),
	}
}

// WithinTx runs transactions one at a time and restores every table if fn fails.
// Repositories ignore the executor they are given, so writes made outside of fn while it runs
// are lost on rollback.
func (db *DB) WithinTx(ctx context.Context, fn func(exec core.DBExecutor) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snap := db.snapshot()
	if err := fn(nil); err != nil {
		db.restore(snap)
		return err
	}
	return nil
}

// Stored values are never mutated in place, copying the maps is enough.
func (db *DB) snapshot() snapshot {
	db.mu.RLock()
	defer db.mu.RUnlock()

	snap := snapshot{
		users:      make(map[string]user.User, len(db.users)),
		classes:    make(map[string]classroom.Class, len(db.classes)),
		messages:   make(map[string]message.Message, len(db.messages)),
		moderation: make(map[string]moderation.Entry, len(db.moderation)),
		audit:      append([]audit.Entry(nil), db.audit...),
		consents:   make(map[consentKey]privacy.Consent, len(db.consents)),
	}
	for k, v := range db.users {
		snap.users[k] = v
	}
	for k, v := range db.classes {
		snap.classes[k] = v
	}
	for k, v := range db.messages {
		snap.messages[k] = v
	}
	for k, v := range db.moderation {
		snap.moderation[k] = v
	}
	for k, v := range db.consents {
		snap.consents[k] = v
	}
	return snap
}

func (db *DB) restore(snap snapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.users = snap.users
	db.classes = snap.classes
	db.messages = snap.messages
	db.moderation = snap.moderation
	db.audit = snap.audit
	db.consents = snap.consents
}

func copyStrings(ss []string) []string {
	if ss == nil {
		return nil
	}
	return append([]string{}, ss...)
}
