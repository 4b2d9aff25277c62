package boiledrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"
	"github.com/volatiletech/sqlboiler/v4/types"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/audit"
)

var auditColumns = []string{"id", "message_id", "action", "actor_id", "actor_role", "timestamp", "metadata"}

type auditRow struct {
	ID        string     `boil:"id"`
	MessageID string     `boil:"message_id"`
	Action    string     `boil:"action"`
	ActorID   string     `boil:"actor_id"`
	ActorRole string     `boil:"actor_role"`
	Timestamp time.Time  `boil:"timestamp"`
	Metadata  types.JSON `boil:"metadata"`
}

// auditRepository only ever inserts: the audit_log table rejects updates and deletes.
type auditRepository struct {
	executor
}

var _ audit.Repository = (*auditRepository)(nil) // interface compliance check

func NewAuditRepository(exec core.DBExecutor) *auditRepository {
	return &auditRepository{executor{exec: exec}}
}

func (repo auditRepository) CreateEntry(ctx context.Context, entry audit.Entry, exec ...core.DBExecutor) (audit.Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	md, err := json.Marshal(entry.Metadata)
	if err != nil {
		return audit.Entry{}, errors.Wrap(err, "encoding audit metadata")
	}

	err = insert(ctx, repo.getExec(exec), auditTable, auditColumns,
		entry.ID, entry.MessageID, string(entry.Action), entry.ActorID, entry.ActorRole, entry.Timestamp, types.JSON(md))
	if err != nil {
		return audit.Entry{}, errors.Wrap(err, "inserting audit entry")
	}
	return entry, nil
}

func (repo auditRepository) QueryEntries(ctx context.Context, filter audit.Filter, exec ...core.DBExecutor) ([]audit.Entry, error) {
	mods := []qm.QueryMod{qm.OrderBy(`"timestamp" DESC, "id" DESC`)}
	if filter.MessageID != "" {
		if _, err := uuid.Parse(filter.MessageID); err != nil {
			return []audit.Entry{}, nil
		}
		mods = append(mods, qm.Where("message_id = ?", filter.MessageID))
	}
	if filter.ActorID != "" {
		mods = append(mods, qm.Where("actor_id = ?", filter.ActorID))
	}
	if filter.Action != "" {
		mods = append(mods, qm.Where("action = ?", string(filter.Action)))
	}
	if !filter.From.IsZero() {
		mods = append(mods, qm.Where(`"timestamp" >= ?`, filter.From.UTC()))
	}
	if !filter.To.IsZero() {
		mods = append(mods, qm.Where(`"timestamp" <= ?`, filter.To.UTC()))
	}

	var rows []*auditRow
	if err := newQuery(auditTable, mods...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying audit entries")
	}
	entries := make([]audit.Entry, 0, len(rows))
	for _, r := range rows {
		entry := audit.Entry{
			ID:        r.ID,
			MessageID: r.MessageID,
			Action:    audit.Action(r.Action),
			ActorID:   r.ActorID,
			ActorRole: r.ActorRole,
			Timestamp: r.Timestamp.UTC(),
		}
		// Metadata.UnmarshalJSON rejects malformed variants
		if err := r.Metadata.Unmarshal(&entry.Metadata); err != nil {
			return nil, errors.Wrapf(err, "decoding metadata of audit entry %s", r.ID)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
