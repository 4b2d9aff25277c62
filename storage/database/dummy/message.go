package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/message"
	"github.com/trezcool/academia/core/moderation"
)

type messageRepository struct {
	db *DB
}

var (
	_ message.Repository      = (*messageRepository)(nil) // interface compliance check
	_ message.StatsRepository = (*messageRepository)(nil)
)

func NewMessageRepository(db *DB) *messageRepository {
	return &messageRepository{db: db}
}

func copyMessage(msg message.Message) message.Message {
	msg.TaggedUserIDs = copyStrings(msg.TaggedUserIDs)
	msg.Metadata = append([]message.Metadata(nil), msg.Metadata...)
	msg.Deliveries = append([]message.Delivery(nil), msg.Deliveries...)
	msg.Compliance.FlaggedKeywords = copyStrings(msg.Compliance.FlaggedKeywords)
	return msg
}

func (repo *messageRepository) CreateMessage(ctx context.Context, msg message.Message, exec ...core.DBExecutor) (message.Message, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	repo.db.messages[msg.ID] = copyMessage(msg)
	return msg, nil
}

func (repo *messageRepository) GetMessage(ctx context.Context, id string, exec ...core.DBExecutor) (message.Message, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if msg, ok := repo.db.messages[id]; ok {
		return copyMessage(msg), nil
	}
	return message.Message{}, message.ErrNotFound
}

func (repo *messageRepository) QueryMessages(ctx context.Context, filter message.Filter, exec ...core.DBExecutor) ([]message.Message, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	msgs := make([]message.Message, 0)
	for _, msg := range repo.db.messages {
		if filter.ClassID != "" && msg.ClassID != filter.ClassID {
			continue
		}
		if filter.ThreadID != "" && msg.ThreadID != filter.ThreadID && msg.ID != filter.ThreadID {
			continue
		}
		if filter.VisibleTo != "" && !involves(msg, filter.VisibleTo) {
			continue
		}
		msgs = append(msgs, copyMessage(msg))
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func involves(msg message.Message, userID string) bool {
	if msg.Author.UserID == userID {
		return true
	}
	for _, d := range msg.Deliveries {
		if d.RecipientID == userID {
			return true
		}
	}
	return false
}

func (repo *messageRepository) ParticipantIDs(ctx context.Context, id string, exec ...core.DBExecutor) ([]string, error) {
	msg, err := repo.GetMessage(ctx, id, exec...)
	if err != nil {
		return nil, err
	}
	return append(msg.RecipientIDs(), msg.Author.UserID), nil
}

func (repo *messageRepository) SetModerationStatus(ctx context.Context, id string, status moderation.Status, exec ...core.DBExecutor) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	msg, ok := repo.db.messages[id]
	if !ok {
		return message.ErrNotFound
	}
	now := time.Now().UTC()
	deliveryStatus := message.DeliveryStatusFor(status)
	deliveries := make([]message.Delivery, len(msg.Deliveries))
	for i, d := range msg.Deliveries {
		if d.Status != deliveryStatus {
			d.Status = deliveryStatus
			d.UpdatedAt = now
		}
		deliveries[i] = d
	}
	msg.Deliveries = deliveries
	msg.ModerationStatus = status
	repo.db.messages[id] = msg
	return nil
}

func (repo *messageRepository) ComplianceStats(ctx context.Context, scope message.Scope, id string) (message.Stats, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	stats := message.NewStats(scope, id)
	for _, msg := range repo.db.messages {
		switch scope {
		case message.ScopeClass:
			if msg.ClassID != id {
				continue
			}
		case message.ScopeCampus:
			if cls, ok := repo.db.classes[msg.ClassID]; !ok || cls.CampusID != id {
				continue
			}
		}
		stats.Total++
		stats.ByRiskLevel[msg.Compliance.RiskLevel]++
		if msg.Compliance.IsEducationalRecord {
			stats.EducationalRecords++
		}
		if msg.Compliance.AuditRequired {
			stats.Audited++
		}
	}
	return stats, nil
}
