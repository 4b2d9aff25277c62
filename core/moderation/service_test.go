package moderation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/audit"
	"github.com/trezcool/academia/core/classifier"
	"github.com/trezcool/academia/core/message"
	"github.com/trezcool/academia/core/moderation"
	"github.com/trezcool/academia/core/user"
	"github.com/trezcool/academia/services/email"
	"github.com/trezcool/academia/services/logger"
	"github.com/trezcool/academia/storage/database/dummy"
	"github.com/trezcool/academia/tests"
)

type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) Broadcast(ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		types = append(types, ev.Type)
	}
	return types
}

type failingAudit struct {
	audit.Service
}

func (failingAudit) Record(context.Context, audit.NewEntry, ...core.DBExecutor) (audit.Entry, error) {
	return audit.Entry{}, errors.New("disk full")
}

type fixture struct {
	db          *dummydb.DB
	svc         moderation.Service
	msgRepo     message.Repository
	auditSvc    audit.Service
	mailer      *emailsvc.ConsoleServiceMock
	broadcaster *recorder

	owner, admin, teacher user.User
}

func newFixture(t *testing.T, failAudit ...bool) *fixture {
	t.Helper()
	conf := core.NewTestConfig()
	logger := logsvc.NopLogger{}
	core.ParseEmailTemplates(logger, true /* strict */)

	db := dummydb.Open()
	usrRepo := dummydb.NewUserRepository(db)
	f := &fixture{
		db:          db,
		msgRepo:     dummydb.NewMessageRepository(db),
		auditSvc:    audit.NewService(dummydb.NewAuditRepository(db)),
		mailer:      emailsvc.NewConsoleServiceMock(conf, logger),
		broadcaster: new(recorder),
	}
	f.owner = testutil.CreateUser(t, usrRepo, "Owner", "owner", "owner@test.com", "", []string{user.RoleAdminOwner}, true)
	f.admin = testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.com", "", []string{user.RoleAdmin}, true)
	f.teacher = testutil.CreateUser(t, usrRepo, "Teacher", "teacher", "teacher@test.com", "", []string{user.RoleTeacher}, true)
	testutil.CreateUser(t, usrRepo, "Retired", "retired", "retired@test.com", "", []string{user.RoleAdminPrincipal}, false)

	auditSvc := f.auditSvc
	if len(failAudit) > 0 && failAudit[0] {
		auditSvc = failingAudit{f.auditSvc}
	}
	f.svc = moderation.NewService(
		dummydb.NewModerationRepository(db),
		db,
		f.msgRepo,
		auditSvc,
		user.NewService(usrRepo),
		f.mailer,
		f.broadcaster,
		logger,
	)
	return f
}

// flag stores a held message and enqueues it.
func (f *fixture) flag(t *testing.T, id string, risk classifier.RiskLevel) moderation.Entry {
	t.Helper()
	ctx := context.Background()
	_, err := f.msgRepo.CreateMessage(ctx, message.Message{
		ID:               id,
		ClassID:          "c1",
		Author:           f.teacher.Participant(),
		Type:             message.TypePrivate,
		Content:          "hello",
		ModerationStatus: moderation.StatusPending,
		Deliveries:       []message.Delivery{{RecipientID: "s1", Role: user.RoleStudent, Status: message.DeliveryHeld}},
		CreatedAt:        time.Now().UTC(),
	})
	require.NoError(t, err)

	entry, err := f.svc.Enqueue(ctx, moderation.NewEntry{MessageID: id, ClassID: "c1", RiskLevel: risk, Reason: "flagged"})
	require.NoError(t, err)
	return entry
}

func TestAction_Next(t *testing.T) {
	tests := []struct {
		action  moderation.Action
		from    moderation.Status
		want    moderation.Status
		wantErr bool
	}{
		{action: moderation.ActionReview, from: moderation.StatusPending, want: moderation.StatusInReview},
		{action: moderation.ActionApprove, from: moderation.StatusInReview, want: moderation.StatusApproved},
		{action: moderation.ActionBlock, from: moderation.StatusInReview, want: moderation.StatusBlocked},
		{action: moderation.ActionEscalate, from: moderation.StatusInReview, want: moderation.StatusEscalated},
		{action: moderation.ActionRestore, from: moderation.StatusEscalated, want: moderation.StatusInReview},
		{action: moderation.ActionApprove, from: moderation.StatusPending, wantErr: true},
		{action: moderation.ActionBlock, from: moderation.StatusPending, wantErr: true},
		{action: moderation.ActionReview, from: moderation.StatusInReview, wantErr: true},
		{action: moderation.ActionApprove, from: moderation.StatusApproved, wantErr: true},
		{action: moderation.ActionBlock, from: moderation.StatusApproved, wantErr: true},
		{action: moderation.ActionRestore, from: moderation.StatusBlocked, wantErr: true},
		{action: moderation.ActionEscalate, from: moderation.StatusEscalated, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.action)+" from "+string(tt.from), func(t *testing.T) {
			got, err := tt.action.Next(tt.from)
			if tt.wantErr {
				assert.Equal(t, core.CodeInvalidTransition, core.ErrorCodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, moderation.PriorityUrgent, moderation.PriorityFor(classifier.RiskCritical))
	assert.Equal(t, moderation.PriorityHigh, moderation.PriorityFor(classifier.RiskHigh))
	assert.Equal(t, moderation.PriorityNormal, moderation.PriorityFor(classifier.RiskMedium))
	assert.Equal(t, moderation.PriorityLow, moderation.PriorityFor(classifier.RiskLow))
}

func TestService_Enqueue(t *testing.T) {
	f := newFixture(t)
	entry := f.flag(t, "m1", classifier.RiskHigh)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, moderation.StatusPending, entry.Status)
	assert.Equal(t, moderation.PriorityHigh, entry.Priority)

	_, err := f.svc.Enqueue(context.Background(), moderation.NewEntry{MessageID: "m1", ClassID: "c1", RiskLevel: classifier.RiskHigh})
	assert.Error(t, err, "a message is enqueued once")
}

func TestService_Act(t *testing.T) {
	ctx := context.Background()

	t.Run("review then approve", func(t *testing.T) {
		f := newFixture(t)
		f.flag(t, "m1", classifier.RiskHigh)

		entry, err := f.svc.Act(ctx, f.admin, "m1", moderation.Decision{Action: moderation.ActionReview})
		require.NoError(t, err)
		assert.Equal(t, moderation.StatusInReview, entry.Status)

		entry, err = f.svc.Act(ctx, f.admin, "m1", moderation.Decision{Action: moderation.ActionApprove, Notes: "  fine  "})
		require.NoError(t, err)
		assert.Equal(t, moderation.StatusApproved, entry.Status)
		assert.Equal(t, f.admin.ID, entry.ReviewerID)
		assert.Equal(t, "fine", entry.Notes)

		msg, err := f.msgRepo.GetMessage(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, moderation.StatusApproved, msg.ModerationStatus)
		assert.Equal(t, message.DeliveryDelivered, msg.Deliveries[0].Status)

		entries, err := f.auditSvc.Query(ctx, audit.Filter{MessageID: "m1", Action: audit.ActionModerated})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		// newest first
		meta := entries[0].Metadata.Moderation
		require.NotNil(t, meta)
		assert.Equal(t, "approve", meta.Action)
		assert.Equal(t, "in_review", meta.FromStatus)
		assert.Equal(t, "approved", meta.ToStatus)
		assert.Equal(t, f.admin.ID, entries[0].ActorID)

		assert.Equal(t, []string{core.EventMessageReleased}, f.broadcaster.types())
		assert.ElementsMatch(t, []string{"s1", f.teacher.ID}, f.broadcaster.events[0].RecipientIDs, "only the participants are told")
	})

	t.Run("block withholds deliveries", func(t *testing.T) {
		f := newFixture(t)
		f.flag(t, "m1", classifier.RiskMedium)

		_, err := f.svc.Act(ctx, f.admin, "m1", moderation.Decision{Action: moderation.ActionReview})
		require.NoError(t, err)
		_, err = f.svc.Act(ctx, f.admin, "m1", moderation.Decision{Action: moderation.ActionBlock})
		require.NoError(t, err)

		msg, err := f.msgRepo.GetMessage(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, message.DeliveryWithheld, msg.Deliveries[0].Status)
		assert.Equal(t, []string{core.EventMessageBlocked}, f.broadcaster.types())
		assert.ElementsMatch(t, []string{"s1", f.teacher.ID}, f.broadcaster.events[0].RecipientIDs)

		_, err = f.svc.Act(ctx, f.owner, "m1", moderation.Decision{Action: moderation.ActionRestore})
		assert.Equal(t, core.CodeInvalidTransition, core.ErrorCodeOf(err), "blocked is terminal")
	})

	t.Run("pending cannot be decided directly", func(t *testing.T) {
		f := newFixture(t)
		f.flag(t, "m1", classifier.RiskHigh)

		_, err := f.svc.Act(ctx, f.admin, "m1", moderation.Decision{Action: moderation.ActionApprove})
		assert.Equal(t, core.CodeInvalidTransition, core.ErrorCodeOf(err))

		entries, err := f.auditSvc.Query(ctx, audit.Filter{MessageID: "m1"})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("moderators only", func(t *testing.T) {
		f := newFixture(t)
		f.flag(t, "m1", classifier.RiskHigh)

		_, err := f.svc.Act(ctx, f.teacher, "m1", moderation.Decision{Action: moderation.ActionReview})
		assert.Equal(t, moderation.ErrNotModerator, err)
	})

	t.Run("restore requires a senior admin", func(t *testing.T) {
		f := newFixture(t)
		f.flag(t, "m1", classifier.RiskHigh)

		_, err := f.svc.Act(ctx, f.admin, "m1", moderation.Decision{Action: moderation.ActionReview})
		require.NoError(t, err)
		entry, err := f.svc.Act(ctx, f.admin, "m1", moderation.Decision{Action: moderation.ActionEscalate})
		require.NoError(t, err)
		assert.Equal(t, moderation.StatusEscalated, entry.Status)

		_, err = f.svc.Act(ctx, f.admin, "m1", moderation.Decision{Action: moderation.ActionRestore})
		assert.Equal(t, moderation.ErrNotSeniorAdmin, err)

		entry, err = f.svc.Act(ctx, f.owner, "m1", moderation.Decision{Action: moderation.ActionRestore})
		require.NoError(t, err)
		assert.Equal(t, moderation.StatusInReview, entry.Status)
	})

	t.Run("invalid action", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Act(ctx, f.admin, "m1", moderation.Decision{Action: "delete"})
		assert.Equal(t, core.CodeValidation, core.ErrorCodeOf(err))
	})

	t.Run("unknown message", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Act(ctx, f.admin, "nope", moderation.Decision{Action: moderation.ActionReview})
		assert.Equal(t, moderation.ErrNotFound, err)
	})

	t.Run("audit failure rolls back", func(t *testing.T) {
		f := newFixture(t, true /* failAudit */)
		f.flag(t, "m1", classifier.RiskHigh)

		_, err := f.svc.Act(ctx, f.admin, "m1", moderation.Decision{Action: moderation.ActionReview})
		require.Error(t, err)

		entry, err := f.svc.GetByMessage(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, moderation.StatusPending, entry.Status)
		assert.Empty(t, entry.ReviewerID)

		msg, err := f.msgRepo.GetMessage(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, moderation.StatusPending, msg.ModerationStatus)
		assert.Equal(t, message.DeliveryHeld, msg.Deliveries[0].Status)
		assert.Empty(t, f.broadcaster.types())
	})
}

func TestService_Query(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.flag(t, "low", classifier.RiskLow)
	f.flag(t, "critical", classifier.RiskCritical)
	f.flag(t, "high", classifier.RiskHigh)

	entries, err := f.svc.Query(ctx, moderation.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "critical", entries[0].MessageID)
	assert.Equal(t, "high", entries[1].MessageID)
	assert.Equal(t, "low", entries[2].MessageID)

	entries, err = f.svc.Query(ctx, moderation.Filter{Priority: moderation.PriorityHigh})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "high", entries[0].MessageID)

	_, err = f.svc.Query(ctx, moderation.Filter{Status: "lost"})
	assert.Equal(t, core.CodeValidation, core.ErrorCodeOf(err))
}

func TestService_Notify(t *testing.T) {
	ctx := context.Background()

	t.Run("urgent entries alert active senior admins", func(t *testing.T) {
		f := newFixture(t)
		entry := f.flag(t, "m1", classifier.RiskCritical)
		f.svc.Notify(ctx, entry)

		sent := f.mailer.SentMessages()
		require.Len(t, sent, 1)
		msg := sent[0]
		require.Len(t, msg.To, 1)
		assert.Equal(t, "owner@test.com", msg.To[0].Address)
		assert.Equal(t, "Urgent message awaiting moderation", msg.Subject)
		assert.Contains(t, msg.TextContent, "m1")
		assert.Contains(t, msg.TextContent, "urgent")
		assert.Contains(t, msg.HTMLContent, "m1")
	})

	t.Run("escalation alerts", func(t *testing.T) {
		f := newFixture(t)
		f.flag(t, "m1", classifier.RiskLow)
		_, err := f.svc.Act(ctx, f.admin, "m1", moderation.Decision{Action: moderation.ActionReview})
		require.NoError(t, err)
		_, err = f.svc.Act(ctx, f.admin, "m1", moderation.Decision{Action: moderation.ActionEscalate})
		require.NoError(t, err)

		sent := f.mailer.SentMessages()
		require.Len(t, sent, 1)
		assert.Equal(t, "Message escalated for review", sent[0].Subject)
	})

	t.Run("other entries are silent", func(t *testing.T) {
		f := newFixture(t)
		entry := f.flag(t, "m1", classifier.RiskHigh)
		f.svc.Notify(ctx, entry)
		assert.Empty(t, f.mailer.SentMessages())
	})
}
