package boiledrepos_test

import (
	"context"
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
	"github.com/trezcool/academia/storage/database"
	boiledrepos "github.com/trezcool/academia/storage/database/sqlboiler"
	testutil "github.com/trezcool/academia/tests"
)

func TestUserRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	ctx := context.Background()
	repo := boiledrepos.NewUserRepository(db)

	t0 := time.Now().UTC().Add(-time.Hour)
	owner := testutil.CreateUser(t, repo, "Owner", "owner", "owner@test.cd", "pwd", []string{user.RoleAdminOwner}, true, t0)
	tchr := testutil.CreateUser(t, repo, "Teacher", "teacher", "teacher@test.cd", "", []string{user.RoleTeacher}, true)

	_, err := repo.CreateUser(ctx, user.User{Name: "Dup", Username: "owner", CreatedAt: t0, UpdatedAt: t0})
	var verr *core.ValidationError
	assert.True(t, errors.As(err, &verr))

	err = repo.CheckUsernameUniqueness(ctx, "", "owner@test.cd", []user.User{tchr})
	assert.Equal(t, user.ErrEmailExists, errors.Cause(err))
	assert.NoError(t, repo.CheckUsernameUniqueness(ctx, "owner", "", []user.User{owner}))

	got, err := repo.GetUser(ctx, user.GetFilter{ID: owner.ID})
	require.NoError(t, err)
	assert.Equal(t, "owner@test.cd", got.Email)
	assert.NoError(t, got.CheckPassword("pwd"))

	users, err := repo.GetUsersByID(ctx, []string{tchr.ID, owner.ID, "bogus"})
	require.NoError(t, err)
	assert.Len(t, users, 2)

	n, err := repo.DeleteUsersByID(ctx, []string{tchr.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type fixture struct {
	ctx     context.Context
	tx      core.Transactor
	msgRepo message.Repository
	modRepo moderation.Repository
	audRepo audit.Repository
	tchr    user.User
	std     user.User
	classID string
}

func newFixture(t *testing.T) fixture {
	db := testutil.PrepareDB(t)
	usrRepo := boiledrepos.NewUserRepository(db)
	return fixture{
		ctx:     context.Background(),
		tx:      database.NewTransactor(db),
		msgRepo: boiledrepos.NewMessageRepository(db),
		modRepo: boiledrepos.NewModerationRepository(db),
		audRepo: boiledrepos.NewAuditRepository(db),
		tchr:    testutil.CreateUser(t, usrRepo, "Teacher", "teacher", "", "", []string{user.RoleTeacher}, true),
		std:     testutil.CreateUser(t, usrRepo, "Student", "student", "", "", []string{user.RoleStudent}, true),
		classID: testutil.CreateClass(t, boiledrepos.NewClassRepository(db), "North", "north").ID,
	}
}

func (f fixture) newMessage(status moderation.Status) message.Message {
	now := time.Now().UTC()
	p := classifier.DefaultProfile()
	if status != "" {
		p.Category = classifier.CategorySafeguarding
		p.RiskLevel = classifier.RiskCritical
		p.AuditRequired = true
		p.ModerationRequired = true
		p.FlaggedKeywords = []string{"self harm"}
	}
	return message.Message{
		ClassID:          f.classID,
		Author:           f.tchr.Participant(),
		Type:             message.TypePrivate,
		Content:          "hello",
		TaggedUserIDs:    []string{},
		Metadata:         []message.Metadata{{Kind: message.KindLink, Link: &message.LinkMeta{URL: "https://example.com"}}},
		Compliance:       p,
		RetentionTag:     "standard",
		ModerationStatus: status,
		Deliveries:       []message.Delivery{{RecipientID: f.std.ID, Role: user.RoleStudent, Status: message.DeliveryStatusFor(status), UpdatedAt: now}},
		CreatedAt:        now,
	}
}

func TestMessageRepository(t *testing.T) {
	f := newFixture(t)

	msg, err := f.msgRepo.CreateMessage(f.ctx, f.newMessage(""))
	require.NoError(t, err)
	reply := f.newMessage("")
	reply.ParentID, reply.ThreadID = msg.ID, msg.ID
	reply, err = f.msgRepo.CreateMessage(f.ctx, reply)
	require.NoError(t, err)

	got, err := f.msgRepo.GetMessage(f.ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Metadata, got.Metadata)
	assert.Equal(t, f.tchr.ID, got.Author.UserID)
	if assert.Len(t, got.Deliveries, 1) {
		assert.Equal(t, message.DeliveryDelivered, got.Deliveries[0].Status)
	}

	_, err = f.msgRepo.GetMessage(f.ctx, "bogus")
	assert.Equal(t, message.ErrNotFound, err)

	thread, err := f.msgRepo.QueryMessages(f.ctx, message.Filter{ThreadID: msg.ID})
	require.NoError(t, err)
	assert.Len(t, thread, 2)

	visible, err := f.msgRepo.QueryMessages(f.ctx, message.Filter{ClassID: f.classID, VisibleTo: f.std.ID})
	require.NoError(t, err)
	assert.Len(t, visible, 2)
}

func TestModerationFlow(t *testing.T) {
	f := newFixture(t)

	msg, err := f.msgRepo.CreateMessage(f.ctx, f.newMessage(moderation.StatusPending))
	require.NoError(t, err)
	now := time.Now().UTC()
	entry, err := f.modRepo.CreateEntry(f.ctx, moderation.Entry{
		MessageID: msg.ID, ClassID: f.classID, Status: moderation.StatusPending, Priority: moderation.PriorityUrgent,
		Reason: "safeguarding", CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	_, err = f.modRepo.CreateEntry(f.ctx, entry)
	assert.Equal(t, core.CodeValidation, core.ErrorCodeOf(err))

	err = f.tx.WithinTx(f.ctx, func(exec core.DBExecutor) error {
		e, err := f.modRepo.GetEntryByMessage(f.ctx, msg.ID, exec)
		if err != nil {
			return err
		}
		e.Status = moderation.StatusBlocked
		if _, err = f.modRepo.UpdateEntry(f.ctx, e, exec); err != nil {
			return err
		}
		return f.msgRepo.SetModerationStatus(f.ctx, msg.ID, moderation.StatusBlocked, exec)
	})
	require.NoError(t, err)

	got, err := f.msgRepo.GetMessage(f.ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, moderation.StatusBlocked, got.ModerationStatus)
	assert.Equal(t, message.DeliveryWithheld, got.Deliveries[0].Status)

	entries, err := f.modRepo.QueryEntries(f.ctx, moderation.Filter{Status: moderation.StatusBlocked})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAuditRepository(t *testing.T) {
	f := newFixture(t)
	msg, err := f.msgRepo.CreateMessage(f.ctx, f.newMessage(""))
	require.NoError(t, err)

	entry := audit.Entry{
		MessageID: msg.ID,
		Action:    audit.ActionModerated,
		ActorID:   f.tchr.ID,
		ActorRole: user.RoleTeacher,
		Timestamp: time.Now().UTC(),
		Metadata:  audit.ModerationMetadata(audit.ModerationMeta{Action: "review", FromStatus: "pending", ToStatus: "in_review", Priority: "low"}),
	}

	t.Run("rolled back with its transaction", func(t *testing.T) {
		err := f.tx.WithinTx(f.ctx, func(exec core.DBExecutor) error {
			if _, err := f.audRepo.CreateEntry(f.ctx, entry, exec); err != nil {
				return err
			}
			return errors.New("boom")
		})
		require.Error(t, err)
		entries, err := f.audRepo.QueryEntries(f.ctx, audit.Filter{MessageID: msg.ID})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("stored", func(t *testing.T) {
		_, err := f.audRepo.CreateEntry(f.ctx, entry)
		require.NoError(t, err)
		entries, err := f.audRepo.QueryEntries(f.ctx, audit.Filter{MessageID: msg.ID, Action: audit.ActionModerated})
		require.NoError(t, err)
		if assert.Len(t, entries, 1) {
			assert.Equal(t, entry.Metadata, entries[0].Metadata)
		}
	})
}
