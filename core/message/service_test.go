package message_test

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
	"github.com/trezcool/academia/core/classroom"
	"github.com/trezcool/academia/core/message"
	"github.com/trezcool/academia/core/moderation"
	"github.com/trezcool/academia/core/privacy"
	"github.com/trezcool/academia/core/user"
	"github.com/trezcool/academia/services/crypto"
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

func (r *recorder) all() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}

type failingAudit struct {
	audit.Service
}

func (failingAudit) Record(context.Context, audit.NewEntry, ...core.DBExecutor) (audit.Entry, error) {
	return audit.Entry{}, errors.New("disk full")
}

type fixture struct {
	svc         message.Service
	msgRepo     message.Repository
	auditSvc    audit.Service
	modSvc      moderation.Service
	consents    privacy.ConsentService
	mailer      *emailsvc.ConsoleServiceMock
	broadcaster *recorder

	class, otherClass                         classroom.Class
	owner, teacher, student, parent, inactive user.User
}

func newFixture(t *testing.T, failAudit ...bool) *fixture {
	t.Helper()
	conf := core.NewTestConfig()
	logger := logsvc.NopLogger{}
	core.ParseEmailTemplates(logger, true /* strict */)

	rules, err := classifier.DefaultRules()
	require.NoError(t, err)
	clf, err := classifier.New(rules, classifier.NewLRUCache(64, time.Minute), conf.Compliance.FuzzyRatio)
	require.NoError(t, err)
	key, err := cryptosvc.GenerateKey()
	require.NoError(t, err)
	conf.Compliance.EncryptionKey = key
	cipher, err := cryptosvc.NewCipherFromConfig(conf)
	require.NoError(t, err)

	db := dummydb.Open()
	usrRepo := dummydb.NewUserRepository(db)
	clsRepo := dummydb.NewClassRepository(db)
	msgRepo := dummydb.NewMessageRepository(db)

	f := &fixture{
		msgRepo:     msgRepo,
		auditSvc:    audit.NewService(dummydb.NewAuditRepository(db)),
		consents:    privacy.NewConsentService(dummydb.NewConsentRepository(db)),
		mailer:      emailsvc.NewConsoleServiceMock(conf, logger),
		broadcaster: new(recorder),
	}
	auditSvc := f.auditSvc
	if len(failAudit) > 0 && failAudit[0] {
		auditSvc = failingAudit{f.auditSvc}
	}
	usrSvc := user.NewService(usrRepo)
	f.modSvc = moderation.NewService(
		dummydb.NewModerationRepository(db), db, msgRepo, auditSvc, usrSvc, f.mailer, f.broadcaster, logger,
	)
	f.svc = message.NewService(message.Deps{
		Repo:        msgRepo,
		StatsRepo:   msgRepo,
		Tx:          db,
		Cipher:      cipher,
		Classifier:  clf,
		Annotator:   privacy.NewAnnotator(f.consents, auditSvc),
		Moderation:  f.modSvc,
		Audit:       auditSvc,
		Users:       usrSvc,
		Classes:     classroom.NewService(clsRepo),
		Broadcaster: f.broadcaster,
	})

	f.class = testutil.CreateClass(t, clsRepo, "Grade 5 Maths", "north")
	f.otherClass = testutil.CreateClass(t, clsRepo, "Grade 6 Science", "south")
	f.owner = testutil.CreateUser(t, usrRepo, "Owner", "owner", "owner@test.com", "", []string{user.RoleAdminOwner}, true)
	f.teacher = testutil.CreateUser(t, usrRepo, "Teacher", "teacher", "teacher@test.com", "", []string{user.RoleTeacher}, true)
	f.student = testutil.CreateUser(t, usrRepo, "Student", "student", "student@test.com", "", []string{user.RoleStudent}, true)
	f.parent = testutil.CreateUser(t, usrRepo, "Parent", "parent", "parent@test.com", "", []string{user.RoleParent}, true)
	f.inactive = testutil.CreateUser(t, usrRepo, "Gone", "gone", "gone@test.com", "", []string{user.RoleStudent}, false)
	return f
}

func (f *fixture) send(t *testing.T, author user.User, typ message.Type, content string, to ...user.User) message.Message {
	t.Helper()
	nm := message.NewMessage{ClassID: f.class.ID, Type: typ, Content: content}
	for _, u := range to {
		nm.RecipientIDs = append(nm.RecipientIDs, u.ID)
	}
	msg, err := f.svc.Create(context.Background(), author, nm)
	require.NoError(t, err)
	return msg
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("general message is delivered", func(t *testing.T) {
		f := newFixture(t)
		msg := f.send(t, f.teacher, message.TypePrivate, "See you tomorrow", f.student)

		assert.Equal(t, classifier.CategoryGeneral, msg.Compliance.Category)
		assert.Equal(t, classifier.RiskLow, msg.Compliance.RiskLevel)
		assert.Equal(t, string(privacy.RetentionStandard), msg.RetentionTag)
		assert.Empty(t, msg.ModerationStatus)
		require.Len(t, msg.Deliveries, 1)
		assert.Equal(t, f.student.ID, msg.Deliveries[0].RecipientID)
		assert.Equal(t, user.RoleStudent, msg.Deliveries[0].Role)
		assert.Equal(t, message.DeliveryDelivered, msg.Deliveries[0].Status)

		stored, err := f.msgRepo.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.False(t, stored.Encrypted)
		assert.Equal(t, "See you tomorrow", stored.Content)

		entries, err := f.auditSvc.Query(ctx, audit.Filter{MessageID: msg.ID})
		require.NoError(t, err)
		assert.Empty(t, entries)

		events := f.broadcaster.all()
		require.Len(t, events, 1)
		assert.Equal(t, core.EventMessageCreated, events[0].Type)
		assert.Equal(t, f.class.ID, events[0].ClassID)
		assert.ElementsMatch(t, []string{f.student.ID, f.teacher.ID}, events[0].RecipientIDs)
	})

	t.Run("grade disclosure is encrypted and audited", func(t *testing.T) {
		f := newFixture(t)
		msg := f.send(t, f.teacher, message.TypePrivate, "Your grade for the exam is 85/100", f.student)

		p := msg.Compliance
		assert.True(t, p.IsEducationalRecord)
		assert.True(t, p.AuditRequired)
		assert.Equal(t, classifier.LegalBasisLegitimateInterest, p.LegalBasis)
		assert.Equal(t, classifier.EncryptionEnhanced, p.EncryptionLevel)
		assert.Equal(t, string(privacy.RetentionEducationalRecord), msg.RetentionTag)
		assert.Equal(t, "Your grade for the exam is 85/100", msg.Content)

		stored, err := f.msgRepo.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.True(t, stored.Encrypted)
		assert.NotContains(t, stored.Content, "85/100")

		got, err := f.svc.Get(ctx, f.student, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, msg.Content, got.Content)

		entries, err := f.auditSvc.Query(ctx, audit.Filter{MessageID: msg.ID})
		require.NoError(t, err)
		actions := make([]audit.Action, 0, len(entries))
		for _, e := range entries {
			actions = append(actions, e.Action)
		}
		assert.ElementsMatch(t, []audit.Action{audit.ActionClassified, audit.ActionDisclosed}, actions)
	})

	t.Run("consent overrides legitimate interest", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.consents.Grant(ctx, f.student.ID, privacy.PurposeEducationalRecords)
		require.NoError(t, err)

		msg := f.send(t, f.teacher, message.TypePrivate, "Your grade for the exam is 85/100", f.student)
		assert.Equal(t, classifier.LegalBasisConsent, msg.Compliance.LegalBasis)
	})

	t.Run("safeguarding message is held", func(t *testing.T) {
		f := newFixture(t)
		msg := f.send(t, f.student, message.TypePrivate, "I want to kill myself", f.teacher)

		p := msg.Compliance
		assert.Equal(t, classifier.CategorySafeguarding, p.Category)
		assert.Equal(t, classifier.RiskCritical, p.RiskLevel)
		assert.Equal(t, classifier.EncryptionMaximum, p.EncryptionLevel)
		assert.True(t, p.AuditRequired)
		assert.True(t, p.ModerationRequired)
		assert.Equal(t, string(privacy.RetentionSafeguarding), msg.RetentionTag)
		assert.Equal(t, moderation.StatusPending, msg.ModerationStatus)
		assert.Equal(t, message.DeliveryHeld, msg.Deliveries[0].Status)

		entry, err := f.modSvc.GetByMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, moderation.StatusPending, entry.Status)
		assert.Equal(t, moderation.PriorityUrgent, entry.Priority)
		assert.Contains(t, entry.Reason, "safeguarding")

		// the recipient waits for moderation, the author does not
		_, err = f.svc.Get(ctx, f.teacher, msg.ID)
		assert.Equal(t, message.ErrNotFound, err)
		_, err = f.svc.Get(ctx, f.student, msg.ID)
		assert.NoError(t, err)

		sent := f.mailer.SentMessages()
		require.Len(t, sent, 1)
		assert.Equal(t, "owner@test.com", sent[0].To[0].Address)
		assert.Empty(t, f.broadcaster.all())
	})

	t.Run("educational record to a wide audience is held", func(t *testing.T) {
		f := newFixture(t)
		msg := f.send(t, f.teacher, message.TypeGroup, "Your grade for the exam is 85/100", f.student, f.parent)

		assert.True(t, msg.Compliance.IsEducationalRecord)
		assert.True(t, msg.Compliance.ModerationRequired)
		assert.Equal(t, moderation.StatusPending, msg.ModerationStatus)

		entry, err := f.modSvc.GetByMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "educational record sent to a wide audience", entry.Reason)
	})

	t.Run("approval releases the message", func(t *testing.T) {
		f := newFixture(t)
		msg := f.send(t, f.student, message.TypePrivate, "I want to kill myself", f.teacher)

		_, err := f.modSvc.Act(ctx, f.owner, msg.ID, moderation.Decision{Action: moderation.ActionReview})
		require.NoError(t, err)
		_, err = f.modSvc.Act(ctx, f.owner, msg.ID, moderation.Decision{Action: moderation.ActionApprove})
		require.NoError(t, err)

		got, err := f.svc.Get(ctx, f.teacher, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "I want to kill myself", got.Content)
		assert.Equal(t, moderation.StatusApproved, got.ModerationStatus)
	})

	t.Run("audit failure persists nothing", func(t *testing.T) {
		f := newFixture(t, true /* failAudit */)
		_, err := f.svc.Create(ctx, f.student, message.NewMessage{
			ClassID: f.class.ID, Type: message.TypePrivate, Content: "I want to kill myself", RecipientIDs: []string{f.teacher.ID},
		})
		require.Error(t, err)

		msgs, err := f.svc.Query(ctx, f.owner, message.Filter{})
		require.NoError(t, err)
		assert.Empty(t, msgs)
		entries, err := f.modSvc.Query(ctx, moderation.Filter{})
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.Empty(t, f.mailer.SentMessages())
	})
}

func TestService_Create_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	base := func() message.NewMessage {
		return message.NewMessage{ClassID: f.class.ID, Type: message.TypePrivate, Content: "hello", RecipientIDs: []string{f.student.ID}}
	}

	tests := []struct {
		name     string
		author   user.User
		mutate   func(nm *message.NewMessage)
		wantCode core.ErrorCode
	}{
		{name: "unknown class", author: f.teacher, mutate: func(nm *message.NewMessage) { nm.ClassID = "nope" }, wantCode: core.CodeNotFound},
		{name: "unknown recipient", author: f.teacher, mutate: func(nm *message.NewMessage) { nm.RecipientIDs = []string{"nope"} }, wantCode: core.CodeNotFound},
		{name: "inactive recipient", author: f.teacher, mutate: func(nm *message.NewMessage) { nm.RecipientIDs = []string{f.inactive.ID} }, wantCode: core.CodeNotFound},
		{name: "unknown tagged user", author: f.teacher, mutate: func(nm *message.NewMessage) { nm.TaggedUserIDs = []string{"nope"} }, wantCode: core.CodeNotFound},
		{name: "author only", author: f.teacher, mutate: func(nm *message.NewMessage) {
			nm.Type = message.TypeGroup
			nm.RecipientIDs = []string{f.teacher.ID}
		}, wantCode: core.CodeValidation},
		{name: "private to many", author: f.teacher, mutate: func(nm *message.NewMessage) {
			nm.RecipientIDs = []string{f.student.ID, f.parent.ID}
		}, wantCode: core.CodeValidation},
		{name: "system by a teacher", author: f.teacher, mutate: func(nm *message.NewMessage) { nm.Type = message.TypeSystem }, wantCode: core.CodeForbidden},
		{name: "unknown parent", author: f.teacher, mutate: func(nm *message.NewMessage) { nm.ParentID = "nope" }, wantCode: core.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nm := base()
			tt.mutate(&nm)
			_, err := f.svc.Create(ctx, tt.author, nm)
			assert.Equal(t, tt.wantCode, core.ErrorCodeOf(err))
		})
	}

	t.Run("system by an admin", func(t *testing.T) {
		nm := base()
		nm.Type = message.TypeSystem
		_, err := f.svc.Create(ctx, f.owner, nm)
		assert.NoError(t, err)
	})
}

func TestService_Threads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	root := f.send(t, f.teacher, message.TypePrivate, "Homework is due Monday", f.student)

	reply, err := f.svc.Create(ctx, f.student, message.NewMessage{
		ClassID: f.class.ID, Type: message.TypePrivate, Content: "Okay", RecipientIDs: []string{f.teacher.ID}, ParentID: root.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, root.ID, reply.ThreadID)

	nested, err := f.svc.Create(ctx, f.teacher, message.NewMessage{
		ClassID: f.class.ID, Type: message.TypePrivate, Content: "Thanks", RecipientIDs: []string{f.student.ID}, ParentID: reply.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, root.ID, nested.ThreadID)

	thread, err := f.svc.Query(ctx, f.teacher, message.Filter{ThreadID: root.ID})
	require.NoError(t, err)
	require.Len(t, thread, 3)
	assert.ElementsMatch(t, []string{root.ID, reply.ID, nested.ID}, []string{thread[0].ID, thread[1].ID, thread[2].ID})

	t.Run("parent from another class", func(t *testing.T) {
		_, err := f.svc.Create(ctx, f.teacher, message.NewMessage{
			ClassID: f.otherClass.ID, Type: message.TypePrivate, Content: "hi", RecipientIDs: []string{f.student.ID}, ParentID: root.ID,
		})
		assert.Equal(t, message.ErrParentNotFound, err)
	})

	t.Run("parent the author cannot see", func(t *testing.T) {
		_, err := f.svc.Create(ctx, f.parent, message.NewMessage{
			ClassID: f.class.ID, Type: message.TypePrivate, Content: "hi", RecipientIDs: []string{f.teacher.ID}, ParentID: root.ID,
		})
		assert.Equal(t, message.ErrParentNotFound, err)
	})
}

func TestService_Query(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	toStudent := f.send(t, f.teacher, message.TypePrivate, "Your grade for the exam is 85/100", f.student)
	toParent := f.send(t, f.teacher, message.TypePrivate, "Meeting on Friday", f.parent)
	held := f.send(t, f.parent, message.TypePrivate, "Someone has a knife", f.student)

	ids := func(msgs []message.Message) []string {
		out := make([]string, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, m.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		viewer user.User
		filter message.Filter
		want   []string
	}{
		{name: "admin sees everything", viewer: f.owner, want: []string{toStudent.ID, toParent.ID, held.ID}},
		{name: "author", viewer: f.teacher, want: []string{toStudent.ID, toParent.ID}},
		{name: "held messages are hidden", viewer: f.student, want: []string{toStudent.ID}},
		{name: "author of a held message", viewer: f.parent, want: []string{toParent.ID, held.ID}},
		{name: "class filter", viewer: f.owner, filter: message.Filter{ClassID: f.otherClass.ID}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := f.svc.Query(ctx, tt.viewer, tt.filter)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, ids(msgs))
			for _, m := range msgs {
				assert.False(t, m.Encrypted, "contents are decrypted")
			}
		})
	}
}

func TestService_Stats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.send(t, f.teacher, message.TypePrivate, "Your grade for the exam is 85/100", f.student)
	f.send(t, f.teacher, message.TypePrivate, "See you tomorrow", f.parent)
	f.send(t, f.student, message.TypePrivate, "I want to kill myself", f.teacher)

	t.Run("global", func(t *testing.T) {
		stats, err := f.svc.Stats(ctx, message.StatsQuery{})
		require.NoError(t, err)
		assert.Equal(t, message.ScopeGlobal, stats.Scope)
		assert.Equal(t, 3, stats.Total)
		assert.Equal(t, 1, stats.EducationalRecords)
		assert.Equal(t, 2, stats.Audited)
		assert.Equal(t, 1, stats.ByRiskLevel[classifier.RiskCritical])
		assert.Equal(t, 0, stats.ByRiskLevel[classifier.RiskHigh])
	})

	t.Run("campus", func(t *testing.T) {
		stats, err := f.svc.Stats(ctx, message.StatsQuery{Scope: message.ScopeCampus, ID: " NORTH "})
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Total)

		stats, err = f.svc.Stats(ctx, message.StatsQuery{Scope: message.ScopeCampus, ID: "south"})
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Total)
		assert.Len(t, stats.ByRiskLevel, 4)
	})

	t.Run("class", func(t *testing.T) {
		stats, err := f.svc.Stats(ctx, message.StatsQuery{Scope: message.ScopeClass, ID: f.class.ID})
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Total)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := f.svc.Stats(ctx, message.StatsQuery{Scope: "planet"})
		assert.Equal(t, core.CodeValidation, core.ErrorCodeOf(err))
		_, err = f.svc.Stats(ctx, message.StatsQuery{Scope: message.ScopeClass})
		assert.Equal(t, core.CodeValidation, core.ErrorCodeOf(err))
	})
}
