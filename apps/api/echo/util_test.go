package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/apps/api/echo"
	"github.com/trezcool/academia/apps/shared"
	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/audit"
	"github.com/trezcool/academia/core/classifier"
	"github.com/trezcool/academia/core/classroom"
	"github.com/trezcool/academia/core/message"
	"github.com/trezcool/academia/core/moderation"
	"github.com/trezcool/academia/core/privacy"
	"github.com/trezcool/academia/core/user"
	"github.com/trezcool/academia/services/broadcast"
	"github.com/trezcool/academia/services/crypto"
	"github.com/trezcool/academia/services/email"
	"github.com/trezcool/academia/services/logger"
	"github.com/trezcool/academia/storage/database/dummy"
	"github.com/trezcool/academia/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type fixture struct {
	app    *echoapi.Server
	hub    *broadcastsvc.Hub
	mailer *emailsvc.ConsoleServiceMock

	usrRepo user.Repository
	class   classroom.Class

	owner, admin, teacher, student, parent, inactive user.User
}

func setup(t *testing.T, confOpts ...func(*core.Config)) *fixture {
	t.Helper()
	conf := core.NewTestConfig()
	for _, opt := range confOpts {
		opt(conf)
	}
	logger := logsvc.NopLogger{}
	core.ParseEmailTemplates(logger, true /* strict */)

	rules, err := classifier.DefaultRules()
	require.NoError(t, err)
	clf, err := classifier.New(rules, classifier.NewLRUCache(conf.Compliance.CacheSize, conf.Compliance.CacheTTL), conf.Compliance.FuzzyRatio)
	require.NoError(t, err)
	key, err := cryptosvc.GenerateKey()
	require.NoError(t, err)
	conf.Compliance.EncryptionKey = key
	cipher, err := cryptosvc.NewCipherFromConfig(conf)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := broadcastsvc.NewHub(logger)
	go hub.Run(ctx)

	db := dummydb.Open()
	usrRepo := dummydb.NewUserRepository(db)
	clsRepo := dummydb.NewClassRepository(db)
	msgRepo := dummydb.NewMessageRepository(db)

	mailer := emailsvc.NewConsoleServiceMock(conf, logger)
	auditSvc := audit.NewService(dummydb.NewAuditRepository(db))
	consentSvc := privacy.NewConsentService(dummydb.NewConsentRepository(db))
	usrSvc := user.NewService(usrRepo)
	clsSvc := classroom.NewService(clsRepo)
	modSvc := moderation.NewService(dummydb.NewModerationRepository(db), db, msgRepo, auditSvc, usrSvc, mailer, hub, logger)
	msgSvc := message.NewService(message.Deps{
		Repo:        msgRepo,
		StatsRepo:   msgRepo,
		Tx:          db,
		Cipher:      cipher,
		Classifier:  clf,
		Annotator:   privacy.NewAnnotator(consentSvc, auditSvc),
		Moderation:  modSvc,
		Audit:       auditSvc,
		Users:       usrSvc,
		Classes:     clsSvc,
		Broadcaster: hub,
	})

	validate, translator := shared.NewValidator()
	f := &fixture{
		app: echoapi.NewServer(&echoapi.Deps{
			Conf:          conf,
			Logger:        logger,
			Validate:      validate,
			Translator:    translator,
			UserSvc:       usrSvc,
			ClassSvc:      clsSvc,
			MessageSvc:    msgSvc,
			ModerationSvc: modSvc,
			AuditSvc:      auditSvc,
			ConsentSvc:    consentSvc,
			Subscriber:    hub,
		}),
		hub:     hub,
		mailer:  mailer,
		usrRepo: usrRepo,
		class:   testutil.CreateClass(t, clsRepo, "Grade 5 Maths", "north"),
	}
	f.owner = testutil.CreateUser(t, usrRepo, "Owner", "owner", "owner@test.cd", "", []string{user.RoleAdminOwner}, true)
	f.admin = testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	f.teacher = testutil.CreateUser(t, usrRepo, "Teacher", "teacher", "teacher@test.cd", "", []string{user.RoleTeacher}, true)
	f.student = testutil.CreateUser(t, usrRepo, "Student", "student", "student@test.cd", "", []string{user.RoleStudent}, true)
	f.parent = testutil.CreateUser(t, usrRepo, "Parent", "parent", "parent@test.cd", "", []string{user.RoleParent}, true)
	f.inactive = testutil.CreateUser(t, usrRepo, "Gone", "gone", "gone@test.cd", "", []string{user.RoleStudent}, false)
	return f
}

func (f *fixture) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := f.app.Auth().GenerateToken(f.app.Auth().GetUserClaims(usr))
	if err != nil {
		t.Fatalf("token() failed: %v", err)
	}
	return token
}

// do serves a request and decodes the JSON response into out, if not nil.
func (f *fixture) do(t *testing.T, method, path, token string, body interface{}, out interface{}) int {
	t.Helper()
	var data []byte
	if body != nil {
		data = marchallObj(t, body)
	}
	req, rec := newAuthRequest(method, path, token, data)
	f.app.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

type httpErr struct {
	Error string `json:"error"`
}

type codedErr struct {
	Error string         `json:"error"`
	Code  core.ErrorCode `json:"code"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code)
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app http.Handler, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, time.Second, 10*time.Millisecond)
}
