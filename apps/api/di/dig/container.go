package dig_container

import (
	"database/sql"
	"fmt"
	"log"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"
	"go.uber.org/zap"

	echoapi "github.com/trezcool/academia/apps/api/echo"
	"github.com/trezcool/academia/apps/shared"
	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/audit"
	"github.com/trezcool/academia/core/classifier"
	"github.com/trezcool/academia/core/classroom"
	"github.com/trezcool/academia/core/message"
	"github.com/trezcool/academia/core/moderation"
	"github.com/trezcool/academia/core/privacy"
	"github.com/trezcool/academia/core/user"
	broadcastsvc "github.com/trezcool/academia/services/broadcast"
	cryptosvc "github.com/trezcool/academia/services/crypto"
	emailsvc "github.com/trezcool/academia/services/email"
	logsvc "github.com/trezcool/academia/services/logger"
	"github.com/trezcool/academia/storage/database"
	boiledrepos "github.com/trezcool/academia/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/academia/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type loggers struct {
	dig.Out
	API core.Logger
	DB  core.Logger `name:"dbLogger"`
	Zap *zap.Logger
}

func newLoggers(conf *core.Config) (loggers, error) {
	zl, err := logsvc.NewZap(conf)
	if err != nil {
		return loggers{}, errors.Wrap(err, "building zap logger")
	}
	api := logsvc.NewRollbarLogger(zl.Named("api"), conf)
	api.Enable(!conf.Debug)
	return loggers{
		API: api,
		DB:  logsvc.NewRollbarLogger(zl.Named("db"), conf),
		Zap: zl,
	}, nil
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db.DB); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newSQLDB(db *sqlx.DB) *sql.DB {
	return db.DB
}

type repositories struct {
	dig.Out
	Users        user.Repository
	Classes      classroom.Repository
	Messages     message.Repository
	MessageStore moderation.MessageStore
	Stats        message.StatsRepository
	Moderation   moderation.Repository
	Audit        audit.Repository
	Consents     privacy.ConsentRepository
	Tx           core.Transactor
}

// newRepositories wires the sqlboiler repositories and the sqlx ones on the same pool.
func newRepositories(db *sqlx.DB) repositories {
	msgRepo := boiledrepos.NewMessageRepository(db)
	return repositories{
		Users:        boiledrepos.NewUserRepository(db),
		Classes:      boiledrepos.NewClassRepository(db),
		Messages:     msgRepo,
		MessageStore: msgRepo,
		Stats:        sqlxrepos.NewStatsRepository(db),
		Moderation:   boiledrepos.NewModerationRepository(db),
		Audit:        boiledrepos.NewAuditRepository(db),
		Consents:     sqlxrepos.NewConsentRepository(db),
		Tx:           database.NewTransactor(db),
	}
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newCipher(conf *core.Config) (message.Cipher, error) {
	return cryptosvc.NewCipherFromConfig(conf)
}

type hubOut struct {
	dig.Out
	Hub         *broadcastsvc.Hub
	Broadcaster core.Broadcaster
	Subscriber  echoapi.Subscriber
}

func newHub(logger core.Logger) hubOut {
	hub := broadcastsvc.NewHub(logger)
	return hubOut{Hub: hub, Broadcaster: hub, Subscriber: hub}
}

type messageParams struct {
	dig.In
	Repo        message.Repository
	StatsRepo   message.StatsRepository
	Tx          core.Transactor
	Cipher      message.Cipher
	Classifier  *classifier.Classifier
	Annotator   privacy.Annotator
	Moderation  moderation.Service
	Audit       audit.Service
	Users       user.Service
	Classes     classroom.Service
	Broadcaster core.Broadcaster
}

func newMessageService(p messageParams) message.Service {
	return message.NewService(message.Deps{
		Repo:        p.Repo,
		StatsRepo:   p.StatsRepo,
		Tx:          p.Tx,
		Cipher:      p.Cipher,
		Classifier:  p.Classifier,
		Annotator:   p.Annotator,
		Moderation:  p.Moderation,
		Audit:       p.Audit,
		Users:       p.Users,
		Classes:     p.Classes,
		Broadcaster: p.Broadcaster,
	})
}

type serverParams struct {
	dig.In
	Conf          *core.Config
	Logger        core.Logger
	Validate      *validator.Validate
	Translator    ut.Translator
	UserSvc       user.Service
	ClassSvc      classroom.Service
	MessageSvc    message.Service
	ModerationSvc moderation.Service
	AuditSvc      audit.Service
	ConsentSvc    privacy.ConsentService
	Subscriber    echoapi.Subscriber
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(&echoapi.Deps{
		Conf:          p.Conf,
		Logger:        p.Logger,
		Validate:      p.Validate,
		Translator:    p.Translator,
		UserSvc:       p.UserSvc,
		ClassSvc:      p.ClassSvc,
		MessageSvc:    p.MessageSvc,
		ModerationSvc: p.ModerationSvc,
		AuditSvc:      p.AuditSvc,
		ConsentSvc:    p.ConsentSvc,
		Subscriber:    p.Subscriber,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLoggers))
	must(c.Provide(newDB))
	must(c.Provide(newSQLDB))
	must(c.Provide(newRepositories))
	must(c.Provide(newEmailService))
	must(c.Provide(newCipher))
	must(c.Provide(classifier.NewFromConfig))
	must(c.Provide(newHub))
	must(c.Provide(shared.NewValidator))

	must(c.Provide(user.NewService))
	must(c.Provide(classroom.NewService))
	must(c.Provide(audit.NewService))
	must(c.Provide(privacy.NewConsentService))
	must(c.Provide(privacy.NewAnnotator))
	must(c.Provide(moderation.NewService))
	must(c.Provide(newMessageService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
