package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/audit"
	"github.com/trezcool/academia/core/classroom"
	"github.com/trezcool/academia/core/message"
	"github.com/trezcool/academia/core/moderation"
	"github.com/trezcool/academia/core/privacy"
	"github.com/trezcool/academia/core/user"
)

type (
	// Subscriber registers websocket clients on class channels.
	Subscriber interface {
		Serve(w http.ResponseWriter, r *http.Request, userID string, channels ...string) error
	}

	Deps struct {
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
		Subscriber    Subscriber
	}

	Server struct {
		deps     *Deps
		app      *echo.Echo
		auth     *Auth
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ http.Handler = (*Server)(nil)

func NewServer(deps *Deps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		auth:     NewAuth(deps.Conf),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.SignalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	jwt := s.auth.Middleware()

	registerUserAPI(v1, jwt, s.auth, s.deps)
	registerClassAPI(v1, jwt, s.deps)
	registerMessageAPI(v1, jwt, newUserRateLimiter(conf.Server.MessageRateLimit, conf.Server.MessageRateBurst), s.deps)
	registerModerationAPI(v1, jwt, s.deps)
	registerAuditAPI(v1, jwt, s.deps)
	registerComplianceAPI(v1, jwt, s.deps)
	registerConsentAPI(v1, jwt, s.deps)
	registerWebsocketAPI(v1, s.auth.QueryMiddleware(), s.deps)
}

// Auth returns the token issuer of the server.
func (s *Server) Auth() *Auth {
	return s.auth
}

// Start serves until the server is shut down; listen errors are sent to Errors.
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

// SignalShutdown asks the process to shut down gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Academia API!")
}
