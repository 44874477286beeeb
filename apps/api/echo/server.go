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

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/flow"
	"github.com/trezcool/kidogo/core/preschool"
	"github.com/trezcool/kidogo/core/upload"
	"github.com/trezcool/kidogo/core/user"
	"github.com/trezcool/kidogo/services/progress"
)

type (
	// SessionStore looks up upload sessions the current process no longer remembers.
	SessionStore interface {
		Get(ctx context.Context, id string) (upload.Session, error)
	}

	Options struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		UserSvc    user.ServiceInterface
		SchoolSvc  *preschool.Service
		FlowSvc    *flow.Service
		Uploads    *upload.Manager
		Hub        *progress.Hub
		Sessions   SessionStore // optional
	}

	Server struct {
		opts     Options
		conf     *core.Config
		app      *echo.Echo
		auth     *authenticator
		tus      *tusUploads
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(opts Options) (*Server, error) {
	s := &Server{
		opts:     opts,
		conf:     opts.Conf,
		app:      echo.New(),
		auth:     newAuthenticator(opts.Conf, opts.UserSvc),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	if err := s.setup(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) setup() error {
	conf := s.conf

	s.app.HideBanner = true
	s.app.Server.ReadTimeout = conf.Server.ReadTimeout
	s.app.Server.WriteTimeout = conf.Server.WriteTimeout

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.CORS())

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)
	if conf.Storage.Backend == core.StorageLocal {
		s.app.Static("/media", conf.Storage.LocalDir)
	}

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(s.auth.jwtConfig("header:" + echo.HeaderAuthorization))

	registerUserAPI(v1, jwt, s.auth, s.opts.UserSvc, s.opts.SchoolSvc, s.opts.Validate)
	registerPreschoolAPI(v1, jwt, s.auth, s.opts.SchoolSvc, s.opts.Validate)
	registerRegistrationAPI(v1, jwt, s.opts.SchoolSvc, s.opts.Validate)
	registerFlowAPI(v1, jwt, s.opts.FlowSvc)

	tus, err := newTusUploads(conf, s.opts.Uploads, s.opts.Logger)
	if err != nil {
		return err
	}
	s.tus = tus
	registerUploadAPI(v1, jwt, s.auth, s.opts.Uploads, s.opts.Hub, s.opts.Sessions, tus)
	return nil
}

// Start serves the API until Shutdown or Close. Failures are sent to Errors.
func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	go s.tus.run()

	if err := s.app.Start(s.conf.Server.Address()); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

// Shutdown stops accepting requests, waits for outstanding ones and for tus uploads being transferred.
func (s *Server) Shutdown(ctx context.Context) error {
	defer signal.Stop(s.shutdown)
	if err := s.app.Shutdown(ctx); err != nil {
		return err
	}
	return s.tus.stop(ctx)
}

func (s *Server) Close() error {
	s.tus.abort()
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.conf.AppName+" API!")
}
