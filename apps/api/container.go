package main

import (
	"context"
	"fmt"
	"log"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/kidogo/apps/api/echo"
	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/docstore"
	"github.com/trezcool/kidogo/core/flow"
	"github.com/trezcool/kidogo/core/preschool"
	"github.com/trezcool/kidogo/core/upload"
	"github.com/trezcool/kidogo/core/user"
	emailsvc "github.com/trezcool/kidogo/services/email"
	"github.com/trezcool/kidogo/services/llm"
	logsvc "github.com/trezcool/kidogo/services/logger"
	"github.com/trezcool/kidogo/services/objectstore"
	"github.com/trezcool/kidogo/services/progress"
	"github.com/trezcool/kidogo/storage/database"
	inmemdb "github.com/trezcool/kidogo/storage/database/inmem"
	sqlxrepos "github.com/trezcool/kidogo/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// dbCloser releases the database connections.
type dbCloser func() error

type storesResult struct {
	dig.Out
	Users  user.Repository
	Docs   docstore.Store
	Closer dbCloser
}

type serverParams struct {
	dig.In
	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	UserSvc    user.ServiceInterface
	SchoolSvc  *preschool.Service
	FlowSvc    *flow.Service
	Uploads    *upload.Manager
	Hub        *progress.Hub
	Progress   *progress.RedisStore // nil when redis is disabled
}

func newLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(logsvc.NewStdLogger("API"), conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(logsvc.NewStdLogger("DB"), conf)
}

func newStores(conf *core.Config, loggerParam DBLoggerParam) (storesResult, error) {
	logger := loggerParam.Logger

	if conf.Database.Engine == core.EngineMemory {
		logger.Warn("using the in-memory database: data is lost on restart")
		db := inmemdb.Open()
		return storesResult{
			Users:  inmemdb.NewUserRepository(db),
			Docs:   inmemdb.NewDocStore(db),
			Closer: func() error { return nil },
		}, nil
	}

	ctx := context.Background()
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return storesResult{}, errors.Wrap(err, "creating database")
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		return storesResult{}, errors.Wrap(err, "opening database")
	}
	if err = database.Migrate(ctx, db.DB, "up"); err != nil {
		_ = db.Close()
		return storesResult{}, err
	}
	logger.Info(fmt.Sprintf("connected to %s/%s", conf.Database.Address(), conf.Database.Name))

	return storesResult{
		Users:  sqlxrepos.NewUserRepository(db),
		Docs:   sqlxrepos.NewDocStore(db),
		Closer: db.Close,
	}, nil
}

func newEmailService(conf *core.Config, tmpls *core.EmailTemplates, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, tmpls, logger)
	}
	return emailsvc.NewSendgridService(conf, tmpls, logger)
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	preschool.InitValidators(validate, translator)
	return validate
}

func newObjectStore(conf *core.Config) (upload.ObjectStore, error) {
	return objectstore.New(context.Background(), conf)
}

// newProgressStore returns nil when Redis is disabled.
func newProgressStore(conf *core.Config, logger core.Logger) (*progress.RedisStore, error) {
	if conf.Redis.Disabled {
		logger.Warn("redis is disabled: upload sessions are only known to this process")
		return nil, nil
	}
	client, err := progress.NewRedisClient(context.Background(), conf)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to redis")
	}
	return progress.NewRedisStore(client, logger), nil
}

func newUploadManager(store upload.ObjectStore, hub *progress.Hub, redis *progress.RedisStore, logger core.Logger) *upload.Manager {
	observers := []upload.Observer{hub}
	if redis != nil {
		observers = append(observers, redis)
	}
	return upload.NewManager(store, hub, logger, observers...)
}

func newServer(p serverParams) (*echoapi.Server, error) {
	opts := echoapi.Options{
		Conf:       p.Conf,
		Logger:     p.Logger,
		Validate:   p.Validate,
		Translator: p.Translator,
		UserSvc:    p.UserSvc,
		SchoolSvc:  p.SchoolSvc,
		FlowSvc:    p.FlowSvc,
		Uploads:    p.Uploads,
		Hub:        p.Hub,
	}
	if p.Progress != nil {
		opts.Sessions = p.Progress
	}
	return echoapi.NewServer(opts)
}

// newContainer returns the dependency injection dig.Container of the API.
func newContainer() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStores))
	must(c.Provide(core.NewEmailTemplates))
	must(c.Provide(newEmailService))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(newObjectStore))
	must(c.Provide(newProgressStore))
	must(c.Provide(progress.NewHub))
	must(c.Provide(newUploadManager))
	must(c.Provide(user.NewService, dig.As(new(user.ServiceInterface))))
	must(c.Provide(preschool.NewService))
	must(c.Provide(llm.NewGenerator, dig.As(new(flow.Generator))))
	must(c.Provide(flow.NewService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
