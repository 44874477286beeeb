package main

import (
	"context"
	"log"
	"os"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/preschool"
	logsvc "github.com/trezcool/kidogo/services/logger"
	"github.com/trezcool/kidogo/storage/database"
	sqlxrepos "github.com/trezcool/kidogo/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	logger = logsvc.NewStdLogger("ADMIN")

	conf, err := core.NewConfig()
	errAndDie(err)
	appLogger := logsvc.NewRollbarLogger(logger, conf)

	// set up DB
	ctx := context.Background()
	if err = database.CreateIfNotExist(ctx, conf); err != nil {
		errAndDie(err)
	}
	db, err := database.Open(ctx, conf)
	errAndDie(err)

	// start CLI
	cli := commandLine{
		db:     db.DB,
		users:  sqlxrepos.NewUserRepository(db),
		school: preschool.NewService(sqlxrepos.NewDocStore(db), nil, nil, nil, appLogger),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	appLogger.Flush()
	if err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
