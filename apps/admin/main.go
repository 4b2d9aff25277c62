package main

import (
	"log"
	"os"

	"github.com/trezcool/academia/apps/shared"
	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/classroom"
	"github.com/trezcool/academia/core/user"
	logsvc "github.com/trezcool/academia/services/logger"
	"github.com/trezcool/academia/storage/database"
	boiledrepos "github.com/trezcool/academia/storage/database/sqlboiler"
)

var logger core.Logger = logsvc.NopLogger{}

func main() {
	conf := core.NewConfig()

	zl, err := logsvc.NewZap(conf)
	if err != nil {
		log.Fatal(err)
	}
	rl := logsvc.NewRollbarLogger(zl.Named("admin"), conf)
	rl.Enable(false)
	logger = rl
	defer func() { _ = rl.Sync() }()

	// set up DB
	errAndDie(database.CreateIfNotExist(conf))
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()

	// start CLI
	validate, _ := shared.NewValidator()
	cli := commandLine{
		db:       db.DB,
		validate: validate,
		usrSvc:   user.NewService(boiledrepos.NewUserRepository(db)),
		clsSvc:   classroom.NewService(boiledrepos.NewClassRepository(db)),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error("admin: "+err.Error(), err)
		}
		_ = rl.Sync()
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
