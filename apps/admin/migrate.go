package main

import (
	"github.com/trezcool/academia/storage/database"
)

var migrateFunc = database.RunMigration // mockable

func (cli *commandLine) migrate(args []string) error {
	return migrateFunc(cli.db, args[0], args[1:]...)
}
