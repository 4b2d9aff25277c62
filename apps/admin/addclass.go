package main

import (
	"context"

	"github.com/trezcool/academia/core/classroom"
)

func (cli *commandLine) addClass(name, campus string) error {
	nc := classroom.NewClass{Name: name, CampusID: campus}
	if err := nc.Validate(cli.validate); err != nil {
		return err
	}
	cls, err := cli.clsSvc.Create(context.Background(), nc)
	if err != nil {
		return err
	}
	logger.Info("class created", map[string]interface{}{"id": cls.ID, "campus_id": cls.CampusID})
	return nil
}
