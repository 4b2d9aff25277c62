package main

import (
	"context"

	"github.com/trezcool/academia/core/user"
)

// addUser creates an active user.User; roles may be empty.
func (cli *commandLine) addUser(name, uname, email, pwd string, roles []string) error {
	ctx := context.Background()
	nu := user.NewUser{
		Name:            name,
		Username:        uname,
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		Roles:           roles,
	}
	if err := nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
		return err
	}
	usr, err := cli.usrSvc.Create(ctx, nu)
	if err != nil {
		return err
	}
	logger.Info("user created", map[string]interface{}{"id": usr.ID, "username": usr.Username})
	return nil
}
