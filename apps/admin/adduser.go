package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/user"
)

// addUser updates or creates an active user.User with the given role.
func (cli *commandLine) addUser(name, uname, email, role, pwd string) error {
	ctx := context.Background()
	name = core.CleanString(name)
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	role = core.CleanString(role, true /* lower */)

	if !core.ContainsString(user.AllRoles, role) {
		return fmt.Errorf("%q: unknown role", role)
	}

	usr, err := cli.users.GetUserByUsernameOrEmail(ctx, email)
	exists := err == nil
	if err != nil && errors.Cause(err) != user.ErrNotFound {
		return err
	}

	now := time.Now().UTC()
	if !exists {
		usr = user.User{Username: email, Email: email, CreatedAt: now}
	}
	usr.Name = name
	if uname != "" {
		usr.Username = uname
	}
	usr.Roles = []string{role}
	usr.IsActive = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}

	if exists {
		if err = cli.users.CheckUsernameUniqueness(ctx, usr.Username, usr.Email, usr); err != nil {
			return err
		}
		_, err = cli.users.UpdateUser(ctx, usr)
		return err
	}
	if err = cli.users.CheckUsernameUniqueness(ctx, usr.Username, usr.Email); err != nil {
		return err
	}
	_, err = cli.users.CreateUser(ctx, usr)
	return err
}
