package main

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kidogo/core/preschool"
	"github.com/trezcool/kidogo/core/user"
	inmemdb "github.com/trezcool/kidogo/storage/database/inmem"
)

func setup(t *testing.T) *commandLine {
	t.Cleanup(func() {
		readPasswordFunc = nil
	})
	db := inmemdb.Open()
	return &commandLine{
		users:  inmemdb.NewUserRepository(db),
		school: preschool.NewService(inmemdb.NewDocStore(db), nil, nil, nil, nopLogger{}),
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func mockPassword(pwd string) {
	readPasswordFunc = func(int) ([]byte, error) {
		return []byte(pwd), nil
	}
}

func createUser(t *testing.T, cli *commandLine, uname, email, pwd string) user.User {
	usr := user.User{Name: "User", Username: uname, Email: email, IsActive: true, Roles: []string{user.RoleTeacher}}
	require.NoError(t, usr.SetPassword(pwd))
	usr, err := cli.users.CreateUser(context.Background(), usr)
	require.NoError(t, err)
	return usr
}

type cliTest struct {
	name       string
	args       []string // without program name
	pwd        string
	wantErr    error
	wantErrStr string
}

func (tt cliTest) check(t *testing.T, cli *commandLine) {
	mockPassword(tt.pwd)
	err := cli.run(append([]string{"admin"}, tt.args...))
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		require.Error(t, err)
		assert.Equal(t, tt.wantErrStr, err.Error())
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	var ran []string
	migrateFunc = func(_ context.Context, _ *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		ran = append(ran, command)
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: `"lol": no such command`},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli)
		})
	}
	assert.Equal(t, []string{"up", "up-by-one", "up-to", "down", "down-to", "redo", "reset", "status", "version", "fix"}, ran)
}

func Test_commandLine_addUser(t *testing.T) {
	ctx := context.Background()
	cli := setup(t)
	taken := createUser(t, cli, "taken", "taken@test.cd", "pwd")

	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "email required", args: []string{"adduser", "-name", "Owner"}, wantErr: errHelp},
		{name: "password required", args: []string{"adduser", "-name", "Owner", "-email", "owner@test.cd"}, wantErr: errHelp},
		{name: "unknown flag", args: []string{"adduser", "-lol"}, wantErr: errHelp},
		{
			name: "unknown role", args: []string{"adduser", "-name", "Owner", "-email", "owner@test.cd", "-role", "janitor"}, pwd: "pwd",
			wantErrStr: `"janitor": unknown role`,
		},
		{
			name: "username taken", args: []string{"adduser", "-name", "Owner", "-email", "owner@test.cd", "-username", taken.Username}, pwd: "pwd",
			wantErr: user.ErrUsernameExists,
		},
		{name: "create", args: []string{"adduser", "-name", "Owner", "-email", " OWNER@test.cd "}, pwd: "s3cret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli)
		})
	}

	owner, err := cli.users.GetUserByEmail(ctx, "owner@test.cd")
	require.NoError(t, err)
	assert.NotEmpty(t, owner.ID)
	assert.Equal(t, "Owner", owner.Name)
	assert.Equal(t, "owner@test.cd", owner.Username)
	assert.Equal(t, []string{user.RoleAdminOwner}, owner.Roles)
	assert.True(t, owner.IsActive)
	assert.NoError(t, owner.CheckPassword("s3cret"))

	// running it again updates the existing user
	tt := cliTest{args: []string{"adduser", "-name", "Principal", "-email", "owner@test.cd", "-username", "boss", "-role", user.RoleAdminPrincipal}, pwd: "n3w"}
	tt.check(t, cli)

	updated, err := cli.users.GetUserByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "Principal", updated.Name)
	assert.Equal(t, "boss", updated.Username)
	assert.Equal(t, []string{user.RoleAdminPrincipal}, updated.Roles)
	assert.NoError(t, updated.CheckPassword("n3w"))
}

func Test_commandLine_resetPassword(t *testing.T) {
	ctx := context.Background()
	cli := setup(t)
	usr := createUser(t, cli, "awe", "awe@test.cd", "mdr")

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, pwd: "lol", wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, pwd: "lol"},
		{name: "reset with email", args: []string{"resetpassword", "-username", " AWE@test.cd"}, pwd: "lmao"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli)
		})
	}

	refreshed, err := cli.users.GetUserByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.Error(t, refreshed.CheckPassword("mdr"))
	assert.NoError(t, refreshed.CheckPassword("lmao"))
}

func Test_commandLine_seed(t *testing.T) {
	ctx := context.Background()
	cli := setup(t)

	for i := 0; i < 2; i++ { // idempotent
		cliTest{args: []string{"seed"}}.check(t, cli)
	}

	teachers, err := cli.school.ListTeachers(ctx)
	require.NoError(t, err)
	assert.Len(t, teachers, len(demoTeachers))

	events, err := cli.school.ListEvents(ctx, true /* upcoming */)
	require.NoError(t, err)
	require.Len(t, events, len(demoEvents))
	assert.Equal(t, demoEvents[0].title, events[0].Title)
	for _, e := range events {
		assert.True(t, e.EndsAt.After(e.StartsAt))
	}
}
