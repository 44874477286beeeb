package echoapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kidogo/core/preschool"
	"github.com/trezcool/kidogo/core/user"
)

func Test_home(t *testing.T) {
	env := setUp(t)
	rec := env.serve(newRequest(http.MethodGet, "/"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Kidogo API!", rec.Body.String())
}

func Test_userApi_signUp(t *testing.T) {
	env := setUp(t)
	env.createUser(t, "Taken", "taken@test.cd", user.RoleParent)

	body := func(name, email, pwd, confirm string) []byte {
		return marchallObj(t, map[string]string{
			"name": name, "email": email, "phone": "+243 990 000 000", "password": pwd, "password_confirm": confirm,
		})
	}

	env.run(t, []httpTest{
		{name: "name required", method: http.MethodPost, path: "/v1/users/signup", body: body(" ", "jane@test.cd", strongPwd, strongPwd), wantCode: http.StatusBadRequest},
		{name: "bad email", method: http.MethodPost, path: "/v1/users/signup", body: body("Jane", "jane", strongPwd, strongPwd), wantCode: http.StatusBadRequest},
		{name: "confirm mismatch", method: http.MethodPost, path: "/v1/users/signup", body: body("Jane", "jane@test.cd", strongPwd, "nope"), wantCode: http.StatusBadRequest},
		{name: "email taken", method: http.MethodPost, path: "/v1/users/signup", body: body("Jane", "TAKEN@test.cd", strongPwd, strongPwd), wantCode: http.StatusBadRequest},
	})

	rec := env.serve(newRequest(http.MethodPost, "/v1/users/signup", body("Jane Doe", " Jane@Test.cd ", strongPwd, strongPwd)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp SignUpResponse
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "jane@test.cd", resp.User.Email)
	assert.Equal(t, []string{user.RoleParent}, resp.User.Roles)
	assert.Equal(t, resp.User.ID, resp.Parent.UserID)
	assert.Equal(t, "+243 990 000 000", resp.Parent.Phone)

	// the returned token opens the parent portal
	rec = env.serve(newAuthRequest(http.MethodGet, "/v1/parents/me", resp.Token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p preschool.Parent
	decode(t, rec, &p)
	assert.Equal(t, resp.Parent.ID, p.ID)

	env.mail.mu.Lock()
	defer env.mail.mu.Unlock()
	require.Len(t, env.mail.sent, 1)
	assert.Equal(t, "welcome", env.mail.sent[0].TemplateName)
}

func Test_userApi_login(t *testing.T) {
	ctx := context.Background()
	env := setUp(t)
	teacher := env.createUser(t, "Teacher", "teacher@test.cd", user.RoleTeacher)
	naughty := env.createUser(t, "N Dog", "ndog@test.cd", user.RoleParent)
	inactive := false
	_, err := env.users.Update(ctx, naughty.ID, user.UpdateUser{Name: naughty.Name, Email: naughty.Email, IsActive: &inactive})
	require.NoError(t, err)

	login := func(uname, pwd string) []byte {
		return marchallObj(t, LoginRequest{Username: uname, Password: pwd})
	}

	env.run(t, []httpTest{
		{name: "missing fields", method: http.MethodPost, path: "/v1/users/login", body: login("", ""), wantCode: http.StatusBadRequest},
		{
			name: "unknown user", method: http.MethodPost, path: "/v1/users/login", body: login("ghost@test.cd", strongPwd),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", method: http.MethodPost, path: "/v1/users/login", body: login("teacher@test.cd", "nope"),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated", method: http.MethodPost, path: "/v1/users/login", body: login("ndog@test.cd", strongPwd),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
	})

	rec := env.serve(newRequest(http.MethodPost, "/v1/users/login", login(" TEACHER@test.cd ", strongPwd)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LoginResponse
	decode(t, rec, &resp)

	claims := new(Claims)
	_, err = jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(env.conf.SecretKey), nil
	})
	require.NoError(t, err)
	assert.Equal(t, teacher.ID, claims.Subject)
	assert.True(t, claims.IsTeacher)
	assert.False(t, claims.IsAdmin)
	assert.True(t, claims.VerifyAudience(tokenAudience, true))

	usr, err := env.users.GetByID(ctx, teacher.ID)
	require.NoError(t, err)
	assert.False(t, usr.LastLogin.IsZero())
}

func Test_userApi_auth(t *testing.T) {
	ctx := context.Background()
	env := setUp(t)
	admin := env.createUser(t, "Admin", "admin@test.cd", user.RoleAdmin)
	parent := env.createUser(t, "Parent", "parent@test.cd", user.RoleParent)
	ghost := env.createUser(t, "Ghost", "ghost@test.cd", user.RoleParent)
	ghostToken := env.getToken(t, ghost)
	require.NoError(t, env.users.Delete(ctx, ghost.ID))

	adminToken := env.getToken(t, admin)
	parentToken := env.getToken(t, parent)

	env.run(t, []httpTest{
		{name: "auth required", path: "/v1/users/me", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "bad token", path: "/v1/users/me", token: "not-a-jwt", wantCode: http.StatusUnauthorized},
		{
			name: "deleted account", path: "/v1/users/me", token: ghostToken,
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "user not authenticated"}),
		},
		{name: "me", path: "/v1/users/me", token: parentToken, wantCode: http.StatusOK, wantData: marchallObj(t, parent)},
		{
			name: "admin required", path: "/v1/users", token: parentToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "roles", path: "/v1/users/roles", token: adminToken, wantCode: http.StatusOK, wantData: marchallObj(t, user.Roles)},
		{name: "parent reads self", path: "/v1/users/" + parent.ID, token: parentToken, wantCode: http.StatusOK, wantData: marchallObj(t, parent)},
		{
			name: "parent cannot read others", path: "/v1/users/" + admin.ID, token: parentToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{name: "admin reads anyone", path: "/v1/users/" + parent.ID, token: adminToken, wantCode: http.StatusOK, wantData: marchallObj(t, parent)},
		{name: "admin cannot delete self", method: http.MethodDelete, path: "/v1/users/" + admin.ID, token: adminToken, wantCode: http.StatusForbidden},
		{name: "unknown route", path: "/v1/nope", token: adminToken, wantCode: http.StatusNotFound},
	})
}

func Test_userApi_query(t *testing.T) {
	env := setUp(t)
	admin := env.createUser(t, "Admin", "admin@test.cd", user.RoleAdmin)
	teacher := env.createUser(t, "Teacher", "teacher@test.cd", user.RoleTeacher)
	adminToken := env.getToken(t, admin)

	rec := env.serve(newAuthRequest(http.MethodGet, "/v1/users?role="+user.RoleTeacher, adminToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var users []user.User
	decode(t, rec, &users)
	require.Len(t, users, 1)
	assert.Equal(t, teacher.ID, users[0].ID)

	rec = env.serve(newAuthRequest(http.MethodGet, "/v1/users?search=nobody", adminToken))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func Test_userApi_create(t *testing.T) {
	env := setUp(t)
	admin := env.createUser(t, "Admin", "admin@test.cd", user.RoleAdmin)
	adminToken := env.getToken(t, admin)

	newUser := func(email string, roles ...string) []byte {
		return marchallObj(t, user.NewUser{Name: "New", Email: email, Password: strongPwd, PasswordConfirm: strongPwd, Roles: roles})
	}

	env.run(t, []httpTest{
		{
			name: "cannot grant a higher role", method: http.MethodPost, path: "/v1/users/register", token: adminToken,
			body: newUser("owner@test.cd", user.RoleAdminOwner), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"roles": errNoPermsToSetRoles}),
		},
		{name: "teacher", method: http.MethodPost, path: "/v1/users/register", token: adminToken, body: newUser("t@test.cd", user.RoleTeacher), wantCode: http.StatusCreated},
	})
}

func Test_userApi_refreshToken(t *testing.T) {
	env := setUp(t)
	parent := env.createUser(t, "Parent", "parent@test.cd", user.RoleParent)

	rec := env.serve(newAuthRequest(http.MethodPost, "/v1/users/token-refresh", env.getToken(t, parent)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LoginResponse
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)

	// refresh window elapsed
	old := GetUserClaims(env.conf, parent, time.Now().Add(-48*time.Hour).Unix())
	token, err := GenerateToken(env.conf, old)
	require.NoError(t, err)
	rec = env.serve(newAuthRequest(http.MethodPost, "/v1/users/token-refresh", token))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error": "refresh has expired"}`, rec.Body.String())
}

func Test_userApi_deleteAccount(t *testing.T) {
	ctx := context.Background()
	env := setUp(t)

	rec := env.serve(newRequest(http.MethodPost, "/v1/users/signup", marchallObj(t, map[string]string{
		"name": "Jane", "email": "jane@test.cd", "password": strongPwd, "password_confirm": strongPwd,
	})))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var signUp SignUpResponse
	decode(t, rec, &signUp)

	env.run(t, []httpTest{
		{name: "password required", method: http.MethodDelete, path: "/v1/users/me", token: signUp.Token, body: []byte(`{}`), wantCode: http.StatusBadRequest},
		{
			name: "wrong password", method: http.MethodDelete, path: "/v1/users/me", token: signUp.Token,
			body: marchallObj(t, DeleteAccountRequest{Password: "nope"}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"password": "incorrect password"}),
		},
		{
			name: "deleted", method: http.MethodDelete, path: "/v1/users/me", token: signUp.Token,
			body: marchallObj(t, DeleteAccountRequest{Password: strongPwd}), wantCode: http.StatusNoContent,
		},
	})

	_, err := env.users.GetByID(ctx, signUp.User.ID)
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))
	_, err = env.school.GetParent(ctx, signUp.Parent.ID)
	assert.Error(t, err)
}
