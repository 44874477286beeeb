package echoapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kidogo/core/preschool"
	"github.com/trezcool/kidogo/core/user"
)

func Test_registrationApi(t *testing.T) {
	ctx := context.Background()
	env := setUp(t)
	adminToken := env.getToken(t, env.createUser(t, "Admin", "admin@test.cd", user.RoleAdmin))
	teacherToken := env.getToken(t, env.createUser(t, "Teacher", "teacher@test.cd", user.RoleTeacher))

	parent, err := env.school.CreateParent(ctx, preschool.Parent{Name: "Jane", Email: "jane@test.cd"})
	require.NoError(t, err)

	submit := func(r preschool.Registration) preschool.Registration {
		t.Helper()
		rec := env.serve(newRequest(http.MethodPost, "/v1/registrations", marchallObj(t, r)))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var created preschool.Registration
		decode(t, rec, &created)
		return created
	}

	// clients cannot choose the status
	ada := submit(preschool.Registration{
		ChildFirstName: "Ada", ChildLastName: "Lovelace", ChildDateOfBirth: "2021-03-04",
		ParentName: "Jane", ParentEmail: " JANE@test.cd ", Status: preschool.StatusApproved,
	})
	assert.Equal(t, preschool.StatusPending, ada.Status)
	assert.Equal(t, "jane@test.cd", ada.ParentEmail)
	bob := submit(preschool.Registration{
		ChildFirstName: "Bob", ChildLastName: "Marley", ChildDateOfBirth: "2020-01-02", ParentName: "Rita", ParentEmail: "rita@test.cd",
	})

	env.run(t, []httpTest{
		{
			name: "invalid", method: http.MethodPost, path: "/v1/registrations",
			body: marchallObj(t, preschool.Registration{ChildFirstName: "Ada"}), wantCode: http.StatusBadRequest,
		},
		{name: "auth required", path: "/v1/registrations", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "admin only", path: "/v1/registrations", token: teacherToken, wantCode: http.StatusForbidden},
		{name: "unknown", method: http.MethodPost, path: "/v1/registrations/nope/approve", token: adminToken, wantCode: http.StatusNotFound},
	})

	rec := env.serve(newAuthRequest(http.MethodGet, "/v1/registrations?status=pending", adminToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pending []preschool.Registration
	decode(t, rec, &pending)
	assert.ElementsMatch(t, []preschool.Registration{ada, bob}, pending)

	rec = env.serve(newAuthRequest(http.MethodPost, "/v1/registrations/"+ada.ID+"/approve", adminToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var approval ApprovalResponse
	decode(t, rec, &approval)
	assert.Equal(t, preschool.StatusApproved, approval.Registration.Status)
	assert.Equal(t, approval.Child.ID, approval.Registration.ChildID)
	assert.Equal(t, "Ada", approval.Child.FirstName)
	assert.Equal(t, []string{parent.ID}, approval.Child.ParentIDs)

	rec = env.serve(newAuthRequest(http.MethodPost, "/v1/registrations/"+bob.ID+"/reject", adminToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rejected preschool.Registration
	decode(t, rec, &rejected)
	assert.Equal(t, preschool.StatusRejected, rejected.Status)
	assert.Empty(t, rejected.ChildID)

	closed := marchallObj(t, httpErr{Error: preschool.ErrRegistrationClosed.Error()})
	env.run(t, []httpTest{
		{name: "approve twice", method: http.MethodPost, path: "/v1/registrations/" + ada.ID + "/approve", token: adminToken, wantCode: http.StatusBadRequest, wantData: closed},
		{name: "approve rejected", method: http.MethodPost, path: "/v1/registrations/" + bob.ID + "/approve", token: adminToken, wantCode: http.StatusBadRequest, wantData: closed},
		{name: "pending left", path: "/v1/registrations?status=pending", token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t)},
	})

	env.mail.mu.Lock()
	defer env.mail.mu.Unlock()
	require.Len(t, env.mail.sent, 1)
	assert.Equal(t, "registration_approved", env.mail.sent[0].TemplateName)
}

func Test_registrationApi_publicSubmission(t *testing.T) {
	env := setUp(t)
	parentToken := env.getToken(t, env.createUser(t, "Parent", "parent@test.cd", user.RoleParent))
	reg := preschool.Registration{
		ChildFirstName: "Ada", ChildLastName: "Lovelace", ChildDateOfBirth: "2021-03-04", ParentName: "Jane", ParentEmail: "jane@test.cd",
	}

	env.run(t, []httpTest{
		{name: "anonymous", method: http.MethodPost, path: "/v1/registrations", body: marchallObj(t, reg), wantCode: http.StatusCreated},
		{name: "any user", method: http.MethodPost, path: "/v1/registrations", token: parentToken, body: marchallObj(t, reg), wantCode: http.StatusCreated},
		{name: "listing stays private", path: "/v1/registrations", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "approving stays private", method: http.MethodPost, path: "/v1/registrations/x/approve", wantCode: http.StatusUnauthorized},
		{name: "parents cannot list", path: "/v1/registrations", token: parentToken, wantCode: http.StatusForbidden},
	})
}
