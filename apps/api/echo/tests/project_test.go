package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peereval/backend/core/project"
	"github.com/peereval/backend/core/survey"
	"github.com/peereval/backend/tests"
)

func Test_projectApi_create(t *testing.T) {
	app := setup(t)
	instructor := testutil.CreateInstructor(t, app.usrRepo, "Ada")
	student := testutil.CreateStudent(t, app.usrRepo, "Bob")
	instructorToken := app.getToken(t, instructor)

	newProject := func(title, desc, instructorID string) []byte {
		return marshalObj(t, map[string]string{"title": title, "description": desc, "instructorId": instructorID})
	}
	tests := []httpTest{
		{
			name:     "no token",
			body:     newProject("Compilers", "Build one", instructor.ID),
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, errMissingToken),
		},
		{
			name:     "missing fields",
			body:     newProject("Compilers", "  ", instructor.ID),
			token:    instructorToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "Missing fields"}),
		},
		{
			name:     "someone else's id",
			body:     newProject("Compilers", "Build one", student.ID),
			token:    instructorToken,
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "Unauthorized"}),
		},
		{
			name:     "student",
			body:     newProject("Compilers", "Build one", student.ID),
			token:    app.getToken(t, student),
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "Only instructors can create projects"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/api/projects/create"
	}
	runHTTPTests(t, app, tests)

	t.Run("created", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/api/projects/create", instructorToken, newProject(" Compilers ", "Build one", instructor.ID))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		p, _ := decode(t, rec)["project"].(map[string]interface{})
		require.NotNil(t, p)
		assert.NotEmpty(t, p["id"])
		assert.Equal(t, "Compilers", p["title"])
		assert.Equal(t, "Build one", p["description"])
		assert.Equal(t, instructor.ID, p["instructorId"])
	})
}

func Test_projectApi_list(t *testing.T) {
	app := setup(t)
	instructor := testutil.CreateInstructor(t, app.usrRepo, "Ada")
	other := testutil.CreateInstructor(t, app.usrRepo, "Eve")
	student := testutil.CreateStudent(t, app.usrRepo, "Bob")

	p1 := testutil.CreateProject(t, app.prjRepo, instructor, "Compilers")
	p2 := testutil.CreateProject(t, app.prjRepo, instructor, "Databases")
	testutil.CreateProject(t, app.prjRepo, other, "Networks")
	testutil.CreateInvite(t, app.prjRepo, p1, student, project.InviteStatusPending)

	tests := []httpTest{
		{
			name:     "missing user id",
			path:     "/api/projects/list",
			token:    app.getToken(t, instructor),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "User ID is required"}),
		},
		{
			name:     "someone else's projects",
			path:     "/api/projects/list?userId=" + other.ID,
			token:    app.getToken(t, instructor),
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "Unauthorized"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodGet
	}
	runHTTPTests(t, app, tests)

	t.Run("instructor", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/api/projects/list?userId="+instructor.ID, app.getToken(t, instructor))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data := decode(t, rec)
		assert.Equal(t, true, data["success"])
		projects, _ := data["projects"].([]interface{})
		require.Len(t, projects, 2)

		byID := make(map[string]map[string]interface{})
		for _, p := range projects {
			pm := p.(map[string]interface{})
			byID[pm["id"].(string)] = pm
		}
		require.Contains(t, byID, p1.ID)
		require.Contains(t, byID, p2.ID)
		invites, _ := byID[p1.ID]["invites"].([]interface{})
		require.Len(t, invites, 1)
		inv := invites[0].(map[string]interface{})
		assert.Equal(t, project.InviteStatusPending, inv["status"])
		assert.Equal(t, student.Email, inv["student"].(map[string]interface{})["email"])
	})

	t.Run("student", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/api/projects/list?userId="+student.ID, app.getToken(t, student))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		invites, _ := decode(t, rec)["projects"].([]interface{})
		require.Len(t, invites, 1)
		inv := invites[0].(map[string]interface{})
		prj := inv["project"].(map[string]interface{})
		assert.Equal(t, p1.ID, prj["id"])
		assert.Equal(t, "Compilers", prj["title"])
		assert.Equal(t, instructor.Name, prj["instructor"].(map[string]interface{})["name"])
	})
}

func Test_projectApi_invites(t *testing.T) {
	app := setup(t)
	instructor := testutil.CreateInstructor(t, app.usrRepo, "Ada")
	other := testutil.CreateInstructor(t, app.usrRepo, "Eve")
	student := testutil.CreateStudent(t, app.usrRepo, "Bob")
	intruder := testutil.CreateStudent(t, app.usrRepo, "Mallory")
	p := testutil.CreateProject(t, app.prjRepo, instructor, "Compilers")
	instructorToken := app.getToken(t, instructor)

	send := func(projectID, email, instructorID string) []byte {
		return marshalObj(t, map[string]string{"projectId": projectID, "studentEmail": email, "instructorId": instructorID})
	}
	tests := []httpTest{
		{
			name:     "missing fields",
			body:     send(p.ID, "", instructor.ID),
			token:    instructorToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "Missing required fields"}),
		},
		{
			name:     "not the owner",
			body:     send(p.ID, student.Email, other.ID),
			token:    app.getToken(t, other),
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "This project does not belong to you"}),
		},
		{
			name:     "unknown project",
			body:     send("nope", student.Email, instructor.ID),
			token:    instructorToken,
			wantCode: http.StatusNotFound,
			wantData: marshalObj(t, httpErr{Error: "Project not found"}),
		},
		{
			name:     "unknown student",
			body:     send(p.ID, "nobody@example.com", instructor.ID),
			token:    instructorToken,
			wantCode: http.StatusNotFound,
			wantData: marshalObj(t, httpErr{Error: "Student not found"}),
		},
		{
			name:     "instructor invited",
			body:     send(p.ID, other.Email, instructor.ID),
			token:    instructorToken,
			wantCode: http.StatusNotFound,
			wantData: marshalObj(t, httpErr{Error: "Student not found"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/api/invites/send"
	}
	runHTTPTests(t, app, tests)

	rec := app.do(http.MethodPost, "/api/invites/send", instructorToken, send(p.ID, " BOB@example.com ", instructor.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	inv, _ := decode(t, rec)["invite"].(map[string]interface{})
	require.NotNil(t, inv)
	assert.Equal(t, student.ID, inv["studentId"])
	assert.Equal(t, project.InviteStatusPending, inv["status"])
	inviteID := inv["id"].(string)

	rec = app.do(http.MethodPost, "/api/invites/send", instructorToken, send(p.ID, student.Email, instructor.ID))
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marshalObj(t, httpErr{Error: "Invite already sent to this student"}),
	}, rec)

	respond := func(id, status, studentID string) []byte {
		return marshalObj(t, map[string]string{"inviteId": id, "status": status, "studentId": studentID})
	}
	tests = []httpTest{
		{
			name:     "invalid status",
			body:     respond(inviteID, "maybe", student.ID),
			token:    app.getToken(t, student),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "Invalid status"}),
		},
		{
			name:     "someone else's invite",
			body:     respond(inviteID, project.InviteStatusAccepted, intruder.ID),
			token:    app.getToken(t, intruder),
			wantCode: http.StatusNotFound,
			wantData: marshalObj(t, httpErr{Error: "Invite not found or unauthorized"}),
		},
		{
			name:     "responding for someone else",
			body:     respond(inviteID, project.InviteStatusAccepted, student.ID),
			token:    app.getToken(t, intruder),
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "Unauthorized"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/api/invites/respond"
	}
	runHTTPTests(t, app, tests)

	rec = app.do(http.MethodPost, "/api/invites/respond", app.getToken(t, student), respond(inviteID, "Accepted", student.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	inv, _ = decode(t, rec)["invite"].(map[string]interface{})
	assert.Equal(t, project.InviteStatusAccepted, inv["status"])

	// accepted students see the project's surveys
	rec = app.do(http.MethodGet, "/api/projects/"+p.ID+"/surveys", app.getToken(t, student))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = app.do(http.MethodGet, "/api/projects/"+p.ID+"/surveys", app.getToken(t, intruder))
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
}

func Test_projectApi_teams(t *testing.T) {
	app := setup(t)
	instructor := testutil.CreateInstructor(t, app.usrRepo, "Ada")
	other := testutil.CreateInstructor(t, app.usrRepo, "Eve")
	s1 := testutil.CreateStudent(t, app.usrRepo, "Bob")
	s2 := testutil.CreateStudent(t, app.usrRepo, "Carol")
	s3 := testutil.CreateStudent(t, app.usrRepo, "Dan")
	s4 := testutil.CreateStudent(t, app.usrRepo, "Erin")
	p := testutil.CreateProject(t, app.prjRepo, instructor, "Compilers")
	testutil.CreateInvite(t, app.prjRepo, p, s1, project.InviteStatusAccepted)
	testutil.CreateInvite(t, app.prjRepo, p, s2, project.InviteStatusAccepted)
	testutil.CreateInvite(t, app.prjRepo, p, s3, project.InviteStatusAccepted)
	testutil.CreateInvite(t, app.prjRepo, p, s4, project.InviteStatusPending)
	instructorToken := app.getToken(t, instructor)

	newTeam := func(projectID string, ids ...string) []byte {
		return marshalObj(t, map[string]interface{}{"projectId": projectID, "studentIds": ids})
	}

	// unassigned before any team: accepted invites only
	rec := app.do(http.MethodGet, "/api/projects/"+p.ID+"/unassigned-students", instructorToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusOK,
		wantData: marshalObj(t, []interface{}{s1.Summary(), s2.Summary(), s3.Summary()}),
	}, rec)

	tests := []httpTest{
		{
			name:     "student",
			body:     newTeam(p.ID, s1.ID, s2.ID),
			token:    app.getToken(t, s1),
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "Unauthorized"}),
		},
		{
			name:     "no students",
			body:     newTeam(p.ID),
			token:    instructorToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "Invalid input"}),
		},
		{
			name:     "malformed body",
			body:     []byte(`{"projectId": 42}`),
			token:    instructorToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "Invalid input"}),
		},
		{
			name:     "not the owner",
			body:     newTeam(p.ID, s1.ID, s2.ID),
			token:    app.getToken(t, other),
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "Unauthorized"}),
		},
		{
			name:     "unknown student",
			body:     newTeam(p.ID, s1.ID, "nope"),
			token:    instructorToken,
			wantCode: http.StatusNotFound,
			wantData: marshalObj(t, httpErr{Error: "Student not found"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/api/teams/create"
	}
	runHTTPTests(t, app, tests)

	rec = app.do(http.MethodPost, "/api/teams/create", instructorToken, newTeam(p.ID, s1.ID, s2.ID, s1.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	team, _ := decode(t, rec)["team"].(map[string]interface{})
	assert.Equal(t, "Team 1", team["name"])
	assert.Len(t, team["members"], 2)

	rec = app.do(http.MethodPost, "/api/teams/create", instructorToken, newTeam(p.ID, s3.ID, s2.ID))
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marshalObj(t, httpErr{Error: "Student(s) already in a team: " + s2.Email}),
	}, rec)

	rec = app.do(http.MethodPost, "/api/teams/create", instructorToken, newTeam(p.ID, s3.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	team, _ = decode(t, rec)["team"].(map[string]interface{})
	assert.Equal(t, "Team 2", team["name"])

	// my-team
	rec = app.do(http.MethodGet, "/api/projects/"+p.ID+"/my-team?studentId="+s1.ID, app.getToken(t, s1))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	members, _ := decode(t, rec)["members"].([]interface{})
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.(map[string]interface{})["studentId"].(string))
	}
	assert.ElementsMatch(t, []string{s1.ID, s2.ID}, ids)

	tests = []httpTest{
		{
			name:     "my-team: missing student id",
			path:     "/api/projects/" + p.ID + "/my-team",
			token:    app.getToken(t, s1),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "studentId is required"}),
		},
		{
			name:     "my-team: another student's team",
			path:     "/api/projects/" + p.ID + "/my-team?studentId=" + s1.ID,
			token:    app.getToken(t, s3),
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "Unauthorized"}),
		},
		{
			name:     "my-team: not in a team",
			path:     "/api/projects/" + p.ID + "/my-team?studentId=" + s4.ID,
			token:    app.getToken(t, s4),
			wantCode: http.StatusOK,
			wantData: marshalObj(t, map[string]interface{}{"success": true, "members": []interface{}{}}),
		},
		{
			name:     "unassigned: all assigned",
			path:     "/api/projects/" + p.ID + "/unassigned-students",
			token:    instructorToken,
			wantCode: http.StatusOK,
			wantData: []byte(`[]`),
		},
		{
			name:     "unassigned: not the owner",
			path:     "/api/projects/" + p.ID + "/unassigned-students",
			token:    app.getToken(t, other),
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "Unauthorized"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodGet
	}
	runHTTPTests(t, app, tests)

	// the owning instructor may look at any student's team
	rec = app.do(http.MethodGet, "/api/projects/"+p.ID+"/my-team?studentId="+s3.ID, instructorToken)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func Test_projectApi_delete(t *testing.T) {
	app := setup(t)
	instructor := testutil.CreateInstructor(t, app.usrRepo, "Ada")
	other := testutil.CreateInstructor(t, app.usrRepo, "Eve")
	s1 := testutil.CreateStudent(t, app.usrRepo, "Bob")
	s2 := testutil.CreateStudent(t, app.usrRepo, "Carol")

	p := testutil.CreateProject(t, app.prjRepo, instructor, "Compilers")
	kept := testutil.CreateProject(t, app.prjRepo, instructor, "Databases")
	testutil.CreateTeam(t, app.prjRepo, p, "Team 1", s1, s2)
	testutil.CreateTeam(t, app.prjRepo, kept, "Team 1", s1)
	a := testutil.CreateAssignment(t, app.surveyRepo, p, "Midterm", time.Now().Add(time.Hour), "Teamwork")
	testutil.CreateResponse(t, app.surveyRepo, a, s1, s2, survey.Answers{a.Survey.Criteria[0].ID: {Text: "great", Rating: 5}})

	del := func(projectID, instructorID string) []byte {
		return marshalObj(t, map[string]string{"projectId": projectID, "instructorId": instructorID})
	}
	tests := []httpTest{
		{
			name:     "missing fields",
			body:     del("", instructor.ID),
			token:    app.getToken(t, instructor),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "Missing fields"}),
		},
		{
			name:     "not the owner",
			body:     del(p.ID, other.ID),
			token:    app.getToken(t, other),
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "Unauthorized"}),
		},
		{
			name:     "unknown project",
			body:     del("nope", instructor.ID),
			token:    app.getToken(t, instructor),
			wantCode: http.StatusNotFound,
			wantData: marshalObj(t, httpErr{Error: "Project not found"}),
		},
		{
			name:     "deleted",
			body:     del(p.ID, instructor.ID),
			token:    app.getToken(t, instructor),
			wantCode: http.StatusOK,
			wantData: marshalObj(t, map[string]bool{"success": true}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodDelete
		tests[i].path = "/api/projects/delete"
	}
	runHTTPTests(t, app, tests)

	count := func(query string, args ...interface{}) int {
		var n int
		require.NoError(t, app.db.Get(&n, app.db.Rebind(query), args...))
		return n
	}
	assert.Equal(t, 0, count("SELECT COUNT(*) FROM projects WHERE id = ?", p.ID))
	assert.Equal(t, 0, count("SELECT COUNT(*) FROM invites WHERE project_id = ?", p.ID))
	assert.Equal(t, 0, count("SELECT COUNT(*) FROM teams WHERE project_id = ?", p.ID))
	assert.Equal(t, 0, count("SELECT COUNT(*) FROM survey_assignments WHERE project_id = ?", p.ID))
	assert.Equal(t, 0, count("SELECT COUNT(*) FROM survey_responses WHERE assignment_id = ?", a.ID))

	// the other project is untouched
	assert.Equal(t, 1, count("SELECT COUNT(*) FROM projects WHERE id = ?", kept.ID))
	assert.Equal(t, 1, count("SELECT COUNT(*) FROM team_members"))
}
