package tests

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peereval/backend/core/project"
	"github.com/peereval/backend/core/survey"
	"github.com/peereval/backend/core/user"
	"github.com/peereval/backend/tests"
)

type surveyFixture struct {
	instructor, other user.User
	s1, s2, s3, loner user.User
	p                 project.Project
	a                 survey.Assignment
	c1, c2            survey.Criterion
}

func newSurveyFixture(t *testing.T, app *testApp) surveyFixture {
	f := surveyFixture{
		instructor: testutil.CreateInstructor(t, app.usrRepo, "Ada"),
		other:      testutil.CreateInstructor(t, app.usrRepo, "Eve"),
		s1:         testutil.CreateStudent(t, app.usrRepo, "Bob"),
		s2:         testutil.CreateStudent(t, app.usrRepo, "Carol"),
		s3:         testutil.CreateStudent(t, app.usrRepo, "Dan"),
		loner:      testutil.CreateStudent(t, app.usrRepo, "Erin"),
	}
	f.p = testutil.CreateProject(t, app.prjRepo, f.instructor, "Compilers")
	testutil.CreateTeam(t, app.prjRepo, f.p, "Team 1", f.s1, f.s2, f.s3)
	testutil.CreateInvite(t, app.prjRepo, f.p, f.loner, project.InviteStatusAccepted)
	f.a = testutil.CreateAssignment(t, app.surveyRepo, f.p, "Midterm", time.Now().Add(24*time.Hour), "Teamwork", "Communication")
	f.c1, f.c2 = f.a.Survey.Criteria[0], f.a.Survey.Criteria[1]
	return f
}

func (f surveyFixture) submission(t *testing.T, respondent user.User, answers map[string]survey.Answers) []byte {
	return marshalObj(t, survey.Submission{
		AssignmentID: f.a.ID,
		RespondentID: respondent.ID,
		ProjectID:    f.p.ID,
		Answers:      answers,
	})
}

// ratings answers both criteria about target.
func (f surveyFixture) ratings(target user.User, teamwork, communication int) map[string]survey.Answers {
	return map[string]survey.Answers{
		target.ID: {
			f.c1.ID: {Text: "teamwork of " + target.Name, Rating: teamwork},
			f.c2.ID: {Text: "communication of " + target.Name, Rating: communication},
		},
	}
}

func merge(answers ...map[string]survey.Answers) map[string]survey.Answers {
	out := make(map[string]survey.Answers)
	for _, a := range answers {
		for k, v := range a {
			out[k] = v
		}
	}
	return out
}

func Test_surveyApi_assign(t *testing.T) {
	app := setup(t)
	f := newSurveyFixture(t, app)
	token := app.getToken(t, f.instructor)

	type body map[string]interface{}
	tests := []httpTest{
		{
			name:     "student",
			body:     marshalObj(t, body{"projectId": f.p.ID, "creatorId": f.s1.ID, "title": "Final", "deadline": "2030-01-01"}),
			token:    app.getToken(t, f.s1),
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "Unauthorized"}),
		},
		{
			name:     "missing deadline",
			body:     marshalObj(t, body{"projectId": f.p.ID, "creatorId": f.instructor.ID, "title": "Final"}),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "projectId, creatorId, title, and deadline are required"}),
		},
		{
			name:     "someone else's id",
			body:     marshalObj(t, body{"projectId": f.p.ID, "creatorId": f.other.ID, "title": "Final", "deadline": "2030-01-01"}),
			token:    token,
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "Unauthorized"}),
		},
		{
			name:     "not the owner",
			body:     marshalObj(t, body{"projectId": f.p.ID, "creatorId": f.other.ID, "title": "Final", "deadline": "2030-01-01"}),
			token:    app.getToken(t, f.other),
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "Project not found or not owned by instructor"}),
		},
		{
			name:     "invalid deadline",
			body:     marshalObj(t, body{"projectId": f.p.ID, "creatorId": f.instructor.ID, "title": "Final", "deadline": "tomorrow"}),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, body{"error": "Invalid deadline", "fields": body{"deadline": "deadline must be a valid date"}}),
		},
		{
			name: "invalid rating range",
			body: marshalObj(t, body{
				"projectId": f.p.ID, "creatorId": f.instructor.ID, "title": "Final", "deadline": "2030-01-01",
				"criteria": []body{{"label": "Effort", "minRating": 5, "maxRating": 1}},
			}),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "Invalid criterion rating range"}),
		},
		{
			name: "blank criterion label",
			body: marshalObj(t, body{
				"projectId": f.p.ID, "creatorId": f.instructor.ID, "title": "Final", "deadline": "2030-01-01",
				"criteria": []body{{"label": "  "}},
			}),
			token:    token,
			wantCode: http.StatusBadRequest,
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/api/surveys/assign"
	}
	runHTTPTests(t, app, tests)

	t.Run("assigned", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/api/surveys/assign", token, marshalObj(t, body{
			"projectId":   f.p.ID,
			"creatorId":   f.instructor.ID,
			"title":       " Final ",
			"description": "End of term",
			"deadline":    "2030-01-01T12:30",
			"criteria":    []body{{"label": "Effort"}, {"label": "Quality", "minRating": 0, "maxRating": 10}},
		}))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		data := decode(t, rec)
		assert.Equal(t, true, data["success"])

		s := data["survey"].(map[string]interface{})
		assert.Equal(t, "Final", s["title"])
		assert.Equal(t, "End of term", s["description"])
		criteria := s["criteria"].([]interface{})
		require.Len(t, criteria, 2)
		effort, quality := criteria[0].(map[string]interface{}), criteria[1].(map[string]interface{})
		assert.Equal(t, "Effort", effort["label"])
		assert.EqualValues(t, 1, effort["minRating"])
		assert.EqualValues(t, 5, effort["maxRating"])
		assert.Equal(t, "Quality", quality["label"])
		assert.EqualValues(t, 0, quality["minRating"])
		assert.EqualValues(t, 10, quality["maxRating"])

		a := data["assignment"].(map[string]interface{})
		assert.Equal(t, f.p.ID, a["projectId"])
		assert.Equal(t, s["id"], a["surveyId"])
		assert.Equal(t, "2030-01-01T12:30:00Z", a["deadline"])
		assert.Equal(t, survey.AssignmentStatusActive, a["status"])

		// listed with the project's surveys, newest first
		rec = app.do(http.MethodGet, "/api/projects/"+f.p.ID+"/surveys", app.getToken(t, f.s1))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assignments := decode(t, rec)["assignments"].([]interface{})
		require.Len(t, assignments, 2)
		assert.Equal(t, a["id"], assignments[0].(map[string]interface{})["id"])
	})
}

func Test_surveyApi_submit(t *testing.T) {
	app := setup(t)
	f := newSurveyFixture(t, app)
	s1Token := app.getToken(t, f.s1)

	closed := testutil.CreateAssignment(t, app.surveyRepo, f.p, "Closed", time.Now().Add(-time.Hour), "Teamwork")

	tests := []httpTest{
		{
			name:     "missing answers",
			body:     f.submission(t, f.s1, nil),
			token:    s1Token,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "assignmentId, respondentId, projectId, answers required"}),
		},
		{
			name:     "on behalf of someone else",
			body:     f.submission(t, f.s2, f.ratings(f.s3, 4, 4)),
			token:    s1Token,
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "Unauthorized"}),
		},
		{
			name:     "self rating",
			body:     f.submission(t, f.s1, f.ratings(f.s1, 5, 5)),
			token:    s1Token,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "Targets must be teammates"}),
		},
		{
			name:     "outsider target",
			body:     f.submission(t, f.s1, f.ratings(f.loner, 5, 5)),
			token:    s1Token,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "Targets must be teammates"}),
		},
		{
			name:     "respondent without team",
			body:     f.submission(t, f.loner, f.ratings(f.s1, 5, 5)),
			token:    app.getToken(t, f.loner),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "Respondent not part of a team for this project"}),
		},
		{
			name:     "rating out of range",
			body:     f.submission(t, f.s1, f.ratings(f.s2, 6, 3)),
			token:    s1Token,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "Rating out of range"}),
		},
		{
			name: "unknown criterion",
			body: f.submission(t, f.s1, map[string]survey.Answers{
				f.s2.ID: {"nope": {Text: "?", Rating: 3}},
			}),
			token:    s1Token,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "Unknown criterion"}),
		},
		{
			name: "wrong project",
			body: marshalObj(t, survey.Submission{
				AssignmentID: f.a.ID, RespondentID: f.s1.ID, ProjectID: "nope", Answers: f.ratings(f.s2, 4, 4),
			}),
			token:    s1Token,
			wantCode: http.StatusNotFound,
			wantData: marshalObj(t, httpErr{Error: "Assignment not found"}),
		},
		{
			name: "deadline passed",
			body: marshalObj(t, survey.Submission{
				AssignmentID: closed.ID, RespondentID: f.s1.ID, ProjectID: f.p.ID,
				Answers: map[string]survey.Answers{f.s2.ID: {closed.Survey.Criteria[0].ID: {Text: "late", Rating: 3}}},
			}),
			token:    s1Token,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "Deadline has passed"}),
		},
		{
			name:     "submitted",
			body:     f.submission(t, f.s1, merge(f.ratings(f.s2, 4, 3), f.ratings(f.s3, 5, 2))),
			token:    s1Token,
			wantCode: http.StatusOK,
			wantData: marshalObj(t, map[string]bool{"success": true}),
		},
		{
			name:     "re-submitted",
			body:     f.submission(t, f.s1, f.ratings(f.s2, 5, 5)),
			token:    s1Token,
			wantCode: http.StatusOK,
			wantData: marshalObj(t, map[string]bool{"success": true}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/api/surveys/submit"
	}
	runHTTPTests(t, app, tests)

	// re-submitting replaced the answers instead of adding a response
	rec := app.do(http.MethodGet, "/api/surveys/"+f.a.ID+"/responses", app.getToken(t, f.instructor))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	responses := decode(t, rec)["responses"].([]interface{})
	require.Len(t, responses, 2)
	for _, r := range responses {
		rm := r.(map[string]interface{})
		if rm["targetStudentId"] == f.s2.ID {
			answers := rm["answers"].(map[string]interface{})
			assert.EqualValues(t, 5, answers[f.c1.ID].(map[string]interface{})["rating"])
		}
	}

	// accepted submissions are counted
	families, err := app.registry.Gather()
	require.NoError(t, err)
	var submissions float64
	for _, mf := range families {
		if mf.GetName() == "peereval_surveys_submissions_total" {
			submissions = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(2), submissions)
}

func Test_surveyApi_completionAndFeedback(t *testing.T) {
	app := setup(t)
	f := newSurveyFixture(t, app)
	tokens := map[string]string{
		f.s1.ID: app.getToken(t, f.s1),
		f.s2.ID: app.getToken(t, f.s2),
		f.s3.ID: app.getToken(t, f.s3),
	}
	instructorToken := app.getToken(t, f.instructor)
	base := "/api/surveys/" + f.a.ID

	submit := func(respondent user.User, answers map[string]survey.Answers) {
		rec := app.do(http.MethodPost, "/api/surveys/submit", tokens[respondent.ID], f.submission(t, respondent, answers))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	// s1 rates both teammates
	submit(f.s1, merge(f.ratings(f.s2, 4, 3), f.ratings(f.s3, 5, 2)))

	rec := app.do(http.MethodGet, base+"/my-status?respondentId="+f.s1.ID, tokens[f.s1.ID])
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: []byte(`{"success": true, "submitted": true}`)}, rec)
	rec = app.do(http.MethodGet, base+"/my-status?respondentId="+f.s2.ID, tokens[f.s2.ID])
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: []byte(`{"success": true, "submitted": false}`)}, rec)

	rec = app.do(http.MethodGet, base+"/completion-status?studentId="+f.s2.ID, tokens[f.s2.ID])
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decode(t, rec)
	assert.Equal(t, false, status["allSubmitted"])
	assert.EqualValues(t, 1, status["submittedCount"])
	assert.EqualValues(t, 3, status["totalCount"])
	assert.ElementsMatch(t, []interface{}{f.s1.ID, f.s2.ID, f.s3.ID}, status["teamMemberIds"])

	rec = app.do(http.MethodGet, base+"/download-pdf?studentId="+f.s2.ID, tokens[f.s2.ID])
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marshalObj(t, httpErr{Error: "Survey is not fully completed by all team members yet"}),
	}, rec)

	// the rest of the team submits
	submit(f.s2, merge(f.ratings(f.s1, 4, 4), f.ratings(f.s3, 3, 3)))
	submit(f.s3, merge(f.ratings(f.s1, 5, 2), f.ratings(f.s2, 2, 5)))

	rec = app.do(http.MethodGet, base+"/completion-status?studentId="+f.s1.ID, tokens[f.s1.ID])
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status = decode(t, rec)
	assert.Equal(t, true, status["allSubmitted"])
	assert.EqualValues(t, 3, status["submittedCount"])

	t.Run("my feedback is anonymous", func(t *testing.T) {
		rec := app.do(http.MethodGet, base+"/my-feedback?targetStudentId="+f.s1.ID, tokens[f.s1.ID])
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data := decode(t, rec)
		assert.EqualValues(t, 2, data["totalResponses"])
		assert.Len(t, data["criteria"], 2)

		byCriterion := data["feedbackByCriterion"].(map[string]interface{})
		require.Len(t, byCriterion, 2)
		items := byCriterion[f.c1.ID].([]interface{})
		require.Len(t, items, 2)
		var labels []interface{}
		var ratings []interface{}
		for _, it := range items {
			item := it.(map[string]interface{})
			assert.ElementsMatch(t, []string{"anonymousId", "text", "rating"}, keys(item))
			labels = append(labels, item["anonymousId"])
			ratings = append(ratings, item["rating"])
		}
		assert.ElementsMatch(t, []interface{}{"Peer 1", "Peer 2"}, labels)
		assert.ElementsMatch(t, []interface{}{float64(4), float64(5)}, ratings)
		assert.NotContains(t, rec.Body.String(), f.s2.ID)
		assert.NotContains(t, rec.Body.String(), f.s3.Email)
	})

	t.Run("who rated me", func(t *testing.T) {
		rec := app.do(http.MethodGet, base+"/who-rated-me?targetStudentId="+f.s1.ID, tokens[f.s1.ID])
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusOK,
			wantData: marshalObj(t, map[string]interface{}{
				"success":     true,
				"respondents": []user.Summary{f.s2.Summary(), f.s3.Summary()},
			}),
		}, rec)
	})

	t.Run("student views are private", func(t *testing.T) {
		tests := []httpTest{
			{name: "my feedback", path: base + "/my-feedback?targetStudentId=" + f.s1.ID},
			{name: "who rated me", path: base + "/who-rated-me?targetStudentId=" + f.s1.ID},
			{name: "my status", path: base + "/my-status?respondentId=" + f.s1.ID},
			{name: "completion status", path: base + "/completion-status?studentId=" + f.s1.ID},
			{name: "report", path: base + "/download-pdf?studentId=" + f.s1.ID},
			{name: "results", path: base + "/results"},
			{name: "responses", path: base + "/responses"},
		}
		for i := range tests {
			tests[i].method = http.MethodGet
			tests[i].token = tokens[f.s2.ID]
			tests[i].wantCode = http.StatusForbidden
			tests[i].wantData = marshalObj(t, httpErr{Error: "Unauthorized"})
		}
		runHTTPTests(t, app, tests)

		// nor visible to instructors of other projects
		rec := app.do(http.MethodGet, base+"/my-feedback?targetStudentId="+f.s1.ID, app.getToken(t, f.other))
		assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
		rec = app.do(http.MethodGet, base+"/results", app.getToken(t, f.other))
		assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	})

	t.Run("report", func(t *testing.T) {
		rec := app.do(http.MethodGet, base+"/download-pdf?studentId="+f.s1.ID, tokens[f.s1.ID])
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="feedback-report-midterm-bob.pdf"`, rec.Header().Get("Content-Disposition"))
		assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

		// the owning instructor may download it too
		rec = app.do(http.MethodGet, base+"/download-pdf?studentId="+f.s1.ID, instructorToken)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("results", func(t *testing.T) {
		rec := app.do(http.MethodGet, base+"/results", instructorToken)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data := decode(t, rec)

		stats := data["overallStats"].(map[string]interface{})
		assert.EqualValues(t, 3, stats["totalStudents"])
		assert.EqualValues(t, 3, stats["completedStudents"])
		assert.EqualValues(t, 100, stats["overallCompletionPercentage"])
		assert.EqualValues(t, 6, stats["totalResponses"])

		completion := data["completionStatus"].([]interface{})
		require.Len(t, completion, 3)
		for _, c := range completion {
			row := c.(map[string]interface{})
			assert.Equal(t, "Team 1", row["teamName"])
			assert.EqualValues(t, 2, row["expectedSubmissions"])
			assert.Equal(t, true, row["isComplete"])
			assert.EqualValues(t, 100, row["completionPercentage"])
		}

		aggregated := data["aggregatedResults"].([]interface{})
		require.Len(t, aggregated, 2)
		teamwork := aggregated[0].(map[string]interface{})
		assert.Equal(t, "Teamwork", teamwork["criterionLabel"])
		assert.EqualValues(t, 6, teamwork["totalResponses"])
		// 4, 5, 4, 3, 5, 2
		assert.InDelta(t, 3.83, teamwork["averageRating"], 1e-9)
		// instructors see who wrote what
		details := teamwork["responses"].([]interface{})
		assert.Contains(t, []interface{}{"Bob", "Carol", "Dan"}, details[0].(map[string]interface{})["respondentName"])
	})
}

func keys(m map[string]interface{}) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	return ks
}
