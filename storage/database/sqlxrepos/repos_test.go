package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/peereval/backend/core"
	"github.com/peereval/backend/core/project"
	"github.com/peereval/backend/core/survey"
	"github.com/peereval/backend/core/user"
	"github.com/peereval/backend/storage/database/sqlxrepos"
	"github.com/peereval/backend/tests"
)

func TestUserRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewUserRepository(db)
	ctx := context.Background()

	ada := testutil.CreateInstructor(t, repo, "Ada")
	bob := testutil.CreateStudent(t, repo, "Bob")
	testutil.CreateStudent(t, repo, "Carol")

	t.Run("get", func(t *testing.T) {
		got, err := repo.GetUser(ctx, user.GetFilter{Email: ada.Email})
		require.NoError(t, err)
		assert.Equal(t, ada.ID, got.ID)
		assert.Equal(t, user.RoleInstructor, got.Role)
		assert.Error(t, got.CheckPassword("wrong"))

		_, err = repo.GetUser(ctx, user.GetFilter{ID: "nope"})
		assert.Equal(t, user.ErrNotFound, err)
		_, err = repo.GetUser(ctx, user.GetFilter{})
		assert.Equal(t, user.ErrNotFound, err)
	})

	t.Run("duplicate email", func(t *testing.T) {
		dup := bob
		dup.ID = core.NewID()
		_, err := repo.CreateUser(ctx, dup)
		assert.Error(t, err)
	})

	t.Run("query", func(t *testing.T) {
		students, err := repo.QueryUsers(ctx, user.QueryFilter{Role: user.RoleStudent})
		require.NoError(t, err)
		require.Len(t, students, 2)
		assert.Equal(t, "Bob", students[0].Name)
		assert.Equal(t, "Carol", students[1].Name)

		some, err := repo.QueryUsers(ctx, user.QueryFilter{IDs: []string{ada.ID, bob.ID, "nope"}})
		require.NoError(t, err)
		assert.Len(t, some, 2)

		none, err := repo.QueryUsers(ctx, user.QueryFilter{IDs: []string{}})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("update reset token", func(t *testing.T) {
		expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		bob.PasswordResetToken = null.StringFrom("token")
		bob.TokenExpiry = null.TimeFrom(expiry)
		_, err := repo.UpdateUser(ctx, bob)
		require.NoError(t, err)

		got, err := repo.GetUser(ctx, user.GetFilter{PasswordResetToken: "token"})
		require.NoError(t, err)
		assert.Equal(t, bob.ID, got.ID)
		assert.True(t, got.TokenExpiry.Valid)
		assert.True(t, expiry.Equal(got.TokenExpiry.Time))

		_, err = repo.UpdateUser(ctx, user.User{ID: "nope"})
		assert.Equal(t, user.ErrNotFound, err)
	})
}

func TestProjectRepository_invitesAndTeams(t *testing.T) {
	db := testutil.PrepareDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	repo := sqlxrepos.NewProjectRepository(db)
	ctx := context.Background()

	ada := testutil.CreateInstructor(t, usrRepo, "Ada")
	bob := testutil.CreateStudent(t, usrRepo, "Bob")
	carol := testutil.CreateStudent(t, usrRepo, "Carol")
	dan := testutil.CreateStudent(t, usrRepo, "Dan")
	p := testutil.CreateProject(t, repo, ada, "Compilers")

	inv := testutil.CreateInvite(t, repo, p, bob, project.InviteStatusPending)
	testutil.CreateInvite(t, repo, p, carol, project.InviteStatusAccepted)
	testutil.CreateInvite(t, repo, p, dan, project.InviteStatusAccepted)

	t.Run("invites", func(t *testing.T) {
		got, err := repo.GetInvite(ctx, project.InviteFilter{ProjectID: p.ID, StudentID: bob.ID})
		require.NoError(t, err)
		assert.Equal(t, inv.ID, got.ID)

		_, err = repo.GetInvite(ctx, project.InviteFilter{ID: inv.ID, StudentID: carol.ID})
		assert.True(t, core.IsNotFound(err))

		updated, err := repo.UpdateInviteStatus(ctx, inv.ID, project.InviteStatusAccepted)
		require.NoError(t, err)
		assert.Equal(t, project.InviteStatusAccepted, updated.Status)

		invites, err := repo.QueryInvites(ctx, project.InviteFilter{StudentID: bob.ID})
		require.NoError(t, err)
		require.Len(t, invites, 1)
		require.NotNil(t, invites[0].Project)
		assert.Equal(t, "Compilers", invites[0].Project.Title)
		require.NotNil(t, invites[0].Project.Instructor)
		assert.Equal(t, ada.Email, invites[0].Project.Instructor.Email)
		require.NotNil(t, invites[0].Student)
		assert.Equal(t, bob.Email, invites[0].Student.Email)
	})

	t.Run("teams", func(t *testing.T) {
		n, err := repo.CountTeams(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		team, err := repo.CreateTeam(ctx, project.Team{
			ID:        core.NewID(),
			ProjectID: p.ID,
			Name:      "Team 1",
			CreatedAt: time.Now().UTC(),
			Members:   []project.TeamMember{{StudentID: bob.ID}, {StudentID: carol.ID}},
		})
		require.NoError(t, err)

		n, err = repo.CountTeams(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := repo.GetStudentTeam(ctx, p.ID, carol.ID)
		require.NoError(t, err)
		assert.Equal(t, team.ID, got.ID)
		assert.ElementsMatch(t, []string{bob.ID, carol.ID}, got.MemberIDs())
		for _, m := range got.Members {
			require.NotNil(t, m.Student)
			assert.NotEmpty(t, m.Student.Email)
		}

		_, err = repo.GetStudentTeam(ctx, p.ID, dan.ID)
		assert.Equal(t, project.ErrTeamNotFound, err)

		taken, err := repo.QueryTeamStudents(ctx, p.ID, []string{carol.ID, dan.ID})
		require.NoError(t, err)
		require.Len(t, taken, 1)
		assert.Equal(t, carol.ID, taken[0].ID)

		unassigned, err := repo.QueryUnassignedStudents(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, []user.Summary{dan.Summary()}, unassigned)

		teams, err := repo.QueryTeams(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, teams, 1)
		assert.Len(t, teams[0].Members, 2)
	})
}

func TestSurveyRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	prjRepo := sqlxrepos.NewProjectRepository(db)
	repo := sqlxrepos.NewSurveyRepository(db)
	ctx := context.Background()

	ada := testutil.CreateInstructor(t, usrRepo, "Ada")
	bob := testutil.CreateStudent(t, usrRepo, "Bob")
	carol := testutil.CreateStudent(t, usrRepo, "Carol")
	dan := testutil.CreateStudent(t, usrRepo, "Dan")
	p := testutil.CreateProject(t, prjRepo, ada, "Compilers")
	a := testutil.CreateAssignment(t, repo, p, "Midterm", time.Now().Add(time.Hour), "Teamwork", "Communication", "Quality")

	t.Run("criteria are ordered", func(t *testing.T) {
		criteria, err := repo.QueryCriteria(ctx, a.SurveyID)
		require.NoError(t, err)
		require.Len(t, criteria, 3)
		for i, label := range []string{"Teamwork", "Communication", "Quality"} {
			assert.Equal(t, label, criteria[i].Label)
			assert.Equal(t, i+1, criteria[i].Order)
			assert.Equal(t, survey.DefaultMinRating, criteria[i].MinRating)
			assert.Equal(t, survey.DefaultMaxRating, criteria[i].MaxRating)
		}
	})

	t.Run("assignments", func(t *testing.T) {
		got, err := repo.GetAssignment(ctx, survey.AssignmentFilter{ID: a.ID, ProjectID: p.ID})
		require.NoError(t, err)
		require.NotNil(t, got.Survey)
		assert.Equal(t, "Midterm", got.Survey.Title)
		assert.False(t, got.Survey.Description.Valid)
		assert.NotNil(t, got.Survey.Criteria)

		_, err = repo.GetAssignment(ctx, survey.AssignmentFilter{ID: a.ID, ProjectID: "nope"})
		assert.Equal(t, survey.ErrAssignmentNotFound, err)
		_, err = repo.GetAssignment(ctx, survey.AssignmentFilter{})
		assert.Equal(t, survey.ErrAssignmentNotFound, err)

		later := testutil.CreateAssignment(t, repo, p, "Final", time.Now().Add(2*time.Hour))
		as, err := repo.QueryAssignments(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, as, 2)
		assert.Equal(t, later.ID, as[0].ID)
	})

	c1 := a.Survey.Criteria[0].ID
	t.Run("upsert is idempotent per triple", func(t *testing.T) {
		first := testutil.CreateResponse(t, repo, a, bob, carol, survey.Answers{c1: {Text: "ok", Rating: 3}})
		require.NotNil(t, first.Respondent)
		assert.Equal(t, bob.Name, first.Respondent.Name)
		require.NotNil(t, first.TargetStudent)
		assert.Equal(t, carol.Email, first.TargetStudent.Email)

		second := testutil.CreateResponse(t, repo, a, bob, carol, survey.Answers{c1: {Text: "great", Rating: 5}})
		assert.Equal(t, first.ID, second.ID)
		assert.True(t, first.SubmittedAt.Equal(second.SubmittedAt))
		assert.Equal(t, survey.Answer{Text: "great", Rating: 5}, second.Answers[c1])

		responses, err := repo.QueryResponses(ctx, survey.ResponseFilter{AssignmentID: a.ID})
		require.NoError(t, err)
		assert.Len(t, responses, 1)
	})

	t.Run("counts and respondents", func(t *testing.T) {
		testutil.CreateResponse(t, repo, a, bob, dan, survey.Answers{c1: {Rating: 4}})
		testutil.CreateResponse(t, repo, a, dan, carol, survey.Answers{c1: {Rating: 2}})

		n, err := repo.CountDistinctTargets(ctx, a.ID, bob.ID, []string{carol.ID, dan.ID})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = repo.CountDistinctTargets(ctx, a.ID, bob.ID, []string{carol.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = repo.CountDistinctTargets(ctx, a.ID, carol.ID, []string{bob.ID, dan.ID})
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		respondents, err := repo.QueryRespondents(ctx, a.ID, carol.ID)
		require.NoError(t, err)
		assert.Equal(t, []user.Summary{bob.Summary(), dan.Summary()}, respondents)

		respondents, err = repo.QueryRespondents(ctx, a.ID, bob.ID)
		require.NoError(t, err)
		assert.NotNil(t, respondents)
		assert.Empty(t, respondents)

		byTarget, err := repo.QueryResponses(ctx, survey.ResponseFilter{AssignmentID: a.ID, TargetStudentID: carol.ID})
		require.NoError(t, err)
		assert.Len(t, byTarget, 2)
		byRespondent, err := repo.QueryResponses(ctx, survey.ResponseFilter{AssignmentID: a.ID, RespondentID: bob.ID})
		require.NoError(t, err)
		assert.Len(t, byRespondent, 2)
	})
}

func TestProjectRepository_deleteSteps(t *testing.T) {
	db := testutil.PrepareDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	repo := sqlxrepos.NewProjectRepository(db)
	surveyRepo := sqlxrepos.NewSurveyRepository(db)
	ctx := context.Background()

	ada := testutil.CreateInstructor(t, usrRepo, "Ada")
	bob := testutil.CreateStudent(t, usrRepo, "Bob")
	carol := testutil.CreateStudent(t, usrRepo, "Carol")
	p := testutil.CreateProject(t, repo, ada, "Compilers")
	testutil.CreateTeam(t, repo, p, "Team 1", bob, carol)
	a := testutil.CreateAssignment(t, surveyRepo, p, "Midterm", time.Now().Add(time.Hour), "Teamwork")
	c1 := a.Survey.Criteria[0].ID
	testutil.CreateResponse(t, surveyRepo, a, bob, carol, survey.Answers{c1: {Rating: 4}})
	testutil.CreateResponse(t, surveyRepo, a, carol, bob, survey.Answers{c1: {Rating: 5}})

	// dependent rows block the project deletion
	assert.Error(t, repo.DeleteProject(ctx, p.ID))

	assignmentIDs, err := repo.QueryAssignmentIDs(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, assignmentIDs)
	teamIDs, err := repo.QueryTeamIDs(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, teamIDs, 1)

	n, err := repo.DeleteResponses(ctx, assignmentIDs)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	n, err = repo.DeleteAssignments(ctx, assignmentIDs)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = repo.DeleteTeamMembers(ctx, teamIDs)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	n, err = repo.DeleteTeams(ctx, teamIDs)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = repo.DeleteInvites(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	require.NoError(t, repo.DeleteProject(ctx, p.ID))

	assert.Equal(t, project.ErrNotFound, repo.DeleteProject(ctx, p.ID))
	_, err = repo.GetProject(ctx, p.ID)
	assert.Equal(t, project.ErrNotFound, err)
}
