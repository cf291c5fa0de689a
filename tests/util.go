// Package testutil holds the helpers shared by the tests of every package: an in-memory database
// with the migrations applied, fixtures and a logger.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/peereval/backend/core"
	"github.com/peereval/backend/core/project"
	"github.com/peereval/backend/core/survey"
	"github.com/peereval/backend/core/user"
	"github.com/peereval/backend/storage/database"
)

// PrepareDB opens a private in-memory sqlite database with every migration applied.
// The database is closed when the test ends.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Open(core.NewTestConfig())
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("PrepareDB() failed to migrate: %v", err)
	}
	return db
}

func CreateUser(t *testing.T, repo user.Repository, name, email, pwd, role string, createdAt ...time.Time) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        core.NewID(),
		Name:      name,
		Email:     email,
		Role:      role,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd == "" {
		pwd = core.NewID()
	}
	if err := usr.SetPassword(pwd, core.NewTestConfig().PasswordHashCost); err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateStudent(t *testing.T, repo user.Repository, name string) user.User {
	t.Helper()
	return CreateUser(t, repo, name, emailOf(name), "", user.RoleStudent)
}

func CreateInstructor(t *testing.T, repo user.Repository, name string) user.User {
	t.Helper()
	return CreateUser(t, repo, name, emailOf(name), "", user.RoleInstructor)
}

func emailOf(name string) string {
	local := strings.ReplaceAll(core.CleanString(name, true /* lower */), " ", ".")
	return fmt.Sprintf("%s@example.com", local)
}

func CreateProject(t *testing.T, repo project.Repository, instructor user.User, title string) project.Project {
	t.Helper()
	p, err := repo.CreateProject(context.Background(), project.Project{
		ID:           core.NewID(),
		Title:        title,
		Description:  title + " description",
		InstructorID: instructor.ID,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateProject() failed: %v", err)
	}
	return p
}

func CreateInvite(t *testing.T, repo project.Repository, p project.Project, student user.User, status string) project.Invite {
	t.Helper()
	inv, err := repo.CreateInvite(context.Background(), project.Invite{
		ID:        core.NewID(),
		ProjectID: p.ID,
		StudentID: student.ID,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateInvite() failed: %v", err)
	}
	return inv
}

// CreateTeam creates a team of students in p. Each student is given an accepted invite first.
func CreateTeam(t *testing.T, repo project.Repository, p project.Project, name string, students ...user.User) project.Team {
	t.Helper()
	team := project.Team{
		ID:        core.NewID(),
		ProjectID: p.ID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	for _, s := range students {
		CreateInvite(t, repo, p, s, project.InviteStatusAccepted)
		sum := s.Summary()
		team.Members = append(team.Members, project.TeamMember{TeamID: team.ID, StudentID: s.ID, Student: &sum})
	}
	team, err := repo.CreateTeam(context.Background(), team)
	if err != nil {
		t.Fatalf("CreateTeam() failed: %v", err)
	}
	return team
}

// CreateAssignment creates a survey with one 1-5 criterion per label and assigns it to p.
func CreateAssignment(
	t *testing.T,
	repo survey.Repository,
	p project.Project,
	title string,
	deadline time.Time,
	labels ...string,
) survey.Assignment {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	s, err := repo.CreateSurvey(ctx, survey.Survey{
		ID:        core.NewID(),
		Title:     title,
		CreatorID: p.InstructorID,
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateAssignment() failed: %v", err)
	}
	for i, label := range labels {
		s.Criteria = append(s.Criteria, survey.Criterion{
			ID:        core.NewID(),
			SurveyID:  s.ID,
			Label:     label,
			MinRating: survey.DefaultMinRating,
			MaxRating: survey.DefaultMaxRating,
			Order:     i + 1,
		})
	}
	if err = repo.CreateCriteria(ctx, s.Criteria); err != nil {
		t.Fatalf("CreateAssignment() failed: %v", err)
	}

	a, err := repo.CreateAssignment(ctx, survey.Assignment{
		ID:        core.NewID(),
		ProjectID: p.ID,
		SurveyID:  s.ID,
		Deadline:  deadline.UTC(),
		Status:    survey.AssignmentStatusActive,
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateAssignment() failed: %v", err)
	}
	a.Survey = &s
	return a
}

// CreateResponse stores respondent's answers about target.
func CreateResponse(
	t *testing.T,
	repo survey.Repository,
	a survey.Assignment,
	respondent, target user.User,
	answers survey.Answers,
) survey.Response {
	t.Helper()
	now := time.Now().UTC()
	r, err := repo.UpsertResponse(context.Background(), survey.Response{
		ID:              core.NewID(),
		AssignmentID:    a.ID,
		RespondentID:    respondent.ID,
		TargetStudentID: target.ID,
		Answers:         answers,
		SubmittedAt:     now,
		UpdatedAt:       now,
	})
	if err != nil {
		t.Fatalf("CreateResponse() failed: %v", err)
	}
	return r
}
