package project

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/peereval/backend/core"
	"github.com/peereval/backend/core/user"
)

var (
	// errors
	ErrNotFound          = core.NewNotFoundError("Project not found")
	ErrNotInstructor     = core.NewForbiddenError("Only instructors can create projects")
	ErrUnauthorized      = core.NewForbiddenError("Unauthorized")
	ErrNotProjectOwner   = core.NewForbiddenError("This project does not belong to you")
	ErrStudentNotFound   = core.NewNotFoundError("Student not found")
	ErrInviteExists      = core.NewValidationError(errors.New("Invite already sent to this student"))
	ErrInviteNotFound    = core.NewNotFoundError("Invite not found or unauthorized")
	ErrInvalidStatus     = core.NewValidationError(errors.New("Invalid status"))
	ErrTeamNotFound      = core.NewNotFoundError("Team not found")
	ErrInvalidTeamInput  = core.NewValidationError(errors.New("Invalid input"))
	errAlreadyInTeamText = "Student(s) already in a team: "

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		CreateProject(ctx context.Context, p Project, exec ...core.DBExecutor) (Project, error)
		GetProject(ctx context.Context, id string, exec ...core.DBExecutor) (Project, error)
		QueryProjects(ctx context.Context, instructorID string, exec ...core.DBExecutor) ([]Project, error)
		DeleteProject(ctx context.Context, id string, exec ...core.DBExecutor) error

		CreateInvite(ctx context.Context, inv Invite, exec ...core.DBExecutor) (Invite, error)
		GetInvite(ctx context.Context, filter InviteFilter, exec ...core.DBExecutor) (Invite, error)
		UpdateInviteStatus(ctx context.Context, id, status string, exec ...core.DBExecutor) (Invite, error)
		// QueryInvites returns the matching invites with their Student and Project (and its Instructor).
		QueryInvites(ctx context.Context, filter InviteFilter, exec ...core.DBExecutor) ([]Invite, error)
		DeleteInvites(ctx context.Context, projectID string, exec ...core.DBExecutor) (int64, error)

		CreateTeam(ctx context.Context, team Team, exec ...core.DBExecutor) (Team, error)
		CountTeams(ctx context.Context, projectID string, exec ...core.DBExecutor) (int, error)
		// QueryTeams returns the project's teams with their members.
		QueryTeams(ctx context.Context, projectID string, exec ...core.DBExecutor) ([]Team, error)
		GetStudentTeam(ctx context.Context, projectID, studentID string, exec ...core.DBExecutor) (Team, error)
		// QueryTeamStudents returns which of studentIDs already belong to a team of the project.
		QueryTeamStudents(ctx context.Context, projectID string, studentIDs []string, exec ...core.DBExecutor) ([]user.Summary, error)
		// QueryUnassignedStudents returns the students with an accepted invite and no team in the project.
		QueryUnassignedStudents(ctx context.Context, projectID string, exec ...core.DBExecutor) ([]user.Summary, error)
		QueryTeamIDs(ctx context.Context, projectID string, exec ...core.DBExecutor) ([]string, error)
		DeleteTeamMembers(ctx context.Context, teamIDs []string, exec ...core.DBExecutor) (int64, error)
		DeleteTeams(ctx context.Context, teamIDs []string, exec ...core.DBExecutor) (int64, error)

		QueryAssignmentIDs(ctx context.Context, projectID string, exec ...core.DBExecutor) ([]string, error)
		DeleteResponses(ctx context.Context, assignmentIDs []string, exec ...core.DBExecutor) (int64, error)
		DeleteAssignments(ctx context.Context, assignmentIDs []string, exec ...core.DBExecutor) (int64, error)
	}

	UserGetter interface {
		GetByID(ctx context.Context, id string) (user.User, error)
		GetByEmail(ctx context.Context, email string) (user.User, error)
		QueryByIDs(ctx context.Context, ids []string) ([]user.User, error)
	}

	Service struct {
		db     core.DB
		repo   Repository
		users  UserGetter
		logger core.Logger
	}
)

func NewService(db core.DB, repo Repository, users UserGetter, logger core.Logger) *Service {
	return &Service{
		db:     db,
		repo:   repo,
		users:  users,
		logger: logger,
	}
}

// Create creates a Project owned by instructorID, who must be an instructor.
func (svc *Service) Create(ctx context.Context, np NewProject) (Project, error) {
	np.Clean()
	instructor, err := svc.users.GetByID(ctx, np.InstructorID)
	if err != nil {
		if core.IsNotFound(err) {
			return Project{}, ErrNotInstructor
		}
		return Project{}, errors.Wrap(err, "finding instructor")
	}
	if !instructor.IsInstructor() {
		return Project{}, ErrNotInstructor
	}

	p := Project{
		ID:           core.NewID(),
		Title:        np.Title,
		Description:  np.Description,
		InstructorID: instructor.ID,
		CreatedAt:    NowFunc().UTC(),
	}
	p, err = svc.repo.CreateProject(ctx, p)
	return p, errors.Wrap(err, "creating project")
}

func (svc *Service) Get(ctx context.Context, id string) (Project, error) {
	return svc.repo.GetProject(ctx, id)
}

// GetOwned returns the project if it is owned by instructorID.
func (svc *Service) GetOwned(ctx context.Context, id, instructorID string) (Project, error) {
	p, err := svc.repo.GetProject(ctx, id)
	if err != nil {
		return Project{}, err
	}
	if p.InstructorID != instructorID {
		return Project{}, ErrUnauthorized
	}
	return p, nil
}

// ListForInstructor returns the instructor's projects, newest first, with their invites.
func (svc *Service) ListForInstructor(ctx context.Context, instructorID string) ([]Project, error) {
	projects, err := svc.repo.QueryProjects(ctx, instructorID)
	if err != nil {
		return nil, errors.Wrap(err, "querying projects")
	}
	for i := range projects {
		invites, err := svc.repo.QueryInvites(ctx, InviteFilter{ProjectID: projects[i].ID})
		if err != nil {
			return nil, errors.Wrap(err, "querying project invites")
		}
		for j := range invites {
			invites[j].Project = nil
		}
		projects[i].Invites = invites
	}
	return projects, nil
}

// ListForStudent returns the student's invites with their project and its instructor.
func (svc *Service) ListForStudent(ctx context.Context, studentID string) ([]Invite, error) {
	invites, err := svc.repo.QueryInvites(ctx, InviteFilter{StudentID: studentID})
	return invites, errors.Wrap(err, "querying student invites")
}

// CanView reports whether userID owns the project or has accepted an invite to it.
func (svc *Service) CanView(ctx context.Context, projectID, userID string) (bool, error) {
	p, err := svc.repo.GetProject(ctx, projectID)
	if err != nil {
		return false, err
	}
	if p.InstructorID == userID {
		return true, nil
	}
	inv, err := svc.repo.GetInvite(ctx, InviteFilter{ProjectID: projectID, StudentID: userID})
	if err != nil {
		if core.IsNotFound(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "finding invite")
	}
	return inv.Status == InviteStatusAccepted, nil
}

// Delete removes the project owned by instructorID and everything depending on it, atomically.
// Steps run leaves first: responses, assignments, team members, teams, invites, project.
func (svc *Service) Delete(ctx context.Context, projectID, instructorID string) (DeletionSummary, error) {
	if _, err := svc.GetOwned(ctx, projectID, instructorID); err != nil {
		return DeletionSummary{}, err
	}

	var sum DeletionSummary
	err := core.WithTransaction(ctx, svc.db, func(tx core.DBExecutor) error {
		assignmentIDs, err := svc.repo.QueryAssignmentIDs(ctx, projectID, tx)
		if err != nil {
			return errors.Wrap(err, "querying assignment ids")
		}
		teamIDs, err := svc.repo.QueryTeamIDs(ctx, projectID, tx)
		if err != nil {
			return errors.Wrap(err, "querying team ids")
		}

		if len(assignmentIDs) > 0 {
			if sum.Responses, err = svc.repo.DeleteResponses(ctx, assignmentIDs, tx); err != nil {
				return errors.Wrap(err, "deleting responses")
			}
			if sum.Assignments, err = svc.repo.DeleteAssignments(ctx, assignmentIDs, tx); err != nil {
				return errors.Wrap(err, "deleting assignments")
			}
		}
		if len(teamIDs) > 0 {
			if sum.TeamMembers, err = svc.repo.DeleteTeamMembers(ctx, teamIDs, tx); err != nil {
				return errors.Wrap(err, "deleting team members")
			}
			if sum.Teams, err = svc.repo.DeleteTeams(ctx, teamIDs, tx); err != nil {
				return errors.Wrap(err, "deleting teams")
			}
		}
		if sum.Invites, err = svc.repo.DeleteInvites(ctx, projectID, tx); err != nil {
			return errors.Wrap(err, "deleting invites")
		}
		return errors.Wrap(svc.repo.DeleteProject(ctx, projectID, tx), "deleting project")
	})
	if err != nil {
		return DeletionSummary{}, err
	}

	svc.logger.Info(
		fmt.Sprintf("project %s deleted", projectID),
		map[string]interface{}{
			"responses":   sum.Responses,
			"assignments": sum.Assignments,
			"teamMembers": sum.TeamMembers,
			"teams":       sum.Teams,
			"invites":     sum.Invites,
		},
	)
	return sum, nil
}

// SendInvite invites the student identified by studentEmail to the instructor's project.
func (svc *Service) SendInvite(ctx context.Context, projectID, studentEmail, instructorID string) (Invite, error) {
	instructor, err := svc.users.GetByID(ctx, instructorID)
	if err != nil {
		if core.IsNotFound(err) {
			return Invite{}, ErrUnauthorized
		}
		return Invite{}, errors.Wrap(err, "finding instructor")
	}
	if !instructor.IsInstructor() {
		return Invite{}, ErrUnauthorized
	}

	p, err := svc.repo.GetProject(ctx, projectID)
	if err != nil {
		return Invite{}, err
	}
	if p.InstructorID != instructor.ID {
		return Invite{}, ErrNotProjectOwner
	}

	student, err := svc.users.GetByEmail(ctx, studentEmail)
	if err != nil {
		if core.IsNotFound(err) {
			return Invite{}, ErrStudentNotFound
		}
		return Invite{}, errors.Wrap(err, "finding student")
	}
	if !student.IsStudent() {
		return Invite{}, ErrStudentNotFound
	}

	_, err = svc.repo.GetInvite(ctx, InviteFilter{ProjectID: p.ID, StudentID: student.ID})
	if err == nil {
		return Invite{}, ErrInviteExists
	} else if !core.IsNotFound(err) {
		return Invite{}, errors.Wrap(err, "finding invite")
	}

	inv := Invite{
		ID:        core.NewID(),
		ProjectID: p.ID,
		StudentID: student.ID,
		Status:    InviteStatusPending,
		CreatedAt: NowFunc().UTC(),
	}
	inv, err = svc.repo.CreateInvite(ctx, inv)
	if err != nil {
		return Invite{}, errors.Wrap(err, "creating invite")
	}
	sum := student.Summary()
	inv.Student = &sum
	return inv, nil
}

// RespondInvite sets the status of the student's invite to accepted or rejected.
func (svc *Service) RespondInvite(ctx context.Context, inviteID, status, studentID string) (Invite, error) {
	status = core.CleanString(status, true /* lower */)
	if status != InviteStatusAccepted && status != InviteStatusRejected {
		return Invite{}, ErrInvalidStatus
	}
	if _, err := svc.repo.GetInvite(ctx, InviteFilter{ID: inviteID, StudentID: studentID}); err != nil {
		if core.IsNotFound(err) {
			return Invite{}, ErrInviteNotFound
		}
		return Invite{}, errors.Wrap(err, "finding invite")
	}
	inv, err := svc.repo.UpdateInviteStatus(ctx, inviteID, status)
	return inv, errors.Wrap(err, "updating invite status")
}

// CreateTeam groups studentIDs into a new team of the instructor's project.
// A student may only belong to one team per project.
func (svc *Service) CreateTeam(ctx context.Context, projectID string, studentIDs []string, instructorID string) (Team, error) {
	studentIDs = core.UniqueStrings(studentIDs)
	if core.CleanString(projectID) == "" || len(studentIDs) == 0 {
		return Team{}, ErrInvalidTeamInput
	}
	if _, err := svc.GetOwned(ctx, projectID, instructorID); err != nil {
		return Team{}, err
	}

	students, err := svc.users.QueryByIDs(ctx, studentIDs)
	if err != nil {
		return Team{}, errors.Wrap(err, "querying students")
	}
	if len(students) != len(studentIDs) {
		return Team{}, ErrStudentNotFound
	}
	byID := make(map[string]user.User, len(students))
	for _, s := range students {
		if !s.IsStudent() {
			return Team{}, ErrStudentNotFound
		}
		byID[s.ID] = s
	}

	var team Team
	err = core.WithTransaction(ctx, svc.db, func(tx core.DBExecutor) error {
		taken, err := svc.repo.QueryTeamStudents(ctx, projectID, studentIDs, tx)
		if err != nil {
			return errors.Wrap(err, "querying team students")
		}
		if len(taken) > 0 {
			emails := make([]string, 0, len(taken))
			for _, s := range taken {
				emails = append(emails, s.Email)
			}
			sort.Strings(emails)
			return core.NewValidationError(errors.New(errAlreadyInTeamText + strings.Join(emails, ", ")))
		}

		count, err := svc.repo.CountTeams(ctx, projectID, tx)
		if err != nil {
			return errors.Wrap(err, "counting teams")
		}

		team = Team{
			ID:        core.NewID(),
			ProjectID: projectID,
			Name:      fmt.Sprintf("Team %d", count+1),
			CreatedAt: NowFunc().UTC(),
		}
		for _, id := range studentIDs {
			s := byID[id]
			sum := s.Summary()
			team.Members = append(team.Members, TeamMember{TeamID: team.ID, StudentID: id, Student: &sum})
		}
		team, err = svc.repo.CreateTeam(ctx, team, tx)
		return errors.Wrap(err, "creating team")
	})
	return team, err
}

// StudentTeam returns the student's team in the project, or ErrTeamNotFound.
func (svc *Service) StudentTeam(ctx context.Context, projectID, studentID string) (Team, error) {
	return svc.repo.GetStudentTeam(ctx, projectID, studentID)
}

func (svc *Service) Teams(ctx context.Context, projectID string) ([]Team, error) {
	teams, err := svc.repo.QueryTeams(ctx, projectID)
	return teams, errors.Wrap(err, "querying teams")
}

func (svc *Service) UnassignedStudents(ctx context.Context, projectID string) ([]user.Summary, error) {
	students, err := svc.repo.QueryUnassignedStudents(ctx, projectID)
	return students, errors.Wrap(err, "querying unassigned students")
}
