package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/peereval/backend/core"
	"github.com/peereval/backend/core/project"
	"github.com/peereval/backend/core/user"
)

var teamColumns = []string{"id", "project_id", "name", "created_at"}

type teamRow struct {
	ID        string    `db:"id"`
	ProjectID string    `db:"project_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

func (row teamRow) toTeam() project.Team {
	return project.Team{
		ID:        row.ID,
		ProjectID: row.ProjectID,
		Name:      row.Name,
		CreatedAt: row.CreatedAt.UTC(),
		Members:   []project.TeamMember{},
	}
}

type memberRow struct {
	TeamID       string `db:"team_id"`
	StudentID    string `db:"student_id"`
	StudentName  string `db:"student_name"`
	StudentEmail string `db:"student_email"`
}

func (r *projectRepository) CreateTeam(ctx context.Context, team project.Team, exec ...core.DBExecutor) (project.Team, error) {
	ex := r.getExec(exec)
	q := r.sb.Insert("teams").
		Columns(teamColumns...).
		Values(team.ID, team.ProjectID, team.Name, team.CreatedAt.UTC())
	if _, err := r.run(ctx, ex, q); err != nil {
		return project.Team{}, errors.Wrap(err, "inserting team")
	}

	if len(team.Members) > 0 {
		mq := r.sb.Insert("team_members").Columns("team_id", "student_id")
		for _, m := range team.Members {
			mq = mq.Values(team.ID, m.StudentID)
		}
		if _, err := r.run(ctx, ex, mq); err != nil {
			return project.Team{}, errors.Wrap(err, "inserting team members")
		}
	}
	return team, nil
}

func (r *projectRepository) CountTeams(ctx context.Context, projectID string, exec ...core.DBExecutor) (int, error) {
	var count int
	q := r.sb.Select("COUNT(*)").From("teams").Where(sq.Eq{"project_id": projectID})
	err := r.get(ctx, r.getExec(exec), &count, q, nil)
	return count, errors.Wrap(err, "counting teams")
}

// withMembers loads the members, with their student, of every team.
func (r *projectRepository) withMembers(ctx context.Context, ex core.DBExecutor, teams []project.Team) error {
	if len(teams) == 0 {
		return nil
	}
	index := make(map[string]int, len(teams))
	ids := make([]string, 0, len(teams))
	for i, t := range teams {
		index[t.ID] = i
		ids = append(ids, t.ID)
	}

	q := r.sb.Select("tm.team_id", "tm.student_id", "u.name AS student_name", "u.email AS student_email").
		From("team_members tm").
		Join("users u ON u.id = tm.student_id").
		Where(sq.Eq{"tm.team_id": ids}).
		OrderBy("u.name", "u.email")

	var rows []memberRow
	if err := r.list(ctx, ex, &rows, q); err != nil {
		return errors.Wrap(err, "selecting team members")
	}
	for _, row := range rows {
		i := index[row.TeamID]
		teams[i].Members = append(teams[i].Members, project.TeamMember{
			TeamID:    row.TeamID,
			StudentID: row.StudentID,
			Student:   &user.Summary{ID: row.StudentID, Name: row.StudentName, Email: row.StudentEmail},
		})
	}
	return nil
}

func (r *projectRepository) QueryTeams(ctx context.Context, projectID string, exec ...core.DBExecutor) ([]project.Team, error) {
	ex := r.getExec(exec)
	q := r.sb.Select(teamColumns...).
		From("teams").
		Where(sq.Eq{"project_id": projectID}).
		OrderBy("created_at", "name")

	var rows []teamRow
	if err := r.list(ctx, ex, &rows, q); err != nil {
		return nil, errors.Wrap(err, "selecting teams")
	}
	teams := make([]project.Team, 0, len(rows))
	for _, row := range rows {
		teams = append(teams, row.toTeam())
	}
	if err := r.withMembers(ctx, ex, teams); err != nil {
		return nil, err
	}
	return teams, nil
}

func (r *projectRepository) GetStudentTeam(ctx context.Context, projectID, studentID string, exec ...core.DBExecutor) (project.Team, error) {
	ex := r.getExec(exec)
	q := r.sb.Select("t.id", "t.project_id", "t.name", "t.created_at").
		From("teams t").
		Join("team_members tm ON tm.team_id = t.id").
		Where(sq.Eq{"t.project_id": projectID, "tm.student_id": studentID}).
		Limit(1)

	var row teamRow
	if err := r.get(ctx, ex, &row, q, project.ErrTeamNotFound); err != nil {
		return project.Team{}, err
	}
	teams := []project.Team{row.toTeam()}
	if err := r.withMembers(ctx, ex, teams); err != nil {
		return project.Team{}, err
	}
	return teams[0], nil
}

func (r *projectRepository) QueryTeamStudents(ctx context.Context, projectID string, studentIDs []string, exec ...core.DBExecutor) ([]user.Summary, error) {
	q := r.sb.Select("u.id", "u.name", "u.email").
		From("team_members tm").
		Join("teams t ON t.id = tm.team_id").
		Join("users u ON u.id = tm.student_id").
		Where(sq.Eq{"t.project_id": projectID, "tm.student_id": studentIDs}).
		OrderBy("u.email")

	students := make([]user.Summary, 0)
	err := r.list(ctx, r.getExec(exec), &students, q)
	return students, errors.Wrap(err, "selecting team students")
}

func (r *projectRepository) QueryUnassignedStudents(ctx context.Context, projectID string, exec ...core.DBExecutor) ([]user.Summary, error) {
	q := r.sb.Select("u.id", "u.name", "u.email").
		From("users u").
		Join("invites i ON i.student_id = u.id").
		Where(sq.Eq{"i.project_id": projectID, "i.status": project.InviteStatusAccepted}).
		Where(sq.Expr(
			"NOT EXISTS (SELECT 1 FROM team_members tm JOIN teams t ON t.id = tm.team_id "+
				"WHERE tm.student_id = u.id AND t.project_id = ?)",
			projectID,
		)).
		OrderBy("u.name", "u.email")

	students := make([]user.Summary, 0)
	err := r.list(ctx, r.getExec(exec), &students, q)
	return students, errors.Wrap(err, "selecting unassigned students")
}

func (r *projectRepository) QueryTeamIDs(ctx context.Context, projectID string, exec ...core.DBExecutor) ([]string, error) {
	ids := make([]string, 0)
	q := r.sb.Select("id").From("teams").Where(sq.Eq{"project_id": projectID})
	err := r.list(ctx, r.getExec(exec), &ids, q)
	return ids, errors.Wrap(err, "selecting team ids")
}

func (r *projectRepository) DeleteTeamMembers(ctx context.Context, teamIDs []string, exec ...core.DBExecutor) (int64, error) {
	n, err := r.run(ctx, r.getExec(exec), r.sb.Delete("team_members").Where(sq.Eq{"team_id": teamIDs}))
	return n, errors.Wrap(err, "deleting team members")
}

func (r *projectRepository) DeleteTeams(ctx context.Context, teamIDs []string, exec ...core.DBExecutor) (int64, error) {
	n, err := r.run(ctx, r.getExec(exec), r.sb.Delete("teams").Where(sq.Eq{"id": teamIDs}))
	return n, errors.Wrap(err, "deleting teams")
}
