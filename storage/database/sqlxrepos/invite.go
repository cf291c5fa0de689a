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

var inviteColumns = []string{"id", "project_id", "student_id", "status", "created_at"}

type inviteRow struct {
	ID        string    `db:"id"`
	ProjectID string    `db:"project_id"`
	StudentID string    `db:"student_id"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}

func (row inviteRow) toInvite() project.Invite {
	return project.Invite{
		ID:        row.ID,
		ProjectID: row.ProjectID,
		StudentID: row.StudentID,
		Status:    row.Status,
		CreatedAt: row.CreatedAt.UTC(),
	}
}

// inviteDetailRow is an invite joined with its student, project and the project's instructor.
type inviteDetailRow struct {
	inviteRow
	StudentName           string    `db:"student_name"`
	StudentEmail          string    `db:"student_email"`
	ProjectTitle          string    `db:"project_title"`
	ProjectDescription    string    `db:"project_description"`
	ProjectInstructorID   string    `db:"project_instructor_id"`
	ProjectCreatedAt      time.Time `db:"project_created_at"`
	ProjectInstructorName string    `db:"instructor_name"`
	ProjectInstructorMail string    `db:"instructor_email"`
}

func (row inviteDetailRow) toInvite() project.Invite {
	inv := row.inviteRow.toInvite()
	inv.Student = &user.Summary{ID: row.StudentID, Name: row.StudentName, Email: row.StudentEmail}
	inv.Project = &project.Project{
		ID:           row.ProjectID,
		Title:        row.ProjectTitle,
		Description:  row.ProjectDescription,
		InstructorID: row.ProjectInstructorID,
		CreatedAt:    row.ProjectCreatedAt.UTC(),
		Instructor: &user.Summary{
			ID:    row.ProjectInstructorID,
			Name:  row.ProjectInstructorName,
			Email: row.ProjectInstructorMail,
		},
	}
	return inv
}

func inviteWhere(filter project.InviteFilter, prefix string) sq.Eq {
	where := sq.Eq{}
	if filter.ID != "" {
		where[prefix+"id"] = filter.ID
	}
	if filter.ProjectID != "" {
		where[prefix+"project_id"] = filter.ProjectID
	}
	if filter.StudentID != "" {
		where[prefix+"student_id"] = filter.StudentID
	}
	return where
}

func (r *projectRepository) CreateInvite(ctx context.Context, inv project.Invite, exec ...core.DBExecutor) (project.Invite, error) {
	q := r.sb.Insert("invites").
		Columns(inviteColumns...).
		Values(inv.ID, inv.ProjectID, inv.StudentID, inv.Status, inv.CreatedAt.UTC())
	if _, err := r.run(ctx, r.getExec(exec), q); err != nil {
		return project.Invite{}, errors.Wrap(err, "inserting invite")
	}
	return inv, nil
}

func (r *projectRepository) GetInvite(ctx context.Context, filter project.InviteFilter, exec ...core.DBExecutor) (project.Invite, error) {
	where := inviteWhere(filter, "")
	if len(where) == 0 {
		return project.Invite{}, project.ErrInviteNotFound
	}
	var row inviteRow
	q := r.sb.Select(inviteColumns...).From("invites").Where(where).Limit(1)
	if err := r.get(ctx, r.getExec(exec), &row, q, project.ErrInviteNotFound); err != nil {
		return project.Invite{}, err
	}
	return row.toInvite(), nil
}

func (r *projectRepository) UpdateInviteStatus(ctx context.Context, id, status string, exec ...core.DBExecutor) (project.Invite, error) {
	ex := r.getExec(exec)
	n, err := r.run(ctx, ex, r.sb.Update("invites").Set("status", status).Where(sq.Eq{"id": id}))
	if err != nil {
		return project.Invite{}, errors.Wrap(err, "updating invite")
	}
	if n == 0 {
		return project.Invite{}, project.ErrInviteNotFound
	}
	return r.GetInvite(ctx, project.InviteFilter{ID: id}, ex)
}

func (r *projectRepository) QueryInvites(ctx context.Context, filter project.InviteFilter, exec ...core.DBExecutor) ([]project.Invite, error) {
	q := r.sb.Select(
		"i.id", "i.project_id", "i.student_id", "i.status", "i.created_at",
		"s.name AS student_name", "s.email AS student_email",
		"p.title AS project_title", "p.description AS project_description",
		"p.instructor_id AS project_instructor_id", "p.created_at AS project_created_at",
		"ins.name AS instructor_name", "ins.email AS instructor_email",
	).
		From("invites i").
		Join("users s ON s.id = i.student_id").
		Join("projects p ON p.id = i.project_id").
		Join("users ins ON ins.id = p.instructor_id").
		Where(inviteWhere(filter, "i.")).
		OrderBy("i.created_at DESC", "i.id")

	var rows []inviteDetailRow
	if err := r.list(ctx, r.getExec(exec), &rows, q); err != nil {
		return nil, errors.Wrap(err, "selecting invites")
	}
	invites := make([]project.Invite, 0, len(rows))
	for _, row := range rows {
		invites = append(invites, row.toInvite())
	}
	return invites, nil
}

func (r *projectRepository) DeleteInvites(ctx context.Context, projectID string, exec ...core.DBExecutor) (int64, error) {
	n, err := r.run(ctx, r.getExec(exec), r.sb.Delete("invites").Where(sq.Eq{"project_id": projectID}))
	return n, errors.Wrap(err, "deleting invites")
}
