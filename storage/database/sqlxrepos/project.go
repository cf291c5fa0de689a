package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/peereval/backend/core"
	"github.com/peereval/backend/core/project"
)

var projectColumns = []string{"id", "title", "description", "instructor_id", "created_at"}

type projectRow struct {
	ID           string    `db:"id"`
	Title        string    `db:"title"`
	Description  string    `db:"description"`
	InstructorID string    `db:"instructor_id"`
	CreatedAt    time.Time `db:"created_at"`
}

func (row projectRow) toProject() project.Project {
	return project.Project{
		ID:           row.ID,
		Title:        row.Title,
		Description:  row.Description,
		InstructorID: row.InstructorID,
		CreatedAt:    row.CreatedAt.UTC(),
	}
}

// projectRepository stores projects along with their invites and teams. It also owns the
// deletion steps of a project's dependent rows.
type projectRepository struct {
	repo
}

var _ project.Repository = (*projectRepository)(nil) // interface compliance check

func NewProjectRepository(exec core.DBExecutor) *projectRepository {
	return &projectRepository{repo: newRepo(exec)}
}

func (r *projectRepository) CreateProject(ctx context.Context, p project.Project, exec ...core.DBExecutor) (project.Project, error) {
	q := r.sb.Insert("projects").
		Columns(projectColumns...).
		Values(p.ID, p.Title, p.Description, p.InstructorID, p.CreatedAt.UTC())
	if _, err := r.run(ctx, r.getExec(exec), q); err != nil {
		return project.Project{}, errors.Wrap(err, "inserting project")
	}
	return p, nil
}

func (r *projectRepository) GetProject(ctx context.Context, id string, exec ...core.DBExecutor) (project.Project, error) {
	var row projectRow
	q := r.sb.Select(projectColumns...).From("projects").Where(sq.Eq{"id": id})
	if err := r.get(ctx, r.getExec(exec), &row, q, project.ErrNotFound); err != nil {
		return project.Project{}, err
	}
	return row.toProject(), nil
}

func (r *projectRepository) QueryProjects(ctx context.Context, instructorID string, exec ...core.DBExecutor) ([]project.Project, error) {
	q := r.sb.Select(projectColumns...).
		From("projects").
		Where(sq.Eq{"instructor_id": instructorID}).
		OrderBy("created_at DESC", "id")

	var rows []projectRow
	if err := r.list(ctx, r.getExec(exec), &rows, q); err != nil {
		return nil, errors.Wrap(err, "selecting projects")
	}
	projects := make([]project.Project, 0, len(rows))
	for _, row := range rows {
		projects = append(projects, row.toProject())
	}
	return projects, nil
}

func (r *projectRepository) DeleteProject(ctx context.Context, id string, exec ...core.DBExecutor) error {
	n, err := r.run(ctx, r.getExec(exec), r.sb.Delete("projects").Where(sq.Eq{"id": id}))
	if err != nil {
		return errors.Wrap(err, "deleting project")
	}
	if n == 0 {
		return project.ErrNotFound
	}
	return nil
}

func (r *projectRepository) QueryAssignmentIDs(ctx context.Context, projectID string, exec ...core.DBExecutor) ([]string, error) {
	ids := make([]string, 0)
	q := r.sb.Select("id").From("survey_assignments").Where(sq.Eq{"project_id": projectID})
	err := r.list(ctx, r.getExec(exec), &ids, q)
	return ids, errors.Wrap(err, "selecting assignment ids")
}

func (r *projectRepository) DeleteResponses(ctx context.Context, assignmentIDs []string, exec ...core.DBExecutor) (int64, error) {
	n, err := r.run(ctx, r.getExec(exec), r.sb.Delete("survey_responses").Where(sq.Eq{"assignment_id": assignmentIDs}))
	return n, errors.Wrap(err, "deleting responses")
}

func (r *projectRepository) DeleteAssignments(ctx context.Context, assignmentIDs []string, exec ...core.DBExecutor) (int64, error) {
	n, err := r.run(ctx, r.getExec(exec), r.sb.Delete("survey_assignments").Where(sq.Eq{"id": assignmentIDs}))
	return n, errors.Wrap(err, "deleting assignments")
}
