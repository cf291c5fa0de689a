package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/peereval/backend/core"
	"github.com/peereval/backend/core/survey"
	"github.com/peereval/backend/core/user"
)

var (
	surveyColumns     = []string{"id", "title", "description", "creator_id", "created_at"}
	criterionColumns  = []string{"id", "survey_id", "label", "min_rating", "max_rating", "sort_order"}
	assignmentColumns = []string{"id", "project_id", "survey_id", "deadline", "status", "created_at"}
	responseColumns   = []string{
		"id", "assignment_id", "respondent_id", "target_student_id", "answers", "submitted_at", "updated_at",
	}
)

type criterionRow struct {
	ID        string `db:"id"`
	SurveyID  string `db:"survey_id"`
	Label     string `db:"label"`
	MinRating int    `db:"min_rating"`
	MaxRating int    `db:"max_rating"`
	SortOrder int    `db:"sort_order"`
}

// assignmentRow is an assignment joined with its survey.
type assignmentRow struct {
	ID                string      `db:"id"`
	ProjectID         string      `db:"project_id"`
	SurveyID          string      `db:"survey_id"`
	Deadline          time.Time   `db:"deadline"`
	Status            string      `db:"status"`
	CreatedAt         time.Time   `db:"created_at"`
	SurveyTitle       string      `db:"survey_title"`
	SurveyDescription null.String `db:"survey_description"`
	SurveyCreatorID   string      `db:"survey_creator_id"`
	SurveyCreatedAt   time.Time   `db:"survey_created_at"`
}

func (row assignmentRow) toAssignment() survey.Assignment {
	return survey.Assignment{
		ID:        row.ID,
		ProjectID: row.ProjectID,
		SurveyID:  row.SurveyID,
		Deadline:  row.Deadline.UTC(),
		Status:    row.Status,
		CreatedAt: row.CreatedAt.UTC(),
		Survey: &survey.Survey{
			ID:          row.SurveyID,
			Title:       row.SurveyTitle,
			Description: row.SurveyDescription,
			CreatorID:   row.SurveyCreatorID,
			CreatedAt:   row.SurveyCreatedAt.UTC(),
			Criteria:    []survey.Criterion{},
		},
	}
}

// responseRow is a response joined with its respondent and target student.
type responseRow struct {
	ID              string         `db:"id"`
	AssignmentID    string         `db:"assignment_id"`
	RespondentID    string         `db:"respondent_id"`
	TargetStudentID string         `db:"target_student_id"`
	Answers         survey.Answers `db:"answers"`
	SubmittedAt     time.Time      `db:"submitted_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	RespondentName  string         `db:"respondent_name"`
	RespondentEmail string         `db:"respondent_email"`
	TargetName      string         `db:"target_name"`
	TargetEmail     string         `db:"target_email"`
}

func (row responseRow) toResponse() survey.Response {
	return survey.Response{
		ID:              row.ID,
		AssignmentID:    row.AssignmentID,
		RespondentID:    row.RespondentID,
		TargetStudentID: row.TargetStudentID,
		Answers:         row.Answers,
		SubmittedAt:     row.SubmittedAt.UTC(),
		UpdatedAt:       row.UpdatedAt.UTC(),
		Respondent:      &user.Summary{ID: row.RespondentID, Name: row.RespondentName, Email: row.RespondentEmail},
		TargetStudent:   &user.Summary{ID: row.TargetStudentID, Name: row.TargetName, Email: row.TargetEmail},
	}
}

type surveyRepository struct {
	repo
}

var _ survey.Repository = (*surveyRepository)(nil) // interface compliance check

func NewSurveyRepository(exec core.DBExecutor) *surveyRepository {
	return &surveyRepository{repo: newRepo(exec)}
}

func (r *surveyRepository) CreateSurvey(ctx context.Context, s survey.Survey, exec ...core.DBExecutor) (survey.Survey, error) {
	q := r.sb.Insert("surveys").
		Columns(surveyColumns...).
		Values(s.ID, s.Title, s.Description, s.CreatorID, s.CreatedAt.UTC())
	if _, err := r.run(ctx, r.getExec(exec), q); err != nil {
		return survey.Survey{}, errors.Wrap(err, "inserting survey")
	}
	return s, nil
}

func (r *surveyRepository) CreateCriteria(ctx context.Context, criteria []survey.Criterion, exec ...core.DBExecutor) error {
	if len(criteria) == 0 {
		return nil
	}
	q := r.sb.Insert("survey_criteria").Columns(criterionColumns...)
	for _, c := range criteria {
		q = q.Values(c.ID, c.SurveyID, c.Label, c.MinRating, c.MaxRating, c.Order)
	}
	_, err := r.run(ctx, r.getExec(exec), q)
	return errors.Wrap(err, "inserting criteria")
}

func (r *surveyRepository) QueryCriteria(ctx context.Context, surveyID string, exec ...core.DBExecutor) ([]survey.Criterion, error) {
	q := r.sb.Select(criterionColumns...).
		From("survey_criteria").
		Where(sq.Eq{"survey_id": surveyID}).
		OrderBy("sort_order", "id")

	var rows []criterionRow
	if err := r.list(ctx, r.getExec(exec), &rows, q); err != nil {
		return nil, errors.Wrap(err, "selecting criteria")
	}
	criteria := make([]survey.Criterion, 0, len(rows))
	for _, row := range rows {
		criteria = append(criteria, survey.Criterion{
			ID:        row.ID,
			SurveyID:  row.SurveyID,
			Label:     row.Label,
			MinRating: row.MinRating,
			MaxRating: row.MaxRating,
			Order:     row.SortOrder,
		})
	}
	return criteria, nil
}

func (r *surveyRepository) CreateAssignment(ctx context.Context, a survey.Assignment, exec ...core.DBExecutor) (survey.Assignment, error) {
	q := r.sb.Insert("survey_assignments").
		Columns(assignmentColumns...).
		Values(a.ID, a.ProjectID, a.SurveyID, a.Deadline.UTC(), a.Status, a.CreatedAt.UTC())
	if _, err := r.run(ctx, r.getExec(exec), q); err != nil {
		return survey.Assignment{}, errors.Wrap(err, "inserting assignment")
	}
	return a, nil
}

func (r *surveyRepository) selectAssignments() sq.SelectBuilder {
	return r.sb.Select(
		"a.id", "a.project_id", "a.survey_id", "a.deadline", "a.status", "a.created_at",
		"s.title AS survey_title", "s.description AS survey_description",
		"s.creator_id AS survey_creator_id", "s.created_at AS survey_created_at",
	).
		From("survey_assignments a").
		Join("surveys s ON s.id = a.survey_id")
}

func (r *surveyRepository) GetAssignment(ctx context.Context, filter survey.AssignmentFilter, exec ...core.DBExecutor) (survey.Assignment, error) {
	if filter.ID == "" {
		return survey.Assignment{}, survey.ErrAssignmentNotFound
	}
	where := sq.Eq{"a.id": filter.ID}
	if filter.ProjectID != "" {
		where["a.project_id"] = filter.ProjectID
	}

	var row assignmentRow
	if err := r.get(ctx, r.getExec(exec), &row, r.selectAssignments().Where(where), survey.ErrAssignmentNotFound); err != nil {
		return survey.Assignment{}, err
	}
	return row.toAssignment(), nil
}

func (r *surveyRepository) QueryAssignments(ctx context.Context, projectID string, exec ...core.DBExecutor) ([]survey.Assignment, error) {
	q := r.selectAssignments().
		Where(sq.Eq{"a.project_id": projectID}).
		OrderBy("a.created_at DESC", "a.id")

	var rows []assignmentRow
	if err := r.list(ctx, r.getExec(exec), &rows, q); err != nil {
		return nil, errors.Wrap(err, "selecting assignments")
	}
	assignments := make([]survey.Assignment, 0, len(rows))
	for _, row := range rows {
		assignments = append(assignments, row.toAssignment())
	}
	return assignments, nil
}
