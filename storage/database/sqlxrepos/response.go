package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/peereval/backend/core"
	"github.com/peereval/backend/core/survey"
	"github.com/peereval/backend/core/user"
)

var errResponseNotFound = core.NewNotFoundError("Response not found")

func (r *surveyRepository) UpsertResponse(ctx context.Context, resp survey.Response, exec ...core.DBExecutor) (survey.Response, error) {
	ex := r.getExec(exec)
	q := r.sb.Insert("survey_responses").
		Columns(responseColumns...).
		Values(
			resp.ID, resp.AssignmentID, resp.RespondentID, resp.TargetStudentID, resp.Answers,
			resp.SubmittedAt.UTC(), resp.UpdatedAt.UTC(),
		).
		Suffix(
			"ON CONFLICT (assignment_id, respondent_id, target_student_id) " +
				"DO UPDATE SET answers = excluded.answers, updated_at = excluded.updated_at",
		)
	if _, err := r.run(ctx, ex, q); err != nil {
		return survey.Response{}, errors.Wrap(err, "upserting response")
	}

	var row responseRow
	sel := r.selectResponses().Where(sq.Eq{
		"r.assignment_id":     resp.AssignmentID,
		"r.respondent_id":     resp.RespondentID,
		"r.target_student_id": resp.TargetStudentID,
	})
	if err := r.get(ctx, ex, &row, sel, errResponseNotFound); err != nil {
		return survey.Response{}, err
	}
	return row.toResponse(), nil
}

func (r *surveyRepository) selectResponses() sq.SelectBuilder {
	return r.sb.Select(
		"r.id", "r.assignment_id", "r.respondent_id", "r.target_student_id", "r.answers",
		"r.submitted_at", "r.updated_at",
		"ru.name AS respondent_name", "ru.email AS respondent_email",
		"tu.name AS target_name", "tu.email AS target_email",
	).
		From("survey_responses r").
		Join("users ru ON ru.id = r.respondent_id").
		Join("users tu ON tu.id = r.target_student_id")
}

func (r *surveyRepository) QueryResponses(ctx context.Context, filter survey.ResponseFilter, exec ...core.DBExecutor) ([]survey.Response, error) {
	where := sq.Eq{"r.assignment_id": filter.AssignmentID}
	if filter.RespondentID != "" {
		where["r.respondent_id"] = filter.RespondentID
	}
	if filter.TargetStudentID != "" {
		where["r.target_student_id"] = filter.TargetStudentID
	}
	q := r.selectResponses().Where(where).OrderBy("r.submitted_at", "r.id")

	var rows []responseRow
	if err := r.list(ctx, r.getExec(exec), &rows, q); err != nil {
		return nil, errors.Wrap(err, "selecting responses")
	}
	responses := make([]survey.Response, 0, len(rows))
	for _, row := range rows {
		responses = append(responses, row.toResponse())
	}
	return responses, nil
}

func (r *surveyRepository) CountDistinctTargets(
	ctx context.Context,
	assignmentID, respondentID string,
	targetIDs []string,
	exec ...core.DBExecutor,
) (int, error) {
	var count int
	q := r.sb.Select("COUNT(DISTINCT target_student_id)").
		From("survey_responses").
		Where(sq.Eq{
			"assignment_id":     assignmentID,
			"respondent_id":     respondentID,
			"target_student_id": targetIDs,
		})
	err := r.get(ctx, r.getExec(exec), &count, q, nil)
	return count, errors.Wrap(err, "counting distinct targets")
}

func (r *surveyRepository) QueryRespondents(ctx context.Context, assignmentID, targetStudentID string, exec ...core.DBExecutor) ([]user.Summary, error) {
	q := r.sb.Select("u.id", "u.name", "u.email").
		Distinct().
		From("survey_responses r").
		Join("users u ON u.id = r.respondent_id").
		Where(sq.Eq{"r.assignment_id": assignmentID, "r.target_student_id": targetStudentID}).
		OrderBy("u.name", "u.email")

	respondents := make([]user.Summary, 0)
	err := r.list(ctx, r.getExec(exec), &respondents, q)
	return respondents, errors.Wrap(err, "selecting respondents")
}
