package survey

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/peereval/backend/core"
	"github.com/peereval/backend/core/project"
	"github.com/peereval/backend/core/user"
)

var (
	// errors
	ErrAssignmentNotFound  = core.NewNotFoundError("Assignment not found")
	ErrNotProjectOwner     = core.NewForbiddenError("Project not found or not owned by instructor")
	ErrDeadlinePassed      = core.NewValidationError(errors.New("Deadline has passed"))
	ErrRespondentNoTeam    = core.NewValidationError(errors.New("Respondent not part of a team for this project"))
	ErrTargetNotTeammate   = core.NewValidationError(errors.New("Targets must be teammates"))
	ErrStudentNoTeam       = core.NewValidationError(errors.New("Student not part of a team"))
	ErrNotFullyCompleted   = core.NewValidationError(errors.New("Survey is not fully completed by all team members yet"))
	ErrRatingOutOfRange    = core.NewValidationError(errors.New("Rating out of range"))
	ErrUnknownCriterion    = core.NewValidationError(errors.New("Unknown criterion"))
	ErrInvalidRatingBounds = core.NewValidationError(errors.New("Invalid criterion rating range"))
	ErrStudentNotFound     = core.NewNotFoundError("Student not found")

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		CreateSurvey(ctx context.Context, s Survey, exec ...core.DBExecutor) (Survey, error)
		CreateCriteria(ctx context.Context, criteria []Criterion, exec ...core.DBExecutor) error
		// QueryCriteria returns the survey's criteria ordered by Order.
		QueryCriteria(ctx context.Context, surveyID string, exec ...core.DBExecutor) ([]Criterion, error)

		CreateAssignment(ctx context.Context, a Assignment, exec ...core.DBExecutor) (Assignment, error)
		// GetAssignment returns the matching assignment with its Survey (without criteria).
		GetAssignment(ctx context.Context, filter AssignmentFilter, exec ...core.DBExecutor) (Assignment, error)
		// QueryAssignments returns the project's assignments, newest first, with their Survey.
		QueryAssignments(ctx context.Context, projectID string, exec ...core.DBExecutor) ([]Assignment, error)

		// UpsertResponse creates the response, or replaces the answers of the existing one for the same
		// (assignment, respondent, target) triple.
		UpsertResponse(ctx context.Context, r Response, exec ...core.DBExecutor) (Response, error)
		// QueryResponses returns the matching responses, oldest first, with Respondent and TargetStudent.
		QueryResponses(ctx context.Context, filter ResponseFilter, exec ...core.DBExecutor) ([]Response, error)
		// CountDistinctTargets counts the distinct targets among targetIDs that respondentID rated.
		CountDistinctTargets(ctx context.Context, assignmentID, respondentID string, targetIDs []string, exec ...core.DBExecutor) (int, error)
		// QueryRespondents returns the distinct students who rated targetStudentID.
		QueryRespondents(ctx context.Context, assignmentID, targetStudentID string, exec ...core.DBExecutor) ([]user.Summary, error)
	}

	ProjectService interface {
		Get(ctx context.Context, id string) (project.Project, error)
		StudentTeam(ctx context.Context, projectID, studentID string) (project.Team, error)
		Teams(ctx context.Context, projectID string) ([]project.Team, error)
	}

	UserService interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Service struct {
		db              core.DB
		repo            Repository
		projects        ProjectService
		users           UserService
		logger          core.Logger
		criteriaEnabled bool
		shuffle         shuffleFunc
	}
)

// NewService returns the survey Service. criteriaEnabled tells whether the criteria storage is
// available; when it is not, surveys are created and read without criteria.
func NewService(
	db core.DB,
	repo Repository,
	projects ProjectService,
	users UserService,
	logger core.Logger,
	criteriaEnabled bool,
) *Service {
	return &Service{
		db:              db,
		repo:            repo,
		projects:        projects,
		users:           users,
		logger:          logger,
		criteriaEnabled: criteriaEnabled,
		shuffle:         rand.Shuffle,
	}
}

// AssignSurvey creates a survey with its criteria and assigns it to the creator's project, atomically.
func (svc *Service) AssignSurvey(ctx context.Context, na NewAssignment) (Survey, Assignment, error) {
	na.Clean()
	p, err := svc.projects.Get(ctx, na.ProjectID)
	if err != nil {
		if core.IsNotFound(err) {
			return Survey{}, Assignment{}, ErrNotProjectOwner
		}
		return Survey{}, Assignment{}, errors.Wrap(err, "finding project")
	}
	if p.InstructorID != na.CreatorID {
		return Survey{}, Assignment{}, ErrNotProjectOwner
	}

	now := NowFunc().UTC()
	s := Survey{
		ID:        core.NewID(),
		Title:     na.Title,
		CreatorID: na.CreatorID,
		CreatedAt: now,
		Criteria:  []Criterion{},
	}
	if na.Description != "" {
		s.Description = null.StringFrom(na.Description)
	}

	if svc.criteriaEnabled {
		for i, nc := range na.Criteria {
			c := Criterion{
				ID:        core.NewID(),
				SurveyID:  s.ID,
				Label:     nc.Label,
				MinRating: DefaultMinRating,
				MaxRating: DefaultMaxRating,
				Order:     i + 1,
			}
			if nc.MinRating != nil {
				c.MinRating = *nc.MinRating
			}
			if nc.MaxRating != nil {
				c.MaxRating = *nc.MaxRating
			}
			if c.MinRating > c.MaxRating {
				return Survey{}, Assignment{}, ErrInvalidRatingBounds
			}
			s.Criteria = append(s.Criteria, c)
		}
	} else if len(na.Criteria) > 0 {
		svc.logger.Warn("criteria storage unavailable; survey created without criteria", map[string]interface{}{"survey": s.ID})
	}

	a := Assignment{
		ID:        core.NewID(),
		ProjectID: p.ID,
		SurveyID:  s.ID,
		Deadline:  na.Deadline.UTC(),
		Status:    AssignmentStatusActive,
		CreatedAt: now,
	}

	err = core.WithTransaction(ctx, svc.db, func(tx core.DBExecutor) error {
		criteria := s.Criteria
		created, err := svc.repo.CreateSurvey(ctx, s, tx)
		if err != nil {
			return errors.Wrap(err, "creating survey")
		}
		if len(criteria) > 0 {
			if err = svc.repo.CreateCriteria(ctx, criteria, tx); err != nil {
				return errors.Wrap(err, "creating criteria")
			}
		}
		if a, err = svc.repo.CreateAssignment(ctx, a, tx); err != nil {
			return errors.Wrap(err, "creating assignment")
		}
		s = created
		s.Criteria = criteria
		return nil
	})
	if err != nil {
		return Survey{}, Assignment{}, err
	}
	a.Survey = &s
	return s, a, nil
}

// Assignment returns the assignment with its survey and criteria.
func (svc *Service) Assignment(ctx context.Context, id string) (Assignment, error) {
	a, err := svc.repo.GetAssignment(ctx, AssignmentFilter{ID: id})
	if err != nil {
		return Assignment{}, err
	}
	if a.Survey == nil {
		a.Survey = &Survey{ID: a.SurveyID}
	}
	if a.Survey.Criteria, err = svc.criteria(ctx, a.SurveyID); err != nil {
		return Assignment{}, err
	}
	return a, nil
}

// ProjectAssignments lists the project's assignments, newest first.
func (svc *Service) ProjectAssignments(ctx context.Context, projectID string) ([]Assignment, error) {
	as, err := svc.repo.QueryAssignments(ctx, projectID)
	return as, errors.Wrap(err, "querying assignments")
}

func (svc *Service) criteria(ctx context.Context, surveyID string) ([]Criterion, error) {
	if !svc.criteriaEnabled {
		return []Criterion{}, nil
	}
	criteria, err := svc.repo.QueryCriteria(ctx, surveyID)
	if err != nil {
		return nil, errors.Wrap(err, "querying criteria")
	}
	return criteria, nil
}

// Submit records the respondent's answers about each teammate. Re-submitting for the same target
// replaces the previous answers.
func (svc *Service) Submit(ctx context.Context, sub Submission) error {
	a, err := svc.repo.GetAssignment(ctx, AssignmentFilter{ID: sub.AssignmentID, ProjectID: sub.ProjectID})
	if err != nil {
		return err
	}
	now := NowFunc().UTC()
	if a.Closed(now) {
		return ErrDeadlinePassed
	}

	team, err := svc.projects.StudentTeam(ctx, a.ProjectID, sub.RespondentID)
	if err != nil {
		if core.IsNotFound(err) {
			return ErrRespondentNoTeam
		}
		return errors.Wrap(err, "finding respondent team")
	}
	targetIDs := make([]string, 0, len(sub.Answers))
	for targetID := range sub.Answers {
		if targetID == sub.RespondentID || !team.HasMember(targetID) {
			return ErrTargetNotTeammate
		}
		targetIDs = append(targetIDs, targetID)
	}
	sort.Strings(targetIDs)

	criteria, err := svc.criteria(ctx, a.SurveyID)
	if err != nil {
		return err
	}
	if err = checkAnswers(criteria, sub.Answers); err != nil {
		return err
	}

	return core.WithTransaction(ctx, svc.db, func(tx core.DBExecutor) error {
		for _, targetID := range targetIDs {
			r := Response{
				ID:              core.NewID(),
				AssignmentID:    a.ID,
				RespondentID:    sub.RespondentID,
				TargetStudentID: targetID,
				Answers:         sub.Answers[targetID],
				SubmittedAt:     now,
				UpdatedAt:       now,
			}
			if _, err := svc.repo.UpsertResponse(ctx, r, tx); err != nil {
				return errors.Wrapf(err, "saving response about %s", targetID)
			}
		}
		return nil
	})
}

// checkAnswers verifies that every answer targets a known criterion and is within its range.
// Without criteria, answers are accepted as is.
func checkAnswers(criteria []Criterion, answers map[string]Answers) error {
	if len(criteria) == 0 {
		return nil
	}
	byID := make(map[string]Criterion, len(criteria))
	for _, c := range criteria {
		byID[c.ID] = c
	}
	for _, ans := range answers {
		for criterionID, a := range ans {
			c, ok := byID[criterionID]
			if !ok {
				return ErrUnknownCriterion
			}
			if !c.Accepts(a.Rating) {
				return ErrRatingOutOfRange
			}
		}
	}
	return nil
}

// CompletionStatus tells whether every member of the student's team has rated all their teammates.
func (svc *Service) CompletionStatus(ctx context.Context, assignmentID, studentID string) (TeamCompletion, error) {
	a, err := svc.repo.GetAssignment(ctx, AssignmentFilter{ID: assignmentID})
	if err != nil {
		return TeamCompletion{}, err
	}
	team, err := svc.projects.StudentTeam(ctx, a.ProjectID, studentID)
	if err != nil {
		if core.IsNotFound(err) {
			return TeamCompletion{}, ErrStudentNoTeam
		}
		return TeamCompletion{}, errors.Wrap(err, "finding student team")
	}
	return svc.teamCompletion(ctx, a.ID, team)
}

// Feedback is the anonymized feedback a student received, grouped by criterion.
type Feedback struct {
	FeedbackByCriterion map[string][]AnonymousFeedback `json:"feedbackByCriterion"`
	Criteria            []Criterion                    `json:"criteria"`
	TotalResponses      int                            `json:"totalResponses"`
}

// MyFeedback returns the anonymized feedback targetStudentID received. Items are reshuffled on
// every call.
func (svc *Service) MyFeedback(ctx context.Context, assignmentID, targetStudentID string) (Feedback, error) {
	a, err := svc.Assignment(ctx, assignmentID)
	if err != nil {
		return Feedback{}, err
	}
	responses, err := svc.repo.QueryResponses(ctx, ResponseFilter{AssignmentID: a.ID, TargetStudentID: targetStudentID})
	if err != nil {
		return Feedback{}, errors.Wrap(err, "querying responses")
	}

	ids := criterionIDs(a.Survey.Criteria, responses)
	return Feedback{
		FeedbackByCriterion: anonymize(groupByCriterion(ids, responses), svc.shuffle),
		Criteria:            a.Survey.Criteria,
		TotalResponses:      len(responses),
	}, nil
}

// Results is the instructor's view of an assignment: progress and non anonymized aggregates.
type Results struct {
	Assignment        Assignment          `json:"assignment"`
	CompletionStatus  []StudentCompletion `json:"completionStatus"`
	AggregatedResults []CriterionResult   `json:"aggregatedResults"`
	OverallStats      OverallStats        `json:"overallStats"`
}

func (svc *Service) Results(ctx context.Context, assignmentID string) (Results, error) {
	a, err := svc.Assignment(ctx, assignmentID)
	if err != nil {
		return Results{}, err
	}
	responses, err := svc.repo.QueryResponses(ctx, ResponseFilter{AssignmentID: a.ID})
	if err != nil {
		return Results{}, errors.Wrap(err, "querying responses")
	}
	teams, err := svc.projects.Teams(ctx, a.ProjectID)
	if err != nil {
		return Results{}, err
	}

	completion, stats := projectCompletion(teams, responses)
	res := Results{
		Assignment:        a,
		CompletionStatus:  completion,
		AggregatedResults: []CriterionResult{},
		OverallStats:      stats,
	}
	if stats.TotalStudents > 0 {
		res.AggregatedResults = aggregateResults(a.Survey.Criteria, responses)
	}
	return res, nil
}

// WhoRatedMe returns the distinct students who submitted feedback about targetStudentID.
func (svc *Service) WhoRatedMe(ctx context.Context, assignmentID, targetStudentID string) ([]user.Summary, error) {
	respondents, err := svc.repo.QueryRespondents(ctx, assignmentID, targetStudentID)
	return respondents, errors.Wrap(err, "querying respondents")
}

// Responses returns every response of the assignment, newest first.
func (svc *Service) Responses(ctx context.Context, assignmentID string) ([]Response, error) {
	responses, err := svc.repo.QueryResponses(ctx, ResponseFilter{AssignmentID: assignmentID})
	if err != nil {
		return nil, errors.Wrap(err, "querying responses")
	}
	sort.SliceStable(responses, func(i, j int) bool {
		return responses[i].SubmittedAt.After(responses[j].SubmittedAt)
	})
	return responses, nil
}

// HasSubmitted tells whether respondentID submitted at least one response for the assignment.
func (svc *Service) HasSubmitted(ctx context.Context, assignmentID, respondentID string) (bool, error) {
	responses, err := svc.repo.QueryResponses(ctx, ResponseFilter{AssignmentID: assignmentID, RespondentID: respondentID})
	if err != nil {
		return false, errors.Wrap(err, "querying responses")
	}
	return len(responses) > 0, nil
}
