package survey

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/peereval/backend/core"
)

// Report is the content of a student's feedback report. Feedback in it is anonymized.
type Report struct {
	ProjectTitle      string
	SurveyTitle       string
	SurveyDescription string
	Deadline          time.Time
	StudentName       string
	GeneratedAt       time.Time
	TotalResponses    int
	Criteria          []ReportCriterion
}

type ReportCriterion struct {
	Label     string
	MinRating int
	MaxRating int
	Average   float64
	Feedback  []AnonymousFeedback
}

var filenameUnsafe = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Filename returns the download name of the report.
func (r Report) Filename() string {
	slug := func(s string) string {
		s = strings.Trim(filenameUnsafe.ReplaceAllString(s, "-"), "-")
		if s == "" {
			return "report"
		}
		return strings.ToLower(s)
	}
	return fmt.Sprintf("feedback-report-%s-%s.pdf", slug(r.SurveyTitle), slug(r.StudentName))
}

// BuildReport assembles studentID's feedback report. It is only available once every member of
// the student's team has rated all of their teammates.
func (svc *Service) BuildReport(ctx context.Context, assignmentID, studentID string) (Report, error) {
	a, err := svc.Assignment(ctx, assignmentID)
	if err != nil {
		return Report{}, err
	}
	p, err := svc.projects.Get(ctx, a.ProjectID)
	if err != nil {
		return Report{}, errors.Wrap(err, "finding project")
	}
	student, err := svc.users.GetByID(ctx, studentID)
	if err != nil {
		if core.IsNotFound(err) {
			return Report{}, ErrStudentNotFound
		}
		return Report{}, errors.Wrap(err, "finding student")
	}

	team, err := svc.projects.StudentTeam(ctx, a.ProjectID, student.ID)
	if err != nil {
		if core.IsNotFound(err) {
			return Report{}, ErrStudentNoTeam
		}
		return Report{}, errors.Wrap(err, "finding student team")
	}
	completion, err := svc.teamCompletion(ctx, a.ID, team)
	if err != nil {
		return Report{}, err
	}
	if !completion.AllSubmitted {
		return Report{}, ErrNotFullyCompleted
	}

	fb, err := svc.MyFeedback(ctx, a.ID, student.ID)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		ProjectTitle:      p.Title,
		SurveyTitle:       a.Survey.Title,
		SurveyDescription: a.Survey.Description.String,
		Deadline:          a.Deadline,
		StudentName:       student.DisplayName(),
		GeneratedAt:       NowFunc().UTC(),
		TotalResponses:    fb.TotalResponses,
	}
	criteria := a.Survey.Criteria
	if len(criteria) == 0 {
		for id := range fb.FeedbackByCriterion {
			criteria = append(criteria, Criterion{ID: id, Label: id, MinRating: DefaultMinRating, MaxRating: DefaultMaxRating})
		}
		sort.Slice(criteria, func(i, j int) bool { return criteria[i].ID < criteria[j].ID })
	}
	for _, c := range criteria {
		items := fb.FeedbackByCriterion[c.ID]
		rep.Criteria = append(rep.Criteria, ReportCriterion{
			Label:     c.Label,
			MinRating: c.MinRating,
			MaxRating: c.MaxRating,
			Average:   averageRating(anonymousRatings(items)),
			Feedback:  items,
		})
	}
	return rep, nil
}
