package survey

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/peereval/backend/core"
	"github.com/peereval/backend/core/user"
)

const (
	AssignmentStatusActive = "active"

	DefaultMinRating = 1
	DefaultMaxRating = 5
)

type Survey struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description null.String `json:"description"`
	CreatorID   string      `json:"creatorId"`
	CreatedAt   time.Time   `json:"createdAt"` // UTC
	Criteria    []Criterion `json:"criteria"`
}

type Criterion struct {
	ID        string `json:"id"`
	SurveyID  string `json:"surveyId"`
	Label     string `json:"label"`
	MinRating int    `json:"minRating"`
	MaxRating int    `json:"maxRating"`
	Order     int    `json:"order"`
}

// Accepts reports whether rating lies within the criterion's inclusive range.
func (c Criterion) Accepts(rating int) bool {
	return rating >= c.MinRating && rating <= c.MaxRating
}

type Assignment struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	SurveyID  string    `json:"surveyId"`
	Deadline  time.Time `json:"deadline"` // UTC
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"` // UTC
	Survey    *Survey   `json:"survey,omitempty"`
}

// Closed reports whether submissions are no longer accepted at t.
func (a Assignment) Closed(t time.Time) bool {
	return t.After(a.Deadline)
}

// Answer is a single rating and comment for one criterion.
type Answer struct {
	Text   string `json:"text"`
	Rating int    `json:"rating"`
}

// Answers maps criterion IDs to their Answer. It is stored as JSON.
type Answers map[string]Answer

func (a Answers) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Answers) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*a = Answers{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("survey.Answers.Scan: unsupported type %T", src)
	}
	ans := make(Answers)
	if err := json.Unmarshal(data, &ans); err != nil {
		return err
	}
	*a = ans
	return nil
}

type Response struct {
	ID              string        `json:"id"`
	AssignmentID    string        `json:"assignmentId"`
	RespondentID    string        `json:"respondentId"`
	TargetStudentID string        `json:"targetStudentId"`
	Answers         Answers       `json:"answers"`
	SubmittedAt     time.Time     `json:"submittedAt"` // UTC
	UpdatedAt       time.Time     `json:"updatedAt"`   // UTC
	Respondent      *user.Summary `json:"respondent,omitempty"`
	TargetStudent   *user.Summary `json:"targetStudent,omitempty"`
}

// NewCriterion describes a criterion to create along with a survey.
type NewCriterion struct {
	Label     string `json:"label" validate:"required,notblank"`
	MinRating *int   `json:"minRating"`
	MaxRating *int   `json:"maxRating"`
}

// NewAssignment contains information needed to create a survey and assign it to a project.
type NewAssignment struct {
	ProjectID   string         `json:"projectId" validate:"required"`
	CreatorID   string         `json:"creatorId" validate:"required"`
	Title       string         `json:"title" validate:"required,notblank"`
	Description string         `json:"description"`
	Deadline    time.Time      `json:"deadline" validate:"required"`
	Criteria    []NewCriterion `json:"criteria" validate:"omitempty,dive"`
}

func (na *NewAssignment) Clean() {
	na.ProjectID = core.CleanString(na.ProjectID)
	na.CreatorID = core.CleanString(na.CreatorID)
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	for i := range na.Criteria {
		na.Criteria[i].Label = core.CleanString(na.Criteria[i].Label)
	}
}

// Submission is one respondent's answers about their teammates, keyed by target student ID.
type Submission struct {
	AssignmentID string             `json:"assignmentId"`
	RespondentID string             `json:"respondentId"`
	ProjectID    string             `json:"projectId"`
	Answers      map[string]Answers `json:"answers"`
}

type AssignmentFilter struct {
	ID        string
	ProjectID string
}

type ResponseFilter struct {
	AssignmentID    string
	RespondentID    string
	TargetStudentID string
}
