package echoapi

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/peereval/backend/core"
	"github.com/peereval/backend/core/survey"
)

// missingFields returns a 400 carrying msg when any of values is blank.
func missingFields(msg string, values ...string) error {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return core.NewValidationError(errors.New(msg))
		}
	}
	return nil
}

type (
	LoginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	PasswordResetRequest struct {
		Email string `json:"email"`
	}

	SendInviteRequest struct {
		ProjectID    string `json:"projectId"`
		StudentEmail string `json:"studentEmail"`
		InstructorID string `json:"instructorId"`
	}

	RespondInviteRequest struct {
		InviteID  string `json:"inviteId"`
		Status    string `json:"status"`
		StudentID string `json:"studentId"`
	}

	DeleteProjectRequest struct {
		ProjectID    string `json:"projectId"`
		InstructorID string `json:"instructorId"`
	}

	CreateTeamRequest struct {
		ProjectID  string   `json:"projectId"`
		StudentIDs []string `json:"studentIds"`
	}

	AssignSurveyRequest struct {
		ProjectID   string                `json:"projectId"`
		CreatorID   string                `json:"creatorId"`
		Title       string                `json:"title"`
		Description string                `json:"description"`
		Deadline    string                `json:"deadline"`
		Criteria    []survey.NewCriterion `json:"criteria"`
	}
)

var deadlineLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}

// parseDeadline accepts RFC 3339 timestamps, as well as local date-times and dates which are read as UTC.
func parseDeadline(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, core.NewValidationError(
		errors.New("Invalid deadline"),
		core.FieldError{Field: "deadline", Error: "deadline must be a valid date"},
	)
}

func (r AssignSurveyRequest) toNewAssignment() (survey.NewAssignment, error) {
	deadline, err := parseDeadline(r.Deadline)
	if err != nil {
		return survey.NewAssignment{}, err
	}
	return survey.NewAssignment{
		ProjectID:   r.ProjectID,
		CreatorID:   r.CreatorID,
		Title:       r.Title,
		Description: r.Description,
		Deadline:    deadline,
		Criteria:    r.Criteria,
	}, nil
}
