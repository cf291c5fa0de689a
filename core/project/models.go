package project

import (
	"time"

	"github.com/peereval/backend/core"
	"github.com/peereval/backend/core/user"
)

// Invite statuses
const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusRejected = "rejected"
)

type Project struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	InstructorID string        `json:"instructorId"`
	CreatedAt    time.Time     `json:"createdAt"` // UTC
	Instructor   *user.Summary `json:"instructor,omitempty"`
	Invites      []Invite      `json:"invites,omitempty"`
}

type Invite struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"projectId"`
	StudentID string        `json:"studentId"`
	Status    string        `json:"status"`
	CreatedAt time.Time     `json:"createdAt"` // UTC
	Student   *user.Summary `json:"student,omitempty"`
	Project   *Project      `json:"project,omitempty"`
}

type Team struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"projectId"`
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"createdAt"` // UTC
	Members   []TeamMember `json:"members"`
}

// MemberIDs returns the student IDs of the team's members.
func (t Team) MemberIDs() []string {
	ids := make([]string, 0, len(t.Members))
	for _, m := range t.Members {
		ids = append(ids, m.StudentID)
	}
	return ids
}

func (t Team) HasMember(studentID string) bool {
	for _, m := range t.Members {
		if m.StudentID == studentID {
			return true
		}
	}
	return false
}

type TeamMember struct {
	TeamID    string        `json:"teamId"`
	StudentID string        `json:"studentId"`
	Student   *user.Summary `json:"student,omitempty"`
}

// DeletionSummary reports how many rows each step of a project deletion removed.
type DeletionSummary struct {
	Responses   int64
	Assignments int64
	TeamMembers int64
	Teams       int64
	Invites     int64
}

// NewProject contains information needed to create a Project.
type NewProject struct {
	Title        string `json:"title" validate:"required,notblank"`
	Description  string `json:"description" validate:"required,notblank"`
	InstructorID string `json:"instructorId" validate:"required"`
}

func (np *NewProject) Clean() {
	np.Title = core.CleanString(np.Title)
	np.Description = core.CleanString(np.Description)
	np.InstructorID = core.CleanString(np.InstructorID)
}

type InviteFilter struct {
	ID        string
	ProjectID string
	StudentID string
}
