package user

import (
	"time"

	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/peereval/backend/core"
)

// Roles
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
)

var AllRoles = []string{RoleStudent, RoleInstructor}

type User struct {
	ID                 string      `json:"id"`
	Email              string      `json:"email"`
	Name               string      `json:"name"`
	Role               string      `json:"role"`
	PasswordHash       []byte      `json:"-"`
	PasswordResetToken null.String `json:"-"`
	TokenExpiry        null.Time   `json:"-"` // UTC
	CreatedAt          time.Time   `json:"createdAt"` // UTC
	UpdatedAt          time.Time   `json:"updatedAt"` // UTC
}

func (u *User) SetPassword(pwd string, cost ...int) error {
	c := bcrypt.DefaultCost
	if len(cost) > 0 && cost[0] >= bcrypt.MinCost {
		c = cost[0]
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), c)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) IsInstructor() bool { return u.Role == RoleInstructor }
func (u *User) IsStudent() bool    { return u.Role == RoleStudent }

// DisplayName is the user's name, or their email when the name is blank.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

func (u *User) Summary() Summary {
	return Summary{ID: u.ID, Name: u.Name, Email: u.Email}
}

// Summary is the public subset of a User embedded in other resources.
type Summary struct {
	ID    string `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Email string `json:"email" db:"email"`
}

func (s Summary) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Email
}

// NewUser contains information needed to register a new User.
type NewUser struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,notblank"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required"`
}

func (nu *NewUser) Clean() {
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Name = core.CleanString(nu.Name)
	nu.Role = core.CleanString(nu.Role, true /* lower */)
}

func ValidRole(role string) bool {
	for _, r := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

// ResetPassword is the payload used to consume a password reset token.
type ResetPassword struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}
