package user

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/peereval/backend/core"
)

var (
	// errors
	ErrNotFound        = core.NewNotFoundError("User not found")
	ErrInvalidPassword = core.NewUnauthorizedError("Invalid password")
	ErrNoAccount       = core.NewNotFoundError("No account found with that email")
	ErrInvalidToken    = core.NewValidationError(errors.New("Invalid token"))
	ErrTokenExpired    = core.NewValidationError(errors.New("Token expired"))

	msgTokenLookupFailed    = "Database error when looking up token"
	msgHashFailed           = "Failed to hash password"
	msgPasswordUpdateFailed = "Failed to update password in database"
)

type (
	Repository interface {
		CreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		GetUser(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (User, error)
		QueryUsers(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]User, error)
		UpdateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
	}

	// GetFilter selects a single User; exactly one field is expected to be set.
	GetFilter struct {
		ID                 string
		Email              string
		PasswordResetToken string
	}

	QueryFilter struct {
		IDs  []string
		Role string
	}

	Service struct {
		repo    Repository
		mailSvc core.EmailService
		conf    *core.Config
	}
)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config) *Service {
	return &Service{
		repo:    repo,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

// Register creates a new User. When the email is already taken, the existing User is
// returned and created is false.
func (svc *Service) Register(ctx context.Context, nu NewUser) (usr User, created bool, err error) {
	nu.Clean()
	existing, err := svc.GetByEmail(ctx, nu.Email)
	if err == nil {
		return existing, false, nil
	}
	if !core.IsNotFound(err) {
		return User{}, false, errors.Wrap(err, "finding user by email")
	}

	now := NowFunc().UTC()
	usr = User{
		ID:        core.NewID(),
		Email:     nu.Email,
		Name:      nu.Name,
		Role:      nu.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err = usr.SetPassword(nu.Password, svc.conf.PasswordHashCost); err != nil {
		return User{}, false, errors.Wrap(err, "hashing password")
	}
	usr, err = svc.repo.CreateUser(ctx, usr)
	if err != nil {
		return User{}, false, errors.Wrap(err, "creating user")
	}
	return usr, true, nil
}

// Authenticate returns the User identified by email if pwd matches their password.
func (svc *Service) Authenticate(ctx context.Context, email, pwd string) (User, error) {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, ErrInvalidPassword
	}
	return usr, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *Service) QueryByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}
	return svc.repo.QueryUsers(ctx, QueryFilter{IDs: ids})
}

// RequestPasswordReset stores a fresh reset token on the User and emails them the reset link.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		if core.IsNotFound(err) {
			return ErrNoAccount
		}
		return errors.Wrap(err, "finding user by email")
	}

	token, err := makeResetToken()
	if err != nil {
		return errors.Wrap(err, "making reset token")
	}
	now := NowFunc().UTC()
	usr.PasswordResetToken = null.StringFrom(token)
	usr.TokenExpiry = null.TimeFrom(now.Add(svc.conf.PasswordResetTimeout))
	usr.UpdatedAt = now
	if usr, err = svc.repo.UpdateUser(ctx, usr); err != nil {
		return errors.Wrap(err, "saving reset token")
	}

	return errors.Wrap(svc.sendPasswordResetMail(usr, token), "sending password reset email")
}

func (svc *Service) sendPasswordResetMail(usr User, token string) error {
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset Request",
		TemplateName: "password_reset",
		TemplateData: struct {
			Name      string
			ResetURL  string
			ExpiresIn string
		}{
			Name:      usr.DisplayName(),
			ResetURL:  svc.conf.FrontendBaseURL + "/reset-password?token=" + token,
			ExpiresIn: svc.conf.PasswordResetTimeout.Round(time.Minute).String(),
		},
	}
	return svc.mailSvc.SendMessages(msg)
}

// ResetPassword consumes a password reset token. Each failing stage is reported with its
// own client facing error.
func (svc *Service) ResetPassword(ctx context.Context, rp ResetPassword) error {
	usr, err := svc.repo.GetUser(ctx, GetFilter{PasswordResetToken: rp.Token})
	if err != nil {
		if core.IsNotFound(err) {
			return ErrInvalidToken
		}
		return core.NewInternalError(msgTokenLookupFailed, err)
	}
	if err = verifyResetToken(usr); err != nil {
		return err
	}

	if err = usr.SetPassword(rp.NewPassword, svc.conf.PasswordHashCost); err != nil {
		return core.NewInternalError(msgHashFailed, err)
	}
	usr.PasswordResetToken = null.String{}
	usr.TokenExpiry = null.Time{}
	usr.UpdatedAt = NowFunc().UTC()
	if _, err = svc.repo.UpdateUser(ctx, usr); err != nil {
		return core.NewInternalError(msgPasswordUpdateFailed, err)
	}
	return nil
}

// SetPassword replaces the password of the User identified by email.
func (svc *Service) SetPassword(ctx context.Context, email, pwd string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err = usr.SetPassword(pwd, svc.conf.PasswordHashCost); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	usr.UpdatedAt = NowFunc().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr)
	return errors.Wrap(err, "updating user")
}
