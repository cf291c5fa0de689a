package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/peereval/backend/core"
	"github.com/peereval/backend/core/user"
)

var userColumns = []string{
	"id", "email", "name", "role", "password_hash", "password_reset_token", "token_expiry", "created_at", "updated_at",
}

type userRow struct {
	ID                 string      `db:"id"`
	Email              string      `db:"email"`
	Name               string      `db:"name"`
	Role               string      `db:"role"`
	PasswordHash       string      `db:"password_hash"`
	PasswordResetToken null.String `db:"password_reset_token"`
	TokenExpiry        null.Time   `db:"token_expiry"`
	CreatedAt          time.Time   `db:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at"`
}

func (row userRow) toUser() user.User {
	usr := user.User{
		ID:                 row.ID,
		Email:              row.Email,
		Name:               row.Name,
		Role:               row.Role,
		PasswordHash:       []byte(row.PasswordHash),
		PasswordResetToken: row.PasswordResetToken,
		TokenExpiry:        row.TokenExpiry,
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
	}
	if usr.TokenExpiry.Valid {
		usr.TokenExpiry.Time = usr.TokenExpiry.Time.UTC()
	}
	return usr
}

type userRepository struct {
	repo
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) *userRepository {
	return &userRepository{repo: newRepo(exec)}
}

func (r *userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		usr.ID = core.NewID()
	}
	q := r.sb.Insert("users").
		Columns(userColumns...).
		Values(
			usr.ID, usr.Email, usr.Name, usr.Role, string(usr.PasswordHash),
			usr.PasswordResetToken, usr.TokenExpiry, usr.CreatedAt.UTC(), usr.UpdatedAt.UTC(),
		)
	if _, err := r.run(ctx, r.getExec(exec), q); err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (r *userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	where := sq.Eq{}
	if filter.ID != "" {
		where["id"] = filter.ID
	}
	if filter.Email != "" {
		where["email"] = filter.Email
	}
	if filter.PasswordResetToken != "" {
		where["password_reset_token"] = filter.PasswordResetToken
	}
	if len(where) == 0 {
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	q := r.sb.Select(userColumns...).From("users").Where(where).Limit(1)
	if err := r.get(ctx, r.getExec(exec), &row, q, user.ErrNotFound); err != nil {
		return user.User{}, err
	}
	return row.toUser(), nil
}

func (r *userRepository) QueryUsers(ctx context.Context, filter user.QueryFilter, exec ...core.DBExecutor) ([]user.User, error) {
	q := r.sb.Select(userColumns...).From("users").OrderBy("name", "email")
	if filter.IDs != nil {
		q = q.Where(sq.Eq{"id": filter.IDs})
	}
	if filter.Role != "" {
		q = q.Where(sq.Eq{"role": filter.Role})
	}

	var rows []userRow
	if err := r.list(ctx, r.getExec(exec), &rows, q); err != nil {
		return nil, errors.Wrap(err, "selecting users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

func (r *userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	q := r.sb.Update("users").
		SetMap(map[string]interface{}{
			"email":                usr.Email,
			"name":                 usr.Name,
			"role":                 usr.Role,
			"password_hash":        string(usr.PasswordHash),
			"password_reset_token": usr.PasswordResetToken,
			"token_expiry":         usr.TokenExpiry,
			"updated_at":           usr.UpdatedAt.UTC(),
		}).
		Where(sq.Eq{"id": usr.ID})
	n, err := r.run(ctx, r.getExec(exec), q)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}
