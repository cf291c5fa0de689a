package user

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
)

var (
	NowFunc = time.Now // mockable

	resetTokenBytes = 32
)

// makeResetToken returns a random, URL safe password reset token.
func makeResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "reading random bytes")
	}
	return hex.EncodeToString(b), nil
}

// verifyResetToken checks that usr holds a reset token that has not expired.
func verifyResetToken(usr User) error {
	if !usr.PasswordResetToken.Valid || usr.PasswordResetToken.String == "" {
		return ErrInvalidToken
	}
	if !usr.TokenExpiry.Valid || usr.TokenExpiry.Time.Before(NowFunc().UTC()) {
		return ErrTokenExpired
	}
	return nil
}
