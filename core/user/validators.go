package user

import (
	"fmt"
	"strings"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/peereval/backend/core"
)

var (
	errRegisterMissingFields = "Email, name, password, and role are required"
	errRegisterInvalidRole   = `Role must be either "student" or "instructor"`
	errRegisterInvalid       = "Invalid registration details"
	errResetMissingFields    = "Missing token or password"
	errWeakPassword          = "Password does not meet requirements"

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to user attributes"
)

// InitValidators registers the user specific validations & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(userStructValidation, NewUser{}, ResetPassword{})
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, translator, pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(validate, translator, pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
}

func (nu *NewUser) Validate(validate *validator.Validate, translator ut.Translator) error {
	nu.Clean()
	if nu.Email == "" || nu.Name == "" || nu.Password == "" || nu.Role == "" {
		return core.NewValidationError(errors.New(errRegisterMissingFields))
	}
	if !ValidRole(nu.Role) {
		return core.NewValidationError(
			errors.New(errRegisterInvalidRole),
			core.FieldError{Field: "role", Error: errRegisterInvalidRole},
		)
	}
	return core.CheckStruct(validate, translator, nu, errRegisterInvalid)
}

func (rp *ResetPassword) Validate(validate *validator.Validate, translator ut.Translator) error {
	rp.Token = core.CleanString(rp.Token)
	if rp.Token == "" || rp.NewPassword == "" {
		return core.NewValidationError(errors.New(errResetMissingFields))
	}
	return core.CheckStruct(validate, translator, rp, errWeakPassword)
}

// userStructValidation does struct level validation on NewUser and ResetPassword structs.
func userStructValidation(sl validator.StructLevel) {
	switch data := sl.Current().Interface().(type) {
	case NewUser:
		validatePassword(data.Password, "password", sl, data.Name, data.Email)
	case ResetPassword:
		validatePassword(data.NewPassword, "newPassword", sl)
	}
}

// validatePassword applies the password policy to provided password:
// - minLen: 8
// - no whitespace
// - no all numeric
// - no user attrs similarity
func validatePassword(pwd, field string, sl validator.StructLevel, attrs ...string) {
	reportErr := func(tag string) {
		sl.ReportError(pwd, field, field, tag, "")
	}

	if len(pwd) < pwdMinLen {
		reportErr(pwdMinLenTag)
		return
	}

	var digitCount int
	for _, char := range pwd {
		if unicode.IsSpace(char) {
			reportErr(pwdNoSpaceTag)
			return
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
	}
	if digitCount == len([]rune(pwd)) {
		reportErr(pwdNotAllNumTag)
		return
	}

	lpwd := strings.ToLower(pwd)
	for _, attr := range attrs {
		if attr == "" {
			continue
		}
		ratio := difflib.NewMatcher(strings.Split(lpwd, ""), strings.Split(strings.ToLower(attr), "")).QuickRatio()
		if ratio >= pwdMaxSim {
			reportErr(pwdAttrSimTag)
			return
		}
	}
}
