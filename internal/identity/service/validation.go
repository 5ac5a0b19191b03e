package service

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Svyat0y/form-builder-backend/internal/apperr"
)

var namePattern = regexp.MustCompile(`^[a-zA-Zа-яА-ЯёЁ\s'-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Tag registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("personname", func(fl validator.FieldLevel) bool {
		return namePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("dotdomain", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		at := strings.LastIndex(s, "@")
		return at >= 0 && strings.Contains(s[at+1:], ".")
	})
	return v
}

type registration struct {
	Email    string `validate:"required,max=255,email,dotdomain"`
	Name     string `validate:"required,min=2,max=50,personname"`
	Password string `validate:"required,min=6,max=16"`
}

// registrationMessages is keyed by field and failing tag.
var registrationMessages = map[string]string{
	"Email.required":    "Email is required",
	"Email.max":         "Email must be less than 255 characters",
	"Email.email":       "Please provide a valid email address",
	"Email.dotdomain":   "Please provide a valid email address",
	"Name.required":     "Name is required",
	"Name.min":          "Name must be at least 2 characters long",
	"Name.max":          "Name must be less than 50 characters",
	"Name.personname":   "Name can only contain letters, spaces, hyphens, and apostrophes",
	"Password.required": "Password is required",
	"Password.min":      "Password must be at least 6 characters long",
	"Password.max":      "Password must be at most 16 characters long",
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateRegistration returns the first rule the input breaks as an Invalid error.
func validateRegistration(email, name, password string) error {
	err := validate.Struct(registration{Email: email, Name: name, Password: password})
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		fe := fields[0]
		if msg, ok := registrationMessages[fe.Field()+"."+fe.Tag()]; ok {
			return apperr.Invalidf(msg)
		}
		return apperr.Invalidf(fe.Field() + " is invalid")
	}
	if err != nil {
		return err
	}
	return passwordComposition(password)
}

func passwordComposition(password string) error {
	var hasLower, hasUpper, hasDigit bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	if !hasLower {
		return apperr.Invalidf("Password needs a lowercase letter")
	}
	if !hasUpper {
		return apperr.Invalidf("Password needs an uppercase letter")
	}
	if !hasDigit {
		return apperr.Invalidf("Password needs a number")
	}
	return nil
}
