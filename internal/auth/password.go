package auth

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	ErrMissingFields    = errors.New("please fill in all fields")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
)

const (
	MinPasswordLength = 8
	maxStrengthScore  = 5
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail is a shape check only: something@something.tld without spaces.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// Strength is the additive password score shown next to the signup form.
type Strength struct {
	Score    int    `json:"score"`
	MaxScore int    `json:"max_score"`
	Label    string `json:"label"`
}

// PasswordStrength scores one point each for length >= 8, length >= 12, a lowercase letter,
// an uppercase letter, a digit and any other character, capped at 5.
func PasswordStrength(password string) Strength {
	s := Strength{MaxScore: maxStrengthScore}
	if password == "" {
		return s
	}
	n := utf8.RuneCountInString(password)
	if n >= 8 {
		s.Score++
	}
	if n >= 12 {
		s.Score++
	}
	var lower, upper, digit, other bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			other = true
		}
	}
	for _, ok := range []bool{lower, upper, digit, other} {
		if ok {
			s.Score++
		}
	}
	if s.Score > maxStrengthScore {
		s.Score = maxStrengthScore
	}
	switch {
	case s.Score <= 2:
		s.Label = "Weak"
	case s.Score == 3:
		s.Label = "Medium"
	default:
		s.Label = "Strong"
	}
	return s
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" || r.Password == "" {
		return ErrMissingFields
	}
	return nil
}

// SignupRequest is the signup form. ConfirmPassword never leaves the agent.
type SignupRequest struct {
	Email           string `json:"email"`
	Username        string `json:"username,omitempty"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"-"`
}

func (r *SignupRequest) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	r.Username = strings.TrimSpace(r.Username)
	if r.Email == "" || r.Password == "" {
		return ErrMissingFields
	}
	if !ValidEmail(r.Email) {
		return ErrInvalidEmail
	}
	if r.Password != r.ConfirmPassword {
		return ErrPasswordMismatch
	}
	if utf8.RuneCountInString(r.Password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}
