package utils

import (
	"errors"
	"net/mail"
	"regexp"
)

var (
	ErrEmailEmpty   = errors.New("`email` is empty")
	ErrEmailInvalid = errors.New("`email` is not valid")
)

// mail.ParseAddress accepts user@host without a tld and display names, so
// the bare address also has to look like local@domain.tld.
var emailRegex = regexp.MustCompile(`^[^\s@<>]+@[^\s@<>]+\.[^\s@<>.]+$`)

func ValidateEmail(email string) error {
	switch {
	case email == "":
		return ErrEmailEmpty
	case !emailRegex.MatchString(email):
		return ErrEmailInvalid
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return ErrEmailInvalid
	}
	return nil
}
