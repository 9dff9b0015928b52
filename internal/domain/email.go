package domain

import (
	"errors"
	"strings"
)

// ErrInvalidEmail indicates an address that does not have a local@domain shape.
var ErrInvalidEmail = errors.New("invalid email address")

// NormalizeEmail trims and lower-cases an address and validates the basic
// local@domain shape. Invitations and accounts store only normalized
// addresses so case differences never split an identity.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	at := strings.Index(normalized, "@")
	if at <= 0 || at == len(normalized)-1 {
		return "", ErrInvalidEmail
	}
	if strings.Contains(normalized[at+1:], "@") || strings.ContainsAny(normalized, " \t") {
		return "", ErrInvalidEmail
	}
	return normalized, nil
}
