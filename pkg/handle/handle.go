// Package handle provides parsing and validation for digital address handles.
//
// Handle format: {username}@{suffix}
//
// Examples:
//
//	asha@home
//	vikram.iyer@office-2
//
// Both parts are lower-cased. The username is the account's username; the
// suffix distinguishes the owner's locations and may contain letters, digits,
// '.', '_' and '-'.
package handle

import (
	"fmt"
	"strings"
)

// MaxPartLen is the longest username or suffix accepted.
const MaxPartLen = 32

// Handle is a parsed username@suffix pair.
type Handle struct {
	Username string
	Suffix   string
}

// New validates username and suffix and returns the canonical handle.
func New(username, suffix string) (*Handle, error) {
	h := &Handle{
		Username: strings.ToLower(strings.TrimSpace(username)),
		Suffix:   strings.ToLower(strings.TrimSpace(suffix)),
	}
	if err := validatePart("username", h.Username); err != nil {
		return nil, err
	}
	if err := validatePart("suffix", h.Suffix); err != nil {
		return nil, err
	}
	return h, nil
}

// Parse parses a handle string.
func Parse(raw string) (*Handle, error) {
	username, suffix, ok := strings.Cut(strings.TrimSpace(raw), "@")
	if !ok {
		return nil, fmt.Errorf("handle %q must have the form username@suffix", raw)
	}
	if strings.Contains(suffix, "@") {
		return nil, fmt.Errorf("handle %q contains more than one '@'", raw)
	}
	return New(username, suffix)
}

// String returns the canonical username@suffix form.
func (h *Handle) String() string {
	return h.Username + "@" + h.Suffix
}

// MustParse parses a handle and panics on error. Useful in tests and init blocks.
func MustParse(raw string) *Handle {
	h, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return h
}

// Canonical parses raw and returns its canonical string form.
func Canonical(raw string) (string, error) {
	h, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

func validatePart(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	if len(value) > MaxPartLen {
		return fmt.Errorf("%s %q is longer than %d characters", name, value, MaxPartLen)
	}
	for i, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case (r == '.' || r == '_' || r == '-') && i > 0:
		default:
			return fmt.Errorf("%s %q contains invalid character %q", name, value, r)
		}
	}
	return nil
}
