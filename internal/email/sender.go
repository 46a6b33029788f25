// Package email delivers owner notifications: consent expiry and
// resolution alerts for digital addresses.
package email

import "context"

// Sender delivers a plain-text email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}
