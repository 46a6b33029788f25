package email

import (
	"fmt"
	"time"
)

// Notice is a rendered owner notification.
type Notice struct {
	Subject string
	Body    string
}

const footer = "\n\nYou can review every access to your address in its audit history."

// ConsentExpired tells the owner that handle no longer resolves.
func ConsentExpired(handle string, expiredAt time.Time) Notice {
	return Notice{
		Subject: fmt.Sprintf("Consent for %s has expired", handle),
		Body: fmt.Sprintf("The temporary consent for %s expired at %s.\n"+
			"Services can no longer resolve this address until you issue a new consent.",
			handle, expiredAt.UTC().Format(time.RFC1123)) + footer,
	}
}

// AddressResolved tells the owner that requester obtained the coordinates of handle.
func AddressResolved(handle, requester string, at time.Time) Notice {
	return Notice{
		Subject: fmt.Sprintf("%s was resolved by %s", handle, requester),
		Body: fmt.Sprintf("%s resolved %s at %s.\n"+
			"If you do not recognise this request, revoke the address consent now.",
			requester, handle, at.UTC().Format(time.RFC1123)) + footer,
	}
}

// FailedPIN warns the owner about a resolution attempt with a wrong PIN.
func FailedPIN(handle, requester string, at time.Time) Notice {
	return Notice{
		Subject: fmt.Sprintf("Failed PIN attempt on %s", handle),
		Body: fmt.Sprintf("%s tried to resolve %s with an incorrect UPI PIN at %s.\n"+
			"No location was disclosed.",
			requester, handle, at.UTC().Format(time.RFC1123)) + footer,
	}
}
