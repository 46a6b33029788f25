package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/resolutionconsent/digipin/internal/email"
	"github.com/resolutionconsent/digipin/internal/registry/model"
)

const notifyTimeout = 10 * time.Second

// ContactLookup returns the notification address of a user, or "" when the
// user has none on file. *users.UserService satisfies this interface.
type ContactLookup interface {
	ContactEmail(ctx context.Context, userID uuid.UUID) (string, error)
}

// SetNotifier enables owner notifications. Delivery is asynchronous and
// best-effort; a failed send is logged and never affects the operation.
func (s *AddressService) SetNotifier(sender email.Sender, contacts ContactLookup) {
	s.mailer = sender
	s.contacts = contacts
}

func (s *AddressService) notifyOwner(ctx context.Context, ownerID uuid.UUID, n email.Notice) {
	if s.mailer == nil || s.contacts == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()

		to, err := s.contacts.ContactEmail(ctx, ownerID)
		if err != nil {
			s.logger.Warn("notification: contact lookup failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
			return
		}
		if to == "" {
			return
		}
		if err := s.mailer.Send(ctx, to, n.Subject, n.Body); err != nil {
			s.logger.Warn("notification: send failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
		}
	}()
}

// notifyResolution alerts the owner of a, after disclosure or a wrong PIN.
func (s *AddressService) notifyResolution(ctx context.Context, a *model.DigitalAddress, res *model.Resolution, requester string) {
	if requester == "" {
		requester = DefaultRequester
	}
	switch res.Outcome {
	case model.OutcomeSuccess:
		s.notifyOwner(ctx, a.OwnerUserID, email.AddressResolved(a.Handle, requester, res.ResolvedAt))
	case model.OutcomeInvalidPIN:
		s.notifyOwner(ctx, a.OwnerUserID, email.FailedPIN(a.Handle, requester, res.ResolvedAt))
	}
}

// WaitNotifications blocks until in-flight notifications finish or ctx ends.
func (s *AddressService) WaitNotifications(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.notifications.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
