package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"schoolhub/backend/internal/lock"
	"schoolhub/backend/internal/mfa"
	userdomain "schoolhub/backend/internal/user/domain"
)

// ErrContactBusy is returned when another request is already updating the same contact.
var ErrContactBusy = errors.New("contact update already in progress")

// UpdateSubjectContact sets the user's contact of kind to value, creating the row on first use.
// A changed value is stored unverified. A subject-scoped lock keeps concurrent requests from
// creating duplicate rows.
func (p *Provider) UpdateSubjectContact(ctx context.Context, userID string, kind userdomain.ContactKind, value string) error {
	if value == "" {
		return mfa.NewError(mfa.CategoryFormat, "contact value is required")
	}
	return p.setContact(ctx, userID, kind, value, false)
}

// setContact upserts the contact under the subject lock. verified marks a value proven by a
// confirmed factor; an unverified write never clears the flag of an unchanged value.
func (p *Provider) setContact(ctx context.Context, userID string, kind userdomain.ContactKind, value string, verified bool) error {
	release, err := p.Locker.Acquire(ctx, userID, "contact:"+string(kind), p.cfg.ContactLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return ErrContactBusy
		}
		return fmt.Errorf("acquire contact lock: %w", err)
	}
	defer release()

	now := p.now()
	existing, err := p.Contacts.GetContact(ctx, userID, kind)
	if err != nil {
		return err
	}
	if existing == nil {
		return p.Contacts.CreateContact(ctx, &userdomain.Contact{
			ID:        uuid.NewString(),
			UserID:    userID,
			Kind:      kind,
			Value:     value,
			Verified:  verified,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if existing.Value == value && (existing.Verified || !verified) {
		return nil
	}
	existing.Verified = verified
	existing.Value = value
	existing.UpdatedAt = now
	return p.Contacts.UpdateContact(ctx, existing)
}
