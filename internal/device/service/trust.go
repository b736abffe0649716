// Package service implements the trusted device cache consulted before elevation.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schoolhub/backend/internal/device/domain"
	"schoolhub/backend/internal/device/repository"
)

var (
	ErrDeviceNotFound  = errors.New("trusted device not found")
	ErrInvalidDuration = errors.New("trust duration must be at least one day")
	ErrMissingDevice   = errors.New("user and device fingerprint are required")
)

const maxLabelLen = 120

// TrustCache records and checks device trust. It stores whatever duration it is given;
// the per-role duration comes from policy.
type TrustCache struct {
	repo   repository.Repository
	logger *zap.Logger
	nowF   func() time.Time
}

// NewTrustCache returns a TrustCache over repo.
func NewTrustCache(repo repository.Repository, logger *zap.Logger) *TrustCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrustCache{repo: repo, logger: logger, nowF: time.Now}
}

// RecordTrust trusts the device for durationDays from now. Recording an already known
// fingerprint reactivates the record and replaces its expiry.
func (c *TrustCache) RecordTrust(ctx context.Context, userID, fingerprint, label string, durationDays int) (*domain.TrustedDevice, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if userID == "" || fingerprint == "" {
		return nil, ErrMissingDevice
	}
	if durationDays < 1 {
		return nil, ErrInvalidDuration
	}
	label = strings.TrimSpace(label)
	if len(label) > maxLabelLen {
		label = label[:maxLabelLen]
	}
	now := c.nowF().UTC()
	d := &domain.TrustedDevice{
		ID:           uuid.New().String(),
		UserID:       userID,
		Fingerprint:  fingerprint,
		Label:        label,
		CreatedAt:    now,
		LastUsedAt:   now,
		TrustedUntil: now.AddDate(0, 0, durationDays),
		Active:       true,
	}
	if err := c.repo.Upsert(ctx, d); err != nil {
		return nil, err
	}
	c.logger.Info("device trusted",
		zap.String("user_id", userID), zap.String("device_id", d.ID), zap.Time("trusted_until", d.TrustedUntil))
	return d, nil
}

// IsTrusted reports whether the device is active and unexpired for the user, touching its
// last-used time when it is. Lookup failures count as untrusted.
func (c *TrustCache) IsTrusted(ctx context.Context, userID, fingerprint string) bool {
	fingerprint = strings.TrimSpace(fingerprint)
	if userID == "" || fingerprint == "" {
		return false
	}
	d, err := c.repo.GetByUserAndFingerprint(ctx, userID, fingerprint)
	if err != nil {
		c.logger.Warn("trusted device lookup failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	now := c.nowF().UTC()
	if !d.IsEffectivelyTrusted(now) {
		return false
	}
	if err := c.repo.Touch(ctx, d.ID, now); err != nil {
		c.logger.Warn("trusted device touch failed", zap.String("device_id", d.ID), zap.Error(err))
	}
	return true
}

// Revoke deactivates one of the user's records. Records owned by another user are not found.
func (c *TrustCache) Revoke(ctx context.Context, userID, recordID string) error {
	d, err := c.repo.GetByID(ctx, recordID)
	if err != nil {
		return err
	}
	if d == nil || d.UserID != userID {
		return ErrDeviceNotFound
	}
	return c.repo.Deactivate(ctx, recordID)
}

// RevokeAll deactivates every record of the user and returns how many were active.
func (c *TrustCache) RevokeAll(ctx context.Context, userID string) (int, error) {
	n, err := c.repo.DeactivateAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	c.logger.Info("trusted devices revoked", zap.String("user_id", userID), zap.Int("count", n))
	return n, nil
}

// List returns the user's records, including inactive and expired ones.
func (c *TrustCache) List(ctx context.Context, userID string) ([]*domain.TrustedDevice, error) {
	return c.repo.ListByUser(ctx, userID)
}
