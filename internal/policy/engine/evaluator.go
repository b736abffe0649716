package engine

import (
	"context"

	"schoolhub/backend/internal/policy/domain"
)

// Input describes who is asking to do what, from which device.
type Input struct {
	UserID            string
	Role              string
	Action            string
	DeviceFingerprint string
	HasPhone          bool
}

// Evaluator decides whether an action needs an elevated session and which factors may provide it.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (domain.Decision, error)
}
