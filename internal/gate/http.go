package gate

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	mfadomain "schoolhub/backend/internal/mfa/domain"
	"schoolhub/backend/internal/platform/httpx"
	"schoolhub/backend/internal/server/interceptors"
)

// Guarder runs a unit of work behind the sensitive-action gate.
type Guarder interface {
	Guard(ctx context.Context, req Request, unit func(context.Context) error) error
}

// Serve runs unit behind g for the authenticated caller of r, reading the code from the elevation
// headers. On failure it writes the response and returns false; on success the caller writes it.
func Serve(w http.ResponseWriter, r *http.Request, g Guarder, logger *zap.Logger, action string, unit func(context.Context) error) bool {
	id, ok := interceptors.IdentityFrom(r.Context())
	if !ok {
		httpx.Error(w, logger, httpx.ErrUnauthenticated)
		return false
	}
	p := FromRequest(r)
	err := g.Guard(r.Context(), Request{
		UserID:            id.UserID,
		SessionID:         id.SessionID,
		Role:              string(id.Role),
		DeviceFingerprint: id.DeviceID,
		Action:            action,
		Prompter:          p,
	}, unit)
	if err != nil {
		WriteError(w, logger, err, p)
		return false
	}
	return true
}

// requiredDetails tells the client which code to collect before retrying a guarded request.
type requiredDetails struct {
	Action      string           `json:"action"`
	Kinds       []mfadomain.Kind `json:"kinds"`
	ChallengeID string           `json:"challenge_id,omitempty"`
	PhoneLabel  string           `json:"phone_label,omitempty"`
	Delivery    *httpx.ErrorBody `json:"delivery_error,omitempty"`
}

// WriteError writes the response for a failed Guard. ErrElevationRequired becomes
// 401 elevation_required carrying the prompt p last answered; anything else goes through httpx.Error.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error, p *HeaderPrompter) {
	if !errors.Is(err, ErrElevationRequired) {
		httpx.Error(w, logger, err)
		return
	}
	var details *requiredDetails
	if p != nil && p.Last != nil {
		details = &requiredDetails{
			Action:      p.Last.Action,
			Kinds:       p.Last.Kinds,
			ChallengeID: p.Last.ChallengeID,
			PhoneLabel:  p.Last.PhoneLabel,
		}
		if de := p.Last.DeliveryErr; de != nil {
			details.Delivery = &httpx.ErrorBody{Code: string(de.Category), Message: de.UserMessage(), WaitSeconds: de.WaitSeconds}
		}
	}
	httpx.JSON(w, http.StatusUnauthorized, httpx.ErrorBody{
		Code:    "elevation_required",
		Message: "Enter a verification code to continue.",
		Details: details,
	})
}
