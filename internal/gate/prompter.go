package gate

import (
	"context"
	"net/http"
	"strings"
)

// Request headers read by HeaderPrompter.
const (
	HeaderElevationCode   = "X-Elevation-Code"
	HeaderElevationCancel = "X-Elevation-Cancel"
)

// PromptFunc adapts a function to Prompter.
type PromptFunc func(ctx context.Context, p Prompt) (string, error)

func (f PromptFunc) Prompt(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

// HeaderPrompter answers a prompt with the code the client sent alongside the guarded request.
// Without a code it returns ErrElevationRequired so the client can collect one and retry.
type HeaderPrompter struct {
	Code      string
	Cancelled bool
	// Last is the most recent prompt, kept for the elevation_required response.
	Last *Prompt
}

// FromRequest reads the elevation headers of r.
func FromRequest(r *http.Request) *HeaderPrompter {
	return &HeaderPrompter{
		Code:      strings.TrimSpace(r.Header.Get(HeaderElevationCode)),
		Cancelled: strings.EqualFold(r.Header.Get(HeaderElevationCancel), "true"),
	}
}

func (p *HeaderPrompter) Prompt(ctx context.Context, pr Prompt) (string, error) {
	p.Last = &pr
	if p.Cancelled {
		return "", ErrPromptCancelled
	}
	if p.Code == "" {
		return "", ErrElevationRequired
	}
	return p.Code, nil
}
