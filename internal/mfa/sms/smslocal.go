package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"schoolhub/backend/internal/mfa"
)

const defaultTimeout = 15 * time.Second

// Sender dispatches a one-time code to a phone number.
type Sender interface {
	SendOTP(ctx context.Context, phone, otp string) error
}

// SMSLocalClient sends OTP SMS via the SMS Local bulk API.
type SMSLocalClient struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewSMSLocalClient returns a client that uses the given API key and optional base URL/sender.
func NewSMSLocalClient(apiKey, baseURL, sender string) *SMSLocalClient {
	if baseURL == "" {
		baseURL = "https://www.smslocal.com/dev/bulkV2"
	}
	return &SMSLocalClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// SendOTP sends otp to phone (E.164; the leading + is dropped for the gateway).
// A missing API key yields mfa.ErrSMSNotConfigured and a 429 yields *mfa.RateLimitError.
// The OTP is never logged or echoed in errors.
func (c *SMSLocalClient) SendOTP(ctx context.Context, phone, otp string) error {
	if c.APIKey == "" {
		return fmt.Errorf("sms: API key not configured: %w", mfa.ErrSMSNotConfigured)
	}
	body := map[string]any{
		"route":     "otp",
		"numbers":   strings.TrimPrefix(phone, "+"),
		"variables": otp,
	}
	if c.Sender != "" {
		body["sender_id"] = c.Sender
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := time.Minute
		if s, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && s > 0 {
			wait = time.Duration(s) * time.Second
		}
		return &mfa.RateLimitError{Wait: wait}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("sms: gateway rejected credentials status=%d: %w", resp.StatusCode, mfa.ErrSMSNotConfigured)
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
