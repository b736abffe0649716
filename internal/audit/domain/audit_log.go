package domain

import "time"

// AuditLog represents an audit event. UserID is empty for events without an authenticated subject.
type AuditLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
