// Package loki pushes telemetry events to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"schoolhub/backend/internal/telemetry/domain"
)

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// labelSanitize replaces characters we keep out of label values.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:.]`)

// Client pushes log lines to one Loki instance.
type Client struct {
	baseURL string
	job     string
	http    *http.Client
}

// NewClient returns a Client for baseURL (e.g. http://localhost:3100). httpClient may be nil.
func NewClient(baseURL, job string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if job == "" {
		job = "schoolhub"
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), job: job, http: httpClient}
}

// PushEventJSON pushes a Kafka message value. Labels are limited to event_type and source so stream
// cardinality stays low; user and session ids stay in the line. Unparseable values are pushed as-is at the current time.
func (c *Client) PushEventJSON(ctx context.Context, raw []byte) error {
	labels := map[string]string{}
	ts := time.Now().UTC()
	var ev domain.Event
	if err := json.Unmarshal(raw, &ev); err == nil {
		if ev.EventType != "" {
			labels["event_type"] = ev.EventType
		}
		if ev.Source != "" {
			labels["source"] = ev.Source
		}
		if !ev.CreatedAt.IsZero() {
			ts = ev.CreatedAt
		}
	}
	return c.Push(ctx, ts, string(raw), labels)
}

// Push sends a single log line. Returns an error if the request fails or Loki answers non-2xx.
func (c *Client) Push(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	if c.baseURL == "" {
		return fmt.Errorf("loki: base URL is empty")
	}
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = c.job
	for k, v := range labels {
		if sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	payload, err := json.Marshal(PushRequest{Streams: []Stream{{
		Stream: streamLabels,
		Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
	}}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loki/api/v1/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
