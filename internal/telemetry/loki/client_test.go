package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestPushEventJSON(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("request = %s %s", r.URL.Path, r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	created := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	raw := `{"id":"e1","user_id":"u1","event_type":"elevation.transition","source":"elevation machine","created_at":"2026-05-04T08:00:00Z"}`
	c := NewClient(srv.URL+"/", "", srv.Client())
	if err := c.PushEventJSON(context.Background(), []byte(raw)); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(got.Streams))
	}
	s := got.Streams[0]
	want := map[string]string{"job": "schoolhub", "event_type": "elevation.transition", "source": "elevation_machine"}
	for k, v := range want {
		if s.Stream[k] != v {
			t.Errorf("label %s = %q, want %q", k, s.Stream[k], v)
		}
	}
	if _, ok := s.Stream["user_id"]; ok {
		t.Error("user_id must not be a label")
	}
	if s.Values[0][0] != strconv.FormatInt(created.UnixNano(), 10) || s.Values[0][1] != raw {
		t.Errorf("values = %v", s.Values)
	}
}

func TestPush_Errors(t *testing.T) {
	if err := NewClient("", "", nil).Push(context.Background(), time.Now(), "x", nil); err == nil {
		t.Error("empty base URL should fail")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	if err := NewClient(srv.URL, "job", srv.Client()).PushEventJSON(context.Background(), []byte("not json")); err == nil {
		t.Error("non-2xx should fail")
	}
}
