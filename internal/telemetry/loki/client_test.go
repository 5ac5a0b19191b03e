package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Svyat0y/form-builder-backend/internal/telemetry/domain"
)

type recorder struct {
	mu   sync.Mutex
	reqs []PushRequest
}

func newLoki(t *testing.T, status int) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body PushRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec.mu.Lock()
		rec.reqs = append(rec.reqs, body)
		rec.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, rec
}

func TestNewClient_EmptyURL(t *testing.T) {
	if _, err := NewClient("  ", nil); err == nil {
		t.Error("empty base URL should fail")
	}
}

func TestPushEventJSON(t *testing.T) {
	c, rec := newLoki(t, http.StatusNoContent)
	ev := domain.NewEvent(domain.EventRefreshReuse, "auth service", "u1", "s1", nil)
	ev.CreatedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	raw, _ := json.Marshal(ev)

	if err := c.PushEventJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(rec.reqs) != 1 || len(rec.reqs[0].Streams) != 1 {
		t.Fatalf("requests = %+v", rec.reqs)
	}
	s := rec.reqs[0].Streams[0]
	if s.Stream["job"] != Job || s.Stream["event_type"] != domain.EventRefreshReuse {
		t.Errorf("labels = %v", s.Stream)
	}
	if s.Stream["source"] != "auth_service" {
		t.Errorf("source label = %q, want sanitized auth_service", s.Stream["source"])
	}
	if s.Values[0][0] != strconv.FormatInt(ev.CreatedAt.UnixNano(), 10) {
		t.Errorf("timestamp = %s", s.Values[0][0])
	}
	if s.Values[0][1] != string(raw) {
		t.Errorf("line = %s", s.Values[0][1])
	}
}

func TestPushEventJSON_Unparseable(t *testing.T) {
	c, rec := newLoki(t, http.StatusNoContent)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }
	if err := c.PushEventJSON(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	s := rec.reqs[0].Streams[0]
	if len(s.Stream) != 1 || s.Values[0][1] != "not json" {
		t.Errorf("stream = %+v", s)
	}
	if s.Values[0][0] != strconv.FormatInt(fixed.UnixNano(), 10) {
		t.Errorf("timestamp = %s, want now", s.Values[0][0])
	}
}

func TestPush_Non2xx(t *testing.T) {
	c, _ := newLoki(t, http.StatusTooManyRequests)
	if err := c.Push(context.Background(), time.Now(), "line", nil); err == nil {
		t.Error("non-2xx should return error")
	}
}
