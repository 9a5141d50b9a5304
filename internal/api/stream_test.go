package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/guardline-ai/bastion/internal/audit"
	"github.com/guardline-ai/bastion/internal/auth"
)

// streamOnce serves one stream request whose context is already cancelled, so
// the tailer emits its backlog and returns instead of polling forever.
func streamOnce(t *testing.T, deps *Dependencies, query string) *httptest.ResponseRecorder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/firewall/stream"+query, nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer bsk_testkey")
	w := httptest.NewRecorder()
	deps.authMiddleware(deps.adminOnly(deps.handleStream))(w, req)
	return w
}

func TestStream_InvalidSinceFallsBackToRecentWindow(t *testing.T) {
	s := audit.NewMemoryStore()
	if err := s.Record(context.Background(), &audit.Record{
		RequestID: "req_recent", Phase: audit.PhasePre,
		Timestamp: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatal(err)
	}
	deps := &Dependencies{Auth: auth.NewStaticAuthenticator(), Reader: s, Logger: zap.NewNop()}

	w := streamOnce(t, deps, "?since=not-a-timestamp")
	if w.Code != http.StatusOK {
		t.Fatalf("invalid since must fall back, not reject: got %d: %s", w.Code, w.Body.String())
	}

	body := w.Body.String()
	helloAt := strings.Index(body, "event: hello\ndata: ")
	if helloAt < 0 {
		t.Fatalf("missing hello frame in %q", body)
	}
	line := body[helloAt+len("event: hello\ndata: "):]
	line = line[:strings.Index(line, "\n")]
	var hello struct {
		Since time.Time `json:"since"`
	}
	if err := json.Unmarshal([]byte(line), &hello); err != nil {
		t.Fatalf("hello frame: %v", err)
	}
	age := time.Since(hello.Since)
	if age < 4*time.Minute || age > 6*time.Minute {
		t.Errorf("fallback cursor should be ~5 minutes ago, got %v ago", age)
	}

	// The record inside the window is delivered on the first poll.
	if !strings.Contains(body, "req_recent") {
		t.Errorf("backlog record not delivered: %q", body)
	}
}

func TestStream_MissingSinceDefaultsToRecentWindow(t *testing.T) {
	deps := &Dependencies{Auth: auth.NewStaticAuthenticator(), Reader: audit.NewMemoryStore(), Logger: zap.NewNop()}

	w := streamOnce(t, deps, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "retry: 3000") {
		t.Errorf("missing retry hint: %q", w.Body.String())
	}
}
