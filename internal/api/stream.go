package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/guardline-ai/bastion/internal/audit"
	"github.com/guardline-ai/bastion/internal/auth"
)

// sseSink writes tail events as SSE frames, flushing after every frame so
// the client sees decisions as they land.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	level   audit.Level
}

func (s *sseSink) frame(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	s.flusher.Flush()
}

func (s *sseSink) Event(rec audit.Record) {
	s.frame("firewall", rec.Redacted(s.level))
}

func (s *sseSink) Cursor(ts time.Time) {
	s.frame("cursor", map[string]string{"since": ts.UTC().Format(time.RFC3339Nano)})
}

func (s *sseSink) Heartbeat(ts time.Time) {
	s.frame("heartbeat", map[string]string{"time": ts.UTC().Format(time.RFC3339)})
}

func (s *sseSink) Error(err error) {
	s.frame("error", map[string]string{"detail": err.Error()})
}

// handleStream implements GET /api/firewall/stream (admin only).
//
// Query parameters:
//   - since:     RFC3339 cursor; defaults to five minutes ago
//   - phase:     comma-separated phase filter (pre,post,shadow,shadow_error,error)
//   - policy_id: restrict to one policy
//
// The stream opens with a hello frame carrying a retry hint, then emits
// firewall frames per decision, cursor frames after every poll, and
// heartbeats while idle. It runs until the client disconnects.
func (d *Dependencies) handleStream(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Audit read-back not configured"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Streaming unsupported"})
		return
	}

	// Missing or unparseable cursors fall back to the last five minutes
	// instead of rejecting; a dashboard reconnecting with a mangled cursor
	// should resume, not die.
	q := r.URL.Query()
	since := time.Now().Add(-5 * time.Minute)
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}

	var phases []audit.Phase
	if v := q.Get("phase"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				phases = append(phases, audit.Phase(p))
			}
		}
	}

	level := audit.LevelBasic
	if tenant := auth.TenantFromContext(r.Context()); tenant != nil &&
		tenant.ExplainabilityLevel == string(audit.LevelAdvanced) {
		level = audit.LevelAdvanced
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, "retry: 3000\n\n")
	sink := &sseSink{w: w, flusher: flusher, level: level}
	sink.frame("hello", map[string]string{
		"since": since.UTC().Format(time.RFC3339),
	})

	tailer := audit.NewTailer(d.Reader, audit.TailOptions{
		Since:    since,
		Phases:   phases,
		PolicyID: q.Get("policy_id"),
	})
	tailer.Run(r.Context(), sink)
}
