package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Recorder persists decision records. Record must complete (or fail) before
// the gateway serves its HTTP response: write-before-respond means an audit
// gap cannot exist for a served response. A Record error is surfaced to the
// gateway, which fails the request open or closed per configuration.
type Recorder interface {
	Record(ctx context.Context, rec *Record) error
	Close()
}

// Reader provides read-back for explanations and the live stream.
type Reader interface {
	// Get returns every record for a request ID, ordered by time.
	Get(ctx context.Context, requestID string) ([]Record, error)

	// ListSince returns records with Timestamp >= since, oldest first,
	// optionally filtered by phase set and policy ID.
	ListSince(ctx context.Context, since time.Time, phases []Phase, policyID string, limit int) ([]Record, error)
}

// MemoryStore is an in-process Recorder + Reader used for tests and
// single-node development. Append-only; records are copied on read.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Get(_ context.Context, requestID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.records {
		if r.RequestID == requestID {
			out = append(out, r)
		}
	}
	sortByTime(out)
	return out, nil
}

func (s *MemoryStore) ListSince(_ context.Context, since time.Time, phases []Phase, policyID string, limit int) ([]Record, error) {
	phaseSet := make(map[Phase]bool, len(phases))
	for _, p := range phases {
		phaseSet[p] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.records {
		if r.Timestamp.Before(since) {
			continue
		}
		if len(phaseSet) > 0 && !phaseSet[r.Phase] {
			continue
		}
		if policyID != "" && r.PolicyID != policyID {
			continue
		}
		out = append(out, r)
	}
	sortByTime(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortByTime(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.Before(recs[j].Timestamp)
	})
}

// LogRecorder is a fallback Recorder for local development: records go to
// structured logs instead of durable storage. Read-back is unavailable.
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder creates a LogRecorder writing to the given logger.
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (l *LogRecorder) Record(_ context.Context, rec *Record) error {
	l.logger.Info("firewall_decision",
		zap.String("request_id", rec.RequestID),
		zap.String("stage", rec.Stage),
		zap.String("phase", string(rec.Phase)),
		zap.String("action", rec.Action),
		zap.String("shadow_action", rec.ShadowAction),
		zap.String("reason_code", rec.ReasonCode),
		zap.Strings("matched_rule_ids", rec.MatchedRuleIDs),
		zap.String("policy_id", rec.PolicyID),
		zap.String("mode", rec.Mode),
		zap.Float64("risk_score", rec.RiskScore),
		zap.Float64("latency_ms", rec.LatencyMs),
		zap.String("user_id", rec.UserID),
	)
	return nil
}

func (l *LogRecorder) Close() {}
