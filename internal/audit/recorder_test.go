package audit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func storeWith(t *testing.T, recs ...Record) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	for i := range recs {
		if err := s.Record(context.Background(), &recs[i]); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	return s
}

func TestMemoryStore_GetByRequestID(t *testing.T) {
	base := time.Now()
	s := storeWith(t,
		Record{RequestID: "a", Stage: "post", Phase: PhasePost, Timestamp: base.Add(time.Second)},
		Record{RequestID: "a", Stage: "pre", Phase: PhasePre, Timestamp: base},
		Record{RequestID: "b", Stage: "pre", Phase: PhasePre, Timestamp: base},
	)

	recs, err := s.Get(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Stage != "pre" || recs[1].Stage != "post" {
		t.Errorf("records must be time-ordered: %s then %s", recs[0].Stage, recs[1].Stage)
	}
}

func TestMemoryStore_ListSinceFilters(t *testing.T) {
	base := time.Now()
	s := storeWith(t,
		Record{RequestID: "old", Phase: PhasePre, Timestamp: base.Add(-time.Hour)},
		Record{RequestID: "shadow", Phase: PhaseShadow, PolicyID: "pol_1", Timestamp: base},
		Record{RequestID: "pre", Phase: PhasePre, PolicyID: "pol_2", Timestamp: base},
	)

	recs, err := s.ListSince(context.Background(), base.Add(-time.Minute), []Phase{PhaseShadow}, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].RequestID != "shadow" {
		t.Errorf("phase filter failed: %v", recs)
	}

	recs, err = s.ListSince(context.Background(), base.Add(-time.Minute), nil, "pol_2", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].RequestID != "pre" {
		t.Errorf("policy filter failed: %v", recs)
	}
}

type captureSink struct {
	mu         sync.Mutex
	events     []Record
	cursors    []time.Time
	heartbeats int
	errs       []error
}

func (c *captureSink) Event(rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, rec)
}

func (c *captureSink) Cursor(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors = append(c.cursors, ts)
}

func (c *captureSink) Heartbeat(time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeats++
}

func (c *captureSink) Error(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *captureSink) cursorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cursors)
}

func TestTailer_EmitsBacklogImmediately(t *testing.T) {
	base := time.Now()
	s := storeWith(t,
		Record{RequestID: "r1", Phase: PhasePre, Timestamp: base},
		Record{RequestID: "r2", Phase: PhasePost, Timestamp: base.Add(time.Second)},
	)

	tailer := NewTailer(s, TailOptions{
		Since:        base.Add(-time.Minute),
		PollInterval: time.Hour, // only the immediate first poll runs
	})

	ctx, cancel := context.WithCancel(context.Background())
	sink := &captureSink{}
	done := make(chan struct{})
	go func() {
		tailer.Run(ctx, sink)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if sink.cursorCount() > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first poll never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if len(sink.events) != 2 {
		t.Errorf("expected backlog of 2, got %d", len(sink.events))
	}
	if len(sink.cursors) == 0 || !sink.cursors[0].Equal(base.Add(time.Second)) {
		t.Errorf("cursor should advance to the newest record, got %v", sink.cursors)
	}
	if len(sink.errs) != 0 {
		t.Errorf("unexpected errors: %v", sink.errs)
	}
}
