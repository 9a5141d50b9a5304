package audit

import (
	"context"
	"time"
)

// Sink receives tail events. Implementations (the SSE handler) translate
// these into wire frames.
type Sink interface {
	Event(rec Record)
	Cursor(ts time.Time)
	Heartbeat(ts time.Time)
	Error(err error)
}

// TailOptions configures one tail subscription.
type TailOptions struct {
	Since             time.Time
	Phases            []Phase
	PolicyID          string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	BatchLimit        int
}

// Tailer streams decision records from a Reader as they are written.
// The poll task and the heartbeat task are two independent timers: a slow
// poll never starves heartbeats, and both stop when ctx is cancelled
// (client disconnect).
//
// Delivery is at-least-once at the cursor boundary: records sharing the
// cursor timestamp may be re-delivered after a resume.
type Tailer struct {
	reader Reader
	opts   TailOptions
}

// NewTailer creates a tailer over the given reader.
func NewTailer(reader Reader, opts TailOptions) *Tailer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 200
	}
	return &Tailer{reader: reader, opts: opts}
}

// Run polls until ctx is cancelled, emitting events into sink.
// An immediate first poll runs before the interval starts so a subscriber
// sees backlog without waiting a full tick.
func (t *Tailer) Run(ctx context.Context, sink Sink) {
	poll := time.NewTicker(t.opts.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(t.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	cursor := t.opts.Since
	emit := func() {
		recs, err := t.reader.ListSince(ctx, cursor, t.opts.Phases, t.opts.PolicyID, t.opts.BatchLimit)
		if err != nil {
			if ctx.Err() == nil {
				sink.Error(err)
			}
			return
		}
		for _, rec := range recs {
			sink.Event(rec)
			if rec.Timestamp.After(cursor) {
				cursor = rec.Timestamp
			}
		}
		sink.Cursor(cursor)
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			emit()
		case <-heartbeat.C:
			sink.Heartbeat(time.Now())
		}
	}
}
