package policy

import "sync/atomic"

// Snapshot publishes the active policy to concurrent evaluators.
// Updates swap an immutable *Policy, so an in-flight evaluation always sees
// either the old rule set or the new one, never a mix. Callers must not
// mutate a policy after storing it.
type Snapshot struct {
	cur atomic.Pointer[Policy]
}

// NewSnapshot creates a snapshot holder, optionally seeded with a policy.
func NewSnapshot(p *Policy) *Snapshot {
	s := &Snapshot{}
	if p != nil {
		s.cur.Store(p)
	}
	return s
}

// Load returns the active policy, or nil if none has been published.
func (s *Snapshot) Load() *Policy {
	return s.cur.Load()
}

// Store atomically publishes p as the active policy.
func (s *Snapshot) Store(p *Policy) {
	s.cur.Store(p)
}
