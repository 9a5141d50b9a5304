// Package edge distributes compiled policy snapshots to edge nodes and runs a
// reduced, latency-optimized rule evaluator against them. It is deliberately a
// degraded-fidelity mirror of the full policy engine: substring heuristics
// only, no detector verdicts, no ML.
package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/guardline-ai/bastion/internal/policy"
)

// LatestKey aliases the most recently synced policy.
const LatestKey = "latest"

// ErrNotFound is returned when no snapshot exists under a key.
var ErrNotFound = errors.New("policy snapshot not found")

// ErrInvalidPolicy rejects a sync of a policy without an id.
var ErrInvalidPolicy = errors.New("invalid policy: id is required")

// KV is the snapshot storage the edge node runs on. Implementations must be
// safe for concurrent use.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error) // ErrNotFound if absent
	Put(ctx context.Context, key string, value []byte) error
}

// MemoryKV is the in-process KV used by the edge worker binary and tests.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV creates an empty KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (kv *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (kv *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	kv.data[key] = cp
	return nil
}

// Node is one edge policy node: snapshot store plus the reduced evaluator.
type Node struct {
	kv KV
}

// NewNode creates an edge node over the given KV.
func NewNode(kv KV) *Node {
	return &Node{kv: kv}
}

// SyncResult reports a completed (or dry-run) sync.
type SyncResult struct {
	Target         string   `json:"target"`
	AppliedVersion string   `json:"applied_version"`
	Diagnostics    []string `json:"diagnostics,omitempty"`
}

// Sync validates p and stores an immutable snapshot under policy:<id> and
// policy:latest. With dryRun the validation runs but nothing is ever written,
// so a subsequent Fetch observes no change.
func (n *Node) Sync(ctx context.Context, target string, p *policy.Policy, dryRun bool) (*SyncResult, error) {
	if p == nil || p.ID == "" {
		return nil, ErrInvalidPolicy
	}
	if target == "" {
		target = "edge:local"
	}

	if dryRun {
		return &SyncResult{
			Target:         target,
			AppliedVersion: p.Version,
			Diagnostics:    []string{"dry-run"},
		}, nil
	}

	stored := *p
	stored.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("Sync marshal: %w", err)
	}
	if err := n.kv.Put(ctx, "policy:"+stored.ID, raw); err != nil {
		return nil, fmt.Errorf("Sync put: %w", err)
	}
	if err := n.kv.Put(ctx, "policy:"+LatestKey, raw); err != nil {
		return nil, fmt.Errorf("Sync put latest: %w", err)
	}

	return &SyncResult{Target: target, AppliedVersion: stored.Version}, nil
}

// Fetch loads the snapshot stored under id (or LatestKey).
func (n *Node) Fetch(ctx context.Context, id string) (*policy.Policy, error) {
	raw, err := n.kv.Get(ctx, "policy:"+id)
	if err != nil {
		return nil, err
	}
	var p policy.Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("Fetch unmarshal: %w", err)
	}
	return &p, nil
}

// EnforceResult is the reduced evaluator's outcome.
type EnforceResult struct {
	Decision     policy.Action `json:"decision"`
	AppliedRules []string      `json:"applied_rules"`
	PolicyID     string        `json:"policy_id"`
}

var containsCondRe = regexp.MustCompile(`(?i)contains\(\s*(?:[a-z_]+\s*,\s*)?'([^']+)'\s*\)`)

// Enforce evaluates input against the snapshot for policyID (LatestKey when
// empty) using substring conditions only, with the same block > sanitize
// precedence as the full engine.
func (n *Node) Enforce(ctx context.Context, input, policyID string) (*EnforceResult, error) {
	if policyID == "" {
		policyID = LatestKey
	}
	p, err := n.Fetch(ctx, policyID)
	if err != nil {
		return nil, err
	}

	res := &EnforceResult{Decision: policy.ActionAllow, PolicyID: p.ID}
	if p.Mode == policy.ModeOff {
		return res, nil
	}

	lower := strings.ToLower(input)
	for _, r := range p.Rules {
		if !r.IsEnabled() {
			continue
		}
		if !matchSimple(lower, r.Condition) {
			continue
		}
		res.AppliedRules = append(res.AppliedRules, r.ID)
		if r.Action == policy.ActionBlock {
			res.Decision = policy.ActionBlock
		}
		if r.Action == policy.ActionSanitize && res.Decision != policy.ActionBlock {
			res.Decision = policy.ActionSanitize
		}
	}

	// Shadow snapshots still never affect traffic at the edge.
	if p.Mode == policy.ModeShadow {
		res.Decision = policy.ActionAllow
	}
	return res, nil
}

// matchSimple is the edge condition heuristic: a contains(...) call matches
// its quoted needle, anything else matches as a bare substring. Empty
// conditions never match.
func matchSimple(lowerInput, cond string) bool {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return false
	}
	if m := containsCondRe.FindStringSubmatch(cond); m != nil {
		return strings.Contains(lowerInput, strings.ToLower(m[1]))
	}
	return strings.Contains(lowerInput, strings.ToLower(cond))
}
