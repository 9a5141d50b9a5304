package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guardline-ai/bastion/internal/policy"
	"github.com/guardline-ai/bastion/internal/store"
)

// PolicySource resolves the policy governing a proxied path.
type PolicySource interface {
	PolicyFor(ctx context.Context, path string) *policy.Policy
}

// SnapshotSource serves one policy for every path, read from an atomic
// snapshot so a concurrent policy swap is never observed half-applied.
type SnapshotSource struct {
	Snap *policy.Snapshot
}

func (s *SnapshotSource) PolicyFor(_ context.Context, _ string) *policy.Policy {
	return s.Snap.Load()
}

// StoreSource resolves policies through route bindings loaded from Postgres.
// Bindings and their policies are cached and refreshed on an interval; the
// gateway hot path never queries the database. Paths with no enabled binding
// fall back to the default snapshot.
type StoreSource struct {
	store    *store.Store
	fallback *policy.Snapshot
	logger   *zap.Logger

	mu       sync.RWMutex
	bindings []*store.RouteBinding
	policies map[string]*policy.Policy
}

// NewStoreSource creates a StoreSource with an empty cache; call Refresh or
// run RefreshLoop to populate it.
func NewStoreSource(st *store.Store, fallback *policy.Snapshot, logger *zap.Logger) *StoreSource {
	return &StoreSource{
		store:    st,
		fallback: fallback,
		logger:   logger,
		policies: make(map[string]*policy.Policy),
	}
}

// Refresh reloads route bindings and their policies from the store.
func (s *StoreSource) Refresh(ctx context.Context) error {
	bindings, err := s.store.ListRouteBindings(ctx)
	if err != nil {
		return err
	}

	policies := make(map[string]*policy.Policy, len(bindings))
	for _, b := range bindings {
		if !b.Enabled {
			continue
		}
		if _, ok := policies[b.PolicyID]; ok {
			continue
		}
		p, err := s.store.GetPolicy(ctx, b.PolicyID)
		if err != nil {
			return err
		}
		if p != nil {
			policies[b.PolicyID] = p
		}
	}

	s.mu.Lock()
	s.bindings = bindings
	s.policies = policies
	s.mu.Unlock()
	return nil
}

// RefreshLoop refreshes on an interval until ctx is cancelled. A failed
// refresh keeps serving the previous cache.
func (s *StoreSource) RefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("route binding refresh failed", zap.Error(err))
			}
		}
	}
}

// PolicyFor returns the policy bound to the longest enabled prefix matching
// path, or the fallback snapshot when nothing matches. Bindings are already
// sorted longest prefix first.
func (s *StoreSource) PolicyFor(_ context.Context, path string) *policy.Policy {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bindings {
		if !b.Enabled {
			continue
		}
		if strings.HasPrefix(path, b.PathPrefix) {
			if p, ok := s.policies[b.PolicyID]; ok {
				return p
			}
		}
	}
	if s.fallback != nil {
		return s.fallback.Load()
	}
	return nil
}
