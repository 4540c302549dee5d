// Package cleanup provides session retention enforcement.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/forgemcp/concierge/pkg/session"
)

// DefaultInterval is how often the retention sweep runs.
const DefaultInterval = 1 * time.Hour

// Service periodically prunes expired sessions from the active set.
// Redis expires the session blobs on its own; the sweep keeps the
// sessions:active index honest and removes sessions idle past the TTL.
// The sweep is idempotent and safe to run from multiple replicas.
type Service struct {
	store    *session.Store
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service. A non-positive interval selects
// DefaultInterval.
func NewService(store *session.Store, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{store: store, interval: interval}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"session_ttl", s.store.TTL(),
		"interval", s.interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.store.TTL())
	count, err := s.store.Cleanup(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: session sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: removed expired sessions", "count", count)
	}
}
