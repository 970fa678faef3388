// Package session wires the runtime delivery layer together.
//
// Open loads the delivery manifest and builds the index, journal,
// orchestrator, resolver and provider for one process run. A manifest that
// is missing or malformed disables redirection: the session still opens,
// with a plain provider that loads everything from its default location.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/packdelivery/internal/index"
	"github.com/roach88/packdelivery/internal/manifest"
	"github.com/roach88/packdelivery/internal/orchestrator"
	"github.com/roach88/packdelivery/internal/platform"
	"github.com/roach88/packdelivery/internal/provider"
	"github.com/roach88/packdelivery/internal/resolver"
	"github.com/roach88/packdelivery/internal/store"
)

// Config configures a session.
type Config struct {
	// ManifestPath is the delivery manifest shipped with base content.
	ManifestPath string

	// JournalPath is the SQLite delivery journal. Empty disables the
	// journal.
	JournalPath string

	Platform platform.Platform

	// LogWarnings logs a warning when redirection is disabled.
	LogWarnings bool

	Logger *slog.Logger

	// IDs generates download request IDs. Defaults to UUIDv7.
	IDs orchestrator.IDGenerator

	// PollInterval bounds how long synchronous waits sleep between cycles.
	PollInterval time.Duration
}

// Session is one run of the delivery layer.
type Session struct {
	index    *index.Index
	orch     *orchestrator.Orchestrator
	resolver *resolver.Resolver
	provider *provider.Provider
	journal  *store.Store
	logger   *slog.Logger

	disabled error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Open starts a session. Only journal and platform problems are errors; a
// bad manifest yields a session with redirection disabled.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m, err := manifest.ReadFile(cfg.ManifestPath)
	if err != nil {
		if cfg.LogWarnings {
			logger.Warn("delivery redirection disabled",
				"event", "manifest_disabled",
				"manifest", cfg.ManifestPath,
				"error", err,
			)
		}
		return &Session{
			resolver: resolver.Disabled(),
			provider: provider.Plain(),
			logger:   logger,
			disabled: err,
		}, nil
	}

	if cfg.Platform == nil {
		return nil, errors.New("session requires a platform")
	}

	s := &Session{index: index.New(m), logger: logger}

	opts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	if cfg.IDs != nil {
		opts = append(opts, orchestrator.WithIDGenerator(cfg.IDs))
	}
	if cfg.PollInterval > 0 {
		opts = append(opts, orchestrator.WithPollInterval(cfg.PollInterval))
	}

	var ready map[string]string
	if cfg.JournalPath != "" {
		j, err := store.Open(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("open delivery journal: %w", err)
		}
		seq, err := j.MaxSeq(ctx)
		if err != nil {
			j.Close()
			return nil, err
		}
		ready, err = j.ReadyPaths(ctx)
		if err != nil {
			j.Close()
			return nil, err
		}
		s.journal = j
		clock := orchestrator.NewClockAt(seq)
		opts = append(opts,
			orchestrator.WithJournal(j),
			orchestrator.WithSequencer(clock),
		)
		logger.Debug("delivery journal resumed", "journal", cfg.JournalPath, "seq", clock.Current(), "ready_units", len(ready))
	}

	s.orch = orchestrator.New(cfg.Platform, s.index, opts...)
	if n := s.orch.Prime(ready); n > 0 {
		logger.Debug("primed units from journal", "units", n)
	}
	s.resolver = resolver.New(s.index, s.orch)
	s.provider = provider.DeliveryAware(s.resolver, s.orch)

	logger.Info("delivery session opened",
		"manifest", cfg.ManifestPath,
		"units", len(m.Units),
		"journal", cfg.JournalPath != "",
	)
	return s, nil
}

// Redirecting reports whether locations are redirected into units.
func (s *Session) Redirecting() bool { return s.orch != nil }

// DisabledReason returns why redirection is disabled, or nil.
func (s *Session) DisabledReason() error { return s.disabled }

// Provider returns the session's content provider.
func (s *Session) Provider() *provider.Provider { return s.provider }

// Resolver returns the session's location resolver.
func (s *Session) Resolver() *resolver.Resolver { return s.resolver }

// Orchestrator returns the session's orchestrator, nil when redirection is
// disabled.
func (s *Session) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// Index returns the runtime index, nil when redirection is disabled.
func (s *Session) Index() *index.Index { return s.index }

// Journal returns the journal, nil when none was configured.
func (s *Session) Journal() *store.Store { return s.journal }

// Start runs dispatch cycles in the background until Close.
func (s *Session) Start(ctx context.Context, interval time.Duration) {
	if s.orch == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.orch.Run(ctx, interval)
	}()
}

// Close stops the dispatch loop, fails outstanding requests and closes the
// journal.
func (s *Session) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if s.orch != nil {
		s.orch.Close()
	}
	if s.journal != nil {
		return s.journal.Close()
	}
	return nil
}
