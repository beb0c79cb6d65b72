package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type SyncOutcome string

const (
	OutcomeRefreshed SyncOutcome = "refreshed"
	OutcomeSkipped   SyncOutcome = "skipped"
	OutcomeExpired   SyncOutcome = "expired"
	OutcomeFailed    SyncOutcome = "failed"
)

type SyncResult struct {
	ConnectionID uuid.UUID   `json:"connection_id"`
	Provider     Provider    `json:"provider"`
	Outcome      SyncOutcome `json:"outcome"`
	Kind         FailureKind `json:"kind,omitempty"`
	Error        string      `json:"error,omitempty"`
}

type SyncReport struct {
	UserID     uuid.UUID    `json:"user_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Results    []SyncResult `json:"results"`
}

// Count returns how many records ended with outcome.
func (r *SyncReport) Count(outcome SyncOutcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// SyncOrchestrator revalidates every connection of a user against its provider.
type SyncOrchestrator struct {
	store       ConnectionStore
	providers   map[Provider]ConnectionProvider
	notifier    Notifier
	clock       clockwork.Clock
	logger      *zap.Logger
	metrics     *Metrics
	concurrency int
}

func NewSyncOrchestrator(deps Deps, concurrency int) *SyncOrchestrator {
	deps = deps.withDefaults()
	if concurrency <= 0 {
		concurrency = DefaultSyncConcurrency
	}
	return &SyncOrchestrator{
		store:       deps.Store,
		providers:   deps.Providers,
		notifier:    deps.Notifier,
		clock:       deps.Clock,
		logger:      deps.Logger.Named("sync"),
		metrics:     deps.Metrics,
		concurrency: concurrency,
	}
}

// Sync runs one pass over the records of userID. A failing record never stops
// the others; the returned error is only set when the records cannot be listed.
func (s *SyncOrchestrator) Sync(ctx context.Context, userID uuid.UUID) (*SyncReport, error) {
	conns, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	report := &SyncReport{
		UserID:    userID,
		StartedAt: s.clock.Now(),
		Results:   make([]SyncResult, len(conns)),
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, conn := range conns {
		i, conn := i, conn
		g.Go(func() error {
			report.Results[i] = s.syncOne(ctx, conn)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = s.clock.Now()
	s.metrics.syncPass(report.FinishedAt.Sub(report.StartedAt))
	s.logger.Info("sync pass finished",
		zap.String("user_id", userID.String()),
		zap.Int("records", len(conns)),
		zap.Int("refreshed", report.Count(OutcomeRefreshed)),
		zap.Int("expired", report.Count(OutcomeExpired)),
		zap.Int("failed", report.Count(OutcomeFailed)),
	)
	return report, nil
}

func (s *SyncOrchestrator) syncOne(ctx context.Context, conn *Connection) (res SyncResult) {
	res = SyncResult{ConnectionID: conn.ID, Provider: conn.Provider}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync panicked",
				zap.String("provider", string(conn.Provider)),
				zap.Any("panic", r),
			)
			fe := newFlowError(FailureProfileFetch, conn.Provider, "", fmt.Errorf("panic: %v", r))
			res = s.failed(ctx, conn, fe)
		}
		s.metrics.syncRecord(conn.Provider, res.Outcome)
	}()

	if !conn.Usable() {
		res.Outcome = OutcomeSkipped
		return res
	}

	now := s.clock.Now()
	if conn.Expired(now) {
		if err := s.store.Disconnect(ctx, conn.ID, DisconnectExpired, now); err != nil {
			s.logger.Error("failed to disconnect expired connection",
				zap.String("connection_id", conn.ID.String()),
				zap.Error(err),
			)
		}
		fe := newFlowError(FailureExpiredToken, conn.Provider, "", ErrProviderTokenExpired)
		notifyFailure(ctx, s.notifier, conn.UserID, fe, now)
		res.Outcome = OutcomeExpired
		res.Kind = fe.Kind
		return res
	}

	p, ok := s.providers[conn.Provider]
	if !ok {
		res.Outcome = OutcomeFailed
		res.Kind = FailureUnsupportedProvider
		res.Error = ErrUnsupportedProvider.Error()
		return res
	}

	profile, err := p.FetchProfile(ctx, conn.AccessToken)
	if err != nil {
		kind := FailureProfileFetch
		if errors.Is(err, ErrMissingSubresource) {
			kind = FailureMissingSubresource
		}
		return s.failed(ctx, conn, newFlowError(kind, conn.Provider, err.Error(), err))
	}

	// Only metrics are written back: a disconnect or re-authorization that
	// landed during the fetch must survive this pass.
	if err := s.store.UpdateProfile(ctx, conn.ID, profile, s.clock.Now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Debug("connection changed during sync",
				zap.String("connection_id", conn.ID.String()),
			)
			res.Outcome = OutcomeSkipped
			return res
		}
		res.Outcome = OutcomeFailed
		res.Kind = FailureStore
		res.Error = err.Error()
		s.logger.Error("failed to save refreshed connection",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err),
		)
		return res
	}

	res.Outcome = OutcomeRefreshed
	return res
}

func (s *SyncOrchestrator) failed(ctx context.Context, conn *Connection, fe *FlowError) SyncResult {
	if s.superseded(ctx, conn) {
		s.logger.Debug("ignoring failure for a connection replaced during sync",
			zap.String("connection_id", conn.ID.String()),
			zap.String("kind", string(fe.Kind)),
		)
		return SyncResult{ConnectionID: conn.ID, Provider: conn.Provider, Outcome: OutcomeSkipped}
	}

	now := s.clock.Now()
	if err := s.store.Disconnect(ctx, conn.ID, DisconnectProviderError, now); err != nil {
		s.logger.Error("failed to disconnect connection",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err),
		)
	}
	s.logger.Warn("profile refresh failed",
		zap.String("user_id", conn.UserID.String()),
		zap.String("provider", string(conn.Provider)),
		zap.String("kind", string(fe.Kind)),
		zap.Error(fe.Err),
	)
	notifyFailure(ctx, s.notifier, conn.UserID, fe, now)

	return SyncResult{
		ConnectionID: conn.ID,
		Provider:     conn.Provider,
		Outcome:      OutcomeFailed,
		Kind:         fe.Kind,
		Error:        fe.Error(),
	}
}

// superseded reports whether the record was disconnected or given new tokens
// after conn was listed.
func (s *SyncOrchestrator) superseded(ctx context.Context, conn *Connection) bool {
	current, err := s.store.FindByID(ctx, conn.ID)
	if err != nil {
		return false
	}
	return !current.Connected || current.AccessToken != conn.AccessToken
}

// SyncTrigger decides when a dashboard view should cause a sync pass: once,
// the first time a user is seen with a connected record, and on every
// explicit refresh.
type SyncTrigger struct {
	orchestrator *SyncOrchestrator
	store        ConnectionStore

	mu   sync.Mutex
	seen map[uuid.UUID]bool
}

func NewSyncTrigger(o *SyncOrchestrator, store ConnectionStore) *SyncTrigger {
	return &SyncTrigger{orchestrator: o, store: store, seen: make(map[uuid.UUID]bool)}
}

// ObserveDashboard runs a pass if this is the first view of userID with at
// least one connected account. It returns nil, nil when no pass ran.
func (t *SyncTrigger) ObserveDashboard(ctx context.Context, userID uuid.UUID) (*SyncReport, error) {
	t.mu.Lock()
	if t.seen[userID] {
		t.mu.Unlock()
		return nil, nil
	}
	t.mu.Unlock()

	conns, err := t.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	anyConnected := false
	for _, c := range conns {
		if c.Connected {
			anyConnected = true
			break
		}
	}
	if !anyConnected {
		return nil, nil
	}

	t.mu.Lock()
	if t.seen[userID] {
		t.mu.Unlock()
		return nil, nil
	}
	t.seen[userID] = true
	t.mu.Unlock()

	return t.orchestrator.Sync(ctx, userID)
}

func (t *SyncTrigger) Refresh(ctx context.Context, userID uuid.UUID) (*SyncReport, error) {
	return t.orchestrator.Sync(ctx, userID)
}

// Reconciler periodically syncs every user holding a connected record.
type Reconciler struct {
	orchestrator *SyncOrchestrator
	store        ConnectionStore
	clock        clockwork.Clock
	logger       *zap.Logger
	interval     time.Duration
}

func NewReconciler(o *SyncOrchestrator, interval time.Duration) *Reconciler {
	return &Reconciler{
		orchestrator: o,
		store:        o.store,
		clock:        o.clock,
		logger:       o.logger.Named("reconciler"),
		interval:     interval,
	}
}

// Run blocks until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			r.RunOnce(ctx)
		}
	}
}

// RunOnce syncs all users sequentially and returns how many passes ran.
func (r *Reconciler) RunOnce(ctx context.Context) int {
	users, err := r.store.ListConnectedUsers(ctx)
	if err != nil {
		r.logger.Error("failed to list users", zap.Error(err))
		return 0
	}

	passes := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		if _, err := r.orchestrator.Sync(ctx, userID); err != nil {
			r.logger.Error("sync pass failed", zap.String("user_id", userID.String()), zap.Error(err))
			continue
		}
		passes++
	}
	return passes
}
