// Package orchestrator drives multi-round price negotiations end to end:
// assess the opportunity, discover a seller, run the offer/counter loop, and
// land the session in a terminal state. The store is the source of truth;
// the in-memory run registry only tracks loops in flight in this process.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hrygo/dealsense/internal/profile"
	"github.com/hrygo/dealsense/plugin/decision"
	"github.com/hrygo/dealsense/plugin/discovery"
	"github.com/hrygo/dealsense/plugin/protocol"
	nerrors "github.com/hrygo/dealsense/server/internal/errors"
	"github.com/hrygo/dealsense/server/internal/observability"
	"github.com/hrygo/dealsense/store"
)

const (
	// DefaultMaxRounds caps the offer/counter loop when the profile does not
	// say otherwise.
	DefaultMaxRounds = 5
	// DefaultRoundDelay paces consecutive rounds against the remote party.
	DefaultRoundDelay = 2 * time.Second
	// DefaultMaxConcurrent caps simultaneously running negotiation loops.
	DefaultMaxConcurrent = 8
)

// SellerFinder locates candidate sellers for a negotiation.
type SellerFinder interface {
	FindSellers(ctx context.Context, criteria discovery.Criteria) discovery.Result
}

// SellerConn is one logical connection to a remote seller.
type SellerConn interface {
	Connect(ctx context.Context, endpoint, credential string) error
	Disconnect()
	Capabilities() []string
	InitiateNegotiation(ctx context.Context, sessionID, productID string, buyer protocol.BuyerContext) (*protocol.NegotiationOpened, error)
	MakeOffer(ctx context.Context, sessionID string, params protocol.OfferParams) (*protocol.RemoteOffer, error)
	AcceptDeal(ctx context.Context, sessionID string, price float64) (*protocol.AcceptResult, error)
}

// ConnFactory produces a fresh connection per negotiation run.
type ConnFactory func() SellerConn

// DecisionEngine produces the buyer-side decisions for a negotiation.
type DecisionEngine interface {
	AssessOpportunity(ctx context.Context, dctx *decision.Context) (*decision.Assessment, error)
	EvaluateOffer(ctx context.Context, dctx *decision.Context, offer store.Offer, round int, history []store.NegotiationStep) (*decision.Evaluation, error)
}

// runState tracks one in-flight negotiation loop.
type runState struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	waiting bool // a remote call is outstanding
}

func (r *runState) setWaiting(v bool) {
	r.mu.Lock()
	r.waiting = v
	r.mu.Unlock()
}

func (r *runState) isWaiting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Orchestrator owns the negotiation lifecycle.
type Orchestrator struct {
	store   *store.Store
	finder  SellerFinder
	connect ConnFactory
	engine  DecisionEngine
	bus     *EventBus
	profile *profile.Profile
	logger  *slog.Logger
	metrics *observability.Metrics

	maxRounds  int
	roundDelay time.Duration
	sem        *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]*runState
}

// New creates an orchestrator. All collaborators are required except the
// event bus, which is created when nil.
func New(st *store.Store, finder SellerFinder, connect ConnFactory, engine DecisionEngine, prof *profile.Profile, bus *EventBus) *Orchestrator {
	if bus == nil {
		bus = NewEventBus()
	}
	maxRounds := DefaultMaxRounds
	roundDelay := DefaultRoundDelay
	maxConcurrent := int64(DefaultMaxConcurrent)
	if prof != nil {
		if prof.MaxRounds > 0 {
			maxRounds = prof.MaxRounds
		}
		if prof.RoundDelay > 0 {
			roundDelay = prof.RoundDelay
		}
		if prof.MaxConcurrent > 0 {
			maxConcurrent = prof.MaxConcurrent
		}
	}
	return &Orchestrator{
		store:      st,
		finder:     finder,
		connect:    connect,
		engine:     engine,
		bus:        bus,
		profile:    prof,
		logger:     slog.Default(),
		metrics:    observability.GlobalMetrics(),
		maxRounds:  maxRounds,
		roundDelay: roundDelay,
		sem:        semaphore.NewWeighted(maxConcurrent),
		inflight:   make(map[string]*runState),
	}
}

// Events returns the orchestrator's event bus.
func (o *Orchestrator) Events() *EventBus {
	return o.bus
}

// TriggerRequest starts a negotiation for a product snapshot.
type TriggerRequest struct {
	SessionID   string
	Product     store.ProductRef
	Behavior    store.BehaviorSignal
	Preferences *store.NegotiationPreferences
	// Manual marks an explicit user request. A manual trigger proceeds even
	// when the opportunity assessment advises against negotiating.
	Manual bool
}

func (r *TriggerRequest) validate() error {
	if strings.TrimSpace(r.Product.ID) == "" {
		return nerrors.InvalidArgument("product id is required")
	}
	if strings.TrimSpace(r.Product.Name) == "" {
		return nerrors.InvalidArgument("product name is required")
	}
	if r.Product.Price <= 0 {
		return nerrors.InvalidArgument("product price must be positive")
	}
	if r.Preferences != nil {
		if r.Preferences.MaxPrice < 0 {
			return nerrors.InvalidArgument("max price must not be negative")
		}
		if r.Preferences.TargetDiscountPct < 0 || r.Preferences.TargetDiscountPct >= 100 {
			return nerrors.InvalidArgument("target discount must be in [0, 100)")
		}
	}
	return nil
}

// StartNegotiation creates (or resumes) a session and launches its round
// loop. A second trigger for an id whose loop is already in flight is
// rejected synchronously.
func (o *Orchestrator) StartNegotiation(ctx context.Context, req *TriggerRequest) (*store.NegotiationSession, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	if o.isInflight(id) {
		return nil, nerrors.SessionAlreadyActive(id)
	}

	existing, err := o.store.GetSession(ctx, id)
	if err != nil {
		return nil, nerrors.StoreFailed(err)
	}
	if existing != nil {
		if existing.Status.IsTerminal() {
			return nil, nerrors.SessionTerminal("session already finished, use retry to run it again")
		}
		// A known non-terminal session without a loop, e.g. after a restart.
		// Re-launch it instead of creating a duplicate.
		if err := o.launch(existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	session := &store.NegotiationSession{
		ID:          id,
		Product:     req.Product,
		Behavior:    req.Behavior,
		Preferences: req.Preferences,
		Manual:      req.Manual,
		Status:      store.StatusPending,
	}
	if err := o.store.UpsertSession(ctx, session); err != nil {
		return nil, nerrors.StoreFailed(err)
	}

	o.bus.Publish(Event{Type: EventStarted, SessionID: session.ID, Status: session.Status})

	if err := o.launch(session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession returns the persisted session or a not-found error.
func (o *Orchestrator) GetSession(ctx context.Context, id string) (*store.NegotiationSession, error) {
	session, err := o.store.GetSession(ctx, id)
	if err != nil {
		return nil, nerrors.StoreFailed(err)
	}
	if session == nil {
		return nil, nerrors.SessionNotFound(id)
	}
	return session, nil
}

// RetrySession resets a terminal session and runs it again from scratch.
func (o *Orchestrator) RetrySession(ctx context.Context, id string) (*store.NegotiationSession, error) {
	session, err := o.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.Status.IsTerminal() {
		return nil, nerrors.SessionTerminal("session is still in flight, only finished sessions can be retried")
	}
	if o.isInflight(id) {
		return nil, nerrors.SessionAlreadyActive(id)
	}

	session.Status = store.StatusPending
	session.Seller = nil
	session.CurrentOffer = nil
	session.Log = nil
	session.FailureReason = ""
	session.StartTime = time.Now()
	session.ExpiresAt = session.StartTime.Add(store.SessionTTL)
	if err := o.store.UpsertSession(ctx, session); err != nil {
		return nil, nerrors.StoreFailed(err)
	}

	o.bus.Publish(Event{Type: EventStarted, SessionID: session.ID, Status: session.Status, Message: "retry"})

	if err := o.launch(session); err != nil {
		return nil, err
	}
	return session, nil
}

// RejectSession terminates a session on the user's behalf. The persisted
// failure wins over any loop still in flight: the loop observes the terminal
// status before its own write and discards its result.
func (o *Orchestrator) RejectSession(ctx context.Context, id string) (*store.NegotiationSession, error) {
	session, err := o.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, nerrors.SessionTerminal("session already finished")
	}

	session.Status = store.StatusFailed
	session.FailureReason = "rejected by user"
	session.AppendStep(store.NegotiationStep{
		Round:      session.Rounds(),
		Action:     store.StepReject,
		Reasoning:  "rejected by user",
		Provenance: store.ProvenanceReal,
	})
	if err := o.store.UpsertSession(ctx, session); err != nil {
		return nil, nerrors.StoreFailed(err)
	}

	o.mu.Lock()
	state := o.inflight[id]
	o.mu.Unlock()
	if state != nil {
		state.cancel()
	}

	o.bus.Publish(Event{Type: EventFailed, SessionID: id, Status: store.StatusFailed, Message: "rejected by user"})
	return session, nil
}

// RecoverSessions re-launches loops for every non-terminal, non-expired
// session found in the store. Called once at startup.
func (o *Orchestrator) RecoverSessions(ctx context.Context) (int, error) {
	sessions, err := o.store.ListActiveSessions(ctx)
	if err != nil {
		return 0, nerrors.StoreFailed(err)
	}

	recovered := 0
	for _, session := range sessions {
		if err := o.launch(session); err != nil {
			o.logger.Warn("failed to recover session", "session_id", session.ID, "error", err)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		o.logger.Info("recovered in-flight negotiations", "count", recovered)
	}
	return recovered, nil
}

// Stats aggregates across all visible sessions.
func (o *Orchestrator) Stats(ctx context.Context) (*store.Stats, error) {
	stats, err := o.store.SessionStats(ctx)
	if err != nil {
		return nil, nerrors.StoreFailed(err)
	}
	return stats, nil
}

// Metrics returns a point-in-time snapshot of the run counters.
func (o *Orchestrator) Metrics() *observability.MetricsSnapshot {
	return o.metrics.Snapshot()
}

// launch reserves the per-session slot and starts the round loop goroutine.
// At most one loop per session id may exist at a time. The loop works on its
// own deep copy; the caller's session is never touched again.
func (o *Orchestrator) launch(session *store.NegotiationSession) error {
	session = session.Clone()
	runCtx, cancel := context.WithCancel(context.Background())
	state := &runState{cancel: cancel}

	o.mu.Lock()
	if _, exists := o.inflight[session.ID]; exists {
		o.mu.Unlock()
		cancel()
		return nerrors.SessionAlreadyActive(session.ID)
	}
	o.inflight[session.ID] = state
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.inflight, session.ID)
			o.mu.Unlock()
			cancel()
		}()

		if err := o.sem.Acquire(runCtx, 1); err != nil {
			o.logger.Warn("negotiation canceled before start", "session_id", session.ID)
			return
		}
		defer o.sem.Release(1)

		o.run(runCtx, session, state)
	}()
	return nil
}

func (o *Orchestrator) isInflight(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[id]
	return ok
}

// run executes one full negotiation and records the outcome.
func (o *Orchestrator) run(ctx context.Context, session *store.NegotiationSession, state *runState) {
	sctx := observability.NewSessionContext(o.logger, session.ID, session.Product.ID)
	ctx = observability.WithSessionContext(ctx, sctx)
	o.metrics.RecordRun()
	sctx.Info("negotiation run starting")

	status, err := o.negotiate(ctx, sctx, session, state)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			sctx.Info("negotiation run canceled")
			return
		}
		sctx.Error("negotiation run failed", err)
		o.metrics.RecordFailure()
		o.failSession(ctx, session, err.Error())
		status = store.StatusFailed
	}

	o.metrics.RecordOutcome(string(status), sctx.Duration())
	sctx.Info("negotiation run finished",
		slog.String("status", string(status)),
		slog.Int64(observability.LogFieldDuration, sctx.DurationMs()))
}

// sessionLogger pulls the run's logging context back out of ctx, creating a
// detached one for callers outside a run.
func (o *Orchestrator) sessionLogger(ctx context.Context, session *store.NegotiationSession) *observability.SessionContext {
	if sctx, ok := observability.FromContext(ctx); ok {
		return sctx
	}
	return observability.NewSessionContext(o.logger, session.ID, session.Product.ID)
}

// guardTransition re-reads the persisted session before a terminal write.
// If another writer already landed a terminal status, the caller's result is
// discarded: the first terminal write wins. The re-read deliberately ignores
// the run context so a canceled loop still observes the winning write.
func (o *Orchestrator) guardTransition(ctx context.Context, session *store.NegotiationSession) bool {
	sctx := o.sessionLogger(ctx, session)
	persisted, err := o.store.GetSession(context.Background(), session.ID)
	if err != nil {
		sctx.Warn("could not re-read session before terminal write", slog.String("error", err.Error()))
		return true
	}
	if persisted != nil && persisted.Status.IsTerminal() {
		sctx.Info("terminal status already persisted, discarding loop result",
			slog.String("status", string(persisted.Status)))
		return false
	}
	return true
}

// completeSession lands a session in completed. Persist first, then emit.
func (o *Orchestrator) completeSession(ctx context.Context, session *store.NegotiationSession) error {
	if !o.guardTransition(ctx, session) {
		return nil
	}

	session.Status = store.StatusCompleted
	session.FailureReason = ""
	if err := o.store.UpsertSession(context.Background(), session); err != nil {
		return nerrors.StoreFailed(err)
	}

	dealFound := Event{
		Type:      EventDealFound,
		SessionID: session.ID,
		Status:    session.Status,
		Round:     session.Rounds(),
		Savings:   session.Savings(),
	}
	if session.CurrentOffer != nil {
		dealFound.FinalPrice = session.CurrentOffer.Price
	}
	if session.Product.Price > 0 {
		dealFound.DiscountPct = session.Savings() / session.Product.Price * 100
	}
	o.bus.Publish(dealFound)
	o.bus.Publish(Event{Type: EventCompleted, SessionID: session.ID, Status: session.Status})
	return nil
}

// failSession lands a session in failed with the given reason.
func (o *Orchestrator) failSession(ctx context.Context, session *store.NegotiationSession, reason string) {
	if !o.guardTransition(ctx, session) {
		return
	}

	session.Status = store.StatusFailed
	session.FailureReason = reason
	if err := o.store.UpsertSession(context.Background(), session); err != nil {
		o.sessionLogger(ctx, session).Error("failed to persist failure", err)
		return
	}

	o.bus.Publish(Event{
		Type:      EventFailed,
		SessionID: session.ID,
		Status:    session.Status,
		Round:     session.Rounds(),
		Message:   reason,
	})
}

// persistProgress saves an intermediate state and emits a status event.
// Persist strictly before emit so a subscriber can always read what it was
// told about.
func (o *Orchestrator) persistProgress(ctx context.Context, session *store.NegotiationSession, round int) error {
	if err := o.store.UpsertSession(ctx, session); err != nil {
		return nerrors.StoreFailed(err)
	}
	event := Event{Type: EventStatus, SessionID: session.ID, Status: session.Status, Round: round}
	if n := len(session.Log); n > 0 {
		event.Message = session.Log[n-1].Reasoning
	}
	o.bus.Publish(event)
	return nil
}
