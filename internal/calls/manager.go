package calls

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrIllegalTransition = errors.New("calls: illegal state transition")
	ErrUnknownCall       = errors.New("calls: unknown call")
	ErrDuplicateCall     = errors.New("calls: call id already exists")
	ErrInvalidArgument   = errors.New("calls: invalid argument")
)

// Store is the persistence contract the manager needs. Writes are treated as
// fallible remote calls: on failure the in-memory state machine still
// advances, favoring availability of live signaling over durability.
type Store interface {
	CreateCall(ctx context.Context, c Call) error
	UpdateCall(ctx context.Context, id string, u Update) error
}

// Update is a partial-field call update. Nil fields are left untouched.
type Update struct {
	State           *State
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
	ProviderCallID  *string
}

// Manager owns the authoritative lifecycle state machine for every call.
//
// Concurrency: each call has its own critical section, so relay events for
// one call id are serialized while different calls proceed concurrently.
// State is mutated only here.
type Manager struct {
	store       Store
	ringTimeout time.Duration
	retention   time.Duration
	clock       func() time.Time
	log         *slog.Logger

	// onTimeout runs after a ringing call is failed by the ring timer.
	// onTerminal runs exactly once per call, on whichever path first drives
	// it into a terminal state. Both are set once at wiring time, before the
	// manager handles traffic.
	onTimeout  func(Call)
	onTerminal func(Call)

	mu    sync.Mutex
	table map[string]*entry
}

type entry struct {
	mu        sync.Mutex
	call      Call
	ringTimer *time.Timer
}

type Options struct {
	RingTimeout time.Duration

	// TerminalRetention is how long a terminal call stays in the table.
	// It must cover the window in which late webhooks, duplicate ends, and
	// reported-duration updates can still reference the call id.
	TerminalRetention time.Duration

	Clock  func() time.Time
	Logger *slog.Logger
}

func NewManager(store Store, opts Options) *Manager {
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = 45 * time.Second
	}
	if opts.TerminalRetention <= 0 {
		opts.TerminalRetention = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		store:       store,
		ringTimeout: opts.RingTimeout,
		retention:   opts.TerminalRetention,
		clock:       opts.Clock,
		log:         opts.Logger,
		table:       make(map[string]*entry),
	}
}

// SetTimeoutHandler installs the ring-timeout notifier. Must be called
// before the manager sees traffic.
func (m *Manager) SetTimeoutHandler(fn func(Call)) { m.onTimeout = fn }

// SetTerminalHandler installs the terminal notifier. It fires exactly once
// per call, from whichever path first terminalizes it, so resource releases
// hung off it cannot leak or double-fire. Must be called before the manager
// sees traffic.
func (m *Manager) SetTerminalHandler(fn func(Call)) { m.onTerminal = fn }

type CreateRequest struct {
	// CallID is optional; clients that pre-agree on an id supply it,
	// otherwise one is assigned.
	CallID string

	InitiatorID      string
	RecipientID      string
	RecipientAddress string

	Kind             Kind
	VoiceID          string
	RecordingEnabled bool
}

// Create registers a call in the initiated state. Exactly one of RecipientID
// and RecipientAddress must be set; neither changes afterwards.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (Call, error) {
	if req.InitiatorID == "" {
		return Call{}, ErrInvalidArgument
	}
	if (req.RecipientID == "") == (req.RecipientAddress == "") {
		return Call{}, ErrInvalidArgument
	}
	if req.Kind != KindDirectPeer && req.Kind != KindGateway {
		return Call{}, ErrInvalidArgument
	}

	id := req.CallID
	if id == "" {
		id = uuid.NewString()
	}

	c := Call{
		CallID:           id,
		InitiatorID:      req.InitiatorID,
		RecipientID:      req.RecipientID,
		RecipientAddress: req.RecipientAddress,
		Kind:             req.Kind,
		State:            StateInitiated,
		VoiceID:          req.VoiceID,
		RecordingEnabled: req.RecordingEnabled,
		CreatedAt:        m.clock().UTC(),
	}

	m.mu.Lock()
	if _, exists := m.table[id]; exists {
		m.mu.Unlock()
		return Call{}, ErrDuplicateCall
	}
	m.table[id] = &entry{call: c}
	m.mu.Unlock()

	if err := m.store.CreateCall(ctx, c); err != nil {
		m.log.Warn("call create not persisted", "call_id", id, "err", err)
	}
	return c, nil
}

// Get returns a snapshot of the call.
func (m *Manager) Get(id string) (Call, bool) {
	e := m.lookup(id)
	if e == nil {
		return Call{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.call, true
}

// GetByProviderID returns the call carrying a gateway provider id.
func (m *Manager) GetByProviderID(providerID string) (Call, bool) {
	if providerID == "" {
		return Call{}, false
	}
	m.mu.Lock()
	var found *entry
	for _, e := range m.table {
		if e.call.ProviderCallID == providerID {
			found = e
			break
		}
	}
	m.mu.Unlock()
	if found == nil {
		return Call{}, false
	}
	found.mu.Lock()
	defer found.mu.Unlock()
	return found.call, true
}

// AttachProviderID records the gateway's call id once origination succeeds.
func (m *Manager) AttachProviderID(ctx context.Context, id, providerID string) error {
	e := m.lookup(id)
	if e == nil {
		return ErrUnknownCall
	}
	e.mu.Lock()
	e.call.ProviderCallID = providerID
	c := e.call
	e.mu.Unlock()

	if err := m.store.UpdateCall(ctx, id, Update{ProviderCallID: &providerID}); err != nil {
		m.log.Warn("provider id not persisted", "call_id", c.CallID, "err", err)
	}
	return nil
}

// SetReportedDuration overrides the computed duration with one reported by
// a gateway. Only meaningful on terminal calls; the gateway clock is
// authoritative for its own leg.
func (m *Manager) SetReportedDuration(ctx context.Context, id string, seconds int) error {
	e := m.lookup(id)
	if e == nil {
		return ErrUnknownCall
	}
	e.mu.Lock()
	if !e.call.State.Terminal() || seconds <= 0 {
		e.mu.Unlock()
		return nil
	}
	e.call.DurationSeconds = seconds
	c := e.call
	e.mu.Unlock()

	if err := m.store.UpdateCall(ctx, id, Update{DurationSeconds: &seconds}); err != nil {
		m.log.Warn("reported duration not persisted", "call_id", c.CallID, "err", err)
	}
	return nil
}

// Ringing transitions initiated -> ringing and arms the ring timer.
func (m *Manager) Ringing(ctx context.Context, id string) (Call, error) {
	return m.transition(ctx, id, func(e *entry) error {
		if e.call.State != StateInitiated {
			return ErrIllegalTransition
		}
		e.call.State = StateRinging
		e.ringTimer = time.AfterFunc(m.ringTimeout, func() { m.ringExpired(id) })
		return nil
	})
}

// Activate transitions ringing -> active, recording StartedAt exactly once.
func (m *Manager) Activate(ctx context.Context, id string) (Call, error) {
	return m.transition(ctx, id, func(e *entry) error {
		if e.call.State != StateRinging {
			return ErrIllegalTransition
		}
		e.call.State = StateActive
		if e.call.StartedAt == nil {
			now := m.clock().UTC()
			e.call.StartedAt = &now
		}
		e.stopRingTimer()
		return nil
	})
}

// Hangup terminalizes a call: active -> ended, any other non-terminal ->
// failed. Already-terminal calls are a no-op, reported via changed=false.
func (m *Manager) Hangup(ctx context.Context, id string) (Call, bool, error) {
	return m.terminalize(ctx, id, true)
}

// Fail drives any non-terminal call to failed (recipient offline, reject,
// transport loss, gateway failure). Idempotent on terminal calls.
func (m *Manager) Fail(ctx context.Context, id string) (Call, bool, error) {
	return m.terminalize(ctx, id, false)
}

func (m *Manager) terminalize(ctx context.Context, id string, endWhenActive bool) (Call, bool, error) {
	var changed bool
	c, err := m.transition(ctx, id, func(e *entry) error {
		if e.call.State.Terminal() {
			return nil
		}
		changed = true
		if endWhenActive && e.call.State == StateActive {
			e.call.State = StateEnded
		} else {
			e.call.State = StateFailed
		}
		now := m.clock().UTC()
		e.call.EndedAt = &now
		if e.call.StartedAt != nil {
			e.call.DurationSeconds = int(now.Sub(*e.call.StartedAt) / time.Second)
		}
		e.stopRingTimer()
		return nil
	})
	if changed {
		m.terminalized(c)
	}
	return c, changed, err
}

// terminalized runs the once-per-call terminal bookkeeping: the release
// hook and the eviction timer. Callers invoke it outside any entry lock and
// only on the transition that actually reached the terminal state.
func (m *Manager) terminalized(c Call) {
	if m.onTerminal != nil {
		m.onTerminal(c)
	}
	id := c.CallID
	time.AfterFunc(m.retention, func() { m.evict(id) })
}

// evict drops a terminal call from the table once its retention window has
// passed. Terminal states are immutable, so no state check is needed here.
func (m *Manager) evict(id string) {
	m.mu.Lock()
	delete(m.table, id)
	m.mu.Unlock()
}

// ForIdentity returns snapshots of the non-terminal calls identity is a
// party to.
func (m *Manager) ForIdentity(identity string) []Call {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.table))
	for _, e := range m.table {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	var out []Call
	for _, e := range entries {
		e.mu.Lock()
		if !e.call.State.Terminal() && e.call.Party(identity) {
			out = append(out, e.call)
		}
		e.mu.Unlock()
	}
	return out
}

// ReleaseParty terminalizes every live call identity is a party to, for the
// disconnect cleanup path. Returns the calls that actually changed.
func (m *Manager) ReleaseParty(ctx context.Context, identity string) []Call {
	var released []Call
	for _, c := range m.ForIdentity(identity) {
		after, changed, err := m.Hangup(ctx, c.CallID)
		if err != nil || !changed {
			continue
		}
		released = append(released, after)
	}
	return released
}

// transition runs fn inside the call's critical section and mirrors the
// result to storage. An error from fn leaves the call untouched; fn must
// only mutate after all validation passed.
func (m *Manager) transition(ctx context.Context, id string, fn func(*entry) error) (Call, error) {
	e := m.lookup(id)
	if e == nil {
		return Call{}, ErrUnknownCall
	}

	e.mu.Lock()
	before := e.call
	if err := fn(e); err != nil {
		e.mu.Unlock()
		return before, err
	}
	after := e.call
	e.mu.Unlock()

	if after.State != before.State {
		m.persist(ctx, after)
	}
	return after, nil
}

func (m *Manager) persist(ctx context.Context, c Call) {
	state := c.State
	u := Update{State: &state, StartedAt: c.StartedAt, EndedAt: c.EndedAt}
	if c.State.Terminal() {
		d := c.DurationSeconds
		u.DurationSeconds = &d
	}
	if err := m.store.UpdateCall(ctx, c.CallID, u); err != nil {
		m.log.Warn("call state not persisted",
			"call_id", c.CallID, "state", c.State, "err", err)
	}
}

// ringExpired fires from the ring timer. The state may have moved on by the
// time it runs; only a call still ringing is failed.
func (m *Manager) ringExpired(id string) {
	e := m.lookup(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.call.State != StateRinging {
		e.mu.Unlock()
		return
	}
	e.call.State = StateFailed
	now := m.clock().UTC()
	e.call.EndedAt = &now
	e.ringTimer = nil
	c := e.call
	e.mu.Unlock()

	m.log.Info("ring timeout", "call_id", id)
	m.persist(context.Background(), c)
	m.terminalized(c)
	if m.onTimeout != nil {
		m.onTimeout(c)
	}
}

func (m *Manager) lookup(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table[id]
}

func (e *entry) stopRingTimer() {
	if e.ringTimer != nil {
		e.ringTimer.Stop()
		e.ringTimer = nil
	}
}
