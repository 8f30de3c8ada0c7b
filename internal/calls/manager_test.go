package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// nopStore records calls without failing.
type nopStore struct {
	mu      sync.Mutex
	creates int
	updates []Update
	fail    bool
}

func (s *nopStore) CreateCall(ctx context.Context, c Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("storage down")
	}
	s.creates++
	return nil
}

func (s *nopStore) UpdateCall(ctx context.Context, id string, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("storage down")
	}
	s.updates = append(s.updates, u)
	return nil
}

func newTestManager(t *testing.T, opts Options) (*Manager, *nopStore) {
	t.Helper()
	store := &nopStore{}
	if opts.RingTimeout == 0 {
		opts.RingTimeout = time.Hour
	}
	return NewManager(store, opts), store
}

func createDirect(t *testing.T, m *Manager) Call {
	t.Helper()
	c, err := m.Create(context.Background(), CreateRequest{
		InitiatorID: "alice",
		RecipientID: "bob",
		Kind:        KindDirectPeer,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

func TestManager_CreateValidation(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	cases := []CreateRequest{
		{RecipientID: "bob", Kind: KindDirectPeer},                                              // no initiator
		{InitiatorID: "alice", Kind: KindDirectPeer},                                            // no recipient
		{InitiatorID: "alice", RecipientID: "bob", RecipientAddress: "+15551234567", Kind: KindDirectPeer}, // both recipients
		{InitiatorID: "alice", RecipientID: "bob", Kind: "carrier_pigeon"},
	}
	for i, req := range cases {
		if _, err := m.Create(ctx, req); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("case %d: expected ErrInvalidArgument, got %v", i, err)
		}
	}
}

func TestManager_CreateDuplicateID(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	req := CreateRequest{CallID: "call-1", InitiatorID: "alice", RecipientID: "bob", Kind: KindDirectPeer}
	if _, err := m.Create(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create(ctx, req); !errors.Is(err, ErrDuplicateCall) {
		t.Fatalf("expected ErrDuplicateCall, got %v", err)
	}
}

func TestManager_HappyPathLifecycle(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := &nopStore{}
	m := NewManager(store, Options{RingTimeout: time.Hour, Clock: clock})
	ctx := context.Background()

	c := createDirect(t, m)
	if c.State != StateInitiated {
		t.Fatalf("expected initiated, got %s", c.State)
	}

	if c, _ = m.Ringing(ctx, c.CallID); c.State != StateRinging {
		t.Fatalf("expected ringing, got %s", c.State)
	}

	c, err := m.Activate(ctx, c.CallID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if c.State != StateActive {
		t.Fatalf("expected active, got %s", c.State)
	}
	if c.StartedAt == nil || !c.StartedAt.Equal(now) {
		t.Fatalf("expected StartedAt %v, got %v", now, c.StartedAt)
	}

	now = now.Add(90 * time.Second)
	c, changed, err := m.Hangup(ctx, c.CallID)
	if err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if !changed || c.State != StateEnded {
		t.Fatalf("expected ended, got %s changed=%v", c.State, changed)
	}
	if c.DurationSeconds != 90 {
		t.Fatalf("expected duration 90, got %d", c.DurationSeconds)
	}
}

func TestManager_IllegalTransitionsLeaveStateUnchanged(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()
	c := createDirect(t, m)

	// Activate before ringing.
	if _, err := m.Activate(ctx, c.CallID); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if got, _ := m.Get(c.CallID); got.State != StateInitiated {
		t.Fatalf("state changed to %s", got.State)
	}

	m.Ringing(ctx, c.CallID)

	// Ringing twice.
	if _, err := m.Ringing(ctx, c.CallID); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if got, _ := m.Get(c.CallID); got.State != StateRinging {
		t.Fatalf("state changed to %s", got.State)
	}
}

func TestManager_TerminalStatesAreImmutable(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()
	c := createDirect(t, m)

	if _, _, err := m.Fail(ctx, c.CallID); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if _, err := m.Ringing(ctx, c.CallID); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if _, err := m.Activate(ctx, c.CallID); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}

	// Hangup on a terminal call reports no change, no error.
	after, changed, err := m.Hangup(ctx, c.CallID)
	if err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if changed || after.State != StateFailed {
		t.Fatalf("expected failed unchanged, got %s changed=%v", after.State, changed)
	}
}

func TestManager_HangupBeforeActiveFails(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()
	c := createDirect(t, m)
	m.Ringing(ctx, c.CallID)

	after, changed, err := m.Hangup(ctx, c.CallID)
	if err != nil || !changed {
		t.Fatalf("hangup: changed=%v err=%v", changed, err)
	}
	if after.State != StateFailed {
		t.Fatalf("expected failed for never-active call, got %s", after.State)
	}
	if after.DurationSeconds != 0 {
		t.Fatalf("expected zero duration, got %d", after.DurationSeconds)
	}
}

func TestManager_StartedAtRecordedOnce(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := &nopStore{}
	m := NewManager(store, Options{RingTimeout: time.Hour, Clock: func() time.Time { return now }})
	ctx := context.Background()

	c := createDirect(t, m)
	m.Ringing(ctx, c.CallID)
	first, _ := m.Activate(ctx, c.CallID)

	now = now.Add(time.Minute)
	if _, err := m.Activate(ctx, c.CallID); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	got, _ := m.Get(c.CallID)
	if !got.StartedAt.Equal(*first.StartedAt) {
		t.Fatalf("StartedAt moved from %v to %v", first.StartedAt, got.StartedAt)
	}
}

func TestManager_RingTimeoutFailsCall(t *testing.T) {
	store := &nopStore{}
	m := NewManager(store, Options{RingTimeout: 20 * time.Millisecond})

	timedOut := make(chan Call, 1)
	m.SetTimeoutHandler(func(c Call) { timedOut <- c })

	ctx := context.Background()
	c, _ := m.Create(ctx, CreateRequest{InitiatorID: "alice", RecipientID: "bob", Kind: KindDirectPeer})
	m.Ringing(ctx, c.CallID)

	select {
	case got := <-timedOut:
		if got.State != StateFailed {
			t.Fatalf("expected failed, got %s", got.State)
		}
	case <-time.After(time.Second):
		t.Fatalf("ring timeout never fired")
	}
	if got, _ := m.Get(c.CallID); got.State != StateFailed {
		t.Fatalf("expected failed, got %s", got.State)
	}
}

func TestManager_TerminalHandlerFiresOncePerCall(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	var terminal []Call
	m.SetTerminalHandler(func(c Call) { terminal = append(terminal, c) })

	ctx := context.Background()
	c := createDirect(t, m)
	m.Ringing(ctx, c.CallID)
	m.Activate(ctx, c.CallID)

	if len(terminal) != 0 {
		t.Fatalf("handler fired before terminal state: %v", terminal)
	}

	m.Hangup(ctx, c.CallID)
	m.Hangup(ctx, c.CallID)
	m.Fail(ctx, c.CallID)

	if len(terminal) != 1 || terminal[0].CallID != c.CallID || terminal[0].State != StateEnded {
		t.Fatalf("expected one ended terminal event, got %v", terminal)
	}
}

func TestManager_RingTimeoutFiresTerminalHandler(t *testing.T) {
	store := &nopStore{}
	m := NewManager(store, Options{RingTimeout: 20 * time.Millisecond})

	terminal := make(chan Call, 2)
	m.SetTerminalHandler(func(c Call) { terminal <- c })

	ctx := context.Background()
	c, _ := m.Create(ctx, CreateRequest{InitiatorID: "alice", RecipientID: "bob", Kind: KindDirectPeer})
	m.Ringing(ctx, c.CallID)

	select {
	case got := <-terminal:
		if got.State != StateFailed {
			t.Fatalf("expected failed, got %s", got.State)
		}
	case <-time.After(time.Second):
		t.Fatalf("terminal handler never fired")
	}

	// A later hangup of the already-failed call must not fire again.
	m.Hangup(ctx, c.CallID)
	select {
	case got := <-terminal:
		t.Fatalf("second terminal event: %v", got)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestManager_TerminalCallsEvictedAfterRetention(t *testing.T) {
	m, _ := newTestManager(t, Options{TerminalRetention: 20 * time.Millisecond})

	ctx := context.Background()
	c := createDirect(t, m)
	m.Fail(ctx, c.CallID)

	// Within retention: idempotent re-end still resolves the id.
	if _, _, err := m.Hangup(ctx, c.CallID); err != nil {
		t.Fatalf("hangup within retention: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := m.Get(c.CallID); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("terminal call never evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, _, err := m.Hangup(ctx, c.CallID); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("expected ErrUnknownCall after eviction, got %v", err)
	}
}

func TestManager_AnswerCancelsRingTimer(t *testing.T) {
	store := &nopStore{}
	m := NewManager(store, Options{RingTimeout: 20 * time.Millisecond})

	fired := make(chan Call, 1)
	m.SetTimeoutHandler(func(c Call) { fired <- c })

	ctx := context.Background()
	c, _ := m.Create(ctx, CreateRequest{InitiatorID: "alice", RecipientID: "bob", Kind: KindDirectPeer})
	m.Ringing(ctx, c.CallID)
	if _, err := m.Activate(ctx, c.CallID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	select {
	case <-fired:
		t.Fatalf("timer fired after answer")
	case <-time.After(60 * time.Millisecond):
	}
	if got, _ := m.Get(c.CallID); got.State != StateActive {
		t.Fatalf("expected active, got %s", got.State)
	}
}

func TestManager_StorageFailureStillAdvances(t *testing.T) {
	store := &nopStore{fail: true}
	m := NewManager(store, Options{RingTimeout: time.Hour})
	ctx := context.Background()

	c, err := m.Create(ctx, CreateRequest{InitiatorID: "alice", RecipientID: "bob", Kind: KindDirectPeer})
	if err != nil {
		t.Fatalf("create should tolerate storage failure, got %v", err)
	}
	if _, err := m.Ringing(ctx, c.CallID); err != nil {
		t.Fatalf("ringing should tolerate storage failure, got %v", err)
	}
	if got, _ := m.Get(c.CallID); got.State != StateRinging {
		t.Fatalf("expected ringing, got %s", got.State)
	}
}

func TestManager_ReleaseParty(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	a := createDirect(t, m)
	m.Ringing(ctx, a.CallID)
	m.Activate(ctx, a.CallID)

	b, _ := m.Create(ctx, CreateRequest{InitiatorID: "carol", RecipientID: "alice", Kind: KindDirectPeer})
	m.Ringing(ctx, b.CallID)

	done, _ := m.Create(ctx, CreateRequest{InitiatorID: "alice", RecipientID: "dave", Kind: KindDirectPeer})
	m.Fail(ctx, done.CallID)

	released := m.ReleaseParty(ctx, "alice")
	if len(released) != 2 {
		t.Fatalf("expected 2 released calls, got %d", len(released))
	}
	states := map[string]State{}
	for _, c := range released {
		states[c.CallID] = c.State
	}
	if states[a.CallID] != StateEnded {
		t.Fatalf("active call should end, got %s", states[a.CallID])
	}
	if states[b.CallID] != StateFailed {
		t.Fatalf("ringing call should fail, got %s", states[b.CallID])
	}
}

func TestManager_GetByProviderID(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	c, _ := m.Create(ctx, CreateRequest{InitiatorID: "alice", RecipientAddress: "+15551234567", Kind: KindGateway})
	if err := m.AttachProviderID(ctx, c.CallID, "CA123"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	got, ok := m.GetByProviderID("CA123")
	if !ok || got.CallID != c.CallID {
		t.Fatalf("expected to find call, got ok=%v", ok)
	}
	if _, ok := m.GetByProviderID("CA999"); ok {
		t.Fatalf("unexpected match")
	}
}

func TestManager_SetReportedDuration(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	c, _ := m.Create(ctx, CreateRequest{InitiatorID: "alice", RecipientAddress: "+15551234567", Kind: KindGateway})

	// Ignored before the call is terminal.
	m.SetReportedDuration(ctx, c.CallID, 42)
	if got, _ := m.Get(c.CallID); got.DurationSeconds != 0 {
		t.Fatalf("duration set on live call")
	}

	m.Ringing(ctx, c.CallID)
	m.Activate(ctx, c.CallID)
	m.Hangup(ctx, c.CallID)
	m.SetReportedDuration(ctx, c.CallID, 42)
	if got, _ := m.Get(c.CallID); got.DurationSeconds != 42 {
		t.Fatalf("expected reported duration 42, got %d", got.DurationSeconds)
	}
}
