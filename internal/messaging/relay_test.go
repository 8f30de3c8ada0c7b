package messaging

import (
	"context"
	"errors"
	"testing"

	"voiceconnect/internal/presence"
	"voiceconnect/internal/wire"
)

type fakeConn struct {
	id     string
	events []wire.Event
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Deliver(ev wire.Event) error {
	c.events = append(c.events, ev)
	return nil
}

type fakeStore struct {
	saved  []Message
	fail   bool
	byID   map[string]Message
}

func newFakeStore() *fakeStore { return &fakeStore{byID: map[string]Message{}} }

func (s *fakeStore) SaveMessage(ctx context.Context, m Message) error {
	if s.fail {
		return errors.New("storage down")
	}
	s.saved = append(s.saved, m)
	s.byID[m.ID] = m
	return nil
}

func (s *fakeStore) MarkMessageRead(ctx context.Context, messageID, readerID string) (Message, error) {
	if s.fail {
		return Message{}, errors.New("storage down")
	}
	m, ok := s.byID[messageID]
	if !ok {
		return Message{}, errors.New("not found")
	}
	m.Read = true
	s.byID[messageID] = m
	return m, nil
}

func setup(t *testing.T) (*Relay, *fakeStore, *presence.Registry, *fakeConn, *fakeConn) {
	t.Helper()
	registry := presence.NewRegistry()
	store := newFakeStore()
	relay := NewRelay(registry, store, nil)

	alice := &fakeConn{id: "conn-alice"}
	bob := &fakeConn{id: "conn-bob"}
	registry.Attach(alice, "alice")
	registry.Attach(bob, "bob")
	return relay, store, registry, alice, bob
}

func TestRelay_SendPersistsThenForwards(t *testing.T) {
	relay, store, _, alice, _ := setup(t)

	outs, err := relay.Send(context.Background(), alice, wire.SendMessageRequest{
		RecipientID: "bob", Content: "hello",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected 1 saved message, got %d", len(store.saved))
	}
	m := store.saved[0]
	if m.SenderID != "alice" || m.RecipientID != "bob" || m.Type != TypeText {
		t.Fatalf("unexpected message %+v", m)
	}

	var gotReceived, gotSent bool
	for _, o := range outs {
		switch o.Event.Type {
		case wire.EventMessageReceived:
			if o.Conn.ID() != "conn-bob" {
				t.Fatalf("message:received routed to %s", o.Conn.ID())
			}
			gotReceived = true
		case wire.EventMessageSent:
			if o.Conn.ID() != "conn-alice" {
				t.Fatalf("message:sent routed to %s", o.Conn.ID())
			}
			gotSent = true
		}
	}
	if !gotReceived || !gotSent {
		t.Fatalf("expected received+sent, got %v", outs)
	}
}

func TestRelay_SendStorageFailureForwardsNothing(t *testing.T) {
	relay, store, _, alice, bob := setup(t)
	store.fail = true

	outs, err := relay.Send(context.Background(), alice, wire.SendMessageRequest{
		RecipientID: "bob", Content: "hello",
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(outs) != 0 {
		t.Fatalf("expected no outbounds, got %v", outs)
	}
	if len(bob.events) != 0 {
		t.Fatalf("nothing should reach bob, got %v", bob.events)
	}
}

func TestRelay_SendValidation(t *testing.T) {
	relay, _, _, alice, _ := setup(t)
	ctx := context.Background()

	if _, err := relay.Send(ctx, alice, wire.SendMessageRequest{Content: "x"}); err != ErrInvalidMessage {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if _, err := relay.Send(ctx, alice, wire.SendMessageRequest{RecipientID: "bob"}); err != ErrInvalidMessage {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if _, err := relay.Send(ctx, alice, wire.SendMessageRequest{RecipientID: "bob", Content: "x", Type: "hologram"}); err != ErrInvalidMessage {
		t.Fatalf("expected ErrInvalidMessage for bad type, got %v", err)
	}
}

func TestRelay_SendFromUnauthenticatedConn(t *testing.T) {
	relay, _, _, _, _ := setup(t)
	ghost := &fakeConn{id: "conn-ghost"}

	if _, err := relay.Send(context.Background(), ghost, wire.SendMessageRequest{
		RecipientID: "bob", Content: "hi",
	}); err != ErrNotAuthenticated {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestRelay_TypingFanOut(t *testing.T) {
	relay, _, _, alice, _ := setup(t)

	outs, err := relay.Typing(alice, wire.TypingRequest{RecipientID: "bob"})
	if err != nil {
		t.Fatalf("typing: %v", err)
	}
	if len(outs) != 1 || outs[0].Conn.ID() != "conn-bob" || outs[0].Event.Type != wire.EventMessageTyping {
		t.Fatalf("unexpected outs %v", outs)
	}
	notice, ok := outs[0].Event.Data.(wire.TypingNotice)
	if !ok || notice.SenderID != "alice" {
		t.Fatalf("sender identity must come from the connection, got %+v", outs[0].Event.Data)
	}

	outs, _ = relay.StopTyping(alice, wire.TypingRequest{RecipientID: "bob"})
	if len(outs) != 1 || outs[0].Event.Type != wire.EventMessageStopTyp {
		t.Fatalf("unexpected outs %v", outs)
	}
}

func TestRelay_TypingToOfflineRecipientIsSilent(t *testing.T) {
	relay, _, registry, alice, bob := setup(t)
	registry.Detach(bob)

	outs, err := relay.Typing(alice, wire.TypingRequest{RecipientID: "bob"})
	if err != nil || len(outs) != 0 {
		t.Fatalf("expected silent no-op, got outs=%v err=%v", outs, err)
	}
}

func TestRelay_MarkReadNotifiesSender(t *testing.T) {
	relay, store, _, alice, bob := setup(t)
	ctx := context.Background()

	outs, err := relay.Send(ctx, alice, wire.SendMessageRequest{RecipientID: "bob", Content: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = outs
	msgID := store.saved[0].ID

	outs, err = relay.MarkRead(ctx, bob, wire.ReadRequest{MessageID: msgID})
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if len(outs) != 1 || outs[0].Conn.ID() != "conn-alice" || outs[0].Event.Type != wire.EventMessageRead {
		t.Fatalf("expected message:read to alice, got %v", outs)
	}
	if !store.byID[msgID].Read {
		t.Fatalf("read flag not persisted")
	}
}
