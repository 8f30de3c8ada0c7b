package storage

import (
	"context"
	"sort"
	"sync"

	"voiceconnect/internal/calls"
	"voiceconnect/internal/messaging"
	"voiceconnect/internal/voiceinject"
)

// Memory is an in-process Store used by tests and the local dev profile.
// It mirrors Postgres semantics, including ErrNotFound.
type Memory struct {
	mu       sync.Mutex
	calls    map[string]calls.Call
	messages map[string]messaging.Message
	events   []voiceinject.Event
	users    map[string]User

	// failing simulates an unreachable store for failure-path tests.
	failing bool
}

func NewMemory() *Memory {
	return &Memory{
		calls:    make(map[string]calls.Call),
		messages: make(map[string]messaging.Message),
		users:    make(map[string]User),
	}
}

// SetFailing switches every subsequent operation to ErrStorageUnavailable.
func (s *Memory) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *Memory) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Memory) CreateCall(ctx context.Context, c calls.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return ErrStorageUnavailable
	}
	s.calls[c.CallID] = c
	return nil
}

func (s *Memory) UpdateCall(ctx context.Context, id string, u calls.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return ErrStorageUnavailable
	}
	c, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	if u.State != nil {
		c.State = *u.State
	}
	if u.StartedAt != nil {
		c.StartedAt = u.StartedAt
	}
	if u.EndedAt != nil {
		c.EndedAt = u.EndedAt
	}
	if u.DurationSeconds != nil {
		c.DurationSeconds = *u.DurationSeconds
	}
	if u.ProviderCallID != nil {
		c.ProviderCallID = *u.ProviderCallID
	}
	s.calls[id] = c
	return nil
}

func (s *Memory) GetCall(ctx context.Context, id string) (calls.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return calls.Call{}, ErrStorageUnavailable
	}
	c, ok := s.calls[id]
	if !ok {
		return calls.Call{}, ErrNotFound
	}
	return c, nil
}

func (s *Memory) ListCallHistory(ctx context.Context, identity string, limit int) ([]calls.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, ErrStorageUnavailable
	}
	var out []calls.Call
	for _, c := range s.calls {
		if c.Party(identity) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) SaveMessage(ctx context.Context, m messaging.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return ErrStorageUnavailable
	}
	s.messages[m.ID] = m
	return nil
}

func (s *Memory) MarkMessageRead(ctx context.Context, messageID, readerID string) (messaging.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return messaging.Message{}, ErrStorageUnavailable
	}
	m, ok := s.messages[messageID]
	if !ok || m.RecipientID != readerID {
		return messaging.Message{}, ErrNotFound
	}
	m.Read = true
	s.messages[messageID] = m
	return m, nil
}

func (s *Memory) GetRecentMessages(ctx context.Context, identity string, limit int) ([]messaging.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, ErrStorageUnavailable
	}
	var out []messaging.Message
	for _, m := range s.messages {
		if m.SenderID == identity || m.RecipientID == identity {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) AddInjectionEvent(ctx context.Context, e voiceinject.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return ErrStorageUnavailable
	}
	s.events = append(s.events, e)
	return nil
}

// InjectionEvents returns the audit trail for one call id, in append order.
func (s *Memory) InjectionEvents(callID string) []voiceinject.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []voiceinject.Event
	for _, e := range s.events {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Memory) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return User{}, ErrStorageUnavailable
	}
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}
