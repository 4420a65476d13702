package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps both collections in process memory. It is used by tests
// and by STORE_DRIVER=memory for local runs.
type MemoryStore struct {
	mu           sync.RWMutex
	participants map[string]Participant
	joinOrder    []string
	messages     []Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{participants: make(map[string]Participant)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) InsertParticipant(_ context.Context, p Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.Name]; ok {
		return fmt.Errorf("insert participant %q: %w", p.Name, ErrDuplicate)
	}
	s.participants[p.Name] = p
	s.joinOrder = append(s.joinOrder, p.Name)
	return nil
}

func (s *MemoryStore) FindParticipant(_ context.Context, name string) (Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[name]
	if !ok {
		return Participant{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListParticipants(context.Context) ([]Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Participant, 0, len(s.participants))
	for _, name := range s.joinOrder {
		out = append(out, s.participants[name])
	}
	return out, nil
}

func (s *MemoryStore) TouchParticipant(_ context.Context, name string, lastStatus int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[name]
	if !ok {
		return ErrNotFound
	}
	p.LastStatus = lastStatus
	s.participants[name] = p
	return nil
}

func (s *MemoryStore) StaleParticipants(_ context.Context, cutoff int64) ([]Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Participant
	for _, name := range s.joinOrder {
		if p := s.participants[name]; p.LastStatus <= cutoff {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteStaleParticipant(_ context.Context, name string, cutoff int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[name]
	if !ok || p.LastStatus > cutoff {
		return false, nil
	}
	delete(s.participants, name)
	for i, n := range s.joinOrder {
		if n == name {
			s.joinOrder = append(s.joinOrder[:i], s.joinOrder[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, m Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = uuid.NewString()
	s.messages = append(s.messages, m)
	return m.ID, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.messages[i], nil
	}
	return Message{}, ErrNotFound
}

func (s *MemoryStore) ListMessages(_ context.Context, q MessageQuery) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.VisibleTo(q.VisibleTo) {
			out = append(out, m)
		}
	}
	return LastN(out, q.Last), nil
}

func (s *MemoryStore) HasAuthored(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.From == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) UpdateMessage(_ context.Context, id string, patch MessagePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	s.messages[i] = patch.Apply(s.messages[i])
	return nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) indexOf(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}
