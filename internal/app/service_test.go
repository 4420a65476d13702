package app

import (
	"context"
	"sync"
	"time"

	"lobby/api/internal/config"
	"lobby/api/internal/store"
)

// fakeStore wraps the memory adapter; set a func field to override one call.
type fakeStore struct {
	*store.MemoryStore

	findParticipantFn        func(context.Context, string) (store.Participant, error)
	insertParticipantFn      func(context.Context, store.Participant) error
	listParticipantsFn       func(context.Context) ([]store.Participant, error)
	staleParticipantsFn      func(context.Context, int64) ([]store.Participant, error)
	deleteStaleParticipantFn func(context.Context, string, int64) (bool, error)
	insertMessageFn          func(context.Context, store.Message) (string, error)
	listMessagesFn           func(context.Context, store.MessageQuery) ([]store.Message, error)
	pingFn                   func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{MemoryStore: store.NewMemoryStore()}
}

func (f *fakeStore) FindParticipant(ctx context.Context, name string) (store.Participant, error) {
	if f.findParticipantFn != nil {
		return f.findParticipantFn(ctx, name)
	}
	return f.MemoryStore.FindParticipant(ctx, name)
}

func (f *fakeStore) InsertParticipant(ctx context.Context, p store.Participant) error {
	if f.insertParticipantFn != nil {
		return f.insertParticipantFn(ctx, p)
	}
	return f.MemoryStore.InsertParticipant(ctx, p)
}

func (f *fakeStore) ListParticipants(ctx context.Context) ([]store.Participant, error) {
	if f.listParticipantsFn != nil {
		return f.listParticipantsFn(ctx)
	}
	return f.MemoryStore.ListParticipants(ctx)
}

func (f *fakeStore) StaleParticipants(ctx context.Context, cutoff int64) ([]store.Participant, error) {
	if f.staleParticipantsFn != nil {
		return f.staleParticipantsFn(ctx, cutoff)
	}
	return f.MemoryStore.StaleParticipants(ctx, cutoff)
}

func (f *fakeStore) DeleteStaleParticipant(ctx context.Context, name string, cutoff int64) (bool, error) {
	if f.deleteStaleParticipantFn != nil {
		return f.deleteStaleParticipantFn(ctx, name, cutoff)
	}
	return f.MemoryStore.DeleteStaleParticipant(ctx, name, cutoff)
}

func (f *fakeStore) InsertMessage(ctx context.Context, m store.Message) (string, error) {
	if f.insertMessageFn != nil {
		return f.insertMessageFn(ctx, m)
	}
	return f.MemoryStore.InsertMessage(ctx, m)
}

func (f *fakeStore) ListMessages(ctx context.Context, q store.MessageQuery) ([]store.Message, error) {
	if f.listMessagesFn != nil {
		return f.listMessagesFn(ctx, q)
	}
	return f.MemoryStore.ListMessages(ctx, q)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// fakeClock is a settable clock for sweep and timestamp assertions.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []store.Message
}

func (p *recordingPublisher) Publish(m store.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, m)
}

func (p *recordingPublisher) Messages() []store.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]store.Message(nil), p.messages...)
}

func newTestService(fs *fakeStore) (*Service, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)}
	svc := New(config.Config{InactivityTimeout: 10 * time.Second}, fs)
	svc.now = clock.Now
	return svc, clock
}
