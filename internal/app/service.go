package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lobby/api/internal/config"
	"lobby/api/internal/store"
)

// TimeLayout is the wall-clock format stamped on every message.
const TimeLayout = "15:04:05"

const (
	StatusEntered = "entered"
	StatusLeft    = "left"
)

// Publisher receives every message after it has been stored.
type Publisher interface {
	Publish(store.Message)
}

type Service struct {
	cfg        config.Config
	store      store.Store
	publisher  Publisher
	now        func() time.Time
	inactivity time.Duration
	logger     zerolog.Logger
}

func New(cfg config.Config, dataStore store.Store) *Service {
	inactivity := cfg.InactivityTimeout
	if inactivity <= 0 {
		inactivity = 10 * time.Second
	}
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		now:        time.Now,
		inactivity: inactivity,
		logger:     log.With().Str("module", "app").Logger(),
	}
}

// SetPublisher attaches the realtime fan-out. A nil publisher disables it.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) stamp(t time.Time) string {
	return t.Format(TimeLayout)
}

// insertMessage stores m and hands the stored copy to the publisher.
func (s *Service) insertMessage(ctx context.Context, m store.Message) (store.Message, error) {
	id, err := s.store.InsertMessage(ctx, m)
	if err != nil {
		return store.Message{}, err
	}
	m.ID = id
	if s.publisher != nil {
		s.publisher.Publish(m)
	}
	return m, nil
}
