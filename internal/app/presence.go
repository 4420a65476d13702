package app

import (
	"context"
	"errors"
	"fmt"

	"lobby/api/internal/sanitize"
	"lobby/api/internal/store"
)

// Join registers name as an active participant and announces it with an
// "entered" status message.
func (s *Service) Join(ctx context.Context, rawName string) (store.Participant, error) {
	if rawName == "" {
		return store.Participant{}, validationError(`"name" is required`)
	}
	name := sanitize.Text(rawName)
	if name == "" {
		return store.Participant{}, validationError(`"name" must contain text`)
	}

	_, err := s.store.FindParticipant(ctx, name)
	switch {
	case err == nil:
		return store.Participant{}, domainError(KindConflict, "Participant already exists")
	case !errors.Is(err, store.ErrNotFound):
		return store.Participant{}, storeError("find participant", err)
	}

	now := s.now()
	participant := store.Participant{Name: name, LastStatus: now.UnixMilli()}
	if err := s.store.InsertParticipant(ctx, participant); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Participant{}, domainError(KindConflict, "Participant already exists")
		}
		return store.Participant{}, storeError("insert participant", err)
	}

	_, err = s.insertMessage(ctx, store.Message{
		From: name,
		To:   store.Broadcast,
		Text: StatusEntered,
		Type: store.MessageTypeStatus,
		Time: s.stamp(now),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("participant", name).Msg("partial join: participant stored without status message")
		return store.Participant{}, storeError("insert entered status", err)
	}

	s.logger.Info().Str("participant", name).Msg("participant joined")
	return participant, nil
}

// Heartbeat refreshes the participant's lastStatus.
func (s *Service) Heartbeat(ctx context.Context, rawName string) error {
	name := sanitize.Text(rawName)
	if name == "" {
		return domainError(KindNotFound, "Participant not found")
	}
	err := s.store.TouchParticipant(ctx, name, s.now().UnixMilli())
	if errors.Is(err, store.ErrNotFound) {
		return domainError(KindNotFound, "Participant not found")
	}
	if err != nil {
		return storeError("touch participant", err)
	}
	return nil
}

func (s *Service) ListParticipants(ctx context.Context) ([]store.Participant, error) {
	items, err := s.store.ListParticipants(ctx)
	if err != nil {
		return nil, storeError("list participants", err)
	}
	if items == nil {
		items = []store.Participant{}
	}
	return items, nil
}

// Sweep evicts every participant whose last heartbeat is older than the
// inactivity timeout and announces each eviction with a "left" status
// message. A participant that heartbeats between the scan and its delete is
// kept. Failures on one participant do not stop the others; they are
// returned joined. The count is the number of participants evicted.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.inactivity).UnixMilli()

	stale, err := s.store.StaleParticipants(ctx, cutoff)
	if err != nil {
		return 0, storeError("scan stale participants", err)
	}

	var (
		evicted int
		errs    []error
	)
	for _, p := range stale {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		removed, err := s.store.DeleteStaleParticipant(ctx, p.Name, cutoff)
		if err != nil {
			s.logger.Error().Err(err).Str("participant", p.Name).Msg("evict participant")
			errs = append(errs, fmt.Errorf("evict %q: %w", p.Name, err))
			continue
		}
		if !removed {
			s.logger.Debug().Str("participant", p.Name).Msg("participant refreshed before eviction")
			continue
		}
		evicted++

		_, err = s.insertMessage(ctx, store.Message{
			From: p.Name,
			To:   store.Broadcast,
			Text: StatusLeft,
			Type: store.MessageTypeStatus,
			Time: s.stamp(now),
		})
		if err != nil {
			s.logger.Error().Err(err).Str("participant", p.Name).Msg("participant evicted without status message")
			errs = append(errs, fmt.Errorf("announce %q: %w", p.Name, err))
			continue
		}
		s.logger.Info().Str("participant", p.Name).Msg("participant evicted")
	}

	if len(errs) > 0 {
		return evicted, storeError("sweep", errors.Join(errs...))
	}
	return evicted, nil
}
