package app

import (
	"context"
	"errors"

	"lobby/api/internal/sanitize"
	"lobby/api/internal/store"
)

type PostInput struct {
	To   string `json:"to" binding:"required"`
	Text string `json:"text" binding:"required"`
	Type string `json:"type" binding:"required,oneof=message private_message"`
}

// EditInput is a partial message update; nil fields are left untouched.
type EditInput struct {
	To   *string `json:"to"`
	Text *string `json:"text"`
	Type *string `json:"type"`
}

const typeDetail = `"type" must be one of [message private_message]`

func (s *Service) PostMessage(ctx context.Context, rawFrom string, input PostInput) (store.Message, error) {
	var details []string
	if rawFrom == "" {
		details = append(details, `"user" header is required`)
	}
	if input.To == "" {
		details = append(details, `"to" is required`)
	}
	if input.Text == "" {
		details = append(details, `"text" is required`)
	}
	if input.Type == "" {
		details = append(details, `"type" is required`)
	}
	if len(details) > 0 {
		return store.Message{}, validationError(details...)
	}

	msg := store.Message{
		From: sanitize.Text(rawFrom),
		To:   sanitize.Text(input.To),
		Text: sanitize.Text(input.Text),
		Type: store.MessageType(sanitize.Text(input.Type)),
	}
	if details := messageDetails(msg); msg.From == "" || len(details) > 0 {
		if msg.From == "" {
			details = append([]string{`"user" header must contain text`}, details...)
		}
		return store.Message{}, validationError(details...)
	}

	authored, err := s.store.HasAuthored(ctx, msg.From)
	if err != nil {
		return store.Message{}, storeError("check sender", err)
	}
	if !authored {
		return store.Message{}, domainError(KindUnknownSender, "Sender has not joined")
	}

	msg.Time = s.stamp(s.now())
	stored, err := s.insertMessage(ctx, msg)
	if err != nil {
		return store.Message{}, storeError("insert message", err)
	}
	return stored, nil
}

// messageDetails lists the fields of m that break the client message schema.
func messageDetails(m store.Message) []string {
	var details []string
	if m.To == "" {
		details = append(details, `"to" must contain text`)
	}
	if m.Text == "" {
		details = append(details, `"text" must contain text`)
	}
	if !m.Type.Postable() {
		details = append(details, typeDetail)
	}
	return details
}

// ListMessages returns the messages requester may see, oldest first. A
// positive limit keeps only the most recent limit of them.
func (s *Service) ListMessages(ctx context.Context, rawRequester string, limit int) ([]store.Message, error) {
	if limit < 0 {
		return nil, validationError(`"limit" must be a positive integer`)
	}
	items, err := s.store.ListMessages(ctx, store.MessageQuery{
		VisibleTo: sanitize.Text(rawRequester),
		Last:      limit,
	})
	if err != nil {
		return nil, storeError("list messages", err)
	}
	if items == nil {
		items = []store.Message{}
	}
	return items, nil
}

func (s *Service) EditMessage(ctx context.Context, id, rawRequester string, input EditInput) (store.Message, error) {
	current, err := s.ownedMessage(ctx, id, rawRequester)
	if err != nil {
		return store.Message{}, err
	}

	var patch store.MessagePatch
	if input.To != nil {
		to := sanitize.Text(*input.To)
		patch.To = &to
	}
	if input.Text != nil {
		text := sanitize.Text(*input.Text)
		patch.Text = &text
	}
	if input.Type != nil {
		kind := store.MessageType(sanitize.Text(*input.Type))
		patch.Type = &kind
	}

	merged := patch.Apply(current)
	if details := messageDetails(merged); len(details) > 0 {
		return store.Message{}, validationError(details...)
	}

	if err := s.store.UpdateMessage(ctx, id, patch); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Message{}, domainError(KindNotFound, "Message not found")
		}
		return store.Message{}, storeError("update message", err)
	}
	return merged, nil
}

// AuthorizeChange reports whether requester may edit or delete message id.
func (s *Service) AuthorizeChange(ctx context.Context, id, rawRequester string) error {
	_, err := s.ownedMessage(ctx, id, rawRequester)
	return err
}

func (s *Service) DeleteMessage(ctx context.Context, id, rawRequester string) error {
	if _, err := s.ownedMessage(ctx, id, rawRequester); err != nil {
		return err
	}
	if err := s.store.DeleteMessage(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainError(KindNotFound, "Message not found")
		}
		return storeError("delete message", err)
	}
	return nil
}

// ownedMessage loads id and checks that requester authored it. Ownership is
// decided before any payload validation.
func (s *Service) ownedMessage(ctx context.Context, id, rawRequester string) (store.Message, error) {
	requester := sanitize.Text(rawRequester)
	// No identity means no ownership to check, so this precedes the lookup.
	if requester == "" {
		return store.Message{}, validationError(`"user" header is required`)
	}
	current, err := s.store.GetMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Message{}, domainError(KindNotFound, "Message not found")
	}
	if err != nil {
		return store.Message{}, storeError("get message", err)
	}
	if current.From != requester {
		return store.Message{}, domainError(KindUnauthorized, "Only the sender may change this message")
	}
	return current, nil
}
