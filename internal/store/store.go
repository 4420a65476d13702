// Package store persists participants and messages behind a small
// document-style port with Postgres, MongoDB and in-memory adapters.
package store

import "context"

// Store is the persistence port shared by request handlers and the sweep.
// Every individual call is atomic; sequences of calls are not.
type Store interface {
	// InsertParticipant returns ErrDuplicate when the name is taken.
	InsertParticipant(context.Context, Participant) error
	FindParticipant(context.Context, string) (Participant, error)
	ListParticipants(context.Context) ([]Participant, error)
	// TouchParticipant sets lastStatus; ErrNotFound when the name is unknown.
	TouchParticipant(context.Context, string, int64) error
	// StaleParticipants lists participants whose lastStatus is <= cutoff.
	StaleParticipants(context.Context, int64) ([]Participant, error)
	// DeleteStaleParticipant removes the participant only if its lastStatus is
	// still <= cutoff and reports whether a record was removed.
	DeleteStaleParticipant(context.Context, string, int64) (bool, error)

	// InsertMessage stores m and returns the store-assigned id.
	InsertMessage(context.Context, Message) (string, error)
	GetMessage(context.Context, string) (Message, error)
	ListMessages(context.Context, MessageQuery) ([]Message, error)
	HasAuthored(context.Context, string) (bool, error)
	UpdateMessage(context.Context, string, MessagePatch) error
	DeleteMessage(context.Context, string) error

	Ping(context.Context) error
	Close() error
}
