package store

import "errors"

// Broadcast is the reserved recipient meaning "visible to every participant".
const Broadcast = "Todos"

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")
)

type MessageType string

const (
	MessageTypePublic  MessageType = "message"
	MessageTypePrivate MessageType = "private_message"
	MessageTypeStatus  MessageType = "status"
)

// Postable reports whether clients may author a message of this type.
// Status messages are only written by the presence manager.
func (t MessageType) Postable() bool {
	return t == MessageTypePublic || t == MessageTypePrivate
}

type Participant struct {
	Name       string `json:"name"`
	LastStatus int64  `json:"lastStatus"`
}

type Message struct {
	ID   string      `json:"_id"`
	From string      `json:"from"`
	To   string      `json:"to"`
	Text string      `json:"text"`
	Type MessageType `json:"type"`
	Time string      `json:"time"`
}

// VisibleTo applies the per-requester read rule: public messages are seen by
// everyone, private messages by their sender and recipient (or everyone when
// addressed to Broadcast), and status messages only when broadcast.
func (m Message) VisibleTo(requester string) bool {
	switch m.Type {
	case MessageTypePublic:
		return true
	case MessageTypePrivate:
		return m.To == Broadcast || (requester != "" && (m.To == requester || m.From == requester))
	case MessageTypeStatus:
		return m.To == Broadcast
	default:
		return false
	}
}

// MessageQuery selects messages for a requester. Last > 0 keeps only the most
// recent Last entries of the visible set, still ordered oldest first.
type MessageQuery struct {
	VisibleTo string
	Last      int
}

// MessagePatch carries a partial update; nil fields are left untouched.
type MessagePatch struct {
	To   *string
	Text *string
	Type *MessageType
}

// Apply returns a copy of m with the patch applied.
func (p MessagePatch) Apply(m Message) Message {
	if p.To != nil {
		m.To = *p.To
	}
	if p.Text != nil {
		m.Text = *p.Text
	}
	if p.Type != nil {
		m.Type = *p.Type
	}
	return m
}

// LastN trims an oldest-first slice to its final n entries. n <= 0 keeps all.
func LastN(items []Message, n int) []Message {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
