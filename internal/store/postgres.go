package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) InsertParticipant(ctx context.Context, p Participant) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO participants (name, last_status) VALUES ($1, $2)`, p.Name, p.LastStatus)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert participant %q: %w", p.Name, ErrDuplicate)
		}
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindParticipant(ctx context.Context, name string) (Participant, error) {
	var p Participant
	err := s.db.QueryRowContext(ctx, `SELECT name, last_status FROM participants WHERE name = $1`, name).Scan(&p.Name, &p.LastStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, ErrNotFound
	}
	if err != nil {
		return Participant{}, fmt.Errorf("find participant: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context) ([]Participant, error) {
	return s.queryParticipants(ctx, `SELECT name, last_status FROM participants ORDER BY joined_seq ASC`)
}

func (s *PostgresStore) TouchParticipant(ctx context.Context, name string, lastStatus int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE participants SET last_status = $2 WHERE name = $1`, name, lastStatus)
	if err != nil {
		return fmt.Errorf("touch participant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch participant rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) StaleParticipants(ctx context.Context, cutoff int64) ([]Participant, error) {
	return s.queryParticipants(ctx, `
		SELECT name, last_status FROM participants
		WHERE last_status <= $1
		ORDER BY joined_seq ASC
	`, cutoff)
}

func (s *PostgresStore) DeleteStaleParticipant(ctx context.Context, name string, cutoff int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM participants WHERE name = $1 AND last_status <= $2`, name, cutoff)
	if err != nil {
		return false, fmt.Errorf("delete participant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete participant rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) queryParticipants(ctx context.Context, query string, args ...any) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	items := []Participant{}
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.Name, &p.LastStatus); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m Message) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (from_name, to_name, text, type, time)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, m.From, m.To, m.Text, string(m.Type), m.Time).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (Message, error) {
	var m Message
	err := s.db.QueryRowContext(ctx, `
		SELECT id, from_name, to_name, text, type, time FROM messages WHERE id = $1
	`, id).Scan(&m.ID, &m.From, &m.To, &m.Text, &m.Type, &m.Time)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ListMessages filters in SQL, keeps the newest Last rows and returns them
// oldest first.
func (s *PostgresStore) ListMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	var last any
	if q.Last > 0 {
		last = q.Last
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_name, to_name, text, type, time FROM (
			SELECT seq, id, from_name, to_name, text, type, time
			FROM messages
			WHERE type = 'message'
				OR (type = 'private_message' AND (to_name = $2 OR ($1 <> '' AND (to_name = $1 OR from_name = $1))))
				OR (type = 'status' AND to_name = $2)
			ORDER BY seq DESC
			LIMIT $3
		) visible
		ORDER BY seq ASC
	`, q.VisibleTo, Broadcast, last)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Text, &m.Type, &m.Time); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (s *PostgresStore) HasAuthored(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE from_name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check author: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, id string, patch MessagePatch) error {
	var msgType *string
	if patch.Type != nil {
		value := string(*patch.Type)
		msgType = &value
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET to_name = COALESCE($2, to_name),
			text = COALESCE($3, text),
			type = COALESCE($4, type)
		WHERE id = $1
	`, id, patch.To, patch.Text, msgType)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update message rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
