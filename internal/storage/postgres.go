package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"voiceconnect/internal/calls"
	"voiceconnect/internal/messaging"
	"voiceconnect/internal/voiceinject"
	"voiceconnect/pkg/utils"
)

// Postgres implements Store on database/sql over the pgx stdlib driver.
//
// Error mapping: sql.ErrNoRows -> ErrNotFound, everything else ->
// ErrStorageUnavailable (wrapped), so callers never see driver errors.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (s *Postgres) CreateCall(ctx context.Context, c calls.Call) error {
	const q = `
		INSERT INTO calls
			(call_id, initiator_id, recipient_id, recipient_address, kind, state,
			 provider_call_id, voice_id, recording_enabled, duration, started_at, ended_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := s.db.ExecContext(ctx, q,
		c.CallID, c.InitiatorID, nullStr(c.RecipientID), nullStr(c.RecipientAddress),
		string(c.Kind), string(c.State), nullStr(c.ProviderCallID), nullStr(c.VoiceID),
		c.RecordingEnabled, c.DurationSeconds, c.StartedAt, c.EndedAt, c.CreatedAt)
	return infra(err)
}

func (s *Postgres) UpdateCall(ctx context.Context, id string, u calls.Update) error {
	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.State != nil {
		add("state", string(*u.State))
	}
	if u.StartedAt != nil {
		add("started_at", *u.StartedAt)
	}
	if u.EndedAt != nil {
		add("ended_at", *u.EndedAt)
	}
	if u.DurationSeconds != nil {
		add("duration", *u.DurationSeconds)
	}
	if u.ProviderCallID != nil {
		add("provider_call_id", *u.ProviderCallID)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	q := fmt.Sprintf("UPDATE calls SET %s WHERE call_id = $%d", strings.Join(sets, ", "), len(args))

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return infra(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const callColumns = `call_id, initiator_id, COALESCE(recipient_id, ''), COALESCE(recipient_address, ''),
	kind, state, COALESCE(provider_call_id, ''), COALESCE(voice_id, ''),
	recording_enabled, duration, started_at, ended_at, created_at`

func (s *Postgres) GetCall(ctx context.Context, id string) (calls.Call, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+callColumns+" FROM calls WHERE call_id = $1", id)
	return scanCall(row)
}

func (s *Postgres) ListCallHistory(ctx context.Context, identity string, limit int) ([]calls.Call, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+callColumns+` FROM calls
		 WHERE initiator_id = $1 OR recipient_id = $1
		 ORDER BY created_at DESC LIMIT $2`, identity, limit)
	if err != nil {
		return nil, infra(err)
	}
	defer rows.Close()

	var out []calls.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, infra(rows.Err())
}

func (s *Postgres) SaveMessage(ctx context.Context, m messaging.Message) error {
	const q = `
		INSERT INTO messages (id, sender_id, recipient_id, content, type, is_read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := s.db.ExecContext(ctx, q,
		m.ID, m.SenderID, m.RecipientID, m.Content, string(m.Type), m.Read, m.CreatedAt)
	return infra(err)
}

func (s *Postgres) MarkMessageRead(ctx context.Context, messageID, readerID string) (messaging.Message, error) {
	var out messaging.Message
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE messages SET is_read = TRUE WHERE id = $1 AND recipient_id = $2",
			messageID, readerID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return sql.ErrNoRows
		}
		row := tx.QueryRowContext(ctx,
			`SELECT id, sender_id, recipient_id, content, type, is_read, created_at
			 FROM messages WHERE id = $1`, messageID)
		m, err := scanMessage(row)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrNotFound) {
			return messaging.Message{}, ErrNotFound
		}
		return messaging.Message{}, infra(err)
	}
	return out, nil
}

func (s *Postgres) GetRecentMessages(ctx context.Context, identity string, limit int) ([]messaging.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, recipient_id, content, type, is_read, created_at
		 FROM messages
		 WHERE sender_id = $1 OR recipient_id = $1
		 ORDER BY created_at DESC LIMIT $2`, identity, limit)
	if err != nil {
		return nil, infra(err)
	}
	defer rows.Close()

	var out []messaging.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, infra(rows.Err())
}

func (s *Postgres) AddInjectionEvent(ctx context.Context, e voiceinject.Event) error {
	// INSERT-only table; no update or delete statements exist for it.
	const q = `
		INSERT INTO injection_events (id, call_id, text, voice_id, sent_at)
		VALUES ($1,$2,$3,$4,$5)`
	_, err := s.db.ExecContext(ctx, q, e.ID, e.CallID, e.Text, nullStr(e.VoiceID), e.SentAt)
	return infra(err)
}

func (s *Postgres) GetUser(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(email, ''), COALESCE(display_name, ''), created_at
		 FROM users WHERE id = $1`, id)

	var u User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, infra(err)
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (calls.Call, error) {
	var c calls.Call
	var kind, state string
	err := row.Scan(&c.CallID, &c.InitiatorID, &c.RecipientID, &c.RecipientAddress,
		&kind, &state, &c.ProviderCallID, &c.VoiceID,
		&c.RecordingEnabled, &c.DurationSeconds, &c.StartedAt, &c.EndedAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return calls.Call{}, ErrNotFound
	}
	if err != nil {
		return calls.Call{}, infra(err)
	}
	c.Kind = calls.Kind(kind)
	c.State = calls.State(state)
	return c, nil
}

func scanMessage(row rowScanner) (messaging.Message, error) {
	var m messaging.Message
	var typ string
	err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &typ, &m.Read, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return messaging.Message{}, ErrNotFound
	}
	if err != nil {
		return messaging.Message{}, infra(err)
	}
	m.Type = messaging.Type(typ)
	return m, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func infra(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
