package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

// EnsureUser inserts the user unless it already exists.
func (s *Store) EnsureUser(ctx context.Context, user *types.User) error {
	if user == nil || user.ID == "" {
		return storage.ErrInvalidInput
	}
	created := user.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, created_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		user.ID, user.Name, encodeTime(created))
	return wrapErr("ensure user", err)
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	var (
		u       types.User
		created string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &created)
	if err != nil {
		return nil, wrapErr("get user", err)
	}
	if u.CreatedAt, err = decodeTime(created); err != nil {
		return nil, wrapErr("decode user", err)
	}
	return &u, nil
}

// ListUserIDs returns every user ID.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, wrapErr("list users", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("scan user", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapErr("iterate users", rows.Err())
}

// CreateSession inserts a new session.
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	if session == nil || session.UserID == "" {
		return storage.ErrInvalidInput
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, started_at, ended_at, message_count) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.UserID, encodeTime(session.StartedAt), nullableTime(session.EndedAt), session.MessageCount)
	return wrapErr("create session", err)
}

const sessionColumns = `id, user_id, started_at, ended_at, message_count`

func scanSession(row interface{ Scan(...any) error }) (*types.Session, error) {
	var (
		sess    types.Session
		started string
		ended   sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &started, &ended, &sess.MessageCount); err != nil {
		return nil, err
	}
	var err error
	if sess.StartedAt, err = decodeTime(started); err != nil {
		return nil, err
	}
	if sess.EndedAt, err = decodeNullTime(ended); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		return nil, wrapErr("get session", err)
	}
	return sess, nil
}

// EndSession sets ended_at on an active session.
func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`, encodeTime(endedAt), id)
	if err != nil {
		return wrapErr("end session", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		ok, err := s.exists(ctx, "sessions", id)
		if err != nil {
			return err
		}
		if !ok {
			return storage.ErrNotFound
		}
	}
	return nil
}

// ListSessions returns a user's sessions, oldest first.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY started_at ASC`, userID)
	if err != nil {
		return nil, wrapErr("list sessions", err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, wrapErr("scan session", err)
		}
		out = append(out, sess)
	}
	return out, wrapErr("iterate sessions", rows.Err())
}

// LatestActiveSession returns the newest session without ended_at.
func (s *Store) LatestActiveSession(ctx context.Context, userID string) (*types.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND ended_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`, userID))
	if err != nil {
		return nil, wrapErr("get active session", err)
	}
	return sess, nil
}

// AppendMessage inserts a message once and bumps the session's counter in
// the same transaction.
func (s *Store) AppendMessage(ctx context.Context, msg *types.Message) (bool, error) {
	if msg == nil || msg.SessionID == "" {
		return false, storage.ErrInvalidInput
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapErr("begin append", err)
	}
	defer func() { _ = tx.Rollback() }()

	var owner string
	if err := tx.QueryRowContext(ctx, `SELECT user_id FROM sessions WHERE id = ?`, msg.SessionID).Scan(&owner); err != nil {
		return false, wrapErr("load session", err)
	}
	if msg.UserID == "" {
		msg.UserID = owner
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, user_id, role, text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		msg.ID, msg.SessionID, msg.UserID, msg.Role, msg.Text, encodeTime(msg.CreatedAt))
	if err != nil {
		return false, wrapErr("append message", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + 1 WHERE id = ?`, msg.SessionID); err != nil {
		return false, wrapErr("bump message count", err)
	}
	if err := tx.Commit(); err != nil {
		return false, wrapErr("commit append", err)
	}
	return true, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list messages", err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		var (
			m       types.Message
			created string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Role, &m.Text, &created); err != nil {
			return nil, wrapErr("scan message", err)
		}
		if m.CreatedAt, err = decodeTime(created); err != nil {
			return nil, wrapErr("decode message", err)
		}
		out = append(out, &m)
	}
	return out, wrapErr("iterate messages", rows.Err())
}

// ListMessages returns a session's messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, session_id, user_id, role, text, created_at FROM messages
		 WHERE session_id = ? ORDER BY rowid ASC`, sessionID)
}

// ListUserMessages returns a user's messages since a point in time.
func (s *Store) ListUserMessages(ctx context.Context, userID string, since time.Time) ([]*types.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, session_id, user_id, role, text, created_at FROM messages
		 WHERE user_id = ? AND created_at >= ? ORDER BY created_at ASC, rowid ASC`,
		userID, encodeTime(since))
}
