// Package transcript keeps the messages a session has delivered, per
// thread, in an in-memory SQLite database. It is the dedup record for the
// message engine: a message id is delivered at most once per thread no
// matter how many times history and the live channel overlap, and the
// newest delivered timestamp is where a restarted chat resumes from.
//
// Nothing is written to disk. Closing the store discards the transcript.
package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/randchat/pkg/chatsdk"

	_ "modernc.org/sqlite"
)

// Sources recorded alongside each message.
const (
	SourceHistory = "history"
	SourceLive    = "live"
)

// ErrEmpty is returned by Latest when a thread has no recorded messages.
var ErrEmpty = errors.New("transcript: no messages")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates an empty in-memory transcript with its schema applied.
func Open(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}

	// Every connection to ":memory:" is its own database, so keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	if err := s.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("transcript: migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// Record stores msgs for threadID and returns the ones not seen before, in
// the order given. Already recorded ids are skipped silently.
func (s *Store) Record(ctx context.Context, threadID, source string, msgs ...chatsdk.Message) ([]chatsdk.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	fresh := make([]chatsdk.Message, 0, len(msgs))
	recordedAt := s.now().UnixMilli()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO messages (thread_id, id, user_id, text, sent_at, source, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range msgs {
			res, err := stmt.ExecContext(ctx, threadID, m.ID, m.UserID, m.Text, float64(m.Time), source, recordedAt)
			if err != nil {
				return fmt.Errorf("insert %s: %w", m.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 1 {
				fresh = append(fresh, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript: record: %w", err)
	}

	return fresh, nil
}

// Messages returns the transcript of threadID ordered by send time. Ties
// keep the order they were recorded in.
func (s *Store) Messages(ctx context.Context, threadID string) ([]chatsdk.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, text, sent_at
		FROM messages
		WHERE thread_id = ?
		ORDER BY sent_at, rowid`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chatsdk.Message
	for rows.Next() {
		var (
			m  chatsdk.Message
			at float64
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Text, &at); err != nil {
			return nil, err
		}
		m.Time = chatsdk.Timestamp(at)
		out = append(out, m)
	}

	return out, rows.Err()
}

// Count returns how many messages are recorded for threadID.
func (s *Store) Count(ctx context.Context, threadID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE thread_id = ?`, threadID).Scan(&n)
	return n, err
}

// Latest returns the newest recorded send time for threadID, or ErrEmpty.
func (s *Store) Latest(ctx context.Context, threadID string) (chatsdk.Timestamp, error) {
	var at sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sent_at) FROM messages WHERE thread_id = ?`, threadID).Scan(&at)
	if err != nil {
		return 0, err
	}
	if !at.Valid {
		return 0, ErrEmpty
	}
	return chatsdk.Timestamp(at.Float64), nil
}

// Forget drops everything recorded for threadID.
func (s *Store) Forget(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, threadID)
	return err
}
