// Package history persists chat channels and their message logs in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/loqalabs/loqa-chat/internal/config"
	"github.com/loqalabs/loqa-chat/internal/protocol"
	_ "modernc.org/sqlite"
)

// ErrChannelNotFound is returned when a channel does not exist for a session.
var ErrChannelNotFound = errors.New("channel not found")

// Store is a SQLite-backed log of chat channels keyed by (session, channel).
// Writes replace a channel's whole message list.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store according to config. Ephemeral mode
// keeps everything in an in-memory database that lives as long as the Store.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	var dsn string
	if cfg.RetentionMode == "ephemeral" {
		dsn = "file::memory:?_pragma=foreign_keys(ON)"
	} else {
		dir := filepath.Dir(cfg.Path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if cfg.RetentionMode == "ephemeral" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log.With(slog.String("component", "history")), clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart && cfg.RetentionMode != "ephemeral" {
		if err := s.vacuum(ctx); err != nil {
			s.log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		s.log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS channels (
    session_id TEXT NOT NULL,
    channel_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    PRIMARY KEY (session_id, channel_id)
);
CREATE TABLE IF NOT EXISTS messages (
    session_id TEXT NOT NULL,
    channel_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    audio_url TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (session_id, channel_id, position),
    FOREIGN KEY (session_id, channel_id) REFERENCES channels(session_id, channel_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_channels_created ON channels(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateChannel registers a new channel for a session. Creating an existing
// channel only updates its title.
func (s *Store) CreateChannel(ctx context.Context, sessionID, channelID, title string) (protocol.Channel, error) {
	created := s.clock().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(session_id, channel_id, title, created_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(session_id, channel_id) DO UPDATE SET title=excluded.title`,
		sessionID, channelID, title, created.UnixNano())
	if err != nil {
		return protocol.Channel{}, fmt.Errorf("create channel: %w", err)
	}
	return protocol.Channel{ID: channelID, SessionID: sessionID, Title: title, CreatedAt: created}, nil
}

// ChannelExists reports whether channelID belongs to sessionID.
func (s *Store) ChannelExists(ctx context.Context, sessionID, channelID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM channels WHERE session_id = ? AND channel_id = ?`,
		sessionID, channelID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Channels lists a session's channels, newest first.
func (s *Store) Channels(ctx context.Context, sessionID string) ([]protocol.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, title, created_at FROM channels
		 WHERE session_id = ? ORDER BY created_at DESC, channel_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []protocol.Channel{}
	for rows.Next() {
		c := protocol.Channel{SessionID: sessionID}
		var created int64
		if err := rows.Scan(&c.ID, &c.Title, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(0, created).UTC()
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// Load returns a channel's messages in creation order, or newest first when
// reversed is set. An unknown channel yields an empty history.
func (s *Store) Load(ctx context.Context, sessionID, channelID string, reversed bool) ([]protocol.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, audio_url FROM messages
		 WHERE session_id = ? AND channel_id = ? ORDER BY position ASC`,
		sessionID, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []protocol.ChatMessage{}
	for rows.Next() {
		var m protocol.ChatMessage
		var role string
		if err := rows.Scan(&role, &m.Content, &m.AudioURL); err != nil {
			return nil, err
		}
		m.Role = protocol.Role(role)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if reversed {
		slices.Reverse(messages)
	}
	return messages, nil
}

// Append stores full as the channel's complete history, replacing what was
// there. The channel row is created when missing.
func (s *Store) Append(ctx context.Context, sessionID, channelID string, full []protocol.ChatMessage) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO channels(session_id, channel_id, title, created_at)
		 VALUES(?, ?, '', ?)
		 ON CONFLICT(session_id, channel_id) DO NOTHING`,
		sessionID, channelID, s.clock().UTC().UnixNano()); err != nil {
		return fmt.Errorf("ensure channel: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ? AND channel_id = ?`,
		sessionID, channelID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages(session_id, channel_id, position, role, content, audio_url)
		 VALUES(?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, m := range full {
		if _, err = stmt.ExecContext(ctx, sessionID, channelID, i, string(m.Role), m.Content, m.AudioURL); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// DeleteChannel removes a channel and its messages.
func (s *Store) DeleteChannel(ctx context.Context, sessionID, channelID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM channels WHERE session_id = ? AND channel_id = ?`, sessionID, channelID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// DeleteAllChannels removes every channel of a session and reports how many
// were deleted.
func (s *Store) DeleteAllChannels(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE created_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Info("pruned expired channels", slog.Int64("count", n))
	}
	return nil
}
