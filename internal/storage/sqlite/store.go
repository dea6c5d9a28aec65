// Package sqlite provides a SQLite-backed session storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/louisbranch/omniscript/internal/platform/errors"
	"github.com/louisbranch/omniscript/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/omniscript/internal/storage"
	"github.com/louisbranch/omniscript/internal/storage/sqlite/migrations"
	"github.com/louisbranch/omniscript/internal/world"
)

// Store persists session state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// sessionStateDoc is the JSON document stored for a remote save.
type sessionStateDoc struct {
	Code        string      `json:"code"`
	GameStarted bool        `json:"gameStarted"`
	Seq         uint64      `json:"seq"`
	State       world.State `json:"state"`
}

// Open opens a SQLite session store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveSessionState writes the single cached session, replacing any
// previous one.
func (s *Store) SaveSessionState(ctx context.Context, state storage.SessionState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	code := strings.TrimSpace(state.Code)
	if code == "" {
		return fmt.Errorf("session code is required")
	}
	updatedAt := state.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	stateJSON, err := json.Marshal(state.State)
	if err != nil {
		return fmt.Errorf("encode world state: %w", err)
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO session_state (id, code, game_started, seq, state, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   code = excluded.code,
		   game_started = excluded.game_started,
		   seq = excluded.seq,
		   state = excluded.state,
		   updated_at = excluded.updated_at`,
		code,
		boolToInt(state.GameStarted),
		int64(state.Seq),
		string(stateJSON),
		toMillis(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	return nil
}

// LoadSessionState returns the cached session.
func (s *Store) LoadSessionState(ctx context.Context) (storage.SessionState, error) {
	if err := ctx.Err(); err != nil {
		return storage.SessionState{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SessionState{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT code, game_started, seq, state, updated_at
		   FROM session_state
		  WHERE id = 1`,
	)

	var state storage.SessionState
	var gameStarted int
	var seq int64
	var stateJSON string
	var updatedAt int64
	err := row.Scan(&state.Code, &gameStarted, &seq, &stateJSON, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SessionState{}, apperrors.Wrap(apperrors.CodeNotFound, "session state not found", storage.ErrNotFound)
		}
		return storage.SessionState{}, fmt.Errorf("load session state: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &state.State); err != nil {
		return storage.SessionState{}, fmt.Errorf("decode world state: %w", err)
	}
	state.GameStarted = gameStarted != 0
	state.Seq = uint64(seq)
	state.UpdatedAt = fromMillis(updatedAt)
	return state, nil
}

// ClearSessionState removes the cached session. Clearing an empty cache is
// not an error.
func (s *Store) ClearSessionState(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM session_state WHERE id = 1`); err != nil {
		return fmt.Errorf("clear session state: %w", err)
	}
	return nil
}

// UpsertRemoteState writes one identity's session save.
func (s *Store) UpsertRemoteState(ctx context.Context, remote storage.RemoteState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	identity := strings.TrimSpace(remote.Identity)
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	updatedAt := remote.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	doc := sessionStateDoc{
		Code:        remote.State.Code,
		GameStarted: remote.State.GameStarted,
		Seq:         remote.State.Seq,
		State:       remote.State.State,
	}
	stateJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO remote_states (identity, state, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (identity) DO UPDATE SET
		   state = excluded.state,
		   updated_at = excluded.updated_at`,
		identity,
		string(stateJSON),
		toMillis(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert remote state: %w", err)
	}
	return nil
}

// GetRemoteState returns one identity's session save.
func (s *Store) GetRemoteState(ctx context.Context, identity string) (storage.RemoteState, error) {
	if err := ctx.Err(); err != nil {
		return storage.RemoteState{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RemoteState{}, fmt.Errorf("storage is not configured")
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return storage.RemoteState{}, fmt.Errorf("identity is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT identity, state, updated_at
		   FROM remote_states
		  WHERE identity = ?`,
		identity,
	)

	var remote storage.RemoteState
	var stateJSON string
	var updatedAt int64
	if err := row.Scan(&remote.Identity, &stateJSON, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RemoteState{}, apperrors.Wrap(apperrors.CodeNotFound, "remote state not found", storage.ErrNotFound)
		}
		return storage.RemoteState{}, fmt.Errorf("get remote state: %w", err)
	}
	var doc sessionStateDoc
	if err := json.Unmarshal([]byte(stateJSON), &doc); err != nil {
		return storage.RemoteState{}, fmt.Errorf("decode session state: %w", err)
	}
	remote.State = storage.SessionState{
		Code:        doc.Code,
		GameStarted: doc.GameStarted,
		Seq:         doc.Seq,
		State:       doc.State,
	}
	remote.UpdatedAt = fromMillis(updatedAt)
	remote.State.UpdatedAt = remote.UpdatedAt
	return remote, nil
}

// AppendTelemetryEvent inserts one telemetry record.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	eventName := strings.TrimSpace(evt.EventName)
	if eventName == "" {
		return fmt.Errorf("event name is required")
	}
	timestamp := evt.Timestamp.UTC()
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	attributes := evt.AttributesJSON
	if attributes == nil {
		encoded, err := json.Marshal(evt.Attributes)
		if err != nil {
			return fmt.Errorf("encode telemetry attributes: %w", err)
		}
		attributes = encoded
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO telemetry_events (
		   timestamp, event_name, severity, session_code, identity, attributes
		 ) VALUES (?, ?, ?, ?, ?, ?)`,
		toMillis(timestamp),
		eventName,
		evt.Severity,
		evt.SessionCode,
		evt.Identity,
		string(attributes),
	)
	if err != nil {
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

var _ storage.StateStore = (*Store)(nil)
var _ storage.RemoteStore = (*Store)(nil)
var _ storage.TelemetryStore = (*Store)(nil)
