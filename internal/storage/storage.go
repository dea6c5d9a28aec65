// Package storage defines persistence contracts for session state.
//
// Two stores back a running client: a local cache holding the single most
// recent session (read at startup, written on every change) and a remote
// store keyed by client identity for authenticated saves. A third contract
// appends operational telemetry records.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/omniscript/internal/world"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// SessionState is a full session snapshot: the canonical world plus the
// replication metadata needed to resume it.
type SessionState struct {
	Code        string
	GameStarted bool
	Seq         uint64
	State       world.State
	UpdatedAt   time.Time
}

// StateStore caches the single most recent session locally.
type StateStore interface {
	SaveSessionState(ctx context.Context, state SessionState) error
	// LoadSessionState returns the cached session, or ErrNotFound when no
	// session has been saved yet.
	LoadSessionState(ctx context.Context) (SessionState, error)
	ClearSessionState(ctx context.Context) error
}

// RemoteState is one identity's saved session on the remote store.
type RemoteState struct {
	Identity  string
	State     SessionState
	UpdatedAt time.Time
}

// RemoteStore persists per-identity session saves. Writes are upserts.
type RemoteStore interface {
	UpsertRemoteState(ctx context.Context, state RemoteState) error
	GetRemoteState(ctx context.Context, identity string) (RemoteState, error)
}

// TelemetryEvent is one operational telemetry record.
type TelemetryEvent struct {
	Timestamp      time.Time
	EventName      string
	Severity       string
	SessionCode    string
	Identity       string
	Attributes     map[string]any
	AttributesJSON []byte
}

// TelemetryStore persists operational telemetry records.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, evt TelemetryEvent) error
}
