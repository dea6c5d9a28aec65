// Package telemetry records operational events for audits and debugging.
package telemetry

import (
	"context"
	"time"

	"github.com/louisbranch/omniscript/internal/storage"
)

// Severity describes the telemetry severity level.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Emitter records operational telemetry events. A nil emitter or an emitter
// without a store is a no-op, so callers never guard their emit sites.
type Emitter struct {
	store storage.TelemetryStore
	clock func() time.Time
}

// NewEmitter creates a new telemetry emitter.
func NewEmitter(store storage.TelemetryStore) *Emitter {
	return &Emitter{store: store, clock: time.Now}
}

// WithClock returns a copy of the emitter using the given clock.
func (e *Emitter) WithClock(clock func() time.Time) *Emitter {
	if e == nil {
		return nil
	}
	return &Emitter{store: e.store, clock: clock}
}

// Emit records a telemetry event.
func (e *Emitter) Emit(ctx context.Context, evt storage.TelemetryEvent) error {
	if e == nil || e.store == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		if e.clock == nil {
			evt.Timestamp = time.Now().UTC()
		} else {
			evt.Timestamp = e.clock().UTC()
		}
	}
	return e.store.AppendTelemetryEvent(ctx, evt)
}

// Event is a convenience wrapper building a TelemetryEvent in place.
func (e *Emitter) Event(ctx context.Context, name string, severity Severity, sessionCode, identity string, attrs map[string]any) error {
	return e.Emit(ctx, storage.TelemetryEvent{
		EventName:   name,
		Severity:    string(severity),
		SessionCode: sessionCode,
		Identity:    identity,
		Attributes:  attrs,
	})
}
