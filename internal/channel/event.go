package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/omniscript/internal/platform/errors"
	"github.com/louisbranch/omniscript/internal/presence"
	"github.com/louisbranch/omniscript/internal/world"
)

// EventType tags a channel envelope. Every tag carries a fixed payload
// schema, validated at the boundary before any component sees the event.
type EventType string

const (
	// EventJoin is the client handshake sent once after connecting.
	EventJoin EventType = "join"
	// EventPresenceUpdate refreshes the sender's own presence facts.
	EventPresenceUpdate EventType = "presence_update"
	// EventAction carries one player's turn submission.
	EventAction EventType = "action"
	// EventStateSnapshot carries the authority's full canonical state.
	EventStateSnapshot EventType = "state_snapshot"
	// EventKick is the authority's targeted eviction signal.
	EventKick EventType = "kick"
	// EventPresence is the relay's membership sync.
	EventPresence EventType = "presence"
)

var (
	// ErrInvalidEnvelope indicates a message that failed schema validation.
	ErrInvalidEnvelope = errors.New("invalid channel envelope")
	// ErrUnknownEvent indicates an envelope with an unrecognized tag.
	ErrUnknownEvent = errors.New("unknown channel event")
)

type envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// JoinPayload is the connect handshake. Token is optional; relays configured
// with a signing key require it and take the identity from its claims.
type JoinPayload struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	Token       string `json:"token,omitempty"`
	Dead        bool   `json:"isDead"`
}

// PresenceUpdatePayload refreshes the liveness facts of the sender.
type PresenceUpdatePayload struct {
	Dead bool `json:"isDead"`
}

// ActionPayload is one player's turn submission.
type ActionPayload struct {
	Submitter string    `json:"submitterIdentity"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SnapshotPayload is the authority's full-state broadcast. Seq increases
// monotonically per turn so receivers can drop stale or reordered snapshots.
type SnapshotPayload struct {
	Seq         uint64      `json:"seq"`
	GameStarted bool        `json:"gameStarted"`
	State       world.State `json:"state"`
}

// KickPayload names the identity being evicted.
type KickPayload struct {
	Target string `json:"targetIdentity"`
}

// PresencePayload is the relay's membership sync: the raw presence records
// for every live connection in the session.
type PresencePayload struct {
	Records []presence.Record `json:"records"`
}

// Event is a decoded, validated channel message. Exactly one payload field is
// non-nil, matching Type.
type Event struct {
	Type     EventType
	Join     *JoinPayload
	Update   *PresenceUpdatePayload
	Action   *ActionPayload
	Snapshot *SnapshotPayload
	Kick     *KickPayload
	Presence *PresencePayload
}

// Encode marshals an event into its wire envelope.
func Encode(evt Event) ([]byte, error) {
	var payload any
	switch evt.Type {
	case EventJoin:
		payload = evt.Join
	case EventPresenceUpdate:
		payload = evt.Update
	case EventAction:
		payload = evt.Action
	case EventStateSnapshot:
		payload = evt.Snapshot
	case EventKick:
		payload = evt.Kick
	case EventPresence:
		payload = evt.Presence
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, evt.Type)
	}
	if payload == nil || isNilPointer(payload) {
		return nil, fmt.Errorf("%w: %s payload is required", ErrInvalidEnvelope, evt.Type)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", evt.Type, err)
	}
	return json.Marshal(envelope{Type: evt.Type, Payload: raw})
}

func isNilPointer(v any) bool {
	switch p := v.(type) {
	case *JoinPayload:
		return p == nil
	case *PresenceUpdatePayload:
		return p == nil
	case *ActionPayload:
		return p == nil
	case *SnapshotPayload:
		return p == nil
	case *KickPayload:
		return p == nil
	case *PresencePayload:
		return p == nil
	}
	return false
}

// Decode parses and validates a wire message. Unknown tags and payloads that
// miss required fields are rejected here so nothing above the channel layer
// ever sees a half-formed event.
func Decode(data []byte) (Event, error) {
	evt, err := decodeEvent(data)
	if err != nil {
		return Event{}, mapEnvelopeError(err)
	}
	return evt, nil
}

// mapEnvelopeError translates wire validation errors to domain errors.
func mapEnvelopeError(err error) error {
	if errors.Is(err, ErrUnknownEvent) {
		return apperrors.Wrap(apperrors.CodeChannelUnknownEvent, err.Error(), err)
	}
	return apperrors.Wrap(apperrors.CodeChannelEnvelopeInvalid, err.Error(), err)
}

func decodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	switch env.Type {
	case EventJoin:
		var payload JoinPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return Event{}, fmt.Errorf("%w: join: %v", ErrInvalidEnvelope, err)
		}
		if strings.TrimSpace(payload.DisplayName) == "" {
			return Event{}, fmt.Errorf("%w: join requires a display name", ErrInvalidEnvelope)
		}
		return Event{Type: EventJoin, Join: &payload}, nil
	case EventPresenceUpdate:
		var payload PresenceUpdatePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return Event{}, fmt.Errorf("%w: presence update: %v", ErrInvalidEnvelope, err)
		}
		return Event{Type: EventPresenceUpdate, Update: &payload}, nil
	case EventAction:
		var payload ActionPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return Event{}, fmt.Errorf("%w: action: %v", ErrInvalidEnvelope, err)
		}
		if strings.TrimSpace(payload.Submitter) == "" {
			return Event{}, fmt.Errorf("%w: action requires a submitter", ErrInvalidEnvelope)
		}
		if strings.TrimSpace(payload.Text) == "" {
			return Event{}, fmt.Errorf("%w: action requires text", ErrInvalidEnvelope)
		}
		return Event{Type: EventAction, Action: &payload}, nil
	case EventStateSnapshot:
		var payload SnapshotPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return Event{}, fmt.Errorf("%w: snapshot: %v", ErrInvalidEnvelope, err)
		}
		if payload.State.Files == nil {
			return Event{}, fmt.Errorf("%w: snapshot requires world files", ErrInvalidEnvelope)
		}
		return Event{Type: EventStateSnapshot, Snapshot: &payload}, nil
	case EventKick:
		var payload KickPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return Event{}, fmt.Errorf("%w: kick: %v", ErrInvalidEnvelope, err)
		}
		if strings.TrimSpace(payload.Target) == "" {
			return Event{}, fmt.Errorf("%w: kick requires a target", ErrInvalidEnvelope)
		}
		return Event{Type: EventKick, Kick: &payload}, nil
	case EventPresence:
		var payload PresencePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return Event{}, fmt.Errorf("%w: presence: %v", ErrInvalidEnvelope, err)
		}
		for i, record := range payload.Records {
			if strings.TrimSpace(record.Identity) == "" {
				return Event{}, fmt.Errorf("%w: presence record %d has no identity", ErrInvalidEnvelope, i)
			}
		}
		return Event{Type: EventPresence, Presence: &payload}, nil
	}
	return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
}
