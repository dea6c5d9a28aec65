package channel

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/omniscript/internal/presence"
	"github.com/louisbranch/omniscript/internal/random"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 << 20 // full snapshots ride the channel
)

// TokenVerifier authenticates a join token and returns the identity bound to
// it. A nil verifier admits anonymous guests.
type TokenVerifier func(token string) (identity string, err error)

// HubConfig configures the relay hub.
type HubConfig struct {
	// VerifyToken authenticates joins when set; anonymous joins are then
	// rejected.
	VerifyToken TokenVerifier
	// Now is the clock used to stamp join times. Defaults to time.Now.
	Now func() time.Time
}

// Hub fans channel events out to the members of each session code. It holds
// no game logic: authority election, the turn barrier, and state application
// all happen client-side.
type Hub struct {
	mu     sync.Mutex
	cfg    HubConfig
	rooms  map[string]*room
	tracer trace.Tracer
}

type room struct {
	code    string
	members map[string]*hubMember
}

type hubMember struct {
	identity    string
	displayName string
	joinedAt    time.Time
	dead        bool
	sub         *subscriber
}

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// NewHub creates a relay hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Hub{
		cfg:    cfg,
		rooms:  make(map[string]*room),
		tracer: otel.Tracer("omniscript/relay"),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeHTTP upgrades a websocket connection and runs its session membership.
// The session code comes from the "code" query parameter; the first message
// must be a join envelope.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := NormalizeCode(r.URL.Query().Get("code"))
	if len(code) != random.SessionCodeLength {
		http.Error(w, "invalid session code", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: upgrade: %v", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	member, err := h.handshake(code, conn)
	if err != nil {
		log.Printf("relay: join %s: %v", code, err)
		conn.Close()
		return
	}

	h.readLoop(code, member)
}

// NormalizeCode uppercases and trims a session code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (h *Hub) handshake(code string, conn *websocket.Conn) (*hubMember, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read join: %w", err)
	}
	evt, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if evt.Type != EventJoin {
		return nil, fmt.Errorf("%w: expected join, got %s", ErrInvalidEnvelope, evt.Type)
	}

	identity := strings.TrimSpace(evt.Join.Identity)
	if h.cfg.VerifyToken != nil {
		verified, err := h.cfg.VerifyToken(evt.Join.Token)
		if err != nil {
			return nil, fmt.Errorf("verify token: %w", err)
		}
		identity = verified
	}
	if identity == "" {
		return nil, fmt.Errorf("%w: join requires an identity", ErrInvalidEnvelope)
	}

	member := &hubMember{
		identity:    identity,
		displayName: evt.Join.DisplayName,
		joinedAt:    h.cfg.Now().UTC(),
		dead:        evt.Join.Dead,
		sub:         &subscriber{conn: conn},
	}

	h.mu.Lock()
	rm, ok := h.rooms[code]
	if !ok {
		rm = &room{code: code, members: make(map[string]*hubMember)}
		h.rooms[code] = rm
	}
	if existing, ok := rm.members[identity]; ok {
		// Reconnect: drop the stale connection but keep the original join
		// time so authority does not churn on a flapping link.
		existing.sub.conn.Close()
		member.joinedAt = existing.joinedAt
	}
	rm.members[identity] = member
	h.mu.Unlock()

	h.broadcastPresence(code)
	return member, nil
}

func (h *Hub) readLoop(code string, member *hubMember) {
	defer h.disconnect(code, member)

	for {
		_, data, err := member.sub.conn.ReadMessage()
		if err != nil {
			return
		}
		evt, err := Decode(data)
		if err != nil {
			log.Printf("relay: %s from %s: %v", code, member.identity, err)
			continue
		}

		switch evt.Type {
		case EventAction, EventStateSnapshot:
			h.fanOut(code, member.identity, data, string(evt.Type))
		case EventKick:
			if !h.isAuthority(code, member.identity) {
				log.Printf("relay: %s: kick from non-authority %s dropped", code, member.identity)
				continue
			}
			h.fanOut(code, member.identity, data, string(evt.Type))
		case EventPresenceUpdate:
			h.mu.Lock()
			member.dead = evt.Update.Dead
			h.mu.Unlock()
			h.broadcastPresence(code)
		default:
			log.Printf("relay: %s: unexpected %s from %s", code, evt.Type, member.identity)
		}
	}
}

func (h *Hub) disconnect(code string, member *hubMember) {
	h.mu.Lock()
	rm, ok := h.rooms[code]
	if ok {
		if current, exists := rm.members[member.identity]; exists && current == member {
			delete(rm.members, member.identity)
		}
		if len(rm.members) == 0 {
			delete(h.rooms, code)
			ok = false
		}
	}
	h.mu.Unlock()

	member.sub.conn.Close()
	if ok {
		h.broadcastPresence(code)
	}
}

// fanOut relays raw bytes to every member of the room except the sender,
// mirroring a pub/sub channel that does not echo.
func (h *Hub) fanOut(code, sender string, data []byte, eventType string) {
	_, span := h.tracer.Start(context.Background(), "relay.fan_out", trace.WithAttributes(
		attribute.String("session.code", code),
		attribute.String("event.type", eventType),
	))
	defer span.End()

	for identity, sub := range h.subscribersSnapshot(code) {
		if identity == sender {
			continue
		}
		if err := sub.write(data); err != nil {
			log.Printf("relay: %s: write to %s: %v", code, identity, err)
		}
	}
}

// broadcastPresence sends the membership sync, sender included: everyone
// needs the same total order to elect the same authority.
func (h *Hub) broadcastPresence(code string) {
	h.mu.Lock()
	rm, ok := h.rooms[code]
	if !ok {
		h.mu.Unlock()
		return
	}
	records := make([]presence.Record, 0, len(rm.members))
	for _, member := range rm.members {
		records = append(records, presence.Record{
			Identity:    member.identity,
			DisplayName: member.displayName,
			JoinedAt:    member.joinedAt,
			Dead:        member.dead,
		})
	}
	h.mu.Unlock()

	data, err := Encode(Event{Type: EventPresence, Presence: &PresencePayload{Records: records}})
	if err != nil {
		log.Printf("relay: %s: encode presence: %v", code, err)
		return
	}
	for identity, sub := range h.subscribersSnapshot(code) {
		if err := sub.write(data); err != nil {
			log.Printf("relay: %s: presence to %s: %v", code, identity, err)
		}
	}
}

func (h *Hub) subscribersSnapshot(code string) map[string]*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[code]
	if !ok {
		return nil
	}
	subs := make(map[string]*subscriber, len(rm.members))
	for identity, member := range rm.members {
		subs[identity] = member.sub
	}
	return subs
}

// isAuthority reports whether the identity is the earliest joiner of the
// room, the same election the clients run.
func (h *Hub) isAuthority(code, identity string) bool {
	h.mu.Lock()
	rm, ok := h.rooms[code]
	if !ok {
		h.mu.Unlock()
		return false
	}
	records := make([]presence.Record, 0, len(rm.members))
	for _, member := range rm.members {
		records = append(records, presence.Record{
			Identity: member.identity,
			JoinedAt: member.joinedAt,
			Dead:     member.dead,
		})
	}
	h.mu.Unlock()

	authority, ok := presence.Authority(presence.Reduce(records))
	return ok && authority.Identity == identity
}

// MemberCount reports the live membership of a session code.
func (h *Hub) MemberCount(code string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[NormalizeCode(code)]
	if !ok {
		return 0
	}
	return len(rm.members)
}
