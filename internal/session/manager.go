// Package session coordinates one client's membership in a shared world.
//
// The manager owns the canonical local state, the presence view, and the
// turn coordinator, and drives them from a single event loop fed by the
// relay channel. Authority is positional: the earliest-joined live member
// runs the engine and broadcasts snapshots; everyone else forwards actions
// and overwrites local state from inbound snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/omniscript/internal/channel"
	"github.com/louisbranch/omniscript/internal/engine"
	apperrors "github.com/louisbranch/omniscript/internal/platform/errors"
	"github.com/louisbranch/omniscript/internal/platform/id"
	"github.com/louisbranch/omniscript/internal/presence"
	"github.com/louisbranch/omniscript/internal/random"
	"github.com/louisbranch/omniscript/internal/storage"
	"github.com/louisbranch/omniscript/internal/telemetry"
	"github.com/louisbranch/omniscript/internal/turn"
	"github.com/louisbranch/omniscript/internal/world"
)

// Config wires a session manager. Identity and DisplayName are required;
// everything else has a working default or is optional.
type Config struct {
	RelayURL    string
	Identity    string
	DisplayName string
	// Token is the optional signed identity token sent with the join
	// handshake. Its presence also marks the session as authenticated for
	// remote persistence.
	Token string

	Engine    engine.Engine
	Cache     storage.StateStore
	Remote    storage.RemoteStore
	Telemetry *telemetry.Emitter
	Logger    *log.Logger

	Now     func() time.Time
	NewID   func() (string, error)
	NewCode func() (string, error)

	// OnChange runs after every observable state change, outside the
	// manager lock. UI layers hang their refresh off it.
	OnChange func()
}

// engineResult carries an engine round trip back into the event loop.
type engineResult struct {
	delta world.TurnDelta
	err   error
}

// Manager is one client's session: local world, presence, turn barrier,
// replication, and persistence.
type Manager struct {
	cfg Config

	mu          sync.Mutex
	client      *channel.Client
	code        string
	connected   bool
	state       world.State
	gameStarted bool
	deadSignal  bool
	rep         Replicator
	tracker     presence.Tracker
	coord       *turn.Coordinator

	engineResults chan engineResult
	loopDone      chan struct{}
}

// New builds a disconnected manager and restores the cached session when one
// exists.
func New(cfg Config) (*Manager, error) {
	if strings.TrimSpace(cfg.Identity) == "" {
		return nil, fmt.Errorf("identity is required")
	}
	if strings.TrimSpace(cfg.DisplayName) == "" {
		return nil, fmt.Errorf("display name is required")
	}
	if strings.TrimSpace(cfg.RelayURL) == "" {
		return nil, fmt.Errorf("relay url is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = id.NewID
	}
	if cfg.NewCode == nil {
		cfg.NewCode = random.NewSessionCode
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	m := &Manager{
		cfg:   cfg,
		state: world.NewState(),
		coord: turn.NewCoordinator(),
	}
	m.restore()
	return m, nil
}

// restore loads the cached session, if any. Cache failures are logged and
// the manager starts from a fresh world.
func (m *Manager) restore() {
	if m.cfg.Cache == nil {
		return
	}
	cached, err := m.cfg.Cache.LoadSessionState(context.Background())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.cfg.Logger.Printf("session: restore cache: %v", err)
		}
		return
	}
	m.state = cached.State
	m.gameStarted = cached.GameStarted
	m.code = cached.Code
	m.rep.Resume(cached.Seq)
	if m.gameStarted {
		m.coord.Resume()
	}
}

// Create mints a session code and connects to the relay as its first member.
// The local world carries over, so a host can share an existing game; the
// snapshot sequence starts fresh for the new session.
func (m *Manager) Create(ctx context.Context) (string, error) {
	code, err := m.cfg.NewCode()
	if err != nil {
		return "", fmt.Errorf("mint session code: %w", err)
	}
	m.mu.Lock()
	if !m.connected && m.code != code {
		m.rep.Resume(0)
	}
	m.mu.Unlock()
	if err := m.connect(ctx, code); err != nil {
		return "", err
	}
	return code, nil
}

// Join connects to an existing session. The code is case-insensitive. A
// cached world belongs to its own session, so joining a different code
// discards it along with the snapshot sequence.
func (m *Manager) Join(ctx context.Context, code string) error {
	code = channel.NormalizeCode(code)
	if len(code) != random.SessionCodeLength {
		return apperrors.New(apperrors.CodeSessionCodeInvalid, fmt.Sprintf("session code must be %d characters", random.SessionCodeLength))
	}
	m.mu.Lock()
	if !m.connected && m.code != "" && m.code != code {
		m.discardSessionLocked()
	}
	m.mu.Unlock()
	return m.connect(ctx, code)
}

// discardSessionLocked drops the local world, flags, and snapshot sequence.
func (m *Manager) discardSessionLocked() {
	m.state = world.Reset()
	m.gameStarted = false
	m.deadSignal = false
	m.code = ""
	m.rep.Resume(0)
	m.coord.Clear()
}

func (m *Manager) connect(ctx context.Context, code string) error {
	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		return fmt.Errorf("already connected to session %s", m.code)
	}
	join := channel.JoinPayload{
		Identity:    m.cfg.Identity,
		DisplayName: m.cfg.DisplayName,
		Token:       m.cfg.Token,
		Dead:        world.IsPlayerDead(m.state, m.cfg.DisplayName),
	}
	m.mu.Unlock()

	client, err := channel.Dial(ctx, m.cfg.RelayURL, code, join)
	if err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}

	m.mu.Lock()
	m.client = client
	m.code = code
	m.connected = true
	if m.gameStarted {
		m.coord.Resume()
	}
	m.engineResults = make(chan engineResult, 1)
	m.loopDone = make(chan struct{})
	m.mu.Unlock()

	go m.run(client.Events(), m.engineResults, m.loopDone)

	m.emit("session.connected", telemetry.SeverityInfo, nil)
	return nil
}

// run is the session event loop. It is the only goroutine that mutates
// session state while connected; engine round trips resolve through the
// results channel rather than blocking it.
func (m *Manager) run(events <-chan channel.Event, results <-chan engineResult, done <-chan struct{}) {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				m.handleDisconnect()
				return
			}
			m.handleEvent(evt)
		case res := <-results:
			m.handleEngineResult(res)
		case <-done:
			return
		}
	}
}

func (m *Manager) handleEvent(evt channel.Event) {
	m.mu.Lock()
	changed := false
	switch evt.Type {
	case channel.EventAction:
		changed = m.handleActionLocked(turn.Action{
			Submitter:   evt.Action.Submitter,
			Text:        evt.Action.Text,
			SubmittedAt: evt.Action.Timestamp,
		})
	case channel.EventStateSnapshot:
		changed = m.handleSnapshotLocked(*evt.Snapshot)
	case channel.EventKick:
		if evt.Kick.Target == m.cfg.Identity {
			m.cfg.Logger.Printf("session %s: kicked by authority", m.code)
			m.leaveLocked()
			changed = true
		}
	case channel.EventPresence:
		m.tracker.Sync(evt.Presence.Records)
		// Late joiners catch up from the next broadcast, so the authority
		// rebroadcasts on every membership change.
		if m.tracker.IsAuthority(m.cfg.Identity) && m.gameStarted {
			m.broadcastLocked()
		}
		// A departing or dying member can complete the barrier.
		m.tryFireLocked()
		changed = true
	}
	m.mu.Unlock()
	if changed {
		m.notify()
	}
}

// handleActionLocked folds a remote submission into the barrier. Only the
// authority holds a pending set; everyone else ignores foreign actions.
func (m *Manager) handleActionLocked(action turn.Action) bool {
	if !m.tracker.IsAuthority(m.cfg.Identity) {
		return false
	}
	changed := m.coord.Submit(action)
	m.tryFireLocked()
	return changed
}

// handleSnapshotLocked overwrites local state from an authority broadcast,
// unless the snapshot is stale.
func (m *Manager) handleSnapshotLocked(snap channel.SnapshotPayload) bool {
	if m.tracker.IsAuthority(m.cfg.Identity) {
		return false
	}
	if !m.rep.Accept(snap.Seq) {
		m.cfg.Logger.Printf("session %s: dropped stale snapshot seq %d (have %d)", m.code, snap.Seq, m.rep.Seq())
		return false
	}
	m.state = snap.State
	m.gameStarted = snap.GameStarted
	if m.gameStarted && m.coord.Phase() == turn.PhaseAwaitingFirstAction {
		m.coord.Resume()
	}
	m.persistLocked()
	m.signalDeathLocked()
	return true
}

// SubmitAction submits the local player's action for the pending turn.
// Dead players are rejected synchronously with an error entry in the log.
func (m *Manager) SubmitAction(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return apperrors.New(apperrors.CodeSessionNotConnected, "not connected to a session")
	}
	if text == "" {
		m.mu.Unlock()
		return apperrors.New(apperrors.CodeTurnEmptyAction, "action text is required")
	}
	if world.IsPlayerDead(m.state, m.cfg.DisplayName) {
		state, err := world.AppendError(m.state, fmt.Sprintf("SIGNAL LOST: %s is dead and cannot act.", m.cfg.DisplayName), m.cfg.Now, m.cfg.NewID)
		if err == nil {
			m.state = state
		}
		m.mu.Unlock()
		m.notify()
		return apperrors.New(apperrors.CodeTurnSubmitterDead, "dead players cannot submit actions")
	}

	state, err := world.AppendInput(m.state, text, m.cfg.Now, m.cfg.NewID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = state

	action := turn.Action{Submitter: m.cfg.Identity, Text: text, SubmittedAt: m.cfg.Now().UTC()}
	client := m.client
	m.handleActionLocked(action)
	m.mu.Unlock()

	err = client.Send(channel.Event{
		Type: channel.EventAction,
		Action: &channel.ActionPayload{
			Submitter: action.Submitter,
			Text:      action.Text,
			Timestamp: action.SubmittedAt,
		},
	})
	m.notify()
	if err != nil {
		return fmt.Errorf("send action: %w", err)
	}
	return nil
}

// ForceTurn is the authority override that executes whatever subset of
// actions has arrived.
func (m *Manager) ForceTurn() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return apperrors.New(apperrors.CodeSessionNotConnected, "not connected to a session")
	}
	if !m.tracker.IsAuthority(m.cfg.Identity) {
		m.mu.Unlock()
		return apperrors.New(apperrors.CodeSessionNotAuthority, "only the authority can force a turn")
	}
	if m.coord.Phase() == turn.PhaseExecuting {
		m.mu.Unlock()
		return apperrors.New(apperrors.CodeTurnAlreadyExecuting, "a turn is already executing")
	}
	if len(m.coord.Pending()) == 0 {
		m.mu.Unlock()
		return apperrors.New(apperrors.CodeTurnNothingPending, "no pending actions to force")
	}
	batch, ok := m.coord.Force()
	if !ok {
		m.mu.Unlock()
		return apperrors.New(apperrors.CodeTurnNothingPending, "no pending actions to force")
	}
	m.executeLocked(batch, !m.gameStarted)
	m.mu.Unlock()
	m.notify()
	return nil
}

// Kick evicts another member. Only the authority may kick; the relay
// enforces the same rule server-side.
func (m *Manager) Kick(identity string) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return apperrors.New(apperrors.CodeSessionNotConnected, "not connected to a session")
	}
	if !m.tracker.IsAuthority(m.cfg.Identity) {
		m.mu.Unlock()
		return apperrors.New(apperrors.CodeSessionNotAuthority, "only the authority can kick")
	}
	client := m.client
	m.mu.Unlock()

	return client.Send(channel.Event{
		Type: channel.EventKick,
		Kick: &channel.KickPayload{Target: identity},
	})
}

// Leave disconnects from the session. The world state survives locally; an
// in-flight engine call keeps running but its result is no longer applied.
func (m *Manager) Leave() {
	m.mu.Lock()
	m.leaveLocked()
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) leaveLocked() {
	if !m.connected {
		return
	}
	close(m.loopDone)
	_ = m.client.Close()
	m.client = nil
	m.connected = false
	m.tracker.Clear()
	m.coord.Clear()
	if m.gameStarted {
		m.coord.Resume()
	}
	m.persistLocked()
	m.emitLocked("session.left", telemetry.SeverityInfo, nil)
}

// handleDisconnect runs when the relay drops the connection underneath us.
func (m *Manager) handleDisconnect() {
	m.mu.Lock()
	if m.connected {
		m.cfg.Logger.Printf("session %s: connection lost", m.code)
		m.client = nil
		m.connected = false
		m.tracker.Clear()
		m.coord.Clear()
		if m.gameStarted {
			m.coord.Resume()
		}
		m.persistLocked()
	}
	m.mu.Unlock()
	m.notify()
}

// tryFireLocked checks the barrier and dispatches the engine when it trips.
func (m *Manager) tryFireLocked() {
	member, ok := m.tracker.Authority()
	if !ok || member.Identity != m.cfg.Identity {
		return
	}
	first := !m.gameStarted
	batch, fired := m.coord.TryFire(m.cfg.Identity, presence.ActiveIdentities(m.tracker.Members()))
	if !fired {
		return
	}
	m.executeLocked(batch, first)
}

// executeLocked dispatches the engine round trip for a fired batch. The call
// runs outside the lock and resolves through the results channel.
func (m *Manager) executeLocked(batch []turn.Action, firstTurn bool) {
	input := turn.CompositeInput(batch, m.cfg.Identity, firstTurn, m.resolveNameLocked)
	state := m.state.Clone()
	results := m.engineResults
	eng := m.cfg.Engine

	m.emitLocked("turn.dispatched", telemetry.SeverityInfo, map[string]any{
		"actions": len(batch), "first_turn": firstTurn,
	})

	go func() {
		if eng == nil {
			results <- engineResult{err: fmt.Errorf("engine is not configured")}
			return
		}
		delta, err := eng.Turn(context.Background(), engine.TurnInput{Input: input, State: state})
		results <- engineResult{delta: delta, err: err}
	}()
}

// handleEngineResult applies a finished turn: delta on success, an error
// entry on failure. Either way the barrier reopens and the result is
// broadcast and persisted.
func (m *Manager) handleEngineResult(res engineResult) {
	m.mu.Lock()
	m.coord.Finish()

	if res.err != nil {
		m.cfg.Logger.Printf("session %s: turn failed: %v", m.code, res.err)
		state, err := world.AppendError(m.state, fmt.Sprintf("ENGINE FAILURE: %v", res.err), m.cfg.Now, m.cfg.NewID)
		if err == nil {
			m.state = state
		}
		m.emitLocked("turn.failed", telemetry.SeverityError, map[string]any{"error": res.err.Error()})
	} else {
		state, err := world.Apply(m.state, res.delta, m.cfg.Now, m.cfg.NewID)
		if err != nil {
			m.cfg.Logger.Printf("session %s: apply delta: %v", m.code, err)
			state, appendErr := world.AppendError(m.state, fmt.Sprintf("ENGINE FAILURE: %v", err), m.cfg.Now, m.cfg.NewID)
			if appendErr == nil {
				m.state = state
			}
			m.emitLocked("turn.rejected", telemetry.SeverityError, map[string]any{"error": err.Error()})
		} else {
			m.state = state
			m.gameStarted = true
			m.expireDeadLocked()
			m.emitLocked("turn.completed", telemetry.SeverityInfo, map[string]any{"world_time": m.state.WorldTime})
		}
	}

	m.broadcastLocked()
	m.persistLocked()
	m.signalDeathLocked()
	// Actions buffered during execution may already satisfy the barrier.
	m.tryFireLocked()
	m.mu.Unlock()
	m.notify()
}

// expireDeadLocked purges the sheets of members whose files carry a death
// marker. The purge itself is idempotent.
func (m *Manager) expireDeadLocked() {
	for _, member := range m.tracker.Members() {
		state, expired, err := world.ExpirePlayer(m.state, member.DisplayName, m.cfg.Now, m.cfg.NewID)
		if err != nil {
			m.cfg.Logger.Printf("session %s: expire %s: %v", m.code, member.DisplayName, err)
			continue
		}
		if expired {
			m.state = state
		}
	}
}

// signalDeathLocked announces the local player's death over presence, once.
func (m *Manager) signalDeathLocked() {
	if m.deadSignal || m.client == nil {
		return
	}
	if !world.IsPlayerDead(m.state, m.cfg.DisplayName) {
		return
	}
	m.deadSignal = true
	client := m.client
	go func() {
		_ = client.Send(channel.Event{
			Type:   channel.EventPresenceUpdate,
			Update: &channel.PresenceUpdatePayload{Dead: true},
		})
	}()
}

// broadcastLocked publishes the canonical state to every other member.
func (m *Manager) broadcastLocked() {
	if m.client == nil {
		return
	}
	client := m.client
	snap := channel.SnapshotPayload{
		Seq:         m.rep.Next(),
		GameStarted: m.gameStarted,
		State:       m.state.Clone(),
	}
	go func() {
		if err := client.Send(channel.Event{Type: channel.EventStateSnapshot, Snapshot: &snap}); err != nil {
			log.Printf("session: broadcast snapshot: %v", err)
		}
	}()
}

// persistLocked dual-writes the session: local cache always, remote store
// when authenticated. Both are best effort.
func (m *Manager) persistLocked() {
	if m.code == "" {
		return
	}
	snapshot := storage.SessionState{
		Code:        m.code,
		GameStarted: m.gameStarted,
		Seq:         m.rep.Seq(),
		State:       m.state.Clone(),
		UpdatedAt:   m.cfg.Now().UTC(),
	}
	if m.cfg.Cache != nil {
		if err := m.cfg.Cache.SaveSessionState(context.Background(), snapshot); err != nil {
			m.cfg.Logger.Printf("session %s: cache save: %v", m.code, err)
		}
	}
	if m.cfg.Remote != nil && m.cfg.Token != "" {
		remote := storage.RemoteState{Identity: m.cfg.Identity, State: snapshot, UpdatedAt: snapshot.UpdatedAt}
		if err := m.cfg.Remote.UpsertRemoteState(context.Background(), remote); err != nil {
			m.cfg.Logger.Printf("session %s: remote save: %v", m.code, err)
		}
	}
}

func (m *Manager) resolveNameLocked(identity string) string {
	if member, ok := m.tracker.Member(identity); ok {
		return member.DisplayName
	}
	return identity
}

// SetOnChange installs the change hook after construction, for callers that
// need the manager in scope to build it. Call before connecting.
func (m *Manager) SetOnChange(fn func()) {
	m.mu.Lock()
	m.cfg.OnChange = fn
	m.mu.Unlock()
}

func (m *Manager) notify() {
	m.mu.Lock()
	fn := m.cfg.OnChange
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *Manager) emit(name string, severity telemetry.Severity, attrs map[string]any) {
	m.mu.Lock()
	m.emitLocked(name, severity, attrs)
	m.mu.Unlock()
}

func (m *Manager) emitLocked(name string, severity telemetry.Severity, attrs map[string]any) {
	if err := m.cfg.Telemetry.Event(context.Background(), name, severity, m.code, m.cfg.Identity, attrs); err != nil {
		m.cfg.Logger.Printf("session %s: telemetry: %v", m.code, err)
	}
}

// Snapshot is the read model handed to presentation layers.
type Snapshot struct {
	Code        string
	Connected   bool
	GameStarted bool
	Seq         uint64
	Authority   string
	Phase       turn.Phase
	Members     []presence.Member
	State       world.State
}

// Snapshot returns a consistent copy of the session for rendering.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		Code:        m.code,
		Connected:   m.connected,
		GameStarted: m.gameStarted,
		Seq:         m.rep.Seq(),
		Phase:       m.coord.Phase(),
		Members:     m.tracker.Members(),
		State:       m.state.Clone(),
	}
	if member, ok := m.tracker.Authority(); ok {
		snap.Authority = member.Identity
	}
	return snap
}

// IsAuthority reports whether the local client currently holds authority.
func (m *Manager) IsAuthority() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.IsAuthority(m.cfg.Identity)
}

// Reset discards the world and reseeds the guide file. Allowed only while
// disconnected.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return fmt.Errorf("cannot reset while connected to session %s", m.code)
	}
	m.discardSessionLocked()
	if m.cfg.Cache != nil {
		if err := m.cfg.Cache.ClearSessionState(context.Background()); err != nil {
			m.cfg.Logger.Printf("session: clear cache: %v", err)
		}
	}
	return nil
}
