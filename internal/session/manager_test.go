package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/omniscript/internal/channel"
	"github.com/louisbranch/omniscript/internal/engine"
	apperrors "github.com/louisbranch/omniscript/internal/platform/errors"
	"github.com/louisbranch/omniscript/internal/storage"
	"github.com/louisbranch/omniscript/internal/world"
)

func startRelay(t *testing.T) string {
	t.Helper()
	var mu sync.Mutex
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at = at.Add(time.Second)
		return at
	}
	server := httptest.NewServer(channel.NewHub(channel.HubConfig{Now: clock}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

type stubEngine struct {
	mu     sync.Mutex
	inputs []string
	delta  world.TurnDelta
	err    error
}

func (s *stubEngine) Turn(ctx context.Context, input engine.TurnInput) (world.TurnDelta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, input.Input)
	return s.delta, s.err
}

func (s *stubEngine) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inputs...)
}

type memoryCache struct {
	mu    sync.Mutex
	state storage.SessionState
	saved bool
}

func (c *memoryCache) SaveSessionState(ctx context.Context, state storage.SessionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.saved = true
	return nil
}

func (c *memoryCache) LoadSessionState(ctx context.Context) (storage.SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.saved {
		return storage.SessionState{}, storage.ErrNotFound
	}
	return c.state, nil
}

func (c *memoryCache) ClearSessionState(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = false
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(t *testing.T, relayURL, identity, name string, eng engine.Engine) *Manager {
	t.Helper()
	m, err := New(Config{
		RelayURL:    relayURL,
		Identity:    identity,
		DisplayName: name,
		Engine:      eng,
		NewCode:     func() (string, error) { return "ABC234", nil },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(m.Leave)
	return m
}

func TestCreateRunsFirstTurn(t *testing.T) {
	relayURL := startRelay(t)
	eng := &stubEngine{delta: world.TurnDelta{Narrative: "A world takes shape.", TimeDelta: 10}}
	host := newTestManager(t, relayURL, "id-host", "Host", eng)

	code, err := host.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if code != "ABC234" {
		t.Fatalf("Create() code = %q, want %q", code, "ABC234")
	}
	waitFor(t, "host authority", host.IsAuthority)

	if err := host.SubmitAction(context.Background(), "a ruined train station"); err != nil {
		t.Fatalf("SubmitAction() error = %v", err)
	}
	waitFor(t, "first turn", func() bool { return host.Snapshot().GameStarted })

	calls := eng.calls()
	if len(calls) != 1 {
		t.Fatalf("engine calls = %d, want 1", len(calls))
	}
	if want := "[SYSTEM: HOST INITIALIZATION] a ruined train station"; calls[0] != want {
		t.Errorf("engine input = %q, want %q", calls[0], want)
	}

	snap := host.Snapshot()
	if snap.State.WorldTime != 10 {
		t.Errorf("WorldTime = %d, want 10", snap.State.WorldTime)
	}
	if snap.Seq != 1 {
		t.Errorf("Seq = %d, want 1", snap.Seq)
	}
	var sawNarrative bool
	for _, entry := range snap.State.History {
		if entry.Kind == world.LogNarrative && entry.Text == "A world takes shape." {
			sawNarrative = true
		}
	}
	if !sawNarrative {
		t.Error("history missing narrative entry")
	}
}

func TestBarrierWaitsForEveryMember(t *testing.T) {
	relayURL := startRelay(t)
	eng := &stubEngine{delta: world.TurnDelta{Narrative: "Something stirs.", TimeDelta: 5}}
	host := newTestManager(t, relayURL, "id-host", "Host", eng)

	if _, err := host.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	waitFor(t, "host authority", host.IsAuthority)
	if err := host.SubmitAction(context.Background(), "begin"); err != nil {
		t.Fatalf("SubmitAction() error = %v", err)
	}
	waitFor(t, "first turn", func() bool { return host.Snapshot().GameStarted })

	guest := newTestManager(t, relayURL, "id-guest", "Guest", nil)
	if err := guest.Join(context.Background(), "abc234"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	waitFor(t, "host sees guest", func() bool { return len(host.Snapshot().Members) == 2 })

	if err := host.SubmitAction(context.Background(), "open the door"); err != nil {
		t.Fatalf("host SubmitAction() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := len(eng.calls()); got != 1 {
		t.Fatalf("engine calls before barrier complete = %d, want 1", got)
	}

	if err := guest.SubmitAction(context.Background(), "follow quietly"); err != nil {
		t.Fatalf("guest SubmitAction() error = %v", err)
	}
	waitFor(t, "second turn", func() bool { return len(eng.calls()) == 2 })

	input := eng.calls()[1]
	if !strings.HasPrefix(input, "[MULTIPLAYER TURN]") {
		t.Errorf("composite input = %q, want multiplayer header", input)
	}
	if !strings.Contains(input, "Player Host (Host) action: open the door") {
		t.Errorf("composite input missing host line: %q", input)
	}
	if !strings.Contains(input, "Player Guest (Player) action: follow quietly") {
		t.Errorf("composite input missing guest line: %q", input)
	}

	waitFor(t, "guest snapshot", func() bool {
		return guest.Snapshot().State.WorldTime == host.Snapshot().State.WorldTime
	})
	if guest.IsAuthority() {
		t.Error("guest reports authority, want follower")
	}
}

func TestForceTurnExecutesPartialBatch(t *testing.T) {
	relayURL := startRelay(t)
	eng := &stubEngine{delta: world.TurnDelta{Narrative: "ok", TimeDelta: 1}}
	host := newTestManager(t, relayURL, "id-host", "Host", eng)

	if _, err := host.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	waitFor(t, "host authority", host.IsAuthority)
	if err := host.SubmitAction(context.Background(), "begin"); err != nil {
		t.Fatalf("SubmitAction() error = %v", err)
	}
	waitFor(t, "first turn", func() bool { return host.Snapshot().GameStarted })

	guest := newTestManager(t, relayURL, "id-guest", "Guest", nil)
	if err := guest.Join(context.Background(), "ABC234"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	waitFor(t, "host sees guest", func() bool { return len(host.Snapshot().Members) == 2 })

	if err := host.ForceTurn(); !errors.Is(err, apperrors.New(apperrors.CodeTurnNothingPending, "")) {
		t.Fatalf("ForceTurn() with empty pending error = %v, want code %s", err, apperrors.CodeTurnNothingPending)
	}

	if err := host.SubmitAction(context.Background(), "press on alone"); err != nil {
		t.Fatalf("SubmitAction() error = %v", err)
	}
	if err := host.ForceTurn(); err != nil {
		t.Fatalf("ForceTurn() error = %v", err)
	}
	waitFor(t, "forced turn", func() bool { return len(eng.calls()) == 2 })

	input := eng.calls()[1]
	if !strings.Contains(input, "press on alone") || strings.Contains(input, "Guest") {
		t.Errorf("forced input = %q, want only the host action", input)
	}

	if err := guest.ForceTurn(); !errors.Is(err, apperrors.New(apperrors.CodeSessionNotAuthority, "")) {
		t.Errorf("guest ForceTurn() error = %v, want code %s", err, apperrors.CodeSessionNotAuthority)
	}
}

func TestKickEvictsTarget(t *testing.T) {
	relayURL := startRelay(t)
	eng := &stubEngine{delta: world.TurnDelta{Narrative: "ok", TimeDelta: 1}}
	host := newTestManager(t, relayURL, "id-host", "Host", eng)

	if _, err := host.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	waitFor(t, "host authority", host.IsAuthority)

	guest := newTestManager(t, relayURL, "id-guest", "Guest", nil)
	if err := guest.Join(context.Background(), "ABC234"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	waitFor(t, "guest connected", func() bool { return guest.Snapshot().Connected })
	waitFor(t, "host sees guest", func() bool { return len(host.Snapshot().Members) == 2 })

	if err := guest.Kick("id-host"); !errors.Is(err, apperrors.New(apperrors.CodeSessionNotAuthority, "")) {
		t.Fatalf("guest Kick() error = %v, want code %s", err, apperrors.CodeSessionNotAuthority)
	}

	if err := host.Kick("id-guest"); err != nil {
		t.Fatalf("host Kick() error = %v", err)
	}
	waitFor(t, "guest evicted", func() bool { return !guest.Snapshot().Connected })
	waitFor(t, "host alone", func() bool { return len(host.Snapshot().Members) == 1 })
}

func TestDeadPlayerRejectedSynchronously(t *testing.T) {
	relayURL := startRelay(t)
	cache := &memoryCache{}
	state := world.NewState()
	state.Files["Player_Ghost.txt"] = world.File{
		Name:    "Player_Ghost.txt",
		Content: "Status: Dead",
		Kind:    world.KindPlayer,
	}
	if err := cache.SaveSessionState(context.Background(), storage.SessionState{
		Code: "ABC234", GameStarted: true, Seq: 3, State: state,
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	m, err := New(Config{
		RelayURL:    relayURL,
		Identity:    "id-ghost",
		DisplayName: "Ghost",
		Cache:       cache,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(m.Leave)
	if err := m.Join(context.Background(), "ABC234"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	err = m.SubmitAction(context.Background(), "rise from the grave")
	if !errors.Is(err, apperrors.New(apperrors.CodeTurnSubmitterDead, "")) {
		t.Fatalf("SubmitAction() error = %v, want code %s", err, apperrors.CodeTurnSubmitterDead)
	}

	history := m.Snapshot().State.History
	if len(history) == 0 || history[len(history)-1].Kind != world.LogError {
		t.Fatal("dead submission did not append an error entry")
	}
}

func TestJoinNewSessionDiscardsStaleCache(t *testing.T) {
	relayURL := startRelay(t)
	eng := &stubEngine{delta: world.TurnDelta{Narrative: "A world takes shape.", TimeDelta: 10}}
	host := newTestManager(t, relayURL, "id-host", "Host", eng)
	if _, err := host.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	waitFor(t, "host authority", host.IsAuthority)
	if err := host.SubmitAction(context.Background(), "a ruined train station"); err != nil {
		t.Fatalf("SubmitAction() error = %v", err)
	}
	waitFor(t, "first turn", func() bool { return host.Snapshot().GameStarted })

	// The guest carries a cache from an earlier session with a sequence far
	// ahead of the new session's.
	cache := &memoryCache{}
	stale := world.NewState()
	stale.WorldTime = 900
	if err := cache.SaveSessionState(context.Background(), storage.SessionState{
		Code: "OLDONE", GameStarted: true, Seq: 50, State: stale,
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	guest, err := New(Config{
		RelayURL:    relayURL,
		Identity:    "id-guest",
		DisplayName: "Guest",
		Cache:       cache,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(guest.Leave)
	if err := guest.Join(context.Background(), "ABC234"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	waitFor(t, "guest converges", func() bool { return guest.Snapshot().State.WorldTime == 10 })
	snap := guest.Snapshot()
	if !snap.GameStarted {
		t.Error("GameStarted = false after snapshot")
	}
	if snap.Seq >= 50 {
		t.Errorf("Seq = %d, want the new session's sequence", snap.Seq)
	}
}

func TestLeavePreservesWorldState(t *testing.T) {
	relayURL := startRelay(t)
	eng := &stubEngine{delta: world.TurnDelta{Narrative: "The lights dim.", TimeDelta: 4}}
	cache := &memoryCache{}
	m, err := New(Config{
		RelayURL:    relayURL,
		Identity:    "id-host",
		DisplayName: "Host",
		Engine:      eng,
		Cache:       cache,
		NewCode:     func() (string, error) { return "ABC234", nil },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := m.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	waitFor(t, "host authority", m.IsAuthority)
	if err := m.SubmitAction(context.Background(), "begin"); err != nil {
		t.Fatalf("SubmitAction() error = %v", err)
	}
	waitFor(t, "first turn", func() bool { return m.Snapshot().GameStarted })

	m.Leave()
	snap := m.Snapshot()
	if snap.Connected {
		t.Error("Connected = true after Leave")
	}
	if len(snap.Members) != 0 {
		t.Errorf("Members = %d after Leave, want 0", len(snap.Members))
	}
	if snap.State.WorldTime != 4 {
		t.Errorf("WorldTime = %d after Leave, want 4", snap.State.WorldTime)
	}

	cached, err := cache.LoadSessionState(context.Background())
	if err != nil {
		t.Fatalf("LoadSessionState() error = %v", err)
	}
	if cached.State.WorldTime != 4 {
		t.Errorf("cached WorldTime = %d, want 4", cached.State.WorldTime)
	}

	if err := m.SubmitAction(context.Background(), "anyone there?"); !errors.Is(err, apperrors.New(apperrors.CodeSessionNotConnected, "")) {
		t.Errorf("SubmitAction() after Leave error = %v, want code %s", err, apperrors.CodeSessionNotConnected)
	}
}

func TestEngineFailureAppendsErrorEntry(t *testing.T) {
	relayURL := startRelay(t)
	eng := &stubEngine{err: errors.New("invalid json output")}
	host := newTestManager(t, relayURL, "id-host", "Host", eng)

	if _, err := host.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	waitFor(t, "host authority", host.IsAuthority)
	if err := host.SubmitAction(context.Background(), "begin"); err != nil {
		t.Fatalf("SubmitAction() error = %v", err)
	}

	waitFor(t, "engine failure entry", func() bool {
		for _, entry := range host.Snapshot().State.History {
			if entry.Kind == world.LogError && strings.Contains(entry.Text, "ENGINE FAILURE") {
				return true
			}
		}
		return false
	})

	snap := host.Snapshot()
	if snap.State.WorldTime != 0 {
		t.Errorf("WorldTime = %d after failed turn, want 0", snap.State.WorldTime)
	}
	// The barrier reopens: the next submission can fire again.
	if err := host.SubmitAction(context.Background(), "try again"); err != nil {
		t.Fatalf("SubmitAction() after failure error = %v", err)
	}
	waitFor(t, "retry dispatch", func() bool { return len(eng.calls()) == 2 })
}

func TestResetDiscardsWorld(t *testing.T) {
	cache := &memoryCache{}
	state := world.NewState()
	state.WorldTime = 99
	if err := cache.SaveSessionState(context.Background(), storage.SessionState{
		Code: "ABC234", GameStarted: true, Seq: 5, State: state,
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	m, err := New(Config{
		RelayURL:    "ws://unused",
		Identity:    "id-host",
		DisplayName: "Host",
		Cache:       cache,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := m.Snapshot().State.WorldTime; got != 99 {
		t.Fatalf("restored WorldTime = %d, want 99", got)
	}

	if err := m.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	snap := m.Snapshot()
	if snap.State.WorldTime != 0 || snap.GameStarted || snap.Code != "" {
		t.Errorf("Reset() left residue: %+v", snap)
	}
	if _, ok := snap.State.Files["Guide.txt"]; !ok {
		t.Error("Reset() state missing guide file")
	}
	if _, err := cache.LoadSessionState(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cache after Reset() error = %v, want ErrNotFound", err)
	}
}
