// Package turn collects per-player action submissions and decides when a
// turn is ready to execute.
//
// The coordinator is authority-side state: non-authority clients forward
// their own actions over the channel and hold no pending set. Readiness is a
// barrier, not a timeout: a turn executes only once every active member has
// submitted, unless the authority forces a partial turn through.
package turn

import (
	"fmt"
	"strings"
	"time"
)

// Phase is the coordinator's position in the turn lifecycle.
type Phase int

const (
	// PhaseAwaitingFirstAction holds before the game has been started; only
	// the authority's own submission can fire.
	PhaseAwaitingFirstAction Phase = iota
	// PhaseCollectingActions accumulates submissions toward the barrier.
	PhaseCollectingActions
	// PhaseExecuting covers the external turn function's round trip.
	PhaseExecuting
)

// String returns the phase name for logs.
func (p Phase) String() string {
	switch p {
	case PhaseAwaitingFirstAction:
		return "awaiting_first_action"
	case PhaseCollectingActions:
		return "collecting_actions"
	case PhaseExecuting:
		return "executing"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Action is one player's submission for the in-progress turn.
type Action struct {
	Submitter   string
	Text        string
	SubmittedAt time.Time
}

// Coordinator tracks the pending set and the turn phase for one session.
// It is driven from the session event loop and is not safe for concurrent
// use from multiple goroutines.
type Coordinator struct {
	phase   Phase
	pending []Action
	index   map[string]int
	started bool
}

// NewCoordinator returns a coordinator awaiting the authority's first action.
func NewCoordinator() *Coordinator {
	return &Coordinator{index: make(map[string]int)}
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase { return c.phase }

// Started reports whether the first turn has ever fired.
func (c *Coordinator) Started() bool { return c.started }

// Pending returns the collected actions in arrival order.
func (c *Coordinator) Pending() []Action {
	return append([]Action(nil), c.pending...)
}

// Submit records an action into the pending set. Re-submitting an identical
// (submitter, text) pair is a no-op; a different text from the same submitter
// replaces the earlier action but keeps its arrival position. The return
// value reports whether the pending set changed.
func (c *Coordinator) Submit(action Action) bool {
	if pos, ok := c.index[action.Submitter]; ok {
		if c.pending[pos].Text == action.Text {
			return false
		}
		c.pending[pos].Text = action.Text
		c.pending[pos].SubmittedAt = action.SubmittedAt
		return true
	}
	c.index[action.Submitter] = len(c.pending)
	c.pending = append(c.pending, action)
	return true
}

// TryFire checks the readiness condition and, when it holds, captures the
// batch for execution, clears the pending set, and enters PhaseExecuting.
// Callers invoke it after every submission and after every membership sync,
// since a departing member can complete the barrier too.
//
// Before the game starts only the authority's own submission fires, and the
// batch carries just that action. Afterwards the barrier requires the distinct
// pending submitters to cover every active member identity.
func (c *Coordinator) TryFire(authority string, active []string) ([]Action, bool) {
	switch c.phase {
	case PhaseExecuting:
		return nil, false
	case PhaseAwaitingFirstAction:
		pos, ok := c.index[authority]
		if !ok {
			return nil, false
		}
		batch := []Action{c.pending[pos]}
		c.reset()
		c.phase = PhaseExecuting
		c.started = true
		return batch, true
	}

	if len(active) == 0 {
		return nil, false
	}
	for _, identity := range active {
		if _, ok := c.index[identity]; !ok {
			return nil, false
		}
	}
	batch := c.pending
	c.reset()
	c.phase = PhaseExecuting
	return batch, true
}

// Force is the authority override that unblocks a stalled barrier: it
// executes whatever subset of actions has arrived. It reports false outside
// PhaseCollectingActions.
func (c *Coordinator) Force() ([]Action, bool) {
	if c.phase != PhaseCollectingActions {
		return nil, false
	}
	batch := c.pending
	c.reset()
	c.phase = PhaseExecuting
	return batch, true
}

// Finish records the external turn function's completion, successful or not,
// and returns the coordinator to PhaseCollectingActions.
func (c *Coordinator) Finish() {
	if c.phase == PhaseExecuting {
		c.phase = PhaseCollectingActions
	}
}

// Resume places the coordinator directly into PhaseCollectingActions, as
// when rejoining a session whose game already started.
func (c *Coordinator) Resume() {
	c.reset()
	c.phase = PhaseCollectingActions
	c.started = true
}

// Clear drops the pending set and phase, as when leaving a session.
func (c *Coordinator) Clear() {
	c.reset()
	c.phase = PhaseAwaitingFirstAction
	c.started = false
}

func (c *Coordinator) reset() {
	c.pending = nil
	c.index = make(map[string]int)
}

// CompositeInput renders a fired batch into the input handed to the external
// turn function. The very first turn forwards the authority's raw text under
// an initialization tag; later turns list every collected action in arrival
// order. resolveName maps identities to display names and may be nil.
func CompositeInput(batch []Action, authority string, firstTurn bool, resolveName func(string) string) string {
	if resolveName == nil {
		resolveName = func(identity string) string { return identity }
	}
	if firstTurn && len(batch) == 1 {
		return "[SYSTEM: HOST INITIALIZATION] " + batch[0].Text
	}

	var b strings.Builder
	b.WriteString("[MULTIPLAYER TURN]")
	for _, action := range batch {
		role := "Player"
		if action.Submitter == authority {
			role = "Host"
		}
		b.WriteString(fmt.Sprintf("\nPlayer %s (%s) action: %s", resolveName(action.Submitter), role, action.Text))
	}
	return b.String()
}
