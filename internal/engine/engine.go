// Package engine invokes the narrative model that advances the world.
//
// The engine receives the full world context plus a composite input line and
// returns a structured turn delta. Only the session authority ever calls it;
// followers receive the resulting state through snapshot replication.
package engine

import (
	"context"

	"github.com/louisbranch/omniscript/internal/world"
)

// TurnInput carries everything the engine needs to resolve one turn.
type TurnInput struct {
	// Input is the composite action line for this turn.
	Input string
	// State is the canonical world at the time the turn fired.
	State world.State
}

// Engine resolves one turn into a world delta.
type Engine interface {
	Turn(ctx context.Context, input TurnInput) (world.TurnDelta, error)
}
