package world

import (
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/omniscript/internal/platform/id"
)

// Apply folds a validated turn delta into the state and returns the new
// snapshot. The input state is never mutated.
//
// Mutation order is fixed: deletes, upserts, narrative log append, live-feed
// prepend, world-time advance. A file's hidden flag survives updates that
// omit it.
func Apply(state State, delta TurnDelta, now func() time.Time, newID func() (string, error)) (State, error) {
	if err := delta.Validate(); err != nil {
		return state, err
	}
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}

	out := state.Clone()

	for _, update := range delta.FileUpdates {
		if update.Op == OpDelete {
			delete(out.Files, update.FileName)
		}
	}

	for _, update := range delta.FileUpdates {
		if update.Op == OpDelete {
			continue
		}
		hidden := false
		if update.IsHidden != nil {
			hidden = *update.IsHidden
		} else if existing, ok := out.Files[update.FileName]; ok {
			hidden = existing.IsHidden
		}
		out.Files[update.FileName] = File{
			Name:        update.FileName,
			Content:     update.Content,
			Kind:        update.Kind,
			IsHidden:    hidden,
			LastUpdated: state.WorldTime + delta.TimeDelta,
		}
	}

	narrativeID, err := newID()
	if err != nil {
		return state, fmt.Errorf("generate log id: %w", err)
	}
	out.History = append(out.History, LogEntry{
		ID:        narrativeID,
		Kind:      LogNarrative,
		Text:      delta.Narrative,
		CreatedAt: now().UTC(),
	})

	fresh := make([]LiveUpdate, 0, len(delta.LiveUpdates))
	for _, text := range delta.LiveUpdates {
		updateID, err := newID()
		if err != nil {
			return state, fmt.Errorf("generate live update id: %w", err)
		}
		fresh = append(fresh, LiveUpdate{ID: updateID, Text: text, Polarity: polarityOf(text)})
	}
	out.LiveFeed = append(fresh, out.LiveFeed...)
	if len(out.LiveFeed) > LiveFeedCapacity {
		out.LiveFeed = out.LiveFeed[:LiveFeedCapacity]
	}

	out.WorldTime = state.WorldTime + delta.TimeDelta

	return out, nil
}

// polarityOf maps a live-update string to its presentation polarity. A minus
// sign anywhere wins over a plus sign, matching how the engine phrases losses.
func polarityOf(text string) Polarity {
	if strings.Contains(text, "-") {
		return PolarityNegative
	}
	if strings.Contains(text, "+") {
		return PolarityPositive
	}
	return PolarityNeutral
}
