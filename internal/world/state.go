package world

import (
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/omniscript/internal/platform/id"
)

// FileKind classifies a world file.
type FileKind string

const (
	KindSystem   FileKind = "SYSTEM"
	KindPlayer   FileKind = "PLAYER"
	KindLocation FileKind = "LOCATION"
	KindItem     FileKind = "ITEM"
	KindGuide    FileKind = "GUIDE"
)

// Valid reports whether the kind is one of the known file kinds.
func (k FileKind) Valid() bool {
	switch k {
	case KindSystem, KindPlayer, KindLocation, KindItem, KindGuide:
		return true
	}
	return false
}

// LogKind classifies a history entry.
type LogKind string

const (
	LogInput     LogKind = "INPUT"
	LogNarrative LogKind = "NARRATIVE"
	LogError     LogKind = "ERROR"
)

// Polarity tags a live-feed entry for presentation.
type Polarity string

const (
	PolarityPositive Polarity = "POSITIVE"
	PolarityNegative Polarity = "NEGATIVE"
	PolarityNeutral  Polarity = "NEUTRAL"
)

// LiveFeedCapacity bounds the live-update ring.
const LiveFeedCapacity = 50

// File is one entry of the simulated file system.
type File struct {
	Name string `json:"name"`
	// Content may carry target()/hide[] markup; see the visibility package.
	Content     string   `json:"content"`
	Kind        FileKind `json:"kind"`
	IsHidden    bool     `json:"isHidden"`
	LastUpdated int64    `json:"lastUpdated"` // world-time seconds
}

// LogEntry is one record of the append-only shared history.
type LogEntry struct {
	ID        string    `json:"id"`
	Kind      LogKind   `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// LiveUpdate is one short status line in the bounded live feed.
type LiveUpdate struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Polarity Polarity `json:"polarity"`
}

// State is the canonical world snapshot.
//
// History is append-only: entries are never mutated or reordered. LiveFeed is
// ordered most-recent-first and never exceeds LiveFeedCapacity.
type State struct {
	WorldTime int64           `json:"worldTime"` // monotonic seconds
	Files     map[string]File `json:"files"`
	History   []LogEntry      `json:"history"`
	LiveFeed  []LiveUpdate    `json:"liveFeed"`
}

const (
	guideFileName    = "Guide.txt"
	guideFileContent = "System Initializing... Waiting for world parameters."
)

// NewState returns the empty world seeded with the guide file.
func NewState() State {
	return State{
		Files: map[string]File{
			guideFileName: {
				Name:     guideFileName,
				Content:  guideFileContent,
				Kind:     KindGuide,
				IsHidden: false,
			},
		},
	}
}

// Clone returns a deep copy of the state. Apply and the log helpers operate
// on copies so callers can hold earlier snapshots safely.
func (s State) Clone() State {
	out := s
	out.Files = make(map[string]File, len(s.Files))
	for name, file := range s.Files {
		out.Files[name] = file
	}
	out.History = append([]LogEntry(nil), s.History...)
	out.LiveFeed = append([]LiveUpdate(nil), s.LiveFeed...)
	return out
}

// AppendLog returns a copy of the state with one entry appended to history.
func AppendLog(state State, kind LogKind, text string, now func() time.Time, newID func() (string, error)) (State, error) {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	entryID, err := newID()
	if err != nil {
		return state, fmt.Errorf("generate log id: %w", err)
	}
	out := state.Clone()
	out.History = append(out.History, LogEntry{
		ID:        entryID,
		Kind:      kind,
		Text:      text,
		CreatedAt: now().UTC(),
	})
	return out, nil
}

// AppendInput records a player's raw input line.
func AppendInput(state State, text string, now func() time.Time, newID func() (string, error)) (State, error) {
	return AppendLog(state, LogInput, text, now, newID)
}

// AppendError records a user-visible failure.
func AppendError(state State, text string, now func() time.Time, newID func() (string, error)) (State, error) {
	return AppendLog(state, LogError, text, now, newID)
}

// Reset discards the world and reseeds the guide file.
func Reset() State {
	return NewState()
}

// PlayerFile returns the canonical file name for a player's sheet.
func PlayerFile(displayName string) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return "Player.txt"
	}
	return "Player_" + name + ".txt"
}

// Death markers written by the engine into player sheets.
const (
	deadStatusMarker = "status: dead"
	deadHealthMarker = "health: 0"
)

// IsDeadContent reports whether player-sheet content carries a death marker.
// Matching is case-insensitive.
func IsDeadContent(content string) bool {
	lowered := strings.ToLower(content)
	return strings.Contains(lowered, deadStatusMarker) || strings.Contains(lowered, deadHealthMarker)
}

// IsPlayerDead reports whether the named player's sheet carries a death
// marker. It checks the per-player file first, then the single-player sheet.
func IsPlayerDead(state State, displayName string) bool {
	for _, name := range []string{PlayerFile(displayName), "Player.txt"} {
		if file, ok := state.Files[name]; ok {
			return IsDeadContent(file.Content)
		}
	}
	return false
}

// ExpirePlayer deletes a dead player's sheet and records the expiry in the
// shared history. It is a one-shot, idempotent transition: when the sheet is
// already gone or carries no death marker the state is returned unchanged.
func ExpirePlayer(state State, displayName string, now func() time.Time, newID func() (string, error)) (State, bool, error) {
	fileName := ""
	for _, name := range []string{PlayerFile(displayName), "Player.txt"} {
		if file, ok := state.Files[name]; ok && IsDeadContent(file.Content) {
			fileName = name
			break
		}
	}
	if fileName == "" {
		return state, false, nil
	}

	out, err := AppendLog(state, LogError, fmt.Sprintf("SIGNAL LOST: %s has expired. File %s purged.", displayName, fileName), now, newID)
	if err != nil {
		return state, false, err
	}
	delete(out.Files, fileName)
	return out, true, nil
}
