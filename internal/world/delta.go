package world

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FileOp describes how a delta touches one file.
type FileOp string

const (
	OpCreate FileOp = "CREATE"
	OpUpdate FileOp = "UPDATE"
	OpDelete FileOp = "DELETE"
)

// Valid reports whether the op is one of the known file operations.
func (o FileOp) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// FileUpdate is one file mutation carried by a turn delta.
//
// IsHidden is tri-state: nil means the delta is silent and the file keeps its
// previous hidden flag (false for new files).
type FileUpdate struct {
	FileName string   `json:"fileName"`
	Content  string   `json:"content"`
	Kind     FileKind `json:"type"`
	Op       FileOp   `json:"operation"`
	IsHidden *bool    `json:"isHidden,omitempty"`
}

// TurnDelta is the structured output of the external turn function.
type TurnDelta struct {
	Narrative   string       `json:"narrative"`
	LiveUpdates []string     `json:"liveUpdates"`
	FileUpdates []FileUpdate `json:"fileUpdates"`
	TimeDelta   int64        `json:"timeDelta"`
}

var (
	// ErrMalformedDelta indicates the turn output failed structural validation.
	ErrMalformedDelta = errors.New("malformed turn delta")
	// ErrNegativeTimeDelta indicates the turn output tried to rewind world time.
	ErrNegativeTimeDelta = errors.New("negative time delta")
)

// DecodeDelta parses and validates raw turn-function output. A delta that
// fails validation must never reach Apply.
func DecodeDelta(raw []byte) (TurnDelta, error) {
	var delta TurnDelta
	if err := json.Unmarshal(raw, &delta); err != nil {
		return TurnDelta{}, fmt.Errorf("%w: %v", ErrMalformedDelta, err)
	}
	if err := delta.Validate(); err != nil {
		return TurnDelta{}, err
	}
	return delta, nil
}

// Validate checks the structural invariants of a decoded delta.
func (d TurnDelta) Validate() error {
	if strings.TrimSpace(d.Narrative) == "" {
		return fmt.Errorf("%w: narrative is required", ErrMalformedDelta)
	}
	if d.TimeDelta < 0 {
		return fmt.Errorf("%w: time delta %d", ErrNegativeTimeDelta, d.TimeDelta)
	}
	for i, update := range d.FileUpdates {
		if strings.TrimSpace(update.FileName) == "" {
			return fmt.Errorf("%w: file update %d has no file name", ErrMalformedDelta, i)
		}
		if !update.Op.Valid() {
			return fmt.Errorf("%w: file update %d operation %q", ErrMalformedDelta, i, update.Op)
		}
		if update.Op != OpDelete && !update.Kind.Valid() {
			return fmt.Errorf("%w: file update %d kind %q", ErrMalformedDelta, i, update.Kind)
		}
	}
	return nil
}
