// Package world owns the canonical world snapshot and the rules for folding
// engine turn deltas into it.
//
// State is treated as an immutable value: Apply, AppendLog, and ExpirePlayer
// all return fresh copies so snapshot broadcast and local rendering can hold
// earlier versions without data races. Validation of raw engine output lives
// in DecodeDelta; a delta that fails validation never touches state.
package world
