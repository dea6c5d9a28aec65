package world

import (
	"testing"
)

func TestNewStateSeedsGuide(t *testing.T) {
	state := NewState()

	if state.WorldTime != 0 {
		t.Fatalf("world time = %d, want 0", state.WorldTime)
	}
	if len(state.Files) != 1 {
		t.Fatalf("files = %d, want 1", len(state.Files))
	}
	guide, ok := state.Files["Guide.txt"]
	if !ok {
		t.Fatal("expected Guide.txt seed file")
	}
	if guide.Kind != KindGuide {
		t.Fatalf("guide kind = %s, want %s", guide.Kind, KindGuide)
	}
	if guide.IsHidden {
		t.Fatal("guide should be visible")
	}
}

func TestAppendLogDoesNotMutateInput(t *testing.T) {
	state := NewState()

	next, err := AppendLog(state, LogInput, "> look around", fixedClock(), sequentialIDs())
	if err != nil {
		t.Fatalf("append log: %v", err)
	}
	if len(next.History) != 1 {
		t.Fatalf("history = %d, want 1", len(next.History))
	}
	if len(state.History) != 0 {
		t.Fatalf("input history mutated: %d entries", len(state.History))
	}
	if next.History[0].Kind != LogInput {
		t.Fatalf("kind = %s, want %s", next.History[0].Kind, LogInput)
	}
}

func TestCloneIsDeep(t *testing.T) {
	state := NewState()
	clone := state.Clone()

	clone.Files["Extra.txt"] = File{Name: "Extra.txt", Kind: KindSystem}
	if _, ok := state.Files["Extra.txt"]; ok {
		t.Fatal("clone shares the files map")
	}
}

func TestPlayerFileNaming(t *testing.T) {
	if got := PlayerFile("Alice"); got != "Player_Alice.txt" {
		t.Fatalf("player file = %q, want %q", got, "Player_Alice.txt")
	}
	if got := PlayerFile("  "); got != "Player.txt" {
		t.Fatalf("player file = %q, want %q", got, "Player.txt")
	}
}
