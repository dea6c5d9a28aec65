package presence

import (
	"testing"
	"time"
)

var (
	t1 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	t3 = time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC)
)

func TestAuthorityEarliestJoinerWinsRegardlessOfOrder(t *testing.T) {
	members := Reduce([]Record{
		{Identity: "B", DisplayName: "Bea", JoinedAt: t2},
		{Identity: "A", DisplayName: "Ada", JoinedAt: t1},
		{Identity: "C", DisplayName: "Cal", JoinedAt: t3},
	})

	authority, ok := Authority(members)
	if !ok {
		t.Fatal("expected an authority")
	}
	if authority.Identity != "A" {
		t.Fatalf("authority = %s, want A", authority.Identity)
	}
}

func TestAuthorityTieBreaksOnIdentity(t *testing.T) {
	members := Reduce([]Record{
		{Identity: "zed", JoinedAt: t1},
		{Identity: "ann", JoinedAt: t1},
	})

	authority, _ := Authority(members)
	if authority.Identity != "ann" {
		t.Fatalf("authority = %s, want ann", authority.Identity)
	}
}

func TestReduceDeduplicatesKeepingEarliestJoin(t *testing.T) {
	members := Reduce([]Record{
		{Identity: "A", JoinedAt: t2},
		{Identity: "A", JoinedAt: t1},
		{Identity: "A", JoinedAt: t3},
	})

	if len(members) != 1 {
		t.Fatalf("members = %d, want 1", len(members))
	}
	if !members[0].JoinedAt.Equal(t1) {
		t.Fatalf("joined at = %v, want %v", members[0].JoinedAt, t1)
	}
}

func TestReduceCarriesDeathFromDuplicates(t *testing.T) {
	members := Reduce([]Record{
		{Identity: "A", JoinedAt: t1},
		{Identity: "A", JoinedAt: t2, Dead: true},
	})

	if !members[0].Dead {
		t.Fatal("expected death fact from later duplicate to stick")
	}
}

func TestActiveIdentitiesExcludeDead(t *testing.T) {
	members := Reduce([]Record{
		{Identity: "A", JoinedAt: t1},
		{Identity: "B", JoinedAt: t2, Dead: true},
		{Identity: "C", JoinedAt: t3},
	})

	active := ActiveIdentities(members)
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	for _, identity := range active {
		if identity == "B" {
			t.Fatal("dead member listed as active")
		}
	}
}

func TestAuthorityEmptyMembership(t *testing.T) {
	if _, ok := Authority(nil); ok {
		t.Fatal("expected no authority for empty membership")
	}
}

func TestTrackerRecomputesAuthorityOnSync(t *testing.T) {
	var tracker Tracker
	tracker.Sync([]Record{
		{Identity: "A", JoinedAt: t1},
		{Identity: "B", JoinedAt: t2},
	})

	if !tracker.IsAuthority("A") {
		t.Fatal("expected A to hold authority")
	}

	// A's connection drops and a sync fires without it.
	tracker.Sync([]Record{
		{Identity: "B", JoinedAt: t2},
	})

	if !tracker.IsAuthority("B") {
		t.Fatal("expected authority to pass to B")
	}
	if tracker.IsAuthority("A") {
		t.Fatal("departed member still holds authority")
	}
}

func TestTrackerClear(t *testing.T) {
	var tracker Tracker
	tracker.Sync([]Record{{Identity: "A", JoinedAt: t1}})
	tracker.Clear()

	if len(tracker.Members()) != 0 {
		t.Fatal("expected cleared membership")
	}
	if _, ok := tracker.Authority(); ok {
		t.Fatal("expected no authority after clear")
	}
}
