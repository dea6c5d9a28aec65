// Package presence reduces raw channel membership records into the live
// member list and derives the session authority from it.
package presence

import (
	"sort"
	"time"
)

// Record is one raw presence record carried by a membership sync. A single
// identity may appear multiple times when a connection flaps.
type Record struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"displayName"`
	JoinedAt    time.Time `json:"joinedAt"`
	Dead        bool      `json:"isDead"`
}

// Member is the deduplicated membership entry for one identity.
type Member struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"displayName"`
	JoinedAt    time.Time `json:"joinedAt"`
	Dead        bool      `json:"isDead"`
}

// Reduce collapses raw sync records to one member per identity, keeping the
// earliest observed join time. The result is ordered by (join time, identity),
// which is the total order used for authority election.
func Reduce(records []Record) []Member {
	byIdentity := make(map[string]Member, len(records))
	for _, record := range records {
		existing, ok := byIdentity[record.Identity]
		if !ok || record.JoinedAt.Before(existing.JoinedAt) {
			byIdentity[record.Identity] = Member(record)
			continue
		}
		// A later duplicate still refreshes liveness facts.
		if record.Dead {
			existing.Dead = true
			byIdentity[record.Identity] = existing
		}
	}

	members := make([]Member, 0, len(byIdentity))
	for _, member := range byIdentity {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].Identity < members[j].Identity
	})
	return members
}

// Authority returns the elected authority: the earliest joiner, with identity
// lexical order breaking ties. It reports false for an empty membership.
func Authority(members []Member) (Member, bool) {
	if len(members) == 0 {
		return Member{}, false
	}
	return members[0], true
}

// ActiveIdentities returns the distinct identities that participate in the
// turn barrier. Dead members are excluded; they are barred from submitting
// and must not stall the turn.
func ActiveIdentities(members []Member) []string {
	out := make([]string, 0, len(members))
	for _, member := range members {
		if member.Dead {
			continue
		}
		out = append(out, member.Identity)
	}
	return out
}

// Tracker holds the most recent reduced membership. Authority is recomputed
// from scratch on every sync; there is no handoff protocol.
type Tracker struct {
	members []Member
}

// Sync replaces the membership with the reduction of a fresh sync event.
func (t *Tracker) Sync(records []Record) {
	t.members = Reduce(records)
}

// Members returns the current reduced membership in election order.
func (t *Tracker) Members() []Member {
	return append([]Member(nil), t.members...)
}

// Authority returns the current authority, if any member is present.
func (t *Tracker) Authority() (Member, bool) {
	return Authority(t.members)
}

// IsAuthority reports whether the identity currently holds authority.
func (t *Tracker) IsAuthority(identity string) bool {
	authority, ok := Authority(t.members)
	return ok && authority.Identity == identity
}

// Member looks up a member by identity.
func (t *Tracker) Member(identity string) (Member, bool) {
	for _, member := range t.members {
		if member.Identity == identity {
			return member, true
		}
	}
	return Member{}, false
}

// Clear drops all membership, as when leaving a session.
func (t *Tracker) Clear() {
	t.members = nil
}
