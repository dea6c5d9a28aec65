package session

// Replicator orders full-state snapshots with a per-turn sequence number.
//
// The authority stamps each broadcast with the next sequence; receivers drop
// any snapshot whose sequence is not strictly greater than the one they
// already hold, so a reordered or replayed broadcast can never roll the
// world back. After an authority handover the sequence also lets the new
// authority prove whether an in-flight turn ever landed.
type Replicator struct {
	seq uint64
}

// Seq returns the highest sequence seen or issued.
func (r *Replicator) Seq() uint64 { return r.seq }

// Next issues the sequence number for the authority's next broadcast.
func (r *Replicator) Next() uint64 {
	r.seq++
	return r.seq
}

// Accept reports whether an inbound snapshot at seq supersedes the local
// state, advancing the local sequence when it does.
func (r *Replicator) Accept(seq uint64) bool {
	if seq <= r.seq {
		return false
	}
	r.seq = seq
	return true
}

// Resume restores the sequence from a cached session.
func (r *Replicator) Resume(seq uint64) {
	r.seq = seq
}
