package crdt

// Stamp is a Lamport timestamp tagged with the replica that produced it.
// Stamps give every operation a total order: count first, replica ID as
// the deterministic tie-break for concurrent operations.
type Stamp struct {
	Count   uint64 `json:"c"`
	Replica string `json:"r"`
}

func (s Stamp) IsZero() bool {
	return s.Count == 0 && s.Replica == ""
}

// Less reports whether s orders strictly before o.
func (s Stamp) Less(o Stamp) bool {
	if s.Count != o.Count {
		return s.Count < o.Count
	}
	return s.Replica < o.Replica
}

// Clock issues stamps for one replica and advances past any stamp
// observed from remote operations, keeping local stamps ahead of
// everything already seen.
type Clock struct {
	replica string
	count   uint64
}

func NewClock(replica string) *Clock {
	return &Clock{replica: replica}
}

func (c *Clock) Replica() string {
	return c.replica
}

// Tick returns the next local stamp.
func (c *Clock) Tick() Stamp {
	c.count++
	return Stamp{Count: c.count, Replica: c.replica}
}

// Observe advances the clock to at least the given remote stamp.
func (c *Clock) Observe(s Stamp) {
	if s.Count > c.count {
		c.count = s.Count
	}
}
