package crdt

import (
	"bytes"
	"encoding/json"
)

// Register is a last-writer-wins cell for a structured block field
// (position, heading level, image url/caption, table headers/rows).
// The highest stamp wins, with the replica ID breaking ties, so all
// replicas settle on the same value without merging history.
type Register struct {
	Value json.RawMessage `json:"v"`
	Stamp Stamp           `json:"s"`
}

// Set applies a write if it orders after the current one. Returns true
// when the visible value changed. Re-applying the same stamped write is
// a no-op, which makes fragment delivery idempotent.
func (r *Register) Set(value json.RawMessage, stamp Stamp) bool {
	if !r.Stamp.Less(stamp) {
		return false
	}
	changed := !bytes.Equal(r.Value, value)
	r.Value = value
	r.Stamp = stamp
	return changed
}
