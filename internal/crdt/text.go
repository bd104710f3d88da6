package crdt

import (
	"errors"
	"sort"
)

// ErrOffsetOutOfRange is returned for edits addressing past the visible
// end of a text sequence.
var ErrOffsetOutOfRange = errors.New("text offset out of range")

// maxDigit bounds one level of a position identifier. Positions between
// two neighbors with no room at the current depth descend a level, so
// identifiers grow only where editing is dense.
const maxDigit = 1 << 16

// pathElem is one level of a position identifier: a digit plus the
// replica that allocated it. The replica breaks ties between concurrent
// allocations of the same digit.
type pathElem struct {
	D uint32 `json:"d"`
	R string `json:"r,omitempty"`
}

// Pos is a dense position identifier for one character. Positions are
// totally ordered and never change after allocation, which is what lets
// concurrent inserts merge without shifting each other around.
type Pos []pathElem

// comparePos orders positions element-wise by (digit, replica), with a
// strict prefix ordering before its extensions.
func comparePos(a, b Pos) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i].D != b[i].D {
			if a[i].D < b[i].D {
				return -1
			}
			return 1
		}
		if a[i].R != b[i].R {
			if a[i].R < b[i].R {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// allocPos returns a fresh position strictly between left and right.
// Either bound may be nil for the document edge. The right bound only
// constrains the descent while the path still matches it.
func allocPos(left, right Pos, replica string) Pos {
	out := make(Pos, 0, len(left)+1)
	rightBounded := true
	for i := 0; ; i++ {
		l := pathElem{}
		if i < len(left) {
			l = left[i]
		}
		r := pathElem{D: maxDigit}
		if rightBounded && i < len(right) {
			r = right[i]
		}
		if r.D > l.D+1 {
			mid := l.D + (r.D-l.D)/2
			return append(out, pathElem{D: mid, R: replica})
		}
		out = append(out, l)
		if rightBounded && (i >= len(right) || l != right[i]) {
			rightBounded = false
		}
	}
}

// TextAtom is a single character with its position. Deleted atoms stay
// in place as tombstones so concurrent edits around them keep a stable
// frame of reference.
type TextAtom struct {
	Pos     Pos    `json:"p"`
	Ch      string `json:"ch"`
	Deleted bool   `json:"del,omitempty"`
}

// TextOp is the mergeable description of a text edit: characters to
// insert at fixed positions and positions to tombstone. Applying a
// TextOp is idempotent and commutes with any other TextOp.
type TextOp struct {
	Insert []TextAtom `json:"ins,omitempty"`
	Delete []Pos      `json:"del,omitempty"`
}

func (op TextOp) Empty() bool {
	return len(op.Insert) == 0 && len(op.Delete) == 0
}

// Text is a replicated character sequence. Atoms are kept sorted by
// position; the visible string skips tombstones.
type Text struct {
	Atoms []TextAtom `json:"atoms"`
}

func NewText() *Text {
	return &Text{}
}

// String returns the visible text.
func (t *Text) String() string {
	var out []byte
	for _, a := range t.Atoms {
		if !a.Deleted {
			out = append(out, a.Ch...)
		}
	}
	return string(out)
}

// Len returns the number of visible characters.
func (t *Text) Len() int {
	n := 0
	for _, a := range t.Atoms {
		if !a.Deleted {
			n++
		}
	}
	return n
}

// find returns the index of pos in the atom slice and whether it is
// already present.
func (t *Text) find(pos Pos) (int, bool) {
	i := sort.Search(len(t.Atoms), func(i int) bool {
		return comparePos(t.Atoms[i].Pos, pos) >= 0
	})
	if i < len(t.Atoms) && comparePos(t.Atoms[i].Pos, pos) == 0 {
		return i, true
	}
	return i, false
}

// fullIndex maps a visible offset to an index into the atom slice.
func (t *Text) fullIndex(visible int) int {
	n := 0
	for i, a := range t.Atoms {
		if a.Deleted {
			continue
		}
		if n == visible {
			return i
		}
		n++
	}
	return len(t.Atoms)
}

// InsertAt inserts s at the visible offset, allocating positions between
// the surrounding atoms, applies the edit locally and returns the op for
// broadcast.
func (t *Text) InsertAt(offset int, s string, replica string) (TextOp, error) {
	if offset < 0 || offset > t.Len() {
		return TextOp{}, ErrOffsetOutOfRange
	}
	var left, right Pos
	rightIdx := 0
	if offset > 0 {
		fi := t.fullIndex(offset - 1)
		left = t.Atoms[fi].Pos
		rightIdx = fi + 1
	}
	if rightIdx < len(t.Atoms) {
		right = t.Atoms[rightIdx].Pos
	}
	// The first character claims a fresh position; the rest of the run
	// becomes its children. A concurrent insert at the same offset lands
	// in a disjoint subtree, so the two runs never interleave.
	runes := []rune(s)
	var op TextOp
	if len(runes) > 0 {
		p := allocPos(left, right, replica)
		op.Insert = append(op.Insert, TextAtom{Pos: p, Ch: string(runes[0])})
		for i := 1; i < len(runes); i++ {
			child := make(Pos, len(p), len(p)+1)
			copy(child, p)
			child = append(child, pathElem{D: uint32(i), R: replica})
			op.Insert = append(op.Insert, TextAtom{Pos: child, Ch: string(runes[i])})
		}
	}
	t.Apply(op)
	return op, nil
}

// DeleteAt tombstones n visible characters starting at offset, applies
// the edit locally and returns the op for broadcast.
func (t *Text) DeleteAt(offset, n int) (TextOp, error) {
	if n < 0 || offset < 0 || offset+n > t.Len() {
		return TextOp{}, ErrOffsetOutOfRange
	}
	var op TextOp
	visible := 0
	for i := range t.Atoms {
		if t.Atoms[i].Deleted {
			continue
		}
		if visible >= offset && visible < offset+n {
			op.Delete = append(op.Delete, t.Atoms[i].Pos)
		}
		visible++
	}
	t.Apply(op)
	return op, nil
}

// Apply merges a TextOp into the sequence. Duplicate atoms and repeated
// tombstones are skipped, and a delete arriving before its insert leaves
// a placeholder so the late insert stays invisible. Returns true when
// the visible text changed.
func (t *Text) Apply(op TextOp) bool {
	changed := false
	for _, a := range op.Insert {
		i, found := t.find(a.Pos)
		if found {
			// Placeholder left by an early delete: keep it tombstoned.
			if t.Atoms[i].Ch == "" {
				t.Atoms[i].Ch = a.Ch
			}
			continue
		}
		t.Atoms = append(t.Atoms, TextAtom{})
		copy(t.Atoms[i+1:], t.Atoms[i:])
		t.Atoms[i] = TextAtom{Pos: a.Pos, Ch: a.Ch}
		changed = true
	}
	for _, p := range op.Delete {
		i, found := t.find(p)
		if !found {
			t.Atoms = append(t.Atoms, TextAtom{})
			copy(t.Atoms[i+1:], t.Atoms[i:])
			t.Atoms[i] = TextAtom{Pos: p, Deleted: true}
			continue
		}
		if !t.Atoms[i].Deleted {
			t.Atoms[i].Deleted = true
			if t.Atoms[i].Ch != "" {
				changed = true
			}
		}
	}
	return changed
}
