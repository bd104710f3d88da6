package crdt

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"notehub/internal/domain"
)

// Structured block fields kept in last-writer-wins registers. Text
// content is the replicated sequence instead and never goes through a
// register.
const (
	FieldPosition = "position"
	FieldLevel    = "level"
	FieldURL      = "url"
	FieldCaption  = "caption"
	FieldHeaders  = "headers"
	FieldRows     = "rows"
)

func validField(name string) bool {
	switch name {
	case FieldPosition, FieldLevel, FieldURL, FieldCaption, FieldHeaders, FieldRows:
		return true
	}
	return false
}

var (
	ErrUnknownBlock = fmt.Errorf("unknown block")
	ErrBlockDeleted = fmt.Errorf("block is deleted")
)

type OpKind string

const (
	OpInsertBlock OpKind = "insert-block"
	OpDeleteBlock OpKind = "delete-block"
	OpSetField    OpKind = "set-field"
	OpEditText    OpKind = "edit-text"
)

// BlockOp is one mergeable mutation inside a fragment.
type BlockOp struct {
	Kind      OpKind           `json:"kind"`
	BlockID   string           `json:"blockId"`
	Stamp     Stamp            `json:"stamp"`
	BlockType domain.BlockType `json:"blockType,omitempty"`
	Field     string           `json:"field,omitempty"`
	Value     json.RawMessage  `json:"value,omitempty"`
	Text      *TextOp          `json:"text,omitempty"`
}

// Fragment is the transportable delta produced by a local mutation.
// Applying the same fragment twice, or a set of fragments in any order,
// yields the same document state.
type Fragment struct {
	PageID string    `json:"pageId"`
	Origin string    `json:"origin"`
	Ops    []BlockOp `json:"ops"`
}

func (f Fragment) Empty() bool {
	return len(f.Ops) == 0
}

func EncodeFragment(f Fragment) ([]byte, error) {
	return json.Marshal(f)
}

func DecodeFragment(data []byte) (Fragment, error) {
	var f Fragment
	if err := json.Unmarshal(data, &f); err != nil {
		return Fragment{}, fmt.Errorf("decode fragment: %w", err)
	}
	return f, nil
}

// blockState is the replicated state of one block. A state can exist
// before its insert-block op arrives (edits delivered out of order); it
// stays invisible until the type is known. Deletion is permanent:
// delete wins over any concurrent edit, on every replica.
type blockState struct {
	Type    domain.BlockType     `json:"type,omitempty"`
	Created Stamp                `json:"created"`
	Deleted bool                 `json:"deleted,omitempty"`
	Text    *Text                `json:"text,omitempty"`
	Fields  map[string]*Register `json:"fields,omitempty"`
}

func newBlockState() *blockState {
	return &blockState{Text: NewText(), Fields: make(map[string]*Register)}
}

func (b *blockState) visible() bool {
	return b.Type != "" && !b.Deleted
}

func (b *blockState) register(field string) *Register {
	r, ok := b.Fields[field]
	if !ok {
		r = &Register{}
		b.Fields[field] = r
	}
	return r
}

// Doc is the replicated document model for one page: an unordered map
// of block states whose materialized view is ordered by the position
// field with block ID as tie-break. Doc does no I/O; persistence and
// transport live elsewhere.
type Doc struct {
	mu        sync.Mutex
	pageID    string
	clock     *Clock
	blocks    map[string]*blockState
	listeners []func(blockIDs []string)
}

func NewDoc(pageID, replica string) *Doc {
	return &Doc{
		pageID: pageID,
		clock:  NewClock(replica),
		blocks: make(map[string]*blockState),
	}
}

func (d *Doc) PageID() string {
	return d.pageID
}

func (d *Doc) Replica() string {
	return d.clock.Replica()
}

// OnChange registers a listener called with the IDs of blocks whose
// visible state changed. Fired for both local and remote mutations.
func (d *Doc) OnChange(fn func(blockIDs []string)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// notify runs outside the doc lock so listeners may read the doc.
func (d *Doc) notify(blockIDs []string) {
	if len(blockIDs) == 0 {
		return
	}
	d.mu.Lock()
	ls := make([]func([]string), len(d.listeners))
	copy(ls, d.listeners)
	d.mu.Unlock()
	for _, fn := range ls {
		fn(blockIDs)
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// InsertBlock creates a block at the given position and returns the
// materialized record for immediate rendering plus the fragment to
// broadcast.
func (d *Doc) InsertBlock(blockType domain.BlockType, position int, content string, meta domain.BlockMeta) (domain.Block, Fragment, error) {
	if !domain.ValidBlockType(blockType) {
		return domain.Block{}, Fragment{}, fmt.Errorf("insert block: invalid type %q", blockType)
	}
	d.mu.Lock()
	id := uuid.New().String()
	st := newBlockState()
	st.Type = blockType
	st.Created = d.clock.Tick()
	d.blocks[id] = st

	frag := Fragment{PageID: d.pageID, Origin: d.clock.Replica()}
	frag.Ops = append(frag.Ops, BlockOp{
		Kind: OpInsertBlock, BlockID: id, Stamp: st.Created, BlockType: blockType,
	})
	setLocal := func(field string, v any) {
		stamp := d.clock.Tick()
		raw := mustJSON(v)
		st.register(field).Set(raw, stamp)
		frag.Ops = append(frag.Ops, BlockOp{
			Kind: OpSetField, BlockID: id, Stamp: stamp, Field: field, Value: raw,
		})
	}
	setLocal(FieldPosition, position)
	if meta.Level != 0 {
		setLocal(FieldLevel, meta.Level)
	}
	if meta.URL != "" {
		setLocal(FieldURL, meta.URL)
	}
	if meta.Caption != "" {
		setLocal(FieldCaption, meta.Caption)
	}
	if meta.Headers != nil {
		setLocal(FieldHeaders, meta.Headers)
	}
	if meta.Rows != nil {
		setLocal(FieldRows, meta.Rows)
	}
	if content != "" && textBearing(blockType) {
		op, err := st.Text.InsertAt(0, content, d.clock.Replica())
		if err == nil && !op.Empty() {
			frag.Ops = append(frag.Ops, BlockOp{
				Kind: OpEditText, BlockID: id, Stamp: d.clock.Tick(), Text: &op,
			})
		}
	}
	rec := d.materializeBlock(id, st)
	d.mu.Unlock()
	d.notify([]string{id})
	return rec, frag, nil
}

func textBearing(t domain.BlockType) bool {
	return t == domain.BlockTypeText || t == domain.BlockTypeHeading
}

// EditText applies a character-range edit to a text-bearing block:
// deleteLen visible characters removed at offset, then insert added at
// offset. Whole-string replacement is deliberately not offered; it
// would clobber concurrent edits.
func (d *Doc) EditText(blockID string, offset int, insert string, deleteLen int) (Fragment, error) {
	d.mu.Lock()
	st, ok := d.blocks[blockID]
	if !ok || st.Type == "" {
		d.mu.Unlock()
		return Fragment{}, fmt.Errorf("edit text %s: %w", blockID, ErrUnknownBlock)
	}
	if st.Deleted {
		d.mu.Unlock()
		return Fragment{}, fmt.Errorf("edit text %s: %w", blockID, ErrBlockDeleted)
	}
	if !textBearing(st.Type) {
		d.mu.Unlock()
		return Fragment{}, fmt.Errorf("edit text %s: block type %q has no text", blockID, st.Type)
	}
	var op TextOp
	if deleteLen > 0 {
		del, err := st.Text.DeleteAt(offset, deleteLen)
		if err != nil {
			d.mu.Unlock()
			return Fragment{}, err
		}
		op.Delete = del.Delete
	}
	if insert != "" {
		ins, err := st.Text.InsertAt(offset, insert, d.clock.Replica())
		if err != nil {
			d.mu.Unlock()
			return Fragment{}, err
		}
		op.Insert = ins.Insert
	}
	frag := Fragment{PageID: d.pageID, Origin: d.clock.Replica()}
	if !op.Empty() {
		frag.Ops = append(frag.Ops, BlockOp{
			Kind: OpEditText, BlockID: blockID, Stamp: d.clock.Tick(), Text: &op,
		})
	}
	d.mu.Unlock()
	if !frag.Empty() {
		d.notify([]string{blockID})
	}
	return frag, nil
}

// SetField writes a structured field (position, heading level, image
// url/caption, table headers/rows) as a last-writer-wins update.
func (d *Doc) SetField(blockID, field string, value any) (Fragment, error) {
	if !validField(field) {
		return Fragment{}, fmt.Errorf("set field: unknown field %q", field)
	}
	d.mu.Lock()
	st, ok := d.blocks[blockID]
	if !ok || st.Type == "" {
		d.mu.Unlock()
		return Fragment{}, fmt.Errorf("set field %s: %w", blockID, ErrUnknownBlock)
	}
	if st.Deleted {
		d.mu.Unlock()
		return Fragment{}, fmt.Errorf("set field %s: %w", blockID, ErrBlockDeleted)
	}
	stamp := d.clock.Tick()
	raw := mustJSON(value)
	changed := st.register(field).Set(raw, stamp)
	frag := Fragment{PageID: d.pageID, Origin: d.clock.Replica(), Ops: []BlockOp{{
		Kind: OpSetField, BlockID: blockID, Stamp: stamp, Field: field, Value: raw,
	}}}
	d.mu.Unlock()
	if changed {
		d.notify([]string{blockID})
	}
	return frag, nil
}

// DeleteBlock tombstones a block. The tombstone is permanent so that a
// delete racing a concurrent edit resolves the same way everywhere:
// delete wins.
func (d *Doc) DeleteBlock(blockID string) (Fragment, error) {
	d.mu.Lock()
	st, ok := d.blocks[blockID]
	if !ok || st.Type == "" {
		d.mu.Unlock()
		return Fragment{}, fmt.Errorf("delete block %s: %w", blockID, ErrUnknownBlock)
	}
	wasVisible := st.visible()
	st.Deleted = true
	frag := Fragment{PageID: d.pageID, Origin: d.clock.Replica(), Ops: []BlockOp{{
		Kind: OpDeleteBlock, BlockID: blockID, Stamp: d.clock.Tick(),
	}}}
	d.mu.Unlock()
	if wasVisible {
		d.notify([]string{blockID})
	}
	return frag, nil
}

// ApplyRemote merges an incoming fragment. Safe against duplicate and
// out-of-order delivery: edits for a block whose insert has not arrived
// yet accumulate in an invisible pending state. Malformed or foreign
// fragments are rejected before any state is touched. Returns whether
// the visible document changed.
func (d *Doc) ApplyRemote(frag Fragment) (bool, error) {
	if frag.PageID != d.pageID {
		return false, fmt.Errorf("apply fragment: page %q does not match %q", frag.PageID, d.pageID)
	}
	if frag.Origin == "" {
		return false, fmt.Errorf("apply fragment: missing origin")
	}
	for _, op := range frag.Ops {
		if err := validateOp(op); err != nil {
			return false, err
		}
	}

	d.mu.Lock()
	changedSet := make(map[string]bool)
	for _, op := range frag.Ops {
		d.clock.Observe(op.Stamp)
		st, ok := d.blocks[op.BlockID]
		if !ok {
			st = newBlockState()
			d.blocks[op.BlockID] = st
		}
		var opChanged bool
		switch op.Kind {
		case OpInsertBlock:
			if st.Type == "" {
				st.Type = op.BlockType
				st.Created = op.Stamp
				opChanged = st.visible()
			}
		case OpDeleteBlock:
			opChanged = st.visible()
			st.Deleted = true
		case OpSetField:
			opChanged = st.register(op.Field).Set(op.Value, op.Stamp) && st.visible()
		case OpEditText:
			opChanged = st.Text.Apply(*op.Text) && st.visible()
		}
		if opChanged {
			changedSet[op.BlockID] = true
		}
	}
	changed := make([]string, 0, len(changedSet))
	for id := range changedSet {
		changed = append(changed, id)
	}
	sort.Strings(changed)
	d.mu.Unlock()
	d.notify(changed)
	return len(changed) > 0, nil
}

func validateOp(op BlockOp) error {
	if op.BlockID == "" {
		return fmt.Errorf("apply fragment: op missing block ID")
	}
	switch op.Kind {
	case OpInsertBlock:
		if !domain.ValidBlockType(op.BlockType) {
			return fmt.Errorf("apply fragment: invalid block type %q", op.BlockType)
		}
	case OpDeleteBlock:
	case OpSetField:
		if !validField(op.Field) {
			return fmt.Errorf("apply fragment: unknown field %q", op.Field)
		}
		if len(op.Value) == 0 {
			return fmt.Errorf("apply fragment: set-field %q missing value", op.Field)
		}
	case OpEditText:
		if op.Text == nil {
			return fmt.Errorf("apply fragment: edit-text missing payload")
		}
	default:
		return fmt.Errorf("apply fragment: unknown op kind %q", op.Kind)
	}
	return nil
}

// seedReplica stamps and positions state rebuilt from persisted rows.
// It never issues live operations, so two nodes that seed the same rows
// independently build byte-identical baselines and fragments relayed
// between them merge against the same atoms.
const seedReplica = "seed"

// Seed populates an empty doc from persisted block records without
// emitting fragments. Used once per page load; the doc becomes the
// source of truth afterwards. Seeding is deterministic: identical rows
// produce identical state on every node.
func (d *Doc) Seed(blocks []domain.Block) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stamp := Stamp{Count: 1, Replica: seedReplica}
	for _, b := range blocks {
		st := newBlockState()
		st.Type = b.Type
		st.Created = stamp
		st.register(FieldPosition).Set(mustJSON(b.Position), stamp)
		if b.Meta.Level != 0 {
			st.register(FieldLevel).Set(mustJSON(b.Meta.Level), stamp)
		}
		if b.Meta.URL != "" {
			st.register(FieldURL).Set(mustJSON(b.Meta.URL), stamp)
		}
		if b.Meta.Caption != "" {
			st.register(FieldCaption).Set(mustJSON(b.Meta.Caption), stamp)
		}
		if b.Meta.Headers != nil {
			st.register(FieldHeaders).Set(mustJSON(b.Meta.Headers), stamp)
		}
		if b.Meta.Rows != nil {
			st.register(FieldRows).Set(mustJSON(b.Meta.Rows), stamp)
		}
		if b.Content != "" && textBearing(b.Type) {
			st.Text.InsertAt(0, b.Content, seedReplica)
		}
		d.blocks[b.ID] = st
	}
	// Local stamps must order after every seed stamp or a post-seed
	// field write would lose the tie-break against "seed".
	d.clock.Observe(stamp)
}

// Empty reports whether the doc holds no block states at all.
func (d *Doc) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.blocks) == 0
}

// Blocks returns the visible blocks ordered by position ascending, with
// block ID breaking ties so every replica renders the same order.
func (d *Doc) Blocks() []domain.Block {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Block, 0, len(d.blocks))
	for id, st := range d.blocks {
		if !st.visible() {
			continue
		}
		out = append(out, d.materializeBlock(id, st))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Block returns the materialized record for one visible block.
func (d *Doc) Block(blockID string) (domain.Block, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.blocks[blockID]
	if !ok || st.Type == "" {
		return domain.Block{}, ErrUnknownBlock
	}
	if st.Deleted {
		return domain.Block{}, ErrBlockDeleted
	}
	return d.materializeBlock(blockID, st), nil
}

func (d *Doc) materializeBlock(id string, st *blockState) domain.Block {
	b := domain.Block{ID: id, PageID: d.pageID, Type: st.Type}
	if st.Text != nil {
		b.Content = st.Text.String()
	}
	decodeField(st, id, FieldPosition, &b.Position)
	decodeField(st, id, FieldLevel, &b.Meta.Level)
	decodeField(st, id, FieldURL, &b.Meta.URL)
	decodeField(st, id, FieldCaption, &b.Meta.Caption)
	decodeField(st, id, FieldHeaders, &b.Meta.Headers)
	decodeField(st, id, FieldRows, &b.Meta.Rows)
	return b
}

// decodeField materializes one register. A value of the wrong shape is
// dropped to the zero value and logged; it never fails materialization.
func decodeField[T any](st *blockState, blockID, field string, dst *T) {
	r, ok := st.Fields[field]
	if !ok || len(r.Value) == 0 {
		return
	}
	if err := json.Unmarshal(r.Value, dst); err != nil {
		log.Printf("crdt: block %s: dropping field %s value %s: %v", blockID, field, r.Value, err)
	}
}

// docSnapshot is the serialized full state, used to bring a joining
// session up to date without replaying history.
type docSnapshot struct {
	PageID string                 `json:"pageId"`
	Clock  uint64                 `json:"clock"`
	Blocks map[string]*blockState `json:"blocks"`
}

// Snapshot serializes the complete replicated state, tombstones
// included.
func (d *Doc) Snapshot() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return json.Marshal(docSnapshot{PageID: d.pageID, Clock: d.clock.count, Blocks: d.blocks})
}

// Restore replaces the doc state from a snapshot produced by Snapshot.
// The local clock advances past the snapshot clock so later local
// stamps stay ahead of everything in it.
func (d *Doc) Restore(data []byte) error {
	var snap docSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	if snap.PageID != "" && snap.PageID != d.pageID {
		return fmt.Errorf("restore snapshot: page %q does not match %q", snap.PageID, d.pageID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocks = make(map[string]*blockState, len(snap.Blocks))
	for id, st := range snap.Blocks {
		if st.Text == nil {
			st.Text = NewText()
		}
		if st.Fields == nil {
			st.Fields = make(map[string]*Register)
		}
		d.blocks[id] = st
	}
	d.clock.Observe(Stamp{Count: snap.Clock})
	return nil
}
