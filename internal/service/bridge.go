package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/cenkalti/backoff"

	"notehub/internal/crdt"
	"notehub/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Reconciliation Bridge
// ─────────────────────────────────────────────────────────────

// BlockPersister is the slice of block storage the bridge needs.
type BlockPersister interface {
	ListBlocks(pageID string) ([]domain.Block, error)
	SaveBlock(b *domain.Block) error
	DeleteBlock(id string) error
}

// SnapshotStore caches serialized document state per page so a reload
// does not have to rebuild replicated state from block rows.
type SnapshotStore interface {
	Put(pageID string, data []byte) error
	Get(pageID string) ([]byte, error)
	Delete(pageID string) error
}

// SyncState describes where one block stands between the live document
// and this node's store.
type SyncState int

const (
	// SyncClean: store and live document agree.
	SyncClean SyncState = iota
	// SyncPendingRemoteApply: a remote change reached memory; the
	// originating node owns persisting it, so this node's store lags
	// until the next snapshot write.
	SyncPendingRemoteApply
	// SyncPendingLocalPersist: a local change is waiting for the
	// debounced persist.
	SyncPendingLocalPersist
)

const persistDebounce = 300 * time.Millisecond

type liveDoc struct {
	doc      *crdt.Doc
	refs     int
	dirty    map[string]bool
	sync     map[string]SyncState
	schedule func(func())
	// snapStale is set by the doc's change listener; the persist tick
	// skips the snapshot write when nothing visible changed since the
	// last one.
	snapStale bool
}

// Bridge owns the live document per page and is the only writer of
// block rows on behalf of live editing. Edits apply to memory first and
// reach the store through a debounced persist; a persist failure is
// retried, then surfaced as an event, and never rolls the in-memory
// edit back.
type Bridge struct {
	replica string
	store   BlockPersister
	snaps   SnapshotStore
	emitter EventEmitter

	mu   sync.Mutex
	docs map[string]*liveDoc

	// retry wraps one persist attempt; tests swap in a no-wait version.
	retry func(op func() error) error
}

func NewBridge(replica string, store BlockPersister, snaps SnapshotStore, emitter EventEmitter) *Bridge {
	b := &Bridge{
		replica: replica,
		store:   store,
		snaps:   snaps,
		emitter: emitter,
		docs:    make(map[string]*liveDoc),
		retry: func(op func() error) error {
			return backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
		},
	}
	return b
}

// Acquire loads (or refs) the live document for a page. The first
// acquire restores from the snapshot cache when present, otherwise
// seeds from persisted block rows. An already-live document always wins
// over the store: it may hold edits the store has not seen yet.
func (br *Bridge) Acquire(pageID string) (*crdt.Doc, error) {
	br.mu.Lock()
	defer br.mu.Unlock()
	if ld, ok := br.docs[pageID]; ok {
		ld.refs++
		return ld.doc, nil
	}
	doc := crdt.NewDoc(pageID, br.replica)
	if br.snaps != nil {
		if data, err := br.snaps.Get(pageID); err != nil {
			log.Printf("bridge: snapshot read for page %s: %v", pageID, err)
		} else if data != nil {
			if err := doc.Restore(data); err != nil {
				log.Printf("bridge: snapshot restore for page %s: %v", pageID, err)
				doc = crdt.NewDoc(pageID, br.replica)
			}
		}
	}
	if doc.Empty() {
		blocks, err := br.store.ListBlocks(pageID)
		if err != nil {
			return nil, fmt.Errorf("load page %s: %w", pageID, err)
		}
		doc.Seed(blocks)
	}
	ld := &liveDoc{
		doc:      doc,
		refs:     1,
		dirty:    make(map[string]bool),
		sync:     make(map[string]SyncState),
		schedule: debounce.New(persistDebounce),
	}
	doc.OnChange(func([]string) {
		br.mu.Lock()
		ld.snapStale = true
		br.mu.Unlock()
	})
	br.docs[pageID] = ld
	return doc, nil
}

// Release drops one reference. When the last session leaves, pending
// local changes are flushed and the snapshot cache is refreshed before
// the document is evicted.
func (br *Bridge) Release(ctx context.Context, pageID string) {
	br.mu.Lock()
	ld, ok := br.docs[pageID]
	if !ok {
		br.mu.Unlock()
		return
	}
	ld.refs--
	if ld.refs > 0 {
		br.mu.Unlock()
		return
	}
	delete(br.docs, pageID)
	br.mu.Unlock()

	br.persist(ctx, pageID, ld)
}

func (br *Bridge) live(pageID string) (*liveDoc, error) {
	br.mu.Lock()
	defer br.mu.Unlock()
	ld, ok := br.docs[pageID]
	if !ok {
		return nil, fmt.Errorf("page %s has no live document", pageID)
	}
	return ld, nil
}

// InsertBlock creates a block in the live document and schedules its
// persist.
func (br *Bridge) InsertBlock(ctx context.Context, pageID string, blockType domain.BlockType, position int, content string, meta domain.BlockMeta) (domain.Block, crdt.Fragment, error) {
	ld, err := br.live(pageID)
	if err != nil {
		return domain.Block{}, crdt.Fragment{}, err
	}
	rec, frag, err := ld.doc.InsertBlock(blockType, position, content, meta)
	if err != nil {
		return domain.Block{}, crdt.Fragment{}, err
	}
	br.markDirty(pageID, ld, rec.ID)
	return rec, frag, nil
}

// EditText applies a local text edit and schedules its persist.
func (br *Bridge) EditText(ctx context.Context, pageID, blockID string, offset int, insert string, deleteLen int) (crdt.Fragment, error) {
	ld, err := br.live(pageID)
	if err != nil {
		return crdt.Fragment{}, err
	}
	frag, err := ld.doc.EditText(blockID, offset, insert, deleteLen)
	if err != nil {
		return crdt.Fragment{}, err
	}
	if !frag.Empty() {
		br.markDirty(pageID, ld, blockID)
	}
	return frag, nil
}

// SetField applies a local structured-field write and schedules its
// persist.
func (br *Bridge) SetField(ctx context.Context, pageID, blockID, field string, value any) (crdt.Fragment, error) {
	ld, err := br.live(pageID)
	if err != nil {
		return crdt.Fragment{}, err
	}
	frag, err := ld.doc.SetField(blockID, field, value)
	if err != nil {
		return crdt.Fragment{}, err
	}
	br.markDirty(pageID, ld, blockID)
	return frag, nil
}

// DeleteBlock tombstones a block and schedules the row deletion.
func (br *Bridge) DeleteBlock(ctx context.Context, pageID, blockID string) (crdt.Fragment, error) {
	ld, err := br.live(pageID)
	if err != nil {
		return crdt.Fragment{}, err
	}
	frag, err := ld.doc.DeleteBlock(blockID)
	if err != nil {
		return crdt.Fragment{}, err
	}
	br.markDirty(pageID, ld, blockID)
	return frag, nil
}

// ApplyLocal merges a fragment that originated from a client connected
// to this node. This node owns persisting those changes, so every
// touched block is scheduled for persist.
func (br *Bridge) ApplyLocal(ctx context.Context, frag crdt.Fragment) (bool, error) {
	ld, err := br.live(frag.PageID)
	if err != nil {
		return false, err
	}
	changed, err := ld.doc.ApplyRemote(frag)
	if err != nil {
		return false, err
	}
	for _, op := range frag.Ops {
		br.markDirty(frag.PageID, ld, op.BlockID)
	}
	return changed, nil
}

// ApplyRemote merges a fragment relayed from another node. The
// originating node persists it, so nothing is scheduled here; the
// blocks are tracked as lagging the local store until the next snapshot
// write.
func (br *Bridge) ApplyRemote(frag crdt.Fragment) (bool, error) {
	ld, err := br.live(frag.PageID)
	if err != nil {
		return false, err
	}
	changed, err := ld.doc.ApplyRemote(frag)
	if err != nil {
		return false, err
	}
	br.mu.Lock()
	for _, op := range frag.Ops {
		if ld.sync[op.BlockID] != SyncPendingLocalPersist {
			ld.sync[op.BlockID] = SyncPendingRemoteApply
		}
	}
	br.mu.Unlock()
	return changed, nil
}

// Blocks returns the live ordered view of a page.
func (br *Bridge) Blocks(pageID string) ([]domain.Block, error) {
	ld, err := br.live(pageID)
	if err != nil {
		return nil, err
	}
	return ld.doc.Blocks(), nil
}

// Snapshot serializes the live document for delivery to a joining
// session.
func (br *Bridge) Snapshot(pageID string) ([]byte, error) {
	ld, err := br.live(pageID)
	if err != nil {
		return nil, err
	}
	return ld.doc.Snapshot()
}

// BlockSyncState reports where one block stands relative to the store.
func (br *Bridge) BlockSyncState(pageID, blockID string) SyncState {
	br.mu.Lock()
	defer br.mu.Unlock()
	ld, ok := br.docs[pageID]
	if !ok {
		return SyncClean
	}
	return ld.sync[blockID]
}

// markDirty schedules the debounced persist. The deferred run uses a
// fresh context: the request context that carried the edit is usually
// done long before the debounce fires.
func (br *Bridge) markDirty(pageID string, ld *liveDoc, blockID string) {
	br.mu.Lock()
	ld.dirty[blockID] = true
	ld.sync[blockID] = SyncPendingLocalPersist
	br.mu.Unlock()
	ld.schedule(func() { br.persist(context.Background(), pageID, ld) })
}

// Flush persists pending local changes for a page immediately,
// bypassing the debounce. Used on shutdown and in tests.
func (br *Bridge) Flush(ctx context.Context, pageID string) {
	br.mu.Lock()
	ld, ok := br.docs[pageID]
	br.mu.Unlock()
	if ok {
		br.persist(ctx, pageID, ld)
	}
}

// persist writes every dirty block through the store with bounded
// retries, then refreshes the snapshot cache on the same tick so the
// cache never lags rows already flushed. On failure the blocks stay
// dirty for the next attempt and an event reports unsaved changes; the
// in-memory state is never touched.
func (br *Bridge) persist(ctx context.Context, pageID string, ld *liveDoc) {
	br.mu.Lock()
	if len(ld.dirty) == 0 && !ld.snapStale {
		br.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(ld.dirty))
	for id := range ld.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	ld.dirty = make(map[string]bool)
	br.mu.Unlock()

	var failed []string
	for _, id := range ids {
		if err := br.persistBlock(ld, id); err != nil {
			log.Printf("bridge: persist block %s on page %s: %v", id, pageID, err)
			failed = append(failed, id)
			continue
		}
		br.mu.Lock()
		if !ld.dirty[id] {
			ld.sync[id] = SyncClean
		}
		br.mu.Unlock()
	}
	if len(failed) > 0 {
		br.mu.Lock()
		for _, id := range failed {
			ld.dirty[id] = true
			ld.sync[id] = SyncPendingLocalPersist
		}
		br.mu.Unlock()
		br.emitter.Emit(ctx, "doc:unsaved-changes", map[string]any{
			"pageId": pageID, "blockIds": failed,
		})
	}
	br.writeSnapshot(pageID, ld)
}

// writeSnapshot refreshes the cached full state when it is stale. A
// failed write leaves the doc marked stale so the next tick retries.
func (br *Bridge) writeSnapshot(pageID string, ld *liveDoc) {
	if br.snaps == nil {
		return
	}
	br.mu.Lock()
	stale := ld.snapStale
	ld.snapStale = false
	br.mu.Unlock()
	if !stale {
		return
	}
	data, err := ld.doc.Snapshot()
	if err == nil {
		err = br.snaps.Put(pageID, data)
	}
	if err != nil {
		log.Printf("bridge: snapshot write for page %s: %v", pageID, err)
		br.mu.Lock()
		ld.snapStale = true
		br.mu.Unlock()
	}
}

func (br *Bridge) persistBlock(ld *liveDoc, blockID string) error {
	rec, err := ld.doc.Block(blockID)
	switch {
	case errors.Is(err, crdt.ErrBlockDeleted):
		return br.retry(func() error { return br.store.DeleteBlock(blockID) })
	case errors.Is(err, crdt.ErrUnknownBlock):
		// Pending state without an insert yet; nothing to write.
		return nil
	case err != nil:
		return err
	}
	return br.retry(func() error { return br.store.SaveBlock(&rec) })
}
