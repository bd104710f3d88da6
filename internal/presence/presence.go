package presence

import (
	"sync"
	"time"

	"notehub/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Presence (ephemeral per-session state, never persisted)
// ─────────────────────────────────────────────────────────────

// Cursor is a caret location inside a block.
type Cursor struct {
	BlockID string `json:"blockId"`
	Offset  int    `json:"offset"`
}

// Selection is a highlighted character range inside a block.
type Selection struct {
	BlockID string `json:"blockId"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// Record is what one session exposes to its peers. Every field is
// overwrite-latest-wins: presence describes what is true now, so stale
// values are simply replaced, never merged.
type Record struct {
	SessionID string     `json:"sessionId"`
	UserID    string     `json:"userId"`
	Name      string     `json:"name"`
	Avatar    string     `json:"avatar,omitempty"`
	Guest     bool       `json:"guest,omitempty"`
	Cursor    *Cursor    `json:"cursor,omitempty"`
	Selection *Selection `json:"selection,omitempty"`
	TypingIn  string     `json:"typingIn,omitempty"`
	LastSeen  time.Time  `json:"lastSeen"`
}

// Registry tracks which sessions are present on which pages. It is an
// explicit injected object rather than package-level maps, keyed by
// page ID, with page entries created on first join and dropped on last
// leave.
type Registry struct {
	mu    sync.Mutex
	pages map[string]map[string]*Record // pageID -> sessionID -> record
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		pages: make(map[string]map[string]*Record),
		now:   time.Now,
	}
}

// Join adds a session to a page group and returns its fresh record.
func (r *Registry) Join(pageID string, identity domain.Identity, sessionID string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	group, ok := r.pages[pageID]
	if !ok {
		group = make(map[string]*Record)
		r.pages[pageID] = group
	}
	rec := &Record{
		SessionID: sessionID,
		UserID:    identity.ID,
		Name:      identity.Name,
		Avatar:    identity.Avatar,
		Guest:     identity.IsGuest(),
		LastSeen:  r.now(),
	}
	group[sessionID] = rec
	return rec
}

// Leave removes a session from one page group. Returns the removed
// record, or nil if the session was not present.
func (r *Registry) Leave(pageID, sessionID string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(pageID, sessionID)
}

func (r *Registry) removeLocked(pageID, sessionID string) *Record {
	group, ok := r.pages[pageID]
	if !ok {
		return nil
	}
	rec, ok := group[sessionID]
	if !ok {
		return nil
	}
	delete(group, sessionID)
	if len(group) == 0 {
		delete(r.pages, pageID)
	}
	return rec
}

// List returns copies of the records on a page, so callers can hand
// them out without racing later updates.
func (r *Registry) List(pageID string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	group := r.pages[pageID]
	out := make([]Record, 0, len(group))
	for _, rec := range group {
		out = append(out, *rec)
	}
	return out
}

// Count returns the number of sessions on a page.
func (r *Registry) Count(pageID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pages[pageID])
}

// update mutates a record and refreshes its heartbeat, returning a copy
// of the new state.
func (r *Registry) update(pageID, sessionID string, fn func(*Record)) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	group, ok := r.pages[pageID]
	if !ok {
		return nil
	}
	rec, ok := group[sessionID]
	if !ok {
		return nil
	}
	fn(rec)
	rec.LastSeen = r.now()
	updated := *rec
	return &updated
}

// SetCursor overwrites the session's cursor. nil clears it.
func (r *Registry) SetCursor(pageID, sessionID string, c *Cursor) *Record {
	return r.update(pageID, sessionID, func(rec *Record) { rec.Cursor = c })
}

// SetSelection overwrites the session's selection. nil clears it.
func (r *Registry) SetSelection(pageID, sessionID string, s *Selection) *Record {
	return r.update(pageID, sessionID, func(rec *Record) { rec.Selection = s })
}

// SetTyping marks which block the session is typing in; empty clears.
func (r *Registry) SetTyping(pageID, sessionID, blockID string) *Record {
	return r.update(pageID, sessionID, func(rec *Record) { rec.TypingIn = blockID })
}

// Touch refreshes the heartbeat without changing anything else.
func (r *Registry) Touch(pageID, sessionID string) {
	r.update(pageID, sessionID, func(*Record) {})
}

// Evicted is one record removed by an expiry sweep.
type Evicted struct {
	PageID string
	Record Record
}

// SweepStale removes every record whose heartbeat is older than ttl and
// returns what was evicted, grouped for departure notifications.
func (r *Registry) SweepStale(ttl time.Duration) []Evicted {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-ttl)
	var out []Evicted
	for pageID, group := range r.pages {
		for sessionID, rec := range group {
			if rec.LastSeen.Before(cutoff) {
				out = append(out, Evicted{PageID: pageID, Record: *rec})
				delete(group, sessionID)
			}
		}
		if len(group) == 0 {
			delete(r.pages, pageID)
		}
	}
	return out
}
