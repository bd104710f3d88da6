package hub

import (
	"context"
	"log"

	"notehub/internal/crdt"
	"notehub/internal/domain"
	"notehub/internal/presence"
)

// ─────────────────────────────────────────────────────────────
// Hub (per-page group membership and message relay)
// ─────────────────────────────────────────────────────────────

// Authenticator resolves a handshake credential to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) domain.Identity
}

// AccessChecker decides whether an identity may join a page.
type AccessChecker interface {
	CanAccess(ctx context.Context, identity domain.Identity, pageID string) (bool, error)
}

// DocumentManager is the slice of the reconciliation bridge the hub
// drives: lifecycle plus the two fragment paths. Fragments from clients
// on this node go through ApplyLocal so this node persists them;
// fragments relayed from other nodes go through ApplyRemote.
type DocumentManager interface {
	Acquire(pageID string) (*crdt.Doc, error)
	Release(ctx context.Context, pageID string)
	Snapshot(pageID string) ([]byte, error)
	ApplyLocal(ctx context.Context, frag crdt.Fragment) (bool, error)
	ApplyRemote(frag crdt.Fragment) (bool, error)
}

// Relay fans frames out to other nodes serving the same pages.
type Relay interface {
	Publish(ctx context.Context, pageID string, data []byte) error
}

type inboundMsg struct {
	s   *session
	msg Message
}

type remoteMsg struct {
	pageID string
	data   []byte
}

// Hub owns page membership and the presence registry. Everything except
// the session write pumps runs on the single dispatch goroutine, so doc
// mutation and broadcast for one node are never concurrent with each
// other.
type Hub struct {
	auth     Authenticator
	access   AccessChecker
	docs     DocumentManager
	registry *presence.Registry
	relay    Relay

	register   chan *session
	unregister chan *session
	inbound    chan inboundMsg
	remote     chan remoteMsg
	evictions  chan []presence.Evicted

	sessions map[*session]bool
	pages    map[string]map[*session]bool
}

func New(auth Authenticator, access AccessChecker, docs DocumentManager, registry *presence.Registry) *Hub {
	return &Hub{
		auth:       auth,
		access:     access,
		docs:       docs,
		registry:   registry,
		register:   make(chan *session),
		unregister: make(chan *session),
		inbound:    make(chan inboundMsg, 256),
		remote:     make(chan remoteMsg, 256),
		evictions:  make(chan []presence.Evicted, 16),
		sessions:   make(map[*session]bool),
		pages:      make(map[string]map[*session]bool),
	}
}

// SetRelay attaches a cross-node relay. Must be called before Run.
func (h *Hub) SetRelay(r Relay) {
	h.relay = r
}

// dispatch hands a decoded client frame to the dispatch loop. Called
// from session read pumps.
func (h *Hub) dispatch(s *session, msg Message) {
	h.inbound <- inboundMsg{s: s, msg: msg}
}

// disconnect hands a dead session to the dispatch loop. Called from
// session read pumps.
func (h *Hub) disconnect(s *session) {
	h.unregister <- s
}

// InjectRemote feeds a frame relayed from another node into the
// dispatch loop.
func (h *Hub) InjectRemote(pageID string, data []byte) {
	h.remote <- remoteMsg{pageID: pageID, data: data}
}

// Evict feeds sweeper evictions into the dispatch loop so stale-session
// cleanup runs with the same ordering as explicit leaves.
func (h *Hub) Evict(evs []presence.Evicted) {
	if len(evs) > 0 {
		h.evictions <- evs
	}
}

// Run is the dispatch loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case s := <-h.register:
			h.sessions[s] = true
		case s := <-h.unregister:
			h.handleDisconnect(ctx, s)
		case in := <-h.inbound:
			h.handleMessage(ctx, in.s, in.msg)
		case rm := <-h.remote:
			h.handleRemote(rm.pageID, rm.data)
		case evs := <-h.evictions:
			h.handleEvictions(ctx, evs)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleMessage(ctx context.Context, s *session, msg Message) {
	switch msg.Type {
	case MsgJoinPage:
		h.handleJoin(ctx, s, msg.PageID)
	case MsgLeavePage:
		h.leavePage(ctx, s, msg.PageID)
		if len(s.pages) == 0 && s.state == StateActive {
			s.state = StateJoined
		}
	case MsgDocumentFragment:
		h.handleFragment(ctx, s, msg)
	case MsgPresenceUpdate:
		h.handlePresence(s, msg)
	case MsgTypingStart:
		h.handleTyping(s, msg.PageID, msg.BlockID)
	case MsgTypingStop:
		h.handleTyping(s, msg.PageID, "")
	case MsgHeartbeat:
		for pageID := range s.pages {
			h.registry.Touch(pageID, s.id)
		}
	default:
		log.Printf("hub: session %s sent unknown message type %q", s.id, msg.Type)
	}
}

// handleJoin admits a session to a page group. A denied join leaves the
// connection open; the client may retry with another page or
// credential.
func (h *Hub) handleJoin(ctx context.Context, s *session, pageID string) {
	if pageID == "" {
		s.enqueue(encodeMessage(Message{Type: MsgAccessDenied, Reason: "missing page id"}))
		return
	}
	if s.pages[pageID] {
		return
	}
	ok, err := h.access.CanAccess(ctx, s.identity, pageID)
	if err != nil {
		log.Printf("hub: access check for page %s: %v", pageID, err)
		s.enqueue(encodeMessage(Message{Type: MsgAccessDenied, PageID: pageID, Reason: "access check failed"}))
		return
	}
	if !ok {
		s.enqueue(encodeMessage(Message{Type: MsgAccessDenied, PageID: pageID, Reason: "page not accessible"}))
		return
	}
	if _, err := h.docs.Acquire(pageID); err != nil {
		log.Printf("hub: load page %s: %v", pageID, err)
		s.enqueue(encodeMessage(Message{Type: MsgAccessDenied, PageID: pageID, Reason: "page unavailable"}))
		return
	}
	s.state = StateJoined
	s.pages[pageID] = true
	group, ok := h.pages[pageID]
	if !ok {
		group = make(map[*session]bool)
		h.pages[pageID] = group
	}
	group[s] = true
	rec := h.registry.Join(pageID, s.identity, s.id)
	s.state = StateActive

	snap, err := h.docs.Snapshot(pageID)
	if err != nil {
		log.Printf("hub: snapshot page %s: %v", pageID, err)
	} else {
		s.enqueue(encodeMessage(Message{Type: MsgSnapshot, PageID: pageID, Snapshot: snap}))
	}
	members := h.registry.List(pageID)
	s.enqueue(encodeMessage(Message{Type: MsgMembershipChanged, PageID: pageID, Records: members}))
	h.broadcast(pageID, s, encodeMessage(Message{Type: MsgSessionJoined, PageID: pageID, Record: rec}))
	h.broadcast(pageID, s, encodeMessage(Message{Type: MsgMembershipChanged, PageID: pageID, Records: members}))
}

// leavePage removes a session from one page group and releases the doc
// reference it held.
func (h *Hub) leavePage(ctx context.Context, s *session, pageID string) {
	if !s.pages[pageID] {
		return
	}
	delete(s.pages, pageID)
	if group, ok := h.pages[pageID]; ok {
		delete(group, s)
		if len(group) == 0 {
			delete(h.pages, pageID)
		}
	}
	rec := h.registry.Leave(pageID, s.id)
	h.docs.Release(ctx, pageID)
	if rec != nil {
		h.broadcast(pageID, s, encodeMessage(Message{Type: MsgSessionLeft, PageID: pageID, Record: rec}))
	}
	h.broadcast(pageID, s, encodeMessage(Message{
		Type: MsgMembershipChanged, PageID: pageID, Records: h.registry.List(pageID),
	}))
}

func (h *Hub) handleDisconnect(ctx context.Context, s *session) {
	if !h.sessions[s] {
		return
	}
	delete(h.sessions, s)
	for pageID := range s.pages {
		h.leavePage(ctx, s, pageID)
	}
	s.state = StateDisconnected
	close(s.send)
}

// handleFragment merges a client fragment and relays it. A fragment the
// session has no right to send (page not joined) or that fails
// validation is dropped and logged; it never tears the session down.
func (h *Hub) handleFragment(ctx context.Context, s *session, msg Message) {
	if !s.pages[msg.PageID] {
		log.Printf("hub: session %s sent fragment for unjoined page %s", s.id, msg.PageID)
		return
	}
	frag, err := crdt.DecodeFragment(msg.Fragment)
	if err != nil {
		log.Printf("hub: session %s: %v", s.id, err)
		return
	}
	if frag.PageID != msg.PageID {
		log.Printf("hub: session %s fragment page mismatch", s.id)
		return
	}
	if _, err := h.docs.ApplyLocal(ctx, frag); err != nil {
		log.Printf("hub: apply fragment from session %s: %v", s.id, err)
		return
	}
	h.registry.Touch(msg.PageID, s.id)
	out := encodeMessage(Message{Type: MsgDocumentFragment, PageID: msg.PageID, Fragment: msg.Fragment})
	h.broadcast(msg.PageID, s, out)
	h.publish(ctx, msg.PageID, out)
}

// handlePresence applies a cursor/selection update and relays the full
// refreshed record. Best effort: unknown sessions or pages are ignored.
func (h *Hub) handlePresence(s *session, msg Message) {
	if msg.Presence == nil || !s.pages[msg.PageID] {
		return
	}
	var rec *presence.Record
	p := msg.Presence
	if p.Cursor != nil || p.ClearCursor {
		rec = h.registry.SetCursor(msg.PageID, s.id, p.Cursor)
	}
	if p.Selection != nil || p.ClearSelection {
		rec = h.registry.SetSelection(msg.PageID, s.id, p.Selection)
	}
	if rec == nil {
		return
	}
	out := encodeMessage(Message{Type: MsgPresenceUpdate, PageID: msg.PageID, Record: rec})
	h.broadcast(msg.PageID, s, out)
	h.publish(context.Background(), msg.PageID, out)
}

func (h *Hub) handleTyping(s *session, pageID, blockID string) {
	if !s.pages[pageID] {
		return
	}
	rec := h.registry.SetTyping(pageID, s.id, blockID)
	if rec == nil {
		return
	}
	msgType := MsgTypingStart
	if blockID == "" {
		msgType = MsgTypingStop
	}
	out := encodeMessage(Message{Type: msgType, PageID: pageID, Record: rec})
	h.broadcast(pageID, s, out)
	h.publish(context.Background(), pageID, out)
}

// handleRemote applies a frame relayed from another node and forwards
// it to local sessions on the page. Remote fragments are not persisted
// here; the originating node owns that.
func (h *Hub) handleRemote(pageID string, data []byte) {
	if len(h.pages[pageID]) == 0 {
		return
	}
	msg, err := decodeMessage(data)
	if err != nil {
		log.Printf("hub: malformed relay frame for page %s: %v", pageID, err)
		return
	}
	if msg.Type == MsgDocumentFragment {
		frag, err := crdt.DecodeFragment(msg.Fragment)
		if err != nil {
			log.Printf("hub: relay fragment for page %s: %v", pageID, err)
			return
		}
		if _, err := h.docs.ApplyRemote(frag); err != nil {
			log.Printf("hub: apply relay fragment for page %s: %v", pageID, err)
			return
		}
	}
	h.broadcast(pageID, nil, data)
}

func (h *Hub) handleEvictions(ctx context.Context, evs []presence.Evicted) {
	for _, ev := range evs {
		var stale *session
		for s := range h.pages[ev.PageID] {
			if s.id == ev.Record.SessionID {
				stale = s
				break
			}
		}
		if stale != nil {
			delete(stale.pages, ev.PageID)
			delete(h.pages[ev.PageID], stale)
			if len(h.pages[ev.PageID]) == 0 {
				delete(h.pages, ev.PageID)
			}
			h.docs.Release(ctx, ev.PageID)
		}
		h.broadcast(ev.PageID, stale, encodeMessage(Message{
			Type: MsgSessionLeft, PageID: ev.PageID, Record: &ev.Record,
		}))
		h.broadcast(ev.PageID, stale, encodeMessage(Message{
			Type: MsgMembershipChanged, PageID: ev.PageID, Records: h.registry.List(ev.PageID),
		}))
	}
}

// broadcast sends a frame to every session on a page except origin.
func (h *Hub) broadcast(pageID string, origin *session, data []byte) {
	for s := range h.pages[pageID] {
		if s == origin {
			continue
		}
		s.enqueue(data)
	}
}

func (h *Hub) publish(ctx context.Context, pageID string, data []byte) {
	if h.relay == nil {
		return
	}
	if err := h.relay.Publish(ctx, pageID, data); err != nil {
		log.Printf("hub: relay publish for page %s: %v", pageID, err)
	}
}
