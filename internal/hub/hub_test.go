package hub

import (
	"context"
	"testing"
	"time"

	"notehub/internal/crdt"
	"notehub/internal/domain"
	"notehub/internal/presence"
)

// fakeConn satisfies wsConn for sessions whose pumps never run.
type fakeConn struct{}

func (fakeConn) ReadMessage() (int, []byte, error)      { select {} }
func (fakeConn) WriteMessage(int, []byte) error         { return nil }
func (fakeConn) SetReadLimit(int64)                     {}
func (fakeConn) SetReadDeadline(time.Time) error        { return nil }
func (fakeConn) SetWriteDeadline(time.Time) error       { return nil }
func (fakeConn) SetPongHandler(func(string) error)      {}
func (fakeConn) Close() error                           { return nil }

type fakeAuth struct{}

func (fakeAuth) Authenticate(_ context.Context, token string) domain.Identity {
	if token == "owner" {
		return domain.AuthenticatedIdentity(&domain.User{ID: "u1", Name: "Owner"})
	}
	return domain.GuestIdentity("guest-1", "Guest 1")
}

type fakeAccess struct {
	denied map[string]bool
}

func (a fakeAccess) CanAccess(_ context.Context, _ domain.Identity, pageID string) (bool, error) {
	return !a.denied[pageID], nil
}

type fakeDocs struct {
	acquired    map[string]int
	released    map[string]int
	applyLocal  []crdt.Fragment
	applyRemote []crdt.Fragment
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{acquired: map[string]int{}, released: map[string]int{}}
}

func (d *fakeDocs) Acquire(pageID string) (*crdt.Doc, error) {
	d.acquired[pageID]++
	return crdt.NewDoc(pageID, "node-test"), nil
}

func (d *fakeDocs) Release(_ context.Context, pageID string) {
	d.released[pageID]++
}

func (d *fakeDocs) Snapshot(pageID string) ([]byte, error) {
	return crdt.NewDoc(pageID, "node-test").Snapshot()
}

func (d *fakeDocs) ApplyLocal(_ context.Context, frag crdt.Fragment) (bool, error) {
	d.applyLocal = append(d.applyLocal, frag)
	return true, nil
}

func (d *fakeDocs) ApplyRemote(frag crdt.Fragment) (bool, error) {
	d.applyRemote = append(d.applyRemote, frag)
	return true, nil
}

type fakeRelay struct {
	published []remoteMsg
}

func (r *fakeRelay) Publish(_ context.Context, pageID string, data []byte) error {
	r.published = append(r.published, remoteMsg{pageID: pageID, data: data})
	return nil
}

// testHub wires a hub with fakes. Tests drive handleMessage directly,
// mirroring the single-threaded dispatch loop.
func testHub(denied ...string) (*Hub, *fakeDocs) {
	deny := map[string]bool{}
	for _, p := range denied {
		deny[p] = true
	}
	docs := newFakeDocs()
	h := New(fakeAuth{}, fakeAccess{denied: deny}, docs, presence.NewRegistry())
	return h, docs
}

func connect(h *Hub, token string) *session {
	s := newSession(h, fakeConn{})
	s.state = StateAuthenticating
	s.identity = fakeAuth{}.Authenticate(context.Background(), token)
	h.sessions[s] = true
	return s
}

func recv(t *testing.T, s *session) Message {
	t.Helper()
	select {
	case data := <-s.send:
		msg, err := decodeMessage(data)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return msg
	default:
		t.Fatal("no frame queued")
		return Message{}
	}
}

func expectSilence(t *testing.T, s *session) {
	t.Helper()
	select {
	case data := <-s.send:
		t.Fatalf("unexpected frame: %s", data)
	default:
	}
}

func join(t *testing.T, h *Hub, s *session, pageID string) {
	t.Helper()
	h.handleMessage(context.Background(), s, Message{Type: MsgJoinPage, PageID: pageID})
}

func TestJoinDeliversSnapshotAndMembership(t *testing.T) {
	h, docs := testHub()
	s1 := connect(h, "owner")
	join(t, h, s1, "p1")

	if msg := recv(t, s1); msg.Type != MsgSnapshot || len(msg.Snapshot) == 0 {
		t.Fatalf("first frame = %+v, want snapshot", msg)
	}
	msg := recv(t, s1)
	if msg.Type != MsgMembershipChanged || len(msg.Records) != 1 {
		t.Fatalf("second frame = %+v, want membership with 1 record", msg)
	}
	if docs.acquired["p1"] != 1 {
		t.Fatalf("doc acquired %d times", docs.acquired["p1"])
	}
	if s1.state != StateActive {
		t.Fatalf("session state = %v", s1.state)
	}

	s2 := connect(h, "")
	join(t, h, s2, "p1")
	recv(t, s2) // snapshot
	if msg := recv(t, s2); len(msg.Records) != 2 {
		t.Fatalf("joiner membership = %+v", msg)
	}
	if msg := recv(t, s1); msg.Type != MsgSessionJoined || msg.Record == nil || msg.Record.SessionID != s2.id {
		t.Fatalf("peer notification = %+v", msg)
	}
	if msg := recv(t, s1); msg.Type != MsgMembershipChanged || len(msg.Records) != 2 {
		t.Fatalf("peer membership = %+v", msg)
	}
}

func TestAccessDeniedKeepsConnectionOpen(t *testing.T) {
	h, docs := testHub("secret")
	s := connect(h, "")
	join(t, h, s, "secret")

	msg := recv(t, s)
	if msg.Type != MsgAccessDenied || msg.PageID != "secret" {
		t.Fatalf("frame = %+v, want access-denied", msg)
	}
	if !h.sessions[s] {
		t.Fatal("session dropped after denial")
	}
	if docs.acquired["secret"] != 0 {
		t.Fatal("doc loaded for denied page")
	}

	// The same connection can still join an accessible page.
	join(t, h, s, "open")
	if msg := recv(t, s); msg.Type != MsgSnapshot {
		t.Fatalf("frame after retry = %+v", msg)
	}
}

func TestFragmentBroadcastExcludesOrigin(t *testing.T) {
	h, docs := testHub()
	relay := &fakeRelay{}
	h.SetRelay(relay)

	s1 := connect(h, "owner")
	s2 := connect(h, "")
	s3 := connect(h, "")
	for _, s := range []*session{s1, s2, s3} {
		join(t, h, s, "p1")
		for len(s.send) > 0 {
			<-s.send
		}
	}
	for _, s := range []*session{s1, s2} {
		for len(s.send) > 0 {
			<-s.send
		}
	}

	doc := crdt.NewDoc("p1", "client-a")
	_, frag, err := doc.InsertBlock(domain.BlockTypeText, 0, "hi", domain.BlockMeta{})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	raw, _ := crdt.EncodeFragment(frag)
	h.handleMessage(context.Background(), s1, Message{Type: MsgDocumentFragment, PageID: "p1", Fragment: raw})

	if len(docs.applyLocal) != 1 {
		t.Fatalf("applyLocal calls = %d", len(docs.applyLocal))
	}
	for _, peer := range []*session{s2, s3} {
		msg := recv(t, peer)
		if msg.Type != MsgDocumentFragment || string(msg.Fragment) != string(raw) {
			t.Fatalf("peer frame = %+v", msg)
		}
	}
	expectSilence(t, s1)
	if len(relay.published) != 1 || relay.published[0].pageID != "p1" {
		t.Fatalf("relay published = %+v", relay.published)
	}
}

func TestFragmentForUnjoinedPageDropped(t *testing.T) {
	h, docs := testHub()
	s := connect(h, "")
	raw, _ := crdt.EncodeFragment(crdt.Fragment{PageID: "p1", Origin: "x"})
	h.handleMessage(context.Background(), s, Message{Type: MsgDocumentFragment, PageID: "p1", Fragment: raw})
	if len(docs.applyLocal) != 0 {
		t.Fatal("fragment applied without membership")
	}
	if !h.sessions[s] {
		t.Fatal("session dropped over an application error")
	}
}

func TestLeaveReleasesDocAndNotifiesPeers(t *testing.T) {
	h, docs := testHub()
	s1 := connect(h, "owner")
	s2 := connect(h, "")
	join(t, h, s1, "p1")
	join(t, h, s2, "p1")
	for _, s := range []*session{s1, s2} {
		for len(s.send) > 0 {
			<-s.send
		}
	}

	h.handleMessage(context.Background(), s2, Message{Type: MsgLeavePage, PageID: "p1"})
	if docs.released["p1"] != 1 {
		t.Fatalf("doc released %d times", docs.released["p1"])
	}
	if h.registry.Count("p1") != 1 {
		t.Fatalf("registry count = %d", h.registry.Count("p1"))
	}
	if msg := recv(t, s1); msg.Type != MsgSessionLeft || msg.Record.SessionID != s2.id {
		t.Fatalf("peer frame = %+v", msg)
	}
	if msg := recv(t, s1); msg.Type != MsgMembershipChanged || len(msg.Records) != 1 {
		t.Fatalf("peer membership = %+v", msg)
	}
}

func TestDisconnectCleansEveryJoinedPage(t *testing.T) {
	h, docs := testHub()
	s := connect(h, "owner")
	join(t, h, s, "p1")
	join(t, h, s, "p2")

	h.handleDisconnect(context.Background(), s)
	if docs.released["p1"] != 1 || docs.released["p2"] != 1 {
		t.Fatalf("released = %+v", docs.released)
	}
	if h.registry.Count("p1") != 0 || h.registry.Count("p2") != 0 {
		t.Fatal("presence records survived disconnect")
	}
	if s.state != StateDisconnected {
		t.Fatalf("state = %v", s.state)
	}
	if h.sessions[s] {
		t.Fatal("session still registered")
	}
}

func TestRemoteFrameAppliedAndBroadcastToAll(t *testing.T) {
	h, docs := testHub()
	s1 := connect(h, "owner")
	join(t, h, s1, "p1")
	for len(s1.send) > 0 {
		<-s1.send
	}

	doc := crdt.NewDoc("p1", "node-other")
	_, frag, _ := doc.InsertBlock(domain.BlockTypeText, 0, "elsewhere", domain.BlockMeta{})
	raw, _ := crdt.EncodeFragment(frag)
	h.handleRemote("p1", encodeMessage(Message{Type: MsgDocumentFragment, PageID: "p1", Fragment: raw}))

	if len(docs.applyRemote) != 1 {
		t.Fatalf("applyRemote calls = %d", len(docs.applyRemote))
	}
	if len(docs.applyLocal) != 0 {
		t.Fatal("relay frame took the persisting path")
	}
	if msg := recv(t, s1); msg.Type != MsgDocumentFragment {
		t.Fatalf("local session frame = %+v", msg)
	}
}

func TestPresenceUpdateRelaysLatestRecord(t *testing.T) {
	h, _ := testHub()
	s1 := connect(h, "owner")
	s2 := connect(h, "")
	join(t, h, s1, "p1")
	join(t, h, s2, "p1")
	for _, s := range []*session{s1, s2} {
		for len(s.send) > 0 {
			<-s.send
		}
	}

	h.handleMessage(context.Background(), s1, Message{
		Type: MsgPresenceUpdate, PageID: "p1",
		Presence: &PresencePayload{Cursor: &presence.Cursor{BlockID: "b1", Offset: 3}},
	})
	msg := recv(t, s2)
	if msg.Type != MsgPresenceUpdate || msg.Record == nil || msg.Record.Cursor == nil {
		t.Fatalf("frame = %+v", msg)
	}
	if msg.Record.Cursor.Offset != 3 {
		t.Fatalf("cursor = %+v", msg.Record.Cursor)
	}
	expectSilence(t, s1)

	h.handleMessage(context.Background(), s1, Message{
		Type: MsgPresenceUpdate, PageID: "p1",
		Presence: &PresencePayload{ClearCursor: true},
	})
	if msg := recv(t, s2); msg.Record.Cursor != nil {
		t.Fatalf("cursor not cleared: %+v", msg.Record)
	}
}

func TestTypingIndicators(t *testing.T) {
	h, _ := testHub()
	s1 := connect(h, "owner")
	s2 := connect(h, "")
	join(t, h, s1, "p1")
	join(t, h, s2, "p1")
	for _, s := range []*session{s1, s2} {
		for len(s.send) > 0 {
			<-s.send
		}
	}

	h.handleMessage(context.Background(), s1, Message{Type: MsgTypingStart, PageID: "p1", BlockID: "b1"})
	if msg := recv(t, s2); msg.Type != MsgTypingStart || msg.Record.TypingIn != "b1" {
		t.Fatalf("frame = %+v", msg)
	}
	h.handleMessage(context.Background(), s1, Message{Type: MsgTypingStop, PageID: "p1"})
	if msg := recv(t, s2); msg.Type != MsgTypingStop || msg.Record.TypingIn != "" {
		t.Fatalf("frame = %+v", msg)
	}
}

func TestSweeperEvictionNotifiesPeers(t *testing.T) {
	h, docs := testHub()
	s1 := connect(h, "owner")
	s2 := connect(h, "")
	join(t, h, s1, "p1")
	join(t, h, s2, "p1")
	for _, s := range []*session{s1, s2} {
		for len(s.send) > 0 {
			<-s.send
		}
	}

	// Simulate the sweeper having removed s2's record.
	rec := h.registry.Leave("p1", s2.id)
	h.handleEvictions(context.Background(), []presence.Evicted{{PageID: "p1", Record: *rec}})

	if docs.released["p1"] != 1 {
		t.Fatalf("doc released %d times", docs.released["p1"])
	}
	if msg := recv(t, s1); msg.Type != MsgSessionLeft || msg.Record.SessionID != s2.id {
		t.Fatalf("frame = %+v", msg)
	}
	if msg := recv(t, s1); msg.Type != MsgMembershipChanged || len(msg.Records) != 1 {
		t.Fatalf("membership = %+v", msg)
	}
	if s2.pages["p1"] {
		t.Fatal("evicted session still marked joined")
	}
}
