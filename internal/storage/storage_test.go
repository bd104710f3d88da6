package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"notehub/internal/domain"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBlockStoreCRUD(t *testing.T) {
	s := NewBlockStore(testDB(t))

	b := &domain.Block{
		PageID:   "page-1",
		Type:     domain.BlockTypeTable,
		Position: 3,
		Meta: domain.BlockMeta{
			Headers: []string{"a", "b"},
			Rows:    [][]string{{"1", "2"}},
		},
	}
	if err := s.CreateBlock(b); err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.ID == "" {
		t.Fatal("create must assign an ID")
	}

	got, err := s.GetBlock(b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Type != domain.BlockTypeTable || len(got.Meta.Headers) != 2 {
		t.Fatalf("metadata did not round-trip: %+v", got)
	}

	got.Content = "updated"
	got.Position = 1
	if err := s.UpdateBlock(got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, _ := s.GetBlock(b.ID)
	if again.Content != "updated" || again.Position != 1 {
		t.Fatalf("update not visible: %+v", again)
	}

	if err := s.DeleteBlock(b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetBlock(b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestBlockStoreListOrder(t *testing.T) {
	s := NewBlockStore(testDB(t))
	for i, pos := range []int{5, 1, 3} {
		b := &domain.Block{PageID: "page-1", Type: domain.BlockTypeText, Position: pos}
		if err := s.CreateBlock(b); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	blocks, err := s.ListBlocks("page-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i-1].Position > blocks[i].Position {
			t.Fatalf("blocks not ordered by position: %+v", blocks)
		}
	}
}

func TestBlockStoreSaveUpsert(t *testing.T) {
	s := NewBlockStore(testDB(t))

	// First save of a live-created block inserts.
	b := &domain.Block{ID: "live-1", PageID: "page-1", Type: domain.BlockTypeText, Content: "v1"}
	if err := s.SaveBlock(b); err != nil {
		t.Fatalf("first save: %v", err)
	}
	// Second save updates in place.
	b.Content = "v2"
	if err := s.SaveBlock(b); err != nil {
		t.Fatalf("second save: %v", err)
	}
	got, err := s.GetBlock("live-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "v2" {
		t.Fatalf("expected v2, got %q", got.Content)
	}
	all, _ := s.ListBlocks("page-1")
	if len(all) != 1 {
		t.Fatalf("upsert must not duplicate rows, got %d", len(all))
	}
}

func TestPageStoreCRUDAndShareURL(t *testing.T) {
	s := NewPageStore(testDB(t))

	p := &domain.Page{OwnerID: "u1", Collaborators: []string{"u2"}, IsPublic: true, ShareURL: "share-abc"}
	if err := s.CreatePage(p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Title != "Untitled" {
		t.Fatalf("expected default title, got %q", p.Title)
	}

	got, err := s.GetPageByShareURL("share-abc")
	if err != nil {
		t.Fatalf("get by share url: %v", err)
	}
	if got.ID != p.ID || len(got.Collaborators) != 1 {
		t.Fatalf("shared page wrong: %+v", got)
	}

	got.Title = "Renamed"
	got.IsPublic = false
	if err := s.UpdatePage(got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, _ := s.GetPage(p.ID)
	if again.Title != "Renamed" || again.IsPublic {
		t.Fatalf("update not visible: %+v", again)
	}

	pages, err := s.ListPages("u1")
	if err != nil || len(pages) != 1 {
		t.Fatalf("list: %v, %d pages", err, len(pages))
	}

	if err := s.DeletePage(p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetPage(p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserStoreToken(t *testing.T) {
	s := NewUserStore(testDB(t))

	u := &domain.User{Name: "Ana", Email: "ana@example.com"}
	if err := s.CreateUser(u, "tok-123"); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetUserByToken("tok-123")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got.ID != u.ID || got.Name != "Ana" {
		t.Fatalf("unexpected user: %+v", got)
	}
	if _, err := s.GetUserByToken("bogus"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetUserByToken(""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty token must not match, got %v", err)
	}
}

func TestSnapshotCache(t *testing.T) {
	c, err := OpenSnapshotCache(filepath.Join(t.TempDir(), "snap.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	if got, err := c.Get("page-1"); err != nil || got != nil {
		t.Fatalf("expected empty cache, got %v %v", got, err)
	}
	if err := c.Put("page-1", []byte("state-1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Put("page-1", []byte("state-2")); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := c.Get("page-1")
	if err != nil || string(got) != "state-2" {
		t.Fatalf("expected state-2, got %q %v", got, err)
	}
	if err := c.Delete("page-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := c.Get("page-1"); got != nil {
		t.Fatal("expected snapshot gone after delete")
	}
}
