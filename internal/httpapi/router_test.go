package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"notehub/internal/domain"
	"notehub/internal/service"
	"notehub/internal/storage"
)

func testAPI(t *testing.T) (*API, *storage.DB) {
	t.Helper()
	db, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := storage.NewUserStore(db)
	if err := users.CreateUser(&domain.User{ID: "u1", Name: "Ada", Email: "ada@example.com"}, "tok-ada"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	emitter := &service.MockEmitter{}
	pages := service.NewPageService(storage.NewPageStore(db), storage.NewBlockStore(db), nil, emitter)
	blocks := service.NewBlockService(storage.NewBlockStore(db), emitter)
	return New(service.NewAuthService(users), pages, blocks), db
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
	return v
}

func TestPageLifecycle(t *testing.T) {
	api, _ := testAPI(t)
	r := api.Router()

	rr := doJSON(t, r, http.MethodPost, "/api/pages", "tok-ada", map[string]string{"title": "Plan"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	page := decode[domain.Page](t, rr)
	if page.ID == "" || page.OwnerID != "u1" || page.Title != "Plan" {
		t.Fatalf("created page = %+v", page)
	}

	rr = doJSON(t, r, http.MethodGet, "/api/pages", "tok-ada", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d", rr.Code)
	}
	if pages := decode[[]domain.Page](t, rr); len(pages) != 1 {
		t.Fatalf("listed %d pages", len(pages))
	}

	rr = doJSON(t, r, http.MethodPatch, "/api/pages/"+page.ID, "tok-ada", map[string]string{"title": "Plan v2"})
	if rr.Code != http.StatusOK {
		t.Fatalf("rename: %d %s", rr.Code, rr.Body.String())
	}
	if got := decode[domain.Page](t, rr); got.Title != "Plan v2" {
		t.Fatalf("renamed = %+v", got)
	}

	rr = doJSON(t, r, http.MethodDelete, "/api/pages/"+page.ID, "tok-ada", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
	rr = doJSON(t, r, http.MethodGet, "/api/pages/"+page.ID, "tok-ada", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rr.Code)
	}
}

func TestGuestAccessRules(t *testing.T) {
	api, _ := testAPI(t)
	r := api.Router()

	rr := doJSON(t, r, http.MethodPost, "/api/pages", "tok-ada", map[string]string{"title": "Private"})
	page := decode[domain.Page](t, rr)

	// No token: page listing requires auth, private page is hidden.
	if rr := doJSON(t, r, http.MethodGet, "/api/pages", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("guest list: %d", rr.Code)
	}
	if rr := doJSON(t, r, http.MethodGet, "/api/pages/"+page.ID, "", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("guest get private: %d", rr.Code)
	}

	// Publishing exposes it to guests via page ID and share URL.
	rr = doJSON(t, r, http.MethodPatch, "/api/pages/"+page.ID, "tok-ada", map[string]bool{"isPublic": true})
	pub := decode[domain.Page](t, rr)
	if pub.ShareURL == "" {
		t.Fatal("public page has no share URL")
	}
	if rr := doJSON(t, r, http.MethodGet, "/api/pages/"+page.ID, "", nil); rr.Code != http.StatusOK {
		t.Fatalf("guest get public: %d", rr.Code)
	}
	rr = doJSON(t, r, http.MethodGet, "/api/shared/"+pub.ShareURL, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("guest shared fetch: %d", rr.Code)
	}
	if got := decode[domain.Page](t, rr); got.ID != page.ID {
		t.Fatalf("shared page = %+v", got)
	}

	// Unpublishing hides the share URL again.
	doJSON(t, r, http.MethodPatch, "/api/pages/"+page.ID, "tok-ada", map[string]bool{"isPublic": false})
	if rr := doJSON(t, r, http.MethodGet, "/api/shared/"+pub.ShareURL, "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("shared fetch after unpublish: %d", rr.Code)
	}

	// A guest cannot mutate someone else's page.
	if rr := doJSON(t, r, http.MethodDelete, "/api/pages/"+page.ID, "", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("guest delete: %d", rr.Code)
	}
}

func TestBlockRoutes(t *testing.T) {
	api, _ := testAPI(t)
	r := api.Router()

	rr := doJSON(t, r, http.MethodPost, "/api/pages", "tok-ada", map[string]string{"title": "Doc"})
	page := decode[domain.Page](t, rr)

	rr = doJSON(t, r, http.MethodPost, "/api/pages/"+page.ID+"/blocks", "tok-ada", map[string]any{
		"type": "heading", "content": "Title", "position": 0,
		"metadata": map[string]any{"level": 1},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create block: %d %s", rr.Code, rr.Body.String())
	}
	block := decode[domain.Block](t, rr)
	if block.Type != domain.BlockTypeHeading || block.Meta.Level != 1 {
		t.Fatalf("created block = %+v", block)
	}

	rr = doJSON(t, r, http.MethodPost, "/api/pages/"+page.ID+"/blocks", "tok-ada", map[string]any{
		"type": "video", "position": 1,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid type: %d", rr.Code)
	}

	rr = doJSON(t, r, http.MethodPatch, "/api/pages/"+page.ID+"/blocks/"+block.ID, "tok-ada", map[string]any{
		"content": "Renamed",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("update block: %d %s", rr.Code, rr.Body.String())
	}
	if got := decode[domain.Block](t, rr); got.Content != "Renamed" || got.Meta.Level != 1 {
		t.Fatalf("updated block = %+v", got)
	}

	rr = doJSON(t, r, http.MethodGet, "/api/pages/"+page.ID+"/blocks", "tok-ada", nil)
	if got := decode[[]domain.Block](t, rr); len(got) != 1 {
		t.Fatalf("listed %d blocks", len(got))
	}

	// A block route under the wrong page 404s even if the block exists.
	rr2 := doJSON(t, r, http.MethodPost, "/api/pages", "tok-ada", map[string]string{"title": "Other"})
	other := decode[domain.Page](t, rr2)
	rr = doJSON(t, r, http.MethodPatch, "/api/pages/"+other.ID+"/blocks/"+block.ID, "tok-ada", map[string]any{"content": "x"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("cross-page block access: %d", rr.Code)
	}

	rr = doJSON(t, r, http.MethodDelete, "/api/pages/"+page.ID+"/blocks/"+block.ID, "tok-ada", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete block: %d", rr.Code)
	}
}
