package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"notehub/internal/domain"
	"notehub/internal/service"
)

// ─────────────────────────────────────────────────────────────
// HTTP API
// ─────────────────────────────────────────────────────────────

type API struct {
	auth   service.Authenticator
	pages  *service.PageService
	blocks *service.BlockService
}

func New(auth service.Authenticator, pages *service.PageService, blocks *service.BlockService) *API {
	return &API{auth: auth, pages: pages, blocks: blocks}
}

// Router builds the route table. The websocket endpoint is mounted by
// the caller so this package stays off the hub.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(a.identityMiddleware)

	api.HandleFunc("/pages", a.listPages).Methods(http.MethodGet)
	api.HandleFunc("/pages", a.createPage).Methods(http.MethodPost)
	api.HandleFunc("/pages/{id}", a.getPage).Methods(http.MethodGet)
	api.HandleFunc("/pages/{id}", a.updatePage).Methods(http.MethodPatch)
	api.HandleFunc("/pages/{id}", a.deletePage).Methods(http.MethodDelete)
	api.HandleFunc("/pages/{id}/collaborators", a.addCollaborator).Methods(http.MethodPost)
	api.HandleFunc("/pages/{id}/blocks", a.listBlocks).Methods(http.MethodGet)
	api.HandleFunc("/pages/{id}/blocks", a.createBlock).Methods(http.MethodPost)
	api.HandleFunc("/pages/{id}/blocks/{blockId}", a.updateBlock).Methods(http.MethodPatch)
	api.HandleFunc("/pages/{id}/blocks/{blockId}", a.deleteBlock).Methods(http.MethodDelete)
	api.HandleFunc("/shared/{shareUrl}", a.getSharedPage).Methods(http.MethodGet)
	return r
}

type ctxKey int

const identityKey ctxKey = 0

// identityMiddleware resolves the bearer token once per request. A
// missing or invalid token yields a guest identity; route handlers
// decide what guests may do.
func (a *API) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		identity := a.auth.Authenticate(r.Context(), token)
		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIdentity(r *http.Request) domain.Identity {
	id, _ := r.Context().Value(identityKey).(domain.Identity)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Printf("httpapi: encode response: %v", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
