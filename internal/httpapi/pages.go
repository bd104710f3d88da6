package httpapi

import (
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"notehub/internal/domain"
	"notehub/internal/storage"
)

func (a *API) listPages(w http.ResponseWriter, r *http.Request) {
	identity := requestIdentity(r)
	if identity.IsGuest() {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	pages, err := a.pages.ListPages(identity.UserID())
	if err != nil {
		log.Printf("httpapi: list pages: %v", err)
		writeError(w, http.StatusInternalServerError, "list pages failed")
		return
	}
	if pages == nil {
		pages = []domain.Page{}
	}
	writeJSON(w, http.StatusOK, pages)
}

func (a *API) createPage(w http.ResponseWriter, r *http.Request) {
	identity := requestIdentity(r)
	if identity.IsGuest() {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var body struct {
		Title string `json:"title"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	p, err := a.pages.CreatePage(r.Context(), identity.UserID(), body.Title)
	if err != nil {
		log.Printf("httpapi: create page: %v", err)
		writeError(w, http.StatusInternalServerError, "create page failed")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// loadAccessiblePage fetches a page and enforces the read rule. Returns
// nil after writing the error response.
func (a *API) loadAccessiblePage(w http.ResponseWriter, r *http.Request) *domain.Page {
	id := mux.Vars(r)["id"]
	p, err := a.pages.GetPage(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "page not found")
		return nil
	}
	if err != nil {
		log.Printf("httpapi: get page %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "get page failed")
		return nil
	}
	if !p.Accessible(requestIdentity(r).UserID()) {
		writeError(w, http.StatusForbidden, "page not accessible")
		return nil
	}
	return p
}

// loadOwnedPage is loadAccessiblePage plus the owner-only rule for
// mutations.
func (a *API) loadOwnedPage(w http.ResponseWriter, r *http.Request) *domain.Page {
	p := a.loadAccessiblePage(w, r)
	if p == nil {
		return nil
	}
	if p.OwnerID != requestIdentity(r).UserID() {
		writeError(w, http.StatusForbidden, "owner only")
		return nil
	}
	return p
}

func (a *API) getPage(w http.ResponseWriter, r *http.Request) {
	if p := a.loadAccessiblePage(w, r); p != nil {
		writeJSON(w, http.StatusOK, p)
	}
}

func (a *API) updatePage(w http.ResponseWriter, r *http.Request) {
	p := a.loadOwnedPage(w, r)
	if p == nil {
		return
	}
	var body struct {
		Title    *string `json:"title"`
		IsPublic *bool   `json:"isPublic"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	var err error
	if body.Title != nil {
		p, err = a.pages.RenamePage(p.ID, *body.Title)
	}
	if err == nil && body.IsPublic != nil {
		p, err = a.pages.SetPublic(p.ID, *body.IsPublic)
	}
	if err != nil {
		log.Printf("httpapi: update page %s: %v", p.ID, err)
		writeError(w, http.StatusInternalServerError, "update page failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) deletePage(w http.ResponseWriter, r *http.Request) {
	p := a.loadOwnedPage(w, r)
	if p == nil {
		return
	}
	if err := a.pages.DeletePage(r.Context(), p.ID); err != nil {
		log.Printf("httpapi: delete page %s: %v", p.ID, err)
		writeError(w, http.StatusInternalServerError, "delete page failed")
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) addCollaborator(w http.ResponseWriter, r *http.Request) {
	p := a.loadOwnedPage(w, r)
	if p == nil {
		return
	}
	var body struct {
		UserID string `json:"userId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}
	p, err := a.pages.AddCollaborator(p.ID, body.UserID)
	if err != nil {
		log.Printf("httpapi: add collaborator to %s: %v", p.ID, err)
		writeError(w, http.StatusInternalServerError, "add collaborator failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// getSharedPage resolves a share URL without requiring authentication,
// as long as the page is still public.
func (a *API) getSharedPage(w http.ResponseWriter, r *http.Request) {
	shareURL := mux.Vars(r)["shareUrl"]
	p, err := a.pages.GetSharedPage(shareURL)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "page not found")
		return
	}
	if err != nil {
		log.Printf("httpapi: shared page %s: %v", shareURL, err)
		writeError(w, http.StatusInternalServerError, "get shared page failed")
		return
	}
	if !p.IsPublic {
		writeError(w, http.StatusNotFound, "page not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
