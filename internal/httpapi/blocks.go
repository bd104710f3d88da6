package httpapi

import (
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"notehub/internal/domain"
	"notehub/internal/storage"
)

func (a *API) listBlocks(w http.ResponseWriter, r *http.Request) {
	p := a.loadAccessiblePage(w, r)
	if p == nil {
		return
	}
	blocks, err := a.blocks.ListBlocks(p.ID)
	if err != nil {
		log.Printf("httpapi: list blocks for %s: %v", p.ID, err)
		writeError(w, http.StatusInternalServerError, "list blocks failed")
		return
	}
	if blocks == nil {
		blocks = []domain.Block{}
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (a *API) createBlock(w http.ResponseWriter, r *http.Request) {
	p := a.loadAccessiblePage(w, r)
	if p == nil {
		return
	}
	var body struct {
		Type     domain.BlockType `json:"type"`
		Content  string           `json:"content"`
		Position int              `json:"position"`
		Meta     domain.BlockMeta `json:"metadata"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	b, err := a.blocks.CreateBlock(r.Context(), p.ID, body.Type, body.Content, body.Position, body.Meta)
	if err != nil {
		if !domain.ValidBlockType(body.Type) {
			writeError(w, http.StatusBadRequest, "invalid block type")
			return
		}
		log.Printf("httpapi: create block on %s: %v", p.ID, err)
		writeError(w, http.StatusInternalServerError, "create block failed")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// loadPageBlock resolves the nested block route and enforces that the
// block actually belongs to the addressed page.
func (a *API) loadPageBlock(w http.ResponseWriter, r *http.Request) (*domain.Page, *domain.Block) {
	p := a.loadAccessiblePage(w, r)
	if p == nil {
		return nil, nil
	}
	blockID := mux.Vars(r)["blockId"]
	b, err := a.blocks.GetBlock(blockID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "block not found")
		return nil, nil
	}
	if err != nil {
		log.Printf("httpapi: get block %s: %v", blockID, err)
		writeError(w, http.StatusInternalServerError, "get block failed")
		return nil, nil
	}
	if b.PageID != p.ID {
		writeError(w, http.StatusNotFound, "block not found")
		return nil, nil
	}
	return p, b
}

func (a *API) updateBlock(w http.ResponseWriter, r *http.Request) {
	_, b := a.loadPageBlock(w, r)
	if b == nil {
		return
	}
	var body struct {
		Content  *string           `json:"content"`
		Position *int              `json:"position"`
		Meta     *domain.BlockMeta `json:"metadata"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	updated, err := a.blocks.UpdateBlock(b.ID, body.Content, body.Position, body.Meta)
	if err != nil {
		log.Printf("httpapi: update block %s: %v", b.ID, err)
		writeError(w, http.StatusInternalServerError, "update block failed")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) deleteBlock(w http.ResponseWriter, r *http.Request) {
	_, b := a.loadPageBlock(w, r)
	if b == nil {
		return
	}
	if err := a.blocks.DeleteBlock(r.Context(), b.ID); err != nil {
		log.Printf("httpapi: delete block %s: %v", b.ID, err)
		writeError(w, http.StatusInternalServerError, "delete block failed")
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
