package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"notehub/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Page Service
// ─────────────────────────────────────────────────────────────

// PageService manages pages and their share URLs.
type PageService struct {
	pages   domain.PageStore
	blocks  domain.BlockStore
	snaps   SnapshotStore
	emitter EventEmitter
}

func NewPageService(pages domain.PageStore, blocks domain.BlockStore, snaps SnapshotStore, emitter EventEmitter) *PageService {
	return &PageService{pages: pages, blocks: blocks, snaps: snaps, emitter: emitter}
}

// CreatePage creates an empty page owned by the given user.
func (s *PageService) CreatePage(ctx context.Context, ownerID, title string) (*domain.Page, error) {
	p := &domain.Page{Title: title, OwnerID: ownerID, Collaborators: []string{}}
	if err := s.pages.CreatePage(p); err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	s.emitter.Emit(ctx, "page:created", p.ID)
	return p, nil
}

func (s *PageService) GetPage(id string) (*domain.Page, error) {
	return s.pages.GetPage(id)
}

func (s *PageService) GetSharedPage(shareURL string) (*domain.Page, error) {
	return s.pages.GetPageByShareURL(shareURL)
}

func (s *PageService) ListPages(ownerID string) ([]domain.Page, error) {
	return s.pages.ListPages(ownerID)
}

// RenamePage updates the page title.
func (s *PageService) RenamePage(id, title string) (*domain.Page, error) {
	p, err := s.pages.GetPage(id)
	if err != nil {
		return nil, err
	}
	p.Title = title
	if err := s.pages.UpdatePage(p); err != nil {
		return nil, fmt.Errorf("rename page: %w", err)
	}
	return p, nil
}

// SetPublic toggles public sharing. Making a page public mints a share
// URL once; it stays stable across later toggles so existing links
// keep working.
func (s *PageService) SetPublic(id string, public bool) (*domain.Page, error) {
	p, err := s.pages.GetPage(id)
	if err != nil {
		return nil, err
	}
	p.IsPublic = public
	if public && p.ShareURL == "" {
		p.ShareURL = uuid.New().String()
	}
	if err := s.pages.UpdatePage(p); err != nil {
		return nil, fmt.Errorf("set page public: %w", err)
	}
	return p, nil
}

// AddCollaborator grants another user access to the page.
func (s *PageService) AddCollaborator(id, userID string) (*domain.Page, error) {
	p, err := s.pages.GetPage(id)
	if err != nil {
		return nil, err
	}
	for _, c := range p.Collaborators {
		if c == userID {
			return p, nil
		}
	}
	p.Collaborators = append(p.Collaborators, userID)
	if err := s.pages.UpdatePage(p); err != nil {
		return nil, fmt.Errorf("add collaborator: %w", err)
	}
	return p, nil
}

// DeletePage removes the page, its blocks and its cached document
// snapshot.
func (s *PageService) DeletePage(ctx context.Context, id string) error {
	if err := s.blocks.DeleteBlocksByPage(id); err != nil {
		return fmt.Errorf("delete page blocks: %w", err)
	}
	if err := s.pages.DeletePage(id); err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	if s.snaps != nil {
		if err := s.snaps.Delete(id); err != nil {
			// The page itself is gone; a stale snapshot only wastes
			// space until the next write.
			s.emitter.Emit(ctx, "page:snapshot-delete-failed", id)
		}
	}
	s.emitter.Emit(ctx, "page:deleted", id)
	return nil
}
