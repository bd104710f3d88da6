package service

import (
	"context"
	"errors"
	"fmt"

	"notehub/internal/domain"
	"notehub/internal/storage"
)

// AccessChecker decides whether an identity may open a page. Consulted
// on every join; the transport never caches the answer across pages.
type AccessChecker interface {
	CanAccess(ctx context.Context, identity domain.Identity, pageID string) (bool, error)
}

// AccessService checks page access against the page store: owner,
// collaborator, or public. Guests only reach public pages.
type AccessService struct {
	pages domain.PageStore
}

func NewAccessService(pages domain.PageStore) *AccessService {
	return &AccessService{pages: pages}
}

func (s *AccessService) CanAccess(_ context.Context, identity domain.Identity, pageID string) (bool, error) {
	p, err := s.pages.GetPage(pageID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check access: %w", err)
	}
	return p.Accessible(identity.UserID()), nil
}
