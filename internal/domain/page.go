package domain

import "time"

type Page struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	OwnerID       string    `json:"ownerId"`
	Collaborators []string  `json:"collaborators"`
	IsPublic      bool      `json:"isPublic"`
	ShareURL      string    `json:"shareUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Accessible reports whether the given user may open the page.
// Guests (empty userID) only reach public pages.
func (p *Page) Accessible(userID string) bool {
	if p.IsPublic {
		return true
	}
	if userID == "" {
		return false
	}
	if p.OwnerID == userID {
		return true
	}
	for _, c := range p.Collaborators {
		if c == userID {
			return true
		}
	}
	return false
}

type PageStore interface {
	CreatePage(p *Page) error
	GetPage(id string) (*Page, error)
	GetPageByShareURL(shareURL string) (*Page, error)
	ListPages(ownerID string) ([]Page, error)
	UpdatePage(p *Page) error
	DeletePage(id string) error
}
