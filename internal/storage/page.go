package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"notehub/internal/domain"
)

// PageStore implements domain.PageStore on the relational store.
type PageStore struct {
	db *DB
}

func NewPageStore(db *DB) *PageStore {
	return &PageStore{db: db}
}

func (s *PageStore) CreatePage(p *domain.Page) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Title == "" {
		p.Title = "Untitled"
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	collab, err := json.Marshal(p.Collaborators)
	if err != nil {
		return fmt.Errorf("encode collaborators: %w", err)
	}
	_, err = s.db.Conn().Exec(s.db.rebind(
		`INSERT INTO pages (id, title, owner_id, collaborators_json, is_public, share_url, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.Title, p.OwnerID, string(collab), p.IsPublic, p.ShareURL, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *PageStore) scanPage(row interface{ Scan(...any) error }) (*domain.Page, error) {
	p := &domain.Page{}
	var collab string
	err := row.Scan(&p.ID, &p.Title, &p.OwnerID, &collab, &p.IsPublic, &p.ShareURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(collab), &p.Collaborators); err != nil {
		return nil, fmt.Errorf("decode collaborators: %w", err)
	}
	return p, nil
}

const pageColumns = `id, title, owner_id, collaborators_json, is_public, share_url, created_at, updated_at`

func (s *PageStore) GetPage(id string) (*domain.Page, error) {
	row := s.db.Conn().QueryRow(s.db.rebind(
		`SELECT `+pageColumns+` FROM pages WHERE id = ?`), id,
	)
	p, err := s.scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get page %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get page %s: %w", id, err)
	}
	return p, nil
}

func (s *PageStore) GetPageByShareURL(shareURL string) (*domain.Page, error) {
	if shareURL == "" {
		return nil, fmt.Errorf("get shared page: %w", ErrNotFound)
	}
	row := s.db.Conn().QueryRow(s.db.rebind(
		`SELECT `+pageColumns+` FROM pages WHERE share_url = ?`), shareURL,
	)
	p, err := s.scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get shared page: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get shared page: %w", err)
	}
	return p, nil
}

// ListPages returns the pages a user owns, newest first.
func (s *PageStore) ListPages(ownerID string) ([]domain.Page, error) {
	rows, err := s.db.Conn().Query(s.db.rebind(
		`SELECT `+pageColumns+` FROM pages WHERE owner_id = ? ORDER BY updated_at DESC`), ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []domain.Page
	for rows.Next() {
		p, err := s.scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, *p)
	}
	return pages, rows.Err()
}

func (s *PageStore) UpdatePage(p *domain.Page) error {
	p.UpdatedAt = time.Now().UTC()
	collab, err := json.Marshal(p.Collaborators)
	if err != nil {
		return fmt.Errorf("encode collaborators: %w", err)
	}
	_, err = s.db.Conn().Exec(s.db.rebind(
		`UPDATE pages SET title = ?, collaborators_json = ?, is_public = ?, share_url = ?, updated_at = ? WHERE id = ?`),
		p.Title, string(collab), p.IsPublic, p.ShareURL, p.UpdatedAt, p.ID,
	)
	return err
}

func (s *PageStore) DeletePage(id string) error {
	_, err := s.db.Conn().Exec(s.db.rebind(`DELETE FROM pages WHERE id = ?`), id)
	return err
}
