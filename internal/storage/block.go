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

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// BlockStore implements domain.BlockStore on the relational store.
type BlockStore struct {
	db *DB
}

func NewBlockStore(db *DB) *BlockStore {
	return &BlockStore{db: db}
}

func encodeMeta(m domain.BlockMeta) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode block metadata: %w", err)
	}
	return string(data), nil
}

func (s *BlockStore) CreateBlock(b *domain.Block) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	meta, err := encodeMeta(b.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.Conn().Exec(s.db.rebind(
		`INSERT INTO blocks (id, page_id, type, content, position, metadata_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		b.ID, b.PageID, b.Type, b.Content, b.Position, meta, b.CreatedAt, b.UpdatedAt,
	)
	return err
}

func (s *BlockStore) scanBlock(row interface{ Scan(...any) error }) (*domain.Block, error) {
	b := &domain.Block{}
	var meta string
	err := row.Scan(&b.ID, &b.PageID, &b.Type, &b.Content, &b.Position, &meta, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &b.Meta); err != nil {
		return nil, fmt.Errorf("decode block metadata: %w", err)
	}
	return b, nil
}

func (s *BlockStore) GetBlock(id string) (*domain.Block, error) {
	row := s.db.Conn().QueryRow(s.db.rebind(
		`SELECT id, page_id, type, content, position, metadata_json, created_at, updated_at FROM blocks WHERE id = ?`), id,
	)
	b, err := s.scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get block %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get block %s: %w", id, err)
	}
	return b, nil
}

func (s *BlockStore) ListBlocks(pageID string) ([]domain.Block, error) {
	rows, err := s.db.Conn().Query(s.db.rebind(
		`SELECT id, page_id, type, content, position, metadata_json, created_at, updated_at FROM blocks WHERE page_id = ? ORDER BY position ASC, id ASC`),
		pageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []domain.Block
	for rows.Next() {
		b, err := s.scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *b)
	}
	return blocks, rows.Err()
}

func (s *BlockStore) UpdateBlock(b *domain.Block) error {
	b.UpdatedAt = time.Now().UTC()
	meta, err := encodeMeta(b.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.Conn().Exec(s.db.rebind(
		`UPDATE blocks SET type = ?, content = ?, position = ?, metadata_json = ?, updated_at = ? WHERE id = ?`),
		b.Type, b.Content, b.Position, meta, b.UpdatedAt, b.ID,
	)
	return err
}

// SaveBlock writes a block whether or not it already exists. The
// reconciliation path uses this: a debounced write may be the first
// persistence of a block created live in the replicated model.
func (s *BlockStore) SaveBlock(b *domain.Block) error {
	b.UpdatedAt = time.Now().UTC()
	meta, err := encodeMeta(b.Meta)
	if err != nil {
		return err
	}
	res, err := s.db.Conn().Exec(s.db.rebind(
		`UPDATE blocks SET type = ?, content = ?, position = ?, metadata_json = ?, updated_at = ? WHERE id = ?`),
		b.Type, b.Content, b.Position, meta, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	return s.CreateBlock(b)
}

func (s *BlockStore) DeleteBlock(id string) error {
	_, err := s.db.Conn().Exec(s.db.rebind(`DELETE FROM blocks WHERE id = ?`), id)
	return err
}

func (s *BlockStore) DeleteBlocksByPage(pageID string) error {
	_, err := s.db.Conn().Exec(s.db.rebind(`DELETE FROM blocks WHERE page_id = ?`), pageID)
	return err
}
