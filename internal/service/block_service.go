package service

import (
	"context"
	"fmt"

	"notehub/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Block Service
// ─────────────────────────────────────────────────────────────

// BlockService manages blocks through the store. Live collaborative
// editing goes through the Bridge instead; this service backs the plain
// REST surface used for initial authoring and tooling.
type BlockService struct {
	store   domain.BlockStore
	emitter EventEmitter
}

func NewBlockService(store domain.BlockStore, emitter EventEmitter) *BlockService {
	return &BlockService{store: store, emitter: emitter}
}

// CreateBlock creates a new block on a page.
func (s *BlockService) CreateBlock(ctx context.Context, pageID string, blockType domain.BlockType, content string, position int, meta domain.BlockMeta) (*domain.Block, error) {
	if !domain.ValidBlockType(blockType) {
		return nil, fmt.Errorf("create block: invalid type %q", blockType)
	}
	b := &domain.Block{
		PageID:   pageID,
		Type:     blockType,
		Content:  content,
		Position: position,
		Meta:     meta,
	}
	if err := s.store.CreateBlock(b); err != nil {
		return nil, fmt.Errorf("create block: %w", err)
	}
	s.emitter.Emit(ctx, "block:created", b.ID)
	return b, nil
}

// GetBlock returns a block by ID.
func (s *BlockService) GetBlock(id string) (*domain.Block, error) {
	return s.store.GetBlock(id)
}

// ListBlocks returns all blocks for a page in render order.
func (s *BlockService) ListBlocks(pageID string) ([]domain.Block, error) {
	return s.store.ListBlocks(pageID)
}

// UpdateBlock applies field updates to an existing block. Nil pointers
// leave the corresponding field untouched.
func (s *BlockService) UpdateBlock(id string, content *string, position *int, meta *domain.BlockMeta) (*domain.Block, error) {
	b, err := s.store.GetBlock(id)
	if err != nil {
		return nil, err
	}
	if content != nil {
		b.Content = *content
	}
	if position != nil {
		b.Position = *position
	}
	if meta != nil {
		b.Meta = *meta
	}
	if err := s.store.UpdateBlock(b); err != nil {
		return nil, fmt.Errorf("update block: %w", err)
	}
	return b, nil
}

// DeleteBlock removes a block.
func (s *BlockService) DeleteBlock(ctx context.Context, id string) error {
	if err := s.store.DeleteBlock(id); err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	s.emitter.Emit(ctx, "block:deleted", id)
	return nil
}
