package domain

import "time"

type BlockType string

const (
	BlockTypeText    BlockType = "text"
	BlockTypeHeading BlockType = "heading"
	BlockTypeImage   BlockType = "image"
	BlockTypeTable   BlockType = "table"
)

// ValidBlockType reports whether t is one of the known block types.
func ValidBlockType(t BlockType) bool {
	switch t {
	case BlockTypeText, BlockTypeHeading, BlockTypeImage, BlockTypeTable:
		return true
	}
	return false
}

// BlockMeta holds the type-specific fields of a block. Unused fields stay
// at their zero value for the other types.
type BlockMeta struct {
	Level   int        `json:"level,omitempty"`   // heading: 1..3
	URL     string     `json:"url,omitempty"`     // image
	Caption string     `json:"caption,omitempty"` // image
	Headers []string   `json:"headers,omitempty"` // table
	Rows    [][]string `json:"rows,omitempty"`    // table
}

type Block struct {
	ID        string    `json:"id"`
	PageID    string    `json:"pageId"`
	Type      BlockType `json:"type"`
	Content   string    `json:"content"`
	Position  int       `json:"position"`
	Meta      BlockMeta `json:"metadata"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type BlockStore interface {
	CreateBlock(b *Block) error
	GetBlock(id string) (*Block, error)
	ListBlocks(pageID string) ([]Block, error)
	UpdateBlock(b *Block) error
	DeleteBlock(id string) error
	DeleteBlocksByPage(pageID string) error
}
