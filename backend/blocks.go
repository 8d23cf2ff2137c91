package backend

import (
	"sync"

	"github.com/russeree/mempool/common"
)

// Blocks keeps the recent chain tip window the fan-out layer serves to new
// clients.
type Blocks struct {
	mtx    sync.RWMutex
	blocks []*common.BlockExtended
	limit  int
}

func NewBlocks(limit int) *Blocks {
	if limit <= 0 {
		limit = 8
	}
	return &Blocks{limit: limit}
}

func (b *Blocks) GetBlocks() []*common.BlockExtended {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	blocks := make([]*common.BlockExtended, len(b.blocks))
	copy(blocks, b.blocks)
	return blocks
}

func (b *Blocks) AddBlock(block *common.BlockExtended) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.blocks = append(b.blocks, block)
	if len(b.blocks) > b.limit {
		b.blocks = b.blocks[len(b.blocks)-b.limit:]
	}
}

// SetBlocks replaces the window wholesale, used after a reorganization.
func (b *Blocks) SetBlocks(blocks []*common.BlockExtended) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if len(blocks) > b.limit {
		blocks = blocks[len(blocks)-b.limit:]
	}
	b.blocks = blocks
}

func (b *Blocks) Tip() *common.BlockExtended {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	if len(b.blocks) == 0 {
		return nil
	}
	return b.blocks[len(b.blocks)-1]
}
