package mempool

import (
	"sort"
	"sync"

	"github.com/russeree/mempool/common"
)

const (
	// Projected blocks are capped at the consensus weight limit; everything
	// past the last full block collapses into the final projection.
	blockWeightLimit = 4_000_000
	blockVSizeLimit  = blockWeightLimit / 4
	projectedBlocks  = 8
	feeRangeSteps    = 8
)

// TemplateBuilder projects future blocks from mempool contents with a
// greedy fee-rate packing and tracks deltas between consecutive
// projections. It satisfies the fan-out layer's MempoolBlocks contract.
type TemplateBuilder struct {
	mtx sync.RWMutex

	blocks       []*common.MempoolBlock
	blocksWithTx []*common.MempoolBlockWithTransactions
	deltas       []*common.MempoolBlockDelta
}

func NewTemplateBuilder() *TemplateBuilder {
	return &TemplateBuilder{}
}

func (b *TemplateBuilder) GetMempoolBlocks() []*common.MempoolBlock {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	return b.blocks
}

func (b *TemplateBuilder) GetMempoolBlockDeltas() []*common.MempoolBlockDelta {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	return b.deltas
}

func (b *TemplateBuilder) GetMempoolBlocksWithTransactions() []*common.MempoolBlockWithTransactions {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	return b.blocksWithTx
}

// UpdateBlockTemplates rebuilds the projection for the given mempool.
// Positions are backfilled onto the mempool transactions, and the deltas
// against the previous projection become available immediately after the
// call returns.
func (b *TemplateBuilder) UpdateBlockTemplates(mempool map[string]*common.TransactionExtended,
	added, removed []*common.TransactionExtended, accelerationDelta []string, saveResults bool) {

	accelerated := make(map[string]bool, len(accelerationDelta))
	for _, txid := range accelerationDelta {
		accelerated[txid] = true
	}

	templates := buildTemplates(mempool, true, accelerated)
	if !saveResults {
		return
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.deltas = diffTemplates(b.blocksWithTx, templates)
	b.blocksWithTx = templates
	b.blocks = summarize(templates)
}

// MakeBlockTemplates projects blocks for an arbitrary mempool without
// touching the stored projection or the live transactions.
func (b *TemplateBuilder) MakeBlockTemplates(mempool map[string]*common.TransactionExtended) []*common.MempoolBlockWithTransactions {
	return buildTemplates(mempool, false, nil)
}

func buildTemplates(mempool map[string]*common.TransactionExtended, backfill bool,
	accelerated map[string]bool) []*common.MempoolBlockWithTransactions {

	txs := make([]*common.TransactionExtended, 0, len(mempool))
	for _, tx := range mempool {
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(i, j int) bool {
		ri, rj := effectiveRate(txs[i]), effectiveRate(txs[j])
		if ri != rj {
			return ri > rj
		}
		return txs[i].Txid < txs[j].Txid
	})

	var templates []*common.MempoolBlockWithTransactions
	current := newTemplate()
	var currentVSize float64

	flush := func() {
		if current.NTx == 0 {
			return
		}
		finalizeTemplate(current)
		templates = append(templates, current)
		current = newTemplate()
		currentVSize = 0
	}

	for _, tx := range txs {
		vsize := txVSize(tx)
		if currentVSize+vsize > blockVSizeLimit && current.NTx > 0 && len(templates) < projectedBlocks-1 {
			flush()
		}
		blockIndex := len(templates)
		stripped := common.StripTransaction(tx)
		if accelerated[tx.Txid] {
			stripped.Acc = true
		}
		current.Transactions = append(current.Transactions, stripped)
		current.TransactionIds = append(current.TransactionIds, tx.Txid)
		current.NTx++
		current.TotalFees += tx.Fee
		current.BlockSize += tx.Size
		currentVSize += vsize
		current.BlockVSize = currentVSize
		if backfill {
			tx.Position = &common.MempoolPosition{Block: blockIndex, Vsize: currentVSize}
		}
	}
	flush()
	return templates
}

func newTemplate() *common.MempoolBlockWithTransactions {
	return &common.MempoolBlockWithTransactions{
		MempoolBlock: common.MempoolBlock{
			FeeRange: []float64{},
		},
		TransactionIds: []string{},
		Transactions:   []*common.TransactionStripped{},
	}
}

func finalizeTemplate(template *common.MempoolBlockWithTransactions) {
	rates := make([]float64, 0, len(template.Transactions))
	for _, tx := range template.Transactions {
		rates = append(rates, tx.Rate)
	}
	template.MedianFee = common.Median(rates)
	sort.Float64s(rates)
	template.FeeRange = common.FeeRange(rates, feeRangeSteps)
}

func summarize(templates []*common.MempoolBlockWithTransactions) []*common.MempoolBlock {
	blocks := make([]*common.MempoolBlock, 0, len(templates))
	for _, template := range templates {
		block := template.MempoolBlock
		blocks = append(blocks, &block)
	}
	return blocks
}

// diffTemplates compares consecutive projections block by block.
func diffTemplates(previous, next []*common.MempoolBlockWithTransactions) []*common.MempoolBlockDelta {
	deltas := make([]*common.MempoolBlockDelta, 0, len(next))
	for index, block := range next {
		delta := &common.MempoolBlockDelta{
			Added:   []*common.TransactionStripped{},
			Removed: []string{},
			Changed: []*common.MempoolDeltaChange{},
		}
		var old *common.MempoolBlockWithTransactions
		if index < len(previous) {
			old = previous[index]
		}
		oldTxs := make(map[string]*common.TransactionStripped)
		if old != nil {
			for _, tx := range old.Transactions {
				oldTxs[tx.Txid] = tx
			}
		}
		seen := make(map[string]bool, len(block.Transactions))
		for _, tx := range block.Transactions {
			seen[tx.Txid] = true
			oldTx, existed := oldTxs[tx.Txid]
			if !existed {
				delta.Added = append(delta.Added, tx)
			} else if oldTx.Rate != tx.Rate || oldTx.Flags != tx.Flags || oldTx.Acc != tx.Acc {
				delta.Changed = append(delta.Changed, &common.MempoolDeltaChange{
					Txid:  tx.Txid,
					Rate:  tx.Rate,
					Flags: tx.Flags,
					Acc:   tx.Acc,
				})
			}
		}
		for txid := range oldTxs {
			if !seen[txid] {
				delta.Removed = append(delta.Removed, txid)
			}
		}
		deltas = append(deltas, delta)
	}
	return deltas
}

func effectiveRate(tx *common.TransactionExtended) float64 {
	if tx.EffectiveFeePerVsize > 0 {
		return tx.EffectiveFeePerVsize
	}
	if vsize := txVSize(tx); vsize > 0 {
		return float64(tx.Fee) / vsize
	}
	return 0
}

func txVSize(tx *common.TransactionExtended) float64 {
	if tx.AdjustedVsize > 0 {
		return tx.AdjustedVsize
	}
	if tx.Vsize > 0 {
		return tx.Vsize
	}
	return float64(tx.Weight) / 4
}
