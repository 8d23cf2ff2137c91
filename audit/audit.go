package audit

import (
	"github.com/russeree/mempool/common"
)

// Transactions seen less than this many seconds before the block cannot be
// held against the miner; propagation alone explains their absence from the
// projection.
const propagationMarginSeconds = 180

// Auditor classifies the differences between the projected block and the
// block that was mined, implementing the fan-out layer's Auditor contract.
type Auditor struct{}

func New() *Auditor {
	return &Auditor{}
}

// AuditBlock compares projected block zero against the mined transaction
// set. Returns nil when there is no projection to compare against.
func (a *Auditor) AuditBlock(block *common.BlockExtended, txIds []string,
	projected []*common.MempoolBlockWithTransactions,
	mempool map[string]*common.TransactionExtended) *common.AuditSummary {

	if len(projected) == 0 || projected[0] == nil || len(projected[0].TransactionIds) == 0 {
		return nil
	}
	template := projected[0]

	mined := make(map[string]bool, len(txIds))
	for _, txid := range txIds {
		mined[txid] = true
	}
	inTemplate := make(map[string]bool, len(template.TransactionIds))
	for _, txid := range template.TransactionIds {
		inTemplate[txid] = true
	}

	summary := &common.AuditSummary{
		Height:      block.Height,
		Hash:        block.Id,
		Censored:    []string{},
		Added:       []string{},
		Fresh:       []string{},
		Sigop:       []string{},
		FullRbf:     []string{},
		Accelerated: []string{},
	}

	var matchedVsize, templateVsize float64
	for _, tx := range template.Transactions {
		templateVsize += tx.Vsize
		if mined[tx.Txid] {
			matchedVsize += tx.Vsize
			continue
		}
		summary.Censored = append(summary.Censored, tx.Txid)
	}

	// Anything mined outside the template is classified: propagation-fresh,
	// sigop-limited, full-RBF replacements and accelerated transactions are
	// excused; the remainder counts as added.
	var addedVsize float64
	for index, txid := range txIds {
		if index == 0 || inTemplate[txid] {
			continue
		}
		tx := mempool[txid]
		switch {
		case tx == nil:
			summary.Fresh = append(summary.Fresh, txid)
		case block.Timestamp-tx.FirstSeen < propagationMarginSeconds:
			summary.Fresh = append(summary.Fresh, txid)
		case tx.Flags&common.TxFlagFullRbf != 0:
			summary.FullRbf = append(summary.FullRbf, txid)
		case tx.Acceleration:
			summary.Accelerated = append(summary.Accelerated, txid)
		case tx.AdjustedVsize > tx.Vsize:
			summary.Sigop = append(summary.Sigop, txid)
		default:
			summary.Added = append(summary.Added, txid)
			addedVsize += tx.Vsize
		}
	}

	total := templateVsize + addedVsize
	if total > 0 {
		summary.Score = matchedVsize / total
	}
	summary.Similarity = common.GetSimilarity(template, txIds)
	summary.ExpectedFees = uint64(template.TotalFees)
	summary.ExpectedWeight = uint64(template.BlockVSize * 4)
	return summary
}
