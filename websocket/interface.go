package websocket

import (
	"github.com/russeree/mempool/common"
)

// Mempool is the unconfirmed-transaction engine the fan-out layer reads from
// and notifies. Implementations must be safe for the single-writer event
// loop: all mutating calls happen under the hub's event lock.
type Mempool interface {
	GetMempool() map[string]*common.TransactionExtended
	GetMempoolInfo() *common.MempoolInfo
	GetVBytesPerSecond() int64
	GetLatestTransactions() []*common.TransactionStripped
	IsInSync() bool

	GetSpendMap() map[string]*common.TransactionExtended
	AddToSpendMap(txs []*common.TransactionExtended)
	RemoveFromSpendMap(txs []*common.TransactionExtended)

	HandleRbfTransactions(replacements map[string][]*common.TransactionExtended)
	HandleMinedRbfTransactions(replacements map[string][]*common.TransactionExtended)
	RemoveFromMempool(txIds []string)
}

// MempoolBlocks projects future blocks from mempool contents.
// After UpdateBlockTemplates returns, GetMempoolBlocks and
// GetMempoolBlockDeltas reflect the new mempool state.
type MempoolBlocks interface {
	GetMempoolBlocks() []*common.MempoolBlock
	GetMempoolBlockDeltas() []*common.MempoolBlockDelta
	GetMempoolBlocksWithTransactions() []*common.MempoolBlockWithTransactions
	UpdateBlockTemplates(mempool map[string]*common.TransactionExtended, added, removed []*common.TransactionExtended, accelerationDelta []string, saveResults bool)
	// MakeBlockTemplates projects blocks for the given mempool without
	// touching the live projection. Used by the audit path when the audit
	// algorithm differs from the live one.
	MakeBlockTemplates(mempool map[string]*common.TransactionExtended) []*common.MempoolBlockWithTransactions
}

type BlockSource interface {
	GetBlocks() []*common.BlockExtended
}

// RbfCache tracks replacement trees until the replacements confirm or expire.
type RbfCache interface {
	Add(replaced []*common.TransactionExtended, replacement *common.TransactionExtended)
	GetReplacedBy(txid string) string
	Evict(txid string)
	Mined(txid string)
	GetRbfTrees(onlyFullRbf bool) []*common.RbfTree
	// GetRbfChanges returns the trees touched since the previous call, plus
	// an index from every txid those trees cover to its root.
	GetRbfChanges() ([]*common.RbfTree, map[string]*common.RbfTree)
	GetLatestRbfSummary() []*common.ReplacementInfo
}

type FeeAPI interface {
	GetRecommendedFee() *common.RecommendedFees
}

type DifficultyAdjuster interface {
	GetDifficultyAdjustment() *common.DifficultyAdjustment
}

type PriceFeed interface {
	GetLatestPrices() *common.Prices
}

type LoadingIndicators interface {
	GetLoadingIndicators() map[string]float64
}

type BackendInfoSource interface {
	GetBackendInfo() *common.BackendInfo
}

// TransactionFetcher enriches transactions from the upstream node when the
// backend is not esplora, and reports per-host health.
type TransactionFetcher interface {
	GetMempoolTransactionExtended(txid string, addPrevouts bool) (*common.TransactionExtended, error)
	GetFullTransactions(txs []*common.TransactionExtended) ([]*common.TransactionExtended, error)
	GetHealthStatus() []*common.NodeHealth
}

// Auditor compares a freshly mined block against the projection.
type Auditor interface {
	AuditBlock(block *common.BlockExtended, txIds []string, projected []*common.MempoolBlockWithTransactions, mempool map[string]*common.TransactionExtended) *common.AuditSummary
}

// Repository persists templates, audits and acceleration records. The
// fan-out layer tolerates failures; errors are logged and dropped.
type Repository interface {
	SaveTemplate(height int64, template *common.MempoolBlockWithTransactions) error
	SaveAudit(audit *common.AuditSummary) error
	SaveAcceleration(record *common.AccelerationRecord) error
}
