package repository

import (
	"github.com/russeree/mempool/common"
)

// Noop satisfies the persistence contract for deployments without a
// database: records are logged and dropped.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) SaveTemplate(height int64, template *common.MempoolBlockWithTransactions) error {
	common.Log.Debugf("template for height %d (%d txs) not persisted, no repository configured", height, template.NTx)
	return nil
}

func (n *Noop) SaveAudit(audit *common.AuditSummary) error {
	common.Log.Debugf("audit for block %s (score %.4f) not persisted, no repository configured", audit.Hash, audit.Score)
	return nil
}

func (n *Noop) SaveAcceleration(record *common.AccelerationRecord) error {
	common.Log.Debugf("acceleration for %s not persisted, no repository configured", record.Txid)
	return nil
}
