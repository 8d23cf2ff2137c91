package mempool

import (
	"sync"
	"time"

	"github.com/russeree/mempool/common"
)

const (
	latestTransactionsCount = 6
	vBytesWindow            = 2 * time.Minute
)

// TxSource feeds the engine from the node: the current mempool txid set and
// individual transactions.
type TxSource interface {
	GetMempoolTxids() ([]string, error)
	FetchMempoolTransaction(txid string) (*common.TransactionExtended, error)
}

type vBytesSample struct {
	at    time.Time
	vsize int64
}

// Mempool is the in-memory unconfirmed-transaction engine. One writer (the
// event loop) mutates it; concurrent readers go through the same methods
// under the internal lock.
type Mempool struct {
	mtx sync.RWMutex

	transactions map[string]*common.TransactionExtended
	spendMap     map[string]*common.TransactionExtended
	latest       []*common.TransactionStripped
	samples      []vBytesSample
	inSync       bool
	info         *common.MempoolInfo
}

func New() *Mempool {
	return &Mempool{
		transactions: make(map[string]*common.TransactionExtended),
		spendMap:     make(map[string]*common.TransactionExtended),
		info:         &common.MempoolInfo{Loaded: true},
	}
}

func (m *Mempool) GetMempool() map[string]*common.TransactionExtended {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.transactions
}

func (m *Mempool) GetMempoolInfo() *common.MempoolInfo {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	info := *m.info
	info.Size = int64(len(m.transactions))
	return &info
}

// SetMempoolInfo stores the node's getmempoolinfo view; the transaction
// count (Size) is derived locally on read.
func (m *Mempool) SetMempoolInfo(info *common.MempoolInfo) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.info = info
}

func (m *Mempool) GetVBytesPerSecond() int64 {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	cutoff := time.Now().Add(-vBytesWindow)
	var total int64
	for _, sample := range m.samples {
		if sample.at.After(cutoff) {
			total += sample.vsize
		}
	}
	return total / int64(vBytesWindow/time.Second)
}

func (m *Mempool) GetLatestTransactions() []*common.TransactionStripped {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	latest := make([]*common.TransactionStripped, len(m.latest))
	copy(latest, m.latest)
	return latest
}

func (m *Mempool) IsInSync() bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.inSync
}

func (m *Mempool) SetInSync(inSync bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.inSync = inSync
}

// ApplyDelta installs one mempool change set: new transactions enter the
// map, deleted ones leave it, the latest-transactions list and the vbytes
// window advance.
func (m *Mempool) ApplyDelta(added, deleted []*common.TransactionExtended) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := time.Now()
	for _, tx := range added {
		if tx.FirstSeen == 0 {
			tx.FirstSeen = now.Unix()
		}
		m.transactions[tx.Txid] = tx
		m.samples = append(m.samples, vBytesSample{at: now, vsize: int64(tx.Vsize)})
		m.latest = append([]*common.TransactionStripped{common.StripTransaction(tx)}, m.latest...)
	}
	if len(m.latest) > latestTransactionsCount {
		m.latest = m.latest[:latestTransactionsCount]
	}
	for _, tx := range deleted {
		delete(m.transactions, tx.Txid)
	}

	cutoff := now.Add(-vBytesWindow)
	trimmed := m.samples[:0]
	for _, sample := range m.samples {
		if sample.at.After(cutoff) {
			trimmed = append(trimmed, sample)
		}
	}
	m.samples = trimmed
}

func (m *Mempool) RemoveFromMempool(txIds []string) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for _, txid := range txIds {
		delete(m.transactions, txid)
	}
}

func (m *Mempool) GetSpendMap() map[string]*common.TransactionExtended {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.spendMap
}

func (m *Mempool) AddToSpendMap(txs []*common.TransactionExtended) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for _, tx := range txs {
		for _, vin := range tx.Vin {
			m.spendMap[common.OutpointKey(vin.Txid, vin.Vout)] = tx
		}
	}
}

func (m *Mempool) RemoveFromSpendMap(txs []*common.TransactionExtended) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for _, tx := range txs {
		for _, vin := range tx.Vin {
			key := common.OutpointKey(vin.Txid, vin.Vout)
			if owner, ok := m.spendMap[key]; ok && owner.Txid == tx.Txid {
				delete(m.spendMap, key)
			}
		}
	}
}

// HandleRbfTransactions flags the surviving replacements so downstream
// consumers (audit, projection deltas) can classify them.
func (m *Mempool) HandleRbfTransactions(replacements map[string][]*common.TransactionExtended) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for replacementTxid, replaced := range replacements {
		tx, ok := m.transactions[replacementTxid]
		if !ok {
			continue
		}
		tx.Flags |= common.TxFlagReplacement
		fullRbf := false
		for _, old := range replaced {
			if !common.SignalsRbf(old) {
				fullRbf = true
			}
		}
		if fullRbf {
			tx.Flags |= common.TxFlagFullRbf
		}
		common.Log.Debugf("tx %s replaced %d transaction(s) (fullRbf=%v)", replacementTxid, len(replaced), fullRbf)
	}
}

// HandleMinedRbfTransactions drops the displaced transactions: their inputs
// were spent by a mined conflict, so they can never confirm.
func (m *Mempool) HandleMinedRbfTransactions(replacements map[string][]*common.TransactionExtended) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for minedTxid, replaced := range replacements {
		for _, tx := range replaced {
			delete(m.transactions, tx.Txid)
		}
		common.Log.Debugf("mined tx %s displaced %d mempool transaction(s)", minedTxid, len(replaced))
	}
}
