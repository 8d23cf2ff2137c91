package backend

import (
	"bytes"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/russeree/mempool/common"
	"github.com/russeree/mempool/difficulty"
	"github.com/russeree/mempool/mempool"
	"github.com/russeree/mempool/websocket"
)

const (
	epochBlockLength = 2016
	// Initial mempool loads fetch in slices so the loading indicator moves
	// and a restart does not hammer the node.
	maxTxFetchPerCycle = 2000
)

// Watcher polls the node for mempool and chain movement and drives the
// fan-out hub's event handlers. All handler invocations happen from this
// single goroutine, which keeps upstream events serialized.
type Watcher struct {
	client      *Client
	engine      *mempool.Mempool
	blocks      *Blocks
	hub         *websocket.Hub
	adjuster    *difficulty.Adjuster
	indicators  *Indicators
	chainParams *chaincfg.Params
	interval    time.Duration

	tipHeight uint64
}

func NewWatcher(client *Client, engine *mempool.Mempool, blocks *Blocks, hub *websocket.Hub,
	adjuster *difficulty.Adjuster, indicators *Indicators, chainParams *chaincfg.Params,
	interval time.Duration) *Watcher {

	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		client:      client,
		engine:      engine,
		blocks:      blocks,
		hub:         hub,
		adjuster:    adjuster,
		indicators:  indicators,
		chainParams: chainParams,
		interval:    interval,
	}
}

func (w *Watcher) Start(stop chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.pollBlocks()
			w.pollMempool()
		case <-stop:
			common.Log.Info("chain watcher stopped")
			return
		}
	}
}

func (w *Watcher) pollMempool() {
	txids, err := w.client.GetMempoolTxids()
	if err != nil {
		common.Log.Debugf("failed to fetch mempool txids: %v", err)
		return
	}

	known := w.engine.GetMempool()
	inNode := make(map[string]bool, len(txids))
	var missing []string
	for _, txid := range txids {
		inNode[txid] = true
		if _, ok := known[txid]; !ok {
			missing = append(missing, txid)
		}
	}

	var added []*common.TransactionExtended
	fetchCount := len(missing)
	if fetchCount > maxTxFetchPerCycle {
		fetchCount = maxTxFetchPerCycle
	}
	for i := 0; i < fetchCount; i++ {
		tx, err := w.client.GetMempoolTransactionExtended(missing[i], true)
		if err != nil {
			// Races with eviction and mining are routine; the next cycle
			// reconciles.
			common.Log.Debugf("failed to fetch mempool tx %s: %v", missing[i], err)
			continue
		}
		added = append(added, tx)
	}

	var deleted []*common.TransactionExtended
	for txid, tx := range known {
		if !inNode[txid] {
			deleted = append(deleted, tx)
		}
	}

	backlog := len(missing) - fetchCount
	w.engine.SetInSync(backlog == 0)
	if backlog > 0 {
		w.indicators.SetProgress("mempool", float64(len(txids)-backlog)/float64(len(txids))*100)
	} else {
		w.indicators.SetProgress("mempool", 100)
	}

	if len(added) == 0 && len(deleted) == 0 {
		return
	}
	w.engine.ApplyDelta(added, deleted)
	newMempool := w.engine.GetMempool()
	w.hub.HandleMempoolChange(newMempool, len(newMempool), added, deleted, nil)
}

func (w *Watcher) pollBlocks() {
	count, err := w.client.GetBlockCount()
	if err != nil {
		common.Log.Debugf("failed to fetch block count: %v", err)
		return
	}
	if w.tipHeight == 0 {
		// First observation: backfill the window without fanning out.
		w.backfill(count)
		return
	}
	if count <= w.tipHeight {
		return
	}

	for height := w.tipHeight + 1; height <= count; height++ {
		block, txs, err := w.fetchBlock(height)
		if err != nil {
			common.Log.Errorf("failed to fetch block %d: %v", height, err)
			return
		}

		if tip := w.blocks.Tip(); tip != nil && block.PreviousBlockHash != tip.Id {
			common.Log.Infof("chain reorganization at height %d", height)
			w.backfill(count)
			w.hub.HandleReorg()
			return
		}

		w.blocks.AddBlock(block)
		w.updateDifficulty(block)
		w.tipHeight = height

		txids := make([]string, 0, len(txs))
		for _, tx := range txs {
			txids = append(txids, tx.Txid)
		}
		w.hub.HandleNewBlock(block, txids, txs)
	}
}

// backfill rebuilds the recent-blocks window from the node without fanning
// out events, then records the tip.
func (w *Watcher) backfill(tip uint64) {
	window := make([]*common.BlockExtended, 0, w.blocks.limit)
	start := uint64(1)
	if tip > uint64(w.blocks.limit) {
		start = tip - uint64(w.blocks.limit) + 1
	}
	for height := start; height <= tip; height++ {
		block, _, err := w.fetchBlock(height)
		if err != nil {
			common.Log.Errorf("failed to backfill block %d: %v", height, err)
			return
		}
		window = append(window, block)
	}
	w.blocks.SetBlocks(window)
	if len(window) > 0 {
		w.updateDifficulty(window[len(window)-1])
	}
	w.tipHeight = tip
}

func (w *Watcher) fetchBlock(height uint64) (*common.BlockExtended, []*common.TransactionExtended, error) {
	hash, err := w.client.GetBlockHash(height)
	if err != nil {
		return nil, nil, err
	}
	rawHex, err := w.client.GetRawBlock(hash)
	if err != nil {
		return nil, nil, err
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, nil, err
	}
	parsed, err := btcutil.NewBlockFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, err
	}

	known := w.engine.GetMempool()
	txs := make([]*common.TransactionExtended, 0, len(parsed.Transactions()))
	for _, tx := range parsed.Transactions() {
		converted := convertWireTransaction(tx, w.chainParams)
		if mempoolTx, ok := known[converted.Txid]; ok {
			converted.Fee = mempoolTx.Fee
			converted.FirstSeen = mempoolTx.FirstSeen
			for i, vin := range mempoolTx.Vin {
				if i < len(converted.Vin) {
					converted.Vin[i].Prevout = vin.Prevout
				}
			}
		}
		txs = append(txs, converted)
	}

	header := parsed.MsgBlock().Header
	block := &common.BlockExtended{
		Id:                hash,
		Height:            int64(height),
		Version:           uint32(header.Version),
		Timestamp:         header.Timestamp.Unix(),
		Bits:              header.Bits,
		Nonce:             header.Nonce,
		Difficulty:        difficultyFromBits(header.Bits),
		MerkleRoot:        header.MerkleRoot.String(),
		TxCount:           len(txs),
		Size:              int64(len(raw)),
		PreviousBlockHash: header.PrevBlock.String(),
		Extras:            blockExtras(txs),
	}
	for _, tx := range txs {
		block.Weight += tx.Weight
	}
	return block, txs, nil
}

func blockExtras(txs []*common.TransactionExtended) *common.BlockExtras {
	extras := &common.BlockExtras{FeeRange: []float64{}}
	var rates []float64
	for index, tx := range txs {
		if index == 0 {
			for _, vout := range tx.Vout {
				extras.Reward += vout.Value
			}
			continue
		}
		extras.TotalFees += tx.Fee
		if tx.Fee > 0 && tx.Vsize > 0 {
			rates = append(rates, float64(tx.Fee)/tx.Vsize)
		}
	}
	extras.MedianFee = common.Median(rates)
	return extras
}

func (w *Watcher) updateDifficulty(tip *common.BlockExtended) {
	epochStart := uint64(tip.Height) - uint64(tip.Height)%epochBlockLength
	hash, err := w.client.GetBlockHash(epochStart)
	if err != nil {
		common.Log.Debugf("failed to fetch epoch start %d: %v", epochStart, err)
		return
	}
	header, err := w.client.GetBlockHeader(hash)
	if err != nil {
		common.Log.Debugf("failed to fetch epoch header %s: %v", hash, err)
		return
	}
	w.adjuster.SetTip(tip.Height, tip.Timestamp, int64(header.Time), 0)
}

// difficultyFromBits expands the compact target encoding into the
// conventional difficulty figure.
func difficultyFromBits(bits uint32) float64 {
	shift := int((bits >> 24) & 0xff)
	diff := float64(0x0000ffff) / float64(bits&0x00ffffff)
	for shift < 29 {
		diff *= 256
		shift++
	}
	for shift > 29 {
		diff /= 256
		shift--
	}
	return diff
}
