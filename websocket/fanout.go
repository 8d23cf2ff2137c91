package websocket

import (
	"fmt"
	"math"

	"github.com/russeree/mempool/common"
	"github.com/russeree/mempool/config"
)

// outspend records which input of which new transaction spent a tracked
// transaction's output.
type outspend struct {
	Vin  int    `json:"vin"`
	Txid string `json:"txid"`
}

// addressActivity is one address's bucket inside the multi-address and
// multi-scriptpubkey responses.
type addressActivity struct {
	Mempool   []*common.TransactionExtended `json:"mempool"`
	Confirmed []*common.TransactionExtended `json:"confirmed"`
	Removed   []*common.TransactionExtended `json:"removed"`
}

// HandleMempoolChange fans out one mempool delta: refreshes the shared
// snapshot, detects replacements, maintains the spend map, then walks the
// client set once, composing each client's response from the per-event
// serialization cache.
func (h *Hub) HandleMempoolChange(newMempool map[string]*common.TransactionExtended, mempoolSize int,
	added, deleted []*common.TransactionExtended, accelerationDelta []string) {

	h.eventMtx.Lock()
	defer h.eventMtx.Unlock()

	h.mempoolBlocks.UpdateBlockTemplates(newMempool, added, deleted, accelerationDelta, true)
	mempoolBlockDeltas := h.mempoolBlocks.GetMempoolBlockDeltas()

	mempoolInfo := h.mempool.GetMempoolInfo()
	vBytesPerSecond := h.mempool.GetVBytesPerSecond()
	fees := h.fees.GetRecommendedFee()
	da := h.da.GetDifficultyAdjustment()
	latestTransactions := h.mempool.GetLatestTransactions()

	// Replacements: a new transaction spending an input some deleted
	// transaction also spent superseded it.
	rbfReplacements := common.FindRbfTransactions(added, deleted)
	var rbfTrees, fullRbfTrees []*common.RbfTree
	var rbfChanges []*common.RbfTree
	var rbfChangeIndex map[string]*common.RbfTree
	var rbfSummary []*common.ReplacementInfo
	if len(rbfReplacements) > 0 {
		h.mempool.HandleRbfTransactions(rbfReplacements)
		for replacementTxid, replaced := range rbfReplacements {
			if replacement, ok := newMempool[replacementTxid]; ok {
				h.rbfCache.Add(replaced, replacement)
			}
		}
	}
	rbfChanges, rbfChangeIndex = h.rbfCache.GetRbfChanges()
	if len(rbfChanges) > 0 {
		rbfTrees = h.rbfCache.GetRbfTrees(false)
		fullRbfTrees = h.rbfCache.GetRbfTrees(true)
		rbfSummary = h.rbfCache.GetLatestRbfSummary()
	}

	for _, tx := range deleted {
		h.rbfCache.Evict(tx.Txid)
	}
	h.mempool.RemoveFromSpendMap(deleted)
	h.mempool.AddToSpendMap(added)

	fields := map[string]string{
		"mempoolInfo":     marshalJSON(mempoolInfo),
		"vBytesPerSecond": marshalJSON(vBytesPerSecond),
		"transactions":    marshalJSON(latestTransactions),
		"da":              marshalJSON(da),
		"fees":            marshalJSON(fees),
		"mempool-blocks":  marshalJSON(h.mempoolBlocks.GetMempoolBlocks()),
	}
	if rbfSummary != nil {
		fields["rbfSummary"] = marshalJSON(rbfSummary)
	}
	h.snapshot.Update(fields)

	cache := newSerializationCache(h.snapshot)
	if rbfTrees != nil {
		cache.set("rbfLatest", marshalJSON(rbfTrees))
		cache.set("fullRbfLatest", marshalJSON(fullRbfTrees))
	}

	addedIndex := BuildAddressIndex(added)
	deletedIndex := BuildAddressIndex(deleted)

	clients := h.clientSnapshot()

	// Outspend index: for every tracked txid, which of its outputs the new
	// transactions spend.
	trackedTxids := make(map[string]bool)
	for _, client := range clients {
		client.mtx.Lock()
		if client.trackTx != "" {
			trackedTxids[client.trackTx] = true
		}
		client.mtx.Unlock()
	}
	outspends := make(map[string]map[uint32]*outspend)
	if len(trackedTxids) > 0 {
		for _, tx := range added {
			for vinIndex, vin := range tx.Vin {
				if !trackedTxids[vin.Txid] {
					continue
				}
				if outspends[vin.Txid] == nil {
					outspends[vin.Txid] = make(map[uint32]*outspend)
				}
				outspends[vin.Txid][vin.Vout] = &outspend{Vin: vinIndex, Txid: tx.Txid}
			}
		}
	}

	inSync := h.mempool.IsInSync()

	for _, client := range clients {
		if client.isClosed() {
			continue
		}
		client.mtx.Lock()
		response := make(map[string]string)

		if client.wantStats {
			response["mempoolInfo"] = cache["mempoolInfo"]
			response["vBytesPerSecond"] = cache["vBytesPerSecond"]
			response["transactions"] = cache["transactions"]
			if da != nil && da.PreviousTime > 0 {
				response["da"] = cache["da"]
			}
			response["fees"] = cache["fees"]
		}
		if client.wantMempoolBlocks {
			response["mempool-blocks"] = cache["mempool-blocks"]
		}
		if client.wantTomahawk {
			response["tomahawk"] = cache.getCached("tomahawk", h.txFetcher.GetHealthStatus())
		}

		if client.trackMempoolTx != "" {
			if tx, ok := h.findAdded(added, client.trackMempoolTx); ok {
				outTx := h.enrichTransaction(tx)
				response["tx"] = cache.getCached("tx-"+tx.Txid, outTx)
				client.trackMempoolTx = ""
			}
		}

		if client.trackAddress != "" {
			newTxs := h.enrichTransactions(addedIndex[client.trackAddress])
			removedTxs := deletedIndex[client.trackAddress]
			if len(newTxs) > 0 {
				response["address-transactions"] = cache.getCached("address-"+client.trackAddress, newTxs)
			}
			if len(removedTxs) > 0 {
				response["address-removed-transactions"] = cache.getCached("address-removed-"+client.trackAddress, removedTxs)
			}
		}

		if len(client.trackAddresses) > 0 {
			activity := make(map[string]*addressActivity)
			for raw, canonical := range client.trackAddresses {
				newTxs := addedIndex[canonical]
				removedTxs := deletedIndex[canonical]
				if len(newTxs) == 0 && len(removedTxs) == 0 {
					continue
				}
				activity[raw] = &addressActivity{
					Mempool:   h.enrichTransactions(newTxs),
					Confirmed: []*common.TransactionExtended{},
					Removed:   removedTxs,
				}
			}
			if len(activity) > 0 {
				response["multi-address-transactions"] = marshalJSON(activity)
			}
		}

		if len(client.trackScriptpubkeys) > 0 {
			activity := make(map[string]*addressActivity)
			for _, script := range client.trackScriptpubkeys {
				newTxs := addedIndex[script]
				removedTxs := deletedIndex[script]
				if len(newTxs) == 0 && len(removedTxs) == 0 {
					continue
				}
				activity[script] = &addressActivity{
					Mempool:   h.enrichTransactions(newTxs),
					Confirmed: []*common.TransactionExtended{},
					Removed:   removedTxs,
				}
			}
			if len(activity) > 0 {
				response["multi-scriptpubkey-transactions"] = marshalJSON(activity)
			}
		}

		if client.trackAsset != "" {
			assetTxs := filterAssetTransactions(added, client.trackAsset)
			if len(assetTxs) > 0 {
				response["address-transactions"] = cache.getCached("asset-"+client.trackAsset, assetTxs)
			}
		}

		if client.trackTx != "" {
			if spent := outspends[client.trackTx]; len(spent) > 0 {
				response["utxoSpent"] = cache.getCached("utxoSpent-"+client.trackTx, spent)
			}
			if replacedBy := h.rbfCache.GetReplacedBy(client.trackTx); replacedBy != "" {
				response["rbfTransaction"] = cache.getCached("rbfTransaction-"+client.trackTx, map[string]string{"txid": replacedBy})
			}
			if tree, ok := rbfChangeIndex[client.trackTx]; ok {
				response["rbfInfo"] = cache.getCached("rbfInfo-"+client.trackTx, tree)
			}
			if tx, ok := newMempool[client.trackTx]; ok && tx.Position != nil {
				positionPayload := map[string]interface{}{
					"txid":     client.trackTx,
					"position": tx.Position,
				}
				positionKey := "txPosition-" + client.trackTx
				if tx.CpfpDirty {
					positionPayload["cpfp"] = cpfpInfo(tx)
					positionKey += "-cpfp"
				}
				response["txPosition"] = cache.getCached(positionKey, positionPayload)
			}
		}

		if client.trackMempoolBlock >= 0 && inSync {
			index := client.trackMempoolBlock
			if index < len(mempoolBlockDeltas) && deltaHasChanges(mempoolBlockDeltas[index]) {
				response["projected-block-transactions"] = cache.getCached(
					fmt.Sprintf("projected-delta-%d", index),
					map[string]interface{}{"index": index, "delta": mempoolBlockDeltas[index]})
			}
		}

		if rbfTrees != nil {
			switch client.trackRbf {
			case TrackRbfAll:
				response["rbfLatest"] = cache["rbfLatest"]
			case TrackRbfFullRbf:
				response["rbfLatest"] = cache["fullRbfLatest"]
			}
		}
		if client.trackRbfSummary && rbfSummary != nil {
			response["rbfLatestSummary"] = cache["rbfSummary"]
		}

		client.mtx.Unlock()
		client.sendResponse(response)
	}
}

// HandleNewBlock fans out a freshly mined block: persists accelerations and
// audit results, evicts mined transactions, rebuilds the projection and
// notifies every client according to its subscriptions.
func (h *Hub) HandleNewBlock(block *common.BlockExtended, txIds []string, transactions []*common.TransactionExtended) {
	h.eventMtx.Lock()
	defer h.eventMtx.Unlock()

	mined := make(map[string]bool, len(txIds))
	for _, txid := range txIds {
		mined[txid] = true
	}
	mempoolTxs := h.mempool.GetMempool()

	if h.cfg.Policy.Accelerations {
		for _, txid := range txIds {
			tx, ok := mempoolTxs[txid]
			if !ok || !tx.Acceleration {
				continue
			}
			boostRate := tx.EffectiveFeePerVsize - tx.FeePerVsize
			record := &common.AccelerationRecord{
				Txid:      tx.Txid,
				Height:    block.Height,
				BoostRate: boostRate,
				BoostCost: int64(math.Round(boostRate * tx.AdjustedVsize)),
			}
			if err := h.repo.SaveAcceleration(record); err != nil {
				common.Log.Debugf("failed to save acceleration for %s: %v", tx.Txid, err)
			}
		}
	}

	minedRbf := common.FindMinedRbfTransactions(transactions, h.mempool.GetSpendMap())
	if len(minedRbf) > 0 {
		h.mempool.HandleMinedRbfTransactions(minedRbf)
		for minedTxid, replaced := range minedRbf {
			if minedTx := findTransaction(transactions, minedTxid); minedTx != nil {
				h.rbfCache.Add(replaced, minedTx)
			}
		}
	}
	h.mempool.RemoveFromSpendMap(transactions)

	if h.cfg.Policy.Audit && h.mempool.IsInSync() {
		projected := h.projectionForAudit(mempoolTxs)
		summary := h.auditor.AuditBlock(block, txIds, projected, mempoolTxs)
		if summary != nil {
			matchRate := math.Round(summary.Score*10000) / 100
			if block.Extras == nil {
				block.Extras = &common.BlockExtras{}
			}
			block.Extras.MatchRate = &matchRate
			expectedFees := summary.ExpectedFees
			expectedWeight := summary.ExpectedWeight
			block.Extras.ExpectedFees = &expectedFees
			block.Extras.ExpectedWeight = &expectedWeight
			if len(projected) > 0 && projected[0] != nil {
				similarity := common.GetSimilarity(projected[0], txIds)
				block.Extras.Similarity = &similarity
				if err := h.repo.SaveTemplate(block.Height, projected[0]); err != nil {
					common.Log.Debugf("failed to save template for %d: %v", block.Height, err)
				}
			}
			if err := h.repo.SaveAudit(summary); err != nil {
				common.Log.Debugf("failed to save audit for %d: %v", block.Height, err)
			}
		}
	}

	h.mempool.RemoveFromMempool(txIds)
	for _, txid := range txIds {
		h.rbfCache.Mined(txid)
	}

	remaining := h.mempool.GetMempool()
	h.mempoolBlocks.UpdateBlockTemplates(remaining, nil, nil, nil, true)
	mempoolBlockDeltas := h.mempoolBlocks.GetMempoolBlockDeltas()

	h.snapshot.Update(map[string]string{
		"mempoolInfo":       marshalJSON(h.mempool.GetMempoolInfo()),
		"blocks":            marshalJSON(h.recentBlocks(block)),
		"mempool-blocks":    marshalJSON(h.mempoolBlocks.GetMempoolBlocks()),
		"loadingIndicators": marshalJSON(h.loading.GetLoadingIndicators()),
		"da":                marshalJSON(h.da.GetDifficultyAdjustment()),
		"fees":              marshalJSON(h.fees.GetRecommendedFee()),
	})

	cache := newSerializationCache(h.snapshot)
	cache.set("block", marshalJSON(block))

	blockIndex := BuildAddressIndex(transactions)
	confirmedStatus := &common.TxStatus{
		Confirmed:   true,
		BlockHeight: block.Height,
		BlockHash:   block.Id,
		BlockTime:   block.Timestamp,
	}

	inSync := h.mempool.IsInSync()
	clients := h.clientSnapshot()

	for _, client := range clients {
		if client.isClosed() {
			continue
		}
		client.mtx.Lock()
		response := make(map[string]string)

		if client.wantBlocks {
			response["block"] = cache["block"]
		}
		if client.wantStats {
			response["mempoolInfo"] = cache["mempoolInfo"]
			response["vBytesPerSecond"] = cache.getCached("vBytesPerSecond", h.mempool.GetVBytesPerSecond())
			response["fees"] = cache["fees"]
			response["da"] = cache["da"]
		}
		if client.wantMempoolBlocks {
			response["mempool-blocks"] = cache["mempool-blocks"]
		}
		if client.wantTomahawk {
			response["tomahawk"] = cache.getCached("tomahawk", h.txFetcher.GetHealthStatus())
		}

		if client.trackTx != "" {
			if mined[client.trackTx] {
				response["txConfirmed"] = cache.getCached("txConfirmed-"+client.trackTx, client.trackTx)
			} else if tx, ok := remaining[client.trackTx]; ok && tx.Position != nil {
				response["txPosition"] = cache.getCached("txPosition-"+client.trackTx, map[string]interface{}{
					"txid":     client.trackTx,
					"position": tx.Position,
				})
			}
		}

		if client.trackAddress != "" {
			if confirmed := blockIndex[client.trackAddress]; len(confirmed) > 0 {
				response["block-transactions"] = cache.getCached("block-txs-"+client.trackAddress,
					stampConfirmed(confirmed, confirmedStatus))
			}
		}

		if len(client.trackAddresses) > 0 {
			activity := make(map[string]*addressActivity)
			for raw, canonical := range client.trackAddresses {
				confirmed := blockIndex[canonical]
				if len(confirmed) == 0 {
					continue
				}
				activity[raw] = &addressActivity{
					Mempool:   []*common.TransactionExtended{},
					Confirmed: stampConfirmed(confirmed, confirmedStatus),
					Removed:   []*common.TransactionExtended{},
				}
			}
			if len(activity) > 0 {
				response["multi-address-transactions"] = marshalJSON(activity)
			}
		}

		if len(client.trackScriptpubkeys) > 0 {
			activity := make(map[string]*addressActivity)
			for _, script := range client.trackScriptpubkeys {
				confirmed := blockIndex[script]
				if len(confirmed) == 0 {
					continue
				}
				activity[script] = &addressActivity{
					Mempool:   []*common.TransactionExtended{},
					Confirmed: stampConfirmed(confirmed, confirmedStatus),
					Removed:   []*common.TransactionExtended{},
				}
			}
			if len(activity) > 0 {
				response["multi-scriptpubkey-transactions"] = marshalJSON(activity)
			}
		}

		if client.trackAsset != "" {
			assetTxs := filterAssetTransactions(transactions, client.trackAsset)
			if len(assetTxs) > 0 {
				response["block-transactions"] = cache.getCached("block-asset-"+client.trackAsset,
					stampConfirmed(assetTxs, confirmedStatus))
			}
		}

		if client.trackMempoolBlock >= 0 && inSync {
			index := client.trackMempoolBlock
			if index < len(mempoolBlockDeltas) {
				delta := mempoolBlockDeltas[index]
				// A delta bigger than half the block is no cheaper than a
				// full refresh, so send the whole projected block instead.
				if len(delta.Added) <= len(transactions)/2 {
					if deltaHasChanges(delta) {
						response["projected-block-transactions"] = cache.getCached(
							fmt.Sprintf("projected-delta-%d", index),
							map[string]interface{}{"index": index, "delta": delta})
					}
				} else if projected := h.mempoolBlocks.GetMempoolBlocksWithTransactions(); index < len(projected) {
					response["projected-block-transactions"] = cache.getCached(
						fmt.Sprintf("projected-full-%d", index),
						map[string]interface{}{"index": index, "blockTransactions": projected[index].Transactions})
				}
			}
		}

		client.mtx.Unlock()
		client.sendResponse(response)
	}
}

// HandleReorg republishes the reorganized chain tip and difficulty estimate.
func (h *Hub) HandleReorg() {
	h.eventMtx.Lock()
	defer h.eventMtx.Unlock()

	blocks := marshalJSON(h.blocks.GetBlocks())
	da := marshalJSON(h.da.GetDifficultyAdjustment())
	h.snapshot.Update(map[string]string{
		"blocks": blocks,
		"da":     da,
	})

	for _, client := range h.clientSnapshot() {
		if client.isClosed() {
			continue
		}
		client.mtx.Lock()
		response := make(map[string]string)
		if client.wantBlocks {
			response["blocks"] = blocks
		}
		if client.wantStats {
			response["da"] = da
		}
		client.mtx.Unlock()
		client.sendResponse(response)
	}
}

// HandleLoadingChanged broadcasts backend loading progress to every client.
func (h *Hub) HandleLoadingChanged(indicators map[string]float64) {
	h.eventMtx.Lock()
	defer h.eventMtx.Unlock()

	serialized := marshalJSON(indicators)
	h.snapshot.Update(map[string]string{"loadingIndicators": serialized})
	h.broadcast(SerializeResponse(map[string]string{"loadingIndicators": serialized}))
}

// HandleNewConversionRates broadcasts a price update to every client.
func (h *Hub) HandleNewConversionRates(prices *common.Prices) {
	h.eventMtx.Lock()
	defer h.eventMtx.Unlock()

	serialized := marshalJSON(prices)
	h.snapshot.Update(map[string]string{"conversions": serialized})
	h.broadcast(SerializeResponse(map[string]string{"conversions": serialized}))
}

// HandleNewStatistic pushes a statistics tick to live-chart subscribers.
func (h *Hub) HandleNewStatistic(stats interface{}) {
	h.eventMtx.Lock()
	defer h.eventMtx.Unlock()

	payload := SerializeResponse(map[string]string{"live-2h-chart": marshalJSON(stats)})
	for _, client := range h.clientSnapshot() {
		if client.isClosed() {
			continue
		}
		client.mtx.Lock()
		wanted := client.wantLive2hChart
		client.mtx.Unlock()
		if wanted {
			client.sendRaw(payload)
		}
	}
}

// HandleDonationConfirmed notifies the client waiting on a donation id.
func (h *Hub) HandleDonationConfirmed(donationId string) {
	h.eventMtx.Lock()
	defer h.eventMtx.Unlock()

	payload := SerializeResponse(map[string]string{"donationConfirmed": "true"})
	for _, client := range h.clientSnapshot() {
		if client.isClosed() {
			continue
		}
		client.mtx.Lock()
		matched := client.trackDonation != "" && client.trackDonation == donationId
		client.mtx.Unlock()
		if matched {
			client.sendRaw(payload)
		}
	}
}

func (h *Hub) broadcast(payload string) {
	for _, client := range h.clientSnapshot() {
		if !client.isClosed() {
			client.sendRaw(payload)
		}
	}
}

// projectionForAudit returns the projected blocks the audit should compare
// against. When the audit algorithm differs from the live one the mempool is
// deep-copied first so template construction cannot disturb live state.
func (h *Hub) projectionForAudit(mempool map[string]*common.TransactionExtended) []*common.MempoolBlockWithTransactions {
	if h.cfg.Policy.AdvancedGbtAudit != h.cfg.Policy.AdvancedGbtMempool {
		cloned := make(map[string]*common.TransactionExtended, len(mempool))
		for txid, tx := range mempool {
			copied := *tx
			cloned[txid] = &copied
		}
		return h.mempoolBlocks.MakeBlockTemplates(cloned)
	}
	return h.mempoolBlocks.GetMempoolBlocksWithTransactions()
}

// recentBlocks appends the new block to the known chain tip, capped to the
// configured initial-blocks window.
func (h *Hub) recentBlocks(block *common.BlockExtended) []*common.BlockExtended {
	blocks := h.blocks.GetBlocks()
	if len(blocks) == 0 || blocks[len(blocks)-1].Id != block.Id {
		blocks = append(blocks, block)
	}
	if limit := h.cfg.WebSocket.InitialBlocksAmount; len(blocks) > limit {
		blocks = blocks[len(blocks)-limit:]
	}
	return blocks
}

func (h *Hub) findAdded(added []*common.TransactionExtended, txid string) (*common.TransactionExtended, bool) {
	for _, tx := range added {
		if tx.Txid == txid {
			return tx, true
		}
	}
	return nil, false
}

// enrichTransaction fetches the full transaction from the node when the
// backend does not deliver prevouts itself. Failures fall back to the
// unenriched form.
func (h *Hub) enrichTransaction(tx *common.TransactionExtended) *common.TransactionExtended {
	if h.cfg.Backend.Kind == config.BackendEsplora {
		return tx
	}
	fetched, err := h.txFetcher.GetMempoolTransactionExtended(tx.Txid, true)
	if err != nil {
		common.Log.Debugf("failed to enrich tx %s: %v", tx.Txid, err)
		return tx
	}
	return fetched
}

func (h *Hub) enrichTransactions(txs []*common.TransactionExtended) []*common.TransactionExtended {
	if len(txs) == 0 || h.cfg.Backend.Kind == config.BackendEsplora {
		return txs
	}
	enriched, err := h.txFetcher.GetFullTransactions(txs)
	if err != nil {
		common.Log.Debugf("failed to enrich %d transactions: %v", len(txs), err)
		return txs
	}
	return enriched
}

// filterAssetTransactions keeps transactions touching the given asset:
// tagged outputs, issuances, and for the native asset the peg traffic.
func filterAssetTransactions(txs []*common.TransactionExtended, asset string) []*common.TransactionExtended {
	isNative := asset == common.NativeAssetId
	var matched []*common.TransactionExtended
	for _, tx := range txs {
		found := false
		for _, vin := range tx.Vin {
			if vin.Issuance != nil && vin.Issuance.AssetId == asset {
				found = true
			}
			if isNative && vin.IsPegin {
				found = true
			}
		}
		for _, vout := range tx.Vout {
			if vout.Asset == asset {
				found = true
			}
			if isNative && vout.Pegout {
				found = true
			}
		}
		if found {
			matched = append(matched, tx)
		}
	}
	return matched
}

// stampConfirmed copies the transactions with their status set to the mined
// block. Copies, because the same extended tx objects may still be indexed
// elsewhere.
func stampConfirmed(txs []*common.TransactionExtended, status *common.TxStatus) []*common.TransactionExtended {
	stamped := make([]*common.TransactionExtended, 0, len(txs))
	for _, tx := range txs {
		copied := *tx
		copied.Status = status
		stamped = append(stamped, &copied)
	}
	return stamped
}

func deltaHasChanges(delta *common.MempoolBlockDelta) bool {
	return delta != nil && (len(delta.Added) > 0 || len(delta.Removed) > 0 || len(delta.Changed) > 0)
}

func findTransaction(txs []*common.TransactionExtended, txid string) *common.TransactionExtended {
	for _, tx := range txs {
		if tx.Txid == txid {
			return tx
		}
	}
	return nil
}

func cpfpInfo(tx *common.TransactionExtended) *common.CpfpInfo {
	return &common.CpfpInfo{
		Ancestors:            tx.Ancestors,
		BestDescendant:       tx.BestDescendant,
		Descendants:          tx.Descendants,
		EffectiveFeePerVsize: tx.EffectiveFeePerVsize,
		Sigops:               tx.Sigops,
		AdjustedVsize:        tx.AdjustedVsize,
		Acceleration:         tx.Acceleration,
	}
}
