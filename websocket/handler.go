package websocket

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/russeree/mempool/common"
	"github.com/russeree/mempool/config"
)

// handleClientMessage decodes one inbound frame, mutates the session and
// assembles the one-shot response: initial payloads for newly enabled
// subscriptions plus any error strings. A decode failure is returned to the
// read pump, which closes the connection; validator rejections only clear
// the affected slot.
func (h *Hub) handleClientMessage(client *Client, raw []byte) error {
	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return errors.Wrap(err, "malformed frame")
	}

	response := make(map[string]string)
	cache := newSerializationCache(h.snapshot)

	client.mtx.Lock()
	defer client.mtx.Unlock()

	// Subscription classes: listed ones are turned on, everything else off.
	// wantNow records classes that just flipped on in this frame so their
	// current snapshot value can be seeded below.
	wantNow := make(map[string]bool)
	if parsed["action"] == "want" {
		requested := make(map[string]bool)
		if data, ok := parsed["data"].([]interface{}); ok {
			for _, entry := range data {
				if class, ok := entry.(string); ok {
					requested[class] = true
				}
			}
		}
		enable := func(class string, current *bool) {
			if requested[class] && !*current {
				wantNow[class] = true
			}
			*current = requested[class]
		}
		enable("blocks", &client.wantBlocks)
		enable("mempool-blocks", &client.wantMempoolBlocks)
		enable("live-2h-chart", &client.wantLive2hChart)
		enable("stats", &client.wantStats)
		enable("tomahawk", &client.wantTomahawk)
	}

	if wantNow["blocks"] || truthy(parsed["refresh-blocks"]) {
		if blocks, ok := cache["blocks"]; ok {
			response["blocks"] = blocks
		}
	}
	if wantNow["mempool-blocks"] {
		if mempoolBlocks, ok := cache["mempool-blocks"]; ok {
			response["mempool-blocks"] = mempoolBlocks
		}
	}
	if wantNow["stats"] {
		for _, key := range []string{"mempoolInfo", "vBytesPerSecond", "fees", "da"} {
			if value, ok := cache[key]; ok {
				response[key] = value
			}
		}
	}
	if wantNow["tomahawk"] {
		response["tomahawk"] = cache.getCached("tomahawk", h.txFetcher.GetHealthStatus())
	}

	if rawTx, present := parsed["track-tx"]; present {
		txid, isString := rawTx.(string)
		if isString && IsValidTxid(txid) {
			txid = strings.ToLower(txid)
			client.trackTx = txid
			mempoolTxs := h.mempool.GetMempool()
			tx := mempoolTxs[txid]
			if truthy(parsed["watch-mempool"]) {
				if replacedBy := h.rbfCache.GetReplacedBy(txid); replacedBy != "" {
					response["txReplaced"] = cache.getCached("txReplaced-"+txid, map[string]string{"txid": replacedBy})
					client.trackTx = ""
				} else if tx != nil {
					outTx := tx
					if h.cfg.Backend.Kind != config.BackendEsplora {
						fetched, err := h.txFetcher.GetMempoolTransactionExtended(txid, true)
						if err != nil {
							common.Log.Debugf("failed to fetch tracked tx %s: %v", txid, err)
						} else {
							outTx = fetched
						}
					}
					response["tx"] = cache.getCached("tx-"+txid, outTx)
				} else {
					// Not seen yet: deliver on its first mempool sighting.
					client.trackMempoolTx = txid
				}
			}
			if tx != nil && tx.Position != nil {
				response["txPosition"] = cache.getCached("txPosition-"+txid, map[string]interface{}{
					"txid":     txid,
					"position": tx.Position,
				})
			}
		} else {
			client.trackTx = ""
		}
	}

	if rawAddress, present := parsed["track-address"]; present {
		client.trackAddress = ""
		if address, ok := rawAddress.(string); ok {
			if canonical, valid := CanonicalizeAddress(address); valid {
				client.trackAddress = canonical
			}
		}
	}

	if rawAddresses, present := parsed["track-addresses"]; present {
		client.trackAddresses = nil
		if list, ok := rawAddresses.([]interface{}); ok {
			if len(list) > h.cfg.WebSocket.MaxTrackedAddresses {
				response["track-addresses-error"] = marshalJSON(fmt.Sprintf(
					"too many addresses requested, this connection supports tracking a maximum of %d addresses",
					h.cfg.WebSocket.MaxTrackedAddresses))
			} else {
				tracked := make(map[string]string)
				for _, entry := range list {
					if address, ok := entry.(string); ok {
						if canonical, valid := CanonicalizeAddress(address); valid {
							tracked[address] = canonical
						}
					}
				}
				client.trackAddresses = tracked
			}
		}
	}

	if rawScripts, present := parsed["track-scriptpubkeys"]; present {
		client.trackScriptpubkeys = nil
		if list, ok := rawScripts.([]interface{}); ok {
			if len(list) > h.cfg.WebSocket.MaxTrackedAddresses {
				response["track-scriptpubkeys-error"] = marshalJSON(fmt.Sprintf(
					"too many scriptpubkeys requested, this connection supports tracking a maximum of %d scriptpubkeys",
					h.cfg.WebSocket.MaxTrackedAddresses))
			} else {
				tracked := make([]string, 0, len(list))
				for _, entry := range list {
					if script, ok := entry.(string); ok {
						if canonical, valid := ValidateScriptpubkey(script); valid {
							tracked = append(tracked, canonical)
						}
					}
				}
				client.trackScriptpubkeys = tracked
			}
		}
	}

	if rawAsset, present := parsed["track-asset"]; present {
		client.trackAsset = ""
		if asset, ok := rawAsset.(string); ok && IsValidTxid(asset) {
			client.trackAsset = strings.ToLower(asset)
		}
	}

	if rawIndex, present := parsed["track-mempool-block"]; present {
		client.trackMempoolBlock = -1
		if num, ok := rawIndex.(float64); ok && num == math.Trunc(num) && num >= 0 {
			index := int(num)
			client.trackMempoolBlock = index
			projected := h.mempoolBlocks.GetMempoolBlocksWithTransactions()
			if index < len(projected) && projected[index] != nil {
				response["projected-block-transactions"] = cache.getCached(
					fmt.Sprintf("projected-block-%d", index),
					map[string]interface{}{
						"index":             index,
						"blockTransactions": projected[index].Transactions,
					})
			}
		}
	}

	if rawRbf, present := parsed["track-rbf"]; present {
		client.trackRbf = TrackRbfOff
		if mode, ok := rawRbf.(string); ok && (mode == TrackRbfAll || mode == TrackRbfFullRbf) {
			client.trackRbf = mode
			fullRbf := mode == TrackRbfFullRbf
			cacheKey := "rbfLatest"
			if fullRbf {
				cacheKey = "fullRbfLatest"
			}
			response["rbfLatest"] = cache.getCached(cacheKey, h.rbfCache.GetRbfTrees(fullRbf))
		}
	}

	if rawSummary, present := parsed["track-rbf-summary"]; present {
		enabled, _ := rawSummary.(bool)
		client.trackRbfSummary = enabled
		if enabled {
			if summary, ok := cache["rbfSummary"]; ok {
				response["rbfLatestSummary"] = summary
			}
		}
	}

	if parsed["action"] == "init" {
		if !h.snapshot.Has("blocks") || !h.snapshot.Has("da") ||
			!h.snapshot.Has("backendInfo") || !h.snapshot.Has("conversions") {
			h.updateSnapshot()
		}
		if blocks, ok := h.snapshot.Get("blocks"); ok && blocks != "[]" && blocks != "null" {
			client.sendRaw(h.snapshot.InitBlob())
		}
	}

	if parsed["action"] == "ping" {
		response["pong"] = "true"
	}

	if rawDonation, present := parsed["track-donation"]; present {
		client.trackDonation = ""
		if donation, ok := rawDonation.(string); ok && len(donation) == 22 {
			client.trackDonation = donation
		}
	}

	if rawMarket, present := parsed["track-bisq-market"]; present {
		client.trackBisqMarket = ""
		if market, ok := rawMarket.(string); ok && IsValidBisqMarket(market) {
			client.trackBisqMarket = market
		}
	}

	client.sendResponse(response)
	return nil
}

// updateSnapshot refreshes every snapshot field from the collaborators. Used
// on init when a field is still missing, and at startup.
func (h *Hub) updateSnapshot() {
	fields := map[string]string{
		"mempoolInfo":       marshalJSON(h.mempool.GetMempoolInfo()),
		"vBytesPerSecond":   marshalJSON(h.mempool.GetVBytesPerSecond()),
		"blocks":            marshalJSON(h.blocks.GetBlocks()),
		"conversions":       marshalJSON(h.prices.GetLatestPrices()),
		"mempool-blocks":    marshalJSON(h.mempoolBlocks.GetMempoolBlocks()),
		"transactions":      marshalJSON(h.mempool.GetLatestTransactions()),
		"backendInfo":       marshalJSON(h.backendInfo.GetBackendInfo()),
		"loadingIndicators": marshalJSON(h.loading.GetLoadingIndicators()),
		"da":                marshalJSON(h.da.GetDifficultyAdjustment()),
		"fees":              marshalJSON(h.fees.GetRecommendedFee()),
	}
	h.snapshot.Update(fields)
}

func marshalJSON(value interface{}) string {
	raw, err := json.Marshal(value)
	if err != nil {
		common.Log.Debugf("serialization failed: %v", err)
		return "null"
	}
	return string(raw)
}

func truthy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	default:
		return true
	}
}
