package websocket

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/russeree/mempool/common"
	"github.com/russeree/mempool/config"
)

type mockMempool struct {
	txs      map[string]*common.TransactionExtended
	spendMap map[string]*common.TransactionExtended
	latest   []*common.TransactionStripped
	inSync   bool
	removed  []string
}

func newMockMempool() *mockMempool {
	return &mockMempool{
		txs:      make(map[string]*common.TransactionExtended),
		spendMap: make(map[string]*common.TransactionExtended),
		inSync:   true,
	}
}

func (m *mockMempool) GetMempool() map[string]*common.TransactionExtended { return m.txs }
func (m *mockMempool) GetMempoolInfo() *common.MempoolInfo {
	return &common.MempoolInfo{Loaded: true, Size: int64(len(m.txs))}
}
func (m *mockMempool) GetVBytesPerSecond() int64                          { return 100 }
func (m *mockMempool) GetLatestTransactions() []*common.TransactionStripped { return m.latest }
func (m *mockMempool) IsInSync() bool                                     { return m.inSync }
func (m *mockMempool) GetSpendMap() map[string]*common.TransactionExtended { return m.spendMap }
func (m *mockMempool) AddToSpendMap(txs []*common.TransactionExtended) {
	for _, tx := range txs {
		for _, vin := range tx.Vin {
			m.spendMap[common.OutpointKey(vin.Txid, vin.Vout)] = tx
		}
	}
}
func (m *mockMempool) RemoveFromSpendMap(txs []*common.TransactionExtended) {}
func (m *mockMempool) HandleRbfTransactions(map[string][]*common.TransactionExtended)      {}
func (m *mockMempool) HandleMinedRbfTransactions(map[string][]*common.TransactionExtended) {}
func (m *mockMempool) RemoveFromMempool(txIds []string) {
	for _, txid := range txIds {
		delete(m.txs, txid)
		m.removed = append(m.removed, txid)
	}
}

type mockTemplates struct {
	blocks []*common.MempoolBlock
	withTx []*common.MempoolBlockWithTransactions
	deltas []*common.MempoolBlockDelta
}

func (m *mockTemplates) GetMempoolBlocks() []*common.MempoolBlock            { return m.blocks }
func (m *mockTemplates) GetMempoolBlockDeltas() []*common.MempoolBlockDelta { return m.deltas }
func (m *mockTemplates) GetMempoolBlocksWithTransactions() []*common.MempoolBlockWithTransactions {
	return m.withTx
}
func (m *mockTemplates) UpdateBlockTemplates(map[string]*common.TransactionExtended,
	[]*common.TransactionExtended, []*common.TransactionExtended, []string, bool) {
}
func (m *mockTemplates) MakeBlockTemplates(map[string]*common.TransactionExtended) []*common.MempoolBlockWithTransactions {
	return m.withTx
}

type mockBlocks struct {
	blocks []*common.BlockExtended
}

func (m *mockBlocks) GetBlocks() []*common.BlockExtended { return m.blocks }

type mockRbfCache struct {
	replacedBy map[string]string
	trees      []*common.RbfTree
	changes    []*common.RbfTree
	changeIdx  map[string]*common.RbfTree
	summary    []*common.ReplacementInfo
	mined      []string
}

func newMockRbfCache() *mockRbfCache {
	return &mockRbfCache{
		replacedBy: make(map[string]string),
		changeIdx:  make(map[string]*common.RbfTree),
	}
}

func (m *mockRbfCache) Add([]*common.TransactionExtended, *common.TransactionExtended) {}
func (m *mockRbfCache) GetReplacedBy(txid string) string                               { return m.replacedBy[txid] }
func (m *mockRbfCache) Evict(string)                                                   {}
func (m *mockRbfCache) Mined(txid string)                                              { m.mined = append(m.mined, txid) }
func (m *mockRbfCache) GetRbfTrees(bool) []*common.RbfTree                             { return m.trees }
func (m *mockRbfCache) GetRbfChanges() ([]*common.RbfTree, map[string]*common.RbfTree) {
	return m.changes, m.changeIdx
}
func (m *mockRbfCache) GetLatestRbfSummary() []*common.ReplacementInfo { return m.summary }

type mockFees struct{}

func (mockFees) GetRecommendedFee() *common.RecommendedFees {
	return &common.RecommendedFees{FastestFee: 10, HalfHourFee: 5, HourFee: 3, EconomyFee: 2, MinimumFee: 1}
}

type mockDifficulty struct{}

func (mockDifficulty) GetDifficultyAdjustment() *common.DifficultyAdjustment {
	return &common.DifficultyAdjustment{PreviousTime: 1600000000, ProgressPercent: 50}
}

type mockPrices struct{}

func (mockPrices) GetLatestPrices() *common.Prices { return &common.Prices{USD: 50000} }

type mockLoading struct{}

func (mockLoading) GetLoadingIndicators() map[string]float64 { return map[string]float64{} }

type mockBackendInfo struct{}

func (mockBackendInfo) GetBackendInfo() *common.BackendInfo {
	return &common.BackendInfo{Hostname: "test", Version: "1.0.0", Backend: "esplora"}
}

type mockFetcher struct{}

func (mockFetcher) GetMempoolTransactionExtended(txid string, addPrevouts bool) (*common.TransactionExtended, error) {
	return &common.TransactionExtended{Txid: txid}, nil
}
func (mockFetcher) GetFullTransactions(txs []*common.TransactionExtended) ([]*common.TransactionExtended, error) {
	return txs, nil
}
func (mockFetcher) GetHealthStatus() []*common.NodeHealth {
	return []*common.NodeHealth{{Host: "test", Active: true}}
}

type mockAuditor struct {
	summary *common.AuditSummary
}

func (m *mockAuditor) AuditBlock(*common.BlockExtended, []string,
	[]*common.MempoolBlockWithTransactions, map[string]*common.TransactionExtended) *common.AuditSummary {
	return m.summary
}

type mockRepo struct {
	templates     int
	audits        int
	accelerations int
}

func (m *mockRepo) SaveTemplate(int64, *common.MempoolBlockWithTransactions) error {
	m.templates++
	return nil
}
func (m *mockRepo) SaveAudit(*common.AuditSummary) error {
	m.audits++
	return nil
}
func (m *mockRepo) SaveAcceleration(*common.AccelerationRecord) error {
	m.accelerations++
	return nil
}

type testCollaborators struct {
	mempool   *mockMempool
	templates *mockTemplates
	blocks    *mockBlocks
	rbf       *mockRbfCache
	auditor   *mockAuditor
	repo      *mockRepo
}

func newTestHub(t *testing.T) (*Hub, *testCollaborators) {
	t.Helper()
	collaborators := &testCollaborators{
		mempool:   newMockMempool(),
		templates: &mockTemplates{},
		blocks:    &mockBlocks{},
		rbf:       newMockRbfCache(),
		auditor:   &mockAuditor{},
		repo:      &mockRepo{},
	}
	cfg := &config.YamlConf{
		Chain:   "mainnet",
		Backend: config.Backend{Kind: config.BackendEsplora},
		WebSocket: config.WebSocket{
			MaxTrackedAddresses: 3,
			InitialBlocksAmount: 8,
		},
	}
	hub := NewHub(cfg, HubConfig{
		Mempool:       collaborators.mempool,
		MempoolBlocks: collaborators.templates,
		Blocks:        collaborators.blocks,
		RbfCache:      collaborators.rbf,
		Fees:          mockFees{},
		Difficulty:    mockDifficulty{},
		Prices:        mockPrices{},
		Loading:       mockLoading{},
		BackendInfo:   mockBackendInfo{},
		TxFetcher:     mockFetcher{},
		Auditor:       collaborators.auditor,
		Repository:    collaborators.repo,
	})
	return hub, collaborators
}

// attachClient registers a session without socket plumbing; frames queued to
// it are read back with readFrame.
func attachClient(hub *Hub) *Client {
	client := newClient(fmt.Sprintf("test%d", hub.nextClientId.Add(1)), nil, "127.0.0.1")
	hub.clients.Set(client.id, client)
	return client
}

func readFrame(t *testing.T, client *Client) map[string]json.RawMessage {
	t.Helper()
	select {
	case payload := <-client.send:
		var decoded map[string]json.RawMessage
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("frame is not valid JSON: %v\n%s", err, payload)
		}
		return decoded
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func noFrame(t *testing.T, client *Client) {
	t.Helper()
	select {
	case payload := <-client.send:
		t.Fatalf("unexpected frame: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}
