package mempool

import (
	"sort"
	"sync"
	"time"

	"github.com/decred/dcrd/lru"

	"github.com/russeree/mempool/common"
)

const (
	rbfTreeLimit    = 20
	rbfSummaryLimit = 20
	expiredCacheCap = 1000
)

// RbfCache tracks replacement trees: which transaction superseded which,
// whether the replacement was opt-in or full-RBF, and which trees were mined
// or evicted. The root ids of trees evicted for non-replacement reasons are
// recorded in a small LRU. Eviction leaves the replaced-by entries in place,
// so GetReplacedBy still resolves afterwards.
type RbfCache struct {
	mtx sync.Mutex

	trees      map[string]*common.RbfTree
	treeIndex  map[string]string
	replacedBy map[string]string
	dirty      map[string]bool
	summary    []*common.ReplacementInfo
	expired    lru.Cache
}

func NewRbfCache() *RbfCache {
	return &RbfCache{
		trees:      make(map[string]*common.RbfTree),
		treeIndex:  make(map[string]string),
		replacedBy: make(map[string]string),
		dirty:      make(map[string]bool),
		expired:    lru.NewCache(expiredCacheCap),
	}
}

// Add records that replacement superseded the given transactions. Existing
// trees rooted at a replaced transaction become subtrees of the new root.
func (r *RbfCache) Add(replaced []*common.TransactionExtended, replacement *common.TransactionExtended) {
	if len(replaced) == 0 || replacement == nil {
		return
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()

	fullRbf := false
	var subtrees []*common.RbfTree
	for _, old := range replaced {
		if !common.SignalsRbf(old) {
			fullRbf = true
		}
		r.replacedBy[old.Txid] = replacement.Txid
		if rootId, ok := r.treeIndex[old.Txid]; ok {
			if subtree, exists := r.trees[rootId]; exists && rootId == old.Txid {
				subtrees = append(subtrees, subtree)
				delete(r.trees, rootId)
				continue
			}
		}
		subtrees = append(subtrees, &common.RbfTree{
			Tx:       common.NewRbfTransaction(old, false),
			Time:     old.FirstSeen,
			Replaces: []*common.RbfTree{},
		})
	}

	now := time.Now().Unix()
	tree := &common.RbfTree{
		Tx:       common.NewRbfTransaction(replacement, fullRbf),
		Time:     now,
		FullRbf:  fullRbf,
		Replaces: subtrees,
	}
	r.trees[replacement.Txid] = tree
	r.indexTree(replacement.Txid, tree)
	r.dirty[replacement.Txid] = true

	for _, old := range replaced {
		r.summary = append([]*common.ReplacementInfo{{
			Txid:     replacement.Txid,
			OldFee:   old.Fee,
			OldVsize: old.Vsize,
			NewFee:   replacement.Fee,
			NewVsize: replacement.Vsize,
			Time:     now,
			FullRbf:  fullRbf,
		}}, r.summary...)
	}
	if len(r.summary) > rbfSummaryLimit {
		r.summary = r.summary[:rbfSummaryLimit]
	}
}

func (r *RbfCache) indexTree(rootId string, tree *common.RbfTree) {
	r.treeIndex[tree.Tx.Txid] = rootId
	for _, subtree := range tree.Replaces {
		r.indexTree(rootId, subtree)
	}
}

// GetReplacedBy returns the txid that superseded the given transaction, or
// empty when it was never replaced.
func (r *RbfCache) GetReplacedBy(txid string) string {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.replacedBy[txid]
}

// Evict drops the tree rooted at txid; it left the mempool for a
// non-replacement reason. The root id is remembered in the expired LRU.
func (r *RbfCache) Evict(txid string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	tree, ok := r.trees[txid]
	if !ok {
		return
	}
	delete(r.trees, txid)
	r.forgetTree(tree)
	delete(r.dirty, txid)
	r.expired.Add(txid)
}

func (r *RbfCache) forgetTree(tree *common.RbfTree) {
	delete(r.treeIndex, tree.Tx.Txid)
	for _, subtree := range tree.Replaces {
		r.forgetTree(subtree)
	}
}

// Mined flags the tree covering txid as mined and marks it changed, so the
// final state fans out with the next change set. The tree stays in the cache
// until Evict is called for its root.
func (r *RbfCache) Mined(txid string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	rootId, ok := r.treeIndex[txid]
	if !ok {
		return
	}
	tree, exists := r.trees[rootId]
	if !exists {
		return
	}
	tree.Mined = true
	if tree.Tx.Txid == txid {
		tree.Tx.Mined = true
	}
	r.dirty[rootId] = true
	for i := range r.summary {
		if r.summary[i].Txid == txid {
			r.summary[i].Mined = true
		}
	}
}

// GetRbfTrees returns the newest trees, optionally only full-RBF ones.
func (r *RbfCache) GetRbfTrees(onlyFullRbf bool) []*common.RbfTree {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	trees := make([]*common.RbfTree, 0, len(r.trees))
	for _, tree := range r.trees {
		if onlyFullRbf && !tree.FullRbf {
			continue
		}
		trees = append(trees, tree)
	}
	sort.Slice(trees, func(i, j int) bool {
		return trees[i].Time > trees[j].Time
	})
	if len(trees) > rbfTreeLimit {
		trees = trees[:rbfTreeLimit]
	}
	return trees
}

// GetRbfChanges returns the trees touched since the previous call plus an
// index from every covered txid to its root, then resets the change set.
func (r *RbfCache) GetRbfChanges() ([]*common.RbfTree, map[string]*common.RbfTree) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	var changed []*common.RbfTree
	index := make(map[string]*common.RbfTree)
	for rootId := range r.dirty {
		tree, ok := r.trees[rootId]
		if !ok {
			continue
		}
		changed = append(changed, tree)
		collectTxids(tree, tree, index)
	}
	r.dirty = make(map[string]bool)
	return changed, index
}

func collectTxids(root, node *common.RbfTree, index map[string]*common.RbfTree) {
	index[node.Tx.Txid] = root
	for _, subtree := range node.Replaces {
		collectTxids(root, subtree, index)
	}
}

func (r *RbfCache) GetLatestRbfSummary() []*common.ReplacementInfo {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	summary := make([]*common.ReplacementInfo, len(r.summary))
	copy(summary, r.summary)
	return summary
}
