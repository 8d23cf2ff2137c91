package statistics

import (
	"sync"
	"time"

	"github.com/russeree/mempool/common"
)

// Fee-rate bucket boundaries in sat/vB, matching the live chart's series.
var feeBuckets = []float64{1, 2, 3, 4, 5, 6, 8, 10, 12, 15, 20, 30, 40, 50,
	60, 70, 80, 90, 100, 125, 150, 200, 250, 300, 350, 400, 500}

// Tick is one statistics sample: mempool totals plus the vsize currently
// waiting in each fee-rate bucket.
type Tick struct {
	Count           int     `json:"count"`
	VBytesPerSecond int64   `json:"vbytes_per_second"`
	TotalFee        int64   `json:"total_fee"`
	VSizes          []int64 `json:"vsizes"`
}

// MempoolSource is the slice of the mempool engine statistics reads.
type MempoolSource interface {
	GetMempool() map[string]*common.TransactionExtended
	GetVBytesPerSecond() int64
}

// Runner samples the mempool on an interval and hands each tick to the
// fan-out layer. The latest tick is retained.
type Runner struct {
	mtx      sync.RWMutex
	latest   *Tick
	mempool  MempoolSource
	interval time.Duration
}

func NewRunner(mempool MempoolSource, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{mempool: mempool, interval: interval}
}

func (r *Runner) Latest() *Tick {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.latest
}

// Start samples until stop closes, invoking onTick for every sample.
func (r *Runner) Start(stop chan struct{}, onTick func(*Tick)) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tick := r.RunStatistics()
			if onTick != nil {
				onTick(tick)
			}
		case <-stop:
			return
		}
	}
}

// RunStatistics computes one sample from the current mempool.
func (r *Runner) RunStatistics() *Tick {
	txs := r.mempool.GetMempool()
	tick := &Tick{
		Count:           len(txs),
		VBytesPerSecond: r.mempool.GetVBytesPerSecond(),
		VSizes:          make([]int64, len(feeBuckets)),
	}
	for _, tx := range txs {
		tick.TotalFee += tx.Fee
		rate := tx.EffectiveFeePerVsize
		if rate == 0 && tx.Vsize > 0 {
			rate = float64(tx.Fee) / tx.Vsize
		}
		bucket := len(feeBuckets) - 1
		for i, limit := range feeBuckets {
			if rate < limit {
				bucket = i
				break
			}
		}
		tick.VSizes[bucket] += int64(tx.Vsize)
	}

	r.mtx.Lock()
	r.latest = tick
	r.mtx.Unlock()
	return tick
}
