package difficulty

import (
	"sync"
	"time"

	"github.com/russeree/mempool/common"
)

const (
	epochBlockLength   = 2016
	blockSecondsTarget = 600
	// Consensus clamps each retarget to a factor of 4 in either direction.
	maxAdjustmentFactor = 4.0
)

// Adjuster estimates the next difficulty retarget from the chain tip and the
// timestamp of the last retarget block.
type Adjuster struct {
	mtx sync.RWMutex

	height           int64
	blockTime        int64
	previousRetarget float64
	retargetTime     int64

	now func() time.Time
}

func NewAdjuster() *Adjuster {
	return &Adjuster{now: time.Now}
}

// SetTip feeds the chain tip: current height and block timestamp, the
// timestamp of the first block of the current epoch and the percentage
// change applied at the previous retarget.
func (a *Adjuster) SetTip(height, blockTime, retargetTime int64, previousRetarget float64) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.height = height
	a.blockTime = blockTime
	a.retargetTime = retargetTime
	a.previousRetarget = previousRetarget
}

func (a *Adjuster) GetDifficultyAdjustment() *common.DifficultyAdjustment {
	a.mtx.RLock()
	defer a.mtx.RUnlock()
	if a.height == 0 || a.retargetTime == 0 {
		return &common.DifficultyAdjustment{}
	}

	nowSeconds := a.now().Unix()
	blocksInEpoch := a.height % epochBlockLength
	remainingBlocks := epochBlockLength - blocksInEpoch
	nextRetargetHeight := a.height - blocksInEpoch + epochBlockLength
	progress := float64(blocksInEpoch) / epochBlockLength * 100

	elapsed := nowSeconds - a.retargetTime
	expectedBlocks := float64(elapsed) / blockSecondsTarget

	var change float64
	var timeAvg int64 = blockSecondsTarget * 1000
	if blocksInEpoch > 0 {
		actualAvg := float64(elapsed) / float64(blocksInEpoch)
		change = (blockSecondsTarget/actualAvg - 1) * 100
		if change > (maxAdjustmentFactor-1)*100 {
			change = (maxAdjustmentFactor - 1) * 100
		}
		if change < (1/maxAdjustmentFactor-1)*100 {
			change = (1/maxAdjustmentFactor - 1) * 100
		}
		timeAvg = int64(actualAvg * 1000)
	}

	remainingTime := remainingBlocks * timeAvg
	estimatedRetargetDate := nowSeconds*1000 + remainingTime

	return &common.DifficultyAdjustment{
		PreviousTime:          a.retargetTime,
		ProgressPercent:       progress,
		DifficultyChange:      change,
		EstimatedRetargetDate: estimatedRetargetDate,
		RemainingBlocks:       remainingBlocks,
		RemainingTime:         remainingTime,
		PreviousRetarget:      a.previousRetarget,
		NextRetargetHeight:    nextRetargetHeight,
		TimeAvg:               timeAvg,
		TimeOffset:            0,
		ExpectedBlocks:        expectedBlocks,
	}
}
