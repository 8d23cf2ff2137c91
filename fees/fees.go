package fees

import (
	"math"

	"github.com/russeree/mempool/common"
)

const defaultFee = 1

// ProjectedBlocksSource is the slice of the template builder this package
// needs: the fee summaries of the current projection.
type ProjectedBlocksSource interface {
	GetMempoolBlocks() []*common.MempoolBlock
}

// Api derives the recommended fee tiers from the projected blocks: the
// median rate of the block a transaction would land in at each confirmation
// target, floored so the tiers never invert.
type Api struct {
	blocks       ProjectedBlocksSource
	minimumFloor float64
}

func NewApi(blocks ProjectedBlocksSource, minimumFloor float64) *Api {
	if minimumFloor <= 0 {
		minimumFloor = defaultFee
	}
	return &Api{blocks: blocks, minimumFloor: minimumFloor}
}

func (a *Api) GetRecommendedFee() *common.RecommendedFees {
	projected := a.blocks.GetMempoolBlocks()
	minimum := int64(math.Ceil(a.minimumFloor))

	fastest := a.medianOrDefault(projected, 0)
	halfHour := a.medianOrDefault(projected, 1)
	hour := a.medianOrDefault(projected, 2)

	// Deeper targets can never cost more than shallower ones.
	hour = min64(hour, fastest)
	halfHour = clamp64(halfHour, hour, fastest)
	economy := max64(minimum, min64(2*minimum, hour))

	return &common.RecommendedFees{
		FastestFee:  max64(fastest, minimum),
		HalfHourFee: max64(halfHour, minimum),
		HourFee:     max64(hour, minimum),
		EconomyFee:  max64(economy, minimum),
		MinimumFee:  minimum,
	}
}

func (a *Api) medianOrDefault(blocks []*common.MempoolBlock, index int) int64 {
	if index < 0 || index >= len(blocks) {
		return int64(math.Ceil(a.minimumFloor))
	}
	return int64(math.Ceil(blocks[index].MedianFee))
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func clamp64(v, lo, hi int64) int64 {
	return max64(lo, min64(v, hi))
}
