package pricing

import (
	"github.com/pixelmint/genstudio/internal/config"
	"github.com/pixelmint/genstudio/internal/domain"
)

// Calculator computes the credit cost of a generation request.
// Costs are deterministic: same type and batch size, same cost.
type Calculator struct {
	baseCosts map[string]int64
}

// NewCalculator creates a Calculator from configured per-type base costs
func NewCalculator(cfg *config.PricingConfig) *Calculator {
	costs := make(map[string]int64, len(cfg.BaseCosts))
	for jt, c := range cfg.BaseCosts {
		costs[jt] = c
	}
	return &Calculator{baseCosts: costs}
}

// Cost returns the credit cost for batchSize generations of jobType
func (c *Calculator) Cost(jobType string, batchSize int) (int64, error) {
	if !domain.ValidJobType(jobType) {
		return 0, domain.ErrInvalidJobType
	}

	base, ok := c.baseCosts[jobType]
	if !ok {
		return 0, domain.ErrInvalidJobType
	}

	if batchSize < config.MinBatchSize || batchSize > config.MaxBatchSize {
		return 0, domain.ErrInvalidBatchSize
	}

	return base * int64(batchSize), nil
}
