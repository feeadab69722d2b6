package position

import (
	"fmt"
	"time"

	"github.com/meridianhq/meridian/internal/clock"
	"github.com/meridianhq/meridian/internal/domain"
)

// Generator produces monotonic position ids for one strategy. Ids embed
// the UTC timestamp and a per-strategy counter so restarts can reseed
// from persisted state without colliding.
type Generator struct {
	strategyID domain.StrategyID
	clk        clock.Clock
	count      int64
}

// NewGenerator returns an id generator bound to a strategy and clock
func NewGenerator(strategyID domain.StrategyID, clk clock.Clock) *Generator {
	return &Generator{strategyID: strategyID, clk: clk}
}

// Generate returns the next position id
func (g *Generator) Generate() domain.PositionID {
	g.count++
	stamp := time.Unix(0, g.clk.TimestampNs()).UTC().Format("20060102-150405")
	return domain.PositionID(fmt.Sprintf("P-%s-%s-%d", stamp, g.strategyID, g.count))
}

// Count returns how many ids have been generated
func (g *Generator) Count() int64 { return g.count }

// Reset zeroes the counter
func (g *Generator) Reset() { g.count = 0 }

// Reseed restores the counter from persisted state
func (g *Generator) Reseed(count int64) { g.count = count }
