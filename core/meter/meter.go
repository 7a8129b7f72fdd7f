package meter

import (
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pvsim/pvsim/core/model"
)

// DefaultMaxDemandW is the upper bound of the simulated household demand.
const DefaultMaxDemandW = 9000

// Generator draws one demand value per tick from a uniform distribution on
// [0, max). The distribution is the pluggable part; swapping it out does not
// affect the bridge.
type Generator struct {
	dist distuv.Uniform
}

// NewGenerator returns a Generator bounded by maxDemandW. A nil src uses the
// shared global source; tests pass a seeded PCG for determinism.
func NewGenerator(maxDemandW float64, src rand.Source) *Generator {
	if maxDemandW <= 0 {
		maxDemandW = DefaultMaxDemandW
	}
	return &Generator{dist: distuv.Uniform{Min: 0, Max: maxDemandW, Src: src}}
}

// Next draws the demand reading for the given tick instant.
func (g *Generator) Next(t time.Time) model.Reading {
	return model.Reading{Timestamp: t, Value: g.dist.Rand()}
}
