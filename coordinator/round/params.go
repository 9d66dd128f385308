package round

import (
	"sync/atomic"

	"github.com/xaynetwork/xaynet-go/common/protocol"
)

// ParamsCell is the single-writer, atomically-replaced cell holding
// the coordinator's current RoundParameters (§9 "Global state").
// Every reader observes a consistent snapshot; there is no torn read.
type ParamsCell struct {
	v atomic.Value // protocol.RoundParameters
}

// NewParamsCell creates a cell pre-populated with the zero
// RoundParameters (RoundID 0), matching the coordinator's state before
// its first NewRound transition.
func NewParamsCell() *ParamsCell {
	c := &ParamsCell{}
	c.v.Store(protocol.RoundParameters{})
	return c
}

// Load returns the current RoundParameters.
func (c *ParamsCell) Load() protocol.RoundParameters {
	return c.v.Load().(protocol.RoundParameters)
}

// Store atomically replaces the current RoundParameters.
func (c *ParamsCell) Store(p protocol.RoundParameters) {
	c.v.Store(p)
}
