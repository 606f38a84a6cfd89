// Package eta projects estimated completion dates for delivery orders from
// the nominal durations of the status chain.
package eta

import (
	"math"
	"time"

	"github.com/josuehernandeztapia/conductores-delivery/statusgraph"
)

// BufferTable maps a transition's target status to a multiplicative risk
// buffer applied to that phase's nominal duration. Factors above 1.0 mark
// phases with historically high variance. Missing entries count as 1.0.
type BufferTable map[statusgraph.DeliveryStatus]float64

// DefaultBuffers carries the operational defaults: manufacturing, ocean
// transit and customs clearance are the phases that slip in practice. The
// values are business configuration, not derived constants, and are normally
// overridden from the config file.
func DefaultBuffers() BufferTable {
	return BufferTable{
		statusgraph.StatusReadyAtFactory: 1.15,
		statusgraph.StatusAtDestPort:     1.20,
		statusgraph.StatusInWarehouse:    1.25,
	}
}

// Projector computes nominal and risk-buffered ETAs over the status chain.
type Projector struct {
	buffers BufferTable
}

func NewProjector(buffers BufferTable) *Projector {
	if buffers == nil {
		buffers = DefaultBuffers()
	}
	return &Projector{buffers: buffers}
}

// Project returns the estimated final-delivery date for an order created at
// createdAt and currently in status. The sum of elapsed and remaining phase
// days is the full chain total, so the projection is invariant as the order
// advances: it always answers "when will this order be delivered, measured
// from its creation".
func (p *Projector) Project(createdAt time.Time, status statusgraph.DeliveryStatus) time.Time {
	return createdAt.AddDate(0, 0, p.ElapsedDays(status)+p.RemainingDays(status))
}

// ProjectBuffered returns the conservative "committed" date: each phase's
// nominal duration is scaled by its buffer factor and rounded to whole days
// before accumulating. Rounding per phase, not once at the end, means the
// buffered total is the sum of independently rounded phase days.
func (p *Projector) ProjectBuffered(createdAt time.Time, status statusgraph.DeliveryStatus) time.Time {
	total := 0
	for _, t := range statusgraph.Chain() {
		factor, ok := p.buffers[t.To]
		if !ok || factor <= 0 {
			factor = 1.0
		}
		total += int(math.Round(float64(t.NominalDays) * factor))
	}
	return createdAt.AddDate(0, 0, total)
}

// RemainingDays returns the nominal days left after status, i.e. the sum of
// phase durations for transitions past the one targeting status. For the
// initial status the whole chain is remaining.
func (p *Projector) RemainingDays(status statusgraph.DeliveryStatus) int {
	remaining := 0
	// A status that is no transition's target (the initial status, or an
	// unknown value) has the whole chain still ahead of it.
	reached := statusgraph.Index(status) <= 0
	for _, t := range statusgraph.Chain() {
		if reached {
			remaining += t.NominalDays
		}
		if t.To == status {
			reached = true
		}
	}
	return remaining
}

// ElapsedDays returns the nominal days consumed up to and including the
// transition whose target is status. A status that is nobody's target (the
// initial one) has zero elapsed days.
func (p *Projector) ElapsedDays(status statusgraph.DeliveryStatus) int {
	elapsed := 0
	for _, t := range statusgraph.Chain() {
		elapsed += t.NominalDays
		if t.To == status {
			return elapsed
		}
	}
	return 0
}
