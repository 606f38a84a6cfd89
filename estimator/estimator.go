// Package estimator supplies the projected first required amount and the
// confidence level for tanda analyses. The production deployment points this
// port at the external prediction service; the velocity estimator here is
// the shipped default and the one used in tests.
package estimator

import "github.com/josuehernandeztapia/conductores-delivery/repository/models"

// Projection is the estimator's answer for one tanda.
type Projection struct {
	ProjectedFirstAmount float64
	ConfidenceLevel      float64
}

// Estimator projects what a tanda's first unit will require. Implementations
// must be safe for concurrent use.
type Estimator interface {
	Assess(t models.Tanda) Projection
}

// Velocity estimates from collection velocity: the monthly collection rate
// extrapolated over the configured horizon, with confidence growing with
// history depth and membership. The constants are heuristics, kept as fields
// so deployments can tune them without a new build.
type Velocity struct {
	// HorizonMonths is how far ahead the first unit is assumed to land.
	HorizonMonths int
	// FullConfidenceMonths is the history depth treated as fully trusted.
	FullConfidenceMonths int
}

func NewVelocity() *Velocity {
	return &Velocity{HorizonMonths: 6, FullConfidenceMonths: 4}
}

func (v *Velocity) Assess(t models.Tanda) Projection {
	if t.MonthsCollecting <= 0 || t.ActiveMembers <= 0 {
		return Projection{}
	}
	monthlyRate := t.TotalCollected / float64(t.MonthsCollecting)
	projected := monthlyRate * float64(v.HorizonMonths)

	confidence := float64(t.MonthsCollecting) / float64(v.FullConfidenceMonths)
	if confidence > 1 {
		confidence = 1
	}
	// Thin groups collect erratically; discount until membership is healthy.
	if t.ActiveMembers < 8 {
		confidence *= 0.9
	}
	return Projection{ProjectedFirstAmount: projected, ConfidenceLevel: confidence}
}

// Static returns fixed projections, for tests and for deployments where the
// prediction service pushes values directly into the analysis rows.
type Static struct {
	Amount     float64
	Confidence float64
}

func (s Static) Assess(models.Tanda) Projection {
	return Projection{ProjectedFirstAmount: s.Amount, ConfidenceLevel: s.Confidence}
}
