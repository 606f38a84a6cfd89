package estimator

import (
	"math"
	"testing"

	"github.com/josuehernandeztapia/conductores-delivery/repository/models"
)

func TestVelocityProjection(t *testing.T) {
	v := NewVelocity()
	tests := []struct {
		name           string
		tanda          models.Tanda
		wantAmount     float64
		wantConfidence float64
	}{
		{
			name:           "healthy group with full history",
			tanda:          models.Tanda{ActiveMembers: 10, MonthsCollecting: 4, TotalCollected: 80000},
			wantAmount:     120000, // 20000/month over a 6-month horizon
			wantConfidence: 1,
		},
		{
			name:           "thin group discounted",
			tanda:          models.Tanda{ActiveMembers: 6, MonthsCollecting: 4, TotalCollected: 80000},
			wantAmount:     120000,
			wantConfidence: 0.9,
		},
		{
			name:           "short history",
			tanda:          models.Tanda{ActiveMembers: 10, MonthsCollecting: 2, TotalCollected: 40000},
			wantAmount:     120000,
			wantConfidence: 0.5,
		},
		{
			name:  "no history yet",
			tanda: models.Tanda{ActiveMembers: 10},
		},
		{
			name:  "no members",
			tanda: models.Tanda{MonthsCollecting: 3, TotalCollected: 60000},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Assess(tt.tanda)
			if math.Abs(got.ProjectedFirstAmount-tt.wantAmount) > 1e-9 {
				t.Errorf("ProjectedFirstAmount = %v, want %v", got.ProjectedFirstAmount, tt.wantAmount)
			}
			if math.Abs(got.ConfidenceLevel-tt.wantConfidence) > 1e-9 {
				t.Errorf("ConfidenceLevel = %v, want %v", got.ConfidenceLevel, tt.wantConfidence)
			}
		})
	}
}

func TestStaticEstimator(t *testing.T) {
	s := Static{Amount: 150000, Confidence: 0.85}
	got := s.Assess(models.Tanda{TotalCollected: 999999})
	if got.ProjectedFirstAmount != 150000 || got.ConfidenceLevel != 0.85 {
		t.Errorf("Assess = %+v, want fixed projection", got)
	}
}
