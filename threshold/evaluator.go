// Package threshold evaluates whether a contract's payments or a tanda's
// collections have crossed the fraction that authorizes automatic
// delivery-order creation. Every function here is pure: identical inputs
// always produce identical results, which is what makes the trigger engine
// deterministic to test.
package threshold

import "github.com/josuehernandeztapia/conductores-delivery/repository/models"

// Rules carries the business parameters of the evaluation. Values come from
// configuration; the zero value is not usable, construct with DefaultRules.
type Rules struct {
	// ContractFraction of the required down payment that releases a unit.
	// The rule is uniformly "half", regardless of market or flow; markets
	// only change what the required down payment is.
	ContractFraction float64
	// TandaFraction of the projected first required amount.
	TandaFraction float64
	// MinActiveMembers and MinMonthsCollecting gate tanda eligibility.
	MinActiveMembers    int
	MinMonthsCollecting int
	// MinConfidence is the lowest estimator confidence accepted for a
	// projection-driven trigger.
	MinConfidence float64
}

func DefaultRules() Rules {
	return Rules{
		ContractFraction:    0.5,
		TandaFraction:       0.5,
		MinActiveMembers:    5,
		MinMonthsCollecting: 1,
		MinConfidence:       0.7,
	}
}

// Result is the outcome of evaluating one subject.
type Result struct {
	ThresholdAmount float64
	ActualAmount    float64
	// Percentage of the threshold satisfied, 0-based (98 means 98%). Zero
	// when the threshold amount itself is zero.
	Percentage float64
	Reached    bool
}

// EvaluateContract applies the down-payment rule to an individual contract.
func EvaluateContract(rules Rules, c models.Contract) Result {
	threshold := c.RequiredDownPayment * rules.ContractFraction
	res := Result{
		ThresholdAmount: threshold,
		ActualAmount:    c.AmountPaid,
	}
	if threshold > 0 {
		res.Percentage = c.AmountPaid / threshold * 100
	}
	res.Reached = threshold > 0 && c.AmountPaid >= threshold
	return res
}

// EvaluateTanda applies the projection rule to a savings group. A group with
// too few active members or too little collection history never reaches the
// threshold, no matter how much it has collected. Past those gates the
// decision rests on the estimator's projection: enough collected against the
// projected first required amount, at acceptable confidence.
func EvaluateTanda(rules Rules, t models.Tanda) Result {
	threshold := t.ProjectedFirstAmount * rules.TandaFraction
	res := Result{
		ThresholdAmount: threshold,
		ActualAmount:    t.TotalCollected,
	}
	if threshold > 0 {
		res.Percentage = t.TotalCollected / threshold * 100
	}
	if t.ActiveMembers < rules.MinActiveMembers || t.MonthsCollecting < rules.MinMonthsCollecting {
		return res
	}
	res.Reached = threshold > 0 &&
		t.TotalCollected >= threshold &&
		t.ConfidenceLevel >= rules.MinConfidence
	return res
}
