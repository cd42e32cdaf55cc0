package accounting

// CalculateCost prices a token tally at rate.
func CalculateCost(inputTokens, outputTokens int64, rate PriceRate) float64 {
	return float64(inputTokens)/1000*rate.InputPer1K + float64(outputTokens)/1000*rate.OutputPer1K
}

// evaluate builds the status for one window. Warning and Exceeded are
// independent; a zero budget never exceeds and a zero threshold never warns.
func evaluate(cost, budget, threshold float64) WindowStatus {
	s := WindowStatus{Cost: cost, Budget: budget, Threshold: threshold}
	if budget > 0 {
		s.Percentage = cost / budget * 100
		s.Exceeded = cost >= budget
	}
	if threshold > 0 {
		s.Warning = cost >= threshold
	}
	return s
}
