package liasse

// Summarize derives unit totals for the active piles. It is recomputed from
// the amounts on every call.
func Summarize(amounts []int, target int) (Summary, error) {
	if err := validateTarget(target); err != nil {
		return Summary{}, err
	}
	if err := CheckUnits(PilesFromAmounts(amounts)); err != nil {
		return Summary{}, err
	}

	var s Summary
	for _, amount := range amounts {
		if amount <= 0 {
			continue
		}
		s.TotalUnits += amount
		s.ActivePiles++
	}
	s.CompleteBundles = s.TotalUnits / target
	s.RemainderUnits = s.TotalUnits % target
	return s, nil
}
