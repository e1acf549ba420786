package liasse

import (
	"fmt"
	"slices"
)

// BuildInstructions runs the Anchor + Fill algorithm over piles and returns
// the bundles it would form, in formation order. The input is not modified.
//
// Each bundle starts from the largest active pile. A pile of at least target
// units yields a single-step bundle; otherwise the anchor is emptied and the
// other piles are drained smallest first until the bundle reaches target.
// Equal amounts are ordered by lowest Index. If the piles run out before the
// target is reached the trailing bundle is incomplete and formation stops.
func BuildInstructions(piles []Pile, target int) ([]Bundle, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	if err := CheckUnits(piles); err != nil {
		return nil, err
	}

	working := make([]Pile, 0, len(piles))
	for _, p := range piles {
		if p.Amount > 0 {
			working = append(working, p)
		}
	}

	bundles := make([]Bundle, 0, len(working)+1)
	for number := 1; ; number++ {
		active := activePiles(working)
		if len(active) == 0 {
			break
		}

		bundle := formBundle(active, target)
		bundle.Number = number
		applySteps(working, bundle.Steps)
		bundles = append(bundles, bundle)

		if !bundle.IsComplete {
			break
		}
	}

	return bundles, nil
}

// formBundle expects active sorted by descending amount, lowest index first on ties.
func formBundle(active []Pile, target int) Bundle {
	anchor := active[0]
	if anchor.Amount >= target {
		return newBundle([]Step{withdraw(anchor, target)}, target)
	}

	steps := []Step{withdraw(anchor, anchor.Amount)}
	remainder := target - anchor.Amount

	fill := slices.Clone(active[1:])
	slices.SortStableFunc(fill, ascending)
	for _, p := range fill {
		if remainder == 0 {
			break
		}
		take := min(p.Amount, remainder)
		steps = append(steps, withdraw(p, take))
		remainder -= take
	}

	return newBundle(steps, target)
}

func newBundle(steps []Step, target int) Bundle {
	total := 0
	for _, s := range steps {
		total += s.Take
	}
	return Bundle{
		Steps:      steps,
		Total:      total,
		IsComplete: total == target,
	}
}

func withdraw(p Pile, take int) Step {
	return Step{
		Index:     p.Index,
		Take:      take,
		From:      p.Amount,
		Remaining: p.Amount - take,
	}
}

func applySteps(working []Pile, steps []Step) {
	for _, s := range steps {
		for i := range working {
			if working[i].Index == s.Index {
				working[i].Amount = s.Remaining
				break
			}
		}
	}
}

// activePiles returns the piles with units left, largest first.
func activePiles(working []Pile) []Pile {
	active := make([]Pile, 0, len(working))
	for _, p := range working {
		if p.Amount > 0 {
			active = append(active, p)
		}
	}
	slices.SortStableFunc(active, descending)
	return active
}

func descending(a, b Pile) int {
	if a.Amount != b.Amount {
		return b.Amount - a.Amount
	}
	return a.Index - b.Index
}

func ascending(a, b Pile) int {
	if a.Amount != b.Amount {
		return a.Amount - b.Amount
	}
	return a.Index - b.Index
}

// CheckUnits rejects piles whose amounts, alone or summed, exceed MaxUnits.
// Inactive piles are ignored.
func CheckUnits(piles []Pile) error {
	total := 0
	for _, p := range piles {
		if p.Amount <= 0 {
			continue
		}
		if p.Amount > MaxUnits || total > MaxUnits-p.Amount {
			return fmt.Errorf("%w: %w (pile %d holds %d, at most %d units in total)",
				ErrInvalidOperation, ErrUnitLimit, p.Index, p.Amount, MaxUnits)
		}
		total += p.Amount
	}
	return nil
}

func validateTarget(target int) error {
	if target <= 0 {
		return fmt.Errorf("%w: %w (got %d)", ErrInvalidOperation, ErrInvalidTarget, target)
	}
	return nil
}
