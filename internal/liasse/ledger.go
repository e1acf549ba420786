package liasse

import (
	"fmt"
	"time"
)

// Complete consumes the units of a fully formed bundle from the piles and
// records it in the ledger, stamped with now. The returned state and bundle
// are fresh copies; the input state is left untouched.
//
// Piles that reach zero keep their slot, so an index is never handed to a
// later pile.
func Complete(state State, bundle Bundle, now time.Time) (State, Bundle, error) {
	if err := validateCompletable(bundle); err != nil {
		return state, Bundle{}, err
	}
	if bundle.Timestamp != 0 && indexOfCompleted(state.Completed, bundle.Timestamp) >= 0 {
		return state, Bundle{}, fmt.Errorf("%w: bundle %d recorded at %d", ErrAlreadyCompleted, bundle.Number, bundle.Timestamp)
	}
	for _, s := range bundle.Steps {
		if s.Index >= len(state.Piles) || state.Piles[s.Index] != s.From {
			return state, Bundle{}, fmt.Errorf("%w: %w: bundle %d expected %d units in pile %d",
				ErrAlreadyCompleted, ErrStaleInstruction, bundle.Number, s.From, s.Index)
		}
	}

	next := state.Clone()
	before := sumActive(next.Piles)
	for _, s := range bundle.Steps {
		next.Piles[s.Index] = s.Remaining
	}

	if after := sumActive(next.Piles); after != before-bundle.Total {
		return state, Bundle{}, fmt.Errorf("%w: completing bundle %d left %d units, expected %d", ErrInvariantViolation, bundle.Number, after, before-bundle.Total)
	}

	recorded := bundle.clone()
	recorded.Timestamp = nextTimestamp(next.Completed, now)
	next.Completed = append(next.Completed, recorded)

	return next, recorded, nil
}

// Undo removes the bundle identified by timestamp from the ledger and returns
// its units to the piles they were drawn from. Slots missing from a shortened
// pile array are recreated, padding any gap with empty placeholders.
func Undo(state State, timestamp int64) (State, Bundle, error) {
	pos := indexOfCompleted(state.Completed, timestamp)
	if pos < 0 {
		return state, Bundle{}, fmt.Errorf("%w: no completed bundle with timestamp %d", ErrNotFound, timestamp)
	}

	next := state.Clone()
	bundle := next.Completed[pos]
	before := sumActive(next.Piles)

	for _, s := range bundle.Steps {
		if s.Index < 0 {
			return state, Bundle{}, fmt.Errorf("%w: step references pile %d", ErrInvariantViolation, s.Index)
		}
		for len(next.Piles) <= s.Index {
			next.Piles = append(next.Piles, 0)
		}
		next.Piles[s.Index] += s.Take
	}
	next.Completed = append(next.Completed[:pos], next.Completed[pos+1:]...)

	if after := sumActive(next.Piles); after != before+bundle.Total {
		return state, Bundle{}, fmt.Errorf("%w: undoing bundle %d left %d units, expected %d", ErrInvariantViolation, bundle.Number, after, before+bundle.Total)
	}

	return next, bundle, nil
}

func validateCompletable(bundle Bundle) error {
	if !bundle.IsComplete || len(bundle.Steps) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidOperation, ErrBelowTarget)
	}

	total := 0
	seen := make(map[int]struct{}, len(bundle.Steps))
	for _, s := range bundle.Steps {
		if s.Index < 0 || s.Take <= 0 || s.Take > s.From || s.Remaining != s.From-s.Take {
			return fmt.Errorf("%w: malformed step for pile %d", ErrInvalidOperation, s.Index)
		}
		if _, dup := seen[s.Index]; dup {
			return fmt.Errorf("%w: pile %d drawn twice in one bundle", ErrInvalidOperation, s.Index)
		}
		seen[s.Index] = struct{}{}
		total += s.Take
	}
	if total != bundle.Total {
		return fmt.Errorf("%w: bundle total %d does not match steps (%d)", ErrInvalidOperation, bundle.Total, total)
	}
	return nil
}

// nextTimestamp keeps ledger identities unique even when two completions land
// in the same millisecond.
func nextTimestamp(completed []Bundle, now time.Time) int64 {
	stamp := now.UnixMilli()
	for _, b := range completed {
		if b.Timestamp >= stamp {
			stamp = b.Timestamp + 1
		}
	}
	return stamp
}

func indexOfCompleted(completed []Bundle, timestamp int64) int {
	for i, b := range completed {
		if b.Timestamp == timestamp {
			return i
		}
	}
	return -1
}
