package counter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/liasse-counter/internal/liasse"
	"github.com/eugenenazirov/liasse-counter/internal/storage"
)

var (
	// ErrInvalidAmount is returned when a pile amount is out of range.
	ErrInvalidAmount = errors.New("pile amounts must be non-negative integers")
	// ErrPileNotFound is returned when a pile index does not exist.
	ErrPileNotFound = errors.New("pile not found")
	// ErrBundleNotFound is returned when a bundle number is not among the current instructions.
	ErrBundleNotFound = errors.New("bundle not found in current instructions")
)

// Snapshot is the full view of one denomination.
type Snapshot struct {
	Denomination string          `json:"denomination"`
	Target       int             `json:"target"`
	Piles        []liasse.Pile   `json:"piles"`
	Instructions []liasse.Bundle `json:"instructions"`
	Completed    []liasse.Bundle `json:"completed"`
	Summary      liasse.Summary  `json:"summary"`
}

// Service runs the bundle builder and completion ledger against persisted
// state. Mutations of one denomination are serialized; different
// denominations do not block each other.
type Service struct {
	store  storage.Storage
	target int
	logger *zap.Logger
	clock  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures Service behaviour.
type Option func(*Service)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// New constructs a Service. target is the default bundle size used when a
// call passes 0.
func New(store storage.Storage, target int, logger *zap.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if target <= 0 {
		return nil, fmt.Errorf("%w: %w (got %d)", liasse.ErrInvalidOperation, liasse.ErrInvalidTarget, target)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:  store,
		target: target,
		logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Target returns the default bundle size.
func (s *Service) Target() int {
	return s.target
}

// Denominations lists the denominations that have stored state.
func (s *Service) Denominations(ctx context.Context) ([]string, error) {
	return s.store.Denominations(ctx)
}

// Snapshot loads a denomination and derives its instructions and summary.
func (s *Service) Snapshot(ctx context.Context, denomination string, target int) (Snapshot, error) {
	state, err := s.store.Load(ctx, denomination)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(denomination, state, s.resolveTarget(target))
}

// AddPile appends a new pile and returns the updated snapshot.
func (s *Service) AddPile(ctx context.Context, denomination string, amount int) (Snapshot, error) {
	if amount <= 0 {
		return Snapshot{}, fmt.Errorf("%w: new pile must hold at least one unit, got %d", ErrInvalidAmount, amount)
	}

	return s.mutate(ctx, denomination, s.target, func(state liasse.State) (liasse.State, error) {
		state.Piles = append(state.Piles, amount)
		if err := checkCapacity(state); err != nil {
			return state, err
		}
		s.logger.Info("pile added",
			zap.String("denomination", denomination),
			zap.Int("index", len(state.Piles)-1),
			zap.Int("amount", amount),
		)
		return state, nil
	})
}

// SetPiles replaces the pile slots while keeping the ledger.
func (s *Service) SetPiles(ctx context.Context, denomination string, amounts []int) (Snapshot, error) {
	for i, amount := range amounts {
		if amount < 0 {
			return Snapshot{}, fmt.Errorf("%w: pile %d is %d", ErrInvalidAmount, i, amount)
		}
	}

	return s.mutate(ctx, denomination, s.target, func(state liasse.State) (liasse.State, error) {
		state.Piles = append([]int{}, amounts...)
		if err := checkCapacity(state); err != nil {
			return state, err
		}
		s.logger.Info("piles replaced",
			zap.String("denomination", denomination),
			zap.Int("piles", len(amounts)),
		)
		return state, nil
	})
}

// RemovePile empties the slot at index. The index stays reserved so that
// completed bundles keep pointing at the right piles.
func (s *Service) RemovePile(ctx context.Context, denomination string, index int) (Snapshot, error) {
	return s.mutate(ctx, denomination, s.target, func(state liasse.State) (liasse.State, error) {
		if index < 0 || index >= len(state.Piles) || state.Piles[index] <= 0 {
			return state, fmt.Errorf("%w: index %d", ErrPileNotFound, index)
		}
		removed := state.Piles[index]
		state.Piles[index] = 0
		s.logger.Info("pile removed",
			zap.String("denomination", denomination),
			zap.Int("index", index),
			zap.Int("amount", removed),
		)
		return state, nil
	})
}

// CompleteBundle rebuilds the instructions and records bundle number as done.
func (s *Service) CompleteBundle(ctx context.Context, denomination string, number, target int) (Snapshot, error) {
	target = s.resolveTarget(target)

	return s.mutate(ctx, denomination, target, func(state liasse.State) (liasse.State, error) {
		bundles, err := liasse.BuildInstructions(liasse.PilesFromAmounts(state.Piles), target)
		if err != nil {
			return state, err
		}
		if number < 1 || number > len(bundles) {
			return state, fmt.Errorf("%w: number %d", ErrBundleNotFound, number)
		}

		next, recorded, err := liasse.Complete(state, bundles[number-1], s.clock())
		if err != nil {
			return state, err
		}
		s.logger.Info("bundle completed",
			zap.String("denomination", denomination),
			zap.Int("number", recorded.Number),
			zap.Int64("timestamp", recorded.Timestamp),
			zap.Int("steps", len(recorded.Steps)),
		)
		return next, nil
	})
}

// Undo reverts the completed bundle identified by timestamp.
func (s *Service) Undo(ctx context.Context, denomination string, timestamp int64) (Snapshot, error) {
	return s.mutate(ctx, denomination, s.target, func(state liasse.State) (liasse.State, error) {
		next, undone, err := liasse.Undo(state, timestamp)
		if err != nil {
			return state, err
		}
		s.logger.Info("bundle completion undone",
			zap.String("denomination", denomination),
			zap.Int("number", undone.Number),
			zap.Int64("timestamp", undone.Timestamp),
			zap.Int("units", undone.Total),
		)
		return next, nil
	})
}

// Reset clears every pile and the ledger of a denomination.
func (s *Service) Reset(ctx context.Context, denomination string) (Snapshot, error) {
	return s.mutate(ctx, denomination, s.target, func(liasse.State) (liasse.State, error) {
		s.logger.Info("denomination reset", zap.String("denomination", denomination))
		return liasse.State{Piles: []int{}, Completed: []liasse.Bundle{}}, nil
	})
}

// mutate runs fn under the denomination lock and persists its result.
func (s *Service) mutate(ctx context.Context, denomination string, target int, fn func(liasse.State) (liasse.State, error)) (Snapshot, error) {
	if err := storage.ValidateDenomination(denomination); err != nil {
		return Snapshot{}, err
	}

	lock := s.lockFor(denomination)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.store.Load(ctx, denomination)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s: %w", denomination, err)
	}

	next, err := fn(state)
	if err != nil {
		if errors.Is(err, liasse.ErrInvariantViolation) {
			s.logger.Error("ledger invariant violated",
				zap.String("denomination", denomination),
				zap.Error(err),
			)
		}
		return Snapshot{}, err
	}

	if err := s.store.Save(ctx, denomination, next); err != nil {
		return Snapshot{}, fmt.Errorf("save %s: %w", denomination, err)
	}
	return s.snapshot(denomination, next, target)
}

func (s *Service) snapshot(denomination string, state liasse.State, target int) (Snapshot, error) {
	instructions, err := liasse.BuildInstructions(liasse.PilesFromAmounts(state.Piles), target)
	if err != nil {
		return Snapshot{}, err
	}
	summary, err := liasse.Summarize(state.Piles, target)
	if err != nil {
		return Snapshot{}, err
	}

	piles := make([]liasse.Pile, 0, len(state.Piles))
	for _, p := range liasse.PilesFromAmounts(state.Piles) {
		if p.Amount > 0 {
			piles = append(piles, p)
		}
	}
	completed := state.Completed
	if completed == nil {
		completed = []liasse.Bundle{}
	}

	return Snapshot{
		Denomination: denomination,
		Target:       target,
		Piles:        piles,
		Instructions: instructions,
		Completed:    completed,
		Summary:      summary,
	}, nil
}

// checkCapacity caps the units of a denomination, counting completed bundles
// too so that undoing them can never push the piles past liasse.MaxUnits.
func checkCapacity(state liasse.State) error {
	held := make([]int, 0, len(state.Piles)+len(state.Completed))
	held = append(held, state.Piles...)
	for _, b := range state.Completed {
		held = append(held, b.Total)
	}

	total := 0
	for _, amount := range held {
		if amount <= 0 {
			continue
		}
		if amount > liasse.MaxUnits-total {
			return fmt.Errorf("%w: %w: a denomination holds at most %d units, completed bundles included",
				ErrInvalidAmount, liasse.ErrUnitLimit, liasse.MaxUnits)
		}
		total += amount
	}
	return nil
}

func (s *Service) resolveTarget(target int) int {
	if target == 0 {
		return s.target
	}
	return target
}

func (s *Service) lockFor(denomination string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[denomination]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[denomination] = lock
	}
	return lock
}
