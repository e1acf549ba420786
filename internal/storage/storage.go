package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/eugenenazirov/liasse-counter/internal/liasse"
)

var (
	// ErrInvalidDenomination indicates a denomination key that cannot be stored.
	ErrInvalidDenomination = errors.New("denomination must be 1-64 characters of letters, digits, '.', '_' or '-'")
)

var denominationPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// Storage persists the pile slots and completed bundles of each denomination.
// Load returns an empty state for a denomination that was never saved.
type Storage interface {
	Load(ctx context.Context, denomination string) (liasse.State, error)
	Save(ctx context.Context, denomination string, state liasse.State) error
	Denominations(ctx context.Context) ([]string, error)
	Close() error
}

// ValidateDenomination checks that a denomination can be used as a storage key.
func ValidateDenomination(denomination string) error {
	if !denominationPattern.MatchString(denomination) {
		return fmt.Errorf("%w: %q", ErrInvalidDenomination, denomination)
	}
	return nil
}

// MemoryStorage keeps states in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	mu     sync.RWMutex
	states map[string]liasse.State
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		states: make(map[string]liasse.State),
	}
}

// Load returns a defensive copy of the stored state.
func (s *MemoryStorage) Load(ctx context.Context, denomination string) (liasse.State, error) {
	if err := ctx.Err(); err != nil {
		return liasse.State{}, err
	}
	if err := ValidateDenomination(denomination); err != nil {
		return liasse.State{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.states[denomination].Clone(), nil
}

// Save stores a copy of state, replacing whatever was there.
func (s *MemoryStorage) Save(ctx context.Context, denomination string, state liasse.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateDenomination(denomination); err != nil {
		return err
	}

	s.mu.Lock()
	s.states[denomination] = state.Clone()
	s.mu.Unlock()

	return nil
}

// Denominations lists every saved denomination in lexical order.
func (s *MemoryStorage) Denominations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]string, 0, len(s.states))
	for denomination := range s.states {
		out = append(out, denomination)
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStorage) Close() error {
	return nil
}
