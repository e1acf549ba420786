// Package redis provides a Redis-backed implementation of storage.Storage.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/eugenenazirov/liasse-counter/internal/liasse"
	"github.com/eugenenazirov/liasse-counter/internal/storage"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "liasse"

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store keeps each denomination under two JSON keys, one for the pile slots
// and one for the completed bundles, and tracks known denominations in a set.
type Store struct {
	client *redis.Client
	prefix string
}

// Open connects to Redis and verifies the connection with PING.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return New(client, opts.Prefix), nil
}

// New wraps an existing client. An empty prefix falls back to DefaultPrefix.
func New(client *redis.Client, prefix string) *Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Load reads both collections. Missing keys yield empty collections.
func (s *Store) Load(ctx context.Context, denomination string) (liasse.State, error) {
	if err := storage.ValidateDenomination(denomination); err != nil {
		return liasse.State{}, err
	}
	if s == nil || s.client == nil {
		return liasse.State{}, fmt.Errorf("storage is not configured")
	}

	values, err := s.client.MGet(ctx, s.pilesKey(denomination), s.completedKey(denomination)).Result()
	if err != nil {
		return liasse.State{}, fmt.Errorf("redis mget: %w", err)
	}

	state := liasse.State{Piles: []int{}, Completed: []liasse.Bundle{}}
	if err := decodeValue(values[0], &state.Piles); err != nil {
		return liasse.State{}, fmt.Errorf("decode piles: %w", err)
	}
	if err := decodeValue(values[1], &state.Completed); err != nil {
		return liasse.State{}, fmt.Errorf("decode completed bundles: %w", err)
	}
	return state, nil
}

// Save writes both collections in one MULTI/EXEC transaction.
func (s *Store) Save(ctx context.Context, denomination string, state liasse.State) error {
	if err := storage.ValidateDenomination(denomination); err != nil {
		return err
	}
	if s == nil || s.client == nil {
		return fmt.Errorf("storage is not configured")
	}

	state = state.Clone()
	piles, err := json.Marshal(state.Piles)
	if err != nil {
		return fmt.Errorf("encode piles: %w", err)
	}
	completed, err := json.Marshal(state.Completed)
	if err != nil {
		return fmt.Errorf("encode completed bundles: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.pilesKey(denomination), piles, 0)
		pipe.Set(ctx, s.completedKey(denomination), completed, 0)
		pipe.SAdd(ctx, s.denominationsKey(), denomination)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}

// Denominations returns the saved denominations in lexical order.
func (s *Store) Denominations(ctx context.Context) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	names, err := s.client.SMembers(ctx, s.denominationsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) pilesKey(denomination string) string {
	return s.prefix + ":" + denomination + ":piles"
}

func (s *Store) completedKey(denomination string) string {
	return s.prefix + ":" + denomination + ":completed"
}

func (s *Store) denominationsKey() string {
	return s.prefix + ":denominations"
}

func decodeValue(value any, target any) error {
	if value == nil {
		return nil
	}
	raw, ok := value.(string)
	if !ok {
		return errors.New("unexpected redis value type")
	}
	return json.Unmarshal([]byte(raw), target)
}
