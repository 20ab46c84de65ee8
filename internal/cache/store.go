// Package cache memoizes classification and resolution results keyed by
// fingerprint. Concurrent requests for the same key share one computation.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"zeroledger/internal/telemetry"
)

// Kind separates entry families that share a fingerprint space.
type Kind string

const (
	KindClassification Kind = "classification"
	KindResolution     Kind = "resolution"
)

// Entry is one stored result. Payload holds the JSON encoding of the value.
type Entry struct {
	Key       string    `json:"key"`
	Kind      Kind      `json:"kind"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Backend persists entries. Load returns (nil, nil) for absent keys.
type Backend interface {
	Load(ctx context.Context, kind Kind, key string) (*Entry, error)
	Save(ctx context.Context, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, kind Kind, key string) error
}

const flightShards = 64

// Options configures a Store.
type Options struct {
	// TTL per kind; zero or missing means entries never expire.
	TTL     map[Kind]time.Duration
	Now     func() time.Time
	Metrics *telemetry.Metrics
	Logger  *zap.Logger
}

// Store is the cache front: expiry, equal-write suppression and single-flight
// on top of a Backend.
type Store struct {
	backend Backend
	ttl     map[Kind]time.Duration
	now     func() time.Time
	metrics *telemetry.Metrics
	logger  *zap.Logger
	flights [flightShards]singleflight.Group
}

// New builds a Store over backend.
func New(backend Backend, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ttl := make(map[Kind]time.Duration, len(opts.TTL))
	for k, v := range opts.TTL {
		ttl[k] = v
	}

	return &Store{
		backend: backend,
		ttl:     ttl,
		now:     opts.Now,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// Get returns the payload stored under (kind, key). Expired entries are
// reported absent and removed.
func (s *Store) Get(ctx context.Context, kind Kind, key string) ([]byte, bool, error) {
	entry, err := s.backend.Load(ctx, kind, key)
	if err != nil {
		return nil, false, fmt.Errorf("load %s entry: %w", kind, err)
	}
	if entry == nil {
		return nil, false, nil
	}
	if entry.Expired(s.now()) {
		if err := s.backend.Delete(ctx, kind, key); err != nil {
			s.logger.Warn("Failed to drop expired cache entry",
				zap.String("kind", string(kind)), zap.Error(err))
		}
		return nil, false, nil
	}
	return entry.Payload, true, nil
}

// Put stores payload under (kind, key). Writing a payload equal to the live
// entry is a no-op and keeps the original timestamps.
func (s *Store) Put(ctx context.Context, kind Kind, key string, payload []byte) error {
	existing, ok, err := s.Get(ctx, kind, key)
	if err != nil {
		return err
	}
	if ok && bytes.Equal(existing, payload) {
		return nil
	}

	now := s.now()
	ttl := s.ttl[kind]
	entry := Entry{
		Key:       key,
		Kind:      kind,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: now,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	if err := s.backend.Save(ctx, entry, ttl); err != nil {
		return fmt.Errorf("save %s entry: %w", kind, err)
	}
	return nil
}

func (s *Store) flight(flightKey string) *singleflight.Group {
	h := fnv.New32a()
	_, _ = h.Write([]byte(flightKey))
	return &s.flights[h.Sum32()%flightShards]
}

// ComputeFunc produces a value on a cache miss. store=false returns the value
// to every waiter without persisting it.
type ComputeFunc[T any] func(ctx context.Context) (value T, store bool, err error)

type flightResult struct {
	payload []byte
	cached  bool
}

// GetOrCompute returns the cached value for (kind, key) or computes it once
// for all concurrent callers. The computation runs on a context detached from
// the caller, so a caller that gives up only stops waiting. Failed
// computations are not stored. hit is true when the value came from the
// backend.
func GetOrCompute[T any](ctx context.Context, s *Store, kind Kind, key string, fn ComputeFunc[T]) (T, bool, error) {
	var zero T

	if v, ok := lookup[T](ctx, s, kind, key); ok {
		s.metrics.RecordCacheLookup(string(kind), "hit")
		return v, true, nil
	}

	flightKey := string(kind) + "\x00" + key
	ch := s.flight(flightKey).DoChan(flightKey, func() (any, error) {
		detached := context.WithoutCancel(ctx)

		// Another flight may have finished between the lookup and now.
		if payload, ok, err := s.Get(detached, kind, key); err == nil && ok {
			return flightResult{payload: payload, cached: true}, nil
		}

		v, store, err := fn(detached)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s entry: %w", kind, err)
		}
		if store {
			if err := s.Put(detached, kind, key, payload); err != nil {
				s.logger.Warn("Failed to store cache entry",
					zap.String("kind", string(kind)), zap.Error(err))
			}
		}
		return flightResult{payload: payload}, nil
	})

	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		fr := res.Val.(flightResult)

		var v T
		if err := json.Unmarshal(fr.payload, &v); err != nil {
			return zero, false, fmt.Errorf("decode %s entry: %w", kind, err)
		}

		switch {
		case fr.cached:
			s.metrics.RecordCacheLookup(string(kind), "hit")
		case res.Shared:
			s.metrics.RecordCacheLookup(string(kind), "shared")
		default:
			s.metrics.RecordCacheLookup(string(kind), "miss")
		}
		return v, fr.cached, nil
	}
}

// lookup decodes a live entry. Backend failures and undecodable payloads are
// logged and treated as misses.
func lookup[T any](ctx context.Context, s *Store, kind Kind, key string) (T, bool) {
	var v T
	payload, ok, err := s.Get(ctx, kind, key)
	if err != nil {
		s.logger.Warn("Cache lookup failed, computing", zap.String("kind", string(kind)), zap.Error(err))
		return v, false
	}
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		s.logger.Warn("Undecodable cache entry, computing", zap.String("kind", string(kind)), zap.Error(err))
		var zero T
		return zero, false
	}
	return v, true
}
