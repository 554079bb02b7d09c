// Package sessions stores in-flight booking wizard state. Sessions expire
// after a TTL, which is how abandoned bookings are discarded.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/wizard"
)

const DefaultTTL = 30 * time.Minute

type RedisStore struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: "booking:session:"}
}

func (s *RedisStore) Get(ctx context.Context, id string) (wizard.State, error) {
	raw, err := s.rdb.Get(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return wizard.State{}, wizard.ErrSessionNotFound
	}
	if err != nil {
		return wizard.State{}, err
	}
	var st wizard.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return wizard.State{}, err
	}
	return st, nil
}

// Save writes st and restarts its TTL.
func (s *RedisStore) Save(ctx context.Context, st wizard.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.prefix+st.ID, raw, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.prefix+id).Err()
}

type memEntry struct {
	raw     []byte
	expires time.Time
}

// MemoryStore keeps sessions in process. States are stored serialized so
// callers never share slices with the store.
// Abandoned sessions are swept on Save, at most once per TTL.
type MemoryStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	entries   map[string]memEntry
	now       func() time.Time
	nextSweep time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, entries: map[string]memEntry{}, now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, id string) (wizard.State, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok && !s.now().Before(e.expires) {
		delete(s.entries, id)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return wizard.State{}, wizard.ErrSessionNotFound
	}
	var st wizard.State
	if err := json.Unmarshal(e.raw, &st); err != nil {
		return wizard.State{}, err
	}
	return st, nil
}

func (s *MemoryStore) Save(_ context.Context, st wizard.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !now.Before(s.nextSweep) {
		s.sweep(now)
	}
	s.entries[st.ID] = memEntry{raw: raw, expires: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) sweep(now time.Time) {
	for id, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, id)
		}
	}
	s.nextSweep = now.Add(s.ttl)
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}
