package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory. Entries do not survive a restart and are not shared
// between instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry)}
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *entry
	if e, ok := s.entries[key]; ok {
		current = &e
	}
	claim, take, err := decide(current, fingerprint, now)
	if take {
		s.entries[key] = pending(fingerprint, now, ttl)
	}
	return claim, err
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok && e.Fingerprint != fingerprint {
		return ErrKeyReused
	}
	if !ok {
		e = pending(fingerprint, now, ttl)
	}
	e.Done = true
	e.Response = Response{
		Status: resp.Status,
		Header: keepHeaders(resp.Header),
		Body:   append([]byte(nil), resp.Body...),
	}
	e.ExpiresAt = now.Add(ttlOrDefault(ttl))
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Purge drops up to limit expired entries; limit <= 0 means all of them.
func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}
