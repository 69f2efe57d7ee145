package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps reservations in a mutex-guarded map. It backs tests and
// local runs where Firestore is not available.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Reserve claims the key, replacing expired records with a fresh claim.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID(key)
	rec, ok := s.records[id]
	if ok && !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt) {
		delete(s.records, id)
		ok = false
	}

	if !ok {
		rec = Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		s.records[id] = rec
		return Reservation{State: ReservationStateNew, Record: rec}, nil
	}

	if rec.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}

	state := ReservationStatePending
	if rec.Status == StatusCompleted {
		state = ReservationStateCompleted
	}
	return Reservation{State: state, Record: rec}, nil
}

// SaveResponse records the handler output for replay.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID(key)
	rec, ok := s.records[id]
	if !ok {
		rec = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	} else if rec.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}

	rec.Status = StatusCompleted
	rec.ResponseStatus = resp.Status
	rec.ResponseHeaders = filterHeaders(resp.Headers)
	rec.ResponseBody = append([]byte(nil), resp.Body...)
	rec.UpdatedAt = now
	rec.ExpiresAt = now.Add(ttl)
	s.records[id] = rec
	return nil
}

// Release drops the reservation.
func (s *MemoryStore) Release(_ context.Context, key, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordID(key))
	return nil
}

// CleanupExpired removes up to limit expired records.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if rec.ExpiresAt.IsZero() || now.Before(rec.ExpiresAt) {
			continue
		}
		delete(s.records, id)
		removed++
		if removed >= limit {
			break
		}
	}
	return removed, nil
}
