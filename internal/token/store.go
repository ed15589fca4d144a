package token

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of a rotation identifier. A pair starts
// active and terminates as rotated (exchanged for a successor), revoked, or
// simply expires out of the store.
type Status string

const (
	StatusActive  Status = "active"
	StatusRotated Status = "rotated"
	StatusRevoked Status = "revoked"
	StatusMissing Status = "missing"
)

// Record tracks one issued token pair, keyed by its rotation identifier.
// Retention TTL equals the refresh-token lifetime.
type Record struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
}

// Store persists rotation identifiers so refresh-token reuse and revocation
// can be detected. Rotate must be atomic per rotation id: of two concurrent
// calls with the same id, exactly one may observe StatusActive.
type Store interface {
	// Register records a freshly issued rotation id as active.
	Register(ctx context.Context, rec Record) error
	// Rotate conditionally retires the old id and registers its successor in
	// one step. It returns the status the old id held before the call:
	// StatusActive means the swap happened; anything else means it did not.
	Rotate(ctx context.Context, oldID string, next Record) (Status, error)
	// Status reports the current state of a rotation id.
	Status(ctx context.Context, rotationID string) (Status, error)
	// Revoke marks a single rotation id revoked.
	Revoke(ctx context.Context, rotationID string) error
	// RevokeUser marks every live rotation id of the user revoked.
	RevokeUser(ctx context.Context, userID int64) error
}

// MemoryStore is a mutex-guarded in-process Store. It backs tests and
// single-node deployments that opt out of persisted tracking.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]*memoryRecord
	now  func() time.Time
}

type memoryRecord struct {
	userID    int64
	status    Status
	expiresAt time.Time
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]*memoryRecord), now: time.Now}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Register(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = &memoryRecord{userID: rec.UserID, status: StatusActive, expiresAt: rec.ExpiresAt}
	return nil
}

func (s *MemoryStore) Rotate(ctx context.Context, oldID string, next Record) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[oldID]
	if !ok || s.now().After(rec.expiresAt) {
		return StatusMissing, nil
	}
	if rec.status != StatusActive {
		return rec.status, nil
	}
	rec.status = StatusRotated
	s.recs[next.ID] = &memoryRecord{userID: next.UserID, status: StatusActive, expiresAt: next.ExpiresAt}
	return StatusActive, nil
}

func (s *MemoryStore) Status(ctx context.Context, rotationID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[rotationID]
	if !ok || s.now().After(rec.expiresAt) {
		return StatusMissing, nil
	}
	return rec.status, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, rotationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[rotationID]; ok {
		rec.status = StatusRevoked
	}
	return nil
}

func (s *MemoryStore) RevokeUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.recs {
		if rec.userID == userID {
			rec.status = StatusRevoked
		}
	}
	return nil
}
