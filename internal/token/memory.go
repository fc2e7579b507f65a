package token

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hossamadel7/centrny-sub000/internal/access"
)

// MemoryStore holds capabilities in process memory. Used by tests and by
// single-node setups running without redis.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]Capability
	expiry  map[string]time.Time
	nowFunc func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		records: make(map[string]Capability),
		expiry:  make(map[string]time.Time),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock, for tests.
func (s *MemoryStore) WithNow(now func() time.Time) *MemoryStore {
	s.nowFunc = now
	return s
}

func (s *MemoryStore) Issue(_ context.Context, session access.SessionContext, watermark string, lessonID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	s.records[session.SessionID] = Capability{
		PinWatermark: watermark,
		LessonID:     lessonID,
		Subject:      session.StudentID,
		IssuedAt:     now.Unix(),
	}
	s.expiry[session.SessionID] = now.Add(s.ttl)
	return nil
}

func (s *MemoryStore) Verify(_ context.Context, sessionID, watermark string, lessonID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[sessionID]
	if !ok {
		return false, nil
	}
	if deadline, ok := s.expiry[sessionID]; ok && s.nowFunc().After(deadline) {
		delete(s.records, sessionID)
		delete(s.expiry, sessionID)
		return false, nil
	}
	return record.PinWatermark == watermark && record.LessonID == lessonID, nil
}

func (s *MemoryStore) Revoke(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sessionID)
	delete(s.expiry, sessionID)
	return nil
}
