// Package token issues and verifies the session-scoped capability that a
// successful pin redemption produces. The capability is never persisted to
// durable storage: it lives in redis keyed by the server session id, with a
// TTL equal to the session lifetime, and is destroyed on logout.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hossamadel7/centrny-sub000/internal/access"
)

// Capability binds a redeemed pin to one lesson for one session subject.
// Any field mismatch on verify invalidates downstream content requests.
type Capability struct {
	PinWatermark string    `json:"pin_watermark"`
	LessonID     uuid.UUID `json:"lesson_id"`
	Subject      uuid.UUID `json:"subject"`
	IssuedAt     int64     `json:"issued_at"`
}

type Verifier interface {
	Verify(ctx context.Context, sessionID, watermark string, lessonID uuid.UUID) (bool, error)
}

// Store is the full capability lifecycle: issue on redemption, verify on
// every content request, revoke on logout.
type Store interface {
	access.CapabilityIssuer
	Verifier
	Revoke(ctx context.Context, sessionID string) error
}

// RedisStore keeps one capability per session id.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Issue(ctx context.Context, session access.SessionContext, watermark string, lessonID uuid.UUID) error {
	record := Capability{
		PinWatermark: watermark,
		LessonID:     lessonID,
		Subject:      session.StudentID,
		IssuedAt:     time.Now().UTC().Unix(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, capabilityKey(session.SessionID), data, s.ttl).Err()
}

func (s *RedisStore) Verify(ctx context.Context, sessionID, watermark string, lessonID uuid.UUID) (bool, error) {
	value, err := s.client.Get(ctx, capabilityKey(sessionID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var record Capability
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return false, err
	}
	return record.PinWatermark == watermark && record.LessonID == lessonID, nil
}

func (s *RedisStore) Revoke(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, capabilityKey(sessionID)).Err()
}

func capabilityKey(sessionID string) string {
	return fmt.Sprintf("capability:%s", sessionID)
}
