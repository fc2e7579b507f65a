// Package inmem backs the access stores with maps, for tests and for
// running the service without postgres. It mirrors the trigger behavior of
// the real schema: creating a grant stamps its expiry from the lesson
// window and burns one pin use.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hossamadel7/centrny-sub000/internal/access"
)

const defaultExpiryWindowDays = 30

type Store struct {
	mu      sync.Mutex
	pins    map[uuid.UUID]access.Pin
	grants  map[uuid.UUID]access.Grant
	lessons map[uuid.UUID]access.Lesson
	nowFunc func() time.Time
}

func New() *Store {
	return &Store{
		pins:    make(map[uuid.UUID]access.Pin),
		grants:  make(map[uuid.UUID]access.Grant),
		lessons: make(map[uuid.UUID]access.Lesson),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock used for trigger-stamped expiries, for tests.
func (s *Store) WithNow(now func() time.Time) *Store {
	s.nowFunc = now
	return s
}

// Seeding

func (s *Store) AddPin(pin access.Pin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[pin.Code] = pin
}

func (s *Store) AddLesson(lesson access.Lesson) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lessons[lesson.ID] = lesson
}

func (s *Store) AddGrant(grant access.Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grant.ID] = grant
}

func (s *Store) Pin(code uuid.UUID) (access.Pin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pin, ok := s.pins[code]
	return pin, ok
}

func (s *Store) Grant(rootID, studentID, lessonID uuid.UUID) (access.Grant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.findGrant(rootID, studentID, lessonID)
	return grant, ok
}

// access.PinStore

func (s *Store) GetByWatermark(_ context.Context, rootID uuid.UUID, watermark string) (access.Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findPinByWatermark(rootID, watermark)
}

func (s *Store) GetByCode(_ context.Context, code uuid.UUID) (access.Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pin, ok := s.pins[code]
	if !ok {
		return access.Pin{}, access.ErrNotFound
	}
	return pin, nil
}

// access.GrantStore

func (s *Store) Get(_ context.Context, rootID, studentID, lessonID uuid.UUID) (access.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.findGrant(rootID, studentID, lessonID)
	if !ok {
		return access.Grant{}, access.ErrNotFound
	}
	return grant, nil
}

func (s *Store) ListByStudent(_ context.Context, rootID, studentID uuid.UUID) ([]access.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var grants []access.Grant
	for _, grant := range s.grants {
		if grant.RootID == rootID && grant.StudentID == studentID {
			grants = append(grants, grant)
		}
	}
	return grants, nil
}

// access.LessonDirectory

func (s *Store) GetLesson(_ context.Context, rootID, lessonID uuid.UUID) (access.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lesson, ok := s.lessons[lessonID]
	if !ok || lesson.RootID != rootID {
		return access.Lesson{}, access.ErrNotFound
	}
	return lesson, nil
}

// Lessons adapts the store to the access.LessonDirectory method set, whose
// lookup is named Get like the grant store's.
func (s *Store) Lessons() access.LessonDirectory {
	return lessonDirectory{s}
}

type lessonDirectory struct {
	store *Store
}

func (d lessonDirectory) Get(ctx context.Context, rootID, lessonID uuid.UUID) (access.Lesson, error) {
	return d.store.GetLesson(ctx, rootID, lessonID)
}

// access.RedemptionStore

func (s *Store) InTx(_ context.Context, fn func(access.RedemptionTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pins := clone(s.pins)
	grants := clone(s.grants)
	if err := fn(&tx{store: s}); err != nil {
		s.pins = pins
		s.grants = grants
		return err
	}
	return nil
}

type tx struct {
	store *Store
}

func (t *tx) GetPinForUpdate(_ context.Context, rootID uuid.UUID, watermark string) (access.Pin, error) {
	return t.store.findPinByWatermark(rootID, watermark)
}

func (t *tx) GetGrant(_ context.Context, rootID, studentID, lessonID uuid.UUID) (access.Grant, error) {
	grant, ok := t.store.findGrant(rootID, studentID, lessonID)
	if !ok {
		return access.Grant{}, access.ErrNotFound
	}
	return grant, nil
}

func (t *tx) CreateGrant(_ context.Context, grant access.Grant) error {
	windowDays := int32(defaultExpiryWindowDays)
	if lesson, ok := t.store.lessons[grant.LessonID]; ok && lesson.ExpiryWindowDays != nil {
		windowDays = *lesson.ExpiryWindowDays
	}
	grant.Expiry = t.store.nowFunc().AddDate(0, 0, int(windowDays))
	t.store.grants[grant.ID] = grant

	if pin, ok := t.store.pins[grant.PinCode]; ok {
		pin.RemainingUses--
		t.store.pins[grant.PinCode] = pin
	}
	return nil
}

func (t *tx) BumpGrantView(_ context.Context, grantID uuid.UUID, grantedAt time.Time) error {
	grant, ok := t.store.grants[grantID]
	if !ok {
		return access.ErrNotFound
	}
	grant.ViewCount++
	grant.GrantedAt = grantedAt
	t.store.grants[grantID] = grant
	return nil
}

func (t *tx) SetPinOwner(_ context.Context, code, studentID uuid.UUID) error {
	pin, ok := t.store.pins[code]
	if !ok {
		return access.ErrNotFound
	}
	owner := studentID
	pin.OwnerStudent = &owner
	t.store.pins[code] = pin
	return nil
}

func (t *tx) ConsumePin(_ context.Context, code uuid.UUID) error {
	pin, ok := t.store.pins[code]
	if !ok {
		return access.ErrNotFound
	}
	pin.Status = access.PinStatusConsumed
	t.store.pins[code] = pin
	return nil
}

func (t *tx) TouchPin(_ context.Context, code uuid.UUID) error {
	if _, ok := t.store.pins[code]; !ok {
		return access.ErrNotFound
	}
	return nil
}

// content.ViewTracker

func (s *Store) IncrementView(_ context.Context, rootID, studentID, lessonID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.findGrant(rootID, studentID, lessonID)
	if !ok {
		return nil
	}
	grant.ViewCount++
	s.grants[grant.ID] = grant
	return nil
}

// Pin administration

func (s *Store) Generate(_ context.Context, rootID uuid.UUID, kind access.PinKind, uses, quantity int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := int32(0); i < quantity; i++ {
		code := uuid.New()
		s.pins[code] = access.Pin{
			Code:          code,
			Watermark:     uuid.NewString(),
			Kind:          kind,
			RemainingUses: uses,
			Status:        access.PinStatusIssued,
			IsActive:      true,
			RootID:        rootID,
		}
	}
	return nil
}

func (s *Store) List(_ context.Context, rootID uuid.UUID, limit int32) ([]access.Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pins []access.Pin
	for _, pin := range s.pins {
		if pin.RootID != rootID {
			continue
		}
		pins = append(pins, pin)
		if limit > 0 && int32(len(pins)) >= limit {
			break
		}
	}
	return pins, nil
}

// Internals, caller holds the lock.

func (s *Store) findPinByWatermark(rootID uuid.UUID, watermark string) (access.Pin, error) {
	for _, pin := range s.pins {
		if pin.RootID == rootID && pin.Watermark == watermark && pin.IsActive {
			return pin, nil
		}
	}
	return access.Pin{}, access.ErrNotFound
}

func (s *Store) findGrant(rootID, studentID, lessonID uuid.UUID) (access.Grant, bool) {
	for _, grant := range s.grants {
		if grant.RootID == rootID && grant.StudentID == studentID && grant.LessonID == lessonID {
			return grant, true
		}
	}
	return access.Grant{}, false
}

func clone[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
