package access

import (
	"time"

	"github.com/google/uuid"
)

type PinKind string

const (
	PinKindSession PinKind = "session"
	PinKindExam    PinKind = "exam"
)

type PinStatus int16

const (
	PinStatusIssued   PinStatus = 1
	PinStatusConsumed PinStatus = 2
	PinStatusInactive PinStatus = 3
)

// Pin is a redeemable credential. The watermark is the opaque string handed
// to the student out of band; Code is the internal identity.
type Pin struct {
	Code          uuid.UUID
	Watermark     string
	Kind          PinKind
	RemainingUses int32
	Status        PinStatus
	IsActive      bool
	OwnerStudent  *uuid.UUID
	RootID        uuid.UUID
}

// Redeemable reports whether the pin passes every precondition for a
// content redemption. Ownership is checked separately so the caller can
// distinguish an ownership conflict from a dead pin.
func (p Pin) Redeemable() bool {
	if p.Kind != PinKindSession || !p.IsActive {
		return false
	}
	if p.Status != PinStatusIssued && p.Status != PinStatusConsumed {
		return false
	}
	return p.RemainingUses > 0
}

func (p Pin) OwnedByOther(student uuid.UUID) bool {
	return p.OwnerStudent != nil && *p.OwnerStudent != student
}

// Grant records that a student redeemed a pin for a lesson. Expiry is set
// once by the persistence trigger at creation and never advanced here.
type Grant struct {
	ID        uuid.UUID
	StudentID uuid.UUID
	LessonID  uuid.UUID
	PinCode   uuid.UUID
	RootID    uuid.UUID
	ViewCount int32
	Expiry    time.Time
	GrantedAt time.Time
}

func (g Grant) ExpiredAt(today time.Time) bool {
	if g.Expiry.IsZero() {
		return false
	}
	return dateOnly(today).After(dateOnly(g.Expiry))
}

func dateOnly(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

type Lesson struct {
	ID               uuid.UUID
	RootID           uuid.UUID
	Title            string
	ExpiryWindowDays *int32
	IsActive         bool
}

// SessionContext carries the caller's identity and the server session that
// scopes any capability issued to it. Handlers build one per request; the
// core never reads ambient session state.
type SessionContext struct {
	SessionID string
	StudentID uuid.UUID
	RootID    uuid.UUID
}
