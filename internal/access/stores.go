package access

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by every store lookup that matches no row.
var ErrNotFound = errors.New("not found")

type PinStore interface {
	GetByWatermark(ctx context.Context, rootID uuid.UUID, watermark string) (Pin, error)
	GetByCode(ctx context.Context, code uuid.UUID) (Pin, error)
}

type GrantStore interface {
	Get(ctx context.Context, rootID, studentID, lessonID uuid.UUID) (Grant, error)
	ListByStudent(ctx context.Context, rootID, studentID uuid.UUID) ([]Grant, error)
}

// LessonDirectory is the read-only lesson lookup collaborator.
type LessonDirectory interface {
	Get(ctx context.Context, rootID, lessonID uuid.UUID) (Lesson, error)
}

// RedemptionTx exposes the writes the redeem pipeline performs inside a
// single transaction. GetPinForUpdate must lock the pin row so the
// use-count precondition and the trigger decrement serialize across
// concurrent redemptions.
type RedemptionTx interface {
	GetPinForUpdate(ctx context.Context, rootID uuid.UUID, watermark string) (Pin, error)
	GetGrant(ctx context.Context, rootID, studentID, lessonID uuid.UUID) (Grant, error)
	CreateGrant(ctx context.Context, grant Grant) error
	BumpGrantView(ctx context.Context, grantID uuid.UUID, grantedAt time.Time) error
	SetPinOwner(ctx context.Context, code, studentID uuid.UUID) error
	ConsumePin(ctx context.Context, code uuid.UUID) error
	TouchPin(ctx context.Context, code uuid.UUID) error
}

type RedemptionStore interface {
	InTx(ctx context.Context, fn func(RedemptionTx) error) error
}

// CapabilityIssuer binds a successful redemption to the caller's session.
type CapabilityIssuer interface {
	Issue(ctx context.Context, session SessionContext, watermark string, lessonID uuid.UUID) error
}
