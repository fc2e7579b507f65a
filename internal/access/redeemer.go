package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Reason string

const (
	ReasonInvalidInput      Reason = "invalid_input"
	ReasonPinNotFound       Reason = "pin_not_found"
	ReasonWrongPinType      Reason = "wrong_pin_type"
	ReasonPinInactive       Reason = "pin_inactive"
	ReasonPinExhausted      Reason = "pin_exhausted"
	ReasonOwnershipConflict Reason = "ownership_conflict"
	ReasonLessonUnavailable Reason = "lesson_unavailable"
)

type Result struct {
	Granted      bool
	Reason       Reason
	RedirectPath string
}

func rejected(reason Reason) Result {
	return Result{Reason: reason}
}

// rejection carries a pipeline reason out of the transaction callback so a
// mid-transaction precondition failure rolls back and maps to a normal
// rejected result instead of an internal error.
type rejection struct {
	reason Reason
}

func (r rejection) Error() string {
	return string(r.reason)
}

// Redeemer validates a submitted pin against a lesson and, on success,
// persists the grant and pin transitions in one transaction and issues a
// session capability for the (pin, lesson) pair.
type Redeemer struct {
	pins    PinStore
	lessons LessonDirectory
	store   RedemptionStore
	issuer  CapabilityIssuer
	nowFunc func() time.Time
}

func NewRedeemer(pins PinStore, lessons LessonDirectory, store RedemptionStore, issuer CapabilityIssuer) *Redeemer {
	return &Redeemer{
		pins:    pins,
		lessons: lessons,
		store:   store,
		issuer:  issuer,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock, for tests.
func (d *Redeemer) WithNow(now func() time.Time) *Redeemer {
	d.nowFunc = now
	return d
}

func (d *Redeemer) Redeem(ctx context.Context, session SessionContext, watermark string, lessonID uuid.UUID) (Result, error) {
	watermark = strings.TrimSpace(watermark)
	if watermark == "" || lessonID == uuid.Nil || session.StudentID == uuid.Nil {
		return rejected(ReasonInvalidInput), nil
	}

	pin, err := d.pins.GetByWatermark(ctx, session.RootID, watermark)
	if errors.Is(err, ErrNotFound) {
		return rejected(ReasonPinNotFound), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load pin: %w", err)
	}
	if reason := pinRejection(pin, session.StudentID); reason != "" {
		return rejected(reason), nil
	}

	lesson, err := d.lessons.Get(ctx, session.RootID, lessonID)
	if errors.Is(err, ErrNotFound) {
		return rejected(ReasonLessonUnavailable), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load lesson: %w", err)
	}
	if !lesson.IsActive || lesson.RootID != session.RootID {
		return rejected(ReasonLessonUnavailable), nil
	}

	now := d.nowFunc()
	err = d.store.InTx(ctx, func(tx RedemptionTx) error {
		locked, err := tx.GetPinForUpdate(ctx, session.RootID, watermark)
		if errors.Is(err, ErrNotFound) {
			return rejection{ReasonPinNotFound}
		}
		if err != nil {
			return fmt.Errorf("lock pin: %w", err)
		}
		// Re-checked under the row lock: a concurrent redemption may have
		// claimed the pin or burned its last use since the read above.
		if reason := pinRejection(locked, session.StudentID); reason != "" {
			return rejection{reason}
		}

		grant, err := tx.GetGrant(ctx, session.RootID, session.StudentID, lessonID)
		switch {
		case err == nil:
			if err := tx.BumpGrantView(ctx, grant.ID, now); err != nil {
				return fmt.Errorf("bump grant: %w", err)
			}
		case errors.Is(err, ErrNotFound):
			// The insert trigger sets expiry and decrements the pin's
			// remaining uses; neither is computed here.
			if err := tx.CreateGrant(ctx, Grant{
				ID:        uuid.New(),
				StudentID: session.StudentID,
				LessonID:  lessonID,
				PinCode:   locked.Code,
				RootID:    session.RootID,
				ViewCount: 1,
				GrantedAt: now,
			}); err != nil {
				return fmt.Errorf("create grant: %w", err)
			}
		default:
			return fmt.Errorf("load grant: %w", err)
		}

		if locked.OwnerStudent == nil {
			if err := tx.SetPinOwner(ctx, locked.Code, session.StudentID); err != nil {
				return fmt.Errorf("claim pin: %w", err)
			}
		}
		if locked.Status == PinStatusIssued {
			if err := tx.ConsumePin(ctx, locked.Code); err != nil {
				return fmt.Errorf("consume pin: %w", err)
			}
		} else if err := tx.TouchPin(ctx, locked.Code); err != nil {
			return fmt.Errorf("touch pin: %w", err)
		}
		return nil
	})
	if err != nil {
		var rej rejection
		if errors.As(err, &rej) {
			return rejected(rej.reason), nil
		}
		return Result{}, err
	}

	if err := d.issuer.Issue(ctx, session, watermark, lessonID); err != nil {
		return Result{}, fmt.Errorf("issue capability: %w", err)
	}
	return Result{
		Granted:      true,
		RedirectPath: ContentViewPath(lessonID, watermark),
	}, nil
}

// pinRejection maps a pin that fails a redemption precondition to its
// reason. Ownership is checked ahead of the use count so a shared pin
// always surfaces as a conflict, even once exhausted.
func pinRejection(pin Pin, studentID uuid.UUID) Reason {
	if !pin.IsActive {
		return ReasonPinNotFound
	}
	if pin.Kind != PinKindSession {
		return ReasonWrongPinType
	}
	if pin.Status != PinStatusIssued && pin.Status != PinStatusConsumed {
		return ReasonPinInactive
	}
	if pin.OwnedByOther(studentID) {
		return ReasonOwnershipConflict
	}
	if pin.RemainingUses <= 0 {
		return ReasonPinExhausted
	}
	return ""
}
