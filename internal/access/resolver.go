package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type DecisionKind int

const (
	DecisionDirectAccess DecisionKind = iota
	DecisionRequirePIN
	DecisionAccessDenied
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionDirectAccess:
		return "direct_access"
	case DecisionRequirePIN:
		return "require_pin"
	case DecisionAccessDenied:
		return "access_denied"
	default:
		return "unknown"
	}
}

type Decision struct {
	Kind         DecisionKind
	Message      string
	RedirectPath string
}

const (
	msgColdStart       = "enter a PIN to access this lesson"
	msgPinOnHand       = "enter your PIN to access this lesson"
	msgAccessExpired   = "previous access has expired, enter your PIN again"
	msgAccessIncoheren = "previous access is no longer valid, enter your PIN again"
	msgForeignPin      = "this PIN belongs to another student"
)

// Resolver classifies a (student, lesson) pair without writing anything.
// Only a DirectAccess decision grants access; the other outcomes are
// routing hints for the PIN entry flow.
type Resolver struct {
	pins    PinStore
	grants  GrantStore
	nowFunc func() time.Time
}

func NewResolver(pins PinStore, grants GrantStore) *Resolver {
	return &Resolver{pins: pins, grants: grants, nowFunc: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock, for tests.
func (r *Resolver) WithNow(now func() time.Time) *Resolver {
	r.nowFunc = now
	return r
}

// Resolve applies the ordered classification: an existing valid grant wins,
// then a foreign-ownership conflict, then a valid pin held for a different
// lesson, then cold start. First match wins.
func (r *Resolver) Resolve(ctx context.Context, session SessionContext, lessonID uuid.UUID) (Decision, error) {
	today := r.nowFunc()

	grant, err := r.grants.Get(ctx, session.RootID, session.StudentID, lessonID)
	switch {
	case err == nil:
		return r.classifyExisting(ctx, grant, today)
	case errors.Is(err, ErrNotFound):
	default:
		return Decision{}, fmt.Errorf("load grant: %w", err)
	}

	grants, err := r.grants.ListByStudent(ctx, session.RootID, session.StudentID)
	if err != nil {
		return Decision{}, fmt.Errorf("list grants: %w", err)
	}

	usablePin := false
	for _, held := range grants {
		pin, err := r.pins.GetByCode(ctx, held.PinCode)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("load pin %s: %w", held.PinCode, err)
		}
		if pin.OwnedByOther(session.StudentID) {
			return Decision{Kind: DecisionAccessDenied, Message: msgForeignPin}, nil
		}
		if pin.IsActive && pin.RemainingUses > 0 {
			usablePin = true
		}
	}
	if usablePin {
		return Decision{Kind: DecisionRequirePIN, Message: msgPinOnHand}, nil
	}
	return Decision{Kind: DecisionRequirePIN, Message: msgColdStart}, nil
}

func (r *Resolver) classifyExisting(ctx context.Context, grant Grant, today time.Time) (Decision, error) {
	pin, err := r.pins.GetByCode(ctx, grant.PinCode)
	if errors.Is(err, ErrNotFound) {
		return Decision{Kind: DecisionRequirePIN, Message: msgAccessIncoheren}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load pin %s: %w", grant.PinCode, err)
	}
	if pin.RemainingUses < 0 {
		return Decision{Kind: DecisionRequirePIN, Message: msgAccessIncoheren}, nil
	}
	if grant.ExpiredAt(today) {
		return Decision{Kind: DecisionRequirePIN, Message: msgAccessExpired}, nil
	}
	return Decision{
		Kind:         DecisionDirectAccess,
		RedirectPath: ContentViewPath(grant.LessonID, pin.Watermark),
	}, nil
}

// ContentViewPath is the redirect target carrying the pin watermark that
// the content endpoints re-verify.
func ContentViewPath(lessonID uuid.UUID, watermark string) string {
	return fmt.Sprintf("/content/view?lesson=%s&pin=%s", lessonID, watermark)
}
