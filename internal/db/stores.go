package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/hossamadel7/centrny-sub000/internal/access"
)

// Adapters from the generated-query layer to the access store interfaces.

type PinStore struct {
	q *Queries
}

func NewPinStore(store *Store) *PinStore {
	return &PinStore{q: store.Queries}
}

func (s *PinStore) GetByWatermark(ctx context.Context, rootID uuid.UUID, watermark string) (access.Pin, error) {
	pin, err := s.q.GetPinByWatermark(ctx, GetPinByWatermarkParams{RootID: pgUUID(rootID), Watermark: watermark})
	if err != nil {
		return access.Pin{}, mapNotFound(err)
	}
	return pinFromRow(pin), nil
}

func (s *PinStore) GetByCode(ctx context.Context, code uuid.UUID) (access.Pin, error) {
	pin, err := s.q.GetPinByCode(ctx, pgUUID(code))
	if err != nil {
		return access.Pin{}, mapNotFound(err)
	}
	return pinFromRow(pin), nil
}

type GrantStore struct {
	q *Queries
}

func NewGrantStore(store *Store) *GrantStore {
	return &GrantStore{q: store.Queries}
}

func (s *GrantStore) Get(ctx context.Context, rootID, studentID, lessonID uuid.UUID) (access.Grant, error) {
	grant, err := s.q.GetGrant(ctx, GetGrantParams{
		RootID:    pgUUID(rootID),
		StudentID: pgUUID(studentID),
		LessonID:  pgUUID(lessonID),
	})
	if err != nil {
		return access.Grant{}, mapNotFound(err)
	}
	return grantFromRow(grant), nil
}

func (s *GrantStore) ListByStudent(ctx context.Context, rootID, studentID uuid.UUID) ([]access.Grant, error) {
	rows, err := s.q.ListGrantsByStudent(ctx, ListGrantsByStudentParams{
		RootID:    pgUUID(rootID),
		StudentID: pgUUID(studentID),
	})
	if err != nil {
		return nil, err
	}
	grants := make([]access.Grant, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, grantFromRow(row))
	}
	return grants, nil
}

type LessonDirectory struct {
	q *Queries
}

func NewLessonDirectory(store *Store) *LessonDirectory {
	return &LessonDirectory{q: store.Queries}
}

func (d *LessonDirectory) Get(ctx context.Context, rootID, lessonID uuid.UUID) (access.Lesson, error) {
	lesson, err := d.q.GetLesson(ctx, GetLessonParams{ID: pgUUID(lessonID), RootID: pgUUID(rootID)})
	if err != nil {
		return access.Lesson{}, mapNotFound(err)
	}
	result := access.Lesson{
		ID:       uuidValue(lesson.ID),
		RootID:   uuidValue(lesson.RootID),
		Title:    lesson.Title,
		IsActive: lesson.IsActive,
	}
	if lesson.ExpiryWindowDays.Valid {
		days := lesson.ExpiryWindowDays.Int32
		result.ExpiryWindowDays = &days
	}
	return result, nil
}

type RedemptionStore struct {
	store *Store
}

func NewRedemptionStore(store *Store) *RedemptionStore {
	return &RedemptionStore{store: store}
}

func (s *RedemptionStore) InTx(ctx context.Context, fn func(access.RedemptionTx) error) error {
	return s.store.WithTx(ctx, func(q *Queries) error {
		return fn(&redemptionTx{q: q})
	})
}

type redemptionTx struct {
	q *Queries
}

func (t *redemptionTx) GetPinForUpdate(ctx context.Context, rootID uuid.UUID, watermark string) (access.Pin, error) {
	pin, err := t.q.GetPinForRedemption(ctx, GetPinForRedemptionParams{RootID: pgUUID(rootID), Watermark: watermark})
	if err != nil {
		return access.Pin{}, mapNotFound(err)
	}
	return pinFromRow(pin), nil
}

func (t *redemptionTx) GetGrant(ctx context.Context, rootID, studentID, lessonID uuid.UUID) (access.Grant, error) {
	grant, err := t.q.GetGrant(ctx, GetGrantParams{
		RootID:    pgUUID(rootID),
		StudentID: pgUUID(studentID),
		LessonID:  pgUUID(lessonID),
	})
	if err != nil {
		return access.Grant{}, mapNotFound(err)
	}
	return grantFromRow(grant), nil
}

func (t *redemptionTx) CreateGrant(ctx context.Context, grant access.Grant) error {
	return t.q.CreateGrant(ctx, CreateGrantParams{
		ID:        pgUUID(grant.ID),
		StudentID: pgUUID(grant.StudentID),
		LessonID:  pgUUID(grant.LessonID),
		PinCode:   pgUUID(grant.PinCode),
		RootID:    pgUUID(grant.RootID),
		ViewCount: grant.ViewCount,
		GrantedAt: pgTime(grant.GrantedAt),
	})
}

func (t *redemptionTx) BumpGrantView(ctx context.Context, grantID uuid.UUID, grantedAt time.Time) error {
	return t.q.BumpGrantView(ctx, BumpGrantViewParams{ID: pgUUID(grantID), GrantedAt: pgTime(grantedAt)})
}

func (t *redemptionTx) SetPinOwner(ctx context.Context, code, studentID uuid.UUID) error {
	return t.q.SetPinOwner(ctx, SetPinOwnerParams{Code: pgUUID(code), OwnerStudent: pgUUID(studentID)})
}

func (t *redemptionTx) ConsumePin(ctx context.Context, code uuid.UUID) error {
	return t.q.ConsumePinStatus(ctx, pgUUID(code))
}

func (t *redemptionTx) TouchPin(ctx context.Context, code uuid.UUID) error {
	return t.q.TouchPin(ctx, pgUUID(code))
}

// ViewTracker backs the content gateway's best-effort tracking; an update
// that matches no grant is a successful no-op.
type ViewTracker struct {
	q *Queries
}

func NewViewTracker(store *Store) *ViewTracker {
	return &ViewTracker{q: store.Queries}
}

func (t *ViewTracker) IncrementView(ctx context.Context, rootID, studentID, lessonID uuid.UUID) error {
	return t.q.IncrementGrantViewCount(ctx, IncrementGrantViewCountParams{
		RootID:    pgUUID(rootID),
		StudentID: pgUUID(studentID),
		LessonID:  pgUUID(lessonID),
	})
}

// PinAdmin fronts the opaque batch generator and tenant-scoped listing.
type PinAdmin struct {
	q *Queries
}

func NewPinAdmin(store *Store) *PinAdmin {
	return &PinAdmin{q: store.Queries}
}

func (a *PinAdmin) Generate(ctx context.Context, rootID uuid.UUID, kind access.PinKind, uses, quantity int32) error {
	return a.q.GeneratePins(ctx, GeneratePinsParams{
		RootID:   pgUUID(rootID),
		Kind:     PinKind(kind),
		Uses:     uses,
		Quantity: quantity,
	})
}

func (a *PinAdmin) List(ctx context.Context, rootID uuid.UUID, limit int32) ([]access.Pin, error) {
	rows, err := a.q.ListPinsByRoot(ctx, ListPinsByRootParams{RootID: pgUUID(rootID), Limit: limit})
	if err != nil {
		return nil, err
	}
	pins := make([]access.Pin, 0, len(rows))
	for _, row := range rows {
		pins = append(pins, pinFromRow(row))
	}
	return pins, nil
}

// Row conversion

func pinFromRow(pin Pin) access.Pin {
	result := access.Pin{
		Code:          uuidValue(pin.Code),
		Watermark:     pin.Watermark,
		Kind:          access.PinKind(pin.Kind),
		RemainingUses: pin.RemainingUses,
		Status:        access.PinStatus(pin.Status),
		IsActive:      pin.IsActive,
		RootID:        uuidValue(pin.RootID),
	}
	if pin.OwnerStudent.Valid {
		owner := uuidValue(pin.OwnerStudent)
		result.OwnerStudent = &owner
	}
	return result
}

func grantFromRow(grant AttendanceGrant) access.Grant {
	return access.Grant{
		ID:        uuidValue(grant.ID),
		StudentID: uuidValue(grant.StudentID),
		LessonID:  uuidValue(grant.LessonID),
		PinCode:   uuidValue(grant.PinCode),
		RootID:    uuidValue(grant.RootID),
		ViewCount: grant.ViewCount,
		Expiry:    grant.Expiry.Time,
		GrantedAt: grant.GrantedAt.Time,
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return access.ErrNotFound
	}
	return err
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func uuidValue(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return uuid.UUID(id.Bytes)
}

func pgTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}
