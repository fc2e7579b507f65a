package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const pinColumns = `code, watermark, kind, remaining_uses, status, is_active, owner_student, root_id, created_at, updated_at`

const getPinByWatermark = `
SELECT ` + pinColumns + `
FROM pins
WHERE root_id = $1 AND watermark = $2 AND is_active = true
`

type GetPinByWatermarkParams struct {
	RootID    pgtype.UUID
	Watermark string
}

func (q *Queries) GetPinByWatermark(ctx context.Context, arg GetPinByWatermarkParams) (Pin, error) {
	row := q.db.QueryRow(ctx, getPinByWatermark, arg.RootID, arg.Watermark)
	return scanPin(row)
}

const getPinForRedemption = getPinByWatermark + `
FOR UPDATE
`

type GetPinForRedemptionParams = GetPinByWatermarkParams

func (q *Queries) GetPinForRedemption(ctx context.Context, arg GetPinForRedemptionParams) (Pin, error) {
	row := q.db.QueryRow(ctx, getPinForRedemption, arg.RootID, arg.Watermark)
	return scanPin(row)
}

const getPinByCode = `
SELECT ` + pinColumns + `
FROM pins
WHERE code = $1
`

func (q *Queries) GetPinByCode(ctx context.Context, code pgtype.UUID) (Pin, error) {
	row := q.db.QueryRow(ctx, getPinByCode, code)
	return scanPin(row)
}

const listPinsByRoot = `
SELECT ` + pinColumns + `
FROM pins
WHERE root_id = $1
ORDER BY created_at DESC
LIMIT $2
`

type ListPinsByRootParams struct {
	RootID pgtype.UUID
	Limit  int32
}

func (q *Queries) ListPinsByRoot(ctx context.Context, arg ListPinsByRootParams) ([]Pin, error) {
	rows, err := q.db.Query(ctx, listPinsByRoot, arg.RootID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pins []Pin
	for rows.Next() {
		pin, err := scanPin(rows)
		if err != nil {
			return nil, err
		}
		pins = append(pins, pin)
	}
	return pins, rows.Err()
}

const setPinOwner = `
UPDATE pins
SET owner_student = $2, updated_at = now()
WHERE code = $1 AND owner_student IS NULL
`

type SetPinOwnerParams struct {
	Code         pgtype.UUID
	OwnerStudent pgtype.UUID
}

func (q *Queries) SetPinOwner(ctx context.Context, arg SetPinOwnerParams) error {
	_, err := q.db.Exec(ctx, setPinOwner, arg.Code, arg.OwnerStudent)
	return err
}

const consumePinStatus = `
UPDATE pins
SET status = 2, updated_at = now()
WHERE code = $1
`

func (q *Queries) ConsumePinStatus(ctx context.Context, code pgtype.UUID) error {
	_, err := q.db.Exec(ctx, consumePinStatus, code)
	return err
}

const touchPin = `
UPDATE pins
SET updated_at = now()
WHERE code = $1
`

func (q *Queries) TouchPin(ctx context.Context, code pgtype.UUID) error {
	_, err := q.db.Exec(ctx, touchPin, code)
	return err
}

const grantColumns = `id, student_id, lesson_id, pin_code, root_id, view_count, expiry, granted_at, created_at, updated_at`

const getGrant = `
SELECT ` + grantColumns + `
FROM attendance_grants
WHERE root_id = $1 AND student_id = $2 AND lesson_id = $3
`

type GetGrantParams struct {
	RootID    pgtype.UUID
	StudentID pgtype.UUID
	LessonID  pgtype.UUID
}

func (q *Queries) GetGrant(ctx context.Context, arg GetGrantParams) (AttendanceGrant, error) {
	row := q.db.QueryRow(ctx, getGrant, arg.RootID, arg.StudentID, arg.LessonID)
	return scanGrant(row)
}

const listGrantsByStudent = `
SELECT ` + grantColumns + `
FROM attendance_grants
WHERE root_id = $1 AND student_id = $2
ORDER BY granted_at DESC
`

type ListGrantsByStudentParams struct {
	RootID    pgtype.UUID
	StudentID pgtype.UUID
}

func (q *Queries) ListGrantsByStudent(ctx context.Context, arg ListGrantsByStudentParams) ([]AttendanceGrant, error) {
	rows, err := q.db.Query(ctx, listGrantsByStudent, arg.RootID, arg.StudentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []AttendanceGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// expiry is omitted: the before-insert trigger stamps it from the lesson's
// configured window and decrements the pin's remaining uses.
const createGrant = `
INSERT INTO attendance_grants (id, student_id, lesson_id, pin_code, root_id, view_count, granted_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
`

type CreateGrantParams struct {
	ID        pgtype.UUID
	StudentID pgtype.UUID
	LessonID  pgtype.UUID
	PinCode   pgtype.UUID
	RootID    pgtype.UUID
	ViewCount int32
	GrantedAt pgtype.Timestamptz
}

func (q *Queries) CreateGrant(ctx context.Context, arg CreateGrantParams) error {
	_, err := q.db.Exec(ctx, createGrant,
		arg.ID, arg.StudentID, arg.LessonID, arg.PinCode, arg.RootID, arg.ViewCount, arg.GrantedAt)
	return err
}

const bumpGrantView = `
UPDATE attendance_grants
SET view_count = view_count + 1, granted_at = $2, updated_at = now()
WHERE id = $1
`

type BumpGrantViewParams struct {
	ID        pgtype.UUID
	GrantedAt pgtype.Timestamptz
}

func (q *Queries) BumpGrantView(ctx context.Context, arg BumpGrantViewParams) error {
	_, err := q.db.Exec(ctx, bumpGrantView, arg.ID, arg.GrantedAt)
	return err
}

const incrementGrantViewCount = `
UPDATE attendance_grants
SET view_count = view_count + 1, updated_at = now()
WHERE root_id = $1 AND student_id = $2 AND lesson_id = $3
`

type IncrementGrantViewCountParams struct {
	RootID    pgtype.UUID
	StudentID pgtype.UUID
	LessonID  pgtype.UUID
}

func (q *Queries) IncrementGrantViewCount(ctx context.Context, arg IncrementGrantViewCountParams) error {
	_, err := q.db.Exec(ctx, incrementGrantViewCount, arg.RootID, arg.StudentID, arg.LessonID)
	return err
}

const getLesson = `
SELECT id, root_id, title, expiry_window_days, is_active
FROM lessons
WHERE id = $1 AND root_id = $2
`

type GetLessonParams struct {
	ID     pgtype.UUID
	RootID pgtype.UUID
}

func (q *Queries) GetLesson(ctx context.Context, arg GetLessonParams) (Lesson, error) {
	row := q.db.QueryRow(ctx, getLesson, arg.ID, arg.RootID)
	var lesson Lesson
	err := row.Scan(&lesson.ID, &lesson.RootID, &lesson.Title, &lesson.ExpiryWindowDays, &lesson.IsActive)
	return lesson, err
}

// generate_pins is the opaque batch allocator owned by the database; the
// service only invokes it.
const generatePins = `
SELECT generate_pins($1, $2, $3, $4)
`

type GeneratePinsParams struct {
	RootID   pgtype.UUID
	Kind     PinKind
	Uses     int32
	Quantity int32
}

func (q *Queries) GeneratePins(ctx context.Context, arg GeneratePinsParams) error {
	_, err := q.db.Exec(ctx, generatePins, arg.RootID, arg.Kind, arg.Uses, arg.Quantity)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPin(row scanner) (Pin, error) {
	var pin Pin
	err := row.Scan(
		&pin.Code, &pin.Watermark, &pin.Kind, &pin.RemainingUses, &pin.Status,
		&pin.IsActive, &pin.OwnerStudent, &pin.RootID, &pin.CreatedAt, &pin.UpdatedAt)
	return pin, err
}

func scanGrant(row scanner) (AttendanceGrant, error) {
	var grant AttendanceGrant
	err := row.Scan(
		&grant.ID, &grant.StudentID, &grant.LessonID, &grant.PinCode, &grant.RootID,
		&grant.ViewCount, &grant.Expiry, &grant.GrantedAt, &grant.CreatedAt, &grant.UpdatedAt)
	return grant, err
}
