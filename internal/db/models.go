package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type PinKind string

const (
	PinKindSession PinKind = "session"
	PinKindExam    PinKind = "exam"
)

const (
	PinStatusIssued   int16 = 1
	PinStatusConsumed int16 = 2
	PinStatusInactive int16 = 3
)

type Pin struct {
	Code          pgtype.UUID
	Watermark     string
	Kind          PinKind
	RemainingUses int32
	Status        int16
	IsActive      bool
	OwnerStudent  pgtype.UUID
	RootID        pgtype.UUID
	CreatedAt     pgtype.Timestamptz
	UpdatedAt     pgtype.Timestamptz
}

type AttendanceGrant struct {
	ID        pgtype.UUID
	StudentID pgtype.UUID
	LessonID  pgtype.UUID
	PinCode   pgtype.UUID
	RootID    pgtype.UUID
	ViewCount int32
	Expiry    pgtype.Date
	GrantedAt pgtype.Timestamptz
	CreatedAt pgtype.Timestamptz
	UpdatedAt pgtype.Timestamptz
}

type Lesson struct {
	ID               pgtype.UUID
	RootID           pgtype.UUID
	Title            string
	ExpiryWindowDays pgtype.Int4
	IsActive         bool
}
