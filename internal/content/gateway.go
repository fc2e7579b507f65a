// Package content wraps the content-serving collaborators behind the
// capability check. Nothing here re-validates the pin itself: a valid
// capability for the (pin, lesson) pair is the only credential accepted.
package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hossamadel7/centrny-sub000/internal/access"
	"github.com/hossamadel7/centrny-sub000/internal/token"
)

// ErrSessionInvalid means the capability check failed; callers redirect
// back to pin entry rather than hard-failing.
var ErrSessionInvalid = errors.New("session_invalid")

// MediaResolver turns a lesson file into a playable URL.
type MediaResolver interface {
	VideoURL(ctx context.Context, rootID, lessonID, fileID uuid.UUID) (string, error)
}

// File is the descriptor handed to the download handler; the bytes live in
// the external file store.
type File struct {
	ID   uuid.UUID
	Name string
	Path string
}

type FileStore interface {
	Lookup(ctx context.Context, rootID, lessonID, fileID uuid.UUID) (File, error)
}

// ViewTracker bumps the replay counter on the student's grant. A missing
// grant is a no-op, not an error.
type ViewTracker interface {
	IncrementView(ctx context.Context, rootID, studentID, lessonID uuid.UUID) error
}

type Gateway struct {
	verifier token.Verifier
	media    MediaResolver
	files    FileStore
	tracker  ViewTracker
	log      zerolog.Logger
}

func NewGateway(verifier token.Verifier, media MediaResolver, files FileStore, tracker ViewTracker, log zerolog.Logger) *Gateway {
	return &Gateway{verifier: verifier, media: media, files: files, tracker: tracker, log: log}
}

func (g *Gateway) VideoURL(ctx context.Context, session access.SessionContext, watermark string, lessonID, fileID uuid.UUID) (string, error) {
	if err := g.Authorize(ctx, session, watermark, lessonID); err != nil {
		return "", err
	}
	return g.media.VideoURL(ctx, session.RootID, lessonID, fileID)
}

func (g *Gateway) Download(ctx context.Context, session access.SessionContext, watermark string, lessonID, fileID uuid.UUID) (File, error) {
	if err := g.Authorize(ctx, session, watermark, lessonID); err != nil {
		return File{}, err
	}
	return g.files.Lookup(ctx, session.RootID, lessonID, fileID)
}

// TrackView records a viewing ping. Tracking failures are logged and
// swallowed; they must never block content delivery.
func (g *Gateway) TrackView(ctx context.Context, session access.SessionContext, watermark string, lessonID uuid.UUID) error {
	if err := g.Authorize(ctx, session, watermark, lessonID); err != nil {
		return err
	}
	if err := g.tracker.IncrementView(ctx, session.RootID, session.StudentID, lessonID); err != nil {
		g.log.Warn().
			Err(err).
			Str("student_id", session.StudentID.String()).
			Str("lesson_id", lessonID.String()).
			Msg("view tracking failed")
	}
	return nil
}

// Authorize checks that the session holds a capability for exactly this
// (pin, lesson) pair. The view page calls it directly before rendering.
func (g *Gateway) Authorize(ctx context.Context, session access.SessionContext, watermark string, lessonID uuid.UUID) error {
	ok, err := g.verifier.Verify(ctx, session.SessionID, watermark, lessonID)
	if err != nil {
		return fmt.Errorf("verify capability: %w", err)
	}
	if !ok {
		return ErrSessionInvalid
	}
	return nil
}
