package content_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hossamadel7/centrny-sub000/internal/access"
	"github.com/hossamadel7/centrny-sub000/internal/content"
	"github.com/hossamadel7/centrny-sub000/internal/token"
)

type failingTracker struct {
	calls int
}

func (t *failingTracker) IncrementView(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error {
	t.calls++
	return errors.New("tracker down")
}

type countingTracker struct {
	calls int
}

func (t *countingTracker) IncrementView(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error {
	t.calls++
	return nil
}

func newGatewayFixture(t *testing.T, tracker content.ViewTracker) (*content.Gateway, access.SessionContext, string, uuid.UUID) {
	t.Helper()
	tokens := token.NewMemoryStore(time.Hour)
	session := access.SessionContext{SessionID: "sess-gw", StudentID: uuid.New(), RootID: uuid.New()}
	lessonID := uuid.New()
	require.NoError(t, tokens.Issue(context.Background(), session, "PINGW1", lessonID))

	gateway := content.NewGateway(
		tokens,
		content.NewBaseURLResolver("https://media.example.com/"),
		content.NewLocalFileStore("/srv/files"),
		tracker,
		zerolog.Nop(),
	)
	return gateway, session, "PINGW1", lessonID
}

func TestGatewayVideoURL(t *testing.T) {
	gateway, session, watermark, lessonID := newGatewayFixture(t, &countingTracker{})
	fileID := uuid.New()

	url, err := gateway.VideoURL(context.Background(), session, watermark, lessonID, fileID)
	require.NoError(t, err)
	assert.Contains(t, url, "https://media.example.com/videos/"+fileID.String())
	assert.Contains(t, url, "lesson="+lessonID.String())
}

func TestGatewayRejectsWrongLesson(t *testing.T) {
	gateway, session, watermark, _ := newGatewayFixture(t, &countingTracker{})

	_, err := gateway.VideoURL(context.Background(), session, watermark, uuid.New(), uuid.New())
	require.ErrorIs(t, err, content.ErrSessionInvalid)
}

func TestGatewayRejectsWrongPin(t *testing.T) {
	gateway, session, _, lessonID := newGatewayFixture(t, &countingTracker{})

	_, err := gateway.Download(context.Background(), session, "OTHER1", lessonID, uuid.New())
	require.ErrorIs(t, err, content.ErrSessionInvalid)
}

func TestGatewayRejectsUnknownSession(t *testing.T) {
	gateway, session, watermark, lessonID := newGatewayFixture(t, &countingTracker{})
	session.SessionID = "someone-else"

	err := gateway.Authorize(context.Background(), session, watermark, lessonID)
	require.ErrorIs(t, err, content.ErrSessionInvalid)
}

func TestGatewayDownloadDescriptor(t *testing.T) {
	gateway, session, watermark, lessonID := newGatewayFixture(t, &countingTracker{})
	fileID := uuid.New()

	file, err := gateway.Download(context.Background(), session, watermark, lessonID, fileID)
	require.NoError(t, err)
	assert.Equal(t, fileID, file.ID)
	assert.Contains(t, file.Path, session.RootID.String())
	assert.Contains(t, file.Path, lessonID.String())
}

func TestGatewayTrackViewSwallowsTrackerFailure(t *testing.T) {
	tracker := &failingTracker{}
	gateway, session, watermark, lessonID := newGatewayFixture(t, tracker)

	err := gateway.TrackView(context.Background(), session, watermark, lessonID)
	require.NoError(t, err)
	assert.Equal(t, 1, tracker.calls)
}

func TestGatewayTrackViewStillChecksCapability(t *testing.T) {
	tracker := &countingTracker{}
	gateway, session, watermark, _ := newGatewayFixture(t, tracker)

	err := gateway.TrackView(context.Background(), session, watermark, uuid.New())
	require.ErrorIs(t, err, content.ErrSessionInvalid)
	assert.Equal(t, 0, tracker.calls)
}
