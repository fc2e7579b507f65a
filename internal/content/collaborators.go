package content

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BaseURLResolver builds playable URLs against the media host. The media
// backend resolves the file itself; the lesson id rides along so the edge
// can scope its own checks.
type BaseURLResolver struct {
	baseURL string
}

func NewBaseURLResolver(baseURL string) *BaseURLResolver {
	return &BaseURLResolver{baseURL: strings.TrimRight(baseURL, "/")}
}

func (r *BaseURLResolver) VideoURL(_ context.Context, rootID, lessonID, fileID uuid.UUID) (string, error) {
	return fmt.Sprintf("%s/videos/%s?lesson=%s&root=%s", r.baseURL, fileID, lessonID, rootID), nil
}

// LocalFileStore maps lesson files onto a directory tree. Raw storage is an
// external concern; this only produces descriptors.
type LocalFileStore struct {
	root string
}

func NewLocalFileStore(root string) *LocalFileStore {
	return &LocalFileStore{root: root}
}

func (s *LocalFileStore) Lookup(_ context.Context, rootID, lessonID, fileID uuid.UUID) (File, error) {
	return File{
		ID:   fileID,
		Name: fileID.String(),
		Path: filepath.Join(s.root, rootID.String(), lessonID.String(), fileID.String()),
	}, nil
}
