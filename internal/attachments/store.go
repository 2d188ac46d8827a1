// Package attachments stores uploaded files on local disk under generated
// names. Messages only ever carry a reference to a stored file.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Tyrowin/corpchat/internal/chat"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// URLPrefix is the path under which stored files are served.
const URLPrefix = "/files/"

// ErrTooLarge is returned when an upload exceeds the configured size limit.
var ErrTooLarge = errors.New("file too large")

// Upload describes a stored file.
type Upload struct {
	FileID        string    `json:"file_id"`
	Filename      string    `json:"filename"`
	SavedFilename string    `json:"saved_filename"`
	ContentType   string    `json:"content_type"`
	Size          int64     `json:"size"`
	URL           string    `json:"file_url"`
	UploadedAt    time.Time `json:"uploaded_at"`
}

// Attachment returns the reference a message carries for this upload.
func (u Upload) Attachment() *chat.Attachment {
	return &chat.Attachment{URL: u.URL, Name: u.Filename, Size: u.Size}
}

// DiskStore writes uploads to a directory.
type DiskStore struct {
	dir     string
	maxSize int64
	log     *slog.Logger
}

// NewDiskStore creates dir if needed. A maxSize of zero or less disables the
// size check.
func NewDiskStore(dir string, maxSize int64, log *slog.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{dir: dir, maxSize: maxSize, log: log}, nil
}

// Save stores data under a fresh name that keeps the original extension.
func (s *DiskStore) Save(ctx context.Context, originalName string, data []byte) (Upload, error) {
	if err := ctx.Err(); err != nil {
		return Upload{}, err
	}

	name := filepath.Base(strings.TrimSpace(originalName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return Upload{}, fmt.Errorf("%w: filename is required", chat.ErrValidation)
	}
	if len(data) == 0 {
		return Upload{}, fmt.Errorf("%w: file is empty", chat.ErrValidation)
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return Upload{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), s.maxSize)
	}

	mime := mimetype.Detect(data)
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = mime.Extension()
	}

	fileID := uuid.NewString()
	saved := fileID + ext
	if err := os.WriteFile(filepath.Join(s.dir, saved), data, 0o640); err != nil {
		return Upload{}, fmt.Errorf("write upload: %w", err)
	}

	s.log.Info("file uploaded", "file_id", fileID, "filename", name, "content_type", mime.String(), "size", len(data))
	return Upload{
		FileID:        fileID,
		Filename:      name,
		SavedFilename: saved,
		ContentType:   mime.String(),
		Size:          int64(len(data)),
		URL:           URLPrefix + saved,
		UploadedAt:    time.Now().UTC(),
	}, nil
}

// Path resolves a saved filename to its location on disk. Names that would
// escape the upload directory are rejected.
func (s *DiskStore) Path(saved string) (string, error) {
	if saved == "" || strings.Contains(saved, "..") || filepath.Base(saved) != saved {
		return "", fmt.Errorf("%w: invalid filename", chat.ErrValidation)
	}
	path := filepath.Join(s.dir, saved)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: file %s", chat.ErrNotFound, saved)
		}
		return "", err
	}
	return path, nil
}
