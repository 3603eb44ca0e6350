// Package photo stores actor portraits on disk and resolves cover images.
package photo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	ProfileSize = "w185"

	actorsDir   = "actors"
	publicRoot  = "images"
	sniffLength = 512
)

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("image too large")
)

var allowedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

type ImageFetcher interface {
	DownloadImage(ctx context.Context, size, path string) ([]byte, string, error)
}

// Store writes photos below Dir/actors. Paths handed back to callers are
// relative to the site root, e.g. images/actors/actor_<uuid>.jpg.
type Store struct {
	Dir      string
	MaxBytes int64
	Fetcher  ImageFetcher
	Logger   *slog.Logger
}

func NewStore(dir string, maxBytes int64, fetcher ImageFetcher, logger *slog.Logger) *Store {
	return &Store{Dir: dir, MaxBytes: maxBytes, Fetcher: fetcher, Logger: logger}
}

func (s *Store) actorsPath() string {
	return filepath.Join(s.Dir, actorsDir)
}

func relPath(name string) string {
	return publicRoot + "/" + actorsDir + "/" + name
}

// localPath maps a stored photo path to a file in the actors directory.
// Only the base name is used, so stored values cannot escape the directory.
func (s *Store) localPath(stored string) (string, bool) {
	if stored == "" || strings.HasPrefix(stored, "http://") || strings.HasPrefix(stored, "https://") {
		return "", false
	}
	base := filepath.Base(filepath.FromSlash(stored))
	if base == "." || base == string(filepath.Separator) {
		return "", false
	}
	return filepath.Join(s.actorsPath(), base), true
}

// SaveUpload validates an uploaded portrait and stores it under a fresh
// name. The previous photo is removed once the new one is written.
func (s *Store) SaveUpload(fh *multipart.FileHeader, oldPath string) (string, error) {
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("error saving upload %q: %w", fh.Filename, ErrUnsupportedType)
	}
	if s.MaxBytes > 0 && fh.Size > s.MaxBytes {
		return "", fmt.Errorf("error saving upload %q: %w", fh.Filename, ErrTooLarge)
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("error opening upload: %w", err)
	}
	defer src.Close()

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("error reading upload: %w", err)
	}
	head = head[:n]
	if !strings.HasPrefix(http.DetectContentType(head), "image/") {
		return "", fmt.Errorf("error saving upload %q: %w", fh.Filename, ErrUnsupportedType)
	}

	name := "actor_" + uuid.NewString() + ext
	body := io.MultiReader(bytes.NewReader(head), src)
	if err = s.write(name, body); err != nil {
		return "", err
	}

	if oldPath != "" {
		if err = s.Remove(oldPath); err != nil {
			s.Logger.Warn("could not remove old photo", "path", oldPath, "error", err)
		}
	}
	return relPath(name), nil
}

// DownloadProfile fetches a TMDb profile image and stores it as <slug>.<ext>.
func (s *Store) DownloadProfile(ctx context.Context, tmdbPath, actorSlug string) (string, error) {
	if tmdbPath == "" {
		return "", nil
	}
	if s.Fetcher == nil {
		return "", fmt.Errorf("error downloading profile: no image fetcher configured")
	}

	data, contentType, err := s.Fetcher.DownloadImage(ctx, ProfileSize, tmdbPath)
	if err != nil {
		s.Logger.Warn("profile download failed", "slug", actorSlug, "path", tmdbPath, "error", err)
		return "", fmt.Errorf("error downloading profile: %w", err)
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("error downloading profile: %w", ErrUnsupportedType)
	}

	ext := strings.ToLower(filepath.Ext(tmdbPath))
	if !allowedExtensions[ext] {
		ext = ".jpg"
	}

	name := actorSlug + ext
	if err = s.write(name, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return relPath(name), nil
}

func (s *Store) write(name string, r io.Reader) error {
	if err := os.MkdirAll(s.actorsPath(), 0o755); err != nil {
		return fmt.Errorf("error creating photo directory: %w", err)
	}

	target := filepath.Join(s.actorsPath(), name)
	tmp, err := os.CreateTemp(s.actorsPath(), ".upload-*")
	if err != nil {
		return fmt.Errorf("error creating photo file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err = io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing photo: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("error closing photo: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("error setting photo permissions: %w", err)
	}
	if err = os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("error moving photo into place: %w", err)
	}
	return nil
}

// Remove deletes a stored photo. Missing files are not an error.
func (s *Store) Remove(stored string) error {
	path, ok := s.localPath(stored)
	if !ok {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error removing photo: %w", err)
	}
	return nil
}

// URL turns a stored photo path into something a browser can load.
// Bare file names are resolved against the actors directory.
func URL(stored string) string {
	switch {
	case stored == "":
		return ""
	case strings.HasPrefix(stored, "http://"), strings.HasPrefix(stored, "https://"), strings.HasPrefix(stored, "/"):
		return stored
	case !strings.Contains(stored, "/"):
		return "/" + relPath(stored)
	default:
		return "/" + stored
	}
}

const CoverPlaceholder = "/cover/placeholder.png"

// CoverImage returns the URL of the first cover file that exists for
// coverID, trying .jpg, .jpeg and .png, or the placeholder.
func CoverImage(coverDir, coverID, suffix string) string {
	if coverID == "" || strings.ContainsAny(coverID, `/\`) {
		return CoverPlaceholder
	}
	for _, ext := range []string{".jpg", ".jpeg", ".png"} {
		name := coverID + suffix + ext
		if _, err := os.Stat(filepath.Join(coverDir, name)); err == nil {
			return "/cover/" + name
		}
	}
	return CoverPlaceholder
}
