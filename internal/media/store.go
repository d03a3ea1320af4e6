// Package media keeps uploaded images on local disk under a date-partitioned
// tree: <category>/<year>/<month>/<day>/<owner>_<file id>.jpg.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	CategoryPhotos = "photos"
	CategoryTasks  = "tasks"
)

var ErrInvalidPath = errors.New("invalid media path")

type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string {
	return s.root
}

// RelPath builds the relative, slash separated storage path. Month and day
// are not zero padded.
func RelPath(category string, ownerID int64, fileID string, at time.Time) string {
	return path.Join(
		category,
		fmt.Sprint(at.Year()),
		fmt.Sprint(int(at.Month())),
		fmt.Sprint(at.Day()),
		fmt.Sprintf("%d_%s.jpg", ownerID, sanitize(fileID)),
	)
}

func sanitize(fileID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, fileID)
}

func (s *Store) Save(ctx context.Context, category string, ownerID int64, fileID string, at time.Time, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("refusing to store empty file")
	}

	rel := RelPath(category, ownerID, fileID, at)
	full, err := s.abs(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	tmp := full + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write media file: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("commit media file: %w", err)
	}
	return rel, nil
}

func (s *Store) Read(rel string) ([]byte, error) {
	full, err := s.abs(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (s *Store) Remove(rel string) error {
	full, err := s.abs(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) abs(rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if clean == "/" || strings.Contains(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}
