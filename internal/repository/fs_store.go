package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/iconidentify/tubeconv/internal/domain"
)

// FilesystemStore implements ArtifactStore in a local directory.
// References are bare file names inside the base directory.
type FilesystemStore struct {
	basePath string
	tempPath string
}

// NewFilesystemStore creates a store rooted at basePath. Temporary copies
// are written to tempPath before being renamed into place.
func NewFilesystemStore(basePath, tempPath string) (*FilesystemStore, error) {
	for _, dir := range []string{basePath, tempPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return &FilesystemStore{basePath: basePath, tempPath: tempPath}, nil
}

// BasePath returns the storage directory.
func (s *FilesystemStore) BasePath() string {
	return s.basePath
}

// Save moves localPath into the store. The original name is kept unless a
// stored file already uses it, in which case a -n suffix is added.
func (s *FilesystemStore) Save(ctx context.Context, localPath string) (string, error) {
	name := filepath.Base(localPath)
	dest := filepath.Join(s.basePath, name)

	if filepath.Clean(localPath) == filepath.Clean(dest) {
		return name, nil
	}

	dest = uniquePath(dest)
	if err := os.Rename(localPath, dest); err == nil {
		return filepath.Base(dest), nil
	}

	// Cross-device: copy through the temp directory, then rename.
	if err := s.copyInto(localPath, dest); err != nil {
		return "", err
	}
	os.Remove(localPath)
	return filepath.Base(dest), nil
}

func (s *FilesystemStore) copyInto(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(s.tempPath, "artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = io.Copy(tmp, in)
	tmp.Close()
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write artifact: %w", err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("move artifact to final location: %w", err)
	}
	return nil
}

// Open returns the stored file and its size.
func (s *FilesystemStore) Open(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, domain.ErrArtifactNotFound
		}
		return nil, 0, fmt.Errorf("open artifact: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat artifact: %w", err)
	}
	return f, info.Size(), nil
}

// Delete removes the stored file. A missing file is not an error.
func (s *FilesystemStore) Delete(ctx context.Context, ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// resolve maps a reference to a path, rejecting anything outside basePath.
func (s *FilesystemStore) resolve(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", domain.ErrArtifactNotFound
	}
	return filepath.Join(s.basePath, ref), nil
}

// uniquePath appends -1, -2, ... before the extension until path is unused.
func uniquePath(path string) string {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, n, ext)
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}
