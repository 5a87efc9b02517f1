package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileBackend keeps one JSON file per (user, kind) under a data directory:
// {dir}/{user}/{kind}.json. Writes go through a temp file and rename so a
// crash never leaves a truncated document behind.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the data directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(userID string, kind Kind) (string, error) {
	if err := ValidateUserID(userID); err != nil {
		return "", err
	}
	return filepath.Join(b.dir, userID, string(kind)+".json"), nil
}

func (b *FileBackend) Get(_ context.Context, userID string, kind Kind) ([]byte, error) {
	p, err := b.path(userID, kind)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", kind, err)
	}
	return data, nil
}

func (b *FileBackend) Put(_ context.Context, userID string, kind Kind, data []byte) error {
	p, err := b.path(userID, kind)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create user directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+string(kind)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", kind, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", kind, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", kind, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("replace %s: %w", kind, err)
	}
	return nil
}

func (b *FileBackend) Delete(_ context.Context, userID string, kind Kind) error {
	p, err := b.path(userID, kind)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	return nil
}

// Users lists user directories, sorted.
func (b *FileBackend) Users(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("list data directory: %w", err)
	}
	var users []string
	for _, e := range entries {
		if !e.IsDir() || ValidateUserID(e.Name()) != nil {
			continue
		}
		users = append(users, e.Name())
	}
	sort.Strings(users)
	return users, nil
}
