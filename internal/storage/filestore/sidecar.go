package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/DanikLP1/tus-storage-service/internal/storage"
)

// InfoStore persists upload records. Implementations must make Update appear
// atomic to concurrent Get calls. Get, Update and Delete return
// storage.ErrNotFound for unknown ids; Create returns storage.ErrAlreadyExists.
type InfoStore interface {
	Create(ctx context.Context, f storage.File) error
	Get(ctx context.Context, id string) (storage.File, error)
	Update(ctx context.Context, f storage.File) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]storage.File, error)
}

// SidecarStore keeps each record as a JSON file next to the upload's data file.
type SidecarStore struct {
	l layout
}

func NewSidecarStore(root string) *SidecarStore {
	return &SidecarStore{l: layout{root: root}}
}

var _ InfoStore = (*SidecarStore)(nil)

func (s *SidecarStore) Create(ctx context.Context, f storage.File) error {
	if _, err := os.Stat(s.l.infoPath(f.ID)); err == nil {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, f.ID)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return s.write(f)
}

func (s *SidecarStore) Get(ctx context.Context, id string) (storage.File, error) {
	return s.read(s.l.infoPath(id))
}

func (s *SidecarStore) Update(ctx context.Context, f storage.File) error {
	if _, err := os.Stat(s.l.infoPath(f.ID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, f.ID)
		}
		return err
	}
	return s.write(f)
}

func (s *SidecarStore) Delete(ctx context.Context, id string) error {
	err := os.Remove(s.l.infoPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return err
}

func (s *SidecarStore) List(ctx context.Context) ([]storage.File, error) {
	var out []storage.File
	err := filepath.WalkDir(s.l.uploadsDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || isTmp(d.Name()) || !strings.HasSuffix(d.Name(), infoExt) {
			return nil
		}
		f, err := s.read(path)
		if errors.Is(err, storage.ErrNotFound) {
			return nil // removed while walking
		}
		if err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *SidecarStore) read(path string) (storage.File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.File{}, fmt.Errorf("%w: %s", storage.ErrNotFound, strings.TrimSuffix(filepath.Base(path), infoExt))
		}
		return storage.File{}, err
	}
	var f storage.File
	if err := json.Unmarshal(b, &f); err != nil {
		return storage.File{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return f, nil
}

func (s *SidecarStore) write(f storage.File) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.l.infoPath(f.ID), b)
}
