package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"filevault/internal/domain"
)

const partialSuffix = ".partial"

// DiskStore хранит каждую версию отдельным файлом в базовой директории.
// Запись идет во временный файл <id>.partial, который переименовывается после успешной записи.
type DiskStore struct {
	name    string
	fs      afero.Fs
	baseDir string
}

var _ ContentStore = (*DiskStore)(nil)

func NewDiskStore(name string, fs afero.Fs, baseDir string) (*DiskStore, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory %s: %w", baseDir, err)
	}
	return &DiskStore{name: name, fs: fs, baseDir: baseDir}, nil
}

func (s *DiskStore) Name() string {
	return s.name
}

func (s *DiskStore) path(id uuid.UUID) string {
	return filepath.Join(s.baseDir, id.String())
}

func (s *DiskStore) Contains(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return false, err
	}
	exists, err := afero.Exists(s.fs, s.path(id))
	if err != nil {
		return false, fmt.Errorf("failed to check content %s: %w", id, err)
	}
	return exists, nil
}

func (s *DiskStore) Create(ctx context.Context, id uuid.UUID, src io.Reader) error {
	if src == nil {
		return fmt.Errorf("%w: source is required", domain.ErrInvalidArgument)
	}
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}

	fullPath := s.path(id)
	partialPath := fullPath + partialSuffix

	exists, err := afero.Exists(s.fs, fullPath)
	if err != nil {
		return fmt.Errorf("failed to check content %s: %w", id, err)
	}
	if exists {
		return fmt.Errorf("%w: content %s", domain.ErrAlreadyExists, id)
	}

	// O_EXCL не дает двум одновременным записям одного id писать в один файл
	out, err := s.fs.OpenFile(partialPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: content %s", domain.ErrAlreadyExists, id)
		}
		return fmt.Errorf("failed to create content %s: %w", id, err)
	}

	// Пока .partial у нас, переименовать в fullPath больше некому: повторная проверка окончательна
	exists, err = afero.Exists(s.fs, fullPath)
	if err != nil || exists {
		out.Close()
		s.discard(partialPath)
		if err != nil {
			return fmt.Errorf("failed to check content %s: %w", id, err)
		}
		return fmt.Errorf("%w: content %s", domain.ErrAlreadyExists, id)
	}

	if _, err := io.Copy(out, &contextReader{ctx: ctx, reader: src}); err != nil {
		out.Close()
		s.discard(partialPath)
		return fmt.Errorf("failed to write content %s: %w", id, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		s.discard(partialPath)
		return fmt.Errorf("failed to sync content %s: %w", id, err)
	}
	if err := out.Close(); err != nil {
		s.discard(partialPath)
		return fmt.Errorf("failed to close content %s: %w", id, err)
	}

	if err := s.fs.Rename(partialPath, fullPath); err != nil {
		s.discard(partialPath)
		return fmt.Errorf("failed to commit content %s: %w", id, err)
	}
	return nil
}

func (s *DiskStore) discard(path string) {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[DiskStore] failed to remove partial file %s: %v", path, err)
	}
}

func (s *DiskStore) Read(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrContentNotFound, id)
		}
		return nil, fmt.Errorf("failed to open content %s: %w", id, err)
	}
	return f, nil
}

func (s *DiskStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}
	if err := s.fs.Remove(s.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrContentNotFound, id)
		}
		return fmt.Errorf("failed to delete content %s: %w", id, err)
	}
	return nil
}

// contextReader прерывает копирование при отмене контекста
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := domain.CheckContext(r.ctx); err != nil {
		return 0, err
	}
	return r.reader.Read(p)
}
