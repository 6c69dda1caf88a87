package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"filevault/internal/domain"
)

// memoryObject - запись каталога хранилища. Собственная блокировка объекта защищает его байты,
// поэтому операции над разными id не блокируют друг друга.
type memoryObject struct {
	mu      sync.RWMutex
	content *blockContent
	deleted atomic.Bool
}

// MemoryStore хранит содержимое в памяти блоками из общего пула
type MemoryStore struct {
	name string
	pool *BlockPool

	mu      sync.RWMutex
	objects map[uuid.UUID]*memoryObject
}

var _ ContentStore = (*MemoryStore)(nil)

// NewMemoryStore создает хранилище. При nil-пуле создается пул с размером блока по умолчанию.
func NewMemoryStore(name string, pool *BlockPool) *MemoryStore {
	if pool == nil {
		pool = NewBlockPool(DefaultBlockSize, defaultMaxIdle)
	}
	return &MemoryStore{
		name:    name,
		pool:    pool,
		objects: make(map[uuid.UUID]*memoryObject),
	}
}

func (s *MemoryStore) Name() string {
	return s.name
}

// Pool возвращает пул блоков хранилища
func (s *MemoryStore) Pool() *BlockPool {
	return s.pool
}

func (s *MemoryStore) lookup(id uuid.UUID) *memoryObject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[id]
}

func (s *MemoryStore) Contains(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return false, err
	}
	obj := s.lookup(id)
	return obj != nil && !obj.deleted.Load(), nil
}

func (s *MemoryStore) Create(ctx context.Context, id uuid.UUID, src io.Reader) error {
	if src == nil {
		return fmt.Errorf("%w: source is required", domain.ErrInvalidArgument)
	}
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}

	// Резервируем id и сразу блокируем объект, чтобы читатели ждали окончания записи
	obj := &memoryObject{}
	obj.mu.Lock()
	defer obj.mu.Unlock()

	s.mu.Lock()
	if _, exists := s.objects[id]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: content %s", domain.ErrAlreadyExists, id)
	}
	s.objects[id] = obj
	s.mu.Unlock()

	writer := newBlockWriter(s.pool)
	if err := writer.readFrom(ctx, src); err != nil {
		writer.abort()
		obj.deleted.Store(true)
		s.remove(id, obj)
		return fmt.Errorf("failed to write content %s: %w", id, err)
	}

	obj.content = writer.finish()
	return nil
}

func (s *MemoryStore) Read(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return nil, err
	}

	obj := s.lookup(id)
	if obj == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrContentNotFound, id)
	}

	obj.mu.RLock()
	defer obj.mu.RUnlock()
	if obj.deleted.Load() || obj.content == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrContentNotFound, id)
	}
	return newBlockReader(obj.content), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}

	obj := s.lookup(id)
	if obj == nil {
		return fmt.Errorf("%w: %s", domain.ErrContentNotFound, id)
	}

	obj.mu.Lock()
	if obj.deleted.Load() {
		obj.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrContentNotFound, id)
	}
	obj.deleted.Store(true)
	if obj.content != nil {
		obj.content.release()
		obj.content = nil
	}
	obj.mu.Unlock()

	s.remove(id, obj)
	return nil
}

// remove удаляет запись каталога, только если она все еще указывает на тот же объект
func (s *MemoryStore) remove(id uuid.UUID, obj *memoryObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects[id] == obj {
		delete(s.objects, id)
	}
}

// Close удаляет все содержимое и возвращает блоки в пул
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	objects := s.objects
	s.objects = make(map[uuid.UUID]*memoryObject)
	s.mu.Unlock()

	for _, obj := range objects {
		obj.mu.Lock()
		if !obj.deleted.Swap(true) && obj.content != nil {
			obj.content.release()
			obj.content = nil
		}
		obj.mu.Unlock()
	}
	log.Printf("[MemoryStore] store %q closed, %d objects released", s.name, len(objects))
	return nil
}
