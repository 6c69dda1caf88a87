package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"filevault/internal/domain"
)

const defaultShardCount = 32

// compactThreshold - сколько удаленных id копится в журнале порядка до его уплотнения
const compactThreshold = 256

type catalogueShard struct {
	mu      sync.Mutex
	headers map[uuid.UUID]*domain.FileHeader
}

// MemoryCatalogue хранит каталог в памяти.
// Заголовки распределены по сегментам по хешу fileID, у каждого сегмента своя блокировка,
// поэтому все изменения одного файла (в том числе пара Writing -> Ok/отмена) атомарны,
// а разные файлы не блокируют друг друга.
type MemoryCatalogue struct {
	name   string
	shards []*catalogueShard

	// Журнал порядка вставки для List. Удаленные id пропускаются при чтении.
	orderMu sync.RWMutex
	order   []uuid.UUID
	removed int

	now func() time.Time
}

var _ Catalogue = (*MemoryCatalogue)(nil)

func NewMemoryCatalogue(name string) *MemoryCatalogue {
	return NewMemoryCatalogueWithShards(name, defaultShardCount)
}

func NewMemoryCatalogueWithShards(name string, shardCount int) *MemoryCatalogue {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	c := &MemoryCatalogue{
		name:   name,
		shards: make([]*catalogueShard, shardCount),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for i := range c.shards {
		c.shards[i] = &catalogueShard{headers: make(map[uuid.UUID]*domain.FileHeader)}
	}
	return c
}

func (c *MemoryCatalogue) Name() string {
	return c.name
}

func (c *MemoryCatalogue) shard(fileID uuid.UUID) *catalogueShard {
	h := fnv.New32a()
	h.Write(fileID[:])
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

func (c *MemoryCatalogue) Get(ctx context.Context, fileID uuid.UUID) (*domain.FileHeader, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return nil, err
	}

	s := c.shard(fileID)
	s.mu.Lock()
	defer s.mu.Unlock()

	header, ok := s.headers[fileID]
	if !ok {
		return nil, nil
	}
	return header.Clone(), nil
}

// List отдает страницу заголовков в порядке создания.
// Страницы вычисляются по текущему состоянию и не согласованы между собой.
func (c *MemoryCatalogue) List(ctx context.Context, page int) ([]domain.FileHeader, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return nil, err
	}
	if page < 0 {
		return nil, fmt.Errorf("%w: negative page %d", domain.ErrInvalidArgument, page)
	}

	c.orderMu.RLock()
	defer c.orderMu.RUnlock()

	skip := page * PageSize
	result := make([]domain.FileHeader, 0)
	for _, id := range c.order {
		header := c.snapshot(id)
		if header == nil {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		result = append(result, *header)
		if len(result) == PageSize {
			break
		}
	}
	return result, nil
}

func (c *MemoryCatalogue) snapshot(fileID uuid.UUID) *domain.FileHeader {
	s := c.shard(fileID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[fileID].Clone()
}

func (c *MemoryCatalogue) StartCreate(ctx context.Context, name string) (domain.FileVersionID, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return domain.FileVersionID{}, err
	}
	if name == "" {
		return domain.FileVersionID{}, fmt.Errorf("%w: name is required", domain.ErrInvalidArgument)
	}

	now := c.now()
	header := &domain.FileHeader{
		FileID:    uuid.New(),
		Name:      name,
		CreatedAt: now,
		Versions: []domain.FileHeaderVersion{{
			VersionID: uuid.New(),
			CreatedAt: now,
			Status:    domain.StatusWriting,
		}},
	}

	// id попадает в порядок раньше, чем становится видим в сегменте:
	// иначе отмена успела бы вызвать forget для еще не учтенного id
	c.orderMu.Lock()
	c.order = append(c.order, header.FileID)
	s := c.shard(header.FileID)
	s.mu.Lock()
	s.headers[header.FileID] = header
	s.mu.Unlock()
	c.orderMu.Unlock()

	return domain.FileVersionID{FileID: header.FileID, VersionID: header.Versions[0].VersionID}, nil
}

func (c *MemoryCatalogue) StartWriting(ctx context.Context, fileID uuid.UUID) (domain.FileVersionID, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return domain.FileVersionID{}, err
	}

	s := c.shard(fileID)
	s.mu.Lock()
	defer s.mu.Unlock()

	header, ok := s.headers[fileID]
	if !ok {
		return domain.FileVersionID{}, fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileID)
	}

	version := domain.FileHeaderVersion{
		VersionID: uuid.New(),
		CreatedAt: c.now(),
		Status:    domain.StatusWriting,
	}
	header.Versions = append(header.Versions, version)

	return domain.FileVersionID{FileID: fileID, VersionID: version.VersionID}, nil
}

// writingVersion находит версию в статусе Writing; вызывается под блокировкой сегмента
func writingVersion(s *catalogueShard, fileID, versionID uuid.UUID) (*domain.FileHeader, int, error) {
	header, ok := s.headers[fileID]
	if !ok {
		return nil, -1, fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileID)
	}
	version, idx := header.FindVersion(versionID)
	if version == nil {
		return nil, -1, fmt.Errorf("%w: %s/%s", domain.ErrFileVersionNotFound, fileID, versionID)
	}
	if version.Status != domain.StatusWriting {
		return nil, -1, fmt.Errorf("%w: version %s is %s, not writing", domain.ErrInvalidOperation, versionID, version.Status)
	}
	return header, idx, nil
}

func (c *MemoryCatalogue) CompleteWriting(ctx context.Context, fileID, versionID uuid.UUID, length int64, hash []byte) error {
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}
	if err := validateCompletion(length, hash); err != nil {
		return err
	}

	s := c.shard(fileID)
	s.mu.Lock()
	defer s.mu.Unlock()

	header, idx, err := writingVersion(s, fileID, versionID)
	if err != nil {
		return err
	}

	version := &header.Versions[idx]
	version.Length = length
	version.Hash = append([]byte(nil), hash...)
	version.Status = domain.StatusOk

	active := versionID
	header.ActiveVersionID = &active
	return nil
}

func (c *MemoryCatalogue) CancelWriting(ctx context.Context, fileID, versionID uuid.UUID) error {
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}

	s := c.shard(fileID)
	s.mu.Lock()
	header, idx, err := writingVersion(s, fileID, versionID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	removedHeader := c.removeVersion(s, header, idx)
	s.mu.Unlock()

	if removedHeader {
		c.forget()
	}
	return nil
}

func (c *MemoryCatalogue) DeleteVersion(ctx context.Context, fileID, versionID uuid.UUID) error {
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}

	s := c.shard(fileID)
	s.mu.Lock()
	header, ok := s.headers[fileID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	_, idx := header.FindVersion(versionID)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}

	removedHeader := c.removeVersion(s, header, idx)
	s.mu.Unlock()

	if removedHeader {
		c.forget()
	}
	return nil
}

// removeVersion удаляет версию, а если она была последней - весь заголовок.
// Если удалена активная версия, активной становится самая новая версия в статусе Ok.
func (c *MemoryCatalogue) removeVersion(s *catalogueShard, header *domain.FileHeader, idx int) bool {
	if len(header.Versions) == 1 {
		delete(s.headers, header.FileID)
		return true
	}

	removedID := header.Versions[idx].VersionID
	versions := make([]domain.FileHeaderVersion, 0, len(header.Versions)-1)
	versions = append(versions, header.Versions[:idx]...)
	versions = append(versions, header.Versions[idx+1:]...)
	header.Versions = versions

	if header.ActiveVersionID != nil && *header.ActiveVersionID == removedID {
		header.ActiveVersionID = nil
		if latest := header.LatestOkVersion(); latest != nil {
			active := latest.VersionID
			header.ActiveVersionID = &active
		}
	}
	return false
}

// forget учитывает удаленный заголовок и при необходимости уплотняет журнал порядка
func (c *MemoryCatalogue) forget() {
	c.orderMu.Lock()
	defer c.orderMu.Unlock()

	c.removed++
	if c.removed < compactThreshold || c.removed < len(c.order)/2 {
		return
	}

	live := make([]uuid.UUID, 0, len(c.order)-c.removed)
	for _, id := range c.order {
		s := c.shard(id)
		s.mu.Lock()
		_, ok := s.headers[id]
		s.mu.Unlock()
		if ok {
			live = append(live, id)
		}
	}
	c.order = live
	c.removed = 0
}
