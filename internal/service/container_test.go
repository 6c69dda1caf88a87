package service_test

import (
	"bytes"
	"context"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"filevault/internal/bus"
	"filevault/internal/domain"
	"filevault/internal/repository"
	"filevault/internal/service"
	"filevault/internal/storage"
	"filevault/internal/streamio"
)

var errInjected = errors.New("injected failure")

type fixture struct {
	pool      *storage.BlockPool
	store     *storage.MemoryStore
	catalogue *repository.MemoryCatalogue
}

func newFixture() fixture {
	pool := storage.NewBlockPool(128, 32)
	return fixture{
		pool:      pool,
		store:     storage.NewMemoryStore("mem", pool),
		catalogue: repository.NewMemoryCatalogue("main"),
	}
}

func newContainer(t *testing.T, catalogue repository.Catalogue, store storage.ContentStore, opts ...service.ContainerOption) *service.Container {
	t.Helper()
	c, err := service.NewContainer("main", catalogue, store, opts...)
	require.NoError(t, err)
	return c
}

func readAll(t *testing.T, c *service.Container, fileID uuid.UUID, versionID *uuid.UUID) []byte {
	t.Helper()
	rc, err := c.Read(context.Background(), fileID, versionID)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

// failingReader отдает часть данных, затем ошибку
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

// failingCatalogue подменяет завершение и отмену записи
type failingCatalogue struct {
	*repository.MemoryCatalogue
	completeErr error
	cancelErr   error
}

func (c *failingCatalogue) CompleteWriting(ctx context.Context, fileID, versionID uuid.UUID, length int64, hash []byte) error {
	if c.completeErr != nil {
		return c.completeErr
	}
	return c.MemoryCatalogue.CompleteWriting(ctx, fileID, versionID, length, hash)
}

func (c *failingCatalogue) CancelWriting(ctx context.Context, fileID, versionID uuid.UUID) error {
	if c.cancelErr != nil {
		return c.cancelErr
	}
	return c.MemoryCatalogue.CancelWriting(ctx, fileID, versionID)
}

func TestNewContainerValidation(t *testing.T) {
	f := newFixture()

	_, err := service.NewContainer("", f.catalogue, f.store)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = service.NewContainer("main", nil, f.store)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = service.NewContainer("main", f.catalogue, f.store, service.WithHashAlgorithm("md4"))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestContainerCreateRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := newContainer(t, f.catalogue, f.store)

	content := bytes.Repeat([]byte("filevault"), 100)
	fileID, err := c.Create(ctx, "notes.txt", bytes.NewReader(content))
	require.NoError(t, err)

	header, err := c.GetHeader(ctx, fileID)
	require.NoError(t, err)
	require.NotNil(t, header)
	version := header.ActiveVersion()
	require.NotNil(t, version)
	assert.Equal(t, domain.StatusOk, version.Status)
	assert.Equal(t, int64(len(content)), version.Length)

	digest := sha512.Sum512(content)
	assert.Equal(t, digest[:], version.Hash)

	assert.Equal(t, content, readAll(t, c, fileID, nil))
}

func TestContainerBlake3Digest(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := newContainer(t, f.catalogue, f.store, service.WithHashAlgorithm(streamio.HashBLAKE3))

	content := []byte("hello")
	fileID, err := c.Create(ctx, "a", bytes.NewReader(content))
	require.NoError(t, err)

	header, err := c.GetHeader(ctx, fileID)
	require.NoError(t, err)
	digest := blake3.Sum256(content)
	assert.Equal(t, digest[:], header.ActiveVersion().Hash)
}

func TestContainerCreateEmptyContent(t *testing.T) {
	f := newFixture()
	c := newContainer(t, f.catalogue, f.store)

	fileID, err := c.Create(context.Background(), "empty", bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, readAll(t, c, fileID, nil))
}

func TestContainerCreateCancelsOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := newContainer(t, f.catalogue, f.store)

	src := &failingReader{data: bytes.Repeat([]byte{1}, 1000), err: errInjected}
	_, err := c.Create(ctx, "broken", src)
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)

	headers, err := f.catalogue.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, headers)
	assert.Equal(t, int64(0), f.pool.Outstanding())
}

// occupiedStore: к моменту записи id уже занят чужим содержимым
type occupiedStore struct {
	*storage.MemoryStore
	taken uuid.UUID
}

func (s *occupiedStore) Create(ctx context.Context, id uuid.UUID, src io.Reader) error {
	if err := s.MemoryStore.Create(ctx, id, bytes.NewReader([]byte("foreign"))); err != nil {
		return err
	}
	s.taken = id
	return s.MemoryStore.Create(ctx, id, src)
}

func TestContainerCreateKeepsForeignContentOnCollision(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	store := &occupiedStore{MemoryStore: f.store}
	c := newContainer(t, f.catalogue, store)

	_, err := c.Create(ctx, "collision", bytes.NewReader([]byte("mine")))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	exists, err := f.store.Contains(ctx, store.taken)
	require.NoError(t, err)
	assert.True(t, exists)

	headers, err := f.catalogue.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, headers)
}

func TestContainerCreateCancelsOnCompleteFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	catalogue := &failingCatalogue{MemoryCatalogue: f.catalogue, completeErr: errInjected}
	c := newContainer(t, catalogue, f.store)

	_, err := c.Create(ctx, "a", bytes.NewReader([]byte("content")))
	assert.ErrorIs(t, err, errInjected)

	var merr *multierror.Error
	assert.False(t, errors.As(err, &merr), "successful compensation keeps the original error")

	headers, err := f.catalogue.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, headers)
	assert.Equal(t, int64(0), f.pool.Outstanding())
}

func TestContainerCompensationFailureKeepsOriginalError(t *testing.T) {
	errCancel := errors.New("cancel failed")
	f := newFixture()
	catalogue := &failingCatalogue{MemoryCatalogue: f.catalogue, completeErr: errInjected, cancelErr: errCancel}
	c := newContainer(t, catalogue, f.store)

	_, err := c.Create(context.Background(), "a", bytes.NewReader([]byte("content")))
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 2)
	assert.ErrorIs(t, merr.Errors[0], errInjected)
	assert.ErrorIs(t, err, errInjected)
	assert.ErrorIs(t, err, errCancel)
}

// cancellingReader отменяет контекст после первого чтения
type cancellingReader struct {
	cancel context.CancelFunc
	reads  int
}

func (r *cancellingReader) Read(p []byte) (int, error) {
	r.reads++
	if r.reads == 1 {
		r.cancel()
		return copy(p, "partial"), nil
	}
	return copy(p, "more"), nil
}

func TestContainerCreateCancelledMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture()
	c := newContainer(t, f.catalogue, f.store)

	_, err := c.Create(ctx, "a", &cancellingReader{cancel: cancel})
	assert.ErrorIs(t, err, domain.ErrCancelled)

	// откат выполняется, даже если контекст запроса отменен
	headers, err := f.catalogue.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, headers)
}

func TestContainerCreateCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newFixture()
	c := newContainer(t, f.catalogue, f.store)

	_, err := c.Create(ctx, "a", bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContainerVersionResolution(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := newContainer(t, f.catalogue, f.store)

	fileID, err := c.Create(ctx, "doc", bytes.NewReader([]byte("v1")))
	require.NoError(t, err)
	header, err := c.GetHeader(ctx, fileID)
	require.NoError(t, err)
	v1 := header.Versions[0].VersionID

	v2, err := c.CreateVersion(ctx, fileID, bytes.NewReader([]byte("v2")))
	require.NoError(t, err)
	assert.Equal(t, fileID, v2.FileID)

	assert.Equal(t, []byte("v2"), readAll(t, c, fileID, nil))
	assert.Equal(t, []byte("v1"), readAll(t, c, fileID, &v1))
	assert.Equal(t, []byte("v2"), readAll(t, c, fileID, &v2.VersionID))

	missing := uuid.New()
	_, err = c.Read(ctx, fileID, &missing)
	assert.ErrorIs(t, err, domain.ErrFileVersionNotFound)

	_, err = c.Read(ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, domain.ErrFileNotFound)

	writing, err := f.catalogue.StartWriting(ctx, fileID)
	require.NoError(t, err)
	_, err = c.Read(ctx, fileID, &writing.VersionID)
	assert.ErrorIs(t, err, domain.ErrFileVersionNotFound)

	// незавершенная версия не меняет активную
	assert.Equal(t, []byte("v2"), readAll(t, c, fileID, nil))
}

func TestContainerReadWithoutCommittedVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := newContainer(t, f.catalogue, f.store)

	id, err := f.catalogue.StartCreate(ctx, "pending")
	require.NoError(t, err)

	_, err = c.Read(ctx, id.FileID, nil)
	assert.ErrorIs(t, err, domain.ErrFileVersionNotFound)
}

func TestContainerCreateVersionUnknownFile(t *testing.T) {
	f := newFixture()
	c := newContainer(t, f.catalogue, f.store)

	_, err := c.CreateVersion(context.Background(), uuid.New(), bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}

func TestContainerDeleteVersionInline(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := newContainer(t, f.catalogue, f.store)

	fileID, err := c.Create(ctx, "doc", bytes.NewReader([]byte("v1")))
	require.NoError(t, err)
	v2, err := c.CreateVersion(ctx, fileID, bytes.NewReader([]byte("v2")))
	require.NoError(t, err)

	require.NoError(t, c.DeleteVersion(ctx, fileID, v2.VersionID))

	exists, err := f.store.Contains(ctx, v2.VersionID)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, []byte("v1"), readAll(t, c, fileID, nil))

	err = c.DeleteVersion(ctx, fileID, v2.VersionID)
	assert.ErrorIs(t, err, domain.ErrFileVersionNotFound)
}

func TestContainerCompensationThroughBus(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	registry := service.NewRegistry()
	require.NoError(t, registry.AddStore(f.store))

	b := bus.NewMemoryBus(bus.NewProcessor(registry), bus.RetryPolicy{
		Attempts: 2, Delay: time.Millisecond, Clock: clock.WallClock,
	})
	defer b.Close()

	events, unsub := b.Notifier().Subscribe(4)
	defer unsub()

	catalogue := &failingCatalogue{MemoryCatalogue: f.catalogue, completeErr: errInjected}
	c := newContainer(t, catalogue, f.store, service.WithMessageBus(b))

	_, err := c.Create(ctx, "a", bytes.NewReader([]byte("content")))
	assert.ErrorIs(t, err, errInjected)

	select {
	case event := <-events:
		assert.True(t, event.Acknowledged)
		_, ok := event.Message.(*bus.DeleteFromStoreMessage)
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("delete-from-store message was not processed")
	}

	assert.Equal(t, int64(0), f.pool.Outstanding())
}

func TestContainerDeleteVersionThroughBus(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := newContainer(t, f.catalogue, f.store)

	registry := service.NewRegistry()
	require.NoError(t, registry.AddStore(f.store))
	require.NoError(t, registry.AddContainer(c))

	b := bus.NewMemoryBus(bus.NewProcessor(registry), bus.DefaultRetryPolicy())
	defer b.Close()
	events, unsub := b.Notifier().Subscribe(1)
	defer unsub()

	withBus := newContainer(t, f.catalogue, f.store, service.WithMessageBus(b))

	fileID, err := withBus.Create(ctx, "doc", bytes.NewReader([]byte("v1")))
	require.NoError(t, err)
	header, err := withBus.GetHeader(ctx, fileID)
	require.NoError(t, err)

	require.NoError(t, withBus.DeleteVersion(ctx, fileID, header.Versions[0].VersionID))

	select {
	case event := <-events:
		require.True(t, event.Acknowledged)
	case <-time.After(5 * time.Second):
		t.Fatal("delete-file message was not processed")
	}

	header, err = withBus.GetHeader(ctx, fileID)
	require.NoError(t, err)
	assert.Nil(t, header)
}

func TestContainerConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := newContainer(t, f.catalogue, f.store)

	const n = 32
	ids := make([]uuid.UUID, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			content := bytes.Repeat([]byte{byte(i)}, 300+i)
			id, err := c.Create(gctx, fmt.Sprintf("f%d", i), bytes.NewReader(content))
			ids[i] = id
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i, id := range ids {
		assert.Equal(t, bytes.Repeat([]byte{byte(i)}, 300+i), readAll(t, c, id, nil))
	}

	headers, err := c.ListHeaders(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, headers, n)
}
