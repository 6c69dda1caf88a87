package bus

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/stretchr/testify/require"

	"filevault/internal/domain"
	"filevault/internal/repository"
	"filevault/internal/storage"
)

type testContainer struct {
	store     storage.ContentStore
	catalogue repository.Catalogue
}

func (c *testContainer) Store() storage.ContentStore       { return c.store }
func (c *testContainer) Catalogue() repository.Catalogue { return c.catalogue }

type testResolver struct {
	stores     map[string]storage.ContentStore
	containers map[string]*testContainer
}

func newTestResolver() (*testResolver, *testContainer) {
	store := storage.NewMemoryStore("mem", storage.NewBlockPool(256, 16))
	container := &testContainer{store: store, catalogue: repository.NewMemoryCatalogue("main")}
	return &testResolver{
		stores:     map[string]storage.ContentStore{"mem": store},
		containers: map[string]*testContainer{"main": container},
	}, container
}

func (r *testResolver) ResolveStore(name string) (storage.ContentStore, error) {
	store, ok := r.stores[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("store %q: %w", name, domain.ErrNotFound)
	}
	return store, nil
}

func (r *testResolver) ResolveContainer(name string) (ContainerTarget, error) {
	container, ok := r.containers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("container %q: %w", name, domain.ErrNotFound)
	}
	return container, nil
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Delay:    time.Millisecond,
		MaxDelay: 2 * time.Millisecond,
		Clock:    clock.WallClock,
	}
}

// putVersion создает зафиксированную версию с содержимым
func putVersion(t *testing.T, c *testContainer, content string) domain.FileVersionID {
	t.Helper()
	ctx := context.Background()

	id, err := c.catalogue.StartCreate(ctx, "file")
	require.NoError(t, err)
	require.NoError(t, c.store.Create(ctx, id.VersionID, bytes.NewReader([]byte(content))))
	require.NoError(t, c.catalogue.CompleteWriting(ctx, id.FileID, id.VersionID, int64(len(content)), []byte{1}))
	return id
}

func waitEvent(t *testing.T, events <-chan Processed) Processed {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for processed event")
		return Processed{}
	}
}
