package storage_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filevault/internal/domain"
	"filevault/internal/storage"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func readAll(t *testing.T, store storage.ContentStore, id uuid.UUID) []byte {
	t.Helper()
	rc, err := store.Read(context.Background(), id)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

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

// runContentStoreContract проверяет общие для всех реализаций свойства хранилища
func runContentStoreContract(t *testing.T, newStore func(t *testing.T) storage.ContentStore) {
	ctx := context.Background()

	t.Run("create read round trip", func(t *testing.T) {
		store := newStore(t)
		id := uuid.New()
		data := randomBytes(t, 200_000)

		require.NoError(t, store.Create(ctx, id, bytes.NewReader(data)))

		ok, err := store.Contains(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, data, readAll(t, store, id))
	})

	t.Run("create twice fails with already exists", func(t *testing.T) {
		store := newStore(t)
		id := uuid.New()
		first := randomBytes(t, 1000)

		require.NoError(t, store.Create(ctx, id, bytes.NewReader(first)))
		err := store.Create(ctx, id, bytes.NewReader(randomBytes(t, 10)))
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)

		assert.Equal(t, first, readAll(t, store, id))
	})

	t.Run("missing content", func(t *testing.T) {
		store := newStore(t)
		id := uuid.New()

		ok, err := store.Contains(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.Read(ctx, id)
		assert.ErrorIs(t, err, domain.ErrContentNotFound)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		err = store.Delete(ctx, id)
		assert.ErrorIs(t, err, domain.ErrContentNotFound)
	})

	t.Run("delete removes content", func(t *testing.T) {
		store := newStore(t)
		id := uuid.New()
		require.NoError(t, store.Create(ctx, id, bytes.NewReader([]byte("payload"))))

		require.NoError(t, store.Delete(ctx, id))

		ok, err := store.Contains(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.ErrorIs(t, store.Delete(ctx, id), domain.ErrContentNotFound)
	})

	t.Run("failed write leaves nothing behind", func(t *testing.T) {
		store := newStore(t)
		id := uuid.New()
		boom := errors.New("source broke")

		err := store.Create(ctx, id, &failingReader{data: randomBytes(t, 5000), err: boom})
		assert.ErrorIs(t, err, boom)

		ok, err := store.Contains(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		// id снова свободен
		require.NoError(t, store.Create(ctx, id, bytes.NewReader([]byte("second try"))))
		assert.Equal(t, []byte("second try"), readAll(t, store, id))
	})

	t.Run("cancelled context", func(t *testing.T) {
		store := newStore(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := store.Create(cctx, uuid.New(), bytes.NewReader([]byte("x")))
		assert.ErrorIs(t, err, domain.ErrCancelled)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("concurrent distinct ids do not block each other", func(t *testing.T) {
		store := newStore(t)
		slowID := uuid.New()
		fastID := uuid.New()

		pr, pw := io.Pipe()
		slowDone := make(chan error, 1)
		go func() {
			slowDone <- store.Create(ctx, slowID, pr)
		}()

		_, err := pw.Write([]byte("first half "))
		require.NoError(t, err)

		fastDone := make(chan struct{})
		go func() {
			defer close(fastDone)
			assert.NoError(t, store.Create(ctx, fastID, bytes.NewReader([]byte("fast"))))
			rc, err := store.Read(ctx, fastID)
			if assert.NoError(t, err) {
				data, _ := io.ReadAll(rc)
				assert.Equal(t, []byte("fast"), data)
				rc.Close()
			}
		}()

		select {
		case <-fastDone:
		case <-time.After(5 * time.Second):
			t.Fatal("operation on a distinct id blocked behind an in-flight write")
		}

		_, err = pw.Write([]byte("second half"))
		require.NoError(t, err)
		require.NoError(t, pw.Close())
		require.NoError(t, <-slowDone)
		assert.Equal(t, []byte("first half second half"), readAll(t, store, slowID))
	})
}
