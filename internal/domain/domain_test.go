package domain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionStatusJSON(t *testing.T) {
	for _, status := range []VersionStatus{StatusOk, StatusWriting, StatusSoftDelete, StatusHardDelete} {
		data, err := json.Marshal(status)
		require.NoError(t, err)

		var parsed VersionStatus
		require.NoError(t, json.Unmarshal(data, &parsed))
		assert.Equal(t, status, parsed)
	}

	var status VersionStatus
	assert.ErrorIs(t, json.Unmarshal([]byte(`"archived"`), &status), ErrInvalidArgument)
	assert.Equal(t, "unknown(3)", VersionStatus(3).String())
}

func TestFileHeaderCloneIsDeep(t *testing.T) {
	active := uuid.New()
	deleted := time.Now()
	h := &FileHeader{
		FileID:          uuid.New(),
		Name:            "a",
		DeletedAt:       &deleted,
		ActiveVersionID: &active,
		Versions: []FileHeaderVersion{{
			VersionID: active,
			Hash:      []byte{1, 2},
			Status:    StatusOk,
		}},
	}

	c := h.Clone()
	c.Versions[0].Hash[0] = 9
	c.Versions[0].Status = StatusWriting
	*c.ActiveVersionID = uuid.New()
	*c.DeletedAt = time.Time{}

	assert.Equal(t, byte(1), h.Versions[0].Hash[0])
	assert.Equal(t, StatusOk, h.Versions[0].Status)
	assert.Equal(t, active, *h.ActiveVersionID)
	assert.Equal(t, deleted, *h.DeletedAt)

	var nilHeader *FileHeader
	assert.Nil(t, nilHeader.Clone())
}

func TestFileHeaderVersionLookup(t *testing.T) {
	v1, v2, v3 := uuid.New(), uuid.New(), uuid.New()
	h := &FileHeader{
		ActiveVersionID: &v1,
		Versions: []FileHeaderVersion{
			{VersionID: v1, Status: StatusOk},
			{VersionID: v2, Status: StatusOk},
			{VersionID: v3, Status: StatusWriting},
		},
	}

	found, idx := h.FindVersion(v2)
	require.NotNil(t, found)
	assert.Equal(t, 1, idx)

	missing, idx := h.FindVersion(uuid.New())
	assert.Nil(t, missing)
	assert.Equal(t, -1, idx)

	assert.Equal(t, v1, h.ActiveVersion().VersionID)
	assert.Equal(t, v2, h.LatestOkVersion().VersionID)

	h.ActiveVersionID = nil
	assert.Nil(t, h.ActiveVersion())
}

func TestNotFoundHierarchy(t *testing.T) {
	for _, err := range []error{ErrFileNotFound, ErrFileVersionNotFound, ErrContentNotFound} {
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.False(t, errors.Is(ErrFileNotFound, ErrContentNotFound))
}

func TestCancellation(t *testing.T) {
	assert.NoError(t, CheckContext(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := CheckContext(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)

	wrapped := AsCancelled(context.DeadlineExceeded)
	assert.ErrorIs(t, wrapped, ErrCancelled)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)

	assert.Same(t, err, AsCancelled(err))
	other := errors.New("other")
	assert.Equal(t, other, AsCancelled(other))
	assert.NoError(t, AsCancelled(nil))
}
