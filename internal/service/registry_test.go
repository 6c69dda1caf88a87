package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filevault/internal/domain"
	"filevault/internal/repository"
	"filevault/internal/service"
	"filevault/internal/storage"
)

func TestRegistryStores(t *testing.T) {
	r := service.NewRegistry()
	store := storage.NewMemoryStore("Primary", storage.NewBlockPool(64, 4))

	require.NoError(t, r.AddStore(store))
	err := r.AddStore(storage.NewMemoryStore("PRIMARY", storage.NewBlockPool(64, 4)))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := r.Store("primary")
	require.NoError(t, err)
	assert.Same(t, store, got)
	assert.True(t, r.ContainsStore("pRiMaRy"))

	_, err = r.Store("other")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, r.ContainsStore("other"))

	resolved, err := r.ResolveStore("PRIMARY")
	require.NoError(t, err)
	assert.Same(t, store, resolved)
}

func TestRegistryRejectsInvalid(t *testing.T) {
	r := service.NewRegistry()

	assert.ErrorIs(t, r.AddStore(nil), domain.ErrInvalidArgument)
	assert.ErrorIs(t, r.AddCatalogue(nil), domain.ErrInvalidArgument)
	assert.ErrorIs(t, r.AddContainer(nil), domain.ErrInvalidArgument)
	assert.ErrorIs(t, r.AddCatalogue(repository.NewMemoryCatalogue(" ")), domain.ErrInvalidArgument)
}

func TestRegistryCataloguesAndContainers(t *testing.T) {
	r := service.NewRegistry()
	catalogue := repository.NewMemoryCatalogue("Main")
	store := storage.NewMemoryStore("mem", storage.NewBlockPool(64, 4))

	require.NoError(t, r.AddCatalogue(catalogue))
	assert.ErrorIs(t, r.AddCatalogue(repository.NewMemoryCatalogue("main")), domain.ErrAlreadyExists)
	assert.True(t, r.ContainsCatalogue("MAIN"))

	gotCatalogue, err := r.Catalogue("main")
	require.NoError(t, err)
	assert.Same(t, catalogue, gotCatalogue)

	c, err := service.NewContainer("Docs", catalogue, store)
	require.NoError(t, err)
	require.NoError(t, r.AddContainer(c))
	assert.ErrorIs(t, r.AddContainer(c), domain.ErrAlreadyExists)

	got, err := r.Container("docs")
	require.NoError(t, err)
	assert.Same(t, c, got)
	assert.True(t, r.ContainsContainer("DOCS"))
	assert.False(t, r.ContainsContainer("media"))
	assert.Equal(t, []string{"Docs"}, r.ContainerNames())

	target, err := r.ResolveContainer("docs")
	require.NoError(t, err)
	assert.Same(t, store, target.Store())

	_, err = r.ResolveContainer("media")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = r.Catalogue("media")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
