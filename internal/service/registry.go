package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"filevault/internal/bus"
	"filevault/internal/domain"
	"filevault/internal/repository"
	"filevault/internal/storage"
)

// Registry хранит именованные хранилища, каталоги и контейнеры.
// Имена сравниваются без учета регистра.
type Registry struct {
	mu         sync.RWMutex
	stores     map[string]storage.ContentStore
	catalogues map[string]repository.Catalogue
	containers map[string]*Container
}

var _ bus.Resolver = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		stores:     make(map[string]storage.ContentStore),
		catalogues: make(map[string]repository.Catalogue),
		containers: make(map[string]*Container),
	}
}

func registryKey(kind, name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", fmt.Errorf("%w: %s name is required", domain.ErrInvalidArgument, kind)
	}
	return key, nil
}

func (r *Registry) AddStore(store storage.ContentStore) error {
	if store == nil {
		return fmt.Errorf("%w: store is nil", domain.ErrInvalidArgument)
	}
	key, err := registryKey("store", store.Name())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.stores[key]; ok {
		return fmt.Errorf("store %q: %w", store.Name(), domain.ErrAlreadyExists)
	}
	r.stores[key] = store
	return nil
}

func (r *Registry) AddCatalogue(catalogue repository.Catalogue) error {
	if catalogue == nil {
		return fmt.Errorf("%w: catalogue is nil", domain.ErrInvalidArgument)
	}
	key, err := registryKey("catalogue", catalogue.Name())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.catalogues[key]; ok {
		return fmt.Errorf("catalogue %q: %w", catalogue.Name(), domain.ErrAlreadyExists)
	}
	r.catalogues[key] = catalogue
	return nil
}

func (r *Registry) AddContainer(container *Container) error {
	if container == nil {
		return fmt.Errorf("%w: container is nil", domain.ErrInvalidArgument)
	}
	key, err := registryKey("container", container.Name())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.containers[key]; ok {
		return fmt.Errorf("container %q: %w", container.Name(), domain.ErrAlreadyExists)
	}
	r.containers[key] = container
	return nil
}

func (r *Registry) Store(name string) (storage.ContentStore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	store, ok := r.stores[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("store %q: %w", name, domain.ErrNotFound)
	}
	return store, nil
}

func (r *Registry) Catalogue(name string) (repository.Catalogue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	catalogue, ok := r.catalogues[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("catalogue %q: %w", name, domain.ErrNotFound)
	}
	return catalogue, nil
}

func (r *Registry) Container(name string) (*Container, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	container, ok := r.containers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("container %q: %w", name, domain.ErrNotFound)
	}
	return container, nil
}

func (r *Registry) ContainsStore(name string) bool {
	_, err := r.Store(name)
	return err == nil
}

func (r *Registry) ContainsCatalogue(name string) bool {
	_, err := r.Catalogue(name)
	return err == nil
}

func (r *Registry) ContainsContainer(name string) bool {
	_, err := r.Container(name)
	return err == nil
}

// ContainerNames возвращает имена контейнеров в алфавитном порядке
func (r *Registry) ContainerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.containers))
	for _, c := range r.containers {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	return names
}

func (r *Registry) ResolveStore(name string) (storage.ContentStore, error) {
	return r.Store(name)
}

func (r *Registry) ResolveContainer(name string) (bus.ContainerTarget, error) {
	container, err := r.Container(name)
	if err != nil {
		return nil, err
	}
	return container, nil
}
