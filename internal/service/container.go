package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"filevault/internal/bus"
	"filevault/internal/domain"
	"filevault/internal/repository"
	"filevault/internal/storage"
	"filevault/internal/streamio"
)

// Container связывает каталог и хранилище содержимого.
// Содержимое версии хранится под идентификатором версии.
type Container struct {
	name          string
	catalogue     repository.Catalogue
	store         storage.ContentStore
	bus           bus.Bus
	hashAlgorithm string
}

type ContainerOption func(*Container)

// WithMessageBus включает асинхронное удаление через шину сообщений
func WithMessageBus(b bus.Bus) ContainerOption {
	return func(c *Container) {
		c.bus = b
	}
}

// WithHashAlgorithm задает алгоритм хеша содержимого (sha512 или blake3)
func WithHashAlgorithm(algorithm string) ContainerOption {
	return func(c *Container) {
		c.hashAlgorithm = algorithm
	}
}

func NewContainer(name string, catalogue repository.Catalogue, store storage.ContentStore, opts ...ContainerOption) (*Container, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: container name is required", domain.ErrInvalidArgument)
	}
	if catalogue == nil || store == nil {
		return nil, fmt.Errorf("%w: container %s needs a catalogue and a store", domain.ErrInvalidArgument, name)
	}

	c := &Container{
		name:          name,
		catalogue:     catalogue,
		store:         store,
		hashAlgorithm: streamio.HashSHA512,
	}
	for _, opt := range opts {
		opt(c)
	}

	if _, err := streamio.NewHasher(c.hashAlgorithm); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) Name() string {
	return c.name
}

func (c *Container) Store() storage.ContentStore {
	return c.store
}

func (c *Container) Catalogue() repository.Catalogue {
	return c.catalogue
}

// Create создает файл с первой версией и возвращает идентификатор файла
func (c *Container) Create(ctx context.Context, name string, src io.Reader) (uuid.UUID, error) {
	id, err := c.catalogue.StartCreate(ctx, name)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to start file creation: %w", domain.AsCancelled(err))
	}

	if err := c.write(ctx, id, src); err != nil {
		return uuid.Nil, err
	}

	log.Printf("[Container] Created file %s (%s) in %s", id.FileID, name, c.name)
	return id.FileID, nil
}

// CreateVersion добавляет новую версию существующему файлу
func (c *Container) CreateVersion(ctx context.Context, fileID uuid.UUID, src io.Reader) (domain.FileVersionID, error) {
	id, err := c.catalogue.StartWriting(ctx, fileID)
	if err != nil {
		return domain.FileVersionID{}, fmt.Errorf("failed to start version creation: %w", domain.AsCancelled(err))
	}

	if err := c.write(ctx, id, src); err != nil {
		return domain.FileVersionID{}, err
	}

	log.Printf("[Container] Created version %s of file %s in %s", id.VersionID, id.FileID, c.name)
	return id, nil
}

// write записывает содержимое версии и фиксирует ее в каталоге.
// При любой ошибке версия откатывается.
func (c *Container) write(ctx context.Context, id domain.FileVersionID, src io.Reader) error {
	if src == nil {
		return c.compensate(ctx, id, fmt.Errorf("%w: content stream is required", domain.ErrInvalidArgument))
	}

	hasher, err := streamio.NewHasher(c.hashAlgorithm)
	if err != nil {
		return c.compensate(ctx, id, err)
	}
	in := streamio.Instrument(src, hasher)

	if err := c.store.Create(ctx, id.VersionID, in); err != nil {
		return c.compensate(ctx, id, fmt.Errorf("failed to write content: %w", domain.AsCancelled(err)))
	}

	if err := c.catalogue.CompleteWriting(ctx, id.FileID, id.VersionID, in.Length(), in.Sum()); err != nil {
		return c.compensate(ctx, id, fmt.Errorf("failed to complete writing: %w", domain.AsCancelled(err)))
	}
	return nil
}

// compensate убирает содержимое и отменяет версию в каталоге.
// Возвращается исходная ошибка; если откат не удался, его ошибки добавляются после исходной.
func (c *Container) compensate(ctx context.Context, id domain.FileVersionID, cause error) error {
	ctx = context.WithoutCancel(ctx)

	var failures []error
	// занятый id принадлежит чужому содержимому, удалять его нельзя
	if !errors.Is(cause, domain.ErrAlreadyExists) {
		if err := c.discardContent(ctx, id.VersionID); err != nil {
			log.Printf("[Container] Failed to discard content %s in %s: %v", id.VersionID, c.name, err)
			failures = append(failures, err)
		}
	}
	if err := c.catalogue.CancelWriting(ctx, id.FileID, id.VersionID); err != nil {
		log.Printf("[Container] Failed to cancel version %s of file %s: %v", id.VersionID, id.FileID, err)
		failures = append(failures, fmt.Errorf("failed to cancel writing: %w", err))
	}

	if len(failures) == 0 {
		return cause
	}
	return multierror.Append(&multierror.Error{Errors: []error{cause}}, failures...)
}

func (c *Container) discardContent(ctx context.Context, id uuid.UUID) error {
	if c.bus != nil {
		if err := c.bus.Send(ctx, bus.NewDeleteFromStoreMessage(c.store.Name(), id)); err != nil {
			return fmt.Errorf("failed to send delete-from-store message: %w", err)
		}
		return nil
	}

	exists, err := c.store.Contains(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to check content: %w", err)
	}
	if !exists {
		return nil
	}
	if err := c.store.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrContentNotFound) {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}

// Read открывает содержимое версии. Без versionID читается активная версия.
func (c *Container) Read(ctx context.Context, fileID uuid.UUID, versionID *uuid.UUID) (io.ReadCloser, error) {
	header, err := c.catalogue.Get(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file header: %w", domain.AsCancelled(err))
	}
	if header == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileID)
	}

	var version *domain.FileHeaderVersion
	if versionID == nil {
		version = header.ActiveVersion()
		if version == nil {
			return nil, fmt.Errorf("%w: file %s has no committed version", domain.ErrFileVersionNotFound, fileID)
		}
	} else {
		version, _ = header.FindVersion(*versionID)
		if version == nil || version.Status != domain.StatusOk {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrFileVersionNotFound, fileID, *versionID)
		}
	}

	// Отсутствие содержимого здесь - гонка с удалением, ошибка хранилища возвращается как есть
	return c.store.Read(ctx, version.VersionID)
}

func (c *Container) GetHeader(ctx context.Context, fileID uuid.UUID) (*domain.FileHeader, error) {
	return c.catalogue.Get(ctx, fileID)
}

func (c *Container) ListHeaders(ctx context.Context, page int) ([]domain.FileHeader, error) {
	return c.catalogue.List(ctx, page)
}

// DeleteVersion удаляет зафиксированную версию: через шину, если она настроена, иначе сразу
func (c *Container) DeleteVersion(ctx context.Context, fileID, versionID uuid.UUID) error {
	header, err := c.catalogue.Get(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to get file header: %w", domain.AsCancelled(err))
	}
	if header == nil {
		return fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileID)
	}
	version, _ := header.FindVersion(versionID)
	if version == nil {
		return fmt.Errorf("%w: %s/%s", domain.ErrFileVersionNotFound, fileID, versionID)
	}
	if version.Status == domain.StatusWriting {
		return fmt.Errorf("%w: version %s is still being written", domain.ErrInvalidOperation, versionID)
	}

	if c.bus != nil {
		if err := c.bus.Send(ctx, bus.NewDeleteFileVersionMessage(c.name, fileID, versionID)); err != nil {
			return fmt.Errorf("failed to send delete-file message: %w", err)
		}
		log.Printf("[Container] Scheduled deletion of version %s of file %s in %s", versionID, fileID, c.name)
		return nil
	}

	if err := c.discardContent(ctx, versionID); err != nil {
		return err
	}
	if err := c.catalogue.DeleteVersion(ctx, fileID, versionID); err != nil {
		return fmt.Errorf("failed to delete version record: %w", err)
	}
	log.Printf("[Container] Deleted version %s of file %s in %s", versionID, fileID, c.name)
	return nil
}
