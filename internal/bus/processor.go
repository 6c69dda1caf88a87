package bus

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"filevault/internal/domain"
	"filevault/internal/repository"
	"filevault/internal/storage"
)

// ContainerTarget - то, что нужно обработчику от контейнера
type ContainerTarget interface {
	Store() storage.ContentStore
	Catalogue() repository.Catalogue
}

// Resolver находит хранилища и контейнеры по имени
type Resolver interface {
	ResolveStore(name string) (storage.ContentStore, error)
	ResolveContainer(name string) (ContainerTarget, error)
}

// Processor исполняет сообщения об удалении. Повторная обработка безопасна.
type Processor struct {
	resolver Resolver
}

func NewProcessor(resolver Resolver) *Processor {
	return &Processor{resolver: resolver}
}

func (p *Processor) Process(ctx context.Context, msg Message) error {
	switch m := msg.(type) {
	case *DeleteFromStoreMessage:
		return p.deleteFromStore(ctx, m)
	case *DeleteFileVersionMessage:
		return p.deleteFileVersion(ctx, m)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

func (p *Processor) deleteFromStore(ctx context.Context, m *DeleteFromStoreMessage) error {
	store, err := p.resolver.ResolveStore(m.StoreName)
	if err != nil {
		return fmt.Errorf("failed to resolve store %q: %w", m.StoreName, err)
	}
	return deleteContent(ctx, store, m.ID)
}

func (p *Processor) deleteFileVersion(ctx context.Context, m *DeleteFileVersionMessage) error {
	container, err := p.resolver.ResolveContainer(m.Container)
	if err != nil {
		return fmt.Errorf("failed to resolve container %q: %w", m.Container, err)
	}

	if err := deleteContent(ctx, container.Store(), m.VersionID); err != nil {
		return err
	}

	if err := container.Catalogue().DeleteVersion(ctx, m.FileID, m.VersionID); err != nil {
		return fmt.Errorf("failed to delete version record: %w", err)
	}

	log.Printf("[Processor] Deleted version %s of file %s in container %s", m.VersionID, m.FileID, m.Container)
	return nil
}

// deleteContent удаляет содержимое, отсутствие содержимого считается успехом
func deleteContent(ctx context.Context, store storage.ContentStore, id uuid.UUID) error {
	exists, err := store.Contains(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to check content %s in %s: %w", id, store.Name(), err)
	}
	if !exists {
		return nil
	}

	if err := store.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrContentNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete content %s from %s: %w", id, store.Name(), err)
	}
	return nil
}
