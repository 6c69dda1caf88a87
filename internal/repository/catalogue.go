package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"filevault/internal/domain"
)

// PageSize - размер страницы при листинге каталога
const PageSize = 100

// Catalogue хранит заголовки файлов и их версии.
// Запись версии идет по протоколу StartCreate/StartWriting -> CompleteWriting или CancelWriting.
type Catalogue interface {
	Name() string
	// Get возвращает копию заголовка или nil, если файл неизвестен
	Get(ctx context.Context, fileID uuid.UUID) (*domain.FileHeader, error)
	List(ctx context.Context, page int) ([]domain.FileHeader, error)
	StartCreate(ctx context.Context, name string) (domain.FileVersionID, error)
	StartWriting(ctx context.Context, fileID uuid.UUID) (domain.FileVersionID, error)
	CompleteWriting(ctx context.Context, fileID, versionID uuid.UUID, length int64, hash []byte) error
	CancelWriting(ctx context.Context, fileID, versionID uuid.UUID) error
	// DeleteVersion удаляет запись версии. Неизвестный файл или версия - не ошибка.
	DeleteVersion(ctx context.Context, fileID, versionID uuid.UUID) error
}

func validateCompletion(length int64, hash []byte) error {
	if length < 0 {
		return fmt.Errorf("%w: negative length %d", domain.ErrInvalidArgument, length)
	}
	if len(hash) == 0 {
		return fmt.Errorf("%w: hash is required", domain.ErrInvalidArgument)
	}
	return nil
}
