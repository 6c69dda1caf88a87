// Package storage описывает хранилище содержимого файлов и его реализации.
package storage

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// ContentStore хранит байты по непрозрачному идентификатору (идентификатору версии)
type ContentStore interface {
	// Name используется шиной сообщений для адресации хранилища
	Name() string
	Contains(ctx context.Context, id uuid.UUID) (bool, error)
	// Create читает src до конца. Возвращает domain.ErrAlreadyExists, если id уже занят.
	Create(ctx context.Context, id uuid.UUID, src io.Reader) error
	// Read возвращает поток с начала содержимого или domain.ErrContentNotFound
	Read(ctx context.Context, id uuid.UUID) (io.ReadCloser, error)
	// Delete возвращает domain.ErrContentNotFound, если содержимого нет
	Delete(ctx context.Context, id uuid.UUID) error
}
