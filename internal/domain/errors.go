package domain

import (
	"context"
	"errors"
	"fmt"
)

// Общие ошибки сервиса.
// Ошибки "не найдено" оборачивают ErrNotFound, чтобы их можно было проверить одной проверкой.
var (
	ErrNotFound            = errors.New("not found")
	ErrFileNotFound        = fmt.Errorf("file %w", ErrNotFound)
	ErrFileVersionNotFound = fmt.Errorf("file version %w", ErrNotFound)
	ErrContentNotFound     = fmt.Errorf("content %w", ErrNotFound)
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidOperation    = errors.New("invalid operation")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrCancelled           = errors.New("operation cancelled")
)

// cancelledError сохраняет исходную причину отмены контекста
type cancelledError struct {
	cause error
}

func (e *cancelledError) Error() string {
	return fmt.Sprintf("%s: %v", ErrCancelled, e.cause)
}

func (e *cancelledError) Unwrap() []error {
	return []error{ErrCancelled, e.cause}
}

// CheckContext возвращает ошибку отмены, если контекст уже завершен
func CheckContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &cancelledError{cause: err}
	}
	return nil
}

// AsCancelled переводит ошибки контекста в ErrCancelled, остальные ошибки возвращает как есть
func AsCancelled(err error) error {
	if err == nil || errors.Is(err, ErrCancelled) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &cancelledError{cause: err}
	}
	return err
}
