package bus

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"filevault/internal/domain"
)

// RetryPolicy ограничивает повторы обработчика перед отправкой в dead letter
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
	Clock    clock.Clock
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 5,
		Delay:    200 * time.Millisecond,
		MaxDelay: 5 * time.Second,
		Clock:    clock.WallClock,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.Delay <= 0 {
		p.Delay = def.Delay
	}
	if p.MaxDelay < p.Delay {
		p.MaxDelay = p.Delay
	}
	if p.Clock == nil {
		p.Clock = def.Clock
	}
	return p
}

// run вызывает fn, пока он не завершится успешно, не кончатся попытки или не отменится ctx.
// Возвращает последнюю ошибку fn и число сделанных попыток.
func (p RetryPolicy) run(ctx context.Context, queue string, fn func() error) (int, error) {
	p = p.withDefaults()

	attempts := 0
	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			lastErr = fn()
			return lastErr
		},
		IsFatalError: isFatal,
		NotifyFunc: func(err error, attempt int) {
			log.Printf("[Bus] Handler failed on queue %s (attempt %d/%d): %v", queue, attempt, p.Attempts, err)
		},
		Attempts:    p.Attempts,
		Delay:       p.Delay,
		MaxDelay:    p.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       p.Clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return attempts, nil
	}
	// остановка повторов по ctx.Done()
	if ctx.Err() != nil {
		return attempts, domain.AsCancelled(ctx.Err())
	}
	return attempts, lastErr
}

// Ошибки, которые не исправятся повтором
func isFatal(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidArgument) ||
		errors.Is(err, domain.ErrCancelled) ||
		errors.Is(err, ErrUnknownMessage)
}
