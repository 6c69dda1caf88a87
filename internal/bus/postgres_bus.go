package bus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"filevault/internal/domain"
)

const (
	statusPending  = "pending"
	statusDead     = "dead"
	statusRejected = "rejected"

	defaultPollInterval = time.Second
)

// PostgresBus хранит сообщения в таблице bus_messages.
// Каждая очередь обслуживается одной горутиной, которая забирает по одной строке
// через FOR UPDATE SKIP LOCKED и держит блокировку до подтверждения.
type PostgresBus struct {
	dispatcher
	db           *sqlx.DB
	notifier     *Notifier
	queues       []string
	pollInterval time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ Bus = (*PostgresBus)(nil)

func NewPostgresBus(db *sqlx.DB, processor *Processor, policy RetryPolicy, pollInterval time.Duration) *PostgresBus {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &PostgresBus{
		dispatcher:   dispatcher{processor: processor, policy: policy},
		db:           db,
		notifier:     NewNotifier(),
		queues:       []string{FileDeleteQueue, StoreDeleteQueue},
		pollInterval: pollInterval,
	}
}

func (b *PostgresBus) Notifier() *Notifier {
	return b.notifier
}

func (b *PostgresBus) Send(ctx context.Context, msg Message) error {
	if err := sendCheck(ctx, msg); err != nil {
		return err
	}
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	return b.Publish(ctx, msg.Queue(), body)
}

// Publish сохраняет готовое тело сообщения в указанную очередь
func (b *PostgresBus) Publish(ctx context.Context, queue string, body []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	_, err := b.db.ExecContext(ctx, `
        INSERT INTO bus_messages (queue, body, content_type, status)
        VALUES ($1, $2::jsonb, 'application/json', $3)`,
		queue, string(body), statusPending)
	if err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", queue, domain.AsCancelled(err))
	}
	return nil
}

// Start запускает обработчики очередей
func (b *PostgresBus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started || b.closed {
		return
	}
	b.started = true

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	for _, queue := range b.queues {
		b.wg.Add(1)
		go b.consume(ctx, queue)
	}
	log.Printf("[PostgresBus] Started consumers for %d queues", len(b.queues))
}

func (b *PostgresBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	b.notifier.Close()
	return nil
}

func (b *PostgresBus) consume(ctx context.Context, queue string) {
	defer b.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		delivered, err := b.processNext(ctx, queue)
		if err != nil && ctx.Err() == nil {
			log.Printf("[PostgresBus] Failed to process queue %s: %v", queue, err)
		}
		if delivered {
			timer.Reset(0)
		} else {
			timer.Reset(b.pollInterval)
		}
	}
}

type claimedMessage struct {
	ID   int64  `db:"id"`
	Body []byte `db:"body"`
}

// processNext забирает и обрабатывает одно сообщение очереди.
// Возвращает false, если очередь пуста.
func (b *PostgresBus) processNext(ctx context.Context, queue string) (bool, error) {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var msg claimedMessage
	err = tx.GetContext(ctx, &msg, `
        SELECT id, body FROM bus_messages
        WHERE queue = $1 AND status = $2
        ORDER BY id
        LIMIT 1
        FOR UPDATE SKIP LOCKED`,
		queue, statusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim message: %w", err)
	}

	result := b.dispatch(ctx, queue, msg.Body)
	if result.interrupted(ctx) {
		// откат оставит сообщение в очереди
		return false, result.event.Err
	}

	switch {
	case result.event.Acknowledged:
		_, err = tx.ExecContext(ctx, `DELETE FROM bus_messages WHERE id = $1`, msg.ID)
	default:
		status := statusDead
		if result.rejected {
			status = statusRejected
		}
		_, err = tx.ExecContext(ctx, `
            UPDATE bus_messages
            SET status = $2, attempts = attempts + $3, last_error = $4, updated_at = CURRENT_TIMESTAMP
            WHERE id = $1`,
			msg.ID, status, result.attempts, result.event.Err.Error())
	}
	if err != nil {
		return true, fmt.Errorf("failed to settle message %d: %w", msg.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return true, fmt.Errorf("failed to commit transaction: %w", err)
	}

	b.notifier.Publish(result.event)
	return true, nil
}
