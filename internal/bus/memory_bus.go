package bus

import (
	"context"
	"fmt"
	"log"
	"sync"

	"filevault/internal/domain"
)

type delivery struct {
	queue string
	body  []byte
}

// MemoryBus - шина внутри процесса: FIFO-очередь и один обработчик
type MemoryBus struct {
	dispatcher
	notifier *Notifier

	mu      sync.Mutex
	pending []delivery
	dead    []DeadLetter
	closed  bool
	signal  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Bus = (*MemoryBus)(nil)

func NewMemoryBus(processor *Processor, policy RetryPolicy) *MemoryBus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &MemoryBus{
		dispatcher: dispatcher{processor: processor, policy: policy},
		notifier:   NewNotifier(),
		signal:     make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *MemoryBus) Notifier() *Notifier {
	return b.notifier
}

func (b *MemoryBus) Send(ctx context.Context, msg Message) error {
	if err := sendCheck(ctx, msg); err != nil {
		return err
	}
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	return b.Publish(ctx, msg.Queue(), body)
}

// Publish кладет готовое тело сообщения в указанную очередь
func (b *MemoryBus) Publish(ctx context.Context, queue string, body []byte) error {
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.pending = append(b.pending, delivery{queue: queue, body: append([]byte(nil), body...)})
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
	return nil
}

// DeadLetters возвращает сообщения, которые не удалось обработать
func (b *MemoryBus) DeadLetters() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DeadLetter(nil), b.dead...)
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	<-b.done

	// недоставленные сообщения остаются в DeadLetters, подписчики получают событие
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	if len(pending) > 0 {
		log.Printf("[MemoryBus] Closed with %d undelivered messages", len(pending))
	}
	for _, next := range pending {
		b.abandon(next, 0, ErrClosed)
	}

	b.notifier.Close()
	return nil
}

// abandon записывает доставку, которую шина уже не обработает
func (b *MemoryBus) abandon(next delivery, attempts int, cause error) {
	msg, _ := Decode(next.body)

	b.mu.Lock()
	b.dead = append(b.dead, DeadLetter{
		Queue:    next.queue,
		Body:     next.body,
		Attempts: attempts,
		Err:      cause,
	})
	b.mu.Unlock()

	b.notifier.Publish(Processed{Queue: next.queue, Message: msg, Err: cause})
}

func (b *MemoryBus) run() {
	defer close(b.done)

	for {
		next, ok := b.take()
		if !ok {
			select {
			case <-b.ctx.Done():
				return
			case <-b.signal:
				continue
			}
		}

		result := b.dispatch(b.ctx, next.queue, next.body)
		if result.interrupted(b.ctx) {
			b.abandon(next, result.attempts, fmt.Errorf("%w: %v", ErrClosed, result.event.Err))
			return
		}
		if !result.event.Acknowledged {
			b.mu.Lock()
			b.dead = append(b.dead, DeadLetter{
				Queue:    next.queue,
				Body:     next.body,
				Attempts: result.attempts,
				Err:      result.event.Err,
			})
			b.mu.Unlock()
		}
		b.notifier.Publish(result.event)
	}
}

func (b *MemoryBus) take() (delivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 || b.ctx.Err() != nil {
		return delivery{}, false
	}
	next := b.pending[0]
	b.pending[0] = delivery{}
	b.pending = b.pending[1:]
	return next, true
}
