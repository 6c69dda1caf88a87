package bus

import (
	"context"
	"errors"
	"fmt"
	"log"

	"filevault/internal/domain"
)

// Bus доставляет сообщения обработчику: не менее одного раза, по одному сообщению за раз
type Bus interface {
	Send(ctx context.Context, msg Message) error
	Notifier() *Notifier
	Close() error
}

// DeadLetter - сообщение, которое не удалось обработать
type DeadLetter struct {
	Queue    string
	Body     []byte
	Attempts int
	Err      error
}

// dispatcher - общая для всех транспортов логика обработки одной доставки
type dispatcher struct {
	processor *Processor
	policy    RetryPolicy
}

type outcome struct {
	event    Processed
	attempts int
	// rejected - сообщение отклонено без обработки (не та очередь или неизвестный формат)
	rejected bool
}

func (d dispatcher) dispatch(ctx context.Context, queue string, body []byte) outcome {
	msg, err := Decode(body)
	if err != nil {
		log.Printf("[Bus] Rejecting undecodable message on queue %s: %v", queue, err)
		return outcome{event: Processed{Queue: queue, Err: err}, rejected: true}
	}

	if msg.Queue() != queue {
		err := fmt.Errorf("%w: %s message on %s", ErrRoutingMismatch, msg.MessageName(), queue)
		log.Printf("[Bus] Rejecting message: %v", err)
		return outcome{event: Processed{Queue: queue, Message: msg, Err: err}, rejected: true}
	}

	attempts, err := d.policy.run(ctx, queue, func() error {
		return d.processor.Process(ctx, msg)
	})
	if err != nil {
		log.Printf("[Bus] Failed to process %s message on queue %s after %d attempts: %v",
			msg.MessageName(), queue, attempts, err)
		return outcome{event: Processed{Queue: queue, Message: msg, Err: err}, attempts: attempts}
	}

	return outcome{
		event:    Processed{Queue: queue, Message: msg, Acknowledged: true},
		attempts: attempts,
	}
}

// interrupted сообщает, что обработка прервана остановкой шины, и доставку нужно повторить позже
func (o outcome) interrupted(ctx context.Context) bool {
	return ctx.Err() != nil && errors.Is(o.event.Err, domain.ErrCancelled)
}

func sendCheck(ctx context.Context, msg Message) error {
	if msg == nil {
		return fmt.Errorf("%w: message is required", domain.ErrInvalidArgument)
	}
	return domain.CheckContext(ctx)
}
