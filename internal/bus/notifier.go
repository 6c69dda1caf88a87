package bus

import (
	"log"
	"sync"
)

// Processed - результат обработки одного сообщения
type Processed struct {
	Queue        string
	Message      Message
	Acknowledged bool
	Err          error
}

// Notifier рассылает события обработки всем подписчикам.
// У каждого подписчика свой буфер: если он заполнен, событие для этого подписчика теряется,
// обработка сообщений при этом не блокируется.
type Notifier struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Processed
	closed bool
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Processed)}
}

// Subscribe возвращает канал событий и функцию отписки
func (n *Notifier) Subscribe(buffer int) (<-chan Processed, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Processed, buffer)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		close(ch)
		return ch, func() {}
	}

	id := n.next
	n.next++
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if sub, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(sub)
			}
		})
	}
}

func (n *Notifier) Publish(event Processed) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subs {
		select {
		case ch <- event:
		default:
			log.Printf("[Notifier] Subscriber %d is full, dropping event for queue %s", id, event.Queue)
		}
	}
}

// Close закрывает каналы всех подписчиков
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
