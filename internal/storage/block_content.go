package storage

import (
	"context"
	"io"
	"sync/atomic"

	"filevault/internal/domain"
)

// blockContent - неизменяемое после записи содержимое, разбитое на блоки.
// Все блоки, кроме последнего, имеют размер пула; последний может быть короче.
type blockContent struct {
	pool   *BlockPool
	blocks [][]byte
	length int64
	refs   atomic.Int32
}

func (c *blockContent) acquire() {
	c.refs.Add(1)
}

// release возвращает блоки в пул, когда отпущена последняя ссылка
func (c *blockContent) release() {
	if c.refs.Add(-1) != 0 {
		return
	}
	for i, b := range c.blocks {
		c.pool.Put(b)
		c.blocks[i] = nil
	}
	c.blocks = nil
}

// blockWriter накапливает данные блок за блоком
type blockWriter struct {
	pool    *BlockPool
	blocks  [][]byte
	current []byte
	offset  int
	length  int64
}

func newBlockWriter(pool *BlockPool) *blockWriter {
	return &blockWriter{pool: pool}
}

// readFrom читает источник прямо в блоки, проверяя контекст между чтениями
func (w *blockWriter) readFrom(ctx context.Context, src io.Reader) error {
	for {
		if err := domain.CheckContext(ctx); err != nil {
			return err
		}
		if w.current == nil || w.offset == len(w.current) {
			w.current = w.pool.Get()
			w.blocks = append(w.blocks, w.current)
			w.offset = 0
		}
		n, err := src.Read(w.current[w.offset:])
		w.offset += n
		w.length += int64(n)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// finish обрезает хвост последнего блока до точного размера и возвращает готовое содержимое.
// Арендованный под хвост буфер уходит обратно в пул, читатели не видят его лишней емкости.
func (w *blockWriter) finish() *blockContent {
	if n := len(w.blocks); n > 0 && w.offset < len(w.current) {
		rented := w.blocks[n-1]
		if w.offset == 0 {
			w.blocks = w.blocks[:n-1]
		} else {
			tail := make([]byte, w.offset)
			copy(tail, rented[:w.offset])
			w.blocks[n-1] = tail
		}
		w.pool.Put(rented)
	}

	c := &blockContent{
		pool:   w.pool,
		blocks: w.blocks,
		length: w.length,
	}
	c.refs.Store(1)

	w.blocks = nil
	w.current = nil
	return c
}

// abort возвращает все арендованные блоки
func (w *blockWriter) abort() {
	for _, b := range w.blocks {
		w.pool.Put(b)
	}
	w.blocks = nil
	w.current = nil
}
