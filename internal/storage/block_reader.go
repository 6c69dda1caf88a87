package storage

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var errReaderClosed = errors.New("block reader is closed")

// BlockReader читает содержимое, разбитое на блоки.
// Позиция хранится как индекс блока + смещение внутри блока.
// Читатель держит ссылку на содержимое до Close, поэтому удаление из хранилища
// не затрагивает уже открытые потоки.
type BlockReader struct {
	mu          sync.Mutex
	content     *blockContent
	blockIndex  int
	blockOffset int
	position    int64
	closed      bool
}

func newBlockReader(c *blockContent) *BlockReader {
	c.acquire()
	return &BlockReader{content: c}
}

// Size возвращает полную длину содержимого
func (r *BlockReader) Size() int64 {
	return r.content.length
}

func (r *BlockReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, errReaderClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	blocks := r.content.blocks
	n := 0
	for n < len(p) && r.blockIndex < len(blocks) {
		copied := copy(p[n:], blocks[r.blockIndex][r.blockOffset:])
		n += copied
		r.blockOffset += copied
		r.position += int64(copied)
		if r.blockOffset == len(blocks[r.blockIndex]) {
			r.blockIndex++
			r.blockOffset = 0
		}
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// WriteTo отдает остаток содержимого без промежуточного буфера
func (r *BlockReader) WriteTo(w io.Writer) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, errReaderClosed
	}

	blocks := r.content.blocks
	var total int64
	for r.blockIndex < len(blocks) {
		n, err := w.Write(blocks[r.blockIndex][r.blockOffset:])
		total += int64(n)
		r.position += int64(n)
		r.blockOffset += n
		if r.blockOffset == len(blocks[r.blockIndex]) {
			r.blockIndex++
			r.blockOffset = 0
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Seek поддерживает io.SeekStart, io.SeekCurrent и io.SeekEnd.
// Переход за конец допустим: последующее чтение вернет io.EOF.
func (r *BlockReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, errReaderClosed
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.position + offset
	case io.SeekEnd:
		target = r.content.length + offset
	default:
		return r.position, fmt.Errorf("invalid whence: %d", whence)
	}
	if target < 0 {
		return r.position, fmt.Errorf("negative position: %d", target)
	}

	r.seekTo(target)
	return r.position, nil
}

// seekTo двигает позицию по блокам вперед или назад от текущей
func (r *BlockReader) seekTo(target int64) {
	blocks := r.content.blocks
	length := r.content.length

	if target >= length {
		r.blockIndex = len(blocks)
		r.blockOffset = 0
		r.position = target
		return
	}

	// Из позиции за концом сначала возвращаемся на конец
	if r.position > length {
		r.position = length
	}

	for r.position < target {
		remaining := target - r.position
		available := int64(len(blocks[r.blockIndex]) - r.blockOffset)
		if remaining < available {
			r.blockOffset += int(remaining)
			r.position = target
			break
		}
		r.position += available
		r.blockIndex++
		r.blockOffset = 0
	}

	for r.position > target {
		if r.blockOffset == 0 {
			r.blockIndex--
			r.blockOffset = len(blocks[r.blockIndex])
		}
		back := r.position - target
		if back <= int64(r.blockOffset) {
			r.blockOffset -= int(back)
			r.position = target
		} else {
			r.position -= int64(r.blockOffset)
			r.blockOffset = 0
		}
	}
}

// Close отпускает ссылку на содержимое. Повторный вызов безопасен.
func (r *BlockReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.content.release()
	return nil
}
