package storage

import (
	"sync"
	"sync/atomic"
)

const (
	DefaultBlockSize = 64 * 1024 // 64KB
	defaultMaxIdle   = 1024
)

// BlockPool раздает буферы фиксированного размера.
// Буфер принадлежит хранилищу с момента Get до явного Put.
type BlockPool struct {
	blockSize int
	maxIdle   int

	mu   sync.Mutex
	free [][]byte

	outstanding atomic.Int64
}

// NewBlockPool создает пул. maxIdle ограничивает количество свободных буферов,
// лишние буферы при возврате отдаются сборщику мусора.
func NewBlockPool(blockSize, maxIdle int) *BlockPool {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if maxIdle < 0 {
		maxIdle = defaultMaxIdle
	}
	return &BlockPool{
		blockSize: blockSize,
		maxIdle:   maxIdle,
	}
}

func (p *BlockPool) BlockSize() int {
	return p.blockSize
}

// Get выдает буфер длиной BlockSize
func (p *BlockPool) Get() []byte {
	p.outstanding.Add(1)

	p.mu.Lock()
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return b[:p.blockSize]
	}
	p.mu.Unlock()

	return make([]byte, p.blockSize)
}

// Put возвращает буфер в пул. Буферы чужой емкости игнорируются.
func (p *BlockPool) Put(b []byte) {
	if cap(b) != p.blockSize {
		return
	}
	p.outstanding.Add(-1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < p.maxIdle {
		p.free = append(p.free, b[:p.blockSize])
	}
}

// Outstanding - сколько буферов выдано и еще не возвращено
func (p *BlockPool) Outstanding() int64 {
	return p.outstanding.Load()
}

// Idle - сколько свободных буферов лежит в пуле
func (p *BlockPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
