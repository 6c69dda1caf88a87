// Package streamio содержит проксирующие читатели, которые наблюдают за потоком байт
// (считают длину, вычисляют хеш), не буферизуя его.
package streamio

import (
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"

	"filevault/internal/domain"
)

// Поддерживаемые алгоритмы хеширования содержимого
const (
	HashSHA512 = "sha512"
	HashBLAKE3 = "blake3"
)

// NewHasher создает хеш по имени алгоритма. Пустое имя означает sha512.
func NewHasher(algorithm string) (hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case "", HashSHA512:
		return sha512.New(), nil
	case HashBLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported hash algorithm %q", domain.ErrInvalidArgument, algorithm)
	}
}

// CountingReader считает прочитанные через него байты
type CountingReader struct {
	reader io.Reader
	count  int64
}

func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{reader: r}
}

func (cr *CountingReader) Read(p []byte) (n int, err error) {
	n, err = cr.reader.Read(p)
	if n > 0 {
		cr.count += int64(n)
	}
	return
}

// Count возвращает количество байт, прочитанных на данный момент
func (cr *CountingReader) Count() int64 {
	return cr.count
}

// HashingReader пропускает каждый прочитанный байт через хеш
type HashingReader struct {
	reader io.Reader
	hasher hash.Hash
}

func NewHashingReader(r io.Reader, h hash.Hash) *HashingReader {
	return &HashingReader{reader: r, hasher: h}
}

func (hr *HashingReader) Read(p []byte) (n int, err error) {
	n, err = hr.reader.Read(p)
	if n > 0 {
		// hash.Hash.Write никогда не возвращает ошибку
		hr.hasher.Write(p[:n])
	}
	return
}

// Sum возвращает итоговый хеш всех прочитанных байт
func (hr *HashingReader) Sum() []byte {
	return hr.hasher.Sum(nil)
}

// Instrumented - связка счетчика и хеша в правильном порядке:
// хеширующий читатель снаружи, читает через счетчик, поэтому хеш видит каждый посчитанный байт.
type Instrumented struct {
	*HashingReader
	counter *CountingReader
}

// Instrument оборачивает источник счетчиком, а затем хешем
func Instrument(src io.Reader, h hash.Hash) *Instrumented {
	counter := NewCountingReader(src)
	return &Instrumented{
		HashingReader: NewHashingReader(counter, h),
		counter:       counter,
	}
}

// Length возвращает количество прочитанных байт
func (i *Instrumented) Length() int64 {
	return i.counter.Count()
}
