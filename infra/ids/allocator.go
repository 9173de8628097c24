package ids

import (
	"math"
	"sync/atomic"
)

const (
	// FirstOrderID is the first id ever handed out. Zero is left unused so
	// that a zero-valued Order reads as "not yet assigned".
	FirstOrderID uint64 = 1

	// InvalidOrderID marks an order that has not been accepted by a book.
	InvalidOrderID uint64 = math.MaxUint64

	// DefaultBlockSize amortises the shared counter across many books.
	DefaultBlockSize uint64 = 1_000_000
)

// Block is a half-open range [Start, End) of order ids owned by one book.
type Block struct {
	Start uint64
	End   uint64
}

// Len returns the number of ids in the block.
func (b Block) Len() uint64 { return b.End - b.Start }

// Allocator dispenses disjoint, monotonically increasing id blocks.
// It is shared by every order book in the process and is safe for
// concurrent use. Build it once before any worker starts.
type Allocator struct {
	_         [64]byte
	next      atomic.Uint64
	_         [56]byte
	blockSize uint64
}

// NewAllocator creates an allocator handing out blocks of blockSize ids.
// A zero blockSize selects DefaultBlockSize.
func NewAllocator(blockSize uint64) *Allocator {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	a := &Allocator{blockSize: blockSize}
	a.next.Store(FirstOrderID)
	return a
}

// NextBlock reserves the next block with a single fetch-and-add.
func (a *Allocator) NextBlock() Block {
	end := a.next.Add(a.blockSize)
	return Block{Start: end - a.blockSize, End: end}
}

// BlockSize returns the configured block size.
func (a *Allocator) BlockSize() uint64 { return a.blockSize }

// Reserved returns the first id not yet handed out in any block.
func (a *Allocator) Reserved() uint64 { return a.next.Load() }
