package orderbook

// DefaultPoolCapacity is the first chunk size when no hint is given.
const DefaultPoolCapacity = 4096

// maxChunk caps how much a single growth step allocates.
const maxChunk = 1 << 20

// OrderPool is an append-only arena of orders owned by one book.
//
// Storage is a list of fixed-size chunks. Growing appends a chunk and never
// moves an existing one, so every pointer handed out stays valid for the
// life of the pool. Slots are never freed individually.
type OrderPool struct {
	chunks [][]Order
	used   int // slots used in the last chunk
	count  int
	size   int
}

func NewOrderPool(capacity int) *OrderPool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	p := &OrderPool{}
	p.grow(capacity)
	return p
}

// Allocate returns a zeroed slot.
func (p *OrderPool) Allocate() *Order {
	last := p.chunks[len(p.chunks)-1]
	if p.used == len(last) {
		p.grow(min(p.size, maxChunk))
		last = p.chunks[len(p.chunks)-1]
	}
	o := &last[p.used]
	p.used++
	p.count++
	return o
}

func (p *OrderPool) Len() int { return p.count }
func (p *OrderPool) Cap() int { return p.size }

func (p *OrderPool) grow(n int) {
	p.chunks = append(p.chunks, make([]Order, n))
	p.used = 0
	p.size += n
}
