package orderbook

// compactMin is the smallest dead prefix worth compacting.
const compactMin = 64

type levelEntry struct {
	order *Order
	live  bool
}

// PriceLevel is a FIFO of resting orders at one price.
//
// Removal tombstones the entry and the head index skips dead entries, so
// survivors keep their relative order and removal is O(1) on average. The
// dead prefix is compacted away once it makes up half of the backing slice.
type PriceLevel struct {
	price   Price
	entries []levelEntry
	head    int
	live    int
	index   map[OrderID]int
}

func NewPriceLevel(price Price) *PriceLevel {
	return &PriceLevel{
		price: price,
		index: make(map[OrderID]int),
	}
}

func (l *PriceLevel) Price() Price { return l.price }
func (l *PriceLevel) Size() int    { return l.live }
func (l *PriceLevel) Empty() bool  { return l.live == 0 }

// Add appends o at the tail.
func (l *PriceLevel) Add(o *Order) {
	l.index[o.ID] = len(l.entries)
	l.entries = append(l.entries, levelEntry{order: o, live: true})
	l.live++
}

// Remove drops the order with the given id. It returns false if the id does
// not rest at this level.
func (l *PriceLevel) Remove(id OrderID) bool {
	pos, ok := l.index[id]
	if !ok {
		return false
	}
	delete(l.index, id)
	l.entries[pos].live = false
	l.live--
	if pos == l.head {
		l.advance()
	}
	return true
}

// Front returns the earliest live order, or nil.
func (l *PriceLevel) Front() *Order {
	if l.live == 0 {
		return nil
	}
	return l.entries[l.head].order
}

// PopFrontIfFilled removes the front order when it is fully filled.
func (l *PriceLevel) PopFrontIfFilled() bool {
	o := l.Front()
	if o == nil || o.Status != FullyFilled {
		return false
	}
	return l.Remove(o.ID)
}

// TotalQty sums the remaining quantity of the live orders. It walks the
// level and is meant for reporting.
func (l *PriceLevel) TotalQty() Quantity {
	var total Quantity
	for i := l.head; i < len(l.entries); i++ {
		if e := l.entries[i]; e.live {
			total += e.order.Remaining()
		}
	}
	return total
}

// Orders calls fn for each live order in time priority until fn returns
// false. Callers must not mutate the orders.
func (l *PriceLevel) Orders(fn func(*Order) bool) {
	for i := l.head; i < len(l.entries); i++ {
		e := l.entries[i]
		if !e.live {
			continue
		}
		if !fn(e.order) {
			return
		}
	}
}

func (l *PriceLevel) advance() {
	for l.head < len(l.entries) && !l.entries[l.head].live {
		l.head++
	}
	switch {
	case l.live == 0:
		clear(l.entries)
		l.entries = l.entries[:0]
		l.head = 0
	case l.head >= compactMin && l.head*2 >= len(l.entries):
		l.compact()
	}
}

func (l *PriceLevel) compact() {
	n := copy(l.entries, l.entries[l.head:])
	clear(l.entries[n:])
	l.entries = l.entries[:n]
	l.head = 0
	for i, e := range l.entries {
		if e.live {
			l.index[e.order.ID] = i
		}
	}
}
