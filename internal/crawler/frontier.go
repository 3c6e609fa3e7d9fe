package crawler

// FrontierOrder selects where expanded children land in the frontier.
type FrontierOrder string

// Supported frontier orders.
const (
	// OrderPrepend processes newly expanded children before older queued
	// links, giving a batched depth-first bias.
	OrderPrepend FrontierOrder = "prepend"
	// OrderFIFO is textbook breadth-first order.
	OrderFIFO FrontierOrder = "fifo"
)

// frontier is the queue of links awaiting dispatch. It is owned by the
// coordinating goroutine and is not safe for concurrent use.
type frontier struct {
	items []*Link
	order FrontierOrder
}

func newFrontier(order FrontierOrder, seed ...*Link) *frontier {
	if order == "" {
		order = OrderPrepend
	}
	return &frontier{
		items: append([]*Link(nil), seed...),
		order: order,
	}
}

func (f *frontier) Len() int {
	return len(f.items)
}

// Take removes and returns up to n links from the front.
func (f *frontier) Take(n int) []*Link {
	if n > len(f.items) {
		n = len(f.items)
	}
	batch := make([]*Link, n)
	copy(batch, f.items[:n])
	f.items = f.items[n:]
	return batch
}

// Add queues children according to the configured order.
func (f *frontier) Add(children []*Link) {
	if len(children) == 0 {
		return
	}
	if f.order == OrderFIFO {
		f.items = append(f.items, children...)
		return
	}
	merged := make([]*Link, 0, len(children)+len(f.items))
	merged = append(merged, children...)
	merged = append(merged, f.items...)
	f.items = merged
}
