package book

// OrderInfo is where an order was last seen resting.
type OrderInfo struct {
	Price int64
	Side  Side
}

// OrderIndex maps order id -> resting location. It only serves cancellations;
// trades never consult or update it.
type OrderIndex struct {
	orders map[uint64]OrderInfo
}

func NewOrderIndex() *OrderIndex {
	return &OrderIndex{orders: make(map[uint64]OrderInfo)}
}

// Record inserts or overwrites the entry for id. The latest add wins.
func (x *OrderIndex) Record(id uint64, price int64, side Side) {
	x.orders[id] = OrderInfo{Price: price, Side: side}
}

// Take removes and returns the entry for id.
func (x *OrderIndex) Take(id uint64) (OrderInfo, bool) {
	info, ok := x.orders[id]
	if ok {
		delete(x.orders, id)
	}
	return info, ok
}

func (x *OrderIndex) Lookup(id uint64) (OrderInfo, bool) {
	info, ok := x.orders[id]
	return info, ok
}

func (x *OrderIndex) Len() int { return len(x.orders) }
