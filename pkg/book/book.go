// Package book holds the price-aggregated order book rebuilt from an MBO
// event log: two level sets ordered best price first and the order index
// used to resolve cancellations.
//
// A Book has a single owner. Nothing in this package locks.
package book

type Book struct {
	Bids   *LevelSet
	Asks   *LevelSet
	Orders *OrderIndex
}

func New() *Book {
	return &Book{
		Bids:   NewLevelSet(SideBuy),
		Asks:   NewLevelSet(SideSell),
		Orders: NewOrderIndex(),
	}
}

// Levels returns the set holding resting orders of side, or nil for SideNone.
func (b *Book) Levels(side Side) *LevelSet {
	switch side {
	case SideBuy:
		return b.Bids
	case SideSell:
		return b.Asks
	default:
		return nil
	}
}

// Apply mutates the book for one event and reports what happened.
func (b *Book) Apply(ev Event) Outcome {
	switch ev.Action {
	case ActionAdd:
		return b.add(ev)
	case ActionCancel:
		return b.cancel(ev)
	case ActionTrade:
		return b.trade(ev)
	case ActionFill:
		return OutcomeSuppressed
	case ActionClear, ActionOther:
		return OutcomePassThrough
	default:
		panic("book: action out of range")
	}
}

func (b *Book) add(ev Event) Outcome {
	if lv := b.Levels(ev.Side); lv != nil {
		lv.ApplyDelta(ev.Price, ev.Size, 1)
	}
	// neutral adds are still indexed so a later cancel is consumed quietly
	b.Orders.Record(ev.OrderID, ev.Price, ev.Side)
	return OutcomeApplied
}

// cancel resolves the side and price from the index; the event's own side is ignored.
func (b *Book) cancel(ev Event) Outcome {
	info, ok := b.Orders.Take(ev.OrderID)
	if !ok {
		return OutcomeUnknownOrder
	}
	if lv := b.Levels(info.Side); lv != nil {
		lv.ApplyDelta(info.Price, -ev.Size, -1)
	}
	return OutcomeApplied
}

// trade removes liquidity from the side opposite the aggressor. The feed does
// not say which resting order was hit, so exactly one order is taken off the
// level count per trade.
func (b *Book) trade(ev Event) Outcome {
	lv := b.Levels(ev.Side.Opposite())
	if lv == nil {
		return OutcomeNeutralTrade
	}
	if !lv.Has(ev.Price) {
		return OutcomeNoLevel
	}
	lv.ApplyDelta(ev.Price, -ev.Size, -1)
	return OutcomeApplied
}
