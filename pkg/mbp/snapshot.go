// Package mbp renders top-of-book snapshots (MBP-10) of a book.Book and
// fans them out to sinks.
package mbp

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/mbp10/pkg/book"
)

// Depth is the number of levels per side in a snapshot.
const Depth = 10

// Snapshot is the top Depth levels of both sides after one event.
type Snapshot struct {
	Seq     uint64       `json:"seq"`
	TsEvent string       `json:"ts_event"`
	Asks    []book.Level `json:"asks"`
	Bids    []book.Level `json:"bids"`
}

// Take copies the current top of b.
func Take(seq uint64, tsEvent string, b *book.Book) Snapshot {
	return Snapshot{
		Seq:     seq,
		TsEvent: tsEvent,
		Asks:    b.Asks.AppendTop(make([]book.Level, 0, Depth), Depth),
		Bids:    b.Bids.AppendTop(make([]book.Level, 0, Depth), Depth),
	}
}

// Record renders s as one output row.
func (s Snapshot) Record() []string {
	return Render(s.TsEvent, s.Bids, s.Asks)
}

// Header is the output header row.
func Header() []string {
	h := make([]string, 0, 1+Depth*6)
	h = append(h, "ts_event")
	for i := 0; i < Depth; i++ {
		for _, side := range []string{"ask", "bid"} {
			h = append(h,
				fmt.Sprintf("%s_px_%02d", side, i),
				fmt.Sprintf("%s_sz_%02d", side, i),
				fmt.Sprintf("%s_ct_%02d", side, i),
			)
		}
	}
	return h
}

// Render lays out the timestamp followed by, for each depth, the ask triple
// then the bid triple. Missing levels are three empty fields.
func Render(tsEvent string, bids, asks []book.Level) []string {
	rec := make([]string, 1, 1+Depth*6)
	rec[0] = tsEvent
	for i := 0; i < Depth; i++ {
		rec = appendLevel(rec, asks, i)
		rec = appendLevel(rec, bids, i)
	}
	return rec
}

func appendLevel(rec []string, levels []book.Level, i int) []string {
	if i >= len(levels) {
		return append(rec, "", "", "")
	}
	l := levels[i]
	return append(rec,
		FormatPrice(l.Price),
		strconv.FormatInt(l.Size, 10),
		strconv.FormatInt(int64(l.Count), 10),
	)
}

// FormatPrice undoes the book.PriceScale scaling with a fixed number of digits.
func FormatPrice(p int64) string {
	return decimal.New(p, -book.PriceScaleExp).StringFixed(book.PriceScaleExp)
}
