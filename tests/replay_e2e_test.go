package tests

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/cockroachdb/pebble/vfs"

	"github.com/uhyunpark/mbp10/pkg/book"
	"github.com/uhyunpark/mbp10/pkg/mbp"
	"github.com/uhyunpark/mbp10/pkg/replay"
	"github.com/uhyunpark/mbp10/pkg/storage"
)

const mboHeader = "ts_recv,ts_event,rtype,publisher_id,instrument_id,action,side,price,size,channel_id,order_id,flags,ts_in_delta,sequence,symbol\n"

type resting struct {
	price int64 // ticks of 0.01
	size  int64
	side  string
}

// genMBO writes a random but well-formed event log: adds, cancels of resting
// and unknown orders, trades at resting and empty prices, fills, and
// occasional modify rows.
func genMBO(seed int64, n int) string {
	rng := rand.New(rand.NewSource(seed))
	var sb strings.Builder
	sb.WriteString(mboHeader)
	sb.WriteString("r,t0,160,2,1108,R,N,,0,0,0,8,0,0,ARL\n")

	open := map[uint64]resting{}
	var ids []uint64
	nextID := uint64(1)
	for i := 1; i <= n; i++ {
		ts := fmt.Sprintf("t%d", i)
		var action, side string
		var price, size int64
		var id uint64
		switch r := rng.Intn(100); {
		case r < 45:
			action, side = "A", []string{"B", "A"}[rng.Intn(2)]
			if side == "B" {
				price = 900 + int64(rng.Intn(30))
			} else {
				price = 1000 + int64(rng.Intn(30))
			}
			size = 1 + int64(rng.Intn(50))
			id = nextID
			nextID++
			open[id] = resting{price, size, side}
			ids = append(ids, id)
		case r < 75 && len(ids) > 0:
			k := rng.Intn(len(ids))
			id = ids[k]
			ids = append(ids[:k], ids[k+1:]...)
			o := open[id]
			delete(open, id)
			action, side, price, size = "C", o.side, o.price, o.size
		case r < 80:
			action, side, price, size, id = "C", "B", 950, 1, 1_000_000+uint64(i)
		case r < 90:
			action, side = "T", []string{"B", "A", "N"}[rng.Intn(3)]
			price = 900 + int64(rng.Intn(130))
			size = 1 + int64(rng.Intn(5))
		case r < 97:
			action, side, price, size = "F", "B", 950, 3
		default:
			action, side, price, size = "M", "A", 1005, 1
		}
		fmt.Fprintf(&sb, "r,%s,160,2,1108,%s,%s,%d.%02d0000000,%d,0,%d,130,0,%d,ARL\n",
			ts, action, side, price/100, price%100, size, id, i)
	}
	return sb.String()
}

// model is a map-based book used as an oracle for the tree-based one.
type model struct {
	levels map[book.Side]map[int64]*book.Level
	orders map[uint64]book.OrderInfo
}

func newModel() *model {
	return &model{
		levels: map[book.Side]map[int64]*book.Level{book.SideBuy: {}, book.SideSell: {}},
		orders: map[uint64]book.OrderInfo{},
	}
}

func (m *model) delta(side book.Side, price, size int64, count int32) {
	lv := m.levels[side][price]
	if lv == nil {
		if size <= 0 {
			return
		}
		lv = &book.Level{Price: price}
		m.levels[side][price] = lv
	}
	lv.Size += size
	lv.Count += count
	if lv.Size <= 0 {
		delete(m.levels[side], price)
	}
}

func (m *model) apply(ev book.Event) bool {
	switch ev.Action {
	case book.ActionAdd:
		if ev.Side != book.SideNone {
			m.delta(ev.Side, ev.Price, ev.Size, 1)
		}
		m.orders[ev.OrderID] = book.OrderInfo{Price: ev.Price, Side: ev.Side}
	case book.ActionCancel:
		if o, ok := m.orders[ev.OrderID]; ok {
			delete(m.orders, ev.OrderID)
			if o.Side != book.SideNone {
				m.delta(o.Side, o.Price, -ev.Size, -1)
			}
		}
	case book.ActionTrade:
		if ev.Side != book.SideNone {
			hit := ev.Side.Opposite()
			if _, ok := m.levels[hit][ev.Price]; ok {
				m.delta(hit, ev.Price, -ev.Size, -1)
			}
		}
	case book.ActionFill:
		return false
	}
	return true
}

func (m *model) top(side book.Side) []book.Level {
	var out []book.Level
	for _, lv := range m.levels[side] {
		out = append(out, *lv)
	}
	sort.Slice(out, func(i, j int) bool {
		if side == book.SideBuy {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if len(out) > mbp.Depth {
		out = out[:mbp.Depth]
	}
	return out
}

type collect struct{ snaps []mbp.Snapshot }

func (c *collect) Write(s mbp.Snapshot) error { c.snaps = append(c.snaps, s); return nil }
func (c *collect) Close() error               { return nil }

func TestReplayMatchesModel(t *testing.T) {
	input := genMBO(42, 5000)

	got := &collect{}
	stats, err := replay.New(got, replay.Options{}).Run(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}

	// decode the same rows independently and drive the model
	r := csv.NewReader(strings.NewReader(input))
	r.FieldsPerRecord = -1
	recs, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	m := newModel()
	i := 0
	for _, rec := range recs[2:] {
		ev := decodeForModel(rec)
		if !m.apply(ev) {
			continue
		}
		if i >= len(got.snaps) {
			t.Fatalf("replay emitted %d snapshots, model wants more", len(got.snaps))
		}
		s := got.snaps[i]
		i++
		if s.TsEvent != rec[1] {
			t.Fatalf("snapshot %d ts = %s, want %s", i, s.TsEvent, rec[1])
		}
		if !levelsEqual(s.Bids, m.top(book.SideBuy)) || !levelsEqual(s.Asks, m.top(book.SideSell)) {
			t.Fatalf("snapshot %d at %s diverges:\n got bids %v asks %v\nwant bids %v asks %v",
				i, s.TsEvent, s.Bids, s.Asks, m.top(book.SideBuy), m.top(book.SideSell))
		}
	}
	if i != len(got.snaps) {
		t.Fatalf("replay emitted %d snapshots, model %d", len(got.snaps), i)
	}
	if stats.Emitted != uint64(i) || stats.Rows != uint64(len(recs)-2) {
		t.Fatalf("stats = %+v", stats)
	}
}

func decodeForModel(rec []string) book.Event {
	var whole, frac, size int64
	var id uint64
	fmt.Sscanf(rec[7], "%d.%2d", &whole, &frac)
	fmt.Sscanf(rec[8], "%d", &size)
	fmt.Sscanf(rec[10], "%d", &id)
	ev := book.Event{TsEvent: rec[1], Price: (whole*100 + frac) * 100, Size: size, OrderID: id}
	switch rec[5] {
	case "A":
		ev.Action = book.ActionAdd
	case "C":
		ev.Action = book.ActionCancel
	case "T":
		ev.Action = book.ActionTrade
	case "F":
		ev.Action = book.ActionFill
	}
	switch rec[6] {
	case "B":
		ev.Side = book.SideBuy
	case "A":
		ev.Side = book.SideSell
	}
	return ev
}

func levelsEqual(a, b []book.Level) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReplayArchiveMatchesCSV(t *testing.T) {
	input := genMBO(7, 2000)

	var buf bytes.Buffer
	out, err := mbp.NewCSVWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewPebbleStoreFS("archive", "run-e2e", vfs.NewMem())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	digest := mbp.NewDigestSink()

	stats, err := replay.New(mbp.MultiSink{out, store}, replay.Options{RunID: "run-e2e", Digest: digest}).
		Run(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}

	last, err := store.Last()
	if err != nil {
		t.Fatal(err)
	}
	if last != stats.Emitted {
		t.Fatalf("archive last seq %d, emitted %d", last, stats.Emitted)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != int(stats.Emitted)+1 {
		t.Fatalf("csv has %d rows, want %d", len(rows), stats.Emitted+1)
	}
	if strings.Join(rows[0], ",") != strings.Join(mbp.Header(), ",") {
		t.Fatalf("header = %v", rows[0])
	}

	check := mbp.NewDigestSink()
	n := 0
	err = store.Range(1, last+1, func(s mbp.Snapshot) bool {
		n++
		if strings.Join(s.Record(), ",") != strings.Join(rows[n], ",") {
			t.Errorf("seq %d: archive and csv differ", s.Seq)
			return false
		}
		return check.Write(s) == nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != int(last) {
		t.Fatalf("ranged %d snapshots, want %d", n, last)
	}
	if check.Sum() != stats.Digest {
		t.Fatal("digest of archived snapshots differs from the run digest")
	}
}

func TestReplayLevelsStayPositive(t *testing.T) {
	got := &collect{}
	if _, err := replay.New(got, replay.Options{}).Run(context.Background(), strings.NewReader(genMBO(99, 3000))); err != nil {
		t.Fatal(err)
	}
	for _, s := range got.snaps {
		for _, side := range [][]book.Level{s.Bids, s.Asks} {
			for _, lv := range side {
				if lv.Size <= 0 {
					t.Fatalf("seq %d: non-positive level %+v", s.Seq, lv)
				}
			}
		}
		for i := 1; i < len(s.Bids); i++ {
			if s.Bids[i].Price >= s.Bids[i-1].Price {
				t.Fatalf("seq %d: bids not descending", s.Seq)
			}
		}
		for i := 1; i < len(s.Asks); i++ {
			if s.Asks[i].Price <= s.Asks[i-1].Price {
				t.Fatalf("seq %d: asks not ascending", s.Seq)
			}
		}
	}
}
