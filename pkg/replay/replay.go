// Package replay drives a book.Book through an MBO log, one row at a time,
// and hands a snapshot of the resulting top of book to a sink after each row.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/mbp10/pkg/book"
	"github.com/uhyunpark/mbp10/pkg/mbo"
	"github.com/uhyunpark/mbp10/pkg/mbp"
	"github.com/uhyunpark/mbp10/pkg/util"
)

var ErrMissingClear = errors.New("replay: first data row is not a clear")

// how often, in rows, the context is checked
const ctxCheckInterval = 4096

// Observer sees every applied event together with the resulting book, and
// every snapshot once all sinks have accepted it. It runs on the replay
// goroutine and must not retain b.
type Observer interface {
	Observe(ev book.Event, out book.Outcome, b *book.Book)
	Emitted(s mbp.Snapshot)
}

type Options struct {
	RunID string
	// ValidateClear rejects inputs whose first data row is not an 'R' row.
	// When false that row is skipped without looking at it.
	ValidateClear bool
	Logger        *zap.SugaredLogger
	Observer      Observer
	Digest        *mbp.DigestSink
	Clock         util.Clock
}

type Stats struct {
	RunID          string            `json:"run_id"`
	Rows           uint64            `json:"rows"`
	Emitted        uint64            `json:"emitted"`
	Suppressed     uint64            `json:"suppressed"`
	Actions        map[string]uint64 `json:"actions"`
	UnknownCancels uint64            `json:"unknown_cancels"`
	MissedTrades   uint64            `json:"missed_trades"`
	NeutralTrades  uint64            `json:"neutral_trades"`
	BidLevels      int               `json:"bid_levels"`
	AskLevels      int               `json:"ask_levels"`
	OpenOrders     int               `json:"open_orders"`
	Digest         string            `json:"digest,omitempty"`
	Elapsed        time.Duration     `json:"elapsed_ns"`
}

// Replayer owns the book for the whole run.
type Replayer struct {
	book  *book.Book
	sink  mbp.Sink
	opts  Options
	log   *zap.SugaredLogger
	seq   uint64
	stats Stats
}

func New(sink mbp.Sink, opts Options) *Replayer {
	lg := opts.Logger
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	if opts.Clock == nil {
		opts.Clock = util.SystemClock{}
	}
	if opts.Digest != nil {
		sink = mbp.MultiSink{sink, opts.Digest}
	}
	return &Replayer{
		book: book.New(),
		sink: sink,
		opts: opts,
		log:  lg,
		stats: Stats{
			RunID:   opts.RunID,
			Actions: make(map[string]uint64),
		},
	}
}

func (r *Replayer) Book() *book.Book { return r.book }

// Stats returns a copy of the counters gathered so far.
func (r *Replayer) Stats() Stats {
	s := r.stats
	s.Actions = make(map[string]uint64, len(r.stats.Actions))
	for k, v := range r.stats.Actions {
		s.Actions[k] = v
	}
	s.BidLevels = r.book.Bids.Len()
	s.AskLevels = r.book.Asks.Len()
	s.OpenOrders = r.book.Orders.Len()
	if r.opts.Digest != nil {
		s.Digest = r.opts.Digest.Sum()
	}
	return s
}

// Step applies one event and emits its snapshot unless the action is suppressed.
func (r *Replayer) Step(ev book.Event) error {
	out := r.book.Apply(ev)

	r.stats.Rows++
	r.stats.Actions[ev.Action.String()]++
	switch out {
	case book.OutcomeUnknownOrder:
		r.stats.UnknownCancels++
	case book.OutcomeNoLevel:
		r.stats.MissedTrades++
	case book.OutcomeNeutralTrade:
		r.stats.NeutralTrades++
	case book.OutcomeSuppressed:
		r.stats.Suppressed++
	}
	if r.opts.Observer != nil {
		r.opts.Observer.Observe(ev, out, r.book)
	}
	if !out.Emits() {
		return nil
	}

	r.seq++
	snap := mbp.Take(r.seq, ev.TsEvent, r.book)
	if err := r.sink.Write(snap); err != nil {
		return fmt.Errorf("emit snapshot %d: %w", r.seq, err)
	}
	r.stats.Emitted++
	if r.opts.Observer != nil {
		r.opts.Observer.Emitted(snap)
	}
	return nil
}

// Run consumes in to the end. The header row and the first data row (the
// book-clear marker) are discarded before any event is applied.
func (r *Replayer) Run(ctx context.Context, in io.Reader) (Stats, error) {
	start := r.opts.Clock.Now()
	rd := mbo.NewReader(in)

	// a log without a header or without data rows yields a header-only output
	if err := rd.Skip(); err != nil {
		if errors.Is(err, io.EOF) {
			r.log.Warnw("replay_no_rows", "run_id", r.opts.RunID, "header", false)
			return r.Stats(), nil
		}
		return r.Stats(), err
	}

	first, err := rd.Next()
	switch {
	case errors.Is(err, io.EOF):
		r.log.Warnw("replay_no_rows", "run_id", r.opts.RunID, "header", true)
		return r.Stats(), nil
	case err != nil:
		return r.Stats(), err
	}
	if r.opts.ValidateClear && first.Action != book.ActionClear {
		return r.Stats(), fmt.Errorf("%w: got %s at %s", ErrMissingClear, first.Action, first.TsEvent)
	}
	r.log.Debugw("clear_row_skipped", "ts_event", first.TsEvent, "action", first.Action.String())

	r.log.Infow("replay_started", "run_id", r.opts.RunID, "validate_clear", r.opts.ValidateClear)
	for {
		if r.stats.Rows%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				r.log.Warnw("replay_interrupted", "run_id", r.opts.RunID, "rows", r.stats.Rows)
				return r.Stats(), err
			}
		}
		ev, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return r.Stats(), err
		}
		if err := r.Step(ev); err != nil {
			return r.Stats(), err
		}
	}

	r.stats.Elapsed = r.opts.Clock.Since(start)
	stats := r.Stats()
	r.log.Infow("replay_finished",
		"run_id", stats.RunID,
		"rows", stats.Rows,
		"emitted", stats.Emitted,
		"unknown_cancels", stats.UnknownCancels,
		"missed_trades", stats.MissedTrades,
		"bid_levels", stats.BidLevels,
		"ask_levels", stats.AskLevels,
		"elapsed_ms", stats.Elapsed.Milliseconds(),
		"digest", stats.Digest)
	return stats, nil
}
