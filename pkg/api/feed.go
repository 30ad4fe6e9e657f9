package api

import (
	"sync/atomic"

	"github.com/uhyunpark/mbp10/pkg/mbp"
)

// Feed is the sink side of the inspector. It keeps the latest snapshot for
// REST readers and pushes each one to stream subscribers.
type Feed struct {
	hub    *Hub
	latest atomic.Pointer[mbp.Snapshot]
}

// Write never fails; a stalled stream client only loses messages.
func (f *Feed) Write(s mbp.Snapshot) error {
	f.latest.Store(&s)
	f.hub.BroadcastToChannel(ChannelMBP, newBookSnapshot(s))
	return nil
}

func (f *Feed) Close() error { return nil }

// Latest returns the most recent snapshot, if any was written.
func (f *Feed) Latest() (mbp.Snapshot, bool) {
	s := f.latest.Load()
	if s == nil {
		return mbp.Snapshot{}, false
	}
	return *s, true
}

var _ mbp.Sink = (*Feed)(nil)
