package api

import (
	"github.com/uhyunpark/mbp10/pkg/book"
	"github.com/uhyunpark/mbp10/pkg/mbp"
)

// API response types for REST endpoints and WebSocket messages

// ChannelMBP carries every emitted snapshot.
const ChannelMBP = "mbp"

// PriceLevel is one rendered level; Price is the decimal string written to the CSV.
type PriceLevel struct {
	Price string `json:"price"`
	Size  int64  `json:"size"`
	Count int32  `json:"count"`
}

// BookSnapshot is a snapshot as served over REST and the stream.
type BookSnapshot struct {
	Seq     uint64       `json:"seq"`
	TsEvent string       `json:"tsEvent"`
	Bids    []PriceLevel `json:"bids"` // Sorted high to low
	Asks    []PriceLevel `json:"asks"` // Sorted low to high
}

func newBookSnapshot(s mbp.Snapshot) BookSnapshot {
	return BookSnapshot{
		Seq:     s.Seq,
		TsEvent: s.TsEvent,
		Bids:    priceLevels(s.Bids),
		Asks:    priceLevels(s.Asks),
	}
}

func priceLevels(levels []book.Level) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: mbp.FormatPrice(l.Price), Size: l.Size, Count: l.Count}
	}
	return out
}

// HealthResponse reports liveness and how far the replay got.
type HealthResponse struct {
	Status  string `json:"status"`
	RunID   string `json:"runId"`
	LastSeq uint64 `json:"lastSeq"`
	Done    bool   `json:"done"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the envelope for all pushed messages
type WSMessage struct {
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["mbp"]
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
