package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/mbp10/pkg/book"
	"github.com/uhyunpark/mbp10/pkg/mbp"
	"github.com/uhyunpark/mbp10/pkg/replay"
	"github.com/uhyunpark/mbp10/pkg/storage"
)

type mapStore map[uint64]mbp.Snapshot

func (m mapStore) Get(seq uint64) (mbp.Snapshot, error) {
	s, ok := m[seq]
	if !ok {
		return mbp.Snapshot{}, storage.ErrNotFound
	}
	return s, nil
}

type brokenStore struct{}

func (brokenStore) Get(uint64) (mbp.Snapshot, error) { return mbp.Snapshot{}, errors.New("io error") }

func sample(seq uint64) mbp.Snapshot {
	return mbp.Snapshot{
		Seq:     seq,
		TsEvent: "2025-07-17T08:05:03.360842448Z",
		Bids:    []book.Level{{Price: 1_000_000, Size: 8, Count: 2}},
		Asks:    []book.Level{{Price: 1_010_000, Size: 6, Count: 0}},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndBook(t *testing.T) {
	s := NewServer(Options{RunID: "run-1"})
	h := s.Handler()

	rec := get(t, h, "/api/v1/book")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, s.Feed().Write(sample(7)))

	rec = get(t, h, "/api/v1/book")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap BookSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, uint64(7), snap.Seq)
	assert.Equal(t, []PriceLevel{{Price: "100.0000", Size: 8, Count: 2}}, snap.Bids)
	assert.Equal(t, []PriceLevel{{Price: "101.0000", Size: 6, Count: 0}}, snap.Asks)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(get(t, h, "/health").Body.Bytes(), &health))
	assert.Equal(t, HealthResponse{Status: "ok", RunID: "run-1", LastSeq: 7}, health)
}

func TestStats(t *testing.T) {
	s := NewServer(Options{})
	h := s.Handler()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/v1/stats").Code)

	s.SetStats(replay.Stats{RunID: "run-1", Rows: 10, Emitted: 8})
	rec := get(t, h, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var st replay.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, uint64(8), st.Emitted)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(get(t, h, "/health").Body.Bytes(), &health))
	assert.True(t, health.Done)
}

func TestSnapshots(t *testing.T) {
	h := NewServer(Options{}).Handler()
	assert.Equal(t, http.StatusNotImplemented, get(t, h, "/api/v1/snapshots/1").Code)

	h = NewServer(Options{Store: mapStore{3: sample(3)}}).Handler()
	rec := get(t, h, "/api/v1/snapshots/3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"seq":3`)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/snapshots/4").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/snapshots/abc").Code, "route only matches digits")
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/snapshots/99999999999999999999").Code)

	h = NewServer(Options{Store: brokenStore{}}).Handler()
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/api/v1/snapshots/1").Code)
}

func TestMetricsRoute(t *testing.T) {
	h := NewServer(Options{}).Handler()
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mbp_snapshots_emitted_total 1\n"))
	})
	rec := get(t, NewServer(Options{Metrics: metrics}).Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mbp_snapshots_emitted_total")
}

func TestCORS(t *testing.T) {
	h := NewServer(Options{AllowedOrigins: []string{"http://localhost:3000"}}).Handler()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewServer(Options{})
	go s.hub.Run(ctx)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{ChannelMBP}}))
	require.Eventually(t, func() bool { return s.hub.Subscribers(ChannelMBP) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Feed().Write(sample(5)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Channel string       `json:"channel"`
		Data    BookSnapshot `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ChannelMBP, msg.Channel)
	assert.Equal(t, uint64(5), msg.Data.Seq)
	assert.Equal(t, "100.0000", msg.Data.Bids[0].Price)

	// without subscribers nothing is marshalled or queued
	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "unsubscribe", Channels: []string{ChannelMBP}}))
	require.Eventually(t, func() bool { return s.hub.Subscribers(ChannelMBP) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(Options{})
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
