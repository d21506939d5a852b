package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"orderflow-core/internal/bar"
	"orderflow-core/internal/engine"
	"orderflow-core/internal/events"
	"orderflow-core/internal/export"
	"orderflow-core/internal/monitor"
	"orderflow-core/internal/tick"
	"orderflow-core/pkg/db"
)

const runID = "run-1"

func newTestPipeline(t *testing.T, ticks int) *engine.Pipeline {
	t.Helper()
	d, err := bar.ParseDelimiter("volume:1000")
	require.NoError(t, err)
	p, err := engine.NewPipeline(engine.DefaultConfig("BTCUSDT", d), engine.Deps{}, zerolog.Nop())
	require.NoError(t, err)
	for i := 0; i < ticks; i++ {
		require.NoError(t, p.Process(context.Background(), tick.Tick{
			ID:    uint64(i + 1),
			Price: 100 + float64(i%5)*0.01,
			Qty:   100,
			Time:  1_700_000_000_000 + int64(i)*1000,
		}))
	}
	return p
}

func newTestAPIServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))
	require.NoError(t, database.CreateRun(context.Background(), db.Run{
		ID: runID, Symbol: "BTCUSDT", Delimiter: "volume:1000", Mode: "replay", StartedAt: time.Now(),
	}))

	p := newTestPipeline(t, 25)
	hub := NewHub(zerolog.Nop())
	server := NewServer(p, database, hub, p.Metrics(), SystemMeta{
		Symbol:    "BTCUSDT",
		Delimiter: "volume:1000",
		Mode:      "replay",
		RunID:     runID,
		Version:   "test",
	}, zerolog.Nop())

	ts := httptest.NewServer(server.Router)
	t.Cleanup(func() {
		ts.Close()
		_ = database.Close()
	})
	return ts, hub
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestCandlesJSON(t *testing.T) {
	ts, _ := newTestAPIServer(t)

	var resp struct {
		Candles []struct {
			ID     uint64  `json:"id"`
			Volume float64 `json:"volume"`
			Closed bool    `json:"closed"`
		} `json:"candles"`
		Statistics  map[string]any      `json:"statistics"`
		Indications []export.Indication `json:"indications"`
	}
	status := getJSON(t, ts.URL+"/api/candles", &resp)
	require.Equal(t, http.StatusOK, status)

	require.Len(t, resp.Candles, 3)
	assert.True(t, resp.Candles[0].Closed)
	assert.False(t, resp.Candles[2].Closed)
	assert.Equal(t, 500.0, resp.Candles[2].Volume)
	assert.Contains(t, resp.Statistics, "winrate")
	assert.NotNil(t, resp.Indications)
}

func TestCandlesParquet(t *testing.T) {
	ts, _ := newTestAPIServer(t)

	resp, err := http.Get(ts.URL + "/api/candles?format=parquet")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.apache.parquet", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	rows, err := parquet.Read[export.BarRecord](bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, uint64(1), rows[0].ID)
}

func TestCandlesRejectsUnknownFormat(t *testing.T) {
	ts, _ := newTestAPIServer(t)

	var resp struct {
		Code string `json:"code"`
	}
	status := getJSON(t, ts.URL+"/api/candles?format=csv", &resp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_FORMAT", resp.Code)
}

func TestViewEndpoints(t *testing.T) {
	ts, _ := newTestAPIServer(t)

	tests := []struct {
		path string
		key  string
	}{
		{"/api/status", "pipeline"},
		{"/api/metrics", "ticks"},
		{"/api/profiles", "history"},
		{"/api/bets", "active"},
		{"/api/stats", "totalDeals"},
		{"/api/streaks", "completed"},
		{"/api/volatility", "sma"},
		{"/api/extremes", "highs"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var resp map[string]any
			status := getJSON(t, ts.URL+tt.path, &resp)
			assert.Equal(t, http.StatusOK, status)
			assert.Contains(t, resp, tt.key)
		})
	}
}

func TestStatusCarriesPipelineState(t *testing.T) {
	ts, _ := newTestAPIServer(t)

	var resp struct {
		Meta     SystemMeta    `json:"meta"`
		Pipeline engine.Status `json:"pipeline"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/status", &resp))
	assert.Equal(t, runID, resp.Meta.RunID)
	assert.Equal(t, uint64(25), resp.Pipeline.Ticks)
	assert.Equal(t, 2, resp.Pipeline.ClosedBars)
}

func TestRunsEndpoints(t *testing.T) {
	ts, _ := newTestAPIServer(t)

	var runs []db.Run
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/runs", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)

	var run db.Run
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/runs/"+runID, &run))
	assert.Equal(t, "replay", run.Mode)

	var missing struct {
		Code string `json:"code"`
	}
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/runs/nope", &missing))
	assert.Equal(t, "NOT_FOUND", missing.Code)

	for _, sub := range []string{"profiles", "price-events", "bets", "streaks"} {
		assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/runs/"+runID+"/"+sub, nil), sub)
	}
}

func TestRunsWithoutDatabase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := newTestPipeline(t, 0)
	server := NewServer(p, nil, nil, monitor.NewPipelineMetrics(), SystemMeta{}, zerolog.Nop())

	rec := httptest.NewRecorder()
	server.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	server.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	ts, _ := newTestAPIServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc", resp.Header.Get("X-Request-ID"))
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWebsocketReplaysCachedAndLiveFrames(t *testing.T) {
	ts, hub := newTestAPIServer(t)
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub.Run(ctx, bus)

	bus.Publish(events.EventVolatility, engine.VolatilityView{SMA: 200, StdDev: 1})
	require.Eventually(t, func() bool { return hub.Last(events.EventVolatility) }, 2*time.Second, 10*time.Millisecond)

	conn := dialWS(t, ts, "")
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	assert.JSONEq(t, `{"volatility":{"sma":200,"stdDev":1}}`, string(data))

	bus.Publish(events.EventPriceActions, []map[string]any{{"name": "insideVA"}})
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"priceActions":[{"name":"insideVA"}]}`, string(data))
}

func TestWebsocketMsgpackCodec(t *testing.T) {
	ts, hub := newTestAPIServer(t)
	hub.Broadcast(events.EventVolatility, engine.VolatilityView{SMA: 200, StdDev: 1})

	conn := dialWS(t, ts, "?codec=msgpack")
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, typ)

	var msg map[string]map[string]float64
	require.NoError(t, msgpack.Unmarshal(data, &msg))
	assert.Equal(t, map[string]float64{"sma": 200, "stdDev": 1}, msg["volatility"])
}

func TestEncodeFrameUsesSortedClusters(t *testing.T) {
	b := &bar.Bar{ID: 1, Clusters: bar.Clusters{
		101: {Price: 101, Volume: 1},
		100: {Price: 100, Volume: 2},
	}}
	f, err := encodeFrame(events.EventCandles, []*bar.Bar{b})
	require.NoError(t, err)

	var msg map[string][]struct {
		Clusters []struct {
			Price float64 `msgpack:"price"`
		} `msgpack:"clusters"`
	}
	require.NoError(t, msgpack.Unmarshal(f.msgpack, &msg))
	require.Len(t, msg["assetCandlestics"], 1)
	clusters := msg["assetCandlestics"][0].Clusters
	require.Len(t, clusters, 2)
	assert.Equal(t, 100.0, clusters[0].Price)
	assert.Equal(t, 101.0, clusters[1].Price)
}
