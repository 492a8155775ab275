package app

import (
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/pose_streamer/internal/inference"
	"github.com/relabs-tech/pose_streamer/internal/loop"
	"github.com/relabs-tech/pose_streamer/internal/sample"
	"github.com/relabs-tech/pose_streamer/internal/status"
	"github.com/relabs-tech/pose_streamer/internal/store"
	"github.com/relabs-tech/pose_streamer/internal/stream"
)

type webFixture struct {
	srv    *httptest.Server
	hub    *stream.Hub
	driver *loop.Driver
	board  *status.Board
	store  *store.Store
	runID  string
}

func newWebFixture(t *testing.T, withStore bool) *webFixture {
	t.Helper()
	seq, err := sample.NewSequence(
		[][]float32{{1, 0, 0}, {1, 0, 0}, {1, 0, 0}},
		[][]float32{{0.1}, {0.2}, {0.3}},
	)
	require.NoError(t, err)

	hub := stream.NewHub(8)
	pub := stream.NewPublisher(hub, "")
	board := status.NewBoard()
	driver, err := loop.New(seq, inference.NewMockEngine(inference.Stateful), pub, loop.Options{
		Variant: inference.Stateful,
		Status:  board,
	})
	require.NoError(t, err)
	t.Cleanup(func() { driver.Close() })

	f := &webFixture{hub: hub, driver: driver, board: board}
	if withStore {
		f.store, err = store.Open(filepath.Join(t.TempDir(), "runs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { f.store.Close() })
		f.runID, err = f.store.StartRun(context.Background(), "stateful", "model.onnx", seq.Len())
		require.NoError(t, err)
	}

	f.srv = httptest.NewServer(newWebMux(webState{
		RunID:     f.runID,
		Hub:       hub,
		Driver:    driver,
		Publisher: pub,
		Board:     board,
		Store:     f.store,
	}))
	t.Cleanup(f.srv.Close)
	t.Cleanup(func() { hub.Close() })
	return f
}

func (f *webFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWeb_Stats(t *testing.T) {
	f := newWebFixture(t, false)
	f.driver.Step()
	f.driver.Step()

	resp := f.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got statsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 2, got.Progress.Cursor)
	assert.Equal(t, 3, got.Progress.Length)
	assert.Equal(t, 2, got.Progress.Counters.OK)
	assert.Equal(t, "idle", got.Progress.Phase)
	assert.Equal(t, 2, got.Progress.Timing.Count)
	assert.EqualValues(t, 2, got.Publisher.Sent)
}

func TestWeb_RunsDisabled(t *testing.T) {
	f := newWebFixture(t, false)
	resp := f.get(t, "/api/runs")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWeb_Runs(t *testing.T) {
	f := newWebFixture(t, true)
	require.NoError(t, f.store.RecordFailure(context.Background(), store.Failure{
		RunID: f.runID, SampleIndex: 1, Attempt: 1, Stage: loop.StageEngine, Message: "boom",
	}))

	resp := f.get(t, "/api/runs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []store.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, f.runID, runs[0].ID)

	resp = f.get(t, "/api/runs?failures="+f.runID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var failures []store.Failure
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&failures))
	require.Len(t, failures, 1)
	assert.Equal(t, "boom", failures[0].Message)

	resp = f.get(t, "/api/runs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWeb_LatencyChart(t *testing.T) {
	f := newWebFixture(t, false)
	f.driver.Step()

	resp := f.get(t, "/stats/latency")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Inference latency")
	assert.Contains(t, string(body), "steps=1")
}

func TestWeb_LatencyPNG(t *testing.T) {
	f := newWebFixture(t, false)
	f.driver.Step()
	f.driver.Step()

	resp := f.get(t, "/stats/latency.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	_, err := png.Decode(resp.Body)
	require.NoError(t, err)
}

func TestWeb_StatusPNG(t *testing.T) {
	f := newWebFixture(t, false)
	f.driver.Step()

	resp := f.get(t, "/status.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	_, err := png.Decode(resp.Body)
	require.NoError(t, err)
}

func TestWeb_WebsocketFeed(t *testing.T) {
	f := newWebFixture(t, false)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	res := f.driver.Step()
	require.Equal(t, loop.KindOK, res.Kind)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame stream.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, stream.EventAnimation, frame.Event)
	assert.Equal(t, res.Payload, frame.Data)
}

func TestLatencyChart_Decimates(t *testing.T) {
	f := newWebFixture(t, false)
	for i := 0; i < maxChartPoints*2+5; i++ {
		f.driver.Timing().Add(time.Millisecond)
	}
	page, err := latencyChart(f.driver.Timing())
	require.NoError(t, err)
	assert.Contains(t, string(page), "steps=4005")
}
