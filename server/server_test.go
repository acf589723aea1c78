package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/lifelog/checkpoint"
	"github.com/tarungka/lifelog/internal/metrics"
	"github.com/tarungka/lifelog/internal/session"
	"github.com/tarungka/lifelog/pipeline"
	"github.com/tarungka/lifelog/state"
)

func newTestServer(t *testing.T) (*httptest.Server, *checkpoint.Manager, *pipeline.History, *metrics.Metrics) {
	t.Helper()
	mgr := checkpoint.NewManager(state.NewInMemoryStateBackend(), zerolog.Nop())
	history := pipeline.NewHistory(10)
	m := metrics.New()

	srv := httptest.NewServer(New(":0", history, mgr, m, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	return srv, mgr, history, m
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(body)
}

func TestServer_Health(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	code, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, ".", body)
}

func TestServer_Runs(t *testing.T) {
	srv, _, history, _ := newTestServer(t)
	history.Add(pipeline.Report{Source: "kindle", Status: pipeline.StatusOK, Emitted: 2})
	history.Add(pipeline.Report{Source: "chromium", Status: pipeline.StatusFailed, Error: "source unavailable"})

	tests := []struct {
		name    string
		query   string
		sources []string
	}{
		{name: "all", query: "", sources: []string{"chromium", "kindle"}},
		{name: "one source", query: "?source=kindle", sources: []string{"kindle"}},
		{name: "unknown source", query: "?source=rss", sources: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := get(t, srv.URL+"/runs"+tt.query)
			require.Equal(t, http.StatusOK, code)

			var resp struct {
				Success bool              `json:"success"`
				Data    []pipeline.Report `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &resp))
			assert.True(t, resp.Success)

			got := []string{}
			for _, r := range resp.Data {
				got = append(got, r.Source)
			}
			assert.Equal(t, tt.sources, got)
		})
	}
}

func TestServer_Checkpoint(t *testing.T) {
	srv, mgr, _, _ := newTestServer(t)
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, mgr.Save(context.Background(), "kindle", checkpoint.Checkpoint{
		Offsets:   map[string]int64{"reader.log": 42},
		Pending:   map[string]session.Pending{"B00X": {Time: updated.Add(-time.Hour), Payload: "12"}},
		Runs:      3,
		UpdatedAt: updated,
	}))

	code, body := get(t, srv.URL+"/checkpoints/kindle")
	require.Equal(t, http.StatusOK, code)

	var resp struct {
		Data CheckpointModel `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, "kindle", resp.Data.Source)
	assert.Nil(t, resp.Data.Cursor)
	assert.Equal(t, int64(42), resp.Data.Offsets["reader.log"])
	assert.Equal(t, "12", resp.Data.Pending["B00X"].Payload)
	assert.Equal(t, uint64(3), resp.Data.Runs)

	code, body = get(t, srv.URL+"/checkpoints/chromium")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body, `"success":false`)

	code, _ = get(t, srv.URL+"/checkpoints/.hidden")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_Metrics(t *testing.T) {
	srv, _, _, m := newTestServer(t)
	m.RunSucceeded("kindle", 5, 0, nil, time.Second, time.Now())

	code, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, `lifelog_records_emitted_total{source="kindle"} 5`), body)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New("127.0.0.1:0", nil, checkpoint.NewManager(state.NewInMemoryStateBackend(), zerolog.Nop()), nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
