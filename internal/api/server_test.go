package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aaronlmathis/noderes/internal/presenter"
	"github.com/aaronlmathis/noderes/internal/report"
	"github.com/aaronlmathis/noderes/internal/version"
	"github.com/aaronlmathis/noderes/internal/ws"
)

func sampleReport() *report.Report {
	r := &report.Report{
		Timestamp: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
		Sort:      report.SortInfo{Field: "cpu-pct"},
		Nodes: []report.NodeRecord{
			{Name: "worker-1", Health: report.Health{Status: report.StatusReady}, CPURequested: 2, CPUCapacity: 4, CPUReqPct: 50},
			{Name: "worker-2", Health: report.Health{Status: report.StatusNotReady}, CPURequested: 1, CPUCapacity: 4, CPUReqPct: 25},
		},
	}
	for _, n := range r.Nodes {
		r.Totals.Add(n)
	}
	return r
}

func newTestServer(t *testing.T, withTotals bool) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(zaptest.NewLogger(t), Options{Addr: "127.0.0.1:0", WithTotals: withTotals})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t, true)

	status, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestServer_ReadyAfterFirstReport(t *testing.T) {
	s, ts := newTestServer(t, true)

	status, _ := get(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	s.Publish(sampleReport())

	status, _ = get(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_Version(t *testing.T) {
	_, ts := newTestServer(t, true)

	status, body := get(t, ts.URL+"/version")
	require.Equal(t, http.StatusOK, status)

	var info version.Info
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, version.Get(), info)
}

func TestServer_ListNodes(t *testing.T) {
	tests := []struct {
		name       string
		withTotals bool
	}{
		{name: "with totals", withTotals: true},
		{name: "without totals", withTotals: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ts := newTestServer(t, tt.withTotals)

			status, _ := get(t, ts.URL+"/api/v1/nodes")
			assert.Equal(t, http.StatusServiceUnavailable, status)

			s.Publish(sampleReport())

			status, body := get(t, ts.URL+"/api/v1/nodes")
			require.Equal(t, http.StatusOK, status)

			var doc presenter.Document
			require.NoError(t, json.Unmarshal(body, &doc))
			require.Len(t, doc.Nodes, 2)
			assert.Equal(t, "worker-1", doc.Nodes[0].Name)
			assert.Equal(t, "Ready", doc.Nodes[0].Status)
			assert.Equal(t, "2026-10-17T12:00:00Z", doc.Timestamp)
			if tt.withTotals {
				require.NotNil(t, doc.Totals)
				assert.Equal(t, 2, doc.Totals.NodeCount)
			} else {
				assert.Nil(t, doc.Totals)
			}
		})
	}
}

func TestServer_GetNode(t *testing.T) {
	s, ts := newTestServer(t, true)
	s.Publish(sampleReport())

	status, body := get(t, ts.URL+"/api/v1/nodes/worker-2")
	require.Equal(t, http.StatusOK, status)

	var node presenter.Node
	require.NoError(t, json.Unmarshal(body, &node))
	assert.Equal(t, "worker-2", node.Name)
	assert.Equal(t, report.CodeNotReady, node.StatusCode)

	status, _ = get(t, ts.URL+"/api/v1/nodes/missing")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_Metrics(t *testing.T) {
	_, ts := newTestServer(t, true)
	get(t, ts.URL+"/healthz")

	status, body := get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `noderes_http_requests_total{method="GET",path="/healthz",status_code="200"}`)
}

func TestServer_RequestIDHeader(t *testing.T) {
	_, ts := newTestServer(t, true)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServer_StreamNodes(t *testing.T) {
	s, ts := newTestServer(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	s.Publish(sampleReport())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream/nodes"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		ws.Message
		Data presenter.Document `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "report", msg.Type)
	assert.Equal(t, "nodes", msg.Stream)
	assert.Len(t, msg.Data.Nodes, 2)
}

func TestServer_RunShutsDownOnCancel(t *testing.T) {
	s := NewServer(zaptest.NewLogger(t), Options{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
