package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/lakeloader/pkg/types"
)

func testAlert() types.Alert {
	return types.Alert{
		Level:     types.AlertLevelError,
		Workflow:  "cleansers",
		NodeID:    "orders_append_to_datalake",
		Message:   "something went wrong",
		Timestamp: time.Now(),
	}
}

func TestConsoleSink_Send(t *testing.T) {
	var buf bytes.Buffer
	sink := &ConsoleSink{out: &buf}
	assert.Equal(t, "console", sink.Name())

	ctx := context.Background()
	for _, level := range []types.AlertLevel{types.AlertLevelError, types.AlertLevelWarning, types.AlertLevelInfo} {
		a := testAlert()
		a.Level = level
		assert.NoError(t, sink.Send(ctx, a))
	}
	assert.Contains(t, buf.String(), "[cleansers/orders_append_to_datalake] something went wrong")
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))
}

func TestWebhookSink_Send_Success(t *testing.T) {
	var received []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewWebhookSink(ts.URL, 0)
	alert := testAlert()

	require.NoError(t, sink.Send(context.Background(), alert))

	var got types.Alert
	require.NoError(t, json.Unmarshal(received, &got))
	assert.Equal(t, alert.Message, got.Message)
	assert.Equal(t, alert.NodeID, got.NodeID)
}

func TestWebhookSink_Send_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	sink := NewWebhookSink(ts.URL, time.Second)

	err := sink.Send(context.Background(), testAlert())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestWebhookSink_BreakerOpens(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	sink := NewWebhookSink(ts.URL, time.Second)
	for i := 0; i < webhookTripFailures+3; i++ {
		assert.Error(t, sink.Send(context.Background(), testAlert()))
	}
	assert.Equal(t, int32(webhookTripFailures), atomic.LoadInt32(&hits))
}

func TestFileSink_Send(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")

	sink, err := NewFileSink(path)
	require.NoError(t, err)
	assert.Equal(t, "file", sink.Name())

	alert := testAlert()
	require.NoError(t, sink.Send(context.Background(), alert))
	require.NoError(t, sink.Send(context.Background(), alert))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	var got types.Alert
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, alert.Message, got.Message)
}

// errSink is a test sink that always returns an error.
type errSink struct{}

func (s *errSink) Send(_ context.Context, _ types.Alert) error { return fmt.Errorf("sink error") }
func (s *errSink) Name() string                                { return "error-sink" }

// recordSink records all alerts sent to it.
type recordSink struct {
	alerts []types.Alert
}

func (s *recordSink) Send(_ context.Context, a types.Alert) error {
	s.alerts = append(s.alerts, a)
	return nil
}
func (s *recordSink) Name() string { return "record-sink" }

func TestDispatcher_MultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	d := &Dispatcher{sinks: []Sink{s1, s2}, logger: slog.Default()}

	alert := testAlert()
	d.Dispatch(context.Background(), alert)

	require.Len(t, s1.alerts, 1)
	assert.Len(t, s2.alerts, 1)
	assert.Equal(t, alert.Message, s1.alerts[0].Message)
	assert.NotEmpty(t, s1.alerts[0].AlertID)
	assert.Equal(t, s1.alerts[0].AlertID, s2.alerts[0].AlertID)
}

func TestDispatcher_SinkError_ContinuesOthers(t *testing.T) {
	failing := &errSink{}
	recording := &recordSink{}
	d := &Dispatcher{
		sinks:  []Sink{failing, recording},
		logger: slog.Default(),
	}

	d.Dispatch(context.Background(), testAlert())

	assert.Len(t, recording.alerts, 1)
}

func TestNewDispatcher(t *testing.T) {
	d, err := NewDispatcher([]types.AlertConfig{
		{Type: types.AlertConsole},
		{Type: types.AlertFile, Path: filepath.Join(t.TempDir(), "a.jsonl")},
		{Type: types.AlertWebhook, URL: "http://localhost:1", Timeout: "2s"},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, d.sinks, 3)

	_, err = NewDispatcher([]types.AlertConfig{{Type: types.AlertWebhook}}, nil)
	assert.ErrorContains(t, err, "webhook URL required")

	_, err = NewDispatcher([]types.AlertConfig{{Type: "pager"}}, nil)
	assert.ErrorContains(t, err, "unknown alert type")

	_, err = NewDispatcher([]types.AlertConfig{{Type: types.AlertWebhook, URL: "http://x", Timeout: "soon"}}, nil)
	assert.ErrorContains(t, err, "invalid timeout")
}
