package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewscope/pkg/journal"
	"reviewscope/pkg/loop"
)

type fakeLoop struct {
	res      *loop.AnalysisResult
	err      error
	autolog  bool
	history  []loop.Entry
	status   loop.Status
	setCalls []bool
}

func (f *fakeLoop) RequestAnalysis(_ context.Context, _ bool) (*loop.AnalysisResult, error) {
	return f.res, f.err
}
func (f *fakeLoop) SetAutoLogging(enabled bool) {
	f.autolog = enabled
	f.setCalls = append(f.setCalls, enabled)
}
func (f *fakeLoop) AutoLogging() bool     { return f.autolog }
func (f *fakeLoop) History() []loop.Entry { return f.history }
func (f *fakeLoop) Status() loop.Status   { return f.status }

type fakeJournal struct {
	failures []journal.Failure
	err      error
	gotLimit int
}

func (f *fakeJournal) RecentFailures(_ context.Context, limit int) ([]journal.Failure, error) {
	f.gotLimit = limit
	return f.failures, f.err
}

type fakeSinkStatus struct {
	lastAttempt time.Time
	ok          bool
}

func (f *fakeSinkStatus) Status() (time.Time, bool) { return f.lastAttempt, f.ok }

type fakeConfig struct {
	listen    string
	errWindow time.Duration
}

func (f *fakeConfig) GetServerConfig() (string, time.Duration) {
	if f.listen == "" {
		return "127.0.0.1:0", 5 * time.Second
	}
	return f.listen, 5 * time.Second
}

func (f *fakeConfig) GetErrorDisplayWindow() time.Duration {
	if f.errWindow == 0 {
		return 5 * time.Second
	}
	return f.errWindow
}

func newTestServer(lp Loop, jrnl Journal, snk SinkStatus) (*Server, *httptest.Server) {
	s := New(&fakeConfig{}, lp, jrnl, snk, "test", false)
	return s, httptest.NewServer(s.router)
}

func TestServer_AnalyzeHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		lp := &fakeLoop{res: &loop.AnalysisResult{
			Text:              "good movie",
			Label:             "POSITIVE",
			Score:             0.91,
			Sentiment:         "positive",
			ConfidencePercent: 91.0,
			TriggeredByUser:   true,
		}}
		_, ts := newTestServer(lp, nil, nil)
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json", http.NoBody)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var res loop.AnalysisResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		assert.Equal(t, "positive", res.Sentiment)
		assert.InDelta(t, 91.0, res.ConfidencePercent, 0.0001)
	})

	t.Run("not ready", func(t *testing.T) {
		lp := &fakeLoop{err: loop.ErrNotReady}
		_, ts := newTestServer(lp, nil, nil)
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json", http.NoBody)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("analysis failure", func(t *testing.T) {
		lp := &fakeLoop{err: errors.New("classify review: model exploded")}
		_, ts := newTestServer(lp, nil, nil)
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json", http.NoBody)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body["error"], "model exploded")
	})

	t.Run("busy is skipped", func(t *testing.T) {
		lp := &fakeLoop{} // nil result, nil error
		_, ts := newTestServer(lp, nil, nil)
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json", http.NoBody)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "skipped", body["status"])
	})
}

func TestServer_AutologHandlers(t *testing.T) {
	lp := &fakeLoop{autolog: true}
	_, ts := newTestServer(lp, nil, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/autolog")
	require.NoError(t, err)
	defer resp.Body.Close()
	var state map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.True(t, state["enabled"])

	resp, err = http.Post(ts.URL+"/api/v1/autolog", "application/json", strings.NewReader(`{"enabled": false}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []bool{false}, lp.setCalls)

	resp, err = http.Post(ts.URL+"/api/v1/autolog", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_StatusHandler(t *testing.T) {
	lp := &fakeLoop{status: loop.Status{DatasetReady: true, ModelReady: true, DatasetSize: 100}}
	snk := &fakeSinkStatus{lastAttempt: time.Now(), ok: true}
	_, ts := newTestServer(lp, nil, snk)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, "test", status["version"])
	assert.NotContains(t, status, "error")

	lpStatus, ok := status["loop"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, lpStatus["dataset_ready"])
	assert.Equal(t, float64(100), lpStatus["dataset_size"])

	sinkStatus, ok := status["sink"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, sinkStatus["ok"])
	assert.Contains(t, sinkStatus, "last_attempt")
}

func TestServer_StatusHandlerWithoutSink(t *testing.T) {
	_, ts := newTestServer(&fakeLoop{}, nil, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.NotContains(t, status, "sink")
}

func TestServer_StatusShowsRecentError(t *testing.T) {
	s, ts := newTestServer(&fakeLoop{}, nil, nil)
	defer ts.Close()

	s.NoteError(errors.New("classify review: model exploded"), true)

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Contains(t, status["error"], "model exploded")
}

func TestServer_NoteError(t *testing.T) {
	t.Run("timer errors are not displayed", func(t *testing.T) {
		s := New(&fakeConfig{}, &fakeLoop{}, nil, nil, "test", false)
		s.NoteError(errors.New("periodic failure"), false)
		assert.Empty(t, s.visibleError())
	})

	t.Run("user error auto-clears after the window", func(t *testing.T) {
		s := New(&fakeConfig{errWindow: 50 * time.Millisecond}, &fakeLoop{}, nil, nil, "test", false)
		s.NoteError(errors.New("transient"), true)
		assert.Equal(t, "transient", s.visibleError())

		assert.Eventually(t, func() bool { return s.visibleError() == "" },
			time.Second, 10*time.Millisecond)
	})
}

func TestServer_HistoryHandler(t *testing.T) {
	lp := &fakeLoop{history: []loop.Entry{
		{Text: "older review...", Sentiment: "neutral"},
		{Text: "newer review...", Sentiment: "positive"},
	}}
	_, ts := newTestServer(lp, nil, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []loop.Entry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "older review...", entries[0].Text)
}

func TestServer_FailuresHandler(t *testing.T) {
	t.Run("journal disabled", func(t *testing.T) {
		_, ts := newTestServer(&fakeLoop{}, nil, nil)
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/api/v1/failures")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("default limit", func(t *testing.T) {
		jrnl := &fakeJournal{failures: []journal.Failure{{Stage: "sink", Message: "unreachable"}}}
		_, ts := newTestServer(&fakeLoop{}, jrnl, nil)
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/api/v1/failures")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 20, jrnl.gotLimit)

		var failures []journal.Failure
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&failures))
		require.Len(t, failures, 1)
		assert.Equal(t, "sink", failures[0].Stage)
	})

	t.Run("custom limit", func(t *testing.T) {
		jrnl := &fakeJournal{}
		_, ts := newTestServer(&fakeLoop{}, jrnl, nil)
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/api/v1/failures?limit=5")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 5, jrnl.gotLimit)
	})

	t.Run("invalid limit", func(t *testing.T) {
		_, ts := newTestServer(&fakeLoop{}, &fakeJournal{}, nil)
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/api/v1/failures?limit=zero")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("journal error", func(t *testing.T) {
		jrnl := &fakeJournal{err: errors.New("database gone")}
		_, ts := newTestServer(&fakeLoop{}, jrnl, nil)
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/api/v1/failures")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestServer_RunAndShutdown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	s := New(&fakeConfig{listen: addr}, &fakeLoop{}, nil, nil, "test", false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// wait for the server to come up, ping is served by the middleware
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/ping", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/ping", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "test", resp.Header.Get("App-Version"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
