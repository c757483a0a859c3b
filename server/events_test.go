package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/reel/pulse/async"
)

func dialEvents(t *testing.T, ts *httptest.Server, id string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/jobs/" + id + "/events"
	return websocket.DefaultDialer.Dial(url, header)
}

func readEvent(t *testing.T, conn *websocket.Conn) async.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev async.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestEventsStreamUntilTerminal(t *testing.T) {
	orch := newFakeOrchestrator(t)
	srv := newTestServer(t, orch, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	id := createJob(t, srv.Handler())

	conn, _, err := dialEvents(t, ts, id, nil)
	require.NoError(t, err)
	defer conn.Close()

	ev := readEvent(t, conn)
	assert.Equal(t, id, ev.JobID)
	assert.Equal(t, async.JobStatusPending, ev.Status, "current state is sent first")

	require.NoError(t, orch.reg.Update(id, func(j *async.Job) error {
		j.Status = async.JobStatusAwaiting
		j.WaitingFor = "criteria"
		return nil
	}))
	ev = readEvent(t, conn)
	assert.Equal(t, async.EventAwaiting, ev.Type)
	assert.Equal(t, "criteria", ev.WaitingFor)

	require.NoError(t, orch.reg.Update(id, func(j *async.Job) error {
		j.Status = async.JobStatusCompleted
		j.Output = "local://outputs/" + id + "/highlight.mp4"
		return nil
	}))
	ev = readEvent(t, conn)
	assert.Equal(t, async.EventCompleted, ev.Type)
	assert.Contains(t, ev.Output, id)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "stream closes after the terminal event: %v", err)
}

func TestEventsIgnoreOtherJobs(t *testing.T) {
	orch := newFakeOrchestrator(t)
	srv := newTestServer(t, orch, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	watched := createJob(t, srv.Handler())
	other := createJob(t, srv.Handler())

	conn, _, err := dialEvents(t, ts, watched, nil)
	require.NoError(t, err)
	defer conn.Close()
	readEvent(t, conn)

	require.NoError(t, orch.reg.Update(other, func(j *async.Job) error {
		j.Status = async.JobStatusFailed
		return nil
	}))
	require.NoError(t, orch.reg.Update(watched, func(j *async.Job) error {
		j.Status = async.JobStatusRunning
		j.StageName = "generate_criteria"
		return nil
	}))

	ev := readEvent(t, conn)
	assert.Equal(t, watched, ev.JobID)
	assert.Equal(t, "generate_criteria", ev.Stage)
}

func TestEventsForTerminalJobCloseImmediately(t *testing.T) {
	orch := newFakeOrchestrator(t)
	srv := newTestServer(t, orch, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	id := createJob(t, srv.Handler())
	require.NoError(t, orch.Cancel(id))

	conn, _, err := dialEvents(t, ts, id, nil)
	require.NoError(t, err)
	defer conn.Close()

	ev := readEvent(t, conn)
	assert.Equal(t, async.EventFailed, ev.Type)
	require.NotNil(t, ev.Error)
	assert.Equal(t, async.ErrorKindCancelled, ev.Error.Kind)
}

func TestEventsRejectForeignOrigin(t *testing.T) {
	orch := newFakeOrchestrator(t)
	srv := newTestServer(t, orch, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	id := createJob(t, srv.Handler())

	_, resp, err := dialEvents(t, ts, id, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
