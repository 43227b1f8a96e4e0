package boardsim

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erauner12/taskboard-sync/internal/auth"
	"github.com/erauner12/taskboard-sync/internal/client"
	"github.com/erauner12/taskboard-sync/internal/model"
	"github.com/erauner12/taskboard-sync/internal/partition"
	"github.com/erauner12/taskboard-sync/internal/syncx"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(opts)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		s.Hub.Close()
		srv.Close()
	})
	return s, srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "%s %s", method, url)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestListTasks_PaginatesPerStatus(t *testing.T) {
	s, srv := newTestServer(t, Options{})
	s.Board.Seed("p1", 25) // 5 per status
	s.Board.Seed("other", 5)

	tasks := client.NewEntityClient[model.Task](client.NewHTTPClient(srv.URL, nil), client.TasksResource)

	page, err := tasks.List(context.Background(), "p1", partition.ListOptions{
		Offset: 0, Limit: 3, Partition: "todo", OrderBy: model.CreatedAtAsc,
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, 5, page.Total)
	assert.True(t, page.HasMore)
	for _, it := range page.Items {
		assert.Equal(t, model.StatusTodo, it.Status)
		assert.Equal(t, "p1", it.ProjectID)
	}
	assert.False(t, page.Items[0].CreatedAt.After(page.Items[1].CreatedAt), "created_at ascending")

	next, err := tasks.List(context.Background(), "p1", partition.ListOptions{
		Offset: 3, Limit: 3, Partition: "todo", OrderBy: model.CreatedAtAsc,
	})
	require.NoError(t, err)
	assert.Len(t, next.Items, 2)
	assert.False(t, next.HasMore)
}

func TestListTasks_BadRequests(t *testing.T) {
	_, srv := newTestServer(t, Options{})

	tests := []struct {
		name  string
		query string
	}{
		{"missing project", "/api/tasks"},
		{"bad status", "/api/tasks?project_id=p1&status=archived"},
		{"bad order", "/api/tasks?project_id=p1&order_by=priority"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodGet, srv.URL+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var env client.Envelope[json.RawMessage]
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
			assert.False(t, env.Success)
			assert.NotNil(t, env.Message)
		})
	}
}

func TestTaskCRUD(t *testing.T) {
	_, srv := newTestServer(t, Options{})
	tasks := client.NewEntityClient[model.Task](client.NewHTTPClient(srv.URL, nil), client.TasksResource)
	ctx := context.Background()

	created, err := tasks.Create(ctx, model.CreateTask{ProjectID: "p1", Title: "write docs"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, model.StatusTodo, created.Status)

	updated, err := tasks.Update(ctx, created.ID, map[string]any{"status": "inprogress", "id": "hijack"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, model.StatusInProgress, updated.Status)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt), "updated_at moved backwards")

	_, err = tasks.Update(ctx, created.ID, map[string]any{"status": "archived"})
	var apiErr client.ErrAPI
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	require.NoError(t, tasks.Delete(ctx, created.ID))

	var nf client.ErrNotFound
	_, err = tasks.Get(ctx, created.ID)
	assert.ErrorAs(t, err, &nf)
	assert.ErrorAs(t, tasks.Delete(ctx, created.ID), &nf, "deleting twice")
}

func TestCreateTask_Validation(t *testing.T) {
	_, srv := newTestServer(t, Options{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/tasks", map[string]any{"project_id": "p1", "title": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "blank title")

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/tasks", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing project")
}

func TestProjectGantt(t *testing.T) {
	s, srv := newTestServer(t, Options{})
	s.Board.Seed("p1", 10)

	gantt := client.NewGanttLister(client.NewHTTPClient(srv.URL, nil))
	items, err := gantt.Fetch(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, items, 10)
	for _, it := range items {
		if it.TaskStatus == model.StatusDone {
			assert.Equal(t, 1.0, it.Progress, "done item %s", it.ID)
		}
		assert.True(t, it.End.After(it.Start), "item %s ends before it starts", it.ID)
	}
}

func dialStream(t *testing.T, srv *httptest.Server, projectID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/tasks/stream/ws?project_id=" + projectID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, s *Server, projectID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Hub.Subscribers(projectID) == n
	}, 2*time.Second, 5*time.Millisecond, "expected %d subscribers", n)
}

func readMessage(t *testing.T, conn *websocket.Conn) syncx.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := syncx.DecodeMessage(data)
	require.NoError(t, err)
	return msg
}

func TestStream_BroadcastsWritesInOrder(t *testing.T) {
	s, srv := newTestServer(t, Options{})
	conn := dialStream(t, srv, "p1")
	other := dialStream(t, srv, "p2")
	waitSubscribers(t, s, "p1", 1)
	waitSubscribers(t, s, "p2", 1)

	created, err := s.Board.Create(model.CreateTask{ProjectID: "p1", Title: "a"})
	require.NoError(t, err)
	_, err = s.Board.Update(created.ID, map[string]any{"status": "done"})
	require.NoError(t, err)
	_, err = s.Board.Delete(created.ID)
	require.NoError(t, err)

	wantOps := []syncx.Op{syncx.OpAdd, syncx.OpReplace, syncx.OpRemove}
	for i, want := range wantOps {
		msg := readMessage(t, conn)
		require.Equal(t, syncx.KindPatch, msg.Kind, "message %d", i)
		require.Len(t, msg.Operations, 1, "message %d", i)
		op := msg.Operations[0]
		assert.Equal(t, want, op.Op, "message %d", i)
		assert.Equal(t, syncx.EntityPath(Collection, created.ID), op.Path, "message %d", i)
	}

	// other projects see nothing
	other.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "subscriber of another project received a message")
}

func TestStream_FinishClosesNormally(t *testing.T) {
	s, srv := newTestServer(t, Options{})
	conn := dialStream(t, srv, "p1")
	waitSubscribers(t, s, "p1", 1)

	s.Hub.Finish("p1")
	msg := readMessage(t, conn)
	require.True(t, msg.Finished(), "expected finished message, got %+v", msg)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "expected normal closure, got %v", err)
	waitSubscribers(t, s, "p1", 0)
}

func TestStream_DropIsAbnormal(t *testing.T) {
	s, srv := newTestServer(t, Options{})
	conn := dialStream(t, srv, "p1")
	waitSubscribers(t, s, "p1", 1)

	s.Hub.Drop("p1")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.False(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "expected abnormal disconnect, got %v", err)
}

func TestAuth_RequiresBearer(t *testing.T) {
	cfg := auth.JWTCfg{HS256Secret: "sim-secret"}
	s, srv := newTestServer(t, Options{JWT: &cfg})
	s.Board.Seed("p1", 5)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/tasks?project_id=p1", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "without token")

	resp = doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "healthz stays open")

	ts, err := auth.NewTokenSource("sim-secret", "tester", "", time.Hour)
	require.NoError(t, err)
	tasks := client.NewEntityClient[model.Task](client.NewHTTPClient(srv.URL, ts), client.TasksResource)
	page, err := tasks.List(context.Background(), "p1", partition.ListOptions{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
}

func TestRateLimit_Returns429WithRetryAfter(t *testing.T) {
	_, srv := newTestServer(t, Options{RateLimit: &RateLimitInfo{WindowSeconds: 60, MaxRequests: 1, Burst: 2}})

	for i := range 2 {
		resp := doJSON(t, http.MethodGet, srv.URL+"/api/tasks?project_id=p1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/tasks?project_id=p1", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	ra := resp.Header.Get("Retry-After")
	assert.NotEmpty(t, ra)
	assert.NotEqual(t, "0", ra)
}

func TestCorrelationID_Echoed(t *testing.T) {
	_, srv := newTestServer(t, Options{})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Correlation-ID", "corr-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "corr-1", resp.Header.Get("X-Correlation-ID"))
}
