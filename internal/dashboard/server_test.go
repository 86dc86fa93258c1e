package dashboard

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent/agent-console/internal/bus"
	"github.com/multi-agent/agent-console/internal/conversation"
	"github.com/multi-agent/agent-console/internal/files"
	"github.com/multi-agent/agent-console/internal/session"
	"github.com/multi-agent/agent-console/internal/store"
	"github.com/multi-agent/agent-console/internal/stream"
	"github.com/multi-agent/agent-console/internal/uistate"
	apperrors "github.com/multi-agent/agent-console/pkg/errors"
)

func init() { gin.SetMode(gin.TestMode) }

// refusingTransport 连接总是失败。
type refusingTransport struct{}

func (refusingTransport) Name() string { return "refusing" }

func (refusingTransport) Connect(context.Context, stream.Request) (stream.FrameReader, error) {
	return nil, errors.New("connection refused")
}

type testEnv struct {
	srv   *Server
	http  *httptest.Server
	store *store.MemoryChatSessionStore
	local *files.LocalStore
	sync  *session.Synchronizer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewMemoryChatSessionStore(50)
	local := files.NewLocalStore(t.TempDir(), "/api/files")
	cached := files.NewCachedLister(local, time.Minute)
	syncer := session.NewSynchronizer(mem, time.Second)
	b := bus.NewMessageBus()
	ctrl := conversation.New(conversation.Options{
		Streams:  stream.NewClient(refusingTransport{}),
		Sync:     syncer,
		Sessions: mem,
		Files:    cached,
		Bus:      b,
	})
	srv := NewServer(Deps{
		Controller: ctrl,
		Sessions:   mem,
		Sync:       syncer,
		Files:      cached,
		LocalFiles: local,
		FileCache:  cached,
		Bus:        b,
	})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &testEnv{srv: srv, http: hs, store: mem, local: local, sync: syncer}
}

func (e *testEnv) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	e.srv.Engine().ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func (e *testEnv) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	w := httptest.NewRecorder()
	e.srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Code, w.Body.Bytes()
}

func sessionData(query string) store.ChatSessionData {
	turn := uistate.NewTurn("s1", "sub-1", query, time.Unix(0, 0))
	turn.TurnID = "r1"
	return store.ChatSessionData{SessionID: "s1", ChatList: []uistate.Turn{turn}}
}

// ========================================
// 会话存储 API
// ========================================

func TestChatSessionAPI(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.post(t, "/api/chat_session/create", map[string]any{"reqId": "r1", "data": sessionData("hello")})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])

	code, body = env.post(t, "/api/chat_session/create", map[string]any{"reqId": "r1", "data": sessionData("hello")})
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["detail"], "already exists")

	code, _ = env.post(t, "/api/chat_session/create", map[string]any{"reqId": " "})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = env.post(t, "/api/chat_session/update", map[string]any{"reqId": "missing", "data": sessionData("x")})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = env.post(t, "/api/chat_session/update", map[string]any{"reqId": "r1"})
	assert.Equal(t, http.StatusUnprocessableEntity, code, "update requires data")

	updated := sessionData("hello")
	updated.ChatList[0].Response = "world"
	code, _ = env.post(t, "/api/chat_session/update", map[string]any{"reqId": "r1", "data": updated})
	assert.Equal(t, http.StatusOK, code)

	code, body = env.post(t, "/api/chat_session/get", map[string]any{"reqId": "r1"})
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "hello", data["chatTitle"])
	assert.Equal(t, "s1", data["sessionId"])

	code, _ = env.post(t, "/api/chat_session/get", map[string]any{"reqId": "nope"})
	assert.Equal(t, http.StatusNotFound, code)

	code, body = env.post(t, "/api/chat_session/list", map[string]any{"limit": 10, "offset": 0})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, "hello", sessions[0].(map[string]any)["chatTitle"])
}

func TestChatSessionDeleteCleansUp(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Create(context.Background(), "r1", sessionData("hello")))
	dir, err := env.local.Dir("r1")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.txt"), []byte("x"), 0o644))
	env.sync.MarkSaved("r1")

	// 预热缓存, 删除后必须失效
	code, raw := env.get(t, "/api/files/r1")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(raw), "out.txt")

	code, body := env.post(t, "/api/chat_session/delete", map[string]any{"reqId": "r1"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "file directory removed")
	assert.Equal(t, session.StateUnsaved, env.sync.State("r1"))

	code, raw = env.get(t, "/api/files/r1")
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(raw), "out.txt")

	code, body = env.post(t, "/api/chat_session/delete", map[string]any{"reqId": "r1"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
}

// RemoteStore 与本服务的会话 API 契约一致。
func TestRemoteStoreAgainstSessionAPI(t *testing.T) {
	env := newTestEnv(t)
	rs := session.NewRemoteStore(env.http.URL+"/api/chat_session", time.Second)
	ctx := context.Background()

	require.NoError(t, rs.Create(ctx, "r1", sessionData("hello")))
	assert.True(t, apperrors.IsConflict(rs.Create(ctx, "r1", sessionData("hello"))))
	assert.True(t, apperrors.IsNotFound(rs.Update(ctx, "r2", sessionData("x"))))

	got, err := rs.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Title)
	assert.Equal(t, "s1", got.SessionID)

	res, err := rs.List(ctx, store.ListQuery{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)

	require.NoError(t, rs.Delete(ctx, "r1"))
	assert.True(t, apperrors.IsNotFound(rs.Delete(ctx, "r1")))
}

// ========================================
// 会话控制 API
// ========================================

func TestChatQueryAndState(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.post(t, "/api/chat/query", map[string]any{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := env.post(t, "/api/chat/query", map[string]any{"query": "hello", "deepThink": true})
	require.Equal(t, http.StatusOK, code, body)
	sub := body["data"].(map[string]any)["submissionId"].(string)
	require.NotEmpty(t, sub)

	// 连接失败: 轮次以 stream_open_failed 结束
	require.Eventually(t, func() bool {
		code, raw := env.get(t, "/api/chat/state")
		if code != http.StatusOK {
			return false
		}
		var resp struct {
			Data uistate.SessionSnapshot `json:"data"`
		}
		if json.Unmarshal(raw, &resp) != nil {
			return false
		}
		active, ok := resp.Data.Active()
		return ok && active.Turn.Finished && active.Turn.Notice == uistate.NoticeStreamOpenFailed
	}, 2*time.Second, 10*time.Millisecond)

	code, body = env.post(t, "/api/chat/stop", map[string]any{})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["data"].(map[string]any)["stopped"])

	code, _ = env.post(t, "/api/chat/workspace/close", map[string]any{"submissionId": sub})
	assert.Equal(t, http.StatusOK, code)
	code, _ = env.post(t, "/api/chat/workspace/close", map[string]any{"submissionId": "missing"})
	assert.Equal(t, http.StatusNotFound, code)

	code, raw := env.get(t, "/api/chat/sync/r1")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(raw), `"state":"unsaved"`)
}

func TestChatRestore(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Create(context.Background(), "r1", sessionData("hello")))
	dir, err := env.local.Dir("r1")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.md"), []byte("# r"), 0o644))

	code, body := env.post(t, "/api/chat/restore", map[string]any{"reqId": "r1"})
	require.Equal(t, http.StatusOK, code, body)
	raw, err := json.Marshal(body["data"])
	require.NoError(t, err)
	var snap uistate.SessionSnapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	active, ok := snap.Active()
	require.True(t, ok)
	assert.True(t, active.WorkspaceOpen)
	require.Len(t, active.WorkspaceTasks, 1)
	assert.Equal(t, uistate.MessageTypeFile, active.WorkspaceTasks[0].MessageType)

	code, _ = env.post(t, "/api/chat/restore", map[string]any{"reqId": "missing"})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = env.post(t, "/api/chat/restore", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
}

// ========================================
// 文件
// ========================================

func TestFileDownload(t *testing.T) {
	env := newTestEnv(t)
	dir, err := env.local.Dir("r1")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("content"), 0o644))

	code, raw := env.get(t, "/api/files/r1/a.txt")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "content", string(raw))

	code, _ = env.get(t, "/api/files/r1/missing.txt")
	assert.Equal(t, http.StatusNotFound, code)
}

// ========================================
// 推送
// ========================================

func TestWebSocketPushesSnapshots(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.srv.deps.Controller.NewSession()

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws?sessionId=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first bus.Message
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, bus.MsgSessionSnapshot, first.Type)
	var snap uistate.SessionSnapshot
	require.NoError(t, json.Unmarshal(first.Payload, &snap))
	assert.Equal(t, sessionID, snap.SessionID)

	// 订阅建立后发生的变化会被推送
	require.Eventually(t, func() bool { return env.srv.deps.Bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	_, err = env.srv.deps.Controller.Submit(context.Background(), "hi", stream.ModeFlags{})
	require.NoError(t, err)

	var next bus.Message
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, bus.SessionTopic(sessionID, "snapshot"), next.Topic)
	assert.Greater(t, next.Seq, int64(0))
}

func TestSSEStreamsInitialSnapshot(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.srv.deps.Controller.NewSession()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.http.URL+"/api/events?sessionId="+sessionID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = v
			break
		}
	}
	assert.Equal(t, bus.MsgSessionSnapshot, event)
	var msg bus.Message
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	assert.Equal(t, bus.SessionTopic(sessionID, "snapshot"), msg.Topic)
}

func TestCheckLocalOrigin(t *testing.T) {
	tests := []struct {
		origin, host string
		want         bool
	}{
		{"", "example.com", true},
		{"http://localhost:5173", "example.com", true},
		{"http://127.0.0.1:8080", "example.com", true},
		{"https://console.example.com", "console.example.com", true},
		{"https://evil.example.com", "console.example.com", false},
	}
	for _, tc := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Host = tc.host
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := checkLocalOrigin(r); got != tc.want {
			t.Errorf("checkLocalOrigin(%q, host=%q) = %v, want %v", tc.origin, tc.host, got, tc.want)
		}
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	code, raw := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(raw), `"status":"ok"`)
	assert.Contains(t, string(raw), `"dropped":0`)
	assert.Contains(t, string(raw), `"published":`)
}
