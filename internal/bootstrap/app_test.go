package bootstrap

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"situation-room/internal/domain"
	"situation-room/internal/service"
)

func memoryConfig() *Config {
	return &Config{
		AppEnv:              "test",
		LogLevel:            "warn",
		ServerPort:          "0",
		DBDriver:            DriverMemory,
		DispatchMode:        DispatchInline,
		AnalyzerProvider:    ProviderHeuristic,
		SweepInterval:       time.Minute,
		AnalysisTimeout:     time.Minute,
		AnalysisCallTimeout: time.Second,
		AnalysisConcurrency: 2,
		AnalysisMaxFailures: 3,
		AnalysisStallAfter:  time.Minute,
		ReportCacheTTL:      time.Minute,
		RateLimitMax:        1000,
		RateLimitWindow:     time.Second,
		CORSAllowedOrigin:   "*",
	}
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestNewApp_MemoryMode(t *testing.T) {
	app, err := NewApp(memoryConfig())
	require.NoError(t, err)
	assert.Nil(t, app.DB)
	assert.Nil(t, app.RedisClient)
	assert.Nil(t, app.AsynqServer)

	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/room", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestNewApp_RoomEventsReachWebSocket(t *testing.T) {
	app, err := NewApp(memoryConfig())
	require.NoError(t, err)
	go app.Hub.Run()
	defer app.Hub.Stop()

	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	w := postJSON(t, app.Router, "/room", map[string]any{"ownerId": "alice", "maxMembers": 3})
	require.Equal(t, http.StatusOK, w.Code)
	var view service.RoomView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/room/" + view.Code

	// 非成员不能订阅
	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?userId=mallory", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?userId=alice", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return app.Hub.ClientCount(view.Code) == 1 }, 2*time.Second, 10*time.Millisecond)

	w = postJSON(t, app.Router, "/room/join", map[string]any{"code": view.Code, "userId": "bob"})
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var event domain.RoomEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, domain.EventMemberJoined, event.Type)
	assert.Equal(t, "bob", event.UserID)
	assert.Equal(t, domain.RoomStatusInProgress, event.Status)
	assert.NotContains(t, string(data), "content", "事件不携带叙事内容")
}

func TestNewRouter_RateLimit(t *testing.T) {
	cfg := memoryConfig()
	cfg.RateLimitMax = 2
	cfg.RateLimitWindow = time.Minute
	app, err := NewApp(cfg)
	require.NoError(t, err)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/room/ZZZZZZ", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusNotFound, http.StatusNotFound, http.StatusTooManyRequests}, codes)

	// ping 不受限流影响
	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMigrate_MemoryHasNothingToDo(t *testing.T) {
	assert.Error(t, Migrate(memoryConfig()))
}
