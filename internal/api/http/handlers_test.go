package http

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termbroker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termbroker/internal/terminal"
)

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) Write(id terminal.ID, data []byte) bool {
	return m.Called(id, data).Bool(0)
}

func (m *mockSessions) Resize(id terminal.ID, cols, rows int) bool {
	return m.Called(id, cols, rows).Bool(0)
}

func (m *mockSessions) Kill(id terminal.ID) *terminal.Termination {
	return m.Called(id).Get(0).(*terminal.Termination)
}

func (m *mockSessions) TeardownAll() int {
	return m.Called().Int(0)
}

func (m *mockSessions) Session(id terminal.ID) (terminal.Info, bool) {
	args := m.Called(id)
	return args.Get(0).(terminal.Info), args.Bool(1)
}

func (m *mockSessions) Sessions() []terminal.Info {
	return m.Called().Get(0).([]terminal.Info)
}

func setupRouter(sessions Sessions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(sessions, monitoring.NewMetrics(), zap.NewNop())

	r := gin.New()
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/platform", h.Platform)
	r.GET("/sessions", h.ListSessions)
	r.POST("/sessions/teardown", h.Teardown)
	r.GET("/sessions/:id", h.GetSession)
	r.POST("/sessions/:id/input", h.SendInput)
	r.POST("/sessions/:id/resize", h.ResizeSession)
	r.DELETE("/sessions/:id", h.KillSession)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestRootAndHealth(t *testing.T) {
	sessions := new(mockSessions)
	sessions.On("Sessions").Return([]terminal.Info{{ID: 1}, {ID: 2}})
	r := setupRouter(sessions)

	w := do(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "termbroker", decode[map[string]any](t, w)["service"])

	w = do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 2, body["sessions"])
}

func TestPlatform(t *testing.T) {
	r := setupRouter(new(mockSessions))

	w := do(r, http.MethodGet, "/platform", "")
	require.Equal(t, http.StatusOK, w.Code)

	got := decode[PlatformResponse](t, w)
	assert.Equal(t, runtime.GOOS, got.Platform)
	assert.Equal(t, terminal.LineTerminator(runtime.GOOS), got.LineTerminator)
}

func TestGetSession(t *testing.T) {
	sessions := new(mockSessions)
	info := terminal.Info{ID: 4, Shell: "bash", Cwd: "/srv", Cols: 80, Rows: 30, Pid: 99, Status: "running"}
	sessions.On("Session", terminal.ID(4)).Return(info, true)
	sessions.On("Session", terminal.ID(5)).Return(terminal.Info{}, false)
	sessions.On("Sessions").Return([]terminal.Info{info})
	r := setupRouter(sessions)

	w := do(r, http.MethodGet, "/sessions/4", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/srv", decode[terminal.Info](t, w).Cwd)

	w = do(r, http.MethodGet, "/sessions/5", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/sessions/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])
}

func TestControlEndpoints(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		setup  func(*mockSessions)
		status int
		want   bool
	}{
		{
			name:   "input delivered",
			path:   "/sessions/3/input",
			body:   `{"data": "ls -la\n"}`,
			setup:  func(m *mockSessions) { m.On("Write", terminal.ID(3), []byte("ls -la\n")).Return(true) },
			status: http.StatusAccepted,
			want:   true,
		},
		{
			name:   "input to unknown session",
			path:   "/sessions/8/input",
			body:   `{"data": "x"}`,
			setup:  func(m *mockSessions) { m.On("Write", terminal.ID(8), []byte("x")).Return(false) },
			status: http.StatusAccepted,
		},
		{
			name:   "resize delivered",
			path:   "/sessions/3/resize",
			body:   `{"cols": 120, "rows": 40}`,
			setup:  func(m *mockSessions) { m.On("Resize", terminal.ID(3), 120, 40).Return(true) },
			status: http.StatusAccepted,
			want:   true,
		},
		{
			name:   "resize zero size is passed through",
			path:   "/sessions/3/resize",
			body:   `{"cols": 0, "rows": 0}`,
			setup:  func(m *mockSessions) { m.On("Resize", terminal.ID(3), 0, 0).Return(true) },
			status: http.StatusAccepted,
			want:   true,
		},
		{
			name:   "resize missing rows",
			path:   "/sessions/3/resize",
			body:   `{"cols": 120}`,
			setup:  func(*mockSessions) {},
			status: http.StatusBadRequest,
		},
		{
			name:   "input malformed body",
			path:   "/sessions/3/input",
			body:   `{"data": `,
			setup:  func(*mockSessions) {},
			status: http.StatusBadRequest,
		},
		{
			name:   "zero id",
			path:   "/sessions/0/input",
			body:   `{"data": "x"}`,
			setup:  func(*mockSessions) {},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := new(mockSessions)
			tt.setup(sessions)
			r := setupRouter(sessions)

			w := do(r, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status == http.StatusAccepted {
				assert.Equal(t, tt.want, decode[ControlResponse](t, w).Delivered)
			}
			sessions.AssertExpectations(t)
		})
	}
}

func resolved(info terminal.ExitInfo, err error) *terminal.Termination {
	term := terminal.NewTermination()
	term.Resolve(info, err)
	return term
}

func TestKillSession(t *testing.T) {
	t.Run("unknown session", func(t *testing.T) {
		sessions := new(mockSessions)
		sessions.On("Kill", terminal.ID(9)).Return(resolved(terminal.ExitInfo{}, terminal.ErrUnknownSession))
		r := setupRouter(sessions)

		w := do(r, http.MethodDelete, "/sessions/9?wait=1s", "")
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, KillResponse{}, decode[KillResponse](t, w))
	})

	t.Run("without wait", func(t *testing.T) {
		sessions := new(mockSessions)
		sessions.On("Kill", terminal.ID(2)).Return(terminal.NewTermination())
		r := setupRouter(sessions)

		w := do(r, http.MethodDelete, "/sessions/2", "")
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, KillResponse{Delivered: true}, decode[KillResponse](t, w))
	})

	t.Run("wait for exit", func(t *testing.T) {
		term := terminal.NewTermination()
		sessions := new(mockSessions)
		sessions.On("Kill", terminal.ID(2)).Return(term)
		r := setupRouter(sessions)

		sig := 15
		go func() {
			time.Sleep(20 * time.Millisecond)
			term.Resolve(terminal.ExitInfo{ExitCode: 143, Signal: &sig}, nil)
		}()

		w := do(r, http.MethodDelete, "/sessions/2?wait=2s", "")
		require.Equal(t, http.StatusAccepted, w.Code)
		got := decode[KillResponse](t, w)
		assert.True(t, got.Delivered)
		assert.True(t, got.Terminated)
		require.NotNil(t, got.Exit)
		assert.Equal(t, 143, got.Exit.ExitCode)
	})

	t.Run("wait times out", func(t *testing.T) {
		sessions := new(mockSessions)
		sessions.On("Kill", terminal.ID(2)).Return(terminal.NewTermination())
		r := setupRouter(sessions)

		w := do(r, http.MethodDelete, "/sessions/2?wait=10ms", "")
		require.Equal(t, http.StatusAccepted, w.Code)
		got := decode[KillResponse](t, w)
		assert.True(t, got.Delivered)
		assert.False(t, got.Terminated)
	})

	t.Run("bad wait", func(t *testing.T) {
		r := setupRouter(new(mockSessions))
		w := do(r, http.MethodDelete, "/sessions/2?wait=soon", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTeardown(t *testing.T) {
	sessions := new(mockSessions)
	sessions.On("TeardownAll").Return(3).Once()
	r := setupRouter(sessions)

	w := do(r, http.MethodPost, "/sessions/teardown", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `"killed":3`))
	sessions.AssertExpectations(t)
}
