package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes[i] = w.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// a different client has its own budget
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLimiterSetEvictsIdleClients(t *testing.T) {
	now := time.Unix(1000, 0)
	set := newLimiterSet(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute},
		func() time.Time { return now })

	assert.True(t, set.allow("a"))
	assert.True(t, set.allow("b"))
	assert.False(t, set.allow("a"))
	assert.Equal(t, 2, set.len())

	now = now.Add(30 * time.Second)
	assert.True(t, set.allow("b"))

	now = now.Add(45 * time.Second)
	assert.True(t, set.allow("c"))
	assert.Equal(t, 2, set.len(), "a was idle past the TTL")

	now = now.Add(2 * time.Minute)
	assert.True(t, set.allow("a"))
	assert.Equal(t, 1, set.len())
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "http://x.test", "*"},
		{"listed", []string{"http://a.test"}, "http://a.test", "http://a.test"},
		{"unlisted", []string{"http://a.test"}, "http://x.test", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCORSConfig()
			cfg.AllowOrigins = tt.origins

			r := gin.New()
			r.Use(CORS(cfg))
			r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", tt.origin)
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, OriginAllowed([]string{"http://a.test"}, ""))
	assert.True(t, OriginAllowed(nil, "http://x.test"))
	assert.True(t, OriginAllowed([]string{"*"}, "http://x.test"))
	assert.True(t, OriginAllowed([]string{"http://a.test"}, "http://a.test"))
	assert.False(t, OriginAllowed([]string{"http://a.test"}, "http://x.test"))
}
