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

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func get(r http.Handler, remote, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = remote
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitPerClient(t *testing.T) {
	r := newRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))

	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1:1000", "").Code)
	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1:1000", "").Code)
	w := get(r, "10.0.0.1:1000", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate limit exceeded")

	// another client has its own bucket
	assert.Equal(t, http.StatusOK, get(r, "10.0.0.2:1000", "").Code)
}

func TestRateLimitEvictsIdleClients(t *testing.T) {
	l := newLimiters(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute})
	now := time.Now()
	l.now = func() time.Time { return now }

	l.get("a")
	l.get("b")
	assert.Equal(t, 2, l.len())

	now = now.Add(2 * time.Minute)
	l.get("c")
	assert.Equal(t, 1, l.len())
}

func TestCORS(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		r := newRouter(CORS(DefaultCORSConfig(nil)))
		w := get(r, "10.0.0.1:1000", "http://anywhere.example")
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("restricted", func(t *testing.T) {
		r := newRouter(CORS(DefaultCORSConfig([]string{"http://localhost:3000"})))

		w := get(r, "10.0.0.1:1000", "http://localhost:3000")
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

		w = get(r, "10.0.0.1:1000", "http://evil.example")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
