package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisRateLimitMiddleware_FixedWindow(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})

	g := gin.New()
	// allowed per window = floor(1*10)+1 = 11; use small numbers instead:
	// rps=0.1 window=10s burst=1 -> allowed = 2
	g.GET("/z", RedisRateLimitMiddleware(client, 0.1, 1, 10*time.Second), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/z", nil)
		req.RemoteAddr = "10.9.9.9:1"
		g.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusOK, do())
	require.Equal(t, http.StatusOK, do())
	require.Equal(t, http.StatusTooManyRequests, do())
}

func TestRedisRateLimitMiddleware_NilClientFallsBack(t *testing.T) {
	g := gin.New()
	g.GET("/f", RedisRateLimitMiddleware(nil, 100, 100, time.Second), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/f", nil)
	g.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
