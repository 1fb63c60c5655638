package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func setupLimitedRouter(rl *RateLimiter, userID int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	})
	r.POST("/typing", rl.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	router := setupLimitedRouter(NewRateLimiter(1, 2), 1)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/typing", nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestRateLimiterRejectsAboveBurst(t *testing.T) {
	router := setupLimitedRouter(NewRateLimiter(0.001, 1), 1)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/typing", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/typing", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimiterIsPerUser(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)

	routerA := setupLimitedRouter(rl, 1)
	rec := httptest.NewRecorder()
	routerA.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/typing", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// A different user gets their own bucket.
	routerB := setupLimitedRouter(rl, 2)
	rec = httptest.NewRecorder()
	routerB.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/typing", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}
