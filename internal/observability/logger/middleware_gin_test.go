package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestGinMiddlewareKeepsTokensOutOfLogs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.DELETE("/v1/consumer/scan-sessions/:token", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/v1/business/reward-tiers/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	const secret = "k3y-Q9vS2xLr0aN5bHdT8pWfZ1cJmE7uYgRiOsV4nXq"
	cases := []struct {
		method    string
		path      string
		wantRoute string
		wantPath  bool
	}{
		{http.MethodDelete, "/v1/consumer/scan-sessions/" + secret, "/v1/consumer/scan-sessions/:token", false},
		{http.MethodDelete, "/v1/consumer/scan-sessions/" + secret + "/extra", "unknown", false},
		{http.MethodGet, "/v1/business/reward-tiers/42", "/v1/business/reward-tiers/:id", true},
	}
	for _, tc := range cases {
		logs.TakeAll()
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))

		entries := logs.FilterMessage("http_request").All()
		require.Len(t, entries, 1, tc.path)
		fields := entries[0].ContextMap()
		assert.Equal(t, tc.wantRoute, fields["route"], tc.path)
		_, hasPath := fields["path"]
		assert.Equal(t, tc.wantPath, hasPath, tc.path)
		for _, value := range fields {
			if s, ok := value.(string); ok {
				assert.NotContains(t, s, secret)
			}
		}
	}
}
