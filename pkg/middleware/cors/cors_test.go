package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func perform(allowed []string, method, origin string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(New(allowed))
	engine.Any("/swaps", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(method, "/swaps", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestCORSListedOrigin(t *testing.T) {
	allowed := []string{"https://krs.example.ac.id/"}

	w := perform(allowed, http.MethodGet, "https://KRS.example.ac.id")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://KRS.example.ac.id", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "X-Request-ID", w.Header().Get("Access-Control-Expose-Headers"))

	w = perform(allowed, http.MethodOptions, "https://krs.example.ac.id")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestCORSUnlistedOrigin(t *testing.T) {
	allowed := []string{"https://krs.example.ac.id"}

	w := perform(allowed, http.MethodGet, "https://evil.example")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusForbidden, perform(allowed, http.MethodOptions, "https://evil.example").Code)
}

func TestCORSOpenWhenUnconfigured(t *testing.T) {
	w := perform(nil, http.MethodGet, "https://anywhere.example")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))

	w = perform(nil, http.MethodGet, "")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))
}
