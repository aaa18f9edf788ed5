package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, write func(c *gin.Context)) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	write(c)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestOK_WrapsData(t *testing.T) {
	w, body := record(t, func(c *gin.Context) { OK(c, gin.H{"throw_id": "t1", "degraded": true}) })

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.NotContains(t, body, "error")
	assert.Equal(t, map[string]interface{}{"throw_id": "t1", "degraded": true}, body["data"])
}

func TestFailures_OmitData(t *testing.T) {
	cases := []struct {
		write  func(c *gin.Context, msg string)
		status int
	}{
		{BadRequest, http.StatusBadRequest},
		{Unauthorized, http.StatusUnauthorized},
		{NotFound, http.StatusNotFound},
		{Conflict, http.StatusConflict},
		{ServiceUnavailable, http.StatusServiceUnavailable},
		{Internal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w, body := record(t, func(c *gin.Context) { tc.write(c, "File must be a video") })
		assert.Equal(t, tc.status, w.Code)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "File must be a video", body["error"])
		assert.NotContains(t, body, "data")
	}
}

func TestTooManyRequests_SetsRetryAfter(t *testing.T) {
	w, body := record(t, func(c *gin.Context) { TooManyRequests(c, 60, "slow down") })

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "slow down", body["error"])
}
