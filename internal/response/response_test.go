package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var aborted, nextRan bool
	r.GET("/boom", func(c *gin.Context) {
		RespondError(c, http.StatusConflict, "conflict", errors.New("already done"))
		aborted = c.IsAborted()
	}, func(c *gin.Context) {
		nextRan = true
	})
	r.GET("/nil", func(c *gin.Context) {
		RespondError(c, http.StatusInternalServerError, "", nil)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, APIError{Message: "already done", Code: "conflict"}, env.Error)
	assert.True(t, aborted)
	assert.False(t, nextRan)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nil", nil))
	assert.JSONEq(t, `{"error":{"message":"unknown error"}}`, rec.Body.String())
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", HealthCheck)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
