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

func TestAbortStopsChain(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reached := false
	r := gin.New()
	r.GET("/lives", func(c *gin.Context) {
		Abort(c, http.StatusForbidden, "insufficient permissions")
	}, func(c *gin.Context) {
		reached = true
		OK(c, "unreachable")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lives", nil))

	assert.False(t, reached)
	assert.Equal(t, http.StatusForbidden, w.Code)
	var body Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "insufficient permissions", body.Error)
	assert.Nil(t, body.Data)
}

func TestJSONWrapsData(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/lives", func(c *gin.Context) {
		JSON(c, http.StatusCreated, gin.H{"id": "abc"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/lives", nil))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"id":"abc"}}`, w.Body.String())
}
