package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskSensitiveData(t *testing.T) {
	masked := MaskSensitiveData(map[string]interface{}{
		"api_key":  "sk_live_secret",
		"order_id": "order-1",
		"credentials": map[string]interface{}{
			"client_secret": "abc",
			"mode":          "live",
		},
	})

	assert.Equal(t, "***MASKED***", masked["api_key"])
	assert.Equal(t, "order-1", masked["order_id"])

	nested, ok := masked["credentials"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "***MASKED***", nested["client_secret"])
	assert.Equal(t, "live", nested["mode"])
}

func TestMaskedQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/payments/transactions?orderId=order-1&api_key=leaked", nil)

	query := maskedQuery(c)
	assert.Equal(t, "order-1", query["orderId"])
	assert.Equal(t, "***MASKED***", query["api_key"])

	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)
	assert.Nil(t, maskedQuery(c))
}
