package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"vinc-payment-service/internal/gateway"
	"vinc-payment-service/internal/models"
	"vinc-payment-service/internal/repository"
	"vinc-payment-service/internal/services"
)

func errorStatus(t *testing.T, err error) int {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	writePaymentError(c, "failed", err)
	return w.Code
}

func TestWritePaymentErrorStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, errorStatus(t, services.ErrTransactionNotFound))

	assert.Equal(t, http.StatusUnprocessableEntity, errorStatus(t, models.ErrProviderNotConfigured))
	assert.Equal(t, http.StatusUnprocessableEntity, errorStatus(t, models.ErrProviderDisabled))
	assert.Equal(t, http.StatusUnprocessableEntity, errorStatus(t, models.ErrInvalidProvider))
	assert.Equal(t, http.StatusUnprocessableEntity, errorStatus(t, models.ErrMethodNotAvailable))

	// Invalid refund requests are client errors, not conflicts
	assert.Equal(t, http.StatusBadRequest, errorStatus(t, repository.ErrNotRefundable))
	assert.Equal(t, http.StatusBadRequest, errorStatus(t, repository.ErrRefundExceedsCap))

	assert.Equal(t, http.StatusBadGateway, errorStatus(t,
		gateway.NewGatewayError(models.ProviderStripe, gateway.CodeProviderAPIError, "boom", true)))
}
