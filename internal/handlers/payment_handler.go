package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vinc-payment-service/internal/gateway"
	"vinc-payment-service/internal/models"
	"vinc-payment-service/internal/repository"
	"vinc-payment-service/internal/services"
)

// PaymentHandler handles payment-related HTTP requests
type PaymentHandler struct {
	service *services.PaymentService
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(service *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// GetAvailableMethods handles GET /api/v1/payments/storefronts/:storefrontId/methods
func (h *PaymentHandler) GetAvailableMethods(c *gin.Context) {
	storefrontID := c.Param("storefrontId")
	if storefrontID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Storefront ID is required",
		})
		return
	}

	amount, _ := strconv.ParseFloat(c.Query("amount"), 64)

	methods, err := h.service.GetAvailableMethods(c.Request.Context(), storefrontID, amount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to list payment methods",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"methods": methods})
}

// CreatePaymentIntent handles POST /api/v1/payments/intent
func (h *PaymentHandler) CreatePaymentIntent(c *gin.Context) {
	var req models.CreatePaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	response, err := h.service.CreateIntent(c.Request.Context(), &req)
	if err != nil {
		writePaymentError(c, "Failed to create payment intent", err)
		return
	}

	c.JSON(http.StatusCreated, response)
}

// GetTransactionStatus handles GET /api/v1/payments/:id/status.
// With ?sync=true the provider-side state is re-fetched first.
func (h *PaymentHandler) GetTransactionStatus(c *gin.Context) {
	transactionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid transaction ID",
			Message: err.Error(),
		})
		return
	}

	var response *models.TransactionStatusResponse
	if c.Query("sync") == "true" {
		response, err = h.service.SyncTransactionStatus(c.Request.Context(), transactionID)
	} else {
		response, err = h.service.GetTransactionStatus(c.Request.Context(), transactionID)
	}
	if err != nil {
		writePaymentError(c, "Failed to get transaction status", err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// RefundTransaction handles POST /api/v1/payments/:id/refund
func (h *PaymentHandler) RefundTransaction(c *gin.Context) {
	transactionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid transaction ID",
			Message: err.Error(),
		})
		return
	}

	var req models.CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	response, err := h.service.RefundTransaction(c.Request.Context(), transactionID, &req)
	if err != nil {
		writePaymentError(c, "Failed to refund transaction", err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// ConfirmBankTransfer handles POST /api/v1/payments/:id/confirm-bank-transfer
func (h *PaymentHandler) ConfirmBankTransfer(c *gin.Context) {
	transactionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid transaction ID",
			Message: err.Error(),
		})
		return
	}

	response, err := h.service.ConfirmBankTransfer(c.Request.Context(), transactionID)
	if err != nil {
		writePaymentError(c, "Failed to confirm bank transfer", err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// ListTransactions handles GET /api/v1/payments/transactions
func (h *PaymentHandler) ListTransactions(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Tenant ID is required",
		})
		return
	}

	filters := &models.TransactionFilters{
		TenantID:     tenantID,
		StorefrontID: c.Query("storefrontId"),
		OrderID:      c.Query("orderId"),
		Provider:     models.Provider(c.Query("provider")),
		Status:       models.PaymentStatus(c.Query("status")),
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	transactions, total, err := h.service.ListTransactions(c.Request.Context(), filters, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to list transactions",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": transactions,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

// GetAnalytics handles GET /api/v1/payments/analytics
func (h *PaymentHandler) GetAnalytics(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Tenant ID is required",
		})
		return
	}

	var from, to *time.Time
	if t, err := time.Parse(time.RFC3339, c.Query("from")); err == nil {
		from = &t
	}
	if t, err := time.Parse(time.RFC3339, c.Query("to")); err == nil {
		to = &t
	}

	analytics, err := h.service.GetAnalytics(c.Request.Context(), tenantID, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to get analytics",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, analytics)
}

// writePaymentError maps domain errors onto HTTP statuses
func writePaymentError(c *gin.Context, title string, err error) {
	status := http.StatusInternalServerError
	code := ""

	switch {
	case errors.Is(err, services.ErrTransactionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrProviderNotConfigured),
		errors.Is(err, models.ErrProviderDisabled),
		errors.Is(err, models.ErrInvalidProvider),
		errors.Is(err, models.ErrMethodNotAvailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrNotRefundable),
		errors.Is(err, repository.ErrRefundExceedsCap):
		status = http.StatusBadRequest
	default:
		if ge, ok := gateway.IsGatewayError(err); ok {
			status = http.StatusBadGateway
			code = ge.Code
		}
	}

	c.JSON(status, models.ErrorResponse{
		Error:   title,
		Message: err.Error(),
		Code:    code,
	})
}
