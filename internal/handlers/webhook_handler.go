package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"vinc-payment-service/internal/gateway"
	"vinc-payment-service/internal/models"
	"vinc-payment-service/internal/services"
)

// WebhookHandler receives provider webhook calls. Routes are unauthenticated;
// authenticity comes from per-provider signature verification inside the
// pipeline.
type WebhookHandler struct {
	service *services.WebhookService
	logger  *logrus.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(service *services.WebhookService, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, logger: logger}
}

// HandleStripe handles POST /payments/webhooks/stripe
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	h.handle(c, models.ProviderStripe, c.GetHeader("Stripe-Signature"))
}

// HandlePayPal handles POST /payments/webhooks/paypal
func (h *WebhookHandler) HandlePayPal(c *gin.Context) {
	h.handle(c, models.ProviderPayPal, c.GetHeader("Paypal-Transmission-Sig"))
}

// HandleNexi handles POST /payments/webhooks/nexi
func (h *WebhookHandler) HandleNexi(c *gin.Context) {
	h.handle(c, models.ProviderNexi, c.GetHeader("X-Nexi-Signature"))
}

// HandleBancaSella handles POST /payments/webhooks/banca-sella
func (h *WebhookHandler) HandleBancaSella(c *gin.Context) {
	h.handle(c, models.ProviderBancaSella, "")
}

// HandleScalapay handles POST /payments/webhooks/scalapay
func (h *WebhookHandler) HandleScalapay(c *gin.Context) {
	h.handle(c, models.ProviderScalapay, "")
}

func (h *WebhookHandler) handle(c *gin.Context, provider models.Provider, signature string) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Failed to read request body",
			Message: err.Error(),
		})
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for name := range c.Request.Header {
		headers[name] = c.GetHeader(name)
	}

	result, err := h.service.Process(c.Request.Context(), provider, body, signature, headers)
	if err != nil {
		status := http.StatusInternalServerError
		if ge, ok := gateway.IsGatewayError(err); ok {
			switch ge.Code {
			case gateway.CodeSignatureInvalid, gateway.CodeMalformedPayload:
				status = http.StatusBadRequest
			}
		}

		h.logger.WithError(err).WithFields(logrus.Fields{
			"provider": provider,
			"outcome":  result.Outcome,
		}).Warn("Webhook processing failed")

		c.JSON(status, models.ErrorResponse{
			Error:   "Webhook processing failed",
			Message: result.Message,
		})
		return
	}

	// Duplicate and ignored events are acknowledged so the provider stops
	// retrying
	c.JSON(http.StatusOK, result)
}
