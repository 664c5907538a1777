package gateway

import (
	"context"
	"errors"

	"vinc-payment-service/internal/models"
)

// PaymentGateway defines the interface all provider adapters implement.
// The orchestrator and webhook pipeline are provider-agnostic; every
// unit conversion and status-string mapping lives inside the adapter.
type PaymentGateway interface {
	// GetProvider returns the provider this adapter talks to
	GetProvider() models.Provider

	// CreatePaymentIntent initiates a payment with the provider
	CreatePaymentIntent(ctx context.Context, req *CreatePaymentRequest) (*PaymentIntentResult, error)

	// ConfirmPayment confirms/captures a payment. Providers without an
	// explicit capture step alias this to a status re-fetch.
	ConfirmPayment(ctx context.Context, providerIntentID string) (*PaymentIntentResult, error)

	// GetPaymentStatus fetches the current provider-side state. Idempotent,
	// side-effect-free.
	GetPaymentStatus(ctx context.Context, providerIntentID string) (*PaymentIntentResult, error)

	// CreateRefund refunds a charge. A nil amount means a full refund of
	// the original charge.
	CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error)

	// VerifyWebhook authenticates an inbound webhook and returns the
	// verified event payload. An unverified payload is never partially
	// trusted.
	VerifyWebhook(ctx context.Context, payload []byte, signature string, headers map[string]string) (map[string]interface{}, error)

	// PaymentMethodInfo returns static checkout metadata. Never calls the
	// network.
	PaymentMethodInfo() MethodInfo
}

// CreatePaymentRequest represents a request to create a payment
type CreatePaymentRequest struct {
	OrderID       string
	Amount        float64
	Currency      string
	CustomerEmail string
	Description   string
	Metadata      map[string]string
	ReturnURL     string
	CancelURL     string
}

// PaymentIntentResult represents the provider-side state of an intent
type PaymentIntentResult struct {
	ProviderIntentID      string                 `json:"providerIntentId"`
	ProviderTransactionID string                 `json:"providerTransactionId,omitempty"`
	ClientSecret          string                 `json:"clientSecret,omitempty"`
	RedirectURL           string                 `json:"redirectUrl,omitempty"`
	Status                models.PaymentStatus   `json:"status"`
	RequiresAction        bool                   `json:"requiresAction"`
	Amount                float64                `json:"amount"`
	Currency              string                 `json:"currency"`
	Metadata              map[string]interface{} `json:"metadata,omitempty"`
}

// RefundRequest represents a request to create a refund.
// Amount nil means full refund of the original charge.
type RefundRequest struct {
	ProviderTransactionID string
	Amount                *float64
	Currency              string
	Reason                string
}

// RefundResult represents the result of a refund operation
type RefundResult struct {
	ProviderRefundID string  `json:"providerRefundId"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	Status           string  `json:"status"`
}

// MethodInfo is the static checkout-time description of a payment method
type MethodInfo struct {
	Name             string                   `json:"name"`
	DisplayName      string                   `json:"displayName"`
	Type             models.PaymentMethodType `json:"type"`
	MinAmount        float64                  `json:"minAmount"`
	MaxAmount        float64                  `json:"maxAmount"` // 0 means no cap
	SupportsRefund   bool                     `json:"supportsRefund"`
	RequiresRedirect bool                     `json:"requiresRedirect"`
	LogoURL          string                   `json:"logoUrl,omitempty"`
}

// Gateway error codes
const (
	CodeSignatureInvalid  = "signature_invalid"
	CodeMalformedPayload  = "malformed_payload"
	CodeNotSupported      = "not_supported"
	CodeProviderAPIError  = "provider_api_error"
	CodeInvalidCredential = "invalid_credentials"
)

// GatewayError represents an error from a payment provider
type GatewayError struct {
	Provider  models.Provider `json:"provider"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
}

func (e *GatewayError) Error() string {
	return string(e.Provider) + ": " + e.Message
}

// NewGatewayError creates a new gateway error
func NewGatewayError(provider models.Provider, code, message string, retryable bool) *GatewayError {
	return &GatewayError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: retryable,
	}
}

// IsGatewayError extracts a *GatewayError from err, unwrapping as needed
func IsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
