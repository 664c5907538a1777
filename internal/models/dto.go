package models

import "github.com/google/uuid"

// CreatePaymentIntentRequest represents a request to create a payment intent
type CreatePaymentIntentRequest struct {
	TenantID      string            `json:"tenantId" binding:"required"`
	StorefrontID  string            `json:"storefrontId"`
	OrderID       string            `json:"orderId" binding:"required"`
	Amount        float64           `json:"amount" binding:"required,gt=0"`
	Currency      string            `json:"currency"`
	Provider      Provider          `json:"provider" binding:"required"`
	CustomerEmail string            `json:"customerEmail"`
	CustomerID    *uuid.UUID        `json:"customerId"`
	Metadata      map[string]string `json:"metadata"`
	ReturnURL     string            `json:"returnUrl"` // redirect-based providers
	CancelURL     string            `json:"cancelUrl"`
}

// PaymentIntentResponse represents the response after creating a payment intent
type PaymentIntentResponse struct {
	TransactionID           string        `json:"transactionId"`
	ProviderPaymentIntentID string        `json:"providerPaymentIntentId,omitempty"`
	Provider                Provider      `json:"provider"`
	Amount                  float64       `json:"amount"`
	Currency                string        `json:"currency"`
	Status                  PaymentStatus `json:"status"`
	ClientSecret            string        `json:"clientSecret,omitempty"`
	RedirectURL             string        `json:"redirectUrl,omitempty"`
	RequiresAction          bool          `json:"requiresAction"`

	// Bank transfer only
	Reference    string `json:"reference,omitempty"`
	Instructions JSONB  `json:"instructions,omitempty"`
}

// CreateRefundRequest represents a request to refund a transaction.
// A nil amount refunds the remaining balance.
type CreateRefundRequest struct {
	Amount *float64 `json:"amount" binding:"omitempty,gt=0"`
	Reason string   `json:"reason"`
}

// RefundResponse represents the response after a refund
type RefundResponse struct {
	TransactionID    string        `json:"transactionId"`
	ProviderRefundID string        `json:"providerRefundId,omitempty"`
	Amount           float64       `json:"amount"`
	Currency         string        `json:"currency"`
	RefundedAmount   float64       `json:"refundedAmount"`
	Status           PaymentStatus `json:"status"`
}

// TransactionStatusResponse represents a transaction status lookup
type TransactionStatusResponse struct {
	ID                      string        `json:"id"`
	OrderID                 string        `json:"orderId"`
	Provider                Provider      `json:"provider"`
	Amount                  float64       `json:"amount"`
	Currency                string        `json:"currency"`
	Status                  PaymentStatus `json:"status"`
	ProviderPaymentIntentID string        `json:"providerPaymentIntentId,omitempty"`
	ProviderTransactionID   string        `json:"providerTransactionId,omitempty"`
	RefundedAmount          float64       `json:"refundedAmount"`
	ErrorMessage            string        `json:"errorMessage,omitempty"`
	CompletedAt             *string       `json:"completedAt,omitempty"`
	CreatedAt               string        `json:"createdAt"`
}

// ConfigureProviderRequest represents a request to configure a tenant provider
type ConfigureProviderRequest struct {
	Provider    Provider               `json:"provider" binding:"required"`
	Mode        ProviderMode           `json:"mode" binding:"required,oneof=test live"`
	IsEnabled   *bool                  `json:"isEnabled"`
	Credentials map[string]interface{} `json:"credentials" binding:"required"`
	Config      JSONB                  `json:"config"`
	FeeBearer   FeeBearer              `json:"feeBearer"`
	Fees        JSONB                  `json:"fees"`
}

// UpdateProviderRequest represents a partial update of a tenant provider
type UpdateProviderRequest struct {
	Mode        ProviderMode           `json:"mode" binding:"omitempty,oneof=test live"`
	IsEnabled   *bool                  `json:"isEnabled"`
	Credentials map[string]interface{} `json:"credentials"`
	Config      JSONB                  `json:"config"`
	FeeBearer   FeeBearer              `json:"feeBearer"`
	Fees        JSONB                  `json:"fees"`
}

// StorefrontMethodRequest represents a request to enable or update a
// storefront payment method
type StorefrontMethodRequest struct {
	Provider           Provider `json:"provider" binding:"required"`
	IsEnabled          *bool    `json:"isEnabled"`
	DisplayName        string   `json:"displayName"`
	DisplayDescription string   `json:"displayDescription"`
	DisplayOrder       int      `json:"displayOrder"`
	Icon               string   `json:"icon"`
	Conditions         JSONB    `json:"conditions"`
}

// AvailableMethod represents a payment method offered at checkout
type AvailableMethod struct {
	Provider        Provider          `json:"provider"`
	DisplayName     string            `json:"displayName"`
	Description     string            `json:"description,omitempty"`
	Type            PaymentMethodType `json:"type"`
	Icon            string            `json:"icon,omitempty"`
	DisplayOrder    int               `json:"displayOrder"`
	RequiresRedirect bool             `json:"requiresRedirect"`
	MinAmount       float64           `json:"minAmount,omitempty"`
	MaxAmount       float64           `json:"maxAmount,omitempty"`
}

// TransactionFilters narrows a transaction listing
type TransactionFilters struct {
	TenantID     string
	StorefrontID string
	OrderID      string
	Provider     Provider
	Status       PaymentStatus
}

// AnalyticsResponse aggregates transaction totals for a tenant
type AnalyticsResponse struct {
	TotalTransactions int64                    `json:"totalTransactions"`
	TotalAmount       float64                  `json:"totalAmount"`
	TotalRefunded     float64                  `json:"totalRefunded"`
	ByProvider        map[string]ProviderStats `json:"byProvider"`
	ByStatus          map[string]int64         `json:"byStatus"`
}

// ProviderStats holds per-provider aggregates
type ProviderStats struct {
	Count  int64   `json:"count"`
	Amount float64 `json:"amount"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}
