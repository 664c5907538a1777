package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/webhook"

	"vinc-payment-service/internal/models"
)

// StripeCredentials are the decrypted credentials a Stripe configuration
// must carry.
type StripeCredentials struct {
	SecretKey     string `json:"secret_key"`
	WebhookSecret string `json:"webhook_secret"`
}

// StripeGateway implements the PaymentGateway interface for Stripe
type StripeGateway struct {
	creds  StripeCredentials
	mode   models.ProviderMode
	config models.JSONB
}

// NewStripeGateway creates a new Stripe gateway instance
func NewStripeGateway(creds StripeCredentials, mode models.ProviderMode, config models.JSONB) (*StripeGateway, error) {
	if creds.SecretKey == "" {
		return nil, NewGatewayError(models.ProviderStripe, CodeInvalidCredential, "stripe secret key is required", false)
	}

	return &StripeGateway{
		creds:  creds,
		mode:   mode,
		config: config,
	}, nil
}

// GetProvider returns the provider type
func (g *StripeGateway) GetProvider() models.Provider {
	return models.ProviderStripe
}

// CreatePaymentIntent creates a Stripe PaymentIntent
func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req *CreatePaymentRequest) (*PaymentIntentResult, error) {
	stripe.Key = g.creds.SecretKey

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toCents(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"order_id": req.OrderID,
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, g.wrapError(err)
	}

	return g.intentToResult(pi), nil
}

// ConfirmPayment confirms a Stripe PaymentIntent (3DS step-up path)
func (g *StripeGateway) ConfirmPayment(ctx context.Context, providerIntentID string) (*PaymentIntentResult, error) {
	stripe.Key = g.creds.SecretKey

	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	pi, err := paymentintent.Confirm(providerIntentID, params)
	if err != nil {
		return nil, g.wrapError(err)
	}

	return g.intentToResult(pi), nil
}

// GetPaymentStatus fetches the PaymentIntent state from Stripe
func (g *StripeGateway) GetPaymentStatus(ctx context.Context, providerIntentID string) (*PaymentIntentResult, error) {
	stripe.Key = g.creds.SecretKey

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(providerIntentID, params)
	if err != nil {
		return nil, g.wrapError(err)
	}

	return g.intentToResult(pi), nil
}

// CreateRefund creates a refund against a PaymentIntent. A nil amount
// refunds the full original charge.
func (g *StripeGateway) CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	stripe.Key = g.creds.SecretKey

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ProviderTransactionID),
	}
	params.Context = ctx
	if req.Amount != nil {
		params.Amount = stripe.Int64(toCents(*req.Amount))
	}
	if req.Reason != "" {
		params.Reason = stripe.String(mapStripeRefundReason(req.Reason))
	}

	r, err := refund.New(params)
	if err != nil {
		return nil, g.wrapError(err)
	}

	return &RefundResult{
		ProviderRefundID: r.ID,
		Amount:           fromCents(r.Amount),
		Currency:         strings.ToUpper(string(r.Currency)),
		Status:           string(r.Status),
	}, nil
}

// VerifyWebhook verifies the Stripe-Signature header over the raw body
func (g *StripeGateway) VerifyWebhook(ctx context.Context, payload []byte, signature string, headers map[string]string) (map[string]interface{}, error) {
	if g.creds.WebhookSecret == "" {
		return nil, NewGatewayError(models.ProviderStripe, CodeInvalidCredential, "stripe webhook secret not configured", false)
	}

	event, err := webhook.ConstructEvent(payload, signature, g.creds.WebhookSecret)
	if err != nil {
		return nil, NewGatewayError(models.ProviderStripe, CodeSignatureInvalid, err.Error(), false)
	}

	var verified map[string]interface{}
	if err := json.Unmarshal(payload, &verified); err != nil {
		return nil, NewGatewayError(models.ProviderStripe, CodeMalformedPayload, err.Error(), false)
	}
	verified["id"] = event.ID
	verified["type"] = string(event.Type)
	return verified, nil
}

// PaymentMethodInfo returns static checkout metadata for Stripe
func (g *StripeGateway) PaymentMethodInfo() MethodInfo {
	return MethodInfo{
		Name:             string(models.ProviderStripe),
		DisplayName:      "Credit/Debit Card",
		Type:             models.MethodCard,
		MinAmount:        0.50,
		SupportsRefund:   true,
		RequiresRedirect: false,
	}
}

func (g *StripeGateway) intentToResult(pi *stripe.PaymentIntent) *PaymentIntentResult {
	status := MapStripeStatus(string(pi.Status))
	result := &PaymentIntentResult{
		ProviderIntentID: pi.ID,
		ClientSecret:     pi.ClientSecret,
		Status:           status,
		RequiresAction:   status == models.PaymentRequiresAction,
		Amount:           fromCents(pi.Amount),
		Currency:         strings.ToUpper(string(pi.Currency)),
	}
	if pi.LatestCharge != nil {
		result.ProviderTransactionID = pi.LatestCharge.ID
	}
	return result
}

// MapStripeStatus maps a Stripe PaymentIntent status string to the
// internal status. Unknown strings default to pending.
func MapStripeStatus(status string) models.PaymentStatus {
	switch status {
	case "requires_payment_method", "requires_confirmation":
		return models.PaymentPending
	case "requires_action":
		return models.PaymentRequiresAction
	case "processing", "requires_capture":
		return models.PaymentProcessing
	case "succeeded":
		return models.PaymentSucceeded
	case "canceled":
		return models.PaymentCancelled
	default:
		return models.PaymentPending
	}
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(reason) {
	case "duplicate":
		return string(stripe.RefundReasonDuplicate)
	case "fraudulent":
		return string(stripe.RefundReasonFraudulent)
	default:
		return string(stripe.RefundReasonRequestedByCustomer)
	}
}

func (g *StripeGateway) wrapError(err error) error {
	if stripeErr, ok := err.(*stripe.Error); ok {
		return &GatewayError{
			Provider:  models.ProviderStripe,
			Code:      CodeProviderAPIError,
			Message:   fmt.Sprintf("%s: %s", stripeErr.Code, stripeErr.Msg),
			Retryable: stripeErr.HTTPStatusCode == 429 || stripeErr.Code == stripe.ErrorCodeLockTimeout,
		}
	}
	return NewGatewayError(models.ProviderStripe, CodeProviderAPIError, err.Error(), true)
}

// Stripe amounts are integer cents
func toCents(amount float64) int64 {
	return int64(amount*100 + 0.5)
}

func fromCents(cents int64) float64 {
	return float64(cents) / 100
}
