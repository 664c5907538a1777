package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"vinc-payment-service/internal/models"
)

const (
	scalapayTestURL = "https://staging.api.scalapay.com/v2"
	scalapayLiveURL = "https://api.scalapay.com/v2"

	// Scalapay caps pay-in-3 orders at 2000 EUR
	scalapayMaxAmount = 2000.0
)

// ScalapayCredentials are the decrypted credentials a Scalapay
// configuration must carry.
type ScalapayCredentials struct {
	APIKey string `json:"api_key"`
}

// ScalapayGateway implements the PaymentGateway interface for Scalapay
// buy-now-pay-later orders.
type ScalapayGateway struct {
	creds      ScalapayCredentials
	mode       models.ProviderMode
	config     models.JSONB
	baseURL    string
	httpClient *http.Client
}

// NewScalapayGateway creates a new Scalapay gateway instance
func NewScalapayGateway(creds ScalapayCredentials, mode models.ProviderMode, config models.JSONB, timeout time.Duration) (*ScalapayGateway, error) {
	if creds.APIKey == "" {
		return nil, NewGatewayError(models.ProviderScalapay, CodeInvalidCredential, "scalapay api key is required", false)
	}

	baseURL := scalapayLiveURL
	if mode == models.ModeTest {
		baseURL = scalapayTestURL
	}

	return &ScalapayGateway{
		creds:      creds,
		mode:       mode,
		config:     config,
		baseURL:    baseURL,
		httpClient: newHTTPClient(timeout),
	}, nil
}

// GetProvider returns the provider type
func (g *ScalapayGateway) GetProvider() models.Provider {
	return models.ProviderScalapay
}

type scalapayAmount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// CreatePaymentIntent creates a Scalapay order and returns its checkout
// URL. The order token doubles as the provider intent id.
func (g *ScalapayGateway) CreatePaymentIntent(ctx context.Context, req *CreatePaymentRequest) (*PaymentIntentResult, error) {
	if req.Amount > scalapayMaxAmount {
		return nil, NewGatewayError(models.ProviderScalapay, CodeNotSupported,
			fmt.Sprintf("amount %.2f exceeds the %.0f maximum", req.Amount, scalapayMaxAmount), false)
	}

	body := map[string]interface{}{
		"totalAmount": scalapayAmount{Amount: formatAmount(req.Amount), Currency: req.Currency},
		"consumer": map[string]interface{}{
			"email":       req.CustomerEmail,
			"givenNames":  req.Metadata["customer_first_name"],
			"surname":     req.Metadata["customer_last_name"],
			"phoneNumber": req.Metadata["customer_phone"],
		},
		"merchant": map[string]interface{}{
			"redirectConfirmUrl": req.ReturnURL,
			"redirectCancelUrl":  req.CancelURL,
		},
		"merchantReference": req.OrderID,
		"items": []map[string]interface{}{
			{
				"name":     req.Description,
				"quantity": 1,
				"price":    scalapayAmount{Amount: formatAmount(req.Amount), Currency: req.Currency},
			},
		},
		"taxAmount":      scalapayAmount{Amount: "0.00", Currency: req.Currency},
		"shippingAmount": scalapayAmount{Amount: "0.00", Currency: req.Currency},
	}

	var created struct {
		CheckoutURL string `json:"checkoutUrl"`
		Token       string `json:"token"`
	}
	err := doJSON(ctx, g.httpClient, models.ProviderScalapay, http.MethodPost,
		g.baseURL+"/orders", g.headers(), body, &created)
	if err != nil {
		return nil, err
	}

	return &PaymentIntentResult{
		ProviderIntentID: created.Token,
		RedirectURL:      created.CheckoutURL,
		Status:           models.PaymentPending,
		RequiresAction:   true,
		Amount:           req.Amount,
		Currency:         req.Currency,
	}, nil
}

// ConfirmPayment captures an approved order by its token
func (g *ScalapayGateway) ConfirmPayment(ctx context.Context, providerIntentID string) (*PaymentIntentResult, error) {
	body := map[string]interface{}{"token": providerIntentID}

	var captured struct {
		Token       string         `json:"token"`
		Status      string         `json:"status"`
		TotalAmount scalapayAmount `json:"totalAmount"`
	}
	err := doJSON(ctx, g.httpClient, models.ProviderScalapay, http.MethodPost,
		g.baseURL+"/payments/capture", g.headers(), body, &captured)
	if err != nil {
		return nil, err
	}

	status := MapScalapayStatus(captured.Status)
	amount, _ := strconv.ParseFloat(captured.TotalAmount.Amount, 64)
	return &PaymentIntentResult{
		ProviderIntentID:      providerIntentID,
		ProviderTransactionID: providerIntentID,
		Status:                status,
		RequiresAction:        status == models.PaymentRequiresAction,
		Amount:                amount,
		Currency:              captured.TotalAmount.Currency,
	}, nil
}

// GetPaymentStatus fetches the order state by token
func (g *ScalapayGateway) GetPaymentStatus(ctx context.Context, providerIntentID string) (*PaymentIntentResult, error) {
	var order struct {
		Status      string         `json:"status"`
		TotalAmount scalapayAmount `json:"totalAmount"`
	}
	err := doJSON(ctx, g.httpClient, models.ProviderScalapay, http.MethodGet,
		g.baseURL+"/orders/"+providerIntentID, g.headers(), nil, &order)
	if err != nil {
		return nil, err
	}

	status := MapScalapayStatus(order.Status)
	amount, _ := strconv.ParseFloat(order.TotalAmount.Amount, 64)
	return &PaymentIntentResult{
		ProviderIntentID: providerIntentID,
		Status:           status,
		RequiresAction:   status == models.PaymentRequiresAction,
		Amount:           amount,
		Currency:         order.TotalAmount.Currency,
	}, nil
}

// CreateRefund refunds a captured order. A nil amount refunds the full
// original charge.
func (g *ScalapayGateway) CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	body := map[string]interface{}{"token": req.ProviderTransactionID}
	if req.Amount != nil {
		body["amount"] = scalapayAmount{Amount: formatAmount(*req.Amount), Currency: req.Currency}
	}

	var refunded struct {
		RefundID     string         `json:"refundId"`
		RefundAmount scalapayAmount `json:"refundAmount"`
		Status       string         `json:"status"`
	}
	err := doJSON(ctx, g.httpClient, models.ProviderScalapay, http.MethodPost,
		g.baseURL+"/payments/refund", g.headers(), body, &refunded)
	if err != nil {
		return nil, err
	}

	amount, _ := strconv.ParseFloat(refunded.RefundAmount.Amount, 64)
	return &RefundResult{
		ProviderRefundID: refunded.RefundID,
		Amount:           amount,
		Currency:         refunded.RefundAmount.Currency,
		Status:           refunded.Status,
	}, nil
}

// VerifyWebhook validates the notification shape. Scalapay webhooks carry
// no signature; the order token is re-fetched against the API before any
// state change is applied.
func (g *ScalapayGateway) VerifyWebhook(ctx context.Context, payload []byte, signature string, headers map[string]string) (map[string]interface{}, error) {
	var event map[string]interface{}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, NewGatewayError(models.ProviderScalapay, CodeMalformedPayload, err.Error(), false)
	}

	token, _ := event["token"].(string)
	if token == "" {
		return nil, NewGatewayError(models.ProviderScalapay, CodeMalformedPayload, "missing token", false)
	}
	return event, nil
}

// PaymentMethodInfo returns static checkout metadata for Scalapay
func (g *ScalapayGateway) PaymentMethodInfo() MethodInfo {
	return MethodInfo{
		Name:             string(models.ProviderScalapay),
		DisplayName:      "Scalapay - Pay in 3",
		Type:             models.MethodBNPL,
		MinAmount:        5.00,
		MaxAmount:        scalapayMaxAmount,
		SupportsRefund:   true,
		RequiresRedirect: true,
	}
}

func (g *ScalapayGateway) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + g.creds.APIKey}
}

// MapScalapayStatus maps a Scalapay order status to the internal status.
// Unknown strings default to pending.
func MapScalapayStatus(status string) models.PaymentStatus {
	switch status {
	case "pending":
		return models.PaymentPending
	case "approved":
		return models.PaymentProcessing
	case "captured":
		return models.PaymentSucceeded
	case "cancelled":
		return models.PaymentCancelled
	case "declined":
		return models.PaymentFailed
	case "refunded":
		return models.PaymentRefunded
	default:
		return models.PaymentPending
	}
}
