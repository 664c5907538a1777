package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"vinc-payment-service/internal/models"
)

const (
	nexiTestURL = "https://int-ecommerce.nexi.it"
	nexiLiveURL = "https://ecommerce.nexi.it"
)

// NexiCredentials are the decrypted credentials a Nexi configuration
// must carry.
type NexiCredentials struct {
	APIKey        string `json:"api_key"`
	WebhookSecret string `json:"webhook_secret"`
}

// NexiGateway implements the PaymentGateway interface for Nexi XPay
// hosted payments.
type NexiGateway struct {
	creds      NexiCredentials
	mode       models.ProviderMode
	config     models.JSONB
	baseURL    string
	httpClient *http.Client
}

// NewNexiGateway creates a new Nexi gateway instance
func NewNexiGateway(creds NexiCredentials, mode models.ProviderMode, config models.JSONB, timeout time.Duration) (*NexiGateway, error) {
	if creds.APIKey == "" {
		return nil, NewGatewayError(models.ProviderNexi, CodeInvalidCredential, "nexi api key is required", false)
	}

	baseURL := nexiLiveURL
	if mode == models.ModeTest {
		baseURL = nexiTestURL
	}

	return &NexiGateway{
		creds:      creds,
		mode:       mode,
		config:     config,
		baseURL:    baseURL,
		httpClient: newHTTPClient(timeout),
	}, nil
}

// GetProvider returns the provider type
func (g *NexiGateway) GetProvider() models.Provider {
	return models.ProviderNexi
}

// CreatePaymentIntent creates a hosted payment and returns the page the
// customer is redirected to. Nexi amounts are integer cents.
func (g *NexiGateway) CreatePaymentIntent(ctx context.Context, req *CreatePaymentRequest) (*PaymentIntentResult, error) {
	body := map[string]interface{}{
		"amount":        toCents(req.Amount),
		"currency":      req.Currency,
		"transactionId": req.OrderID,
		"description":   req.Description,
		"customerId":    req.CustomerEmail,
		"urlBack":       req.CancelURL,
		"urlPost":       req.ReturnURL,
		"languageId":    "ITA",
		"customFields":  req.Metadata,
	}

	var created struct {
		RedirectURL string `json:"redirectUrl"`
		PaymentID   string `json:"paymentId"`
	}
	err := doJSON(ctx, g.httpClient, models.ProviderNexi, http.MethodPost,
		g.baseURL+"/ecomm/api/bo/payment/create", g.headers(), body, &created)
	if err != nil {
		return nil, err
	}

	return &PaymentIntentResult{
		ProviderIntentID: created.PaymentID,
		RedirectURL:      created.RedirectURL,
		Status:           models.PaymentPending,
		RequiresAction:   true,
		Amount:           req.Amount,
		Currency:         req.Currency,
	}, nil
}

// ConfirmPayment re-fetches the payment state. Nexi captures on its hosted
// page, there is no separate capture call.
func (g *NexiGateway) ConfirmPayment(ctx context.Context, providerIntentID string) (*PaymentIntentResult, error) {
	return g.GetPaymentStatus(ctx, providerIntentID)
}

// GetPaymentStatus fetches the current payment state from Nexi
func (g *NexiGateway) GetPaymentStatus(ctx context.Context, providerIntentID string) (*PaymentIntentResult, error) {
	var info struct {
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	err := doJSON(ctx, g.httpClient, models.ProviderNexi, http.MethodGet,
		g.baseURL+"/ecomm/api/bo/payment/info/"+providerIntentID, g.headers(), nil, &info)
	if err != nil {
		return nil, err
	}

	status := MapNexiStatus(info.Status)
	return &PaymentIntentResult{
		ProviderIntentID: providerIntentID,
		Status:           status,
		RequiresAction:   status == models.PaymentRequiresAction,
		Amount:           fromCents(info.Amount),
		Currency:         info.Currency,
	}, nil
}

// CreateRefund refunds a captured payment. A nil amount refunds the full
// original charge (Nexi treats a missing amount as full refund).
func (g *NexiGateway) CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	body := map[string]interface{}{
		"paymentId":   req.ProviderTransactionID,
		"description": req.Reason,
	}
	if req.Amount != nil {
		body["amount"] = toCents(*req.Amount)
	}

	var refunded struct {
		RefundID string `json:"refundId"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Status   string `json:"status"`
	}
	err := doJSON(ctx, g.httpClient, models.ProviderNexi, http.MethodPost,
		g.baseURL+"/ecomm/api/bo/payment/refund", g.headers(), body, &refunded)
	if err != nil {
		return nil, err
	}

	return &RefundResult{
		ProviderRefundID: refunded.RefundID,
		Amount:           fromCents(refunded.Amount),
		Currency:         refunded.Currency,
		Status:           refunded.Status,
	}, nil
}

// VerifyWebhook checks the HMAC-SHA256 hex signature over the raw body
func (g *NexiGateway) VerifyWebhook(ctx context.Context, payload []byte, signature string, headers map[string]string) (map[string]interface{}, error) {
	if g.creds.WebhookSecret == "" {
		return nil, NewGatewayError(models.ProviderNexi, CodeInvalidCredential, "nexi webhook secret not configured", false)
	}
	if signature == "" {
		return nil, NewGatewayError(models.ProviderNexi, CodeSignatureInvalid, "missing signature header", false)
	}

	mac := hmac.New(sha256.New, []byte(g.creds.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, NewGatewayError(models.ProviderNexi, CodeSignatureInvalid, "signature mismatch", false)
	}

	var event map[string]interface{}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, NewGatewayError(models.ProviderNexi, CodeMalformedPayload, err.Error(), false)
	}
	return event, nil
}

// PaymentMethodInfo returns static checkout metadata for Nexi
func (g *NexiGateway) PaymentMethodInfo() MethodInfo {
	return MethodInfo{
		Name:             string(models.ProviderNexi),
		DisplayName:      "Nexi XPay",
		Type:             models.MethodCard,
		MinAmount:        0.01,
		SupportsRefund:   true,
		RequiresRedirect: true,
	}
}

func (g *NexiGateway) headers() map[string]string {
	return map[string]string{"X-Api-Key": g.creds.APIKey}
}

// MapNexiStatus maps a Nexi payment status to the internal status.
// Unknown strings default to pending.
func MapNexiStatus(status string) models.PaymentStatus {
	switch status {
	case "pending":
		return models.PaymentPending
	case "authorized":
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
