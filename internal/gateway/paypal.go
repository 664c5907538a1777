package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vinc-payment-service/internal/models"
)

const (
	paypalSandboxURL = "https://api-m.sandbox.paypal.com"
	paypalLiveURL    = "https://api-m.paypal.com"
)

// PayPalCredentials are the decrypted credentials a PayPal configuration
// must carry.
type PayPalCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	WebhookID    string `json:"webhook_id"`
}

// PayPalGateway implements the PaymentGateway interface against the
// PayPal Orders v2 API.
type PayPalGateway struct {
	creds      PayPalCredentials
	mode       models.ProviderMode
	config     models.JSONB
	baseURL    string
	httpClient *http.Client
}

// NewPayPalGateway creates a new PayPal gateway instance
func NewPayPalGateway(creds PayPalCredentials, mode models.ProviderMode, config models.JSONB, timeout time.Duration) (*PayPalGateway, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, NewGatewayError(models.ProviderPayPal, CodeInvalidCredential, "paypal client id and secret are required", false)
	}

	baseURL := paypalLiveURL
	if mode == models.ModeTest {
		baseURL = paypalSandboxURL
	}

	return &PayPalGateway{
		creds:      creds,
		mode:       mode,
		config:     config,
		baseURL:    baseURL,
		httpClient: newHTTPClient(timeout),
	}, nil
}

// GetProvider returns the provider type
func (g *PayPalGateway) GetProvider() models.Provider {
	return models.ProviderPayPal
}

// getAccessToken exchanges the client credentials for a bearer token.
// Tokens are short-lived so each call fetches a fresh one.
func (g *PayPalGateway) getAccessToken(ctx context.Context) (string, error) {
	basic := base64.StdEncoding.EncodeToString([]byte(g.creds.ClientID + ":" + g.creds.ClientSecret))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", NewGatewayError(models.ProviderPayPal, CodeProviderAPIError, err.Error(), true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", NewGatewayError(models.ProviderPayPal, CodeInvalidCredential,
			fmt.Sprintf("token request failed with HTTP %d", resp.StatusCode), false)
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", NewGatewayError(models.ProviderPayPal, CodeMalformedPayload, err.Error(), false)
	}
	if token.AccessToken == "" {
		return "", NewGatewayError(models.ProviderPayPal, CodeInvalidCredential, "empty access token", false)
	}
	return token.AccessToken, nil
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalOrderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
	PurchaseUnits []struct {
		Amount   paypalAmount `json:"amount"`
		Payments struct {
			Captures []struct {
				ID     string       `json:"id"`
				Status string       `json:"status"`
				Amount paypalAmount `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// CreatePaymentIntent creates a PayPal order in CAPTURE intent mode. The
// buyer approves it on the returned redirect URL.
func (g *PayPalGateway) CreatePaymentIntent(ctx context.Context, req *CreatePaymentRequest) (*PaymentIntentResult, error) {
	token, err := g.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"reference_id": req.OrderID,
				"amount": paypalAmount{
					CurrencyCode: req.Currency,
					Value:        formatAmount(req.Amount),
				},
				"custom_id": req.OrderID,
			},
		},
		"application_context": map[string]interface{}{
			"brand_name":   req.Description,
			"landing_page": "NO_PREFERENCE",
			"user_action":  "PAY_NOW",
			"return_url":   req.ReturnURL,
			"cancel_url":   req.CancelURL,
		},
	}

	var order paypalOrderResponse
	err = doJSON(ctx, g.httpClient, models.ProviderPayPal, http.MethodPost,
		g.baseURL+"/v2/checkout/orders", g.authHeaders(token), body, &order)
	if err != nil {
		return nil, err
	}

	result := g.orderToResult(&order)
	result.Amount = req.Amount
	result.Currency = req.Currency
	return result, nil
}

// ConfirmPayment captures an approved PayPal order
func (g *PayPalGateway) ConfirmPayment(ctx context.Context, providerIntentID string) (*PaymentIntentResult, error) {
	token, err := g.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var order paypalOrderResponse
	err = doJSON(ctx, g.httpClient, models.ProviderPayPal, http.MethodPost,
		g.baseURL+"/v2/checkout/orders/"+providerIntentID+"/capture",
		g.authHeaders(token), map[string]interface{}{}, &order)
	if err != nil {
		return nil, err
	}

	return g.orderToResult(&order), nil
}

// GetPaymentStatus fetches the current order state from PayPal
func (g *PayPalGateway) GetPaymentStatus(ctx context.Context, providerIntentID string) (*PaymentIntentResult, error) {
	token, err := g.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var order paypalOrderResponse
	err = doJSON(ctx, g.httpClient, models.ProviderPayPal, http.MethodGet,
		g.baseURL+"/v2/checkout/orders/"+providerIntentID, g.authHeaders(token), nil, &order)
	if err != nil {
		return nil, err
	}

	return g.orderToResult(&order), nil
}

// CreateRefund refunds a captured payment. ProviderTransactionID must be
// the capture id, not the order id.
func (g *PayPalGateway) CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	token, err := g.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{}
	if req.Amount != nil {
		body["amount"] = paypalAmount{
			CurrencyCode: req.Currency,
			Value:        formatAmount(*req.Amount),
		}
	}
	if req.Reason != "" {
		body["note_to_payer"] = req.Reason
	}

	var refundResp struct {
		ID     string       `json:"id"`
		Status string       `json:"status"`
		Amount paypalAmount `json:"amount"`
	}
	err = doJSON(ctx, g.httpClient, models.ProviderPayPal, http.MethodPost,
		g.baseURL+"/v2/payments/captures/"+req.ProviderTransactionID+"/refund",
		g.authHeaders(token), body, &refundResp)
	if err != nil {
		return nil, err
	}

	amount, _ := strconv.ParseFloat(refundResp.Amount.Value, 64)
	return &RefundResult{
		ProviderRefundID: refundResp.ID,
		Amount:           amount,
		Currency:         refundResp.Amount.CurrencyCode,
		Status:           refundResp.Status,
	}, nil
}

// VerifyWebhook calls PayPal's verify-webhook-signature endpoint with the
// transmission headers and the raw event.
func (g *PayPalGateway) VerifyWebhook(ctx context.Context, payload []byte, signature string, headers map[string]string) (map[string]interface{}, error) {
	var event map[string]interface{}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, NewGatewayError(models.ProviderPayPal, CodeMalformedPayload, err.Error(), false)
	}
	if _, ok := event["event_type"]; !ok {
		return nil, NewGatewayError(models.ProviderPayPal, CodeMalformedPayload, "missing event_type", false)
	}

	if g.creds.WebhookID == "" {
		return nil, NewGatewayError(models.ProviderPayPal, CodeInvalidCredential, "paypal webhook id not configured", false)
	}

	token, err := g.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"auth_algo":         headers["Paypal-Auth-Algo"],
		"cert_url":          headers["Paypal-Cert-Url"],
		"transmission_id":   headers["Paypal-Transmission-Id"],
		"transmission_sig":  headers["Paypal-Transmission-Sig"],
		"transmission_time": headers["Paypal-Transmission-Time"],
		"webhook_id":        g.creds.WebhookID,
		"webhook_event":     event,
	}

	var verification struct {
		VerificationStatus string `json:"verification_status"`
	}
	err = doJSON(ctx, g.httpClient, models.ProviderPayPal, http.MethodPost,
		g.baseURL+"/v1/notifications/verify-webhook-signature",
		g.authHeaders(token), body, &verification)
	if err != nil {
		return nil, err
	}

	if verification.VerificationStatus != "SUCCESS" {
		return nil, NewGatewayError(models.ProviderPayPal, CodeSignatureInvalid,
			"webhook signature verification failed", false)
	}
	return event, nil
}

// PaymentMethodInfo returns static checkout metadata for PayPal
func (g *PayPalGateway) PaymentMethodInfo() MethodInfo {
	return MethodInfo{
		Name:             string(models.ProviderPayPal),
		DisplayName:      "PayPal",
		Type:             models.MethodWallet,
		MinAmount:        0.01,
		SupportsRefund:   true,
		RequiresRedirect: true,
	}
}

func (g *PayPalGateway) authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (g *PayPalGateway) orderToResult(order *paypalOrderResponse) *PaymentIntentResult {
	status := MapPayPalStatus(order.Status)
	result := &PaymentIntentResult{
		ProviderIntentID: order.ID,
		Status:           status,
		RequiresAction:   status == models.PaymentRequiresAction,
	}

	for _, link := range order.Links {
		if link.Rel == "approve" {
			result.RedirectURL = link.Href
			break
		}
	}

	if len(order.PurchaseUnits) > 0 {
		unit := order.PurchaseUnits[0]
		if len(unit.Payments.Captures) > 0 {
			capture := unit.Payments.Captures[0]
			result.ProviderTransactionID = capture.ID
			result.Amount, _ = strconv.ParseFloat(capture.Amount.Value, 64)
			result.Currency = capture.Amount.CurrencyCode
		} else {
			result.Amount, _ = strconv.ParseFloat(unit.Amount.Value, 64)
			result.Currency = unit.Amount.CurrencyCode
		}
	}
	return result
}

// MapPayPalStatus maps a PayPal order status to the internal status.
// Unknown strings default to pending.
func MapPayPalStatus(status string) models.PaymentStatus {
	switch status {
	case "CREATED", "SAVED":
		return models.PaymentPending
	case "APPROVED":
		return models.PaymentProcessing
	case "VOIDED":
		return models.PaymentCancelled
	case "COMPLETED":
		return models.PaymentSucceeded
	case "PAYER_ACTION_REQUIRED":
		return models.PaymentRequiresAction
	default:
		return models.PaymentPending
	}
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}
