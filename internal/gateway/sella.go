package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"vinc-payment-service/internal/models"
)

const (
	sellaTestURL = "https://sandbox.gestpay.net"
	sellaLiveURL = "https://ecomm.sella.it"
)

// SellaCredentials are the decrypted credentials a Banca Sella
// configuration must carry.
type SellaCredentials struct {
	ShopLogin string `json:"shop_login"`
	APIKey    string `json:"api_key"`
}

// SellaGateway implements the PaymentGateway interface against the Banca
// Sella GestPay API.
type SellaGateway struct {
	creds      SellaCredentials
	mode       models.ProviderMode
	config     models.JSONB
	baseURL    string
	httpClient *http.Client
}

// NewSellaGateway creates a new Banca Sella gateway instance
func NewSellaGateway(creds SellaCredentials, mode models.ProviderMode, config models.JSONB, timeout time.Duration) (*SellaGateway, error) {
	if creds.ShopLogin == "" || creds.APIKey == "" {
		return nil, NewGatewayError(models.ProviderBancaSella, CodeInvalidCredential, "banca sella shop login and api key are required", false)
	}

	baseURL := sellaLiveURL
	if mode == models.ModeTest {
		baseURL = sellaTestURL
	}

	return &SellaGateway{
		creds:      creds,
		mode:       mode,
		config:     config,
		baseURL:    baseURL,
		httpClient: newHTTPClient(timeout),
	}, nil
}

// GetProvider returns the provider type
func (g *SellaGateway) GetProvider() models.Provider {
	return models.ProviderBancaSella
}

// CreatePaymentIntent requests a payment token and builds the hosted
// payment page URL the customer is redirected to.
func (g *SellaGateway) CreatePaymentIntent(ctx context.Context, req *CreatePaymentRequest) (*PaymentIntentResult, error) {
	body := map[string]interface{}{
		"shopLogin":         g.creds.ShopLogin,
		"amount":            formatAmount(req.Amount),
		"currency":          req.Currency,
		"shopTransactionId": req.OrderID,
		"buyerEmail":        req.CustomerEmail,
		"buyerName":         req.Metadata["customer_name"],
		"languageId":        "2",
		"requestToken":      "MASKEDPAN",
		"apikey":            g.creds.APIKey,
	}

	var created struct {
		PaymentToken string `json:"paymentToken"`
		PaymentID    string `json:"paymentID"`
	}
	err := doJSON(ctx, g.httpClient, models.ProviderBancaSella, http.MethodPost,
		g.baseURL+"/api/v1/payment/create", nil, body, &created)
	if err != nil {
		return nil, err
	}

	redirectURL := fmt.Sprintf("%s/pagam/pagam.aspx?a=%s&b=%s", g.baseURL, g.creds.ShopLogin, created.PaymentToken)

	return &PaymentIntentResult{
		ProviderIntentID: created.PaymentID,
		RedirectURL:      redirectURL,
		Status:           models.PaymentPending,
		RequiresAction:   true,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Metadata: map[string]interface{}{
			"payment_token":       created.PaymentToken,
			"shop_transaction_id": req.OrderID,
		},
	}, nil
}

// ConfirmPayment re-fetches the payment state. Capture happens on the
// hosted page.
func (g *SellaGateway) ConfirmPayment(ctx context.Context, providerIntentID string) (*PaymentIntentResult, error) {
	return g.GetPaymentStatus(ctx, providerIntentID)
}

// GetPaymentStatus fetches the payment detail by shop transaction id.
// GestPay keys detail lookups on the merchant's transaction id rather
// than the payment id.
func (g *SellaGateway) GetPaymentStatus(ctx context.Context, providerIntentID string) (*PaymentIntentResult, error) {
	body := map[string]interface{}{
		"shopLogin":         g.creds.ShopLogin,
		"shopTransactionId": providerIntentID,
		"apikey":            g.creds.APIKey,
	}

	var detail struct {
		Payment struct {
			TransactionResult string `json:"transactionResult"`
			Amount            string `json:"amount"`
			Currency          string `json:"currency"`
		} `json:"payment"`
	}
	err := doJSON(ctx, g.httpClient, models.ProviderBancaSella, http.MethodPost,
		g.baseURL+"/api/v1/payment/detail", nil, body, &detail)
	if err != nil {
		return nil, err
	}

	status := MapSellaStatus(detail.Payment.TransactionResult)
	return &PaymentIntentResult{
		ProviderIntentID: providerIntentID,
		Status:           status,
		RequiresAction:   status == models.PaymentRequiresAction,
		Currency:         detail.Payment.Currency,
	}, nil
}

// CreateRefund refunds a settled transaction. A nil amount refunds the
// full original charge.
func (g *SellaGateway) CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	body := map[string]interface{}{
		"shopLogin":         g.creds.ShopLogin,
		"shopTransactionId": req.ProviderTransactionID,
		"apikey":            g.creds.APIKey,
	}
	if req.Amount != nil {
		body["amount"] = formatAmount(*req.Amount)
	}

	var refunded struct {
		TransactionID     string `json:"transactionID"`
		TransactionResult string `json:"transactionResult"`
	}
	err := doJSON(ctx, g.httpClient, models.ProviderBancaSella, http.MethodPost,
		g.baseURL+"/api/v1/payment/refund", nil, body, &refunded)
	if err != nil {
		return nil, err
	}

	amount := 0.0
	if req.Amount != nil {
		amount = *req.Amount
	}
	return &RefundResult{
		ProviderRefundID: refunded.TransactionID,
		Amount:           amount,
		Currency:         req.Currency,
		Status:           refunded.TransactionResult,
	}, nil
}

// VerifyWebhook validates the notification shape. GestPay server-to-server
// notifications carry no signature; authenticity comes from matching the
// shopLogin against the stored credential.
func (g *SellaGateway) VerifyWebhook(ctx context.Context, payload []byte, signature string, headers map[string]string) (map[string]interface{}, error) {
	var event map[string]interface{}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, NewGatewayError(models.ProviderBancaSella, CodeMalformedPayload, err.Error(), false)
	}

	shopLogin, _ := event["shopLogin"].(string)
	if shopLogin == "" {
		return nil, NewGatewayError(models.ProviderBancaSella, CodeMalformedPayload, "missing shopLogin", false)
	}
	if shopLogin != g.creds.ShopLogin {
		return nil, NewGatewayError(models.ProviderBancaSella, CodeSignatureInvalid, "shopLogin mismatch", false)
	}
	if _, ok := event["shopTransactionId"]; !ok {
		return nil, NewGatewayError(models.ProviderBancaSella, CodeMalformedPayload, "missing shopTransactionId", false)
	}
	return event, nil
}

// PaymentMethodInfo returns static checkout metadata for Banca Sella
func (g *SellaGateway) PaymentMethodInfo() MethodInfo {
	return MethodInfo{
		Name:             string(models.ProviderBancaSella),
		DisplayName:      "Banca Sella",
		Type:             models.MethodCard,
		MinAmount:        0.01,
		SupportsRefund:   true,
		RequiresRedirect: true,
	}
}

// MapSellaStatus maps a GestPay transaction result to the internal status.
// Unknown strings default to pending.
func MapSellaStatus(result string) models.PaymentStatus {
	switch result {
	case "OK":
		return models.PaymentSucceeded
	case "KO":
		return models.PaymentFailed
	case "PENDING":
		return models.PaymentPending
	case "XX":
		return models.PaymentCancelled
	default:
		return models.PaymentPending
	}
}
