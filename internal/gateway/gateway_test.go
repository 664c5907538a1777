package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vinc-payment-service/internal/models"
	"vinc-payment-service/internal/vault"
)

func TestMapStripeStatus(t *testing.T) {
	cases := map[string]models.PaymentStatus{
		"requires_payment_method": models.PaymentPending,
		"requires_confirmation":   models.PaymentPending,
		"requires_action":         models.PaymentRequiresAction,
		"processing":              models.PaymentProcessing,
		"requires_capture":        models.PaymentProcessing,
		"succeeded":               models.PaymentSucceeded,
		"canceled":                models.PaymentCancelled,
		"some_future_status":      models.PaymentPending,
	}
	for input, want := range cases {
		assert.Equal(t, want, MapStripeStatus(input), "stripe status %q", input)
	}
}

func TestMapPayPalStatus(t *testing.T) {
	cases := map[string]models.PaymentStatus{
		"CREATED":               models.PaymentPending,
		"SAVED":                 models.PaymentPending,
		"APPROVED":              models.PaymentProcessing,
		"VOIDED":                models.PaymentCancelled,
		"COMPLETED":             models.PaymentSucceeded,
		"PAYER_ACTION_REQUIRED": models.PaymentRequiresAction,
		"UNKNOWN_FUTURE":        models.PaymentPending,
	}
	for input, want := range cases {
		assert.Equal(t, want, MapPayPalStatus(input), "paypal status %q", input)
	}
}

func TestMapNexiStatus(t *testing.T) {
	cases := map[string]models.PaymentStatus{
		"pending":    models.PaymentPending,
		"authorized": models.PaymentProcessing,
		"captured":   models.PaymentSucceeded,
		"cancelled":  models.PaymentCancelled,
		"declined":   models.PaymentFailed,
		"refunded":   models.PaymentRefunded,
		"whatever":   models.PaymentPending,
	}
	for input, want := range cases {
		assert.Equal(t, want, MapNexiStatus(input), "nexi status %q", input)
	}
}

func TestMapSellaStatus(t *testing.T) {
	cases := map[string]models.PaymentStatus{
		"OK":      models.PaymentSucceeded,
		"KO":      models.PaymentFailed,
		"PENDING": models.PaymentPending,
		"XX":      models.PaymentCancelled,
		"":        models.PaymentPending,
	}
	for input, want := range cases {
		assert.Equal(t, want, MapSellaStatus(input), "sella result %q", input)
	}
}

func TestMapScalapayStatus(t *testing.T) {
	cases := map[string]models.PaymentStatus{
		"pending":   models.PaymentPending,
		"approved":  models.PaymentProcessing,
		"captured":  models.PaymentSucceeded,
		"cancelled": models.PaymentCancelled,
		"declined":  models.PaymentFailed,
		"refunded":  models.PaymentRefunded,
		"other":     models.PaymentPending,
	}
	for input, want := range cases {
		assert.Equal(t, want, MapScalapayStatus(input), "scalapay status %q", input)
	}
}

func TestToCentsRounding(t *testing.T) {
	assert.Equal(t, int64(10000), toCents(100.00))
	assert.Equal(t, int64(1999), toCents(19.99))
	assert.Equal(t, int64(1), toCents(0.01))
	assert.Equal(t, 19.99, fromCents(1999))
}

func TestBankTransferReferenceDeterministic(t *testing.T) {
	a := BankTransferReference("order-12345678-abc")
	b := BankTransferReference("order-12345678-abc")
	assert.Equal(t, a, b)
	assert.Contains(t, a, "BT-order-12")

	// Different orders with the same prefix still diverge via the hash suffix
	c := BankTransferReference("order-12345678-def")
	assert.NotEqual(t, a, c)

	// Short order ids are used as-is
	short := BankTransferReference("ord-1")
	assert.Contains(t, short, "BT-ord-1-")
}

func TestBankTransferIntentStaysPending(t *testing.T) {
	gw, err := NewBankTransferGateway(models.ModeTest, models.JSONB{"iban": "IT00TEST"})
	require.NoError(t, err)

	result, err := gw.CreatePaymentIntent(context.Background(), &CreatePaymentRequest{
		OrderID:  "order-777",
		Amount:   150.00,
		Currency: "EUR",
	})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentPending, result.Status)
	assert.True(t, result.RequiresAction)
	assert.Equal(t, "IT00TEST", result.Metadata["iban"])
	assert.NotEmpty(t, result.Metadata["reference"])
}

func TestBankTransferWebhookNotSupported(t *testing.T) {
	gw, err := NewBankTransferGateway(models.ModeTest, nil)
	require.NoError(t, err)

	_, err = gw.VerifyWebhook(context.Background(), []byte(`{}`), "", nil)
	require.Error(t, err)

	ge, ok := IsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, CodeNotSupported, ge.Code)
}

func TestNexiWebhookSignature(t *testing.T) {
	gw, err := NewNexiGateway(NexiCredentials{APIKey: "key", WebhookSecret: "topsecret"}, models.ModeTest, nil, 0)
	require.NoError(t, err)

	payload := []byte(`{"paymentId":"pay_1","status":"captured"}`)
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	event, err := gw.VerifyWebhook(context.Background(), payload, signature, nil)
	require.NoError(t, err)
	assert.Equal(t, "pay_1", event["paymentId"])

	_, err = gw.VerifyWebhook(context.Background(), payload, "deadbeef", nil)
	ge, ok := IsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, CodeSignatureInvalid, ge.Code)

	_, err = gw.VerifyWebhook(context.Background(), payload, "", nil)
	ge, ok = IsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, CodeSignatureInvalid, ge.Code)
}

func TestSellaWebhookShopLoginCheck(t *testing.T) {
	gw, err := NewSellaGateway(SellaCredentials{ShopLogin: "SHOP1", APIKey: "key"}, models.ModeTest, nil, 0)
	require.NoError(t, err)

	event, err := gw.VerifyWebhook(context.Background(),
		[]byte(`{"shopLogin":"SHOP1","shopTransactionId":"order-1","transactionResult":"OK"}`), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "order-1", event["shopTransactionId"])

	_, err = gw.VerifyWebhook(context.Background(),
		[]byte(`{"shopLogin":"OTHER","shopTransactionId":"order-1"}`), "", nil)
	ge, ok := IsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, CodeSignatureInvalid, ge.Code)

	_, err = gw.VerifyWebhook(context.Background(), []byte(`{"transactionResult":"OK"}`), "", nil)
	ge, ok = IsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, CodeMalformedPayload, ge.Code)
}

func TestScalapayAmountCap(t *testing.T) {
	gw, err := NewScalapayGateway(ScalapayCredentials{APIKey: "key"}, models.ModeTest, nil, 0)
	require.NoError(t, err)

	_, err = gw.CreatePaymentIntent(context.Background(), &CreatePaymentRequest{
		OrderID:  "order-1",
		Amount:   2500.00,
		Currency: "EUR",
	})
	ge, ok := IsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, CodeNotSupported, ge.Code)
}

func TestGatewayCredentialValidation(t *testing.T) {
	_, err := NewStripeGateway(StripeCredentials{}, models.ModeTest, nil)
	assert.Error(t, err)

	_, err = NewPayPalGateway(PayPalCredentials{ClientID: "id"}, models.ModeTest, nil, 0)
	assert.Error(t, err)

	_, err = NewNexiGateway(NexiCredentials{}, models.ModeTest, nil, 0)
	assert.Error(t, err)

	_, err = NewSellaGateway(SellaCredentials{ShopLogin: "shop"}, models.ModeTest, nil, 0)
	assert.Error(t, err)

	_, err = NewScalapayGateway(ScalapayCredentials{}, models.ModeTest, nil, 0)
	assert.Error(t, err)
}

func newTestRegistry(t *testing.T) (*Registry, *vault.Vault) {
	t.Helper()
	v, err := vault.New("registry-test-key")
	require.NoError(t, err)
	return NewRegistry(v, 0), v
}

func TestRegistryAppliesHTTPTimeout(t *testing.T) {
	v, err := vault.New("registry-test-key")
	require.NoError(t, err)
	registry := NewRegistry(v, 7*time.Second)

	blob, err := v.Encrypt(map[string]interface{}{"api_key": "key"})
	require.NoError(t, err)

	gw, err := registry.Resolve(&models.TenantPaymentProvider{
		TenantID:    "tenant-1",
		Provider:    models.ProviderScalapay,
		IsEnabled:   true,
		Mode:        models.ModeTest,
		Credentials: blob,
	})
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, gw.(*ScalapayGateway).httpClient.Timeout)

	// Zero falls back to the default rather than disabling the timeout
	fallback := NewRegistry(v, 0)
	assert.Equal(t, DefaultHTTPTimeout, fallback.httpTimeout)
}

func TestRegistryResolvesAndCaches(t *testing.T) {
	registry, v := newTestRegistry(t)

	blob, err := v.Encrypt(map[string]interface{}{
		"secret_key":     "sk_test_abc",
		"webhook_secret": "whsec_def",
	})
	require.NoError(t, err)

	cfg := &models.TenantPaymentProvider{
		TenantID:    "tenant-1",
		Provider:    models.ProviderStripe,
		IsEnabled:   true,
		Mode:        models.ModeTest,
		Credentials: blob,
	}

	gw1, err := registry.Resolve(cfg)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderStripe, gw1.GetProvider())

	gw2, err := registry.Resolve(cfg)
	require.NoError(t, err)
	assert.Same(t, gw1, gw2)

	registry.Invalidate("tenant-1", models.ProviderStripe)
	gw3, err := registry.Resolve(cfg)
	require.NoError(t, err)
	assert.NotSame(t, gw1, gw3)
}

func TestRegistryRejectsDisabledAndUnknown(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.Resolve(nil)
	assert.ErrorIs(t, err, models.ErrProviderNotConfigured)

	_, err = registry.Resolve(&models.TenantPaymentProvider{
		TenantID: "tenant-1",
		Provider: models.Provider("klarna"),
		IsEnabled: true,
	})
	assert.ErrorIs(t, err, models.ErrInvalidProvider)

	_, err = registry.Resolve(&models.TenantPaymentProvider{
		TenantID: "tenant-1",
		Provider: models.ProviderStripe,
		IsEnabled: false,
	})
	assert.ErrorIs(t, err, models.ErrProviderDisabled)
}

func TestRegistryBankTransferNeedsNoCredentials(t *testing.T) {
	registry, _ := newTestRegistry(t)

	gw, err := registry.Resolve(&models.TenantPaymentProvider{
		TenantID:  "tenant-1",
		Provider:  models.ProviderBankTransfer,
		IsEnabled: true,
		Mode:      models.ModeLive,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProviderBankTransfer, gw.GetProvider())
}

func TestRegistryDecryptFailureSurfaces(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.Resolve(&models.TenantPaymentProvider{
		TenantID:    "tenant-1",
		Provider:    models.ProviderNexi,
		IsEnabled:   true,
		Mode:        models.ModeTest,
		Credentials: models.JSONB{"encrypted": true, "data": "garbage"},
	})
	assert.ErrorIs(t, err, vault.ErrDecryption)
}
