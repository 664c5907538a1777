package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vinc-payment-service/internal/models"
)

func mustPayload(t *testing.T, raw string) models.JSONB {
	t.Helper()
	var payload models.JSONB
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	return payload
}

func TestParseStripeWebhookPaymentIntent(t *testing.T) {
	payload := mustPayload(t, `{
		"id": "evt_123",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_abc", "status": "succeeded", "latest_charge": "ch_xyz"}}
	}`)

	parsed := parseStripeWebhook(payload)
	assert.True(t, parsed.relevant)
	assert.Equal(t, "evt_123", parsed.eventID)
	assert.Equal(t, "pi_abc", parsed.intentRef)
	assert.Equal(t, "ch_xyz", parsed.providerTxnID)
	assert.Equal(t, models.PaymentSucceeded, parsed.newStatus)
	assert.False(t, parsed.isRefund)
}

func TestParseStripeWebhookFailureAndCancel(t *testing.T) {
	failed := parseStripeWebhook(mustPayload(t, `{
		"id": "evt_1", "type": "payment_intent.payment_failed",
		"data": {"object": {"id": "pi_1"}}
	}`))
	assert.True(t, failed.relevant)
	assert.Equal(t, models.PaymentFailed, failed.newStatus)

	cancelled := parseStripeWebhook(mustPayload(t, `{
		"id": "evt_2", "type": "payment_intent.canceled",
		"data": {"object": {"id": "pi_2"}}
	}`))
	assert.Equal(t, models.PaymentCancelled, cancelled.newStatus)
}

func TestParseStripeWebhookChargeRefunded(t *testing.T) {
	payload := mustPayload(t, `{
		"id": "evt_refund",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "payment_intent": "pi_1", "amount_refunded": 4000}}
	}`)

	parsed := parseStripeWebhook(payload)
	assert.True(t, parsed.relevant)
	assert.True(t, parsed.isRefund)
	assert.Equal(t, "pi_1", parsed.intentRef)
	require.NotNil(t, parsed.refundAmount)
	assert.Equal(t, 40.00, *parsed.refundAmount)
	assert.True(t, parsed.refundIsTotal)
}

func TestParseStripeWebhookIrrelevantEvent(t *testing.T) {
	parsed := parseStripeWebhook(mustPayload(t, `{
		"id": "evt_x", "type": "customer.created",
		"data": {"object": {"id": "cus_1"}}
	}`))
	assert.False(t, parsed.relevant)
}

func TestParsePayPalWebhookCaptureCompleted(t *testing.T) {
	payload := mustPayload(t, `{
		"id": "WH-1",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"id": "CAP-1",
			"supplementary_data": {"related_ids": {"order_id": "ORDER-1"}}
		}
	}`)

	parsed := parsePayPalWebhook(payload)
	assert.True(t, parsed.relevant)
	assert.Equal(t, "ORDER-1", parsed.intentRef)
	assert.Equal(t, "CAP-1", parsed.providerTxnID)
	assert.Equal(t, models.PaymentSucceeded, parsed.newStatus)
}

func TestParsePayPalWebhookOrderLifecycle(t *testing.T) {
	approved := parsePayPalWebhook(mustPayload(t, `{
		"id": "WH-A",
		"event_type": "CHECKOUT.ORDER.APPROVED",
		"resource": {"id": "ORDER-1"}
	}`))
	assert.True(t, approved.relevant)
	assert.Equal(t, "ORDER-1", approved.intentRef)
	assert.Equal(t, models.PaymentProcessing, approved.newStatus)

	completed := parsePayPalWebhook(mustPayload(t, `{
		"id": "WH-B",
		"event_type": "CHECKOUT.ORDER.COMPLETED",
		"resource": {"id": "ORDER-1"}
	}`))
	assert.True(t, completed.relevant)
	assert.Equal(t, "ORDER-1", completed.intentRef)
	assert.Equal(t, models.PaymentSucceeded, completed.newStatus)

	voided := parsePayPalWebhook(mustPayload(t, `{
		"id": "WH-C",
		"event_type": "CHECKOUT.ORDER.VOIDED",
		"resource": {"id": "ORDER-1"}
	}`))
	assert.True(t, voided.relevant)
	assert.Equal(t, models.PaymentCancelled, voided.newStatus)
}

func TestParsePayPalWebhookRefund(t *testing.T) {
	payload := mustPayload(t, `{
		"id": "WH-2",
		"event_type": "PAYMENT.CAPTURE.REFUNDED",
		"resource": {
			"id": "REF-1",
			"amount": {"value": "60.00", "currency_code": "EUR"},
			"supplementary_data": {"related_ids": {"order_id": "ORDER-1"}}
		}
	}`)

	parsed := parsePayPalWebhook(payload)
	assert.True(t, parsed.relevant)
	assert.True(t, parsed.isRefund)
	require.NotNil(t, parsed.refundAmount)
	assert.Equal(t, 60.00, *parsed.refundAmount)
	assert.False(t, parsed.refundIsTotal)
}

func TestParseNexiWebhook(t *testing.T) {
	parsed := parseNexiWebhook(mustPayload(t, `{"paymentId": "pay_1", "status": "captured"}`))
	assert.True(t, parsed.relevant)
	assert.Equal(t, "pay_1", parsed.intentRef)
	assert.Equal(t, models.PaymentSucceeded, parsed.newStatus)
	assert.Equal(t, "pay_1:captured", parsed.eventID)

	refund := parseNexiWebhook(mustPayload(t, `{"paymentId": "pay_1", "status": "refunded"}`))
	assert.True(t, refund.isRefund)

	missing := parseNexiWebhook(mustPayload(t, `{"status": "captured"}`))
	assert.False(t, missing.relevant)
}

func TestParseSellaWebhook(t *testing.T) {
	parsed := parseSellaWebhook(mustPayload(t, `{
		"shopLogin": "SHOP1",
		"shopTransactionId": "order-42",
		"transactionResult": "OK",
		"bankTransactionId": "bank-7"
	}`))
	assert.True(t, parsed.relevant)
	assert.True(t, parsed.refByOrderID)
	assert.Equal(t, "order-42", parsed.intentRef)
	assert.Equal(t, "bank-7", parsed.providerTxnID)
	assert.Equal(t, models.PaymentSucceeded, parsed.newStatus)

	ko := parseSellaWebhook(mustPayload(t, `{"shopTransactionId": "order-42", "transactionResult": "KO"}`))
	assert.Equal(t, models.PaymentFailed, ko.newStatus)
}

func TestParseScalapayWebhook(t *testing.T) {
	parsed := parseScalapayWebhook(mustPayload(t, `{"token": "tok_1", "status": "captured"}`))
	assert.True(t, parsed.relevant)
	assert.Equal(t, "tok_1", parsed.intentRef)
	assert.Equal(t, models.PaymentSucceeded, parsed.newStatus)

	declined := parseScalapayWebhook(mustPayload(t, `{"token": "tok_1", "status": "declined"}`))
	assert.Equal(t, models.PaymentFailed, declined.newStatus)
}

func TestCartWithinConditions(t *testing.T) {
	assert.True(t, cartWithinConditions(nil, 50))
	assert.True(t, cartWithinConditions(models.JSONB{}, 50))
	assert.True(t, cartWithinConditions(models.JSONB{"min_cart_total": 10.0, "max_cart_total": 100.0}, 50))
	assert.False(t, cartWithinConditions(models.JSONB{"min_cart_total": 60.0}, 50))
	assert.False(t, cartWithinConditions(models.JSONB{"max_cart_total": 40.0}, 50))
}

func TestParseAmountString(t *testing.T) {
	v, err := parseAmountString("60.00")
	require.NoError(t, err)
	assert.Equal(t, 60.00, v)

	_, err = parseAmountString("")
	assert.Error(t, err)

	_, err = parseAmountString("abc")
	assert.Error(t, err)
}
