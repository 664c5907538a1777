package services

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vinc-payment-service/internal/gateway"
	"vinc-payment-service/internal/models"
	"vinc-payment-service/internal/repository"
)

func seedStripeTransaction(t *testing.T, repo *repository.PaymentRepository, intentID string, status models.PaymentStatus) *models.PaymentTransaction {
	t.Helper()
	txn := &models.PaymentTransaction{
		TenantID:                "tenant-1",
		StorefrontID:            "store-1",
		OrderID:                 "order-1",
		Provider:                models.ProviderStripe,
		ProviderPaymentIntentID: intentID,
		Amount:                  100.00,
		Currency:                "EUR",
		Status:                  status,
	}
	require.NoError(t, repo.CreateTransaction(context.Background(), txn))
	return txn
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func stripeSucceededBody(eventID, intentID string) []byte {
	return []byte(`{
		"id": "` + eventID + `",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "` + intentID + `", "latest_charge": "ch_1"}}
	}`)
}

func countTransactionEvents(t *testing.T, repo *repository.PaymentRepository, txn *models.PaymentTransaction) int64 {
	t.Helper()
	var count int64
	require.NoError(t, repo.DB().Model(&models.TransactionWebhookEvent{}).
		Where("transaction_id = ?", txn.ID).Count(&count).Error)
	return count
}

func TestProcessRetriesAfterFailedDelivery(t *testing.T) {
	repo := newTestRepository(t)
	seedTenantProvider(t, repo, models.ProviderStripe)
	txn := seedStripeTransaction(t, repo, "pi_abc", models.PaymentPending)

	gw := &stubGateway{verifyErr: gateway.NewGatewayError(
		models.ProviderStripe, gateway.CodeSignatureInvalid, "signature mismatch", false)}
	svc := NewWebhookService(repo, &stubResolver{gw: gw}, testRedis(t), nil, quietLogger())

	body := stripeSucceededBody("evt_1", "pi_abc")
	ctx := context.Background()

	result, err := svc.Process(ctx, models.ProviderStripe, body, "bad-signature", nil)
	require.Error(t, err)
	assert.Equal(t, OutcomeError, result.Outcome)

	// The failed delivery must not poison the retry
	gw.verifyErr = nil
	result, err = svc.Process(ctx, models.ProviderStripe, body, "good-signature", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)

	stored, err := repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded, stored.Status)
	require.NotNil(t, stored.CompletedAt)
}

func TestProcessRedeliveryIsDuplicate(t *testing.T) {
	repo := newTestRepository(t)
	seedTenantProvider(t, repo, models.ProviderStripe)
	txn := seedStripeTransaction(t, repo, "pi_abc", models.PaymentPending)

	svc := NewWebhookService(repo, &stubResolver{gw: &stubGateway{}}, testRedis(t), nil, quietLogger())

	body := stripeSucceededBody("evt_1", "pi_abc")
	ctx := context.Background()

	result, err := svc.Process(ctx, models.ProviderStripe, body, "sig", nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, result.Outcome)

	result, err = svc.Process(ctx, models.ProviderStripe, body, "sig", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, result.Outcome)

	// Exactly one mutation: one event row, status unchanged by the redelivery
	assert.Equal(t, int64(1), countTransactionEvents(t, repo, txn))
	stored, err := repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded, stored.Status)
}

func TestProcessRedeliveryIsDuplicateWithoutRedis(t *testing.T) {
	repo := newTestRepository(t)
	seedTenantProvider(t, repo, models.ProviderStripe)
	seedStripeTransaction(t, repo, "pi_abc", models.PaymentPending)

	svc := NewWebhookService(repo, &stubResolver{gw: &stubGateway{}}, nil, nil, quietLogger())

	body := stripeSucceededBody("evt_1", "pi_abc")
	ctx := context.Background()

	result, err := svc.Process(ctx, models.ProviderStripe, body, "sig", nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, result.Outcome)

	result, err = svc.Process(ctx, models.ProviderStripe, body, "sig", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, result.Outcome)
}

func TestProcessCorrelationMissStaysRetryable(t *testing.T) {
	repo := newTestRepository(t)
	seedTenantProvider(t, repo, models.ProviderStripe)

	svc := NewWebhookService(repo, &stubResolver{gw: &stubGateway{}}, nil, nil, quietLogger())

	body := stripeSucceededBody("evt_early", "pi_unseen")
	ctx := context.Background()

	// The webhook arrives before the transaction exists
	result, err := svc.Process(ctx, models.ProviderStripe, body, "sig", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, result.Outcome)

	// The miss is logged as failed, not success, so the redelivery is
	// not classified duplicate
	var log models.PaymentWebhookLog
	require.NoError(t, repo.DB().Where("event_id = ?", "evt_early").First(&log).Error)
	assert.Equal(t, models.WebhookLogFailed, log.Status)

	txn := seedStripeTransaction(t, repo, "pi_unseen", models.PaymentPending)
	result, err = svc.Process(ctx, models.ProviderStripe, body, "sig", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)

	stored, err := repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded, stored.Status)
}

func TestProcessLateEventAfterTerminalIsIgnored(t *testing.T) {
	repo := newTestRepository(t)
	seedTenantProvider(t, repo, models.ProviderStripe)
	txn := seedStripeTransaction(t, repo, "pi_abc", models.PaymentFailed)

	svc := NewWebhookService(repo, &stubResolver{gw: &stubGateway{}}, nil, nil, quietLogger())

	result, err := svc.Process(context.Background(), models.ProviderStripe,
		stripeSucceededBody("evt_late", "pi_abc"), "sig", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, result.Outcome)

	// Recorded in the audit trail, but the terminal status holds
	assert.Equal(t, int64(1), countTransactionEvents(t, repo, txn))
	stored, err := repo.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, stored.Status)
}

func TestProcessRefundWebhookAccumulates(t *testing.T) {
	repo := newTestRepository(t)
	seedTenantProvider(t, repo, models.ProviderStripe)
	txn := seedStripeTransaction(t, repo, "pi_abc", models.PaymentSucceeded)

	svc := NewWebhookService(repo, &stubResolver{gw: &stubGateway{}}, nil, nil, quietLogger())
	ctx := context.Background()

	// Stripe reports the cumulative refunded total in cents
	partial := []byte(`{
		"id": "evt_r1",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "payment_intent": "pi_abc", "amount_refunded": 4000}}
	}`)
	result, err := svc.Process(ctx, models.ProviderStripe, partial, "sig", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)

	stored, err := repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPartiallyRefunded, stored.Status)
	assert.Equal(t, 40.00, stored.RefundedAmount)

	full := []byte(`{
		"id": "evt_r2",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "payment_intent": "pi_abc", "amount_refunded": 10000}}
	}`)
	result, err = svc.Process(ctx, models.ProviderStripe, full, "sig", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)

	stored, err = repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, stored.Status)
	assert.Equal(t, 100.00, stored.RefundedAmount)
}
