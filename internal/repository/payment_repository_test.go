package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vinc-payment-service/internal/models"
)

func newTestRepo(t *testing.T) *PaymentRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// A pooled connection would get its own empty in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.TenantPaymentProvider{},
		&models.StorefrontPaymentMethod{},
		&models.PaymentTransaction{},
		&models.TransactionWebhookEvent{},
		&models.PaymentWebhookLog{},
	))

	return NewPaymentRepository(db)
}

func createTestTransaction(t *testing.T, repo *PaymentRepository, status models.PaymentStatus, amount float64) *models.PaymentTransaction {
	t.Helper()

	txn := &models.PaymentTransaction{
		TenantID:                "tenant-1",
		StorefrontID:            "store-1",
		OrderID:                 "order-1",
		Provider:                models.ProviderStripe,
		ProviderPaymentIntentID: "pi_test",
		Amount:                  amount,
		Currency:                "EUR",
		Status:                  status,
	}
	require.NoError(t, repo.CreateTransaction(context.Background(), txn))
	return txn
}

func countWebhookEvents(t *testing.T, repo *PaymentRepository, txn *models.PaymentTransaction) int64 {
	t.Helper()
	var count int64
	require.NoError(t, repo.DB().Model(&models.TransactionWebhookEvent{}).
		Where("transaction_id = ?", txn.ID).Count(&count).Error)
	return count
}

func TestApplyWebhookTransitionSetsCompletedAtOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	txn := createTestTransaction(t, repo, models.PaymentPending, 100.00)

	updated, applied, err := repo.ApplyWebhookTransition(ctx, txn.ID, models.PaymentSucceeded, "ch_1", nil)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.PaymentSucceeded, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	firstCompleted := *updated.CompletedAt

	// The refund refinement is a later terminal transition; the completion
	// timestamp must not move
	updated, applied, err = repo.ApplyWebhookTransition(ctx, txn.ID, models.PaymentRefunded, "", nil)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.PaymentRefunded, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	assert.Equal(t, firstCompleted.UTC(), updated.CompletedAt.UTC())

	stored, err := repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, firstCompleted.Unix(), stored.CompletedAt.Unix())
}

func TestApplyWebhookTransitionTerminalDominates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	txn := createTestTransaction(t, repo, models.PaymentFailed, 100.00)

	event := &models.TransactionWebhookEvent{
		EventType: "payment_intent.succeeded",
		EventID:   "evt_late",
	}
	updated, applied, err := repo.ApplyWebhookTransition(ctx, txn.ID, models.PaymentSucceeded, "", event)
	require.NoError(t, err)

	// The late event is recorded but the status does not move
	assert.False(t, applied)
	assert.Equal(t, models.PaymentFailed, updated.Status)
	assert.Equal(t, int64(1), countWebhookEvents(t, repo, txn))
}

func TestApplyWebhookTransitionSameStatusIsNoOp(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	txn := createTestTransaction(t, repo, models.PaymentProcessing, 50.00)

	_, applied, err := repo.ApplyWebhookTransition(ctx, txn.ID, models.PaymentProcessing, "", &models.TransactionWebhookEvent{
		EventType: "payment_intent.processing",
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(1), countWebhookEvents(t, repo, txn))
}

func TestApplyWebhookTransitionKeepsFirstProviderTransactionID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	txn := createTestTransaction(t, repo, models.PaymentPending, 100.00)

	updated, _, err := repo.ApplyWebhookTransition(ctx, txn.ID, models.PaymentProcessing, "ch_first", nil)
	require.NoError(t, err)
	assert.Equal(t, "ch_first", updated.ProviderTransactionID)

	updated, _, err = repo.ApplyWebhookTransition(ctx, txn.ID, models.PaymentSucceeded, "ch_second", nil)
	require.NoError(t, err)
	assert.Equal(t, "ch_first", updated.ProviderTransactionID)
}

func TestAddRefundAccumulatesToFullRefund(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	txn := createTestTransaction(t, repo, models.PaymentSucceeded, 100.00)

	partial, err := repo.AddRefund(ctx, txn.ID, 40.00, "damaged item")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPartiallyRefunded, partial.Status)
	assert.Equal(t, 40.00, partial.RefundedAmount)
	assert.Equal(t, "damaged item", partial.RefundReason)

	full, err := repo.AddRefund(ctx, txn.ID, 60.00, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, full.Status)
	assert.Equal(t, 100.00, full.RefundedAmount)

	// Fully refunded transactions reject further refunds
	_, err = repo.AddRefund(ctx, txn.ID, 1.00, "")
	assert.ErrorIs(t, err, ErrNotRefundable)
}

func TestAddRefundRejectsOverCap(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	txn := createTestTransaction(t, repo, models.PaymentSucceeded, 100.00)

	_, err := repo.AddRefund(ctx, txn.ID, 40.00, "")
	require.NoError(t, err)

	_, err = repo.AddRefund(ctx, txn.ID, 70.00, "")
	assert.ErrorIs(t, err, ErrRefundExceedsCap)

	_, err = repo.AddRefund(ctx, txn.ID, -5.00, "")
	assert.ErrorIs(t, err, ErrRefundExceedsCap)

	stored, err := repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, 40.00, stored.RefundedAmount)
	assert.Equal(t, models.PaymentPartiallyRefunded, stored.Status)
}

func TestAddRefundRequiresSucceededState(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	txn := createTestTransaction(t, repo, models.PaymentPending, 100.00)

	_, err := repo.AddRefund(ctx, txn.ID, 10.00, "")
	assert.ErrorIs(t, err, ErrNotRefundable)
}

func TestIsDuplicateWebhookCountsOnlySuccesses(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateWebhookLog(ctx, &models.PaymentWebhookLog{
		Provider: models.ProviderStripe,
		EventID:  "evt_1",
		Status:   models.WebhookLogFailed,
	}))

	// A failed delivery must stay retryable
	dup, err := repo.IsDuplicateWebhook(ctx, models.ProviderStripe, "evt_1")
	require.NoError(t, err)
	assert.False(t, dup)

	require.NoError(t, repo.CreateWebhookLog(ctx, &models.PaymentWebhookLog{
		Provider: models.ProviderStripe,
		EventID:  "evt_1",
		Status:   models.WebhookLogSuccess,
	}))

	dup, err = repo.IsDuplicateWebhook(ctx, models.ProviderStripe, "evt_1")
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = repo.IsDuplicateWebhook(ctx, models.ProviderStripe, "")
	require.NoError(t, err)
	assert.False(t, dup)
}
