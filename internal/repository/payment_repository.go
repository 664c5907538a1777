package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vinc-payment-service/internal/models"
)

// Refund guard errors
var (
	ErrNotRefundable    = errors.New("transaction is not in a refundable state")
	ErrRefundExceedsCap = errors.New("refund amount exceeds the remaining refundable balance")
)

// PaymentRepository handles payment data operations
type PaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// DB exposes the underlying handle for migrations
func (r *PaymentRepository) DB() *gorm.DB {
	return r.db
}

// lockForUpdate applies SELECT ... FOR UPDATE on dialects that support
// row locks. SQLite serializes writers and rejects the clause.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// ==================== Tenant Provider Methods ====================

// GetTenantProvider gets a tenant's configuration for one provider
func (r *PaymentRepository) GetTenantProvider(ctx context.Context, tenantID string, provider models.Provider) (*models.TenantPaymentProvider, error) {
	var config models.TenantPaymentProvider
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND provider = ?", tenantID, provider).First(&config).Error
	if err != nil {
		return nil, err
	}
	return &config, nil
}

// GetEnabledTenantProvider gets a tenant's configuration for one provider,
// requiring it to be enabled
func (r *PaymentRepository) GetEnabledTenantProvider(ctx context.Context, tenantID string, provider models.Provider) (*models.TenantPaymentProvider, error) {
	var config models.TenantPaymentProvider
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND provider = ? AND is_enabled = true", tenantID, provider).First(&config).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrProviderNotConfigured
		}
		return nil, err
	}
	return &config, nil
}

// ListTenantProviders lists all provider configurations for a tenant
func (r *PaymentRepository) ListTenantProviders(ctx context.Context, tenantID string) ([]models.TenantPaymentProvider, error) {
	var configs []models.TenantPaymentProvider
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("provider ASC").Find(&configs).Error
	if err != nil {
		return nil, err
	}
	return configs, nil
}

// CreateTenantProvider creates a new tenant provider configuration
func (r *PaymentRepository) CreateTenantProvider(ctx context.Context, config *models.TenantPaymentProvider) error {
	return r.db.WithContext(ctx).Create(config).Error
}

// UpdateTenantProvider updates a tenant provider configuration
func (r *PaymentRepository) UpdateTenantProvider(ctx context.Context, config *models.TenantPaymentProvider) error {
	config.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(config).Error
}

// ==================== Storefront Method Methods ====================

// ListStorefrontMethods lists the enabled payment methods of a storefront
// in display order
func (r *PaymentRepository) ListStorefrontMethods(ctx context.Context, storefrontID string) ([]models.StorefrontPaymentMethod, error) {
	var methods []models.StorefrontPaymentMethod
	err := r.db.WithContext(ctx).Where("storefront_id = ? AND is_enabled = true", storefrontID).
		Order("display_order ASC, provider ASC").Find(&methods).Error
	if err != nil {
		return nil, err
	}
	return methods, nil
}

// ListAllStorefrontMethods lists every configured method of a storefront,
// enabled or not
func (r *PaymentRepository) ListAllStorefrontMethods(ctx context.Context, storefrontID string) ([]models.StorefrontPaymentMethod, error) {
	var methods []models.StorefrontPaymentMethod
	err := r.db.WithContext(ctx).Where("storefront_id = ?", storefrontID).
		Order("display_order ASC, provider ASC").Find(&methods).Error
	if err != nil {
		return nil, err
	}
	return methods, nil
}

// GetStorefrontMethod gets one storefront/provider pairing
func (r *PaymentRepository) GetStorefrontMethod(ctx context.Context, storefrontID string, provider models.Provider) (*models.StorefrontPaymentMethod, error) {
	var method models.StorefrontPaymentMethod
	err := r.db.WithContext(ctx).Where("storefront_id = ? AND provider = ?", storefrontID, provider).First(&method).Error
	if err != nil {
		return nil, err
	}
	return &method, nil
}

// CreateStorefrontMethod creates a storefront payment method
func (r *PaymentRepository) CreateStorefrontMethod(ctx context.Context, method *models.StorefrontPaymentMethod) error {
	return r.db.WithContext(ctx).Create(method).Error
}

// UpdateStorefrontMethod updates a storefront payment method
func (r *PaymentRepository) UpdateStorefrontMethod(ctx context.Context, method *models.StorefrontPaymentMethod) error {
	method.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(method).Error
}

// DeleteStorefrontMethod removes a storefront/provider pairing
func (r *PaymentRepository) DeleteStorefrontMethod(ctx context.Context, storefrontID string, provider models.Provider) error {
	return r.db.WithContext(ctx).Where("storefront_id = ? AND provider = ?", storefrontID, provider).
		Delete(&models.StorefrontPaymentMethod{}).Error
}

// ==================== Transaction Methods ====================

// CreateTransaction creates a new payment transaction
func (r *PaymentRepository) CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

// GetTransaction gets a payment transaction by ID
func (r *PaymentRepository) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).First(&txn, "id = ?", transactionID).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetTransactionWithEvents gets a transaction and its webhook audit trail
func (r *PaymentRepository) GetTransactionWithEvents(ctx context.Context, transactionID uuid.UUID) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).Preload("WebhookEvents", func(db *gorm.DB) *gorm.DB {
		return db.Order("received_at ASC")
	}).First(&txn, "id = ?", transactionID).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetTransactionByOrderID gets the most recent transaction for an order
func (r *PaymentRepository) GetTransactionByOrderID(ctx context.Context, tenantID, orderID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND order_id = ?", tenantID, orderID).
		Order("created_at DESC").First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindByProviderIntentID locates the transaction a webhook refers to
func (r *PaymentRepository) FindByProviderIntentID(ctx context.Context, provider models.Provider, providerIntentID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).Where("provider = ? AND provider_payment_intent_id = ?", provider, providerIntentID).
		Order("created_at DESC").First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindByProviderOrderID locates a transaction by provider and order id.
// Needed for providers whose notifications carry the merchant order
// reference instead of the payment id.
func (r *PaymentRepository) FindByProviderOrderID(ctx context.Context, provider models.Provider, orderID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).Where("provider = ? AND order_id = ?", provider, orderID).
		Order("created_at DESC").First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// UpdateTransaction updates a payment transaction
func (r *PaymentRepository) UpdateTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	txn.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(txn).Error
}

// ListTransactions lists transactions matching the filters, newest first
func (r *PaymentRepository) ListTransactions(ctx context.Context, filters *models.TransactionFilters, limit, offset int) ([]models.PaymentTransaction, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).Where("tenant_id = ?", filters.TenantID)

	if filters.StorefrontID != "" {
		query = query.Where("storefront_id = ?", filters.StorefrontID)
	}
	if filters.OrderID != "" {
		query = query.Where("order_id = ?", filters.OrderID)
	}
	if filters.Provider != "" {
		query = query.Where("provider = ?", filters.Provider)
	}
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var txns []models.PaymentTransaction
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&txns).Error
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// ApplyWebhookTransition applies a status change from a verified webhook
// under a row lock. The event row is appended in the same database
// transaction whether or not the status moved. Returns the refreshed
// transaction and whether the status actually changed: terminal states
// dominate, so a late or out-of-order event is recorded but ignored.
func (r *PaymentRepository) ApplyWebhookTransition(ctx context.Context, transactionID uuid.UUID, newStatus models.PaymentStatus, providerTransactionID string, event *models.TransactionWebhookEvent) (*models.PaymentTransaction, bool, error) {
	var txn models.PaymentTransaction
	applied := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).
			First(&txn, "id = ?", transactionID).Error; err != nil {
			return err
		}

		if event != nil {
			event.TransactionID = txn.ID
			if event.ReceivedAt.IsZero() {
				event.ReceivedAt = time.Now()
			}
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}

		updates := map[string]interface{}{"updated_at": time.Now()}
		if providerTransactionID != "" && txn.ProviderTransactionID == "" {
			updates["provider_transaction_id"] = providerTransactionID
			txn.ProviderTransactionID = providerTransactionID
		}

		if models.CanTransition(txn.Status, newStatus) {
			updates["status"] = newStatus
			if newStatus.IsTerminal() && txn.CompletedAt == nil {
				now := time.Now()
				updates["completed_at"] = now
				txn.CompletedAt = &now
			}
			txn.Status = newStatus
			applied = true
		}

		return tx.Model(&models.PaymentTransaction{}).Where("id = ?", txn.ID).Updates(updates).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &txn, applied, nil
}

// AddRefund accumulates a refund onto a transaction under a row lock.
// The refunded amount never decreases and never exceeds the original
// charge; the status moves to partially_refunded or refunded depending
// on the remaining balance.
func (r *PaymentRepository) AddRefund(ctx context.Context, transactionID uuid.UUID, amount float64, reason string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).
			First(&txn, "id = ?", transactionID).Error; err != nil {
			return err
		}

		if txn.Status != models.PaymentSucceeded && txn.Status != models.PaymentPartiallyRefunded {
			return ErrNotRefundable
		}
		if amount <= 0 || amount > txn.RemainingRefundable()+0.005 {
			return ErrRefundExceedsCap
		}

		txn.RefundedAmount += amount
		if txn.RefundedAmount > txn.Amount {
			txn.RefundedAmount = txn.Amount
		}
		if txn.RefundedAmount >= txn.Amount {
			txn.Status = models.PaymentRefunded
		} else {
			txn.Status = models.PaymentPartiallyRefunded
		}

		updates := map[string]interface{}{
			"refunded_amount": txn.RefundedAmount,
			"status":          txn.Status,
			"updated_at":      time.Now(),
		}
		if reason != "" {
			updates["refund_reason"] = reason
			txn.RefundReason = reason
		}
		return tx.Model(&models.PaymentTransaction{}).Where("id = ?", txn.ID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// ==================== Webhook Log Methods ====================

// IsDuplicateWebhook reports whether a webhook with this event id has
// already been successfully processed for the provider
func (r *PaymentRepository) IsDuplicateWebhook(ctx context.Context, provider models.Provider, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PaymentWebhookLog{}).
		Where("provider = ? AND event_id = ? AND status = ?", provider, eventID, models.WebhookLogSuccess).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateWebhookLog appends a webhook audit row
func (r *PaymentRepository) CreateWebhookLog(ctx context.Context, log *models.PaymentWebhookLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// ==================== Analytics Methods ====================

// GetAnalytics aggregates transaction totals for a tenant over an
// optional date range
func (r *PaymentRepository) GetAnalytics(ctx context.Context, tenantID string, from, to *time.Time) (*models.AnalyticsResponse, error) {
	result := &models.AnalyticsResponse{
		ByProvider: make(map[string]models.ProviderStats),
		ByStatus:   make(map[string]int64),
	}

	scoped := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
			Where("tenant_id = ?", tenantID)
		if from != nil {
			q = q.Where("created_at >= ?", *from)
		}
		if to != nil {
			q = q.Where("created_at < ?", *to)
		}
		return q
	}

	var totals struct {
		Count    int64
		Amount   float64
		Refunded float64
	}
	err := scoped().
		Select("COUNT(*) as count, COALESCE(SUM(amount), 0) as amount, COALESCE(SUM(refunded_amount), 0) as refunded").
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	result.TotalTransactions = totals.Count
	result.TotalAmount = totals.Amount
	result.TotalRefunded = totals.Refunded

	var byProvider []struct {
		Provider string
		Count    int64
		Amount   float64
	}
	err = scoped().
		Select("provider, COUNT(*) as count, COALESCE(SUM(amount), 0) as amount").
		Group("provider").
		Scan(&byProvider).Error
	if err != nil {
		return nil, err
	}
	for _, row := range byProvider {
		result.ByProvider[row.Provider] = models.ProviderStats{Count: row.Count, Amount: row.Amount}
	}

	var byStatus []struct {
		Status string
		Count  int64
	}
	err = scoped().
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		result.ByStatus[row.Status] = row.Count
	}

	return result, nil
}
