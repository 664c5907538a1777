package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"vinc-payment-service/internal/events"
	"vinc-payment-service/internal/gateway"
	"vinc-payment-service/internal/models"
	"vinc-payment-service/internal/repository"
)

// ErrTransactionNotFound is returned when a transaction lookup misses
var ErrTransactionNotFound = errors.New("transaction not found")

// GatewayResolver resolves a tenant provider configuration to a gateway
// instance. Satisfied by gateway.Registry.
type GatewayResolver interface {
	Resolve(cfg *models.TenantPaymentProvider) (gateway.PaymentGateway, error)
}

// PaymentService orchestrates the payment lifecycle across providers
type PaymentService struct {
	repo      *repository.PaymentRepository
	registry  GatewayResolver
	publisher *events.Publisher
	logger    *logrus.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(repo *repository.PaymentRepository, registry GatewayResolver, publisher *events.Publisher, logger *logrus.Logger) *PaymentService {
	return &PaymentService{
		repo:      repo,
		registry:  registry,
		publisher: publisher,
		logger:    logger,
	}
}

// GetAvailableMethods returns the payment methods a storefront offers for
// a cart total. A method is offered only when the storefront enables it,
// the owning tenant has the provider enabled, and the amount falls inside
// both the provider's and the storefront's limits.
func (s *PaymentService) GetAvailableMethods(ctx context.Context, storefrontID string, cartTotal float64) ([]models.AvailableMethod, error) {
	methods, err := s.repo.ListStorefrontMethods(ctx, storefrontID)
	if err != nil {
		return nil, fmt.Errorf("list storefront methods: %w", err)
	}

	available := make([]models.AvailableMethod, 0, len(methods))
	for _, method := range methods {
		cfg, err := s.repo.GetEnabledTenantProvider(ctx, method.TenantID, method.Provider)
		if err != nil {
			if errors.Is(err, models.ErrProviderNotConfigured) {
				continue
			}
			return nil, err
		}

		gw, err := s.registry.Resolve(cfg)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"tenant_id": method.TenantID,
				"provider":  method.Provider,
			}).Warn("Skipping provider that failed to initialize")
			continue
		}

		info := gw.PaymentMethodInfo()
		if cartTotal > 0 {
			if cartTotal < info.MinAmount {
				continue
			}
			if info.MaxAmount > 0 && cartTotal > info.MaxAmount {
				continue
			}
			if !cartWithinConditions(method.Conditions, cartTotal) {
				continue
			}
		}

		displayName := method.DisplayName
		if displayName == "" {
			displayName = info.DisplayName
		}

		available = append(available, models.AvailableMethod{
			Provider:         method.Provider,
			DisplayName:      displayName,
			Description:      method.DisplayDescription,
			Type:             info.Type,
			Icon:             method.Icon,
			DisplayOrder:     method.DisplayOrder,
			RequiresRedirect: info.RequiresRedirect,
			MinAmount:        info.MinAmount,
			MaxAmount:        info.MaxAmount,
		})
	}

	return available, nil
}

func cartWithinConditions(conditions models.JSONB, cartTotal float64) bool {
	if conditions == nil {
		return true
	}
	if min, ok := toFloat(conditions["min_cart_total"]); ok && cartTotal < min {
		return false
	}
	if max, ok := toFloat(conditions["max_cart_total"]); ok && max > 0 && cartTotal > max {
		return false
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// CreateIntent creates a payment transaction and initiates it with the
// provider. The transaction row exists before the provider is called, so
// a provider failure leaves a failed row rather than nothing.
func (s *PaymentService) CreateIntent(ctx context.Context, req *models.CreatePaymentIntentRequest) (*models.PaymentIntentResponse, error) {
	if !req.Provider.Valid() {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidProvider, req.Provider)
	}

	cfg, err := s.repo.GetEnabledTenantProvider(ctx, req.TenantID, req.Provider)
	if err != nil {
		return nil, err
	}

	// When the request comes through a storefront the method must be
	// enabled there too, with the amount inside its cart conditions
	if req.StorefrontID != "" {
		method, err := s.repo.GetStorefrontMethod(ctx, req.StorefrontID, req.Provider)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: %s on storefront %s", models.ErrMethodNotAvailable, req.Provider, req.StorefrontID)
			}
			return nil, err
		}
		if !method.IsEnabled {
			return nil, fmt.Errorf("%w: %s disabled on storefront %s", models.ErrMethodNotAvailable, req.Provider, req.StorefrontID)
		}
		if !cartWithinConditions(method.Conditions, req.Amount) {
			return nil, fmt.Errorf("%w: amount %.2f outside storefront conditions", models.ErrMethodNotAvailable, req.Amount)
		}
	}

	gw, err := s.registry.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = "EUR"
	}

	metadata := make(models.JSONB)
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	txn := &models.PaymentTransaction{
		TenantID:          req.TenantID,
		StorefrontID:      req.StorefrontID,
		OrderID:           req.OrderID,
		Provider:          req.Provider,
		Amount:            req.Amount,
		Currency:          currency,
		Status:            models.PaymentPending,
		PaymentMethodType: gw.PaymentMethodInfo().Type,
		CustomerEmail:     req.CustomerEmail,
		CustomerID:        req.CustomerID,
		Metadata:          metadata,
		FeeBearer:         cfg.FeeBearer,
	}
	if err := s.repo.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	result, err := gw.CreatePaymentIntent(ctx, &gateway.CreatePaymentRequest{
		OrderID:       req.OrderID,
		Amount:        req.Amount,
		Currency:      currency,
		CustomerEmail: req.CustomerEmail,
		Description:   fmt.Sprintf("Order %s", req.OrderID),
		Metadata:      req.Metadata,
		ReturnURL:     req.ReturnURL,
		CancelURL:     req.CancelURL,
	})
	if err != nil {
		txn.Status = models.PaymentFailed
		txn.ErrorMessage = err.Error()
		now := time.Now()
		txn.CompletedAt = &now
		if updateErr := s.repo.UpdateTransaction(ctx, txn); updateErr != nil {
			s.logger.WithError(updateErr).WithField("transaction_id", txn.ID).Error("Failed to mark transaction failed")
		}
		s.publisher.PublishFailed(ctx, txn.TenantID, txn.ID.String(), txn.OrderID, string(txn.Provider), txn.Amount, txn.Currency, err.Error())
		return nil, fmt.Errorf("create %s intent: %w", req.Provider, err)
	}

	txn.ProviderPaymentIntentID = result.ProviderIntentID
	txn.ProviderTransactionID = result.ProviderTransactionID
	if err := s.repo.UpdateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}

	// The adapter-returned status goes through the normal transition
	// rules so a synchronously terminal result stamps completed_at
	if result.Status != txn.Status {
		updated, applied, err := s.repo.ApplyWebhookTransition(ctx, txn.ID, result.Status, result.ProviderTransactionID, nil)
		if err != nil {
			return nil, fmt.Errorf("update transaction: %w", err)
		}
		txn = updated
		if applied {
			s.publishStatusEvent(ctx, updated)
		}
	}

	response := &models.PaymentIntentResponse{
		TransactionID:           txn.ID.String(),
		ProviderPaymentIntentID: result.ProviderIntentID,
		Provider:                req.Provider,
		Amount:                  req.Amount,
		Currency:                currency,
		Status:                  txn.Status,
		ClientSecret:            result.ClientSecret,
		RedirectURL:             result.RedirectURL,
		RequiresAction:          result.RequiresAction,
	}

	if req.Provider == models.ProviderBankTransfer {
		response.Reference = result.ProviderIntentID
		response.Instructions = models.JSONB(result.Metadata)
	}

	return response, nil
}

// GetTransactionStatus returns the ledger view of a transaction
func (s *PaymentService) GetTransactionStatus(ctx context.Context, transactionID uuid.UUID) (*models.TransactionStatusResponse, error) {
	txn, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return transactionToStatusResponse(txn), nil
}

// SyncTransactionStatus re-fetches the provider-side state and applies it
// through the normal transition rules. Used when webhooks are delayed.
func (s *PaymentService) SyncTransactionStatus(ctx context.Context, transactionID uuid.UUID) (*models.TransactionStatusResponse, error) {
	txn, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	if txn.Status.IsTerminal() || txn.ProviderPaymentIntentID == "" {
		return transactionToStatusResponse(txn), nil
	}

	cfg, err := s.repo.GetEnabledTenantProvider(ctx, txn.TenantID, txn.Provider)
	if err != nil {
		return nil, err
	}
	gw, err := s.registry.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	result, err := gw.GetPaymentStatus(ctx, txn.ProviderPaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("fetch %s status: %w", txn.Provider, err)
	}

	updated, applied, err := s.repo.ApplyWebhookTransition(ctx, txn.ID, result.Status, result.ProviderTransactionID, nil)
	if err != nil {
		return nil, err
	}
	if applied {
		s.publishStatusEvent(ctx, updated)
	}
	return transactionToStatusResponse(updated), nil
}

// RefundTransaction refunds part or all of a succeeded transaction. A nil
// amount refunds the remaining balance. The ledger is updated only after
// the provider accepts the refund.
func (s *PaymentService) RefundTransaction(ctx context.Context, transactionID uuid.UUID, req *models.CreateRefundRequest) (*models.RefundResponse, error) {
	txn, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	if txn.Status != models.PaymentSucceeded && txn.Status != models.PaymentPartiallyRefunded {
		return nil, repository.ErrNotRefundable
	}

	amount := txn.RemainingRefundable()
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 || amount > txn.RemainingRefundable()+0.005 {
		return nil, repository.ErrRefundExceedsCap
	}

	cfg, err := s.repo.GetEnabledTenantProvider(ctx, txn.TenantID, txn.Provider)
	if err != nil {
		return nil, err
	}
	gw, err := s.registry.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	chargeRef := txn.ProviderTransactionID
	if chargeRef == "" {
		chargeRef = txn.ProviderPaymentIntentID
	}

	// Pass nil through for a first-refund full amount so providers that
	// distinguish full from partial refunds see a full refund
	var providerAmount *float64
	if req.Amount != nil || txn.RefundedAmount > 0 {
		providerAmount = &amount
	}

	result, err := gw.CreateRefund(ctx, &gateway.RefundRequest{
		ProviderTransactionID: chargeRef,
		Amount:                providerAmount,
		Currency:              txn.Currency,
		Reason:                req.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s refund: %w", txn.Provider, err)
	}

	updated, err := s.repo.AddRefund(ctx, txn.ID, amount, req.Reason)
	if err != nil {
		// The provider refunded but the ledger write failed; surface loudly
		s.logger.WithError(err).WithFields(logrus.Fields{
			"transaction_id":     txn.ID,
			"provider_refund_id": result.ProviderRefundID,
		}).Error("Refund accepted by provider but not recorded")
		return nil, err
	}

	s.publisher.PublishRefunded(ctx, updated.TenantID, updated.ID.String(), updated.OrderID,
		string(updated.Provider), amount, updated.Currency, req.Reason, string(updated.Status))

	return &models.RefundResponse{
		TransactionID:    updated.ID.String(),
		ProviderRefundID: result.ProviderRefundID,
		Amount:           amount,
		Currency:         updated.Currency,
		RefundedAmount:   updated.RefundedAmount,
		Status:           updated.Status,
	}, nil
}

// ConfirmBankTransfer marks a pending bank transfer as received. Operator
// action, the bank transfer provider has no webhooks.
func (s *PaymentService) ConfirmBankTransfer(ctx context.Context, transactionID uuid.UUID) (*models.TransactionStatusResponse, error) {
	txn, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	if txn.Provider != models.ProviderBankTransfer {
		return nil, fmt.Errorf("transaction %s is not a bank transfer", txn.ID)
	}
	if txn.Status.IsTerminal() {
		return nil, fmt.Errorf("transaction %s is already %s", txn.ID, txn.Status)
	}

	updated, applied, err := s.repo.ApplyWebhookTransition(ctx, txn.ID, models.PaymentSucceeded, "", &models.TransactionWebhookEvent{
		EventType: "bank_transfer.confirmed",
	})
	if err != nil {
		return nil, err
	}
	if applied {
		s.publisher.PublishSucceeded(ctx, updated.TenantID, updated.ID.String(), updated.OrderID,
			string(updated.Provider), updated.CustomerEmail, updated.Amount, updated.Currency)
	}

	return transactionToStatusResponse(updated), nil
}

// ListTransactions lists transactions for a tenant with filters
func (s *PaymentService) ListTransactions(ctx context.Context, filters *models.TransactionFilters, limit, offset int) ([]models.PaymentTransaction, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListTransactions(ctx, filters, limit, offset)
}

// GetAnalytics aggregates transaction totals for a tenant
func (s *PaymentService) GetAnalytics(ctx context.Context, tenantID string, from, to *time.Time) (*models.AnalyticsResponse, error) {
	return s.repo.GetAnalytics(ctx, tenantID, from, to)
}

func (s *PaymentService) publishStatusEvent(ctx context.Context, txn *models.PaymentTransaction) {
	switch txn.Status {
	case models.PaymentSucceeded:
		s.publisher.PublishSucceeded(ctx, txn.TenantID, txn.ID.String(), txn.OrderID,
			string(txn.Provider), txn.CustomerEmail, txn.Amount, txn.Currency)
	case models.PaymentFailed:
		s.publisher.PublishFailed(ctx, txn.TenantID, txn.ID.String(), txn.OrderID,
			string(txn.Provider), txn.Amount, txn.Currency, txn.ErrorMessage)
	}
}

func transactionToStatusResponse(txn *models.PaymentTransaction) *models.TransactionStatusResponse {
	response := &models.TransactionStatusResponse{
		ID:                      txn.ID.String(),
		OrderID:                 txn.OrderID,
		Provider:                txn.Provider,
		Amount:                  txn.Amount,
		Currency:                txn.Currency,
		Status:                  txn.Status,
		ProviderPaymentIntentID: txn.ProviderPaymentIntentID,
		ProviderTransactionID:   txn.ProviderTransactionID,
		RefundedAmount:          txn.RefundedAmount,
		ErrorMessage:            txn.ErrorMessage,
		CreatedAt:               txn.CreatedAt.Format(time.RFC3339),
	}
	if txn.CompletedAt != nil {
		completedAt := txn.CompletedAt.Format(time.RFC3339)
		response.CompletedAt = &completedAt
	}
	return response
}
