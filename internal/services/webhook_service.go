package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"vinc-payment-service/internal/events"
	"vinc-payment-service/internal/gateway"
	"vinc-payment-service/internal/models"
	"vinc-payment-service/internal/repository"
)

// WebhookOutcome classifies how an inbound webhook was handled
type WebhookOutcome string

const (
	OutcomeSuccess   WebhookOutcome = "success"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeIgnored   WebhookOutcome = "ignored"
	OutcomeError     WebhookOutcome = "error"
)

const dedupTTL = 24 * time.Hour

// WebhookResult is what the HTTP layer turns into a response. Duplicate
// and ignored outcomes still acknowledge with 200 so providers stop
// retrying.
type WebhookResult struct {
	Outcome       WebhookOutcome `json:"outcome"`
	Message       string         `json:"message,omitempty"`
	TransactionID *uuid.UUID     `json:"transactionId,omitempty"`
}

// WebhookService runs the webhook pipeline: deduplicate, locate the
// transaction, verify the signature with the owning tenant's credentials,
// then apply the transition. Every call leaves an audit row, whatever the
// outcome.
type WebhookService struct {
	repo      *repository.PaymentRepository
	registry  GatewayResolver
	redis     *redis.Client
	publisher *events.Publisher
	logger    *logrus.Logger
}

// NewWebhookService creates a new webhook service. The redis client is
// optional: without it deduplication falls back to the database alone.
func NewWebhookService(repo *repository.PaymentRepository, registry GatewayResolver, redisClient *redis.Client, publisher *events.Publisher, logger *logrus.Logger) *WebhookService {
	return &WebhookService{
		repo:      repo,
		registry:  registry,
		redis:     redisClient,
		publisher: publisher,
		logger:    logger,
	}
}

// parsedWebhook is the provider-neutral reading of an inbound event,
// extracted before verification purely to locate the transaction.
type parsedWebhook struct {
	eventID   string
	eventType string
	// Provider intent id, or the order id for providers that notify by
	// merchant reference
	intentRef     string
	refByOrderID  bool
	providerTxnID string

	newStatus models.PaymentStatus
	isRefund  bool
	// Refund amount of this event; nil means the full remaining balance
	refundAmount *float64
	// When true refundAmount is the cumulative total, not a delta
	refundIsTotal bool

	relevant bool
}

// Process runs the webhook pipeline for one inbound call
func (s *WebhookService) Process(ctx context.Context, provider models.Provider, body []byte, signature string, headers map[string]string) (*WebhookResult, error) {
	started := time.Now()

	var payload models.JSONB
	if err := json.Unmarshal(body, &payload); err != nil {
		result := &WebhookResult{Outcome: OutcomeError, Message: "malformed payload"}
		s.writeLog(provider, "", "", payload, signature, headers, nil, result, started)
		return result, gateway.NewGatewayError(provider, gateway.CodeMalformedPayload, err.Error(), false)
	}

	parsed, err := s.parse(provider, payload)
	if err != nil {
		result := &WebhookResult{Outcome: OutcomeError, Message: err.Error()}
		s.writeLog(provider, "", "", payload, signature, headers, nil, result, started)
		return result, err
	}

	if !parsed.relevant {
		result := &WebhookResult{Outcome: OutcomeIgnored, Message: fmt.Sprintf("event type %s not handled", parsed.eventType)}
		s.writeLog(provider, parsed.eventID, parsed.eventType, payload, signature, headers, nil, result, started)
		return result, nil
	}

	if s.isDuplicate(ctx, provider, parsed.eventID) {
		result := &WebhookResult{Outcome: OutcomeDuplicate, Message: "event already processed"}
		s.writeLog(provider, parsed.eventID, parsed.eventType, payload, signature, headers, nil, result, started)
		return result, nil
	}

	txn, err := s.locate(ctx, provider, parsed)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result := &WebhookResult{Outcome: OutcomeIgnored, Message: "no matching transaction"}
			s.writeLog(provider, parsed.eventID, parsed.eventType, payload, signature, headers, nil, result, started)
			return result, nil
		}
		result := &WebhookResult{Outcome: OutcomeError, Message: err.Error()}
		s.writeLog(provider, parsed.eventID, parsed.eventType, payload, signature, headers, nil, result, started)
		return result, err
	}

	cfg, err := s.repo.GetEnabledTenantProvider(ctx, txn.TenantID, provider)
	if err != nil {
		result := &WebhookResult{Outcome: OutcomeError, Message: err.Error(), TransactionID: &txn.ID}
		s.writeLog(provider, parsed.eventID, parsed.eventType, payload, signature, headers, &txn.ID, result, started)
		return result, err
	}
	gw, err := s.registry.Resolve(cfg)
	if err != nil {
		result := &WebhookResult{Outcome: OutcomeError, Message: err.Error(), TransactionID: &txn.ID}
		s.writeLog(provider, parsed.eventID, parsed.eventType, payload, signature, headers, &txn.ID, result, started)
		return result, err
	}

	if _, err := gw.VerifyWebhook(ctx, body, signature, headers); err != nil {
		result := &WebhookResult{Outcome: OutcomeError, Message: "signature verification failed", TransactionID: &txn.ID}
		s.writeLog(provider, parsed.eventID, parsed.eventType, payload, signature, headers, &txn.ID, result, started)
		return result, err
	}

	result, err := s.apply(ctx, txn, parsed, payload)
	if result.Outcome == OutcomeSuccess {
		s.markProcessed(ctx, provider, parsed.eventID)
	}
	s.writeLog(provider, parsed.eventID, parsed.eventType, payload, signature, headers, &txn.ID, result, started)
	return result, err
}

func (s *WebhookService) apply(ctx context.Context, txn *models.PaymentTransaction, parsed *parsedWebhook, payload models.JSONB) (*WebhookResult, error) {
	if parsed.isRefund {
		return s.applyRefund(ctx, txn, parsed, payload)
	}

	event := &models.TransactionWebhookEvent{
		EventType: parsed.eventType,
		EventID:   parsed.eventID,
		Payload:   payload,
	}

	updated, applied, err := s.repo.ApplyWebhookTransition(ctx, txn.ID, parsed.newStatus, parsed.providerTxnID, event)
	if err != nil {
		return &WebhookResult{Outcome: OutcomeError, Message: err.Error(), TransactionID: &txn.ID}, err
	}

	if !applied {
		s.logger.WithFields(logrus.Fields{
			"transaction_id": txn.ID,
			"from":           updated.Status,
			"to":             parsed.newStatus,
			"event_type":     parsed.eventType,
		}).Info("Webhook recorded without status change")
		return &WebhookResult{Outcome: OutcomeIgnored, Message: "status unchanged", TransactionID: &txn.ID}, nil
	}

	switch updated.Status {
	case models.PaymentSucceeded:
		s.publisher.PublishSucceeded(ctx, updated.TenantID, updated.ID.String(), updated.OrderID,
			string(updated.Provider), updated.CustomerEmail, updated.Amount, updated.Currency)
	case models.PaymentFailed:
		s.publisher.PublishFailed(ctx, updated.TenantID, updated.ID.String(), updated.OrderID,
			string(updated.Provider), updated.Amount, updated.Currency, parsed.eventType)
	}

	return &WebhookResult{Outcome: OutcomeSuccess, TransactionID: &txn.ID}, nil
}

func (s *WebhookService) applyRefund(ctx context.Context, txn *models.PaymentTransaction, parsed *parsedWebhook, payload models.JSONB) (*WebhookResult, error) {
	// Record the event regardless of whether the refund amount moves
	_, _, err := s.repo.ApplyWebhookTransition(ctx, txn.ID, txn.Status, parsed.providerTxnID, &models.TransactionWebhookEvent{
		EventType: parsed.eventType,
		EventID:   parsed.eventID,
		Payload:   payload,
	})
	if err != nil {
		return &WebhookResult{Outcome: OutcomeError, Message: err.Error(), TransactionID: &txn.ID}, err
	}

	current, err := s.repo.GetTransaction(ctx, txn.ID)
	if err != nil {
		return &WebhookResult{Outcome: OutcomeError, Message: err.Error(), TransactionID: &txn.ID}, err
	}

	amount := current.RemainingRefundable()
	if parsed.refundAmount != nil {
		amount = *parsed.refundAmount
		if parsed.refundIsTotal {
			amount -= current.RefundedAmount
		}
	}
	if amount > current.RemainingRefundable() {
		amount = current.RemainingRefundable()
	}
	if amount <= 0 {
		return &WebhookResult{Outcome: OutcomeIgnored, Message: "refund already recorded", TransactionID: &txn.ID}, nil
	}

	updated, err := s.repo.AddRefund(ctx, txn.ID, amount, "")
	if err != nil {
		if errors.Is(err, repository.ErrNotRefundable) {
			return &WebhookResult{Outcome: OutcomeIgnored, Message: err.Error(), TransactionID: &txn.ID}, nil
		}
		return &WebhookResult{Outcome: OutcomeError, Message: err.Error(), TransactionID: &txn.ID}, err
	}

	s.publisher.PublishRefunded(ctx, updated.TenantID, updated.ID.String(), updated.OrderID,
		string(updated.Provider), amount, updated.Currency, "", string(updated.Status))

	return &WebhookResult{Outcome: OutcomeSuccess, TransactionID: &txn.ID}, nil
}

func (s *WebhookService) locate(ctx context.Context, provider models.Provider, parsed *parsedWebhook) (*models.PaymentTransaction, error) {
	if parsed.refByOrderID {
		return s.repo.FindByProviderOrderID(ctx, provider, parsed.intentRef)
	}
	return s.repo.FindByProviderIntentID(ctx, provider, parsed.intentRef)
}

// isDuplicate checks redis first and falls back to the webhook log. The
// redis marker is best-effort; the database check is authoritative. The
// check never writes: a retry of a delivery that failed must not be
// classified duplicate, the marker is set only after the event applied.
func (s *WebhookService) isDuplicate(ctx context.Context, provider models.Provider, eventID string) bool {
	if eventID == "" {
		return false
	}

	if s.redis != nil {
		n, err := s.redis.Exists(ctx, dedupKey(provider, eventID)).Result()
		if err != nil {
			s.logger.WithError(err).Warn("Redis dedup check failed, falling back to database")
		} else if n > 0 {
			return true
		}
	}

	duplicate, err := s.repo.IsDuplicateWebhook(ctx, provider, eventID)
	if err != nil {
		s.logger.WithError(err).Warn("Database dedup check failed")
		return false
	}
	return duplicate
}

// markProcessed records the redis fast-path marker once an event has
// been applied
func (s *WebhookService) markProcessed(ctx context.Context, provider models.Provider, eventID string) {
	if s.redis == nil || eventID == "" {
		return
	}
	if err := s.redis.Set(ctx, dedupKey(provider, eventID), 1, dedupTTL).Err(); err != nil {
		s.logger.WithError(err).Warn("Failed to set redis dedup marker")
	}
}

func dedupKey(provider models.Provider, eventID string) string {
	return fmt.Sprintf("webhook:dedup:%s:%s", provider, eventID)
}

func (s *WebhookService) writeLog(provider models.Provider, eventID, eventType string, payload models.JSONB, signature string, headers map[string]string, transactionID *uuid.UUID, result *WebhookResult, started time.Time) {
	// Only applied events log as success: the log row doubles as the
	// dedup key, and a correlation miss must stay retryable
	status := models.WebhookLogFailed
	switch result.Outcome {
	case OutcomeSuccess:
		status = models.WebhookLogSuccess
	case OutcomeDuplicate:
		status = models.WebhookLogDuplicate
	}

	headerMap := make(models.JSONB, len(headers))
	for k, v := range headers {
		headerMap[k] = v
	}

	now := time.Now()
	log := &models.PaymentWebhookLog{
		Provider:         provider,
		EventType:        eventType,
		EventID:          eventID,
		Payload:          payload,
		Signature:        signature,
		Headers:          headerMap,
		Status:           status,
		ErrorMessage:     result.Message,
		ProcessingTimeMs: int(time.Since(started).Milliseconds()),
		TransactionID:    transactionID,
		ProcessedAt:      &now,
	}

	// Audit write uses a detached context so a cancelled request still
	// leaves its trace
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.CreateWebhookLog(ctx, log); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"provider": provider,
			"event_id": eventID,
		}).Error("Failed to write webhook log")
	}
}

// ==================== Provider-specific parsing ====================

func (s *WebhookService) parse(provider models.Provider, payload models.JSONB) (*parsedWebhook, error) {
	switch provider {
	case models.ProviderStripe:
		return parseStripeWebhook(payload), nil
	case models.ProviderPayPal:
		return parsePayPalWebhook(payload), nil
	case models.ProviderNexi:
		return parseNexiWebhook(payload), nil
	case models.ProviderBancaSella:
		return parseSellaWebhook(payload), nil
	case models.ProviderScalapay:
		return parseScalapayWebhook(payload), nil
	default:
		return nil, gateway.NewGatewayError(provider, gateway.CodeNotSupported,
			fmt.Sprintf("provider %s does not receive webhooks", provider), false)
	}
}

func parseStripeWebhook(payload models.JSONB) *parsedWebhook {
	parsed := &parsedWebhook{
		eventID:   stringField(payload, "id"),
		eventType: stringField(payload, "type"),
	}

	object := nestedMap(payload, "data", "object")
	if object == nil {
		return parsed
	}

	switch parsed.eventType {
	case "payment_intent.succeeded":
		parsed.newStatus = models.PaymentSucceeded
	case "payment_intent.payment_failed":
		parsed.newStatus = models.PaymentFailed
	case "payment_intent.canceled":
		parsed.newStatus = models.PaymentCancelled
	case "payment_intent.processing":
		parsed.newStatus = models.PaymentProcessing
	case "payment_intent.requires_action":
		parsed.newStatus = models.PaymentRequiresAction
	case "charge.refunded":
		parsed.isRefund = true
		parsed.intentRef = stringField(object, "payment_intent")
		parsed.providerTxnID = stringField(object, "id")
		if cents, ok := toFloat(object["amount_refunded"]); ok {
			total := cents / 100
			parsed.refundAmount = &total
			parsed.refundIsTotal = true
		}
		parsed.relevant = parsed.intentRef != ""
		return parsed
	default:
		return parsed
	}

	parsed.intentRef = stringField(object, "id")
	if charge, ok := object["latest_charge"].(string); ok {
		parsed.providerTxnID = charge
	}
	parsed.relevant = parsed.intentRef != ""
	return parsed
}

func parsePayPalWebhook(payload models.JSONB) *parsedWebhook {
	parsed := &parsedWebhook{
		eventID:   stringField(payload, "id"),
		eventType: stringField(payload, "event_type"),
	}

	resource := nestedMap(payload, "resource")
	if resource == nil {
		return parsed
	}

	switch parsed.eventType {
	case "CHECKOUT.ORDER.APPROVED":
		parsed.intentRef = stringField(resource, "id")
		parsed.newStatus = models.PaymentProcessing
	case "CHECKOUT.ORDER.COMPLETED":
		parsed.intentRef = stringField(resource, "id")
		parsed.newStatus = models.PaymentSucceeded
	case "CHECKOUT.ORDER.VOIDED":
		parsed.intentRef = stringField(resource, "id")
		parsed.newStatus = models.PaymentCancelled
	case "PAYMENT.CAPTURE.COMPLETED":
		parsed.intentRef = paypalOrderID(resource)
		parsed.providerTxnID = stringField(resource, "id")
		parsed.newStatus = models.PaymentSucceeded
	case "PAYMENT.CAPTURE.DENIED":
		parsed.intentRef = paypalOrderID(resource)
		parsed.providerTxnID = stringField(resource, "id")
		parsed.newStatus = models.PaymentFailed
	case "PAYMENT.CAPTURE.REFUNDED":
		parsed.isRefund = true
		parsed.intentRef = paypalOrderID(resource)
		if amount := nestedMap(resource, "amount"); amount != nil {
			if v, err := parseAmountString(stringField(amount, "value")); err == nil {
				parsed.refundAmount = &v
			}
		}
	default:
		return parsed
	}

	parsed.relevant = parsed.intentRef != ""
	return parsed
}

func paypalOrderID(resource models.JSONB) string {
	if related := nestedMap(resource, "supplementary_data", "related_ids"); related != nil {
		return stringField(related, "order_id")
	}
	return ""
}

func parseNexiWebhook(payload models.JSONB) *parsedWebhook {
	paymentID := stringField(payload, "paymentId")
	status := stringField(payload, "status")

	parsed := &parsedWebhook{
		eventID:   stringField(payload, "eventId"),
		eventType: "nexi." + status,
		intentRef: paymentID,
		newStatus: gateway.MapNexiStatus(status),
		relevant:  paymentID != "" && status != "",
	}
	if parsed.eventID == "" && parsed.relevant {
		parsed.eventID = fmt.Sprintf("%s:%s", paymentID, status)
	}
	if status == "refunded" {
		parsed.isRefund = true
	}
	return parsed
}

func parseSellaWebhook(payload models.JSONB) *parsedWebhook {
	orderID := stringField(payload, "shopTransactionId")
	result := stringField(payload, "transactionResult")

	parsed := &parsedWebhook{
		eventID:       fmt.Sprintf("%s:%s", orderID, result),
		eventType:     "sella." + result,
		intentRef:     orderID,
		refByOrderID:  true,
		providerTxnID: stringField(payload, "bankTransactionId"),
		newStatus:     gateway.MapSellaStatus(result),
		relevant:      orderID != "" && result != "",
	}
	return parsed
}

func parseScalapayWebhook(payload models.JSONB) *parsedWebhook {
	token := stringField(payload, "token")
	status := stringField(payload, "status")

	parsed := &parsedWebhook{
		eventID:   stringField(payload, "eventId"),
		eventType: "scalapay." + status,
		intentRef: token,
		newStatus: gateway.MapScalapayStatus(status),
		relevant:  token != "" && status != "",
	}
	if parsed.eventID == "" && parsed.relevant {
		parsed.eventID = fmt.Sprintf("%s:%s", token, status)
	}
	if status == "refunded" {
		parsed.isRefund = true
	}
	return parsed
}

func stringField(m models.JSONB, key string) string {
	v, _ := m[key].(string)
	return v
}

func nestedMap(m models.JSONB, keys ...string) models.JSONB {
	current := map[string]interface{}(m)
	for _, key := range keys {
		next, ok := current[key].(map[string]interface{})
		if !ok {
			return nil
		}
		current = next
	}
	return models.JSONB(current)
}

func parseAmountString(s string) (float64, error) {
	var v float64
	if s == "" {
		return 0, errors.New("empty amount")
	}
	if _, err := fmt.Sscanf(s, "%f", &v); err != nil {
		return 0, err
	}
	return v, nil
}
