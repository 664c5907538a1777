package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	streamName = "PAYMENT_EVENTS"

	SubjectPaymentSucceeded = "payment.succeeded"
	SubjectPaymentFailed    = "payment.failed"
	SubjectPaymentRefunded  = "payment.refunded"
)

// PaymentEvent is the envelope published on payment lifecycle changes.
// Downstream consumers (orders, notifications) key on Type and TenantID.
type PaymentEvent struct {
	EventID       string    `json:"eventId"`
	Type          string    `json:"type"`
	TenantID      string    `json:"tenantId"`
	TransactionID string    `json:"transactionId"`
	OrderID       string    `json:"orderId"`
	Provider      string    `json:"provider"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	CustomerEmail string    `json:"customerEmail,omitempty"`
	RefundAmount  float64   `json:"refundAmount,omitempty"`
	RefundReason  string    `json:"refundReason,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Publisher emits payment lifecycle events over NATS JetStream. A nil
// Publisher is valid and drops everything: event delivery is best-effort
// and never blocks the payment flow.
type Publisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
}

// NewPublisher connects to NATS and ensures the payment stream exists
func NewPublisher(natsURL string, logger *logrus.Logger) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("vinc-payment-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	_, err = js.StreamInfo(streamName)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      streamName,
			Subjects:  []string{"payment.>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
		})
	}
	if err != nil {
		logger.WithError(err).Warn("Failed to ensure PAYMENT_EVENTS stream")
	}

	return &Publisher{
		nc:     nc,
		js:     js,
		logger: logger.WithField("component", "events.publisher"),
	}, nil
}

// PublishSucceeded publishes a payment succeeded event
func (p *Publisher) PublishSucceeded(ctx context.Context, tenantID, transactionID, orderID, provider, customerEmail string, amount float64, currency string) {
	p.publish(ctx, SubjectPaymentSucceeded, &PaymentEvent{
		Type:          SubjectPaymentSucceeded,
		TenantID:      tenantID,
		TransactionID: transactionID,
		OrderID:       orderID,
		Provider:      provider,
		Amount:        amount,
		Currency:      currency,
		Status:        "succeeded",
		CustomerEmail: customerEmail,
	})
}

// PublishFailed publishes a payment failed event
func (p *Publisher) PublishFailed(ctx context.Context, tenantID, transactionID, orderID, provider string, amount float64, currency, errorMessage string) {
	p.publish(ctx, SubjectPaymentFailed, &PaymentEvent{
		Type:          SubjectPaymentFailed,
		TenantID:      tenantID,
		TransactionID: transactionID,
		OrderID:       orderID,
		Provider:      provider,
		Amount:        amount,
		Currency:      currency,
		Status:        "failed",
		ErrorMessage:  errorMessage,
	})
}

// PublishRefunded publishes a payment refunded event
func (p *Publisher) PublishRefunded(ctx context.Context, tenantID, transactionID, orderID, provider string, refundAmount float64, currency, reason, status string) {
	p.publish(ctx, SubjectPaymentRefunded, &PaymentEvent{
		Type:          SubjectPaymentRefunded,
		TenantID:      tenantID,
		TransactionID: transactionID,
		OrderID:       orderID,
		Provider:      provider,
		RefundAmount:  refundAmount,
		Currency:      currency,
		Status:        status,
		RefundReason:  reason,
	})
}

func (p *Publisher) publish(ctx context.Context, subject string, event *PaymentEvent) {
	if p == nil || p.js == nil {
		return
	}

	event.EventID = uuid.New().String()
	event.OccurredAt = time.Now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).WithField("subject", subject).Error("Failed to encode event")
		return
	}

	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"subject":        subject,
			"transaction_id": event.TransactionID,
		}).Warn("Failed to publish event")
	}
}

// IsConnected returns true if connected to NATS
func (p *Publisher) IsConnected() bool {
	return p != nil && p.nc != nil && p.nc.IsConnected()
}

// Close drains the NATS connection
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Close()
}
