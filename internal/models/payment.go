package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Provider configuration errors
var (
	ErrProviderNotConfigured = errors.New("payment provider not configured")
	ErrInvalidProvider       = errors.New("invalid payment provider")
	ErrProviderDisabled      = errors.New("payment provider is disabled")
	ErrMethodNotAvailable    = errors.New("payment method not available")
)

// Provider represents a payment provider
type Provider string

const (
	ProviderStripe       Provider = "stripe"
	ProviderPayPal       Provider = "paypal"
	ProviderNexi         Provider = "nexi"
	ProviderBancaSella   Provider = "banca_sella"
	ProviderScalapay     Provider = "scalapay"
	ProviderBankTransfer Provider = "bank_transfer"
)

// AllProviders lists every supported provider. The set is closed: adapter
// dispatch switches over it exhaustively.
var AllProviders = []Provider{
	ProviderStripe,
	ProviderPayPal,
	ProviderNexi,
	ProviderBancaSella,
	ProviderScalapay,
	ProviderBankTransfer,
}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	for _, known := range AllProviders {
		if p == known {
			return true
		}
	}
	return false
}

// ProviderMode represents the operating mode of a provider configuration
type ProviderMode string

const (
	ModeTest ProviderMode = "test"
	ModeLive ProviderMode = "live"
)

// PaymentStatus represents the payment transaction status
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentProcessing        PaymentStatus = "processing"
	PaymentRequiresAction    PaymentStatus = "requires_action"
	PaymentSucceeded         PaymentStatus = "succeeded"
	PaymentFailed            PaymentStatus = "failed"
	PaymentCancelled         PaymentStatus = "cancelled"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// IsTerminal reports whether s ends the primary payment flow.
// Refund statuses are post-terminal refinements of succeeded.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentSucceeded, PaymentFailed, PaymentCancelled,
		PaymentRefunded, PaymentPartiallyRefunded:
		return true
	}
	return false
}

// CanTransition reports whether a status change from one state to another
// is allowed. Terminal states dominate: once failed, cancelled or fully
// refunded, nothing moves the transaction again. Succeeded only advances
// into the refund refinements.
func CanTransition(from, to PaymentStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case PaymentSucceeded, PaymentPartiallyRefunded:
		return to == PaymentRefunded || to == PaymentPartiallyRefunded
	case PaymentFailed, PaymentCancelled, PaymentRefunded:
		return false
	default:
		return true
	}
}

// PaymentMethodType represents the type of payment method
type PaymentMethodType string

const (
	MethodCard         PaymentMethodType = "card"
	MethodWallet       PaymentMethodType = "wallet"
	MethodBNPL         PaymentMethodType = "bnpl"
	MethodBankTransfer PaymentMethodType = "bank_transfer"
	MethodRedirect     PaymentMethodType = "redirect"
)

// FeeBearer represents which party absorbs the processing fees
type FeeBearer string

const (
	FeeBearerWholesaler FeeBearer = "wholesaler"
	FeeBearerRetailer   FeeBearer = "retailer"
	FeeBearerCustomer   FeeBearer = "customer"
	FeeBearerSplit      FeeBearer = "split"
)

// WebhookLogStatus represents the processing outcome of an inbound webhook
type WebhookLogStatus string

const (
	WebhookLogSuccess   WebhookLogStatus = "success"
	WebhookLogFailed    WebhookLogStatus = "failed"
	WebhookLogPending   WebhookLogStatus = "pending"
	WebhookLogDuplicate WebhookLogStatus = "duplicate"
)

// JSONB custom type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONB) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(j))
}

func (j *JSONB) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*j = JSONB(m)
	return nil
}

// TenantPaymentProvider represents a tenant's configuration for one provider.
// Rows are soft-disabled, never deleted.
type TenantPaymentProvider struct {
	ID       uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID string       `gorm:"type:varchar(255);not null;uniqueIndex:idx_tenant_providers_pair" json:"tenantId"`
	Provider Provider     `gorm:"type:varchar(50);not null;uniqueIndex:idx_tenant_providers_pair" json:"provider"`
	IsEnabled bool        `gorm:"default:true;index:idx_tenant_providers_enabled" json:"isEnabled"`
	Mode     ProviderMode `gorm:"type:varchar(10);not null;default:'test'" json:"mode"`

	// Credentials are stored as an encrypted blob, never returned to clients
	Credentials JSONB `gorm:"type:jsonb" json:"-"`

	// Provider-specific configuration (base URLs, IBAN for bank transfer, ...)
	Config JSONB `gorm:"type:jsonb" json:"config"`

	FeeBearer FeeBearer `gorm:"type:varchar(20);default:'retailer'" json:"feeBearer"`
	Fees      JSONB     `gorm:"type:jsonb" json:"fees"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for TenantPaymentProvider
func (TenantPaymentProvider) TableName() string {
	return "tenant_payment_providers"
}

// BeforeCreate assigns the primary key
func (p *TenantPaymentProvider) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// StorefrontPaymentMethod represents a provider enabled on a storefront.
// TenantID is denormalized from the owning tenant for query efficiency.
type StorefrontPaymentMethod struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	StorefrontID string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_storefront_methods_pair" json:"storefrontId"`
	Provider     Provider  `gorm:"type:varchar(50);not null;uniqueIndex:idx_storefront_methods_pair" json:"provider"`
	TenantID     string    `gorm:"type:varchar(255);not null;index:idx_storefront_methods_tenant" json:"tenantId"`
	IsEnabled    bool      `gorm:"default:true" json:"isEnabled"`

	// Display customization
	DisplayName        string `gorm:"type:varchar(255)" json:"displayName"`
	DisplayDescription string `gorm:"type:text" json:"displayDescription,omitempty"`
	DisplayOrder       int    `gorm:"default:0" json:"displayOrder"`
	Icon               string `gorm:"type:varchar(500)" json:"icon,omitempty"`

	// Cart conditions: min_cart_total, max_cart_total
	Conditions JSONB `gorm:"type:jsonb" json:"conditions"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for StorefrontPaymentMethod
func (StorefrontPaymentMethod) TableName() string {
	return "storefront_payment_methods"
}

// BeforeCreate assigns the primary key
func (m *StorefrontPaymentMethod) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// PaymentTransaction is the aggregate root of the payment subsystem
type PaymentTransaction struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID     string    `gorm:"type:varchar(255);not null;index:idx_payment_transactions_tenant" json:"tenantId"`
	StorefrontID string    `gorm:"type:varchar(255);index:idx_payment_transactions_storefront" json:"storefrontId,omitempty"`
	OrderID      string    `gorm:"type:varchar(255);not null;index:idx_payment_transactions_order" json:"orderId"`

	Provider Provider `gorm:"type:varchar(50);not null;index:idx_payment_transactions_provider" json:"provider"`

	// Set at intent creation; webhook correlation key
	ProviderPaymentIntentID string `gorm:"type:varchar(255);index:idx_payment_transactions_intent" json:"providerPaymentIntentId,omitempty"`
	// Set once a charge exists
	ProviderTransactionID string `gorm:"type:varchar(255);index:idx_payment_transactions_charge" json:"providerTransactionId,omitempty"`

	Amount   float64 `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency string  `gorm:"type:varchar(3);default:'EUR'" json:"currency"`

	Status            PaymentStatus     `gorm:"type:varchar(50);not null;index:idx_payment_transactions_status" json:"status"`
	PaymentMethodType PaymentMethodType `gorm:"type:varchar(50)" json:"paymentMethodType,omitempty"`

	CustomerEmail string     `gorm:"type:varchar(255)" json:"customerEmail,omitempty"`
	CustomerID    *uuid.UUID `gorm:"type:uuid" json:"customerId,omitempty"`

	Metadata     JSONB  `gorm:"type:jsonb" json:"metadata,omitempty"`
	ErrorMessage string `gorm:"type:text" json:"errorMessage,omitempty"`

	// Monotonically non-decreasing, never exceeds Amount
	RefundedAmount float64   `gorm:"type:decimal(12,2);default:0" json:"refundedAmount"`
	RefundReason   string    `gorm:"type:varchar(255)" json:"refundReason,omitempty"`
	FeeBearer      FeeBearer `gorm:"type:varchar(20)" json:"feeBearer,omitempty"`

	CreatedAt   time.Time  `gorm:"default:CURRENT_TIMESTAMP;index:idx_payment_transactions_created" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
	// Set exactly once, on the first transition into a terminal status
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	WebhookEvents []TransactionWebhookEvent `gorm:"foreignKey:TransactionID" json:"webhookEvents,omitempty"`
}

// TableName specifies the table name for PaymentTransaction
func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}

// BeforeCreate assigns the primary key
func (t *PaymentTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// RemainingRefundable returns how much of the original charge can still
// be refunded.
func (t *PaymentTransaction) RemainingRefundable() float64 {
	remaining := t.Amount - t.RefundedAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TransactionWebhookEvent is the append-only audit trail of webhook events
// applied to a transaction. Rows are inserted, never updated or deleted.
type TransactionWebhookEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID uuid.UUID `gorm:"type:uuid;not null;index:idx_transaction_webhook_events_txn" json:"transactionId"`
	EventType     string    `gorm:"type:varchar(100);not null" json:"eventType"`
	EventID       string    `gorm:"type:varchar(255)" json:"eventId,omitempty"`
	Payload       JSONB     `gorm:"type:jsonb" json:"payload,omitempty"`
	ReceivedAt    time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"receivedAt"`
}

// TableName specifies the table name for TransactionWebhookEvent
func (TransactionWebhookEvent) TableName() string {
	return "transaction_webhook_events"
}

// BeforeCreate assigns the primary key
func (e *TransactionWebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// PaymentWebhookLog is the append-only audit of every inbound webhook call,
// success or failure. (provider, event_id, status=success) is the
// deduplication key. Rows are never mutated after insert.
type PaymentWebhookLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Provider  Provider  `gorm:"type:varchar(50);not null;index:idx_webhook_logs_dedup" json:"provider"`
	EventType string    `gorm:"type:varchar(100)" json:"eventType,omitempty"`
	EventID   string    `gorm:"type:varchar(255);index:idx_webhook_logs_dedup" json:"eventId,omitempty"`

	Payload   JSONB  `gorm:"type:jsonb" json:"payload"`
	Signature string `gorm:"type:text" json:"signature,omitempty"`
	Headers   JSONB  `gorm:"type:jsonb" json:"headers,omitempty"`

	Status           WebhookLogStatus `gorm:"type:varchar(20);not null;index:idx_webhook_logs_dedup" json:"status"`
	ErrorMessage     string           `gorm:"type:text" json:"errorMessage,omitempty"`
	ProcessingTimeMs int              `json:"processingTimeMs"`

	// Nullable: no matching transaction may have been found
	TransactionID *uuid.UUID `gorm:"type:uuid;index:idx_webhook_logs_txn" json:"transactionId,omitempty"`

	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	CreatedAt   time.Time  `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// TableName specifies the table name for PaymentWebhookLog
func (PaymentWebhookLog) TableName() string {
	return "payment_webhook_logs"
}

// BeforeCreate assigns the primary key
func (l *PaymentWebhookLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
