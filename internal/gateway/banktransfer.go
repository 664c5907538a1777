package gateway

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"vinc-payment-service/internal/models"
)

// BankTransferGateway implements the PaymentGateway interface for manual
// SEPA bank transfers. There is no provider API behind it; payments sit
// in pending until an operator confirms receipt of the wire.
type BankTransferGateway struct {
	mode   models.ProviderMode
	config models.JSONB
}

// NewBankTransferGateway creates a new bank transfer gateway instance
func NewBankTransferGateway(mode models.ProviderMode, config models.JSONB) (*BankTransferGateway, error) {
	return &BankTransferGateway{mode: mode, config: config}, nil
}

// GetProvider returns the provider type
func (g *BankTransferGateway) GetProvider() models.Provider {
	return models.ProviderBankTransfer
}

// CreatePaymentIntent generates a transfer reference and returns the bank
// details the customer must wire to. The intent stays pending.
func (g *BankTransferGateway) CreatePaymentIntent(ctx context.Context, req *CreatePaymentRequest) (*PaymentIntentResult, error) {
	reference := BankTransferReference(req.OrderID)

	return &PaymentIntentResult{
		ProviderIntentID: reference,
		Status:           models.PaymentPending,
		RequiresAction:   true,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Metadata: map[string]interface{}{
			"reference":      reference,
			"bank_name":      g.configString("bank_name", "Banca Example"),
			"account_holder": g.configString("account_holder", "Example Company S.r.l."),
			"iban":           g.configString("iban", "IT60X0542811101000000123456"),
			"bic":            g.configString("bic", "BPMOIT22"),
		},
	}, nil
}

// ConfirmPayment marks the transfer received. Called by the operator
// confirmation flow, never by a webhook.
func (g *BankTransferGateway) ConfirmPayment(ctx context.Context, providerIntentID string) (*PaymentIntentResult, error) {
	return &PaymentIntentResult{
		ProviderIntentID: providerIntentID,
		Status:           models.PaymentSucceeded,
	}, nil
}

// GetPaymentStatus reports pending. The ledger row is the source of truth
// for manual transfers, there is no provider to ask.
func (g *BankTransferGateway) GetPaymentStatus(ctx context.Context, providerIntentID string) (*PaymentIntentResult, error) {
	return &PaymentIntentResult{
		ProviderIntentID: providerIntentID,
		Status:           models.PaymentPending,
		RequiresAction:   true,
	}, nil
}

// CreateRefund records a manual refund instruction. The actual wire back
// to the customer happens outside the system.
func (g *BankTransferGateway) CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	amount := 0.0
	if req.Amount != nil {
		amount = *req.Amount
	}
	return &RefundResult{
		ProviderRefundID: "REFUND-" + req.ProviderTransactionID,
		Amount:           amount,
		Currency:         req.Currency,
		Status:           "pending",
	}, nil
}

// VerifyWebhook always fails. Bank transfers have no webhook source.
func (g *BankTransferGateway) VerifyWebhook(ctx context.Context, payload []byte, signature string, headers map[string]string) (map[string]interface{}, error) {
	return nil, NewGatewayError(models.ProviderBankTransfer, CodeNotSupported, "bank transfer does not receive webhooks", false)
}

// PaymentMethodInfo returns static checkout metadata for bank transfers
func (g *BankTransferGateway) PaymentMethodInfo() MethodInfo {
	return MethodInfo{
		Name:             string(models.ProviderBankTransfer),
		DisplayName:      "Bank Transfer (SEPA)",
		Type:             models.MethodBankTransfer,
		MinAmount:        0.01,
		SupportsRefund:   true,
		RequiresRedirect: false,
	}
}

func (g *BankTransferGateway) configString(key, fallback string) string {
	if g.config != nil {
		if v, ok := g.config[key].(string); ok && v != "" {
			return v
		}
	}
	return fallback
}

// BankTransferReference derives the deterministic wire reference for an
// order: BT-<first 8 of order id>-<first 6 hex of md5(order id), upper>.
// The customer quotes it in the transfer subject, the operator matches it
// against the bank statement.
func BankTransferReference(orderID string) string {
	short := orderID
	if len(short) > 8 {
		short = short[:8]
	}
	sum := md5.Sum([]byte(orderID))
	suffix := strings.ToUpper(hex.EncodeToString(sum[:])[:6])
	return fmt.Sprintf("BT-%s-%s", short, suffix)
}
