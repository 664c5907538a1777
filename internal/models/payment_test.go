package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionFromNonTerminal(t *testing.T) {
	for _, from := range []PaymentStatus{PaymentPending, PaymentProcessing, PaymentRequiresAction} {
		assert.True(t, CanTransition(from, PaymentSucceeded), "%s -> succeeded", from)
		assert.True(t, CanTransition(from, PaymentFailed), "%s -> failed", from)
		assert.True(t, CanTransition(from, PaymentCancelled), "%s -> cancelled", from)
		assert.False(t, CanTransition(from, from), "%s -> itself", from)
	}
}

func TestCanTransitionTerminalDominance(t *testing.T) {
	// Failed, cancelled and fully refunded never move again
	for _, from := range []PaymentStatus{PaymentFailed, PaymentCancelled, PaymentRefunded} {
		for _, to := range []PaymentStatus{PaymentPending, PaymentProcessing, PaymentSucceeded, PaymentFailed, PaymentCancelled, PaymentRefunded, PaymentPartiallyRefunded} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	// Succeeded only refines into refund states
	assert.True(t, CanTransition(PaymentSucceeded, PaymentRefunded))
	assert.True(t, CanTransition(PaymentSucceeded, PaymentPartiallyRefunded))
	assert.False(t, CanTransition(PaymentSucceeded, PaymentPending))
	assert.False(t, CanTransition(PaymentSucceeded, PaymentFailed))

	assert.True(t, CanTransition(PaymentPartiallyRefunded, PaymentRefunded))
	assert.False(t, CanTransition(PaymentPartiallyRefunded, PaymentSucceeded))
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, PaymentPending.IsTerminal())
	assert.False(t, PaymentProcessing.IsTerminal())
	assert.False(t, PaymentRequiresAction.IsTerminal())
	assert.True(t, PaymentSucceeded.IsTerminal())
	assert.True(t, PaymentFailed.IsTerminal())
	assert.True(t, PaymentCancelled.IsTerminal())
	assert.True(t, PaymentRefunded.IsTerminal())
	assert.True(t, PaymentPartiallyRefunded.IsTerminal())
}

func TestProviderValid(t *testing.T) {
	for _, p := range AllProviders {
		assert.True(t, p.Valid())
	}
	assert.False(t, Provider("klarna").Valid())
	assert.False(t, Provider("").Valid())
}

func TestRemainingRefundable(t *testing.T) {
	txn := &PaymentTransaction{Amount: 100.00, RefundedAmount: 40.00}
	assert.Equal(t, 60.00, txn.RemainingRefundable())

	txn.RefundedAmount = 100.00
	assert.Equal(t, 0.00, txn.RemainingRefundable())

	txn.RefundedAmount = 120.00
	assert.Equal(t, 0.00, txn.RemainingRefundable())
}

func TestJSONBScanAndValue(t *testing.T) {
	var j JSONB
	require.NoError(t, j.Scan([]byte(`{"key":"value","n":2}`)))
	assert.Equal(t, "value", j["key"])

	require.NoError(t, j.Scan(nil))
	assert.NotNil(t, j)
	assert.Empty(t, j)

	v, err := JSONB{"a": "b"}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"b"}`, string(v.([]byte)))
}

func TestJSONBRoundTrip(t *testing.T) {
	raw := []byte(`{"min_cart_total":10.5,"max_cart_total":500}`)
	var j JSONB
	require.NoError(t, json.Unmarshal(raw, &j))

	out, err := json.Marshal(j)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
}
