package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vinc-payment-service/internal/gateway"
	"vinc-payment-service/internal/models"
	"vinc-payment-service/internal/repository"
	"vinc-payment-service/internal/vault"
)

func newTestProviderService(t *testing.T, repo *repository.PaymentRepository) *ProviderService {
	t.Helper()
	v, err := vault.New("provider-service-test-key")
	require.NoError(t, err)
	return NewProviderService(repo, gateway.NewRegistry(v, 0), v, quietLogger())
}

func TestConfigureStorefrontMethodRequiresEnabledProvider(t *testing.T) {
	repo := newTestRepository(t)
	svc := newTestProviderService(t, repo)
	ctx := context.Background()

	require.NoError(t, repo.CreateTenantProvider(ctx, &models.TenantPaymentProvider{
		TenantID:  "tenant-1",
		Provider:  models.ProviderStripe,
		IsEnabled: false,
		Mode:      models.ModeTest,
	}))

	// A disabled tenant provider cannot back an enabled method
	_, err := svc.ConfigureStorefrontMethod(ctx, "tenant-1", "store-1", &models.StorefrontMethodRequest{
		Provider: models.ProviderStripe,
	})
	assert.ErrorIs(t, err, models.ErrProviderNotConfigured)

	// Disabling a method only needs the configuration to exist
	disabled := false
	method, err := svc.ConfigureStorefrontMethod(ctx, "tenant-1", "store-1", &models.StorefrontMethodRequest{
		Provider:  models.ProviderStripe,
		IsEnabled: &disabled,
	})
	require.NoError(t, err)
	assert.False(t, method.IsEnabled)

	// A provider the tenant never configured is rejected either way
	_, err = svc.ConfigureStorefrontMethod(ctx, "tenant-1", "store-1", &models.StorefrontMethodRequest{
		Provider:  models.ProviderPayPal,
		IsEnabled: &disabled,
	})
	assert.ErrorIs(t, err, models.ErrProviderNotConfigured)
}

func TestConfigureStorefrontMethodWithEnabledProvider(t *testing.T) {
	repo := newTestRepository(t)
	svc := newTestProviderService(t, repo)
	ctx := context.Background()

	seedTenantProvider(t, repo, models.ProviderStripe)

	method, err := svc.ConfigureStorefrontMethod(ctx, "tenant-1", "store-1", &models.StorefrontMethodRequest{
		Provider:    models.ProviderStripe,
		DisplayName: "Card",
		Conditions:  models.JSONB{"min_cart_total": 5.0},
	})
	require.NoError(t, err)
	assert.True(t, method.IsEnabled)
	assert.Equal(t, "Card", method.DisplayName)

	// Reconfiguring the same pairing updates in place
	updated, err := svc.ConfigureStorefrontMethod(ctx, "tenant-1", "store-1", &models.StorefrontMethodRequest{
		Provider:    models.ProviderStripe,
		DisplayName: "Credit card",
	})
	require.NoError(t, err)
	assert.Equal(t, method.ID, updated.ID)
	assert.Equal(t, "Credit card", updated.DisplayName)
}
