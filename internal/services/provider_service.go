package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"vinc-payment-service/internal/gateway"
	"vinc-payment-service/internal/models"
	"vinc-payment-service/internal/repository"
	"vinc-payment-service/internal/vault"
)

// ProviderService manages tenant provider configurations and storefront
// payment methods. Credentials pass through the vault on the way in and
// never come back out.
type ProviderService struct {
	repo     *repository.PaymentRepository
	registry *gateway.Registry
	vault    *vault.Vault
	logger   *logrus.Logger
}

// NewProviderService creates a new provider service
func NewProviderService(repo *repository.PaymentRepository, registry *gateway.Registry, v *vault.Vault, logger *logrus.Logger) *ProviderService {
	return &ProviderService{
		repo:     repo,
		registry: registry,
		vault:    v,
		logger:   logger,
	}
}

// ConfigureProvider creates or replaces a tenant's provider configuration
func (s *ProviderService) ConfigureProvider(ctx context.Context, tenantID string, req *models.ConfigureProviderRequest) (*models.TenantPaymentProvider, error) {
	if !req.Provider.Valid() {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidProvider, req.Provider)
	}

	blob, err := s.vault.Encrypt(req.Credentials)
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}

	enabled := true
	if req.IsEnabled != nil {
		enabled = *req.IsEnabled
	}
	feeBearer := req.FeeBearer
	if feeBearer == "" {
		feeBearer = models.FeeBearerRetailer
	}

	existing, err := s.repo.GetTenantProvider(ctx, tenantID, req.Provider)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if existing != nil {
		existing.Mode = req.Mode
		existing.IsEnabled = enabled
		existing.Credentials = blob
		existing.Config = req.Config
		existing.FeeBearer = feeBearer
		existing.Fees = req.Fees
		if err := s.repo.UpdateTenantProvider(ctx, existing); err != nil {
			return nil, err
		}
		s.registry.Invalidate(tenantID, req.Provider)
		s.logConfigChange(tenantID, req.Provider, "updated")
		return existing, nil
	}

	config := &models.TenantPaymentProvider{
		TenantID:    tenantID,
		Provider:    req.Provider,
		Mode:        req.Mode,
		IsEnabled:   enabled,
		Credentials: blob,
		Config:      req.Config,
		FeeBearer:   feeBearer,
		Fees:        req.Fees,
	}
	if err := s.repo.CreateTenantProvider(ctx, config); err != nil {
		return nil, err
	}
	s.logConfigChange(tenantID, req.Provider, "created")
	return config, nil
}

// UpdateProvider partially updates a tenant's provider configuration.
// Omitted fields keep their stored values; supplied credentials replace
// the stored blob wholesale.
func (s *ProviderService) UpdateProvider(ctx context.Context, tenantID string, provider models.Provider, req *models.UpdateProviderRequest) (*models.TenantPaymentProvider, error) {
	config, err := s.repo.GetTenantProvider(ctx, tenantID, provider)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrProviderNotConfigured
		}
		return nil, err
	}

	if req.Mode != "" {
		config.Mode = req.Mode
	}
	if req.IsEnabled != nil {
		config.IsEnabled = *req.IsEnabled
	}
	if req.Credentials != nil {
		blob, err := s.vault.Encrypt(req.Credentials)
		if err != nil {
			return nil, fmt.Errorf("encrypt credentials: %w", err)
		}
		config.Credentials = blob
	}
	if req.Config != nil {
		config.Config = req.Config
	}
	if req.FeeBearer != "" {
		config.FeeBearer = req.FeeBearer
	}
	if req.Fees != nil {
		config.Fees = req.Fees
	}

	if err := s.repo.UpdateTenantProvider(ctx, config); err != nil {
		return nil, err
	}
	s.registry.Invalidate(tenantID, provider)
	s.logConfigChange(tenantID, provider, "updated")
	return config, nil
}

// DisableProvider soft-disables a tenant's provider. Configurations are
// never deleted so historical transactions keep their context.
func (s *ProviderService) DisableProvider(ctx context.Context, tenantID string, provider models.Provider) error {
	config, err := s.repo.GetTenantProvider(ctx, tenantID, provider)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ErrProviderNotConfigured
		}
		return err
	}

	config.IsEnabled = false
	if err := s.repo.UpdateTenantProvider(ctx, config); err != nil {
		return err
	}
	s.registry.Invalidate(tenantID, provider)
	s.logConfigChange(tenantID, provider, "disabled")
	return nil
}

// ListProviders lists a tenant's provider configurations. Credentials are
// excluded from serialization at the model level.
func (s *ProviderService) ListProviders(ctx context.Context, tenantID string) ([]models.TenantPaymentProvider, error) {
	return s.repo.ListTenantProviders(ctx, tenantID)
}

// ==================== Storefront Methods ====================

// ConfigureStorefrontMethod enables or updates a payment method on a
// storefront. The owning tenant must have the provider configured first.
func (s *ProviderService) ConfigureStorefrontMethod(ctx context.Context, tenantID, storefrontID string, req *models.StorefrontMethodRequest) (*models.StorefrontPaymentMethod, error) {
	if !req.Provider.Valid() {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidProvider, req.Provider)
	}

	enabled := true
	if req.IsEnabled != nil {
		enabled = *req.IsEnabled
	}

	// Enabling a method requires an enabled tenant provider behind it;
	// a disabled method only needs the configuration to exist.
	if enabled {
		if _, err := s.repo.GetEnabledTenantProvider(ctx, tenantID, req.Provider); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.repo.GetTenantProvider(ctx, tenantID, req.Provider); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, models.ErrProviderNotConfigured
			}
			return nil, err
		}
	}

	existing, err := s.repo.GetStorefrontMethod(ctx, storefrontID, req.Provider)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if existing != nil {
		existing.IsEnabled = enabled
		existing.DisplayName = req.DisplayName
		existing.DisplayDescription = req.DisplayDescription
		existing.DisplayOrder = req.DisplayOrder
		existing.Icon = req.Icon
		existing.Conditions = req.Conditions
		if err := s.repo.UpdateStorefrontMethod(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	method := &models.StorefrontPaymentMethod{
		StorefrontID:       storefrontID,
		Provider:           req.Provider,
		TenantID:           tenantID,
		IsEnabled:          enabled,
		DisplayName:        req.DisplayName,
		DisplayDescription: req.DisplayDescription,
		DisplayOrder:       req.DisplayOrder,
		Icon:               req.Icon,
		Conditions:         req.Conditions,
	}
	if err := s.repo.CreateStorefrontMethod(ctx, method); err != nil {
		return nil, err
	}
	return method, nil
}

// ListStorefrontMethods lists all configured methods of a storefront
func (s *ProviderService) ListStorefrontMethods(ctx context.Context, storefrontID string) ([]models.StorefrontPaymentMethod, error) {
	return s.repo.ListAllStorefrontMethods(ctx, storefrontID)
}

// RemoveStorefrontMethod removes a storefront/provider pairing
func (s *ProviderService) RemoveStorefrontMethod(ctx context.Context, storefrontID string, provider models.Provider) error {
	return s.repo.DeleteStorefrontMethod(ctx, storefrontID, provider)
}

func (s *ProviderService) logConfigChange(tenantID string, provider models.Provider, action string) {
	s.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"provider":  provider,
		"action":    action,
	}).Info("Provider configuration changed")
}
