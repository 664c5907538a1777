package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"vinc-payment-service/internal/models"
	"vinc-payment-service/internal/vault"
)

// Registry builds and caches gateway instances per tenant configuration.
// The provider set is closed: dispatch switches over it exhaustively and
// an unknown provider is a hard error, never a silent fallthrough.
type Registry struct {
	vault       *vault.Vault
	httpTimeout time.Duration

	mu       sync.RWMutex
	gateways map[string]PaymentGateway
}

// NewRegistry creates a new gateway registry. httpTimeout bounds every
// outbound provider call; zero or negative falls back to the default.
func NewRegistry(v *vault.Vault, httpTimeout time.Duration) *Registry {
	if httpTimeout <= 0 {
		httpTimeout = DefaultHTTPTimeout
	}
	return &Registry{
		vault:       v,
		httpTimeout: httpTimeout,
		gateways:    make(map[string]PaymentGateway),
	}
}

// Resolve returns the gateway for a tenant's provider configuration,
// building and caching it on first use. Credentials are decrypted here
// and live only inside the adapter instance.
func (r *Registry) Resolve(cfg *models.TenantPaymentProvider) (PaymentGateway, error) {
	if cfg == nil {
		return nil, models.ErrProviderNotConfigured
	}
	if !cfg.Provider.Valid() {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidProvider, cfg.Provider)
	}
	if !cfg.IsEnabled {
		return nil, fmt.Errorf("%w: %s", models.ErrProviderDisabled, cfg.Provider)
	}

	cacheKey := r.cacheKey(cfg.TenantID, cfg.Provider, cfg.Mode)

	r.mu.RLock()
	if gw, exists := r.gateways[cacheKey]; exists {
		r.mu.RUnlock()
		return gw, nil
	}
	r.mu.RUnlock()

	gw, err := r.build(cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.gateways[cacheKey] = gw
	r.mu.Unlock()

	return gw, nil
}

func (r *Registry) build(cfg *models.TenantPaymentProvider) (PaymentGateway, error) {
	// Bank transfer is the only provider without credentials
	if cfg.Provider == models.ProviderBankTransfer {
		return NewBankTransferGateway(cfg.Mode, cfg.Config)
	}

	creds, err := r.vault.Decrypt(cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials for %s: %w", cfg.Provider, err)
	}

	var gw PaymentGateway
	switch cfg.Provider {
	case models.ProviderStripe:
		var c StripeCredentials
		if err := decodeCredentials(creds, &c); err != nil {
			return nil, err
		}
		gw, err = NewStripeGateway(c, cfg.Mode, cfg.Config)
	case models.ProviderPayPal:
		var c PayPalCredentials
		if err := decodeCredentials(creds, &c); err != nil {
			return nil, err
		}
		gw, err = NewPayPalGateway(c, cfg.Mode, cfg.Config, r.httpTimeout)
	case models.ProviderNexi:
		var c NexiCredentials
		if err := decodeCredentials(creds, &c); err != nil {
			return nil, err
		}
		gw, err = NewNexiGateway(c, cfg.Mode, cfg.Config, r.httpTimeout)
	case models.ProviderBancaSella:
		var c SellaCredentials
		if err := decodeCredentials(creds, &c); err != nil {
			return nil, err
		}
		gw, err = NewSellaGateway(c, cfg.Mode, cfg.Config, r.httpTimeout)
	case models.ProviderScalapay:
		var c ScalapayCredentials
		if err := decodeCredentials(creds, &c); err != nil {
			return nil, err
		}
		gw, err = NewScalapayGateway(c, cfg.Mode, cfg.Config, r.httpTimeout)
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidProvider, cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("build %s gateway: %w", cfg.Provider, err)
	}
	return gw, nil
}

// Invalidate drops any cached instances for a tenant/provider pair. Called
// after credentials or configuration change.
func (r *Registry) Invalidate(tenantID string, provider models.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.gateways, r.cacheKey(tenantID, provider, models.ModeTest))
	delete(r.gateways, r.cacheKey(tenantID, provider, models.ModeLive))
}

// ClearCache removes all cached gateways
func (r *Registry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways = make(map[string]PaymentGateway)
}

func (r *Registry) cacheKey(tenantID string, provider models.Provider, mode models.ProviderMode) string {
	return fmt.Sprintf("%s_%s_%s", tenantID, provider, mode)
}

// decodeCredentials maps the decrypted credential map onto a typed
// per-provider struct, so missing fields surface at build time rather
// than as opaque provider errors.
func decodeCredentials(creds map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode credentials: %w", err)
	}
	return nil
}
