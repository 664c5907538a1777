package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vinc-payment-service/internal/models"
	"vinc-payment-service/internal/services"
)

// ProviderHandler handles tenant provider and storefront method admin
// requests
type ProviderHandler struct {
	service *services.ProviderService
}

// NewProviderHandler creates a new provider handler
func NewProviderHandler(service *services.ProviderService) *ProviderHandler {
	return &ProviderHandler{service: service}
}

// tenantFrom resolves the tenant scope of a request, preferring the path
// parameter over the gateway header
func tenantFrom(c *gin.Context) string {
	if id := c.Param("tenantId"); id != "" {
		return id
	}
	return c.GetString("tenant_id")
}

// ConfigureProvider handles POST /api/v1/tenants/:tenantId/providers
func (h *ProviderHandler) ConfigureProvider(c *gin.Context) {
	tenantID := tenantFrom(c)
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Tenant ID is required"})
		return
	}

	var req models.ConfigureProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	config, err := h.service.ConfigureProvider(c.Request.Context(), tenantID, &req)
	if err != nil {
		writeProviderError(c, "Failed to configure provider", err)
		return
	}

	c.JSON(http.StatusOK, config)
}

// ListProviders handles GET /api/v1/tenants/:tenantId/providers
func (h *ProviderHandler) ListProviders(c *gin.Context) {
	tenantID := tenantFrom(c)
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Tenant ID is required"})
		return
	}

	configs, err := h.service.ListProviders(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to list providers",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"providers": configs})
}

// UpdateProvider handles PUT /api/v1/tenants/:tenantId/providers/:provider
func (h *ProviderHandler) UpdateProvider(c *gin.Context) {
	tenantID := tenantFrom(c)
	provider := models.Provider(c.Param("provider"))
	if tenantID == "" || !provider.Valid() {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid tenant or provider"})
		return
	}

	var req models.UpdateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	config, err := h.service.UpdateProvider(c.Request.Context(), tenantID, provider, &req)
	if err != nil {
		writeProviderError(c, "Failed to update provider", err)
		return
	}

	c.JSON(http.StatusOK, config)
}

// DisableProvider handles DELETE /api/v1/tenants/:tenantId/providers/:provider
func (h *ProviderHandler) DisableProvider(c *gin.Context) {
	tenantID := tenantFrom(c)
	provider := models.Provider(c.Param("provider"))
	if tenantID == "" || !provider.Valid() {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid tenant or provider"})
		return
	}

	if err := h.service.DisableProvider(c.Request.Context(), tenantID, provider); err != nil {
		writeProviderError(c, "Failed to disable provider", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"disabled": true})
}

// ConfigureStorefrontMethod handles POST/PUT /api/v1/storefronts/:storefrontId/methods
func (h *ProviderHandler) ConfigureStorefrontMethod(c *gin.Context) {
	tenantID := tenantFrom(c)
	storefrontID := c.Param("storefrontId")
	if tenantID == "" || storefrontID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Tenant and storefront IDs are required"})
		return
	}

	var req models.StorefrontMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	method, err := h.service.ConfigureStorefrontMethod(c.Request.Context(), tenantID, storefrontID, &req)
	if err != nil {
		writeProviderError(c, "Failed to configure storefront method", err)
		return
	}

	c.JSON(http.StatusOK, method)
}

// ListStorefrontMethods handles GET /api/v1/storefronts/:storefrontId/methods
func (h *ProviderHandler) ListStorefrontMethods(c *gin.Context) {
	storefrontID := c.Param("storefrontId")
	if storefrontID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Storefront ID is required"})
		return
	}

	methods, err := h.service.ListStorefrontMethods(c.Request.Context(), storefrontID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to list storefront methods",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"methods": methods})
}

// RemoveStorefrontMethod handles DELETE /api/v1/storefronts/:storefrontId/methods/:provider
func (h *ProviderHandler) RemoveStorefrontMethod(c *gin.Context) {
	storefrontID := c.Param("storefrontId")
	provider := models.Provider(c.Param("provider"))
	if storefrontID == "" || !provider.Valid() {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid storefront or provider"})
		return
	}

	if err := h.service.RemoveStorefrontMethod(c.Request.Context(), storefrontID, provider); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to remove storefront method",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": true})
}

func writeProviderError(c *gin.Context, title string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrProviderNotConfigured):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidProvider):
		status = http.StatusBadRequest
	}

	c.JSON(status, models.ErrorResponse{
		Error:   title,
		Message: err.Error(),
	})
}
