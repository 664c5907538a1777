package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Context keys for request-scoped identity
type contextKey string

const (
	TenantIDKey  contextKey = "tenant_id"
	UserIDKey    contextKey = "user_id"
	RequestIDKey contextKey = "request_id"
)

// TenantContext holds the identity extracted from the request
type TenantContext struct {
	TenantID  string
	UserID    string
	RequestID string
}

// TenantMiddleware extracts tenant identity from headers set by the
// upstream gateway. Webhook and health endpoints carry no tenant header;
// webhooks resolve their tenant from the transaction they reference.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/payments/webhooks/") || c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		tenantID := c.GetString("tenant_id")
		if tenantID == "" {
			tenantID = c.GetHeader("X-Tenant-ID")
		}
		userID := c.GetString("user_id")
		if userID == "" {
			userID = c.GetHeader("X-User-ID")
		}

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)

		ctx := context.WithValue(c.Request.Context(), TenantIDKey, tenantID)
		ctx = context.WithValue(ctx, UserIDKey, userID)
		ctx = context.WithValue(ctx, RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Set("tenantContext", &TenantContext{
			TenantID:  tenantID,
			UserID:    userID,
			RequestID: requestID,
		})
		c.Set("tenant_id", tenantID)
		c.Set("user_id", userID)
		c.Set("request_id", requestID)

		c.Next()
	}
}

// RequireTenantID rejects requests without a tenant identity. Applied to
// every admin route.
func RequireTenantID() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetString("tenant_id")
		if tenantID == "" || !ValidateTenantID(tenantID) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "Tenant ID is required",
			})
			return
		}
		c.Next()
	}
}

// GetTenantContext gets the full tenant context from the Gin context
func GetTenantContext(c *gin.Context) *TenantContext {
	if tc, exists := c.Get("tenantContext"); exists {
		return tc.(*TenantContext)
	}
	return nil
}
