package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AuditMiddleware logs every payment API call with its identity and
// outcome. Request bodies are not logged, they can carry credentials.
func AuditMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		var tenantID, userID, requestID string
		if tc := GetTenantContext(c); tc != nil {
			tenantID, userID, requestID = tc.TenantID, tc.UserID, tc.RequestID
		}

		fields := logrus.Fields{
			"request_id": requestID,
			"tenant_id":  tenantID,
			"user_id":    userID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
			"client_ip":  c.ClientIP(),
			"action":     auditAction(c),
		}
		if query := maskedQuery(c); len(query) > 0 {
			fields["query"] = query
		}
		entry := logger.WithFields(fields)

		if c.Writer.Status() >= 500 {
			entry.Error("Request failed")
		} else if c.Writer.Status() >= 400 {
			entry.Warn("Request rejected")
		} else {
			entry.Info("Request completed")
		}
	}
}

// auditAction names the operation behind a route for audit filtering
func auditAction(c *gin.Context) string {
	path := c.Request.URL.Path
	method := c.Request.Method

	switch {
	case path == "/api/v1/payments/intent":
		return "create_payment_intent"
	case strings.HasSuffix(path, "/refund"):
		return "refund_transaction"
	case strings.HasSuffix(path, "/confirm-bank-transfer"):
		return "confirm_bank_transfer"
	case strings.HasSuffix(path, "/status"):
		return "get_transaction_status"
	case strings.HasPrefix(path, "/payments/webhooks/"):
		return "webhook_received"
	case strings.Contains(path, "/providers"):
		return strings.ToLower(method) + "_provider_config"
	case strings.Contains(path, "/methods"):
		return strings.ToLower(method) + "_payment_methods"
	default:
		return ""
	}
}

// maskedQuery collects the request's query parameters with sensitive
// values masked
func maskedQuery(c *gin.Context) map[string]interface{} {
	values := c.Request.URL.Query()
	if len(values) == 0 {
		return nil
	}
	query := make(map[string]interface{}, len(values))
	for k, v := range values {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	return MaskSensitiveData(query)
}

// SensitiveFields are masked before any map reaches a log line
var SensitiveFields = []string{
	"api_key",
	"secret_key",
	"client_secret",
	"webhook_secret",
	"shop_login",
	"password",
	"iban",
	"card_number",
	"cvv",
}

// MaskSensitiveData masks sensitive fields in a map, recursing into
// nested maps
func MaskSensitiveData(data map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(data))
	for k, v := range data {
		if isSensitiveField(k) {
			masked[k] = "***MASKED***"
		} else if nested, ok := v.(map[string]interface{}); ok {
			masked[k] = MaskSensitiveData(nested)
		} else {
			masked[k] = v
		}
	}
	return masked
}

func isSensitiveField(key string) bool {
	lower := strings.ToLower(key)
	for _, field := range SensitiveFields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}
