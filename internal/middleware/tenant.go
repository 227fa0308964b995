package middleware

import (
	"net/http"

	"catalog-import-service/internal/models"
	"github.com/gin-gonic/gin"
)

const (
	TenantIDKey = "tenant_id"
	UserIDKey   = "user_id"
)

// TenantMiddleware resolves the tenant and user of a request. The mesh
// x-jwt-claim-* headers win over the legacy X-Tenant-ID / X-User-ID headers.
// Requests without a tenant are rejected.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetString(TenantIDKey)
		if tenantID == "" {
			tenantID = c.GetHeader("x-jwt-claim-tenant-id")
		}
		if tenantID == "" {
			tenantID = c.GetHeader("X-Tenant-ID")
		}

		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "TENANT_REQUIRED",
					Message: "Tenant ID is required. Include the X-Tenant-ID header.",
				},
			})
			return
		}

		userID := c.GetString(UserIDKey)
		if userID == "" {
			userID = c.GetHeader("x-jwt-claim-sub")
		}
		if userID == "" {
			userID = c.GetHeader("X-User-ID")
		}

		c.Set(TenantIDKey, tenantID)
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// GetTenantID retrieves the tenant ID from gin context
func GetTenantID(c *gin.Context) string {
	return c.GetString(TenantIDKey)
}

// GetUserID retrieves the user ID from gin context
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
