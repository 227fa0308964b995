package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TenantMiddleware())
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tenant": GetTenantID(c), "user": GetUserID(c)})
	})
	return r
}

func TestTenantMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "legacy headers",
			headers:    map[string]string{"X-Tenant-ID": "tenant-1", "X-User-ID": "user-1"},
			wantStatus: http.StatusOK,
			wantBody:   `{"tenant":"tenant-1","user":"user-1"}`,
		},
		{
			name: "mesh claims win",
			headers: map[string]string{
				"X-Tenant-ID":           "legacy",
				"x-jwt-claim-tenant-id": "tenant-2",
				"x-jwt-claim-sub":       "user-2",
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"tenant":"tenant-2","user":"user-2"}`,
		},
		{
			name:       "missing tenant",
			headers:    map[string]string{"X-User-ID": "user-1"},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupTestRouter()
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), "TENANT_REQUIRED")
			}
		})
	}
}
