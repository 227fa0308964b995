package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxBulkCreateItems is the products bulk endpoint limit per request
const MaxBulkCreateItems = 100

// Whole-request error codes returned by the products service that are worth retrying
var retryableCatalogCodes = map[string]bool{
	"DB_ERROR":           true,
	"BULK_CREATE_FAILED": true,
	"INTERNAL_ERROR":     true,
}

// CatalogProduct is one item of a products bulk create request
type CatalogProduct struct {
	Name              string   `json:"name"`
	SKU               string   `json:"sku"`
	Description       *string  `json:"description,omitempty"`
	Price             string   `json:"price"`
	ComparePrice      *string  `json:"comparePrice,omitempty"`
	CostPrice         *string  `json:"costPrice,omitempty"`
	VendorID          string   `json:"vendorId,omitempty"`
	VendorName        *string  `json:"vendorName,omitempty"`
	CategoryID        string   `json:"categoryId,omitempty"`
	CategoryName      *string  `json:"categoryName,omitempty"`
	WarehouseName     *string  `json:"warehouseName,omitempty"`
	SupplierName      *string  `json:"supplierName,omitempty"`
	Brand             *string  `json:"brand,omitempty"`
	Quantity          *int     `json:"quantity,omitempty"`
	MinOrderQty       *int     `json:"minOrderQty,omitempty"`
	MaxOrderQty       *int     `json:"maxOrderQty,omitempty"`
	LowStockThreshold *int     `json:"lowStockThreshold,omitempty"`
	Weight            *string  `json:"weight,omitempty"`
	SearchKeywords    *string  `json:"searchKeywords,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	CurrencyCode      *string  `json:"currencyCode,omitempty"`
	Status            *string  `json:"status,omitempty"`
	// ExternalID lets us match results back to source records
	ExternalID *string `json:"externalId,omitempty"`
}

// BulkCreateProductsRequest is the products bulk create request body
type BulkCreateProductsRequest struct {
	Products       []CatalogProduct `json:"products"`
	SkipDuplicates bool             `json:"skipDuplicates,omitempty"`
}

// ItemError is the per-item error of a bulk create result
type ItemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreatedEntity is the part of a created product we keep
type CreatedEntity struct {
	ID string `json:"id"`
}

// BulkCreateResultItem is the outcome of one item
type BulkCreateResultItem struct {
	Index      int            `json:"index"`
	ExternalID *string        `json:"externalId,omitempty"`
	Success    bool           `json:"success"`
	Data       *CreatedEntity `json:"data,omitempty"`
	Error      *ItemError     `json:"error,omitempty"`
}

// BulkCreateProductsResponse is the products bulk create response body
type BulkCreateProductsResponse struct {
	Success      bool                   `json:"success"`
	TotalCount   int                    `json:"totalCount"`
	SuccessCount int                    `json:"successCount"`
	FailedCount  int                    `json:"failedCount"`
	Results      []BulkCreateResultItem `json:"results"`
}

// CatalogError is a failure of a whole bulk request
type CatalogError struct {
	StatusCode int
	Code       string
	Message    string
	// Retryable marks infrastructure failures (transport, 5xx, storage)
	Retryable bool
	Err       error
}

func (e *CatalogError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog bulk create failed (%d %s): %s: %v", e.StatusCode, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("catalog bulk create failed (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// CatalogClient calls the products-service bulk API
type CatalogClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewCatalogClient creates a new catalog client
func NewCatalogClient(baseURL string) *CatalogClient {
	if baseURL == "" {
		baseURL = "http://products-service:8087"
	}

	return &CatalogClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BulkCreate creates up to MaxBulkCreateItems products. Per-item failures are
// reported in the response; a returned error means the whole request failed.
func (c *CatalogClient) BulkCreate(ctx context.Context, tenantID, userID string, req *BulkCreateProductsRequest) (*BulkCreateProductsResponse, error) {
	if len(req.Products) == 0 || len(req.Products) > MaxBulkCreateItems {
		return nil, &CatalogError{Code: "VALIDATION_ERROR", Message: fmt.Sprintf("bulk create needs 1..%d products, got %d", MaxBulkCreateItems, len(req.Products))}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/products/bulk", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-jwt-claim-tenant-id", tenantID)
	if userID != "" {
		httpReq.Header.Set("x-jwt-claim-sub", userID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &CatalogError{Code: "TRANSPORT_ERROR", Message: "failed to call products service", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CatalogError{StatusCode: resp.StatusCode, Code: "TRANSPORT_ERROR", Message: "failed to read response", Retryable: true, Err: err}
	}

	// 207 Multi-Status is used for partial success
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var bulkResp BulkCreateProductsResponse
		if err := json.Unmarshal(data, &bulkResp); err != nil {
			return nil, &CatalogError{StatusCode: resp.StatusCode, Code: "DECODE_ERROR", Message: "failed to decode response", Retryable: true, Err: err}
		}
		return &bulkResp, nil
	}

	var envelope struct {
		Error *ItemError `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)

	catalogErr := &CatalogError{
		StatusCode: resp.StatusCode,
		Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
		Message:    http.StatusText(resp.StatusCode),
		Retryable:  resp.StatusCode >= 500,
	}
	if envelope.Error != nil {
		catalogErr.Code = envelope.Error.Code
		catalogErr.Message = envelope.Error.Message
		if retryableCatalogCodes[envelope.Error.Code] {
			catalogErr.Retryable = true
		}
	}
	return nil, catalogErr
}
