package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"catalog-import-service/internal/models"
)

// InferenceClient asks the ML service for field mapping suggestions
type InferenceClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewInferenceClient creates a new inference client. Suggestions are slow
// compared to local strategies, so the timeout is short.
func NewInferenceClient(baseURL string) *InferenceClient {
	return &InferenceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type suggestRequest struct {
	SourceFields []models.SourceFieldDescriptor `json:"sourceFields"`
	TargetFields []models.TargetField           `json:"targetFields"`
}

type suggestion struct {
	SourceField string `json:"sourceField"`
	TargetField string `json:"targetField"`
	Confidence  int    `json:"confidence"`
	Rationale   string `json:"rationale"`
}

type suggestResponse struct {
	Suggestions []suggestion `json:"suggestions"`
}

// SuggestMappings returns suggested mappings for the given source fields
func (c *InferenceClient) SuggestMappings(ctx context.Context, tenantID string, sources []models.SourceFieldDescriptor, targets []models.TargetField) ([]models.FieldMapping, error) {
	body, err := json.Marshal(suggestRequest{SourceFields: sources, TargetFields: targets})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/field-mapping/suggest", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-jwt-claim-tenant-id", tenantID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call inference service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service returned status %d", resp.StatusCode)
	}

	var out suggestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	mappings := make([]models.FieldMapping, 0, len(out.Suggestions))
	for _, s := range out.Suggestions {
		mappings = append(mappings, models.FieldMapping{
			SourceField: s.SourceField,
			TargetField: s.TargetField,
			Confidence:  s.Confidence,
			Strategy:    models.StrategyInference,
			Rationale:   s.Rationale,
		})
	}
	return mappings, nil
}
