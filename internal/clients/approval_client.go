package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Approval workflow identifiers for import sessions
const (
	ImportApprovalWorkflow     = "product_import_approval"
	ImportApprovalActionType   = "import.session.approve"
	ImportApprovalResourceType = "import_session"
)

// ApprovalClient provides methods to interact with the approval-service
type ApprovalClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewApprovalClient creates a new approval service client
func NewApprovalClient(baseURL string) *ApprovalClient {
	if baseURL == "" {
		baseURL = "http://approval-service:8099"
	}

	return &ApprovalClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreateApprovalRequest is the request body for creating approvals
type CreateApprovalRequest struct {
	WorkflowName    string         `json:"workflowName"`
	ActionType      string         `json:"actionType"`
	ResourceType    string         `json:"resourceType,omitempty"`
	ResourceID      string         `json:"resourceId,omitempty"`
	ResourceRef     string         `json:"resource_reference,omitempty"`
	RequestedByID   string         `json:"requested_by_id,omitempty"`
	RequestedByName string         `json:"requested_by_name,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	ActionData      map[string]any `json:"actionData,omitempty"`
}

// ApprovalRequestResponse is the response from creating approvals
type ApprovalRequestResponse struct {
	Success bool               `json:"success"`
	Data    *ApprovalRequestID `json:"data,omitempty"`
	Message string             `json:"message,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// ApprovalRequestID contains the ID of the created approval
type ApprovalRequestID struct {
	ID string `json:"id"`
}

// CreateApprovalRequest creates a new approval request through the internal
// endpoint, which skips the RBAC check. tenantID and userID travel as Istio
// JWT claim headers.
func (c *ApprovalClient) CreateApprovalRequest(ctx context.Context, req *CreateApprovalRequest, tenantID, userID string) (*ApprovalRequestResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/approvals/internal", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-jwt-claim-sub", userID)
	httpReq.Header.Set("x-jwt-claim-tenant-id", tenantID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call approval service: %w", err)
	}
	defer resp.Body.Close()

	var approvalResp ApprovalRequestResponse
	if err := json.NewDecoder(resp.Body).Decode(&approvalResp); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode >= 300 || !approvalResp.Success {
		msg := approvalResp.Error
		if msg == "" {
			msg = approvalResp.Message
		}
		return &approvalResp, fmt.Errorf("approval service returned %d: %s", resp.StatusCode, msg)
	}
	if approvalResp.Data == nil || approvalResp.Data.ID == "" {
		return &approvalResp, fmt.Errorf("approval service returned no request id")
	}

	return &approvalResp, nil
}
