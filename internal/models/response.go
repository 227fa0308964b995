package models

// ErrorResponse is the error envelope returned by every handler
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     Error  `json:"error"`
	Timestamp string `json:"timestamp,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message *string     `json:"message,omitempty"`
}

type PaginationInfo struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	Total       int64 `json:"total"`
	TotalPages  int   `json:"totalPages"`
	HasNext     bool  `json:"hasNext"`
	HasPrevious bool  `json:"hasPrevious"`
}

// ListResponse wraps a paged list
type ListResponse struct {
	Success    bool            `json:"success"`
	Data       interface{}     `json:"data"`
	Pagination *PaginationInfo `json:"pagination,omitempty"`
}

// NewPagination computes the pagination block for a page
func NewPagination(page, limit int, total int64) *PaginationInfo {
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return &PaginationInfo{
		Page:        page,
		Limit:       limit,
		Total:       total,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}
}

// CreateSessionRequest is the intake payload for an already-extracted file
type CreateSessionRequest struct {
	FileName     string                  `json:"fileName" binding:"required"`
	FileSize     int64                   `json:"fileSize"`
	FileFormat   FileFormat              `json:"fileFormat" binding:"required"`
	SourceFields []SourceFieldDescriptor `json:"sourceFields,omitempty"`
	Records      []map[string]string     `json:"records" binding:"required"`
	Options      *ImportOptions          `json:"options,omitempty"`
}

// UpdateMappingsRequest sets or overrides field mappings. A mapping with an
// empty target removes the source's mapping.
type UpdateMappingsRequest struct {
	Mappings []FieldMapping `json:"mappings" binding:"required,min=1"`
}

// StartImportRequest optionally overrides import options at start
type StartImportRequest struct {
	Options *ImportOptions `json:"options,omitempty"`
}

// SessionProgress is the authoritative progress view of a session
type SessionProgress struct {
	SessionID         string        `json:"sessionId"`
	TotalRecords      int           `json:"totalRecords"`
	ProcessedRecords  int           `json:"processedRecords"`
	SuccessfulRecords int           `json:"successfulRecords"`
	FailedRecords     int           `json:"failedRecords"`
	CurrentBatch      int           `json:"currentBatch"`
	TotalBatches      int           `json:"totalBatches"`
	Status            SessionStatus `json:"status"`
	PercentComplete   int           `json:"percentComplete"`
}

// Progress builds the progress view from the session counters
func (s *UploadSession) Progress() SessionProgress {
	percent := 0
	if s.TotalRecords > 0 {
		percent = s.ProcessedRecords * 100 / s.TotalRecords
	}
	if s.Status == SessionStatusCompleted {
		percent = 100
	}
	return SessionProgress{
		SessionID:         s.ID.String(),
		TotalRecords:      s.TotalRecords,
		ProcessedRecords:  s.ProcessedRecords,
		SuccessfulRecords: s.SuccessfulRecords,
		FailedRecords:     s.FailedRecords,
		CurrentBatch:      s.CurrentBatch,
		TotalBatches:      s.TotalBatches,
		Status:            s.Status,
		PercentComplete:   percent,
	}
}
