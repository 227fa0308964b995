package models

import (
	"fmt"
	"time"
)

// ErrorKind classifies import failures
type ErrorKind string

const (
	ErrorKindFileUpload      ErrorKind = "FILE_UPLOAD"
	ErrorKindFieldMapping    ErrorKind = "FIELD_MAPPING"
	ErrorKindDataValidation  ErrorKind = "DATA_VALIDATION"
	ErrorKindImportExecution ErrorKind = "IMPORT_EXECUTION"
	ErrorKindNetwork         ErrorKind = "NETWORK"
	ErrorKindSystem          ErrorKind = "SYSTEM"
)

// Error codes
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeMalformedFile     = "MALFORMED_FILE"
	CodeEmptyFile         = "EMPTY_FILE"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeNoCandidates      = "NO_CANDIDATE_MAPPINGS"
	CodeRequiredUnmapped  = "REQUIRED_FIELD_UNMAPPED"
	CodeUnknownTarget     = "UNKNOWN_TARGET_FIELD"
	CodeUnknownSource     = "UNKNOWN_SOURCE_FIELD"
	CodeDuplicateTarget   = "DUPLICATE_TARGET_FIELD"
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeBatchFailed       = "BATCH_FAILED"
	CodeToleranceExceeded = "FAILURE_TOLERANCE_EXCEEDED"
	CodeStorageFailure    = "STORAGE_FAILURE"
	CodeInferenceFailed   = "INFERENCE_UNAVAILABLE"
	CodeBroadcastFailed   = "BROADCAST_UNAVAILABLE"
	CodeApprovalRejected  = "APPROVAL_REJECTED"
	CodeApprovalTimeout   = "APPROVAL_TIMEOUT"
	CodeApprovalRequest   = "APPROVAL_REQUEST_FAILED"
	CodeSessionStale      = "SESSION_STALE"
	CodeUnknownRecord     = "UNKNOWN_RECORD"
	CodeImportInterrupted = "IMPORT_INTERRUPTED"
)

// ImportError carries a machine-readable kind and code plus a human message.
// Recoverable kinds also carry a suggested remediation.
type ImportError struct {
	Kind        ErrorKind `json:"kind"`
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	Remediation string    `json:"remediation,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Err         error     `json:"-"`
}

// NewImportError creates an ImportError stamped with the current time
func NewImportError(kind ErrorKind, code, message string) *ImportError {
	return &ImportError{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Message)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// WithRemediation attaches a suggested fix
func (e *ImportError) WithRemediation(remediation string) *ImportError {
	e.Remediation = remediation
	return e
}

// Wrap attaches the underlying cause
func (e *ImportError) Wrap(err error) *ImportError {
	e.Err = err
	return e
}

// Recoverable reports whether the session can continue after this error
func (e *ImportError) Recoverable() bool {
	switch e.Kind {
	case ErrorKindFieldMapping, ErrorKindDataValidation, ErrorKindImportExecution, ErrorKindNetwork:
		return true
	}
	return false
}
