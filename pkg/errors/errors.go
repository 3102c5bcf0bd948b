package errors

import (
	stderrors "errors"
	"fmt"
)

// Error codes
const (
	CodeAppError          = "APP_ERROR"
	CodeAPIError          = "API_ERROR"
	CodeValidation        = "VALIDATION_ERROR"
	CodeCache             = "CACHE_ERROR"
	CodeService           = "SERVICE_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeQuotaExhausted    = "QUOTA_EXHAUSTED"
	CodeUpstream          = "UPSTREAM_ERROR"
	CodeExtractionParse   = "EXTRACTION_PARSE_ERROR"
	CodeJobAlreadyRunning = "JOB_ALREADY_RUNNING"
)

type AppError struct {
	Message    string
	Code       string
	StatusCode int
	Context    map[string]any
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(message, code string, statusCode int, context map[string]any) *AppError {
	return &AppError{
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
		Context:    context,
	}
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

type APIError struct {
	*AppError
}

func NewAPIError(message string, statusCode int, context map[string]any) *APIError {
	return &APIError{
		AppError: &AppError{
			Message:    message,
			Code:       CodeAPIError,
			StatusCode: statusCode,
			Context:    context,
		},
	}
}

type ValidationError struct {
	*AppError
	Field string
	Value interface{}
}

func NewValidationError(message, field string, value interface{}) *ValidationError {
	return &ValidationError{
		AppError: &AppError{
			Message:    message,
			Code:       CodeValidation,
			StatusCode: 400,
			Context: map[string]any{
				"field": field,
				"value": value,
			},
		},
		Field: field,
		Value: value,
	}
}

type CacheError struct {
	*AppError
	Operation string
	Key       string
}

func NewCacheError(message, operation, key string, cause error) *CacheError {
	return &CacheError{
		AppError: &AppError{
			Message:    message,
			Code:       CodeCache,
			StatusCode: 500,
			Context: map[string]any{
				"operation": operation,
				"key":       key,
			},
			Cause: cause,
		},
		Operation: operation,
		Key:       key,
	}
}

type ServiceError struct {
	*AppError
	Service   string
	Operation string
}

func NewServiceError(message, service, operation string, cause error) *ServiceError {
	return &ServiceError{
		AppError: &AppError{
			Message:    message,
			Code:       CodeService,
			StatusCode: 500,
			Context: map[string]any{
				"service":   service,
				"operation": operation,
			},
			Cause: cause,
		},
		Service:   service,
		Operation: operation,
	}
}

type NotFoundError struct {
	*AppError
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{
		AppError: &AppError{
			Message:    fmt.Sprintf("%s %q not found", resource, id),
			Code:       CodeNotFound,
			StatusCode: 404,
			Context: map[string]any{
				"resource": resource,
				"id":       id,
			},
		},
		Resource: resource,
		ID:       id,
	}
}

// QuotaExhaustedError means no credential in a pool can serve the request.
type QuotaExhaustedError struct {
	*AppError
	Provider string
	PoolSize int
}

func NewQuotaExhaustedError(provider string, poolSize int) *QuotaExhaustedError {
	return &QuotaExhaustedError{
		AppError: &AppError{
			Message:    fmt.Sprintf("%s quota exhausted on all %d credentials", provider, poolSize),
			Code:       CodeQuotaExhausted,
			StatusCode: 429,
			Context: map[string]any{
				"provider":  provider,
				"pool_size": poolSize,
			},
		},
		Provider: provider,
		PoolSize: poolSize,
	}
}

// UpstreamError is any non-quota provider failure.
type UpstreamError struct {
	*AppError
	Provider string
	Endpoint string
	Status   int
}

func NewUpstreamError(provider, endpoint string, status int, cause error) *UpstreamError {
	msg := fmt.Sprintf("%s %s failed", provider, endpoint)
	if status > 0 {
		msg = fmt.Sprintf("%s %s failed with status %d", provider, endpoint, status)
	}
	return &UpstreamError{
		AppError: &AppError{
			Message:    msg,
			Code:       CodeUpstream,
			StatusCode: 502,
			Context: map[string]any{
				"provider": provider,
				"endpoint": endpoint,
				"status":   status,
			},
			Cause: cause,
		},
		Provider: provider,
		Endpoint: endpoint,
		Status:   status,
	}
}

// ExtractionParseError marks a malformed source item. Processors skip it.
type ExtractionParseError struct {
	*AppError
	Source string
	ItemID string
}

func NewExtractionParseError(source, itemID, reason string) *ExtractionParseError {
	return &ExtractionParseError{
		AppError: &AppError{
			Message:    fmt.Sprintf("malformed item %q from %s: %s", itemID, source, reason),
			Code:       CodeExtractionParse,
			StatusCode: 422,
			Context: map[string]any{
				"source":  source,
				"item_id": itemID,
			},
		},
		Source: source,
		ItemID: itemID,
	}
}

type JobAlreadyRunningError struct {
	*AppError
	RunningID   string
	RunningKind string
}

func NewJobAlreadyRunningError(runningID, runningKind string) *JobAlreadyRunningError {
	return &JobAlreadyRunningError{
		AppError: &AppError{
			Message:    fmt.Sprintf("job %s (%s) is already running", runningID, runningKind),
			Code:       CodeJobAlreadyRunning,
			StatusCode: 409,
			Context: map[string]any{
				"running_id":   runningID,
				"running_kind": runningKind,
			},
		},
		RunningID:   runningID,
		RunningKind: runningKind,
	}
}

func IsQuotaExhausted(err error) bool {
	var target *QuotaExhaustedError
	return stderrors.As(err, &target)
}

func IsJobAlreadyRunning(err error) bool {
	var target *JobAlreadyRunningError
	return stderrors.As(err, &target)
}

// RunningJob extracts the conflicting job from a job-already-running error.
func RunningJob(err error) (*JobAlreadyRunningError, bool) {
	var target *JobAlreadyRunningError
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return stderrors.As(err, &target)
}

func IsExtractionParse(err error) bool {
	var target *ExtractionParseError
	return stderrors.As(err, &target)
}

// StatusCode returns the HTTP status carried by err, or 500.
func StatusCode(err error) int {
	var appErr interface{ HTTPStatus() int }
	if stderrors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return 500
}

func (e *AppError) HTTPStatus() int {
	if e.StatusCode == 0 {
		return 500
	}
	return e.StatusCode
}
