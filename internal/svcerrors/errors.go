// Package svcerrors provides unified, typed error handling for the worker,
// distinguishing the error kinds enumerated in the request-lifecycle design
// (configuration, validation, transient network, quota, duplicate/no-op,
// on-chain revert) so callers can branch on Code rather than string-match.
package svcerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error identifier.
type Code string

const (
	// Configuration errors (1xxx): fatal during the capability's use.
	CodeMissingConfig  Code = "CFG_1001"
	CodeMalformedKeystore Code = "CFG_1002"
	CodeBadPassword    Code = "CFG_1003"
	CodeNoProfile      Code = "CFG_1004"

	// Validation errors (2xxx): surfaced to the caller, never swallowed.
	CodeInvalidInput             Code = "VAL_2001"
	CodeChainNotSupported        Code = "VAL_2002"
	CodeChainMismatch            Code = "VAL_2003"
	CodeAllowlistViolation       Code = "VAL_2004"
	CodeExecutionStrategyMismatch Code = "VAL_2005"
	CodeExecutionStrategyViolation Code = "VAL_2006"
	CodeInvalidPayload            Code = "VAL_2007"
	CodeUnauthorizedModel          Code = "VAL_2008"
	CodeInvalidCron                Code = "VAL_2009"
	CodeUnknownTool                Code = "VAL_2010"

	// Transient network errors (3xxx): retryable with backoff.
	CodeTimeout      Code = "NET_3001"
	CodeRateLimited  Code = "NET_3002"
	CodeUnavailable  Code = "NET_3003"

	// Quota errors (4xxx).
	CodeQuotaExhausted Code = "QUOTA_4001"

	// Duplicate/already-done (5xxx): treated as success/no-op by callers.
	CodeAlreadyClaimed   Code = "DUP_5001"
	CodeAlreadyDelivered Code = "DUP_5002"
	CodeDuplicatePayload Code = "DUP_5003"

	// On-chain errors (6xxx).
	CodeRevert Code = "CHAIN_6001"

	// Internal/unclassified (9xxx).
	CodeInternal Code = "SVC_9001"

	// Authentication errors on the local signing proxy surface.
	CodeUnauthorized Code = "VAL_2011"
)

// ServiceError is a structured error with a code, message, HTTP status, and
// optional structured details — mirroring the way HTTP-facing errors are
// reported from the Signing Proxy and Control API client.
type ServiceError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a key/value detail and returns the error for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError without a wrapped cause.
func New(code Code, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap creates a ServiceError wrapping an existing error.
func Wrap(code Code, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Constructors for the common cases used across the worker.

func MissingConfig(field string) *ServiceError {
	return New(CodeMissingConfig, "missing required configuration", http.StatusInternalServerError).
		WithDetails("field", field)
}

func MalformedKeystore(err error) *ServiceError {
	return Wrap(CodeMalformedKeystore, "keystore is malformed", http.StatusInternalServerError, err)
}

func BadPassword() *ServiceError {
	return New(CodeBadPassword, "incorrect keystore password", http.StatusUnauthorized)
}

func NoProfile() *ServiceError {
	return New(CodeNoProfile, "no service profile found", http.StatusNotFound)
}

func InvalidInput(field, reason string) *ServiceError {
	return New(CodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).WithDetails("reason", reason)
}

func AllowlistViolation(chainID int64, to, selector string) *ServiceError {
	return New(CodeAllowlistViolation, "selector not allowlisted", http.StatusForbidden).
		WithDetails("chain_id", chainID).WithDetails("to", to).WithDetails("selector", selector)
}

func ChainNotSupported(chainID int64) *ServiceError {
	return New(CodeChainNotSupported, "chain not supported", http.StatusBadRequest).
		WithDetails("chain_id", chainID)
}

func ChainMismatch(workerChain, requestChain int64) *ServiceError {
	return New(CodeChainMismatch, "worker chain does not match request chain", http.StatusBadRequest).
		WithDetails("worker_chain_id", workerChain).WithDetails("request_chain_id", requestChain)
}

func ExecutionStrategyMismatch(want, got string) *ServiceError {
	return New(CodeExecutionStrategyMismatch, "execution strategy mismatch", http.StatusBadRequest).
		WithDetails("want", want).WithDetails("got", got)
}

func ExecutionStrategyViolation(strategy string) *ServiceError {
	return New(CodeExecutionStrategyViolation, "execution strategy not permitted for selector", http.StatusForbidden).
		WithDetails("strategy", strategy)
}

func InvalidPayload(reason string) *ServiceError {
	return New(CodeInvalidPayload, "invalid transaction payload", http.StatusBadRequest).
		WithDetails("reason", reason)
}

func UnauthorizedModel(model string) *ServiceError {
	return New(CodeUnauthorizedModel, "model not permitted by policy", http.StatusForbidden).
		WithDetails("model", model)
}

func InvalidCron(expr string, err error) *ServiceError {
	return Wrap(CodeInvalidCron, "invalid cron expression", http.StatusBadRequest, err).
		WithDetails("expr", expr)
}

func UnknownTool(name string) *ServiceError {
	return New(CodeUnknownTool, "unknown tool", http.StatusBadRequest).WithDetails("tool", name)
}

func Timeout(operation string) *ServiceError {
	return New(CodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func RateLimited(operation string) *ServiceError {
	return New(CodeRateLimited, "rate limited", http.StatusTooManyRequests).
		WithDetails("operation", operation)
}

func Unavailable(operation string, err error) *ServiceError {
	return Wrap(CodeUnavailable, "upstream unavailable", http.StatusServiceUnavailable, err).
		WithDetails("operation", operation)
}

func QuotaExhausted(provider string) *ServiceError {
	return New(CodeQuotaExhausted, "quota exhausted", http.StatusTooManyRequests).
		WithDetails("provider", provider)
}

func AlreadyClaimed(requestID string) *ServiceError {
	return New(CodeAlreadyClaimed, "already claimed by another worker", http.StatusConflict).
		WithDetails("request_id", requestID)
}

func AlreadyDelivered(requestID string) *ServiceError {
	return New(CodeAlreadyDelivered, "request already delivered", http.StatusConflict).
		WithDetails("request_id", requestID)
}

func DuplicatePayload(hash string) *ServiceError {
	return New(CodeDuplicatePayload, "duplicate transaction payload", http.StatusConflict).
		WithDetails("payload_hash", hash)
}

func Revert(txHash string, err error) *ServiceError {
	return Wrap(CodeRevert, "on-chain transaction reverted", http.StatusOK, err).
		WithDetails("tx_hash", txHash)
}

func Unauthorized() *ServiceError {
	return New(CodeUnauthorized, "unauthorized", http.StatusUnauthorized)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(CodeInternal, message, http.StatusInternalServerError, err)
}

// IsServiceError reports whether err is (or wraps) a *ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// As extracts a *ServiceError from err's chain, if present.
func As(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// HTTPStatus returns the HTTP status to report for err.
func HTTPStatus(err error) int {
	if se := As(err); se != nil {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsCode reports whether err carries the given Code.
func IsCode(err error, code Code) bool {
	se := As(err)
	return se != nil && se.Code == code
}
