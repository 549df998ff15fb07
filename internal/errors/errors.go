// Package errors maps engine and adapter failures onto the error envelope the
// HTTP surface returns.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/R3E-Network/draw_auditor/internal/auditor"
	"github.com/R3E-Network/draw_auditor/internal/chain"
	"github.com/R3E-Network/draw_auditor/internal/codec"
	"github.com/R3E-Network/draw_auditor/internal/drand"
	"github.com/R3E-Network/draw_auditor/internal/httputil"
	"github.com/R3E-Network/draw_auditor/internal/merkle"
	"github.com/R3E-Network/draw_auditor/internal/odds"
	"github.com/R3E-Network/draw_auditor/internal/randomness"
	"github.com/R3E-Network/draw_auditor/internal/snapshot"
	"github.com/R3E-Network/draw_auditor/internal/storage"
	"github.com/R3E-Network/draw_auditor/internal/winner"
)

// ErrorCode is the stable machine-readable code in error responses.
type ErrorCode string

const (
	CodeBadRequest        ErrorCode = "bad_request"
	CodeMalformedInput    ErrorCode = "malformed_input"
	CodeCommitMismatch    ErrorCode = "commit_mismatch"
	CodeIntegrity         ErrorCode = "integrity_violation"
	CodeDrawNotAuditable  ErrorCode = "draw_not_auditable"
	CodeNotFound          ErrorCode = "not_found"
	CodeUpstream          ErrorCode = "upstream_error"
	CodeTimeout           ErrorCode = "upstream_timeout"
	CodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"
	CodeInternal          ErrorCode = "internal_error"
)

// ServiceError is an error with an HTTP status and a public message.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a detail field and returns e.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func BadRequest(message string, err error) *ServiceError {
	return newError(CodeBadRequest, http.StatusBadRequest, message, err)
}

func NotFound(message string, err error) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, message, err)
}

func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// RateLimitExceeded reports a client over its request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimitExceeded, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// GetServiceError returns the ServiceError in err's chain, if any.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// Classify maps err onto a ServiceError. Commit mismatches and partition
// violations keep distinct codes so clients can surface them prominently.
func Classify(err error) *ServiceError {
	if err == nil {
		return nil
	}
	if se := GetServiceError(err); se != nil {
		return se
	}

	switch {
	case stderrors.Is(err, randomness.ErrCommitMismatch):
		return newError(CodeCommitMismatch, http.StatusConflict,
			"revealed operator secret does not match its commitment", err)

	case stderrors.Is(err, winner.ErrInvalidPartition),
		stderrors.Is(err, winner.ErrWinnerNotFound),
		stderrors.Is(err, winner.ErrAmbiguousWinner),
		stderrors.Is(err, randomness.ErrZeroWeight),
		stderrors.Is(err, snapshot.ErrRootMismatch),
		stderrors.Is(err, snapshot.ErrEpochMismatch),
		stderrors.Is(err, snapshot.ErrMalformedDocument),
		stderrors.Is(err, auditor.ErrBeaconConflict):
		return newError(CodeIntegrity, http.StatusUnprocessableEntity,
			"snapshot data fails integrity checks", err)

	case stderrors.Is(err, winner.ErrDrawNotRevealed),
		stderrors.Is(err, winner.ErrBeaconRoundMismatch),
		stderrors.Is(err, winner.ErrIncompleteDraw),
		stderrors.Is(err, snapshot.ErrNoSource):
		return newError(CodeDrawNotAuditable, http.StatusUnprocessableEntity,
			"draw cannot be audited", err)

	case stderrors.Is(err, codec.ErrMalformedHex),
		stderrors.Is(err, codec.ErrLengthMismatch),
		stderrors.Is(err, codec.ErrMalformedInteger),
		stderrors.Is(err, codec.ErrOverflow),
		stderrors.Is(err, merkle.ErrEmptyTree),
		stderrors.Is(err, odds.ErrZeroPool),
		stderrors.Is(err, odds.ErrZeroStake),
		stderrors.Is(err, odds.ErrStakeExceedsPool),
		stderrors.Is(err, odds.ErrInvalidSplit),
		stderrors.Is(err, odds.ErrInvalidCadence),
		stderrors.Is(err, auditor.ErrMissingBudget),
		stderrors.Is(err, auditor.ErrMissingPool),
		stderrors.Is(err, chain.ErrMalformedPayload):
		return newError(CodeMalformedInput, http.StatusBadRequest, "malformed input", err)

	case stderrors.Is(err, chain.ErrNotFound),
		stderrors.Is(err, storage.ErrNotFound):
		return NotFound("resource not found", err)

	case stderrors.Is(err, context.DeadlineExceeded):
		return newError(CodeTimeout, http.StatusGatewayTimeout, "upstream timed out", err)

	case stderrors.Is(err, drand.ErrRandomnessMismatch),
		stderrors.Is(err, drand.ErrNoEndpoints),
		isUpstream(err):
		return newError(CodeUpstream, http.StatusBadGateway, "upstream request failed", err)
	}
	return Internal("internal error", err)
}

func isUpstream(err error) bool {
	var se *httputil.StatusError
	return stderrors.As(err, &se)
}
