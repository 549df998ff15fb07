package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/draw_auditor/internal/auditor"
	"github.com/R3E-Network/draw_auditor/internal/chain"
	"github.com/R3E-Network/draw_auditor/internal/codec"
	"github.com/R3E-Network/draw_auditor/internal/httputil"
	"github.com/R3E-Network/draw_auditor/internal/odds"
	"github.com/R3E-Network/draw_auditor/internal/randomness"
	"github.com/R3E-Network/draw_auditor/internal/snapshot"
	"github.com/R3E-Network/draw_auditor/internal/storage"
	"github.com/R3E-Network/draw_auditor/internal/winner"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   ErrorCode
		status int
	}{
		{"commit mismatch", fmt.Errorf("draw 3: %w", randomness.ErrCommitMismatch), CodeCommitMismatch, http.StatusConflict},
		{"partition", fmt.Errorf("draw 3: %w: gap", winner.ErrInvalidPartition), CodeIntegrity, http.StatusUnprocessableEntity},
		{"ambiguous", winner.ErrAmbiguousWinner, CodeIntegrity, http.StatusUnprocessableEntity},
		{"not revealed", winner.ErrDrawNotRevealed, CodeDrawNotAuditable, http.StatusUnprocessableEntity},
		{"hex", fmt.Errorf("root: %w", codec.ErrMalformedHex), CodeMalformedInput, http.StatusBadRequest},
		{"odds", odds.ErrStakeExceedsPool, CodeMalformedInput, http.StatusBadRequest},
		{"chain not found", fmt.Errorf("draw 7: %w", chain.ErrNotFound), CodeNotFound, http.StatusNotFound},
		{"store not found", storage.ErrNotFound, CodeNotFound, http.StatusNotFound},
		{"upstream", &httputil.StatusError{StatusCode: 503, Body: "down"}, CodeUpstream, http.StatusBadGateway},
		{"timeout", fmt.Errorf("beacon: %w", context.DeadlineExceeded), CodeTimeout, http.StatusGatewayTimeout},
		{"beacon conflict", fmt.Errorf("draw 2 beacon: %w", auditor.ErrBeaconConflict), CodeIntegrity, http.StatusUnprocessableEntity},
		{"snapshot root", snapshot.ErrRootMismatch, CodeIntegrity, http.StatusUnprocessableEntity},
		{"no snapshot source", snapshot.ErrNoSource, CodeDrawNotAuditable, http.StatusUnprocessableEntity},
		{"missing budget", auditor.ErrMissingBudget, CodeMalformedInput, http.StatusBadRequest},
		{"unknown", stderrors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			se := Classify(tc.err)
			require.NotNil(t, se)
			assert.Equal(t, tc.code, se.Code)
			assert.Equal(t, tc.status, se.HTTPStatus)
			assert.ErrorIs(t, se, tc.err)
		})
	}
	assert.Nil(t, Classify(nil))
}

func TestClassifyKeepsServiceError(t *testing.T) {
	orig := BadRequest("missing stake", nil).WithDetails("field", "stake_weight")
	wrapped := fmt.Errorf("handler: %w", orig)

	se := Classify(wrapped)
	assert.Same(t, orig, se)
	assert.Equal(t, "stake_weight", se.Details["field"])
}

func TestRateLimitExceeded(t *testing.T) {
	se := RateLimitExceeded(10, "1s")
	assert.Equal(t, http.StatusTooManyRequests, se.HTTPStatus)
	assert.Equal(t, 10, se.Details["limit"])
	assert.Equal(t, "rate_limit_exceeded: rate limit exceeded", se.Error())
}
