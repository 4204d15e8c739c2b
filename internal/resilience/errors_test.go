package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/entity-enrich/internal/model"
)

func TestStatusError_Message(t *testing.T) {
	err := NewStatusError("gleif", 503, "unavailable")
	assert.Equal(t, "gleif: unexpected status 503: unavailable", err.Error())
}

func TestStatusError_TruncatesBody(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	err := NewStatusError("pdl", 500, string(long))
	assert.Less(t, len(err.Error()), 250)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 402, StatusCode(NewStatusError("pdl", 402, "")))
	assert.Equal(t, 429, StatusCode(fmt.Errorf("wrapped: %w", NewStatusError("pdl", 429, ""))))
	assert.Equal(t, 0, StatusCode(errors.New("plain")))
	assert.Equal(t, 0, StatusCode(nil))
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(NewStatusError("pdl", 402, "")))
	assert.True(t, IsRateLimited(NewStatusError("pdl", 429, "")))
	assert.True(t, IsRateLimited(ErrCircuitOpen))
	assert.False(t, IsRateLimited(NewStatusError("pdl", 500, "")))
	assert.False(t, IsRateLimited(nil))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid input"), false},
		{"conn reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"string pattern", errors.New("read: i/o timeout"), true},
		{"eris wrapped", eris.Wrap(errors.New("dial tcp: no such host"), "gleif: send request"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantKind    Kind
		wantOutcome model.Outcome
	}{
		{"success", nil, KindNone, model.OutcomeFound},
		{"quota", NewStatusError("pdl", 402, ""), KindRateLimited, model.OutcomeRateLimited},
		{"too many", NewStatusError("gleif", 429, ""), KindRateLimited, model.OutcomeRateLimited},
		{"circuit open", ErrCircuitOpen, KindRateLimited, model.OutcomeRateLimited},
		{"server error", NewStatusError("gleif", 500, ""), KindUpstream, model.OutcomeError},
		{"network", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), KindTransient, model.OutcomeError},
		{"decode", errors.New("gleif: unmarshal response"), KindUpstream, model.OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, outcome := Classify(tt.err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantOutcome, outcome)
		})
	}
}
