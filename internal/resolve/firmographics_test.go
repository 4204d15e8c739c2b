package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-enrich/internal/batch"
	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/resilience"
	"github.com/sells-group/entity-enrich/pkg/pdl"
	"github.com/sells-group/entity-enrich/pkg/pdl/mocks"
)

func intPtr(v int) *int { return &v }

var errQuota = &pdl.APIError{Endpoint: "enrich", StatusCode: 402, Body: "quota"}

func newFirmo(client pdl.Client, cfg FirmographicsConfig) *FirmographicsResolver {
	return NewFirmographicsResolver(client, batch.New("firmographics", 50, 0), cfg)
}

func TestFirmographicsResolver_Primary(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Enrich", mock.Anything, "Microsoft").Return(&pdl.Company{
		Type: "public", Industry: "computer software", EmployeeCount: intPtr(221000),
	}, nil).Once()

	r := newFirmo(client, FirmographicsConfig{Fallback: true})
	sess := r.NewSession()
	got := r.Resolve(context.Background(), sess, "Microsoft")

	assert.Equal(t, model.Firmographics{
		EntityType:             "public",
		IndustryClassification: "computer software",
		EmployeeCount:          "221000",
		Source:                 model.SourcePrimary,
	}, got)
	assert.Equal(t, int64(1), sess.PrimaryHits())
	assert.False(t, sess.FallbackEngaged())
}

func TestFirmographicsResolver_PrimaryMissingFields(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Enrich", mock.Anything, "Acme").Return(&pdl.Company{Type: "private"}, nil).Once()

	r := newFirmo(client, FirmographicsConfig{})
	got := r.Resolve(context.Background(), r.NewSession(), "Acme")

	assert.Equal(t, "private", got.EntityType)
	assert.Equal(t, model.Unknown, got.IndustryClassification)
	assert.Equal(t, model.Unknown, got.EmployeeCount)
}

func TestFirmographicsResolver_TeslaQuotaFallsBack(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Enrich", mock.Anything, "Tesla").Return(nil, errQuota).Once()
	client.On("SearchByName", mock.Anything, "Tesla").Return(&pdl.Company{
		Type: "Public", Industry: "automotive", Size: "10001+",
	}, nil).Once()

	var obs outcomeLog
	r := newFirmo(client, FirmographicsConfig{Fallback: true})
	r.Observe = obs.observe
	sess := r.NewSession()

	got := r.Resolve(context.Background(), sess, "Tesla")
	assert.Equal(t, "Public", got.EntityType)
	assert.Equal(t, "automotive", got.IndustryClassification)
	assert.Equal(t, "10001+", got.EmployeeCount)
	assert.Equal(t, model.SourceFallback, got.Source)
	assert.True(t, sess.FallbackEngaged())
	assert.Equal(t, int64(1), sess.FallbackHits())
	assert.Equal(t, model.OutcomeFound, obs.got["Tesla"])
}

func TestFirmographicsResolver_FallbackDisabled(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Enrich", mock.Anything, "Tesla").Return(nil, errQuota).Once()

	var obs outcomeLog
	r := newFirmo(client, FirmographicsConfig{Fallback: false})
	r.Observe = obs.observe

	got := r.Resolve(context.Background(), r.NewSession(), "Tesla")
	assert.Equal(t, model.UnknownFirmographics(), got)
	assert.Equal(t, model.OutcomeRateLimited, obs.got["Tesla"])
	client.AssertNotCalled(t, "SearchByName", mock.Anything, mock.Anything)
}

func TestFirmographicsResolver_FallbackFailures(t *testing.T) {
	tests := []struct {
		name    string
		company *pdl.Company
		err     error
		outcome model.Outcome
	}{
		{"fallback quota", nil, &pdl.APIError{Endpoint: "search", StatusCode: 402}, model.OutcomeRateLimited},
		{"fallback error", nil, &pdl.APIError{Endpoint: "search", StatusCode: 500}, model.OutcomeError},
		{"no rows", nil, nil, model.OutcomeNotFound},
		{"network", nil, errors.New("pdl: search: send request: i/o timeout"), model.OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := mocks.NewMockClient(t)
			client.On("Enrich", mock.Anything, "Tesla").Return(nil, errQuota).Once()
			client.On("SearchByName", mock.Anything, "Tesla").Return(tt.company, tt.err).Once()

			var obs outcomeLog
			r := newFirmo(client, FirmographicsConfig{Fallback: true})
			r.Observe = obs.observe

			got := r.Resolve(context.Background(), r.NewSession(), "Tesla")
			assert.Equal(t, model.UnknownFirmographics(), got)
			assert.Equal(t, tt.outcome, obs.got["Tesla"])
		})
	}
}

func TestFirmographicsResolver_PrimaryFailuresNoFallback(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome model.Outcome
	}{
		{"not found", &pdl.APIError{Endpoint: "enrich", StatusCode: 404}, model.OutcomeNotFound},
		{"server error", &pdl.APIError{Endpoint: "enrich", StatusCode: 500}, model.OutcomeError},
		{"network", errors.New("pdl: enrich: send request: connection refused"), model.OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := mocks.NewMockClient(t)
			client.On("Enrich", mock.Anything, "Acme").Return(nil, tt.err).Once()

			var obs outcomeLog
			r := newFirmo(client, FirmographicsConfig{Fallback: true})
			r.Observe = obs.observe

			got := r.Resolve(context.Background(), r.NewSession(), "Acme")
			assert.Equal(t, model.UnknownFirmographics(), got)
			assert.Equal(t, tt.outcome, obs.got["Acme"])
			client.AssertNotCalled(t, "SearchByName", mock.Anything, mock.Anything)
		})
	}
}

func TestFirmographicsResolver_CircuitSkipsPrimary(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Enrich", mock.Anything, mock.Anything).Return(nil, errQuota).Times(2)
	client.On("SearchByName", mock.Anything, mock.Anything).Return(&pdl.Company{Type: "Private"}, nil).Times(4)

	r := newFirmo(client, FirmographicsConfig{Fallback: true, TripAfter: 2, TripReset: time.Hour})
	sess := r.NewSession()

	for _, name := range []string{"a", "b", "c", "d"} {
		got := r.Resolve(context.Background(), sess, name)
		assert.Equal(t, "Private", got.EntityType)
	}
	assert.Equal(t, resilience.CircuitOpen, sess.CircuitState())
	assert.Equal(t, int64(4), sess.FallbackHits())
}

func TestFirmographicsResolver_SessionsAreIndependent(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Enrich", mock.Anything, "a").Return(nil, errQuota).Once()
	client.On("SearchByName", mock.Anything, "a").Return(nil, nil).Once()
	client.On("Enrich", mock.Anything, "b").Return(&pdl.Company{Type: "public"}, nil).Once()

	r := newFirmo(client, FirmographicsConfig{Fallback: true, TripAfter: 1, TripReset: time.Hour})

	first := r.NewSession()
	r.Resolve(context.Background(), first, "a")
	assert.True(t, first.FallbackEngaged())
	assert.Equal(t, resilience.CircuitOpen, first.CircuitState())

	second := r.NewSession()
	got := r.Resolve(context.Background(), second, "b")
	assert.Equal(t, "public", got.EntityType)
	assert.False(t, second.FallbackEngaged())
}

func TestFirmographicsResolver_ResolveBatchOrder(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Enrich", mock.Anything, mock.Anything).Return(
		func(_ context.Context, name string) (*pdl.Company, error) {
			return &pdl.Company{Type: "type-" + name}, nil
		},
	)

	names := []string{"x", "y", "x", "z"}
	r := newFirmo(client, FirmographicsConfig{})
	got, err := r.ResolveBatch(context.Background(), r.NewSession(), names)
	require.NoError(t, err)
	require.Len(t, got, len(names))
	for i, n := range names {
		assert.Equal(t, "type-"+n, got[i].EntityType)
	}
	client.AssertNumberOfCalls(t, "Enrich", 4)
}

func TestFirmographicsResolver_NilSession(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Enrich", mock.Anything, "Tesla").Return(nil, errQuota).Twice()
	client.On("SearchByName", mock.Anything, "Tesla").Return(&pdl.Company{Type: "Public"}, nil).Twice()

	r := newFirmo(client, FirmographicsConfig{Fallback: true, TripAfter: 5, TripReset: time.Hour})

	var got model.Firmographics
	require.NotPanics(t, func() {
		got = r.Resolve(context.Background(), nil, "Tesla")
	})
	assert.Equal(t, "Public", got.EntityType)
	assert.Equal(t, model.SourceFallback, got.Source)

	batchGot, err := r.ResolveBatch(context.Background(), nil, []string{"Tesla"})
	require.NoError(t, err)
	require.Len(t, batchGot, 1)
	assert.Equal(t, "Public", batchGot[0].EntityType)
}
