package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-enrich/internal/config"
	"github.com/sells-group/entity-enrich/internal/metrics"
	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/resolve"
	"github.com/sells-group/entity-enrich/internal/store"
	"github.com/sells-group/entity-enrich/pkg/gleif"
	gleifmocks "github.com/sells-group/entity-enrich/pkg/gleif/mocks"
	"github.com/sells-group/entity-enrich/pkg/pdl"
	pdlmocks "github.com/sells-group/entity-enrich/pkg/pdl/mocks"
)

const microsoftLEI = "INR2EJN1ERAN0W5ZP974"

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.GLEIF.BatchSize = 60
	cfg.PDL.BatchSize = 50
	cfg.PDL.Fallback = true
	cfg.PDL.TripAfter = 5
	cfg.PDL.TripResetSecs = 300
	cfg.Lookup.TimeoutSecs = 5
	return cfg
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func fixedClients(lei gleif.Client, firmo pdl.Client) ClientFactory {
	return func(_ *http.Client) Clients {
		return Clients{LEI: lei, Firmographics: firmo}
	}
}

func leiRecord(lei string) *gleif.Record {
	rec := &gleif.Record{ID: lei, Type: "lei-records"}
	rec.Attributes.LEI = lei
	return rec
}

func datasetOf(records ...model.CompanyRecord) *model.Dataset {
	return &model.Dataset{Columns: []string{model.ColEntityName}, Records: records}
}

func complete(name, lei string) model.CompanyRecord {
	rec := model.NewCompanyRecord(name)
	rec.LEI = model.StringPtr(lei)
	rec.EntityType = model.StringPtr("private")
	rec.IndustryClassification = model.StringPtr("software")
	rec.EmployeeCount = model.StringPtr("10")
	return rec
}

func TestPipeline_Run_NoCallsWhenComplete(t *testing.T) {
	leiClient := gleifmocks.NewMockClient(t)
	firmoClient := pdlmocks.NewMockClient(t)

	ds := datasetOf(complete("Acme Inc", "LEI1"), complete("Globex LLC", "LEI2"))
	p := New(testConfig(), nil, nil, fixedClients(leiClient, firmoClient))

	result, err := p.Run(context.Background(), "memory", ds)
	require.NoError(t, err)

	leiClient.AssertNotCalled(t, "LookupByLegalName", mock.Anything, mock.Anything)
	firmoClient.AssertNotCalled(t, "Enrich", mock.Anything, mock.Anything)

	for _, name := range []string{model.StageLEI, model.StageFirmographics} {
		stage, ok := result.Stage(name)
		require.True(t, ok, name)
		assert.Equal(t, model.StageStatusSkipped, stage.Status, name)
		assert.Zero(t, stage.Requested, name)
	}
	row, ok := result.Report.Attribute(model.ColLEI)
	require.True(t, ok)
	assert.Equal(t, 100.0, row.Completeness)
}

func TestPipeline_Run_MicrosoftScenario(t *testing.T) {
	leiClient := gleifmocks.NewMockClient(t)
	leiClient.On("LookupByLegalName", mock.Anything, "Microsoft").Return(leiRecord(microsoftLEI), nil).Once()
	leiClient.On("LookupByLegalName", mock.Anything, "Unknown").Return(nil, nil).Once()

	firmoClient := pdlmocks.NewMockClient(t)
	firmoClient.On("Enrich", mock.Anything, "Microsoft").Return(&pdl.Company{Type: "public"}, nil).Once()
	firmoClient.On("Enrich", mock.Anything, "Unknown Co").Return(nil, &pdl.APIError{Endpoint: "enrich", StatusCode: 404}).Once()

	ds := datasetOf(model.NewCompanyRecord("Microsoft"), model.NewCompanyRecord("Unknown Co"))
	p := New(testConfig(), nil, nil, fixedClients(leiClient, firmoClient))

	result, err := p.Run(context.Background(), "memory", ds)
	require.NoError(t, err)

	require.NotNil(t, ds.Records[0].LEI)
	assert.Equal(t, microsoftLEI, *ds.Records[0].LEI)
	assert.Nil(t, ds.Records[1].LEI)

	stage, _ := result.Stage(model.StageLEI)
	assert.Equal(t, 2, stage.Requested)
	assert.Equal(t, 1, stage.Merged)
	assert.Equal(t, int64(1), stage.Outcomes.Found)
	assert.Equal(t, int64(1), stage.Outcomes.NotFound)
	assert.Empty(t, result.Failures)

	row, _ := result.Report.Attribute(model.ColLEI)
	assert.Equal(t, 50.0, row.Completeness)
}

func TestPipeline_Run_DedupesLEIByNormalizedName(t *testing.T) {
	leiClient := gleifmocks.NewMockClient(t)
	leiClient.On("LookupByLegalName", mock.Anything, "Acme").Return(leiRecord("ACME0000000000000001"), nil).Once()

	firmoClient := pdlmocks.NewMockClient(t)
	firmoClient.On("Enrich", mock.Anything, mock.Anything).Return(&pdl.Company{Type: "private"}, nil).Times(3)

	ds := datasetOf(
		model.NewCompanyRecord("Acme Corp."),
		model.NewCompanyRecord("Acme Inc"),
		model.NewCompanyRecord("Acme"),
	)
	p := New(testConfig(), nil, nil, fixedClients(leiClient, firmoClient))

	_, err := p.Run(context.Background(), "memory", ds)
	require.NoError(t, err)

	for _, rec := range ds.Records {
		assert.Equal(t, "ACME0000000000000001", model.Deref(rec.LEI), rec.RawName)
	}
	leiClient.AssertNumberOfCalls(t, "LookupByLegalName", 1)
	// Firmographics runs per row on the raw name.
	firmoClient.AssertCalled(t, "Enrich", mock.Anything, "Acme Corp.")
	firmoClient.AssertCalled(t, "Enrich", mock.Anything, "Acme Inc")
	firmoClient.AssertCalled(t, "Enrich", mock.Anything, "Acme")
}

func TestPipeline_Run_NeverOverwrites(t *testing.T) {
	leiClient := gleifmocks.NewMockClient(t)
	firmoClient := pdlmocks.NewMockClient(t)
	firmoClient.On("Enrich", mock.Anything, "Initech").Return(&pdl.Company{
		Type: "public", Industry: "consulting", EmployeeCount: intPtr(900),
	}, nil).Once()

	rec := model.NewCompanyRecord("Initech")
	rec.LEI = model.StringPtr("KEEPME")
	rec.EntityType = model.StringPtr("private")
	rec.IndustryClassification = model.StringPtr("n/a")

	ds := datasetOf(rec)
	p := New(testConfig(), nil, nil, fixedClients(leiClient, firmoClient))

	_, err := p.Run(context.Background(), "memory", ds)
	require.NoError(t, err)

	got := ds.Records[0]
	assert.Equal(t, "KEEPME", *got.LEI)
	assert.Equal(t, "private", *got.EntityType)
	assert.Equal(t, "consulting", *got.IndustryClassification)
	assert.Equal(t, "900", *got.EmployeeCount)
	assert.Equal(t, model.SourcePrimary, got.FirmographicsSource)
}

func TestPipeline_Run_TeslaFallback(t *testing.T) {
	leiClient := gleifmocks.NewMockClient(t)
	leiClient.On("LookupByLegalName", mock.Anything, "Tesla").Return(nil, nil).Once()

	firmoClient := pdlmocks.NewMockClient(t)
	firmoClient.On("Enrich", mock.Anything, "Tesla").Return(nil, &pdl.APIError{Endpoint: "enrich", StatusCode: 402}).Once()
	firmoClient.On("SearchByName", mock.Anything, "Tesla").Return(&pdl.Company{Type: "Public", Industry: "automotive"}, nil).Once()

	reg := prometheus.NewRegistry()
	ds := datasetOf(model.NewCompanyRecord("Tesla"))
	p := New(testConfig(), nil, metrics.New(reg), fixedClients(leiClient, firmoClient))

	result, err := p.Run(context.Background(), "memory", ds)
	require.NoError(t, err)

	got := ds.Records[0]
	assert.Equal(t, "Public", *got.EntityType)
	assert.Equal(t, "automotive", *got.IndustryClassification)
	assert.Equal(t, model.Unknown, *got.EmployeeCount)
	assert.Equal(t, model.SourceFallback, got.FirmographicsSource)

	stage, _ := result.Stage(model.StageFirmographics)
	assert.Equal(t, int64(1), stage.Fallback)
	assert.Equal(t, int64(0), stage.Primary)
	assert.True(t, stage.Engaged)
	assert.Equal(t, "closed", stage.Circuit)
	assert.Equal(t, 1, stage.Merged)

	assert.Equal(t, 1.0, counterValue(t, reg, "entity_enrich_batches_total", "stage", model.StageFirmographics))
	assert.Equal(t, 1.0, counterValue(t, reg, "entity_enrich_batches_total", "stage", model.StageLEI))
}

// counterValue reads the counter of family name whose label equals value.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == label && l.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// shortFirmographics drops the last answer of every batch.
type shortFirmographics struct{ inner firmographicsBatch }

func (s shortFirmographics) ResolveBatch(ctx context.Context, sess *resolve.Session, names []string) ([]model.Firmographics, error) {
	got, err := s.inner.ResolveBatch(ctx, sess, names)
	if err != nil || len(got) == 0 {
		return got, err
	}
	return got[:len(got)-1], nil
}

// renamedLEI answers under a key that was never asked for.
type renamedLEI struct{ inner leiBatch }

func (r renamedLEI) ResolveBatch(ctx context.Context, names []string) (map[string]*string, error) {
	got, err := r.inner.ResolveBatch(ctx, names)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*string, len(got))
	for k, v := range got {
		out[k+"?"] = v
	}
	return out, nil
}

func TestPipeline_Run_FirmographicsShapeMismatchFailsRun(t *testing.T) {
	leiClient := gleifmocks.NewMockClient(t)
	leiClient.On("LookupByLegalName", mock.Anything, mock.Anything).Return(nil, nil)

	firmoClient := pdlmocks.NewMockClient(t)
	firmoClient.On("Enrich", mock.Anything, mock.Anything).Return(&pdl.Company{Type: "private"}, nil)

	st := newTestStore(t)
	reg := prometheus.NewRegistry()
	ds := datasetOf(model.NewCompanyRecord("Acme"), model.NewCompanyRecord("Globex"))
	p := New(testConfig(), st, metrics.New(reg), fixedClients(leiClient, firmoClient))
	p.wrapFirmographics = func(inner firmographicsBatch) firmographicsBatch { return shortFirmographics{inner} }

	result, err := p.Run(context.Background(), "firms.csv", ds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	assert.Contains(t, err.Error(), "requested 2 lookups, got 1")

	require.Len(t, result.Stages, 2)
	assert.Equal(t, model.StageStatusComplete, result.Stages[0].Status)
	assert.Equal(t, model.StageStatusFailed, result.Stages[1].Status)
	assert.Nil(t, result.Report)
	for _, rec := range ds.Records {
		assert.Nil(t, rec.EntityType, "no partial merge after a mismatch")
	}

	run, err := st.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "shape mismatch")
	assert.Equal(t, 1.0, counterValue(t, reg, "entity_enrich_runs_total", "status", string(model.RunStatusFailed)))
}

func TestPipeline_Run_LEIShapeMismatchFailsRun(t *testing.T) {
	leiClient := gleifmocks.NewMockClient(t)
	leiClient.On("LookupByLegalName", mock.Anything, "Microsoft").Return(leiRecord(microsoftLEI), nil).Once()
	firmoClient := pdlmocks.NewMockClient(t)

	st := newTestStore(t)
	ds := datasetOf(model.NewCompanyRecord("Microsoft"))
	p := New(testConfig(), st, nil, fixedClients(leiClient, firmoClient))
	p.wrapLEI = func(inner leiBatch) leiBatch { return renamedLEI{inner} }

	result, err := p.Run(context.Background(), "firms.csv", ds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	require.Len(t, result.Stages, 1)
	assert.Equal(t, model.StageStatusFailed, result.Stages[0].Status)
	assert.Nil(t, ds.Records[0].LEI)
	firmoClient.AssertNotCalled(t, "Enrich", mock.Anything, mock.Anything)

	run, err := st.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
}

func TestPipeline_Run_RecordsFailures(t *testing.T) {
	leiClient := gleifmocks.NewMockClient(t)
	leiClient.On("LookupByLegalName", mock.Anything, "Acme").Return(nil, &gleif.APIError{StatusCode: 503, Body: "down"}).Once()
	leiClient.On("LookupByLegalName", mock.Anything, "Globex").Return(nil, &gleif.APIError{StatusCode: 429}).Once()

	firmoClient := pdlmocks.NewMockClient(t)
	firmoClient.On("Enrich", mock.Anything, "Acme").Return(&pdl.Company{Type: "private"}, nil).Once()
	firmoClient.On("Enrich", mock.Anything, "Globex").Return(nil, &pdl.APIError{Endpoint: "enrich", StatusCode: 500}).Once()

	st := newTestStore(t)
	cfg := testConfig()
	cfg.PDL.Fallback = false
	ds := datasetOf(model.NewCompanyRecord("Acme"), model.NewCompanyRecord("Globex"))
	p := New(cfg, st, nil, fixedClients(leiClient, firmoClient))

	result, err := p.Run(context.Background(), "firms.csv", ds)
	require.NoError(t, err)
	require.NotEmpty(t, result.RunID)

	require.Len(t, result.Failures, 3)
	assert.Equal(t, model.StageLEI, result.Failures[0].Stage)
	assert.Equal(t, 0, result.Failures[0].Row)
	assert.Equal(t, model.OutcomeError, result.Failures[0].Outcome)
	assert.Equal(t, model.OutcomeRateLimited, result.Failures[1].Outcome)
	assert.Equal(t, model.StageFirmographics, result.Failures[2].Stage)
	assert.Equal(t, 1, result.Failures[2].Row)

	ctx := context.Background()
	run, err := st.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, "firms.csv", run.Input)
	assert.Equal(t, 2, run.Rows)
	require.NotNil(t, run.Result)
	assert.Len(t, run.Result.Stages, 2)

	stages, err := st.ListStages(ctx, result.RunID)
	require.NoError(t, err)
	assert.Len(t, stages, 2)

	stored, err := st.ListFailures(ctx, result.RunID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestPipeline_Run_CancelledContext(t *testing.T) {
	leiClient := gleifmocks.NewMockClient(t)
	firmoClient := pdlmocks.NewMockClient(t)

	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ds := datasetOf(model.NewCompanyRecord("Acme"))
	p := New(testConfig(), st, nil, fixedClients(leiClient, firmoClient))

	result, err := p.Run(ctx, "memory", ds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.Len(t, result.Stages, 1)
	assert.Equal(t, model.StageStatusFailed, result.Stages[0].Status)
	leiClient.AssertNotCalled(t, "LookupByLegalName", mock.Anything, mock.Anything)
}

func TestCheckShape(t *testing.T) {
	assert.NoError(t, checkShape(model.StageLEI, 3, 3))

	err := checkShape(model.StageFirmographics, 3, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	assert.Contains(t, err.Error(), "requested 3 lookups, got 2")
}

func TestSortFailures(t *testing.T) {
	items := []model.LookupFailure{
		{Stage: model.StageFirmographics, Row: 0},
		{Stage: model.StageLEI, Row: 4},
		{Stage: model.StageLEI, Row: 1},
	}
	sortFailures(items)
	assert.Equal(t, []model.LookupFailure{
		{Stage: model.StageLEI, Row: 1},
		{Stage: model.StageLEI, Row: 4},
		{Stage: model.StageFirmographics, Row: 0},
	}, items)
}

func TestPipeline_RunFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "firms.csv")
	out := filepath.Join(dir, "out", "enriched.csv")
	summaries := filepath.Join(dir, "summaries")
	require.NoError(t, os.WriteFile(in, []byte("Entity_Name,LEI\nMicrosoft,\nAcme,ACME1\n"), 0o644))

	leiClient := gleifmocks.NewMockClient(t)
	leiClient.On("LookupByLegalName", mock.Anything, "Microsoft").Return(leiRecord(microsoftLEI), nil).Once()
	firmoClient := pdlmocks.NewMockClient(t)
	firmoClient.On("Enrich", mock.Anything, mock.Anything).Return(&pdl.Company{Type: "public"}, nil).Times(2)

	p := New(testConfig(), nil, nil, fixedClients(leiClient, firmoClient))
	result, err := p.RunFile(context.Background(), Files{Input: in, Output: out, SummaryDir: summaries})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Dataset.Len())

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(written), microsoftLEI)

	entries, err := os.ReadDir(summaries)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPipeline_RunFile_RemoteInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exports/firms.csv", r.URL.Path)
		_, _ = w.Write([]byte("entity_name,lei,entity_type,industry_classification,n_employees\nAcme,ACME1,private,software,12\n"))
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "enriched.csv")
	p := New(testConfig(), nil, nil, fixedClients(gleifmocks.NewMockClient(t), pdlmocks.NewMockClient(t)))

	result, err := p.RunFile(context.Background(), Files{Input: srv.URL + "/exports/firms.csv", Output: out})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Dataset.Len())
	assert.FileExists(t, out)
}

func TestPipeline_RunFile_MissingNameColumn(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "firms.csv")
	require.NoError(t, os.WriteFile(in, []byte("company,lei\nAcme,\n"), 0o644))

	p := New(testConfig(), nil, nil, fixedClients(gleifmocks.NewMockClient(t), pdlmocks.NewMockClient(t)))
	_, err := p.RunFile(context.Background(), Files{Input: in, Output: filepath.Join(dir, "out.csv")})
	require.Error(t, err)
}

func TestNewHTTPClient(t *testing.T) {
	hc := newHTTPClient(config.LookupConfig{TimeoutSecs: 7})
	assert.Equal(t, "7s", hc.Timeout.String())
	tr, ok := hc.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 20, tr.MaxIdleConnsPerHost)
}

func intPtr(v int) *int { return &v }
