package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/internal/metrics"
)

func TestNewProvider_NoneReturnsNilProvider(t *testing.T) {
	provider, err := metrics.NewProvider(context.Background(), metrics.ExporterNone, "test-service")
	require.NoError(t, err)
	require.Nil(t, provider)
}

func TestNewProvider_UnknownExporterErrors(t *testing.T) {
	_, err := metrics.NewProvider(context.Background(), metrics.Exporter("bogus"), "test-service")
	require.Error(t, err)
}

func TestSetupMetrics_NilProviderReturnsNilRecorder(t *testing.T) {
	recorder, err := metrics.SetupMetrics(nil, "test-service")
	require.NoError(t, err)
	require.Nil(t, recorder)
}

func TestSetupMetrics_StdoutProviderRegistersInstruments(t *testing.T) {
	provider, err := metrics.NewProvider(context.Background(), metrics.ExporterStdout, "test-service")
	require.NoError(t, err)
	require.NotNil(t, provider)

	defer func() { _ = provider.Shutdown(context.Background()) }()

	recorder, err := metrics.SetupMetrics(provider, "test-service")
	require.NoError(t, err)
	require.NotNil(t, recorder)

	recorder.RecordInference(context.Background(), "write_haiku", "gpt4", 10*time.Millisecond, nil)
	recorder.RecordEvaluation(context.Background(), "exact_match", nil)
	recorder.RecordCache(context.Background(), true)
}

func TestRecorder_NilRecorderMethodsAreNoOps(t *testing.T) {
	var recorder *metrics.Recorder

	require.NotPanics(t, func() {
		recorder.RecordInference(context.Background(), "fn", "model", time.Second, nil)
		recorder.RecordEvaluation(context.Background(), "evaluator", nil)
		recorder.RecordCache(context.Background(), false)
	})
}
