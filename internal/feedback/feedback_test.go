package feedback_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/internal/feedback"
	"github.com/tensorzero/gateway/internal/gwconfig"
	"github.com/tensorzero/gateway/internal/gwtypes"
)

type recordingSink struct {
	mu      sync.Mutex
	records []feedback.Record
}

func (s *recordingSink) PersistFeedback(_ context.Context, rec feedback.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
}

func (s *recordingSink) all() []feedback.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]feedback.Record(nil), s.records...)
}

const metricsYAML = `
models: {}
functions: {}
metrics:
  task_success:
    type: boolean
    level: inference
  ease_of_use:
    type: float
    level: episode
  note:
    type: comment
  gold_answer:
    type: demonstration
`

func testStore(t *testing.T) *gwconfig.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(metricsYAML), 0o644))

	s, err := gwconfig.Load(path)
	require.NoError(t, err)

	return s
}

func TestSubmit_Boolean_Succeeds(t *testing.T) {
	store := testStore(t)
	sink := &recordingSink{}

	inferenceID := gwtypes.NewID()
	fb := &gwtypes.Feedback{
		MetricName:  "task_success",
		InferenceID: &inferenceID,
		Value:       []byte("true"),
	}

	id, err := feedback.Submit(context.Background(), store, sink, fb)
	require.NoError(t, err)
	require.NotEqual(t, gwtypes.ID{}, id)

	records := sink.all()
	require.Len(t, records, 1)
	require.Equal(t, gwtypes.MetricBoolean, records[0].Kind)
	require.Equal(t, inferenceID, records[0].TargetID)
}

func TestSubmit_Boolean_WrongShapeRejected(t *testing.T) {
	store := testStore(t)
	sink := &recordingSink{}

	inferenceID := gwtypes.NewID()
	fb := &gwtypes.Feedback{
		MetricName:  "task_success",
		InferenceID: &inferenceID,
		Value:       []byte(`"yes"`),
	}

	_, err := feedback.Submit(context.Background(), store, sink, fb)
	require.ErrorContains(t, err, "Value for boolean feedback must be a boolean")
	require.Empty(t, sink.all())
}

func TestSubmit_Demonstration_RejectedAtEpisodeLevel(t *testing.T) {
	store := testStore(t)
	sink := &recordingSink{}

	episodeID := gwtypes.NewID()
	fb := &gwtypes.Feedback{
		MetricName: "gold_answer",
		EpisodeID:  &episodeID,
		Value:      []byte(`{"answer": "42"}`),
	}

	_, err := feedback.Submit(context.Background(), store, sink, fb)
	require.ErrorContains(t, err, `Correct ID was not provided for feedback level "inference"`)
	require.Empty(t, sink.all())
}

func TestSubmit_Comment_AcceptsEitherLevel(t *testing.T) {
	store := testStore(t)
	sink := &recordingSink{}

	episodeID := gwtypes.NewID()
	fb := &gwtypes.Feedback{
		MetricName: "note",
		EpisodeID:  &episodeID,
		Value:      []byte(`"looks good"`),
	}

	_, err := feedback.Submit(context.Background(), store, sink, fb)
	require.NoError(t, err)
	require.Len(t, sink.all(), 1)
}

func TestSubmit_UnknownMetric_Errors(t *testing.T) {
	store := testStore(t)
	sink := &recordingSink{}

	inferenceID := gwtypes.NewID()
	fb := &gwtypes.Feedback{
		MetricName:  "nope",
		InferenceID: &inferenceID,
		Value:       []byte("true"),
	}

	_, err := feedback.Submit(context.Background(), store, sink, fb)
	require.Error(t, err)
	require.Empty(t, sink.all())
}

func TestSubmit_MissingTarget_Errors(t *testing.T) {
	store := testStore(t)
	sink := &recordingSink{}

	fb := &gwtypes.Feedback{MetricName: "task_success", Value: []byte("true")}

	_, err := feedback.Submit(context.Background(), store, sink, fb)
	require.Error(t, err)
	require.Empty(t, sink.all())
}

func TestSubmit_DryRun_SkipsPersistence(t *testing.T) {
	store := testStore(t)
	sink := &recordingSink{}

	inferenceID := gwtypes.NewID()
	fb := &gwtypes.Feedback{
		MetricName:  "task_success",
		InferenceID: &inferenceID,
		Value:       []byte("true"),
		DryRun:      true,
	}

	id, err := feedback.Submit(context.Background(), store, sink, fb)
	require.NoError(t, err)
	require.NotEqual(t, gwtypes.ID{}, id)
	require.Empty(t, sink.all())
}
