// Package chdb implements the analytical store's read surface: the
// queries behind the dataset-materialization endpoint, the feedback
// read-model endpoints, the evaluation-run display lookup, component I's
// datapoint cursor, and component L's usage snapshot. Every query here
// reads tables internal/observability and a dataset-materialization write
// path populate; this package never writes inference or feedback rows
// itself (that stays component H's job).
package chdb

import (
	"context"
	"encoding/json"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
)

// Store answers every read query this gateway's HTTP surface and
// background components need against the analytical store.
type Store struct {
	Conn driver.Conn
}

func New(conn driver.Conn) *Store {
	return &Store{Conn: conn}
}

func mustParseID(s string) gwtypes.ID {
	id, err := gwtypes.ParseID(s)
	if err != nil {
		return gwtypes.ID{}
	}

	return id
}

// FromInferences implements gateway.DatasetWriter: copy rows.input/output
// from the named inference IDs into the datasets table, returning the
// count actually materialized. Inferences that errored have no output to
// copy and are skipped, matching spec.md §4.K's "materialize a datapoint
// from a past inference" semantics.
func (s *Store) FromInferences(ctx context.Context, datasetName string, inferenceIDs []gwtypes.ID) (int, error) {
	if len(inferenceIDs) == 0 {
		return 0, nil
	}

	ids := make([]string, len(inferenceIDs))
	for i, id := range inferenceIDs {
		ids[i] = id.String()
	}

	rows, err := s.Conn.Query(ctx,
		`SELECT id, function_name, function_type, input, output, errored
		 FROM inferences WHERE id IN ?`, ids)
	if err != nil {
		return 0, gwerrors.Wrap(gwerrors.KindInternalError, err, "query source inferences")
	}
	defer rows.Close()

	batch, err := s.Conn.PrepareBatch(ctx, "INSERT INTO datasets")
	if err != nil {
		return 0, gwerrors.Wrap(gwerrors.KindInternalError, err, "prepare dataset insert")
	}

	n := 0

	for rows.Next() {
		var (
			id, functionName, functionType string
			input, output                  []byte
			errored                        bool
		)

		if err := rows.Scan(&id, &functionName, &functionType, &input, &output, &errored); err != nil {
			return n, gwerrors.Wrap(gwerrors.KindInternalError, err, "scan source inference")
		}

		if errored {
			continue
		}

		if err := batch.Append(gwtypes.NewID().String(), datasetName, functionName, functionType, input, output); err != nil {
			return n, gwerrors.Wrap(gwerrors.KindInternalError, err, "append datapoint")
		}

		n++
	}

	if n == 0 {
		return 0, nil
	}

	if err := batch.Send(); err != nil {
		return 0, gwerrors.Wrap(gwerrors.KindInternalError, err, "send dataset batch")
	}

	return n, nil
}

func feedbackFromRow(id, kind, metricName, targetID, targetType string, value []byte) gwtypes.Feedback {
	fb := gwtypes.Feedback{
		FeedbackID: mustParseID(id),
		MetricName: metricName,
		Kind:       gwtypes.MetricKind(kind),
		Value:      json.RawMessage(value),
	}

	target := mustParseID(targetID)
	if targetType == string(gwtypes.LevelEpisode) {
		fb.EpisodeID = &target
	} else {
		fb.InferenceID = &target
	}

	return fb
}

// ByMetric implements the internal feedback-by-metric read endpoint,
// keyset paginated on feedback ID like every other list endpoint here.
func (s *Store) ByMetric(ctx context.Context, metricName, before, after string) (FeedbackPage, error) {
	query := `SELECT id, kind, metric_name, target_id, target_type, value
		FROM feedback WHERE metric_name = ?`
	query, args := paginate(query, []any{metricName}, before, after)

	return s.queryFeedback(ctx, query, args...)
}

// ByTarget implements the internal feedback-by-target read endpoint.
func (s *Store) ByTarget(ctx context.Context, targetID uuid.UUID, before, after string) (FeedbackPage, error) {
	query := `SELECT id, kind, metric_name, target_id, target_type, value
		FROM feedback WHERE target_id = ?`
	query, args := paginate(query, []any{targetID.String()}, before, after)

	return s.queryFeedback(ctx, query, args...)
}

func (s *Store) queryFeedback(ctx context.Context, query string, args ...any) (FeedbackPage, error) {
	rows, err := s.Conn.Query(ctx, query, args...)
	if err != nil {
		return FeedbackPage{}, gwerrors.Wrap(gwerrors.KindInternalError, err, "query feedback")
	}
	defer rows.Close()

	var page FeedbackPage

	for rows.Next() {
		var id, kind, metricName, targetID, targetType string

		var value []byte

		if err := rows.Scan(&id, &kind, &metricName, &targetID, &targetType, &value); err != nil {
			return page, gwerrors.Wrap(gwerrors.KindInternalError, err, "scan feedback row")
		}

		page.Feedback = append(page.Feedback, feedbackFromRow(id, kind, metricName, targetID, targetType, value))
	}

	return page, nil
}

func paginate(query string, args []any, before, after string) (string, []any) {
	if before != "" {
		query += " AND id < ?"
		args = append(args, before)
	}

	if after != "" {
		query += " AND id > ?"
		args = append(args, after)
	}

	return query + " ORDER BY id DESC LIMIT 100", args
}

// LatestIDByMetric reports the newest feedback row recorded for one target,
// together with the metric it belongs to. It returns a single row across all
// of the target's metrics, not the latest ID for each metric.
func (s *Store) LatestIDByMetric(ctx context.Context, targetID uuid.UUID) (LatestByMetric, error) {
	row := s.Conn.QueryRow(ctx,
		`SELECT metric_name, id FROM feedback WHERE target_id = ? ORDER BY id DESC LIMIT 1`,
		targetID.String())

	var metricName, id string

	if err := row.Scan(&metricName, &id); err != nil {
		return LatestByMetric{}, nil
	}

	fid := mustParseID(id)

	return LatestByMetric{MetricName: metricName, FeedbackID: &fid}, nil
}

// Bounds reports the oldest/newest feedback ID recorded for one target.
func (s *Store) Bounds(ctx context.Context, targetID uuid.UUID) (MetricBounds, error) {
	row := s.Conn.QueryRow(ctx,
		`SELECT count(), min(id), max(id) FROM feedback WHERE target_id = ?`, targetID.String())

	var (
		count      int
		first, last string
	)

	if err := row.Scan(&count, &first, &last); err != nil {
		return MetricBounds{}, gwerrors.Wrap(gwerrors.KindInternalError, err, "query feedback bounds")
	}

	bounds := MetricBounds{ByCount: count}

	if count > 0 {
		f, l := mustParseID(first), mustParseID(last)
		bounds.First, bounds.Last = &f, &l
	}

	return bounds, nil
}

// EvaluationRunInfos resolves the display name/variant pairing for a set of
// past evaluation run IDs, read back from an evaluation's candidate
// inferences: the evaluation_run_id/evaluation_name tags the evaluation
// runner puts on every candidate, and the variant_name column the inference
// row was recorded with.
func (s *Store) EvaluationRunInfos(ctx context.Context, runIDs []string) ([]EvaluationRunInfo, error) {
	if len(runIDs) == 0 {
		return nil, nil
	}

	rows, err := s.Conn.Query(ctx,
		`SELECT any(tags['evaluation_run_id']) AS run_id,
		        any(tags['evaluation_name']) AS eval_name,
		        any(variant_name) AS variant_name
		 FROM inferences WHERE tags['evaluation_run_id'] IN ?
		 GROUP BY tags['evaluation_run_id']`, runIDs)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternalError, err, "query evaluation run infos")
	}
	defer rows.Close()

	var infos []EvaluationRunInfo

	for rows.Next() {
		var runID, evalName, variantName string

		if err := rows.Scan(&runID, &evalName, &variantName); err != nil {
			return infos, gwerrors.Wrap(gwerrors.KindInternalError, err, "scan evaluation run info")
		}

		infos = append(infos, EvaluationRunInfo{
			EvaluationRunID: mustParseID(runID),
			EvaluationName:  evalName,
			VariantName:     variantName,
		})
	}

	return infos, nil
}

// FeedbackPage mirrors gateway.FeedbackPage; duplicated here rather than
// imported to keep this package independent of internal/gateway (component
// H's store has no business importing the HTTP layer). cmd/gateway adapts
// between the two with a thin wrapper.
type FeedbackPage struct {
	Feedback []gwtypes.Feedback
}

// MetricBounds mirrors gateway.MetricBounds.
type MetricBounds struct {
	ByCount int
	First   *gwtypes.ID
	Last    *gwtypes.ID
}

// LatestByMetric mirrors gateway.LatestByMetric.
type LatestByMetric struct {
	MetricName string
	FeedbackID *gwtypes.ID
}

// EvaluationRunInfo mirrors gateway.EvaluationRunInfo.
type EvaluationRunInfo struct {
	EvaluationRunID gwtypes.ID
	EvaluationName  string
	VariantName     string
}
