// Package migrations holds the ordered list of concrete migrations applied
// by internal/chdb/migrate. Each file is named after the ClickHouse object
// it creates, mirroring the teacher's one-file-per-concern layout.
package migrations

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// initialSchema creates the three tables internal/observability writes to:
// inferences, model_inferences, feedback. It matches those row shapes
// field-for-field.
type initialSchema struct{}

// InitialSchema is the first migration every deployment applies.
var InitialSchema = initialSchema{}

func (initialSchema) Name() string { return "0001_initial_schema" }

func (initialSchema) CanApply(ctx context.Context, conn driver.Conn) error {
	return nil
}

func (m initialSchema) ShouldApply(ctx context.Context, conn driver.Conn) (bool, error) {
	row := conn.QueryRow(ctx, "EXISTS TABLE inferences")

	var exists uint8
	if err := row.Scan(&exists); err != nil {
		return false, err
	}

	return exists == 0, nil
}

func (initialSchema) Apply(ctx context.Context, conn driver.Conn) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS inferences (
			id UUID,
			episode_id UUID,
			function_name String,
			function_type String,
			variant_name String,
			input String,
			output String,
			input_tokens Int64,
			output_tokens Int64,
			finish_reason String,
			tags String,
			errored UInt8,
			error_kind String,
			error_message String
		) ENGINE = MergeTree ORDER BY (function_name, id)`,
		`CREATE TABLE IF NOT EXISTS model_inferences (
			id UUID,
			inference_id UUID,
			model_name String,
			provider_name String,
			provider_type String,
			raw_request String,
			raw_response String,
			input_tokens Int64,
			output_tokens Int64,
			latency_ms Int64,
			errored UInt8,
			error_kind String,
			error_message String
		) ENGINE = MergeTree ORDER BY (inference_id, id)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			id UUID,
			kind String,
			metric_name String,
			target_id UUID,
			target_type String,
			value String,
			tags String
		) ENGINE = MergeTree ORDER BY (metric_name, target_id, id)`,
	}

	for _, stmt := range stmts {
		if err := conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

func (initialSchema) RollbackInstructions() string {
	return "DROP TABLE inferences; DROP TABLE model_inferences; DROP TABLE feedback;"
}
