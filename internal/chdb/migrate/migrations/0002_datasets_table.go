package migrations

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// datasetsTable creates the table component I reads datapoints from and
// the dataset-materialization endpoint (component K) writes into.
type datasetsTable struct{}

var DatasetsTable = datasetsTable{}

func (datasetsTable) Name() string { return "0002_datasets_table" }

func (datasetsTable) CanApply(ctx context.Context, conn driver.Conn) error {
	return nil
}

func (datasetsTable) ShouldApply(ctx context.Context, conn driver.Conn) (bool, error) {
	row := conn.QueryRow(ctx, "EXISTS TABLE datasets")

	var exists uint8
	if err := row.Scan(&exists); err != nil {
		return false, err
	}

	return exists == 0, nil
}

func (datasetsTable) Apply(ctx context.Context, conn driver.Conn) error {
	return conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS datasets (
		id UUID,
		dataset_name String,
		function_name String,
		function_type String,
		input String,
		output String DEFAULT '',
		reference_chat_output String DEFAULT '',
		reference_json_output String DEFAULT '',
		tool_params String DEFAULT '',
		output_schema String DEFAULT '',
		tags String DEFAULT '{}',
		staled_at Nullable(DateTime)
	) ENGINE = MergeTree ORDER BY (dataset_name, function_name, id)`)
}

func (datasetsTable) RollbackInstructions() string {
	return "DROP TABLE datasets;"
}
