package chdb

import (
	"context"
	"encoding/json"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/tensorzero/gateway/internal/evaluation"
	"github.com/tensorzero/gateway/internal/gwtypes"
)

var _ evaluation.DatapointSource = (*Store)(nil)

// datapointRows adapts a ClickHouse row cursor to evaluation.DatapointStream
// (Next/Err/Close), the same pull-cursor idiom provider.ChunkStream already
// uses elsewhere in this gateway.
type datapointRows struct {
	rows         driver.Rows
	err          error
	datasetName  string
	functionName string
}

// Open implements evaluation.DatapointSource: stream every non-staled
// datapoint in datasetName scoped to functionName (spec.md §4.I: "an
// evaluation always targets exactly one function").
func (s *Store) Open(ctx context.Context, datasetName, functionName string) (evaluation.DatapointStream, error) {
	rows, err := s.Conn.Query(ctx,
		`SELECT id, function_type, input, reference_chat_output, reference_json_output,
		        tool_params, output_schema, tags, staled_at
		 FROM datasets
		 WHERE dataset_name = ? AND function_name = ? AND staled_at IS NULL
		 ORDER BY id`, datasetName, functionName)
	if err != nil {
		return nil, err
	}

	return &datapointRows{rows: rows, datasetName: datasetName, functionName: functionName}, nil
}

func (d *datapointRows) Next(ctx context.Context) (*gwtypes.Datapoint, bool) {
	if !d.rows.Next() {
		return nil, false
	}

	var (
		id, functionType                                string
		input, refChatOutput, refJSONOutput              []byte
		toolParams, outputSchema, tags                    []byte
		staledAt                                          *string
	)

	if err := d.rows.Scan(&id, &functionType, &input, &refChatOutput, &refJSONOutput,
		&toolParams, &outputSchema, &tags, &staledAt); err != nil {
		d.err = err
		return nil, false
	}

	dp := &gwtypes.Datapoint{
		ID:                  mustParseID(id),
		DatasetName:         d.datasetName,
		FunctionName:        d.functionName,
		FunctionType:        gwtypes.FunctionType(functionType),
		ToolParams:          toolParams,
		OutputSchema:        outputSchema,
		ReferenceJSONOutput: refJSONOutput,
	}

	_ = json.Unmarshal(input, &dp.Input)

	if len(refChatOutput) > 0 {
		var out gwtypes.ChatOutput
		if json.Unmarshal(refChatOutput, &out) == nil {
			dp.ReferenceChatOutput = &out
		}
	}

	if len(tags) > 0 {
		_ = json.Unmarshal(tags, &dp.Tags)
	}

	return dp, true
}

func (d *datapointRows) Err() error {
	if d.err != nil {
		return d.err
	}

	return d.rows.Err()
}

func (d *datapointRows) Close() error {
	return d.rows.Close()
}
