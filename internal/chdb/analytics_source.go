package chdb

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/tensorzero/gateway/internal/analytics"
	"github.com/tensorzero/gateway/internal/gwerrors"
)

var _ analytics.Source = (*Store)(nil)

// Snapshot implements analytics.Source: one aggregate count per feedback
// kind plus chat/json inference counts and cumulative token usage, read off
// the same tables component H writes (spec.md §4.L).
func (s *Store) Snapshot(ctx context.Context) (analytics.Counts, error) {
	var counts analytics.Counts

	row := s.Conn.QueryRow(ctx, `SELECT
		countIf(function_type = 'chat'),
		countIf(function_type = 'json'),
		sum(input_tokens),
		sum(output_tokens)
		FROM inferences`)

	var (
		chat, jsonCount int64
		inputTok, outputTok uint64
	)

	if err := row.Scan(&chat, &jsonCount, &inputTok, &outputTok); err != nil {
		return counts, gwerrors.Wrap(gwerrors.KindInternalError, err, "snapshot inference counts")
	}

	counts.ChatInferences = chat
	counts.JSONInferences = jsonCount
	counts.CumulativeInputTokens = decimal.NewFromInt(int64(inputTok))
	counts.CumulativeOutputTokens = decimal.NewFromInt(int64(outputTok))

	fbRow := s.Conn.QueryRow(ctx, `SELECT
		countIf(kind = 'boolean'),
		countIf(kind = 'float'),
		countIf(kind = 'comment'),
		countIf(kind = 'demonstration')
		FROM feedback`)

	var boolC, floatC, commentC, demoC int64
	if err := fbRow.Scan(&boolC, &floatC, &commentC, &demoC); err != nil {
		return counts, gwerrors.Wrap(gwerrors.KindInternalError, err, "snapshot feedback counts")
	}

	counts.BooleanFeedback = boolC
	counts.FloatFeedback = floatC
	counts.CommentFeedback = commentC
	counts.DemonstrationFeedback = demoC

	return counts, nil
}
