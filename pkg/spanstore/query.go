// Read side of the span store
// Lists recent spans and aggregates them per model and outcome
package spanstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Model   string
	Outcome string
	TraceID string
	Limit   int
}

// List returns matching spans, most recent first.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	var where []string
	var args []any
	if f.Model != "" {
		where = append(where, "request_model = ?")
		args = append(args, f.Model)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}
	if f.TraceID != "" {
		where = append(where, "trace_id = ?")
		args = append(args, f.TraceID)
	}
	query := `SELECT trace_id, span_id, parent_span_id, name, start_unix_nano, end_unix_nano,
		status_code, status_message, outcome, operation, provider, request_model, response_model,
		error_type, input_tokens, output_tokens, attributes FROM spans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_unix_nano DESC, span_id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying spans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			start, end int64
			in, outTok sql.NullInt64
			attrs      string
		)
		if err := rows.Scan(&rec.TraceID, &rec.SpanID, &rec.ParentSpanID, &rec.Name, &start, &end,
			&rec.StatusCode, &rec.StatusMessage, &rec.Outcome, &rec.Operation, &rec.Provider,
			&rec.RequestModel, &rec.ResponseModel, &rec.ErrorType, &in, &outTok, &attrs); err != nil {
			return nil, fmt.Errorf("scanning span: %w", err)
		}
		rec.Start = time.Unix(0, start)
		rec.Duration = time.Duration(end - start)
		rec.InputTokens, rec.OutputTokens = intPtr(in), intPtr(outTok)
		if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("decoding attributes of span %s: %w", rec.SpanID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading spans: %w", err)
	}
	return out, nil
}

// Summary aggregates stored spans for one model and outcome.
type Summary struct {
	Model        string
	Outcome      string
	Count        int
	MeanDuration time.Duration
	InputTokens  int64
	OutputTokens int64
}

// Summarize groups stored spans by request model and outcome.
func (s *Store) Summarize(ctx context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT request_model, outcome, COUNT(*),
			CAST(AVG(end_unix_nano - start_unix_nano) AS INTEGER),
			COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		FROM spans
		GROUP BY request_model, outcome
		ORDER BY request_model, outcome`)
	if err != nil {
		return nil, fmt.Errorf("summarising spans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var mean int64
		if err := rows.Scan(&sum.Model, &sum.Outcome, &sum.Count, &mean, &sum.InputTokens, &sum.OutputTokens); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		sum.MeanDuration = time.Duration(mean)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading summary: %w", err)
	}
	return out, nil
}
