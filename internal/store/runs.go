package store

import (
	"context"
	"fmt"
)

// Run is one executed plan.
type Run struct {
	Seq         int64
	TraceID     string
	QueryName   string
	Fingerprint string
	SQL         string
	ArgCount    int
	RowCount    int
}

// RecordRun appends r to plan_runs and returns its sequence number.
// r.Seq is ignored.
func (s *Store) RecordRun(ctx context.Context, r Run) (int64, error) {
	res, err := s.builder.Insert("plan_runs").
		Columns("trace_id", "query_name", "fingerprint", "sql_text", "arg_count", "row_count").
		Values(r.TraceID, r.QueryName, r.Fingerprint, r.SQL, r.ArgCount, r.RowCount).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}
	return seq, nil
}

// Runs returns recorded runs in sequence order. An empty fingerprint
// returns every run.
func (s *Store) Runs(ctx context.Context, fingerprint string) ([]Run, error) {
	q := s.builder.
		Select("seq", "trace_id", "query_name", "fingerprint", "sql_text", "arg_count", "row_count").
		From("plan_runs").
		OrderBy("seq ASC")
	if fingerprint != "" {
		q = q.Where("fingerprint = ?", fingerprint)
	}

	rows, err := q.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.Seq, &r.TraceID, &r.QueryName, &r.Fingerprint, &r.SQL, &r.ArgCount, &r.RowCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
