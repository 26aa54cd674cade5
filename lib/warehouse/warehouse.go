// Package warehouse persists extracted series into sqlite so repeated
// runs accumulate history instead of overwriting it.
package warehouse

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"datafetch-backend/lib/tabular"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	_ "modernc.org/sqlite"
)

var tracer = otel.Tracer("lib/warehouse")

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

// Open creates or opens the warehouse at path. Use ":memory:" for an
// ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening warehouse %s: %w", path, err)
	}
	_, err = db.Exec(schema)
	if err != nil {
		return nil, fmt.Errorf("applying warehouse schema: %w", err)
	}
	return &Store{db: db}, nil
}

func OpenDB(db *sql.DB) (*Store, error) {
	_, err := db.Exec(schema)
	if err != nil {
		return nil, fmt.Errorf("applying warehouse schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type Point struct {
	Source string
	Metric string
	Ts     time.Time
	Value  float64
	RunId  string
}

// Record flattens a table into time-series points: every numeric column
// becomes a metric keyed by the row's first time-typed cell. Re-recording
// the same (source, metric, timestamp) replaces the point, so reruns are
// idempotent.
func (s *Store) Record(ctx context.Context, runId string, table *tabular.Table) error {
	ctx, span := tracer.Start(ctx, "Record")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runId),
		attribute.String("source.id", table.Provenance.Source),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, source, fetched_at, checksum, row_count)
		 VALUES (?, ?, ?, ?, ?)`,
		runId,
		table.Provenance.Source,
		table.Provenance.FetchedAt.UnixMilli(),
		table.Provenance.Checksum,
		len(table.Rows),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("recording run %s: %w", runId, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO points (source, metric, ts, value, run_id)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	points := 0
	for _, row := range table.Rows {
		ts, ok := rowTimestamp(table.Columns, row)
		if !ok {
			continue
		}
		for _, col := range table.Columns {
			v, present := row[col]
			if !present || v.Kind != tabular.KindNumber {
				continue
			}
			_, err := stmt.ExecContext(ctx,
				table.Provenance.Source, col, ts.UnixMilli(), v.Num, runId)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				return fmt.Errorf("recording point %s/%s: %w", table.Provenance.Source, col, err)
			}
			points++
		}
	}
	span.SetAttributes(attribute.Int("points", points))

	return tx.Commit()
}

// rowTimestamp picks the row's first time-typed cell in column order.
func rowTimestamp(columns []string, row tabular.Row) (time.Time, bool) {
	for _, col := range columns {
		v, present := row[col]
		if present && v.Kind == tabular.KindTime {
			return v.Time, true
		}
	}
	return time.Time{}, false
}

// Query returns a source's points inside [from, to], ordered by metric
// then timestamp.
func (s *Store) Query(ctx context.Context, source string, from, to time.Time) ([]Point, error) {
	ctx, span := tracer.Start(ctx, "Query")
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, metric, ts, value, run_id
		 FROM points
		 WHERE source = ? AND ts >= ? AND ts <= ?
		 ORDER BY metric, ts`,
		source, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var p Point
		var ts int64
		err := rows.Scan(&p.Source, &p.Metric, &ts, &p.Value, &p.RunId)
		if err != nil {
			return nil, err
		}
		p.Ts = time.UnixMilli(ts).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}
