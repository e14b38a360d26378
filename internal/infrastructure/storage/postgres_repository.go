package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"PriceWatch/internal/domain"
	"PriceWatch/internal/ports"
)

// PostgresRepository persists refresh-cycle telemetry. The repository is
// optional: a nil db turns every call into a no-op so the pipeline works
// without a database configured.
type PostgresRepository struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.AuditRepository = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// RecordRun appends one refresh-cycle audit row.
func (r *PostgresRepository) RecordRun(ctx context.Context, run domain.SyncRun) error {
	if r.db == nil {
		return nil
	}

	query, args, err := r.builder.
		Insert("sync_audit").
		Columns(
			"dataset_key", "trigger_kind",
			"rows_read", "rows_converted", "rows_skipped",
			"events_emitted", "duration_ms", "status", "error", "started_at",
		).
		Values(
			run.DatasetKey, string(run.Trigger),
			run.RowsRead, run.RowsConverted, run.RowsSkipped,
			run.EventsEmitted, run.Duration.Milliseconds(), run.Status, run.Error, run.StartedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

// RecentRuns returns the newest audit rows, most recent first.
func (r *PostgresRepository) RecentRuns(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	if r.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	query, args, err := r.builder.
		Select(
			"dataset_key", "trigger_kind",
			"rows_read", "rows_converted", "rows_skipped",
			"events_emitted", "duration_ms", "status", "error", "started_at",
		).
		From("sync_audit").
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit rows: %w", err)
	}
	defer rows.Close()

	var runs []domain.SyncRun
	for rows.Next() {
		var run domain.SyncRun
		var trigger string
		var durationMs int64
		if err := rows.Scan(
			&run.DatasetKey, &trigger,
			&run.RowsRead, &run.RowsConverted, &run.RowsSkipped,
			&run.EventsEmitted, &durationMs, &run.Status, &run.Error, &run.StartedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		run.Trigger = domain.SyncTrigger(trigger)
		run.Duration = millisecondsToDuration(durationMs)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return runs, nil
}

func millisecondsToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
