package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/events"
)

type Repository struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func NewRepository(db *sql.DB, logger *zap.SugaredLogger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Open connects through the pgx stdlib driver. Tables come from the goose
// migrations under sql/.
func Open(ctx context.Context, dsn string, logger *zap.SugaredLogger) (*Repository, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return NewRepository(db, logger), nil
}

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) StoreEvents(ctx context.Context, recs []events.Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO protocol_events (seq, kind, ts, position_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (seq) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		var positionID sql.NullInt64
		if id, ok := rec.PositionID(); ok {
			positionID = sql.NullInt64{Int64: int64(id), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, int64(rec.Seq), string(rec.Kind), rec.Time, positionID, []byte(rec.Payload)); err != nil {
			return fmt.Errorf("failed to store event %d: %w", rec.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Debugw("Stored batch of events", "count", len(recs))
	return nil
}

func (r *Repository) EventsAfter(ctx context.Context, seq uint64, limit int) ([]events.Record, error) {
	query := `
		SELECT seq, kind, ts, payload
		FROM protocol_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`
	return r.queryRecords(ctx, query, int64(seq), limitOrAll(limit))
}

func (r *Repository) PositionEvents(ctx context.Context, positionID uint64, limit int) ([]events.Record, error) {
	query := `
		SELECT seq, kind, ts, payload
		FROM protocol_events
		WHERE position_id = $1
		ORDER BY seq ASC
		LIMIT $2
	`
	return r.queryRecords(ctx, query, int64(positionID), limitOrAll(limit))
}

func (r *Repository) LastSeq(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM protocol_events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read last sequence: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// Indexer state management
func (r *Repository) GetIndexerState(ctx context.Context, name string) (uint64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx, `SELECT last_seq FROM indexer_state WHERE name = $1`, name).Scan(&seq)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("indexer %q: %w", name, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to get indexer state: %w", err)
	}
	return uint64(seq), nil
}

func (r *Repository) UpdateIndexerState(ctx context.Context, name string, seq uint64) error {
	query := `
		INSERT INTO indexer_state (name, last_seq, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			last_seq = EXCLUDED.last_seq,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, name, int64(seq)); err != nil {
		return fmt.Errorf("failed to update indexer state: %w", err)
	}
	return nil
}

// Health check
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...any) ([]events.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []events.Record
	for rows.Next() {
		var (
			rec     events.Record
			seq     int64
			kind    string
			payload []byte
		)
		if err := rows.Scan(&seq, &kind, &rec.Time, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.Seq = uint64(seq)
		rec.Kind = events.Kind(kind)
		rec.Payload = payload
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// limitOrAll maps a non-positive limit to Postgres' LIMIT ALL.
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
