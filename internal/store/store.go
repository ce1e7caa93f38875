package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/barpath/internal/types"
)

// ErrNotFound is returned when a run ID does not exist.
var ErrNotFound = errors.New("run not found")

// Store manages the PostgreSQL connection holding archived runs.
type Store struct {
	conn *pgx.Conn
}

// Run is one archived tracking run with its configuration and summary.
type Run struct {
	ID        uuid.UUID
	VideoID   string
	VideoPath string
	Label     string
	CreatedAt time.Time

	Region         types.TemplateRegion
	PhysicalHeight float64
	MatchThreshold float64
	SampleInterval int
	Scale          float64

	State           string
	Error           string
	FramesProcessed int
	FramesScored    int
	TotalFrames     int

	Summary types.ResultSummary
}

// Sample is one archived row of the kinematic series.
type Sample struct {
	Index        int
	Timestamp    float64
	X            float64
	Y            float64
	Velocity     float64
	Acceleration float64
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the tables if they don't exist.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS videos (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			video_id TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			label TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			region_x INT NOT NULL,
			region_y INT NOT NULL,
			region_w INT NOT NULL,
			region_h INT NOT NULL,
			physical_height DOUBLE PRECISION NOT NULL,
			match_threshold DOUBLE PRECISION NOT NULL,
			sample_interval INT NOT NULL,
			scale DOUBLE PRECISION NOT NULL,
			state TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			frames_processed INT NOT NULL,
			frames_scored INT NOT NULL,
			total_frames INT NOT NULL,
			peak_velocity DOUBLE PRECISION NOT NULL,
			avg_velocity DOUBLE PRECISION NOT NULL,
			min_velocity DOUBLE PRECISION NOT NULL,
			std_velocity DOUBLE PRECISION NOT NULL,
			total_points INT NOT NULL,
			success_rate DOUBLE PRECISION NOT NULL
		);
		CREATE TABLE IF NOT EXISTS samples (
			run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			idx INT NOT NULL,
			t DOUBLE PRECISION NOT NULL,
			x DOUBLE PRECISION NOT NULL,
			y DOUBLE PRECISION NOT NULL,
			velocity DOUBLE PRECISION NOT NULL,
			acceleration DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, idx)
		);
		CREATE INDEX IF NOT EXISTS runs_video_id_idx ON runs (video_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// SaveRun stores the run, its video and its series in one transaction. A zero
// run.ID is replaced with a new random ID, which is returned.
func (s *Store) SaveRun(ctx context.Context, run *Run, series types.KinematicSeries) (uuid.UUID, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO videos (id, path, indexed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path
	`, run.VideoID, run.VideoPath)
	if err != nil {
		return uuid.Nil, fmt.Errorf("save video: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO runs (
			id, video_id, label,
			region_x, region_y, region_w, region_h,
			physical_height, match_threshold, sample_interval, scale,
			state, error, frames_processed, frames_scored, total_frames,
			peak_velocity, avg_velocity, min_velocity, std_velocity, total_points, success_rate
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING created_at
	`,
		run.ID, run.VideoID, run.Label,
		run.Region.X, run.Region.Y, run.Region.Width, run.Region.Height,
		run.PhysicalHeight, run.MatchThreshold, run.SampleInterval, run.Scale,
		run.State, run.Error, run.FramesProcessed, run.FramesScored, run.TotalFrames,
		run.Summary.PeakVelocity, run.Summary.AvgVelocity, run.Summary.MinVelocity,
		run.Summary.StdVelocity, run.Summary.TotalPoints, run.Summary.SuccessRate,
	).Scan(&run.CreatedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("save run: %w", err)
	}

	n := series.Len()
	if n > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"samples"},
			[]string{"run_id", "idx", "t", "x", "y", "velocity", "acceleration"},
			pgx.CopyFromSlice(n, func(i int) ([]any, error) {
				return []any{
					run.ID, i, series.Timestamps[i],
					series.Displacement[i].X, series.Displacement[i].Y,
					series.Velocity[i], series.Acceleration[i],
				}, nil
			}),
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("save samples: %w", err)
		}
	}

	return run.ID, tx.Commit(ctx)
}

const runColumns = `
	r.id, r.video_id, v.path, r.label, r.created_at,
	r.region_x, r.region_y, r.region_w, r.region_h,
	r.physical_height, r.match_threshold, r.sample_interval, r.scale,
	r.state, r.error, r.frames_processed, r.frames_scored, r.total_frames,
	r.peak_velocity, r.avg_velocity, r.min_velocity, r.std_velocity, r.total_points, r.success_rate`

func scanRun(row pgx.Row) (Run, error) {
	var r Run
	err := row.Scan(
		&r.ID, &r.VideoID, &r.VideoPath, &r.Label, &r.CreatedAt,
		&r.Region.X, &r.Region.Y, &r.Region.Width, &r.Region.Height,
		&r.PhysicalHeight, &r.MatchThreshold, &r.SampleInterval, &r.Scale,
		&r.State, &r.Error, &r.FramesProcessed, &r.FramesScored, &r.TotalFrames,
		&r.Summary.PeakVelocity, &r.Summary.AvgVelocity, &r.Summary.MinVelocity,
		&r.Summary.StdVelocity, &r.Summary.TotalPoints, &r.Summary.SuccessRate,
	)
	return r, err
}

// ListRuns returns archived runs, newest first. limit <= 0 returns all of them.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT` + runColumns + `
		FROM runs r JOIN videos v ON v.id = r.video_id
		ORDER BY r.created_at DESC, r.id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run and its samples in index order.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*Run, []Sample, error) {
	run, err := scanRun(s.conn.QueryRow(ctx, `SELECT`+runColumns+`
		FROM runs r JOIN videos v ON v.id = r.video_id
		WHERE r.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.conn.Query(ctx, `
		SELECT idx, t, x, y, velocity, acceleration
		FROM samples WHERE run_id = $1 ORDER BY idx`, id)
	if err != nil {
		return nil, nil, err
	}
	samples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Sample, error) {
		var s Sample
		err := row.Scan(&s.Index, &s.Timestamp, &s.X, &s.Y, &s.Velocity, &s.Acceleration)
		return s, err
	})
	if err != nil {
		return nil, nil, err
	}
	return &run, samples, nil
}

// LabelRun sets the label of a run.
func (s *Store) LabelRun(ctx context.Context, id uuid.UUID, label string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE runs SET label = $1 WHERE id = $2", label, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// The schema is recreated by the next New.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS samples CASCADE;
		DROP TABLE IF EXISTS runs CASCADE;
		DROP TABLE IF EXISTS videos CASCADE;
	`)
	return err
}
