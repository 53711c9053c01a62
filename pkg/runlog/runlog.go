// Package runlog keeps a SQLite history of scan runs: one row per run and
// one per visited waypoint, with the confirmed pose and the capture outcome.
package runlog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/photogrammetry/gantry/pkg/gantry"
	"github.com/photogrammetry/gantry/pkg/scan"
)

// Logf is the package logger.
var Logf = log.Printf

// SetLogger replaces the package logger. A nil f silences it.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

//go:embed schema.sql
var schemaSQL string

// Store is an open run log.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the run log at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	// One writer; the scan loop is the only user.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("run log schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Run is one scan run in progress. It implements scan.Recorder.
type Run struct {
	ID    string
	store *Store
}

var _ scan.Recorder = (*Run)(nil)

// StartRun records the start of a run of plan and returns its handle.
func (s *Store) StartRun(ctx context.Context, plan *scan.Plan, label string) (*Run, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_runs (run_id, mode, label, waypoints, started_unix_nanos) VALUES (?, ?, ?, ?, ?)`,
		id, plan.Mode.String(), label, plan.Len(), s.now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	Logf("run %s started: %s, %d waypoints", id, plan.Mode, plan.Len())
	return &Run{ID: id, store: s}, nil
}

// RecordVisit stores one visited waypoint.
func (r *Run) RecordVisit(ctx context.Context, v scan.Visit) error {
	var target, normal [3]sql.NullFloat64
	if loc := v.Waypoint.Location; loc != nil {
		pos := [3]float64{v.Waypoint.Value(gantry.X), v.Waypoint.Value(gantry.Y), v.Waypoint.Value(gantry.Z)}
		off := [3]float64{loc.Offset.X, loc.Offset.Y, loc.Offset.Z}
		n := [3]float64{loc.Normal.X, loc.Normal.Y, loc.Normal.Z}
		for i := range 3 {
			target[i] = sql.NullFloat64{Float64: pos[i] + off[i], Valid: true}
			normal[i] = sql.NullFloat64{Float64: n[i], Valid: true}
		}
	}

	var captured sql.NullInt64
	if !v.CapturedAt.IsZero() {
		captured = sql.NullInt64{Int64: v.CapturedAt.UnixNano(), Valid: true}
	}
	var captureErr sql.NullString
	if v.CaptureErr != nil {
		captureErr = sql.NullString{String: v.CaptureErr.Error(), Valid: true}
	}

	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO scan_visits (
			run_id, idx, label, ring,
			x_counts, y_counts, z_counts, phi_counts, theta_counts,
			x_mm, y_mm, z_mm, phi_deg, theta_deg,
			target_x, target_y, target_z, normal_x, normal_y, normal_z,
			captured_unix_nanos, files, attempts, capture_error, slip_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, v.Waypoint.Index, v.Label, v.Waypoint.Ring,
		v.Pose[gantry.X], v.Pose[gantry.Y], v.Pose[gantry.Z], v.Pose[gantry.Phi], v.Pose[gantry.Theta],
		v.Physical[gantry.X], v.Physical[gantry.Y], v.Physical[gantry.Z], v.Physical[gantry.Phi], v.Physical[gantry.Theta],
		target[0], target[1], target[2], normal[0], normal[1], normal[2],
		captured, strings.Join(v.Files, "\n"), v.Attempts, captureErr, int64(v.Slip),
	)
	if err != nil {
		return fmt.Errorf("record visit %d: %w", v.Waypoint.Index, err)
	}
	return nil
}

// Finish stores the outcome of the run. runErr is the error Run returned.
func (r *Run) Finish(ctx context.Context, rep scan.Report, runErr error) error {
	var msg sql.NullString
	if runErr != nil {
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	finished := rep.Finished
	if finished.IsZero() {
		finished = r.store.now()
	}
	_, err := r.store.db.ExecContext(ctx, `
		UPDATE scan_runs
		SET finished_unix_nanos = ?, visited = ?, capture_failures = ?, slips = ?, error = ?
		WHERE run_id = ?`,
		finished.UnixNano(), rep.Visited, rep.CaptureFailures, rep.Slips, msg, r.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", r.ID, err)
	}
	return nil
}

// RunInfo is a stored run.
type RunInfo struct {
	ID              string
	Mode            string
	Label           string
	Waypoints       int
	Started         time.Time
	Finished        time.Time // zero while running or after a crash
	Visited         int
	CaptureFailures int
	Slips           int
	Error           string
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, mode, label, waypoints, started_unix_nanos, finished_unix_nanos,
		       visited, capture_failures, slips, error
		FROM scan_runs
		ORDER BY started_unix_nanos DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var ri RunInfo
		var started int64
		var finished sql.NullInt64
		var msg sql.NullString
		if err := rows.Scan(&ri.ID, &ri.Mode, &ri.Label, &ri.Waypoints, &started, &finished,
			&ri.Visited, &ri.CaptureFailures, &ri.Slips, &msg); err != nil {
			return nil, err
		}
		ri.Started = time.Unix(0, started)
		if finished.Valid {
			ri.Finished = time.Unix(0, finished.Int64)
		}
		ri.Error = msg.String
		out = append(out, ri)
	}
	return out, rows.Err()
}

// VisitInfo is a stored visit.
type VisitInfo struct {
	Index      int
	Label      string
	Ring       int
	Pose       gantry.Counts
	Physical   [gantry.NumAxes]float64
	CapturedAt time.Time
	Files      []string
	Attempts   int
	CaptureErr string
	Slip       time.Duration
}

// Visits returns the visits of a run in waypoint order.
func (s *Store) Visits(ctx context.Context, runID string) ([]VisitInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, label, ring,
		       x_counts, y_counts, z_counts, phi_counts, theta_counts,
		       x_mm, y_mm, z_mm, phi_deg, theta_deg,
		       captured_unix_nanos, files, attempts, capture_error, slip_nanos
		FROM scan_visits
		WHERE run_id = ?
		ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	var out []VisitInfo
	for rows.Next() {
		var vi VisitInfo
		var captured sql.NullInt64
		var files string
		var msg sql.NullString
		var slip int64
		p, c := &vi.Physical, &vi.Pose
		if err := rows.Scan(&vi.Index, &vi.Label, &vi.Ring,
			&c[0], &c[1], &c[2], &c[3], &c[4],
			&p[0], &p[1], &p[2], &p[3], &p[4],
			&captured, &files, &vi.Attempts, &msg, &slip); err != nil {
			return nil, err
		}
		if captured.Valid {
			vi.CapturedAt = time.Unix(0, captured.Int64)
		}
		if files != "" {
			vi.Files = strings.Split(files, "\n")
		}
		vi.CaptureErr = msg.String
		vi.Slip = time.Duration(slip)
		out = append(out, vi)
	}
	return out, rows.Err()
}
