package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autocdn/internal/core"
)

var ErrRunNotFound = errors.New("run not found")

func (s *Store) InsertRun(ctx context.Context, run *core.RunRecord) error {
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, config_name, mode, status, started_at, ended_at, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.ConfigName, run.Mode, run.Status, run.StartedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(run.EndedAt), nullableString(run.Error), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) MarkRunCompleted(ctx context.Context, id string, status core.RunStatus, endedAt time.Time, errMsg *string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, ended_at = ?, error = ?
		WHERE id = ?
	`, status, endedAt.UTC().Format(time.RFC3339Nano), nullableString(errMsg), id)
	if err != nil {
		return fmt.Errorf("mark run completed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*core.RunRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, config_name, mode, status, started_at, ended_at, error
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first; an empty configName lists all configs.
func (s *Store) ListRuns(ctx context.Context, configName string, limit, offset int) ([]*core.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, config_name, mode, status, started_at, ended_at, error
		FROM runs`
	args := []any{}
	if configName != "" {
		query += ` WHERE config_name = ?`
		args = append(args, configName)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	runs := []*core.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// RunLogPath returns the path of the run's combined log file.
func (s *Store) RunLogPath(runID string) string {
	return filepath.Join(s.StateDir, "runs", runID, "combined.log")
}

// EnsureRunLogDir makes sure the directory for a run's log exists.
func (s *Store) EnsureRunLogDir(runID string) error {
	return os.MkdirAll(filepath.Dir(s.RunLogPath(runID)), 0o755)
}

// ReadRunLog returns the whole combined log of a run.
func (s *Store) ReadRunLog(runID string) (string, error) {
	data, err := os.ReadFile(s.RunLogPath(runID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// TailLines keeps the last n lines of content; n <= 0 keeps everything.
func TailLines(content string, n int) string {
	if n <= 0 {
		return content
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// PruneOldRunLogs removes log files of runs beyond the retention limit.
func (s *Store) PruneOldRunLogs(ctx context.Context) error {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id FROM runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT -1 OFFSET ?
	`, s.LogRetention)
	if err != nil {
		return fmt.Errorf("query runs for pruning: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		path := s.RunLogPath(id)
		_ = os.Remove(path)
		dir := filepath.Dir(path)
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}
	return rows.Err()
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*core.RunRecord, error) {
	var (
		id         string
		configName string
		mode       string
		status     string
		startedAt  string
		endedAt    sql.NullString
		errMsg     sql.NullString
	)
	if err := scanner.Scan(&id, &configName, &mode, &status, &startedAt, &endedAt, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run := &core.RunRecord{
		ID:         id,
		ConfigName: configName,
		Mode:       core.Mode(mode),
		Status:     core.RunStatus(status),
	}
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		run.StartedAt = t
	}
	if endedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, endedAt.String); err == nil {
			run.EndedAt = &t
		}
	}
	if errMsg.Valid {
		msg := errMsg.String
		run.Error = &msg
	}
	return run, nil
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}
