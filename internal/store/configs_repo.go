package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"autocdn/internal/core"

	"gopkg.in/yaml.v3"
)

// ListConfigs returns every configuration name in lexical order.
func (s *Store) ListConfigs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT name FROM configs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query configs: %w", err)
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan config name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// LoadConfig decodes the stored record exactly as saved.
func (s *Store) LoadConfig(ctx context.Context, name string) (core.Record, error) {
	var body string
	err := s.DB.QueryRowContext(ctx, `SELECT body FROM configs WHERE name = ?`, name).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Record{}, core.ErrNotFound
		}
		return core.Record{}, fmt.Errorf("query config: %w", err)
	}
	return DecodeRecord([]byte(body))
}

// SaveConfig writes rec under name, creating the row if needed.
func (s *Store) SaveConfig(ctx context.Context, name string, rec core.Record) error {
	body, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO configs (name, body, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, name, string(body), now, now)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// CreateConfig inserts rec under name and fails with core.ErrNameConflict if
// the name is taken.
func (s *Store) CreateConfig(ctx context.Context, name string, rec core.Record) error {
	body, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO configs (name, body, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, string(body), now, now)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create config rows: %w", err)
	}
	if rows == 0 {
		return core.ErrNameConflict
	}
	return nil
}

// DeleteConfig removes name and fails with core.ErrNotFound if it is absent.
func (s *Store) DeleteConfig(ctx context.Context, name string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM configs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete config: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ImportConfig stores a YAML document read from elsewhere, keeping its
// values verbatim. Existing names are overwritten only when replace is set.
func (s *Store) ImportConfig(ctx context.Context, name string, doc []byte, replace bool) error {
	rec, err := DecodeRecord(doc)
	if err != nil {
		return err
	}
	if replace {
		return s.SaveConfig(ctx, name, rec)
	}
	return s.CreateConfig(ctx, name, rec)
}

// EncodeRecord renders rec as the YAML document stored in the body column.
func EncodeRecord(rec core.Record) ([]byte, error) {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// DecodeRecord parses a stored YAML document. Missing keys stay zero.
func DecodeRecord(data []byte) (core.Record, error) {
	var rec core.Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return core.Record{}, fmt.Errorf("decode config: %w", err)
	}
	return rec, nil
}
