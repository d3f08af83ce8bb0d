package core

import (
	"context"
	"fmt"
	"strings"
)

// ConfigRepository is the persistence boundary for named configuration records.
type ConfigRepository interface {
	ListConfigs(ctx context.Context) ([]string, error)
	LoadConfig(ctx context.Context, name string) (Record, error)
	SaveConfig(ctx context.Context, name string, rec Record) error
	CreateConfig(ctx context.Context, name string, rec Record) error
	DeleteConfig(ctx context.Context, name string) error
}

// Configs is the configuration store client. Load applies the load-time
// defaults; Save writes exactly what it is given.
type Configs struct {
	repo ConfigRepository
}

// NewConfigs wraps a repository.
func NewConfigs(repo ConfigRepository) *Configs {
	return &Configs{repo: repo}
}

// List returns configuration names in store order. No configs yields an empty slice.
func (c *Configs) List(ctx context.Context) ([]string, error) {
	names, err := c.repo.ListConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Load fetches name and returns it with load-time defaults applied.
func (c *Configs) Load(ctx context.Context, name string) (Record, error) {
	if strings.TrimSpace(name) == "" {
		return Record{}, ErrInvalidName
	}
	rec, err := c.repo.LoadConfig(ctx, name)
	if err != nil {
		return Record{}, fmt.Errorf("load config %s: %w", name, err)
	}
	return ApplyLoadDefaults(rec), nil
}

// Save persists rec under name as-is, user-entered zeros included.
func (c *Configs) Save(ctx context.Context, name string, rec Record) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	if err := c.repo.SaveConfig(ctx, name, rec.Clone()); err != nil {
		return fmt.Errorf("save config %s: %w", name, err)
	}
	return nil
}

// Create persists a default record under name. The name is used verbatim;
// callers normalize it with NormalizeName first.
func (c *Configs) Create(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	if err := c.repo.CreateConfig(ctx, name, NewDefaultRecord()); err != nil {
		return fmt.Errorf("create config %s: %w", name, err)
	}
	return nil
}

// Delete removes name. Deleting a missing name fails with ErrNotFound.
func (c *Configs) Delete(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	if err := c.repo.DeleteConfig(ctx, name); err != nil {
		return fmt.Errorf("delete config %s: %w", name, err)
	}
	return nil
}
