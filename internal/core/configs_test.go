package core

import (
	"context"
	"errors"
	"testing"
)

func TestConfigsCreateAppliesDefaults(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	configs := NewConfigs(repo)

	if err := configs.Create(ctx, "foo.yaml"); err != nil {
		t.Fatalf("create: %v", err)
	}
	stored, err := repo.LoadConfig(ctx, "foo.yaml")
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	if stored.SpeedTest != NewDefaultRecord().SpeedTest {
		t.Fatalf("created record is not the default: %+v", stored.SpeedTest)
	}
}

func TestConfigsCreateConflict(t *testing.T) {
	ctx := context.Background()
	configs := NewConfigs(newMemoryRepo())

	if err := configs.Create(ctx, "foo"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := configs.Create(ctx, "foo")
	if !errors.Is(err, ErrNameConflict) {
		t.Fatalf("second create err = %v, want ErrNameConflict", err)
	}
}

func TestConfigsCreateRejectsEmptyName(t *testing.T) {
	configs := NewConfigs(newMemoryRepo())
	if err := configs.Create(context.Background(), " "); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("err = %v, want ErrInvalidName", err)
	}
}

func TestConfigsDelete(t *testing.T) {
	ctx := context.Background()
	configs := NewConfigs(newMemoryRepo())

	if err := configs.Delete(ctx, "bar"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing err = %v, want ErrNotFound", err)
	}
	if err := configs.Create(ctx, "bar.yaml"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := configs.Delete(ctx, "bar.yaml"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := configs.Delete(ctx, "bar.yaml"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestConfigsLoadAppliesDefaultsSaveDoesNot(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	configs := NewConfigs(repo)

	sparse := Record{SpeedTest: SpeedTestSettings{Routines: 50, MinSpeed: 0}}
	if err := configs.Save(ctx, "sparse.yaml", sparse); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, _ := repo.LoadConfig(ctx, "sparse.yaml")
	if raw.SpeedTest.PingTimes != 0 || raw.SpeedTest.MaxLossRate != 0 {
		t.Fatalf("save normalized the record: %+v", raw.SpeedTest)
	}

	loaded, err := configs.Load(ctx, "sparse.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SpeedTest.Routines != 50 {
		t.Fatalf("routines = %d, want stored 50", loaded.SpeedTest.Routines)
	}
	if loaded.SpeedTest.PingTimes != DefaultPingTimes || loaded.SpeedTest.MaxLossRate != DefaultMaxLossRate {
		t.Fatalf("defaults not applied: %+v", loaded.SpeedTest)
	}
}

func TestConfigsLoadMissing(t *testing.T) {
	configs := NewConfigs(newMemoryRepo())
	if _, err := configs.Load(context.Background(), "nope.yaml"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestConfigsListEmpty(t *testing.T) {
	names, err := NewConfigs(newMemoryRepo()).List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if names == nil || len(names) != 0 {
		t.Fatalf("names = %#v, want empty slice", names)
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe("delete", ErrNotFound); got != "delete failed: config not found" {
		t.Fatalf("Describe = %q", got)
	}
	if got := Describe("create", ErrNameConflict); got != "create failed: a config with that name already exists" {
		t.Fatalf("Describe = %q", got)
	}
	if got := Describe("save", nil); got != "" {
		t.Fatalf("Describe(nil) = %q", got)
	}
}
