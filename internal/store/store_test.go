package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"autocdn/internal/core"
)

func openTestStore(t *testing.T, retention int) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir(), retention)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	first, err := Open(ctx, dir, 5)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := first.CreateConfig(ctx, "a.yaml", core.NewDefaultRecord()); err != nil {
		t.Fatalf("create: %v", err)
	}
	first.Close()

	second, err := Open(ctx, dir, 5)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	names, err := second.ListConfigs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 1 || names[0] != "a.yaml" {
		t.Fatalf("names = %v", names)
	}
}

func TestConfigLifecycle(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()

	names, err := s.ListConfigs(ctx)
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no configs, got %v", names)
	}

	if err := s.CreateConfig(ctx, "foo.yaml", core.NewDefaultRecord()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateConfig(ctx, "foo.yaml", core.NewDefaultRecord()); !errors.Is(err, core.ErrNameConflict) {
		t.Fatalf("duplicate create err = %v, want ErrNameConflict", err)
	}

	rec := core.NewDefaultRecord()
	rec.Cloudflare.Domains = []string{"a.example.com", "b.example.com"}
	rec.SpeedTest.MinSpeed = 0
	rec.SpeedTest.PingTimes = 0
	if err := s.SaveConfig(ctx, "foo.yaml", rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.LoadConfig(ctx, "foo.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.SpeedTest.PingTimes != 0 {
		t.Fatalf("store normalized ping times to %d", got.SpeedTest.PingTimes)
	}
	if strings.Join(got.Cloudflare.Domains, ",") != "a.example.com,b.example.com" {
		t.Fatalf("domains = %v", got.Cloudflare.Domains)
	}

	if err := s.DeleteConfig(ctx, "foo.yaml"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteConfig(ctx, "foo.yaml"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
	if _, err := s.LoadConfig(ctx, "foo.yaml"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("load deleted err = %v, want ErrNotFound", err)
	}
}

func TestListConfigsSorted(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()
	for _, name := range []string{"b.yaml", "a.yml", "c.yaml"} {
		if err := s.CreateConfig(ctx, name, core.NewDefaultRecord()); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	names, err := s.ListConfigs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := strings.Join(names, ","); got != "a.yml,b.yaml,c.yaml" {
		t.Fatalf("names = %s", got)
	}
}

func TestImportConfigKeepsSparseValues(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()
	doc := []byte(`
cloudflare:
  zone_id: abc
  domains:
    - cdn.example.com
speed_test:
  routines: 32
  test_type: IPV6
`)
	if err := s.ImportConfig(ctx, "legacy.yaml", doc, false); err != nil {
		t.Fatalf("import: %v", err)
	}
	if err := s.ImportConfig(ctx, "legacy.yaml", doc, false); !errors.Is(err, core.ErrNameConflict) {
		t.Fatalf("re-import err = %v, want ErrNameConflict", err)
	}
	if err := s.ImportConfig(ctx, "legacy.yaml", doc, true); err != nil {
		t.Fatalf("replace import: %v", err)
	}

	rec, err := s.LoadConfig(ctx, "legacy.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.Cloudflare.ZoneID != "abc" || rec.SpeedTest.Routines != 32 || rec.SpeedTest.TestType != core.TestTypeIPv6 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.SpeedTest.TCPPort != 0 {
		t.Fatalf("tcp port = %d, want stored zero", rec.SpeedTest.TCPPort)
	}

	if err := s.ImportConfig(ctx, "broken.yaml", []byte("speed_test: [unclosed"), false); err == nil {
		t.Fatalf("malformed YAML accepted")
	}
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()

	run := &core.RunRecord{ID: "run-1", ConfigName: "a.yaml", Mode: core.ModeAuto, Status: core.RunStatusRunning}
	if err := s.InsertRun(ctx, run); err != nil {
		t.Fatalf("insert: %v", err)
	}
	msg := "probe exited with status 1"
	if err := s.MarkRunCompleted(ctx, "run-1", core.RunStatusFailed, time.Now(), &msg); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != core.RunStatusFailed || got.EndedAt == nil || got.Error == nil || *got.Error != msg {
		t.Fatalf("unexpected run: %+v", got)
	}
	if got.Mode != core.ModeAuto || got.ConfigName != "a.yaml" {
		t.Fatalf("unexpected identity: %+v", got)
	}

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("get missing err = %v", err)
	}
	if err := s.MarkRunCompleted(ctx, "missing", core.RunStatusSucceeded, time.Now(), nil); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("complete missing err = %v", err)
	}
}

func TestListRunsNewestFirstAndFiltered(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()
	for i, name := range []string{"a.yaml", "b.yaml", "a.yaml"} {
		run := &core.RunRecord{ID: string(rune('x' + i)), ConfigName: name, Mode: core.ModeManual, Status: core.RunStatusSucceeded}
		if err := s.InsertRun(ctx, run); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	all, err := s.ListRuns(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "z" || all[2].ID != "x" {
		t.Fatalf("unexpected order: %v, %v, %v", all[0].ID, all[1].ID, all[2].ID)
	}
	onlyA, err := s.ListRuns(ctx, "a.yaml", 10, 0)
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(onlyA) != 2 {
		t.Fatalf("filtered len = %d, want 2", len(onlyA))
	}
}

func TestPruneOldRunLogs(t *testing.T) {
	s := openTestStore(t, 1)
	ctx := context.Background()
	for _, id := range []string{"old", "new"} {
		if err := s.InsertRun(ctx, &core.RunRecord{ID: id, ConfigName: "a.yaml", Mode: core.ModeManual, Status: core.RunStatusSucceeded}); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := s.EnsureRunLogDir(id); err != nil {
			t.Fatalf("ensure dir: %v", err)
		}
		if err := os.WriteFile(s.RunLogPath(id), []byte(id+"\n"), 0o644); err != nil {
			t.Fatalf("write log: %v", err)
		}
	}

	if err := s.PruneOldRunLogs(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if _, err := os.Stat(s.RunLogPath("old")); !os.IsNotExist(err) {
		t.Fatalf("old log still present: %v", err)
	}
	content, err := s.ReadRunLog("new")
	if err != nil || content != "new\n" {
		t.Fatalf("new log = %q, %v", content, err)
	}
}

func TestTailLines(t *testing.T) {
	content := "a\nb\nc\n"
	if got := TailLines(content, 2); got != "b\nc" {
		t.Fatalf("TailLines = %q", got)
	}
	if got := TailLines(content, 0); got != content {
		t.Fatalf("TailLines(0) = %q", got)
	}
}
