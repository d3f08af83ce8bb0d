package core

import (
	"fmt"
	"testing"
)

func TestLogBufferEvictsOldest(t *testing.T) {
	b := NewLogBuffer(LogCapacity)
	for i := 0; i < 101; i++ {
		b.Append(fmt.Sprintf("%d", i))
	}
	lines := b.Lines()
	if len(lines) != 100 {
		t.Fatalf("len = %d, want 100", len(lines))
	}
	if lines[0] != "1" || lines[99] != "100" {
		t.Fatalf("window = [%s .. %s], want [1 .. 100]", lines[0], lines[99])
	}
}

func TestLogBufferLinesIsACopy(t *testing.T) {
	b := NewLogBuffer(3)
	b.Append("a")
	lines := b.Lines()
	lines[0] = "mutated"
	if got := b.Lines()[0]; got != "a" {
		t.Fatalf("buffer exposed internal storage: %q", got)
	}
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("reset left %d lines", b.Len())
	}
}

func TestLogBufferDefaultsCapacity(t *testing.T) {
	b := NewLogBuffer(0)
	for i := 0; i < 150; i++ {
		b.Append("x")
	}
	if b.Len() != LogCapacity {
		t.Fatalf("len = %d, want %d", b.Len(), LogCapacity)
	}
}
