package core

import (
	"github.com/eapache/queue"
)

// LogCapacity is the number of lines a run keeps before evicting the oldest.
const LogCapacity = 100

// LogBuffer is a bounded FIFO of log lines. It is not safe for concurrent use.
type LogBuffer struct {
	capacity int
	lines    *queue.Queue
}

// NewLogBuffer returns an empty buffer holding at most capacity lines.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = LogCapacity
	}
	return &LogBuffer{capacity: capacity, lines: queue.New()}
}

// Append adds line, dropping the oldest entry once capacity is exceeded.
func (b *LogBuffer) Append(line string) {
	b.lines.Add(line)
	for b.lines.Length() > b.capacity {
		b.lines.Remove()
	}
}

// Len returns the number of buffered lines.
func (b *LogBuffer) Len() int {
	return b.lines.Length()
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *LogBuffer) Lines() []string {
	out := make([]string, b.lines.Length())
	for i := range out {
		out[i] = b.lines.Get(i).(string)
	}
	return out
}

// Reset empties the buffer.
func (b *LogBuffer) Reset() {
	b.lines = queue.New()
}
