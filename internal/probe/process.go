package probe

import (
	"bytes"
	"io"
	"os"
	"runtime"
	"sync"
	"syscall"
)

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func sendTermination(process *os.Process) {
	if process == nil {
		return
	}
	if runtime.GOOS == "windows" {
		_ = process.Kill()
		return
	}
	_ = process.Signal(syscall.SIGTERM)
}

// scanLinesOrCR splits on \n, \r\n and bare \r so redrawn progress bars
// arrive as separate lines.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		} else if data[i] == '\r' && i+1 == len(data) && !atEOF {
			// a lone \r at the end may be the first half of \r\n
			return 0, nil, nil
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
