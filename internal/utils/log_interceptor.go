package utils

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"
)

// maxPendingLine bounds a line without a newline before it is flushed as is.
const maxPendingLine = 1 << 20

// LogInterceptor prefixes every line written through it with a sequence
// number and a timestamp, so log files of restarted daemons stay ordered.
type LogInterceptor struct {
	mu      sync.Mutex
	target  io.Writer
	seq     uint64
	pending []byte
	now     func() time.Time
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{target: target, now: time.Now}
}

// Write forwards complete lines right away and keeps a trailing partial line
// until the rest of it arrives.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending = append(i.pending, p...)
	for {
		idx := bytes.IndexByte(i.pending, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(i.pending[:idx], []byte("\r"))
		if err := i.writeLine(line); err != nil {
			return 0, err
		}
		i.pending = i.pending[idx+1:]
	}

	if len(i.pending) > maxPendingLine {
		if err := i.flush(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close writes out a pending partial line. The target is left open.
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.flush()
}

func (i *LogInterceptor) flush() error {
	if len(i.pending) == 0 {
		return nil
	}
	err := i.writeLine(i.pending)
	i.pending = nil
	return err
}

func (i *LogInterceptor) writeLine(line []byte) error {
	i.seq++

	var buf bytes.Buffer
	buf.Grow(len(line) + 48)
	buf.WriteString(slog.Uint64("seq", i.seq).String())
	buf.WriteByte(' ')
	buf.WriteString(slog.String("time", i.now().Format(time.RFC3339Nano)).String())
	buf.WriteByte(' ')
	buf.Write(line)
	buf.WriteByte('\n')

	_, err := i.target.Write(buf.Bytes())
	return err
}
