package monitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"
)

// levelPattern extracts a conventional level token from a raw log line.
var levelPattern = regexp.MustCompile(`\b(TRACE|DEBUG|INFO|WARN|WARNING|ERROR|FATAL|CRITICAL)\b`)

// LogTailCollector tails an application log file and feeds the shared
// log buffer the pattern detector reads from. Each cycle it consumes
// the lines appended since the previous cycle; a truncated or rotated
// file restarts from the beginning.
type LogTailCollector struct {
	path   string
	buffer *LogBuffer
	logger *slog.Logger

	offset int64
	total  int64
}

func NewLogTailCollector(path string, buffer *LogBuffer, logger *slog.Logger) *LogTailCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTailCollector{path: path, buffer: buffer, logger: logger}
}

func (c *LogTailCollector) Name() string    { return "log_tail_collector" }
func (c *LogTailCollector) Version() string { return "1.0.0" }

// Init positions the tail at the current end of the file so only lines
// written after startup are analyzed. A missing file is tolerated; it
// may appear later.
func (c *LogTailCollector) Init(ctx context.Context) error {
	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Info("log file absent, tail starts when it appears", "path", c.path)
			return nil
		}
		return fmt.Errorf("stat %s: %w", c.path, err)
	}
	c.offset = info.Size()
	return nil
}

func (c *LogTailCollector) Close() error { return nil }

func (c *LogTailCollector) Collect(ctx context.Context) (map[string]any, error) {
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{"log_lines_ingested": c.total}, nil
		}
		return nil, fmt.Errorf("opening %s: %w", c.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", c.path, err)
	}
	if info.Size() < c.offset {
		// rotation or truncation
		c.offset = 0
	}
	if _, err := f.Seek(c.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking %s: %w", c.path, err)
	}

	ingested := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		c.buffer.Add(parseLogLine(line, c.path))
		ingested++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", c.path, err)
	}

	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("tracking position in %s: %w", c.path, err)
	}
	c.offset = pos
	c.total += int64(ingested)

	return map[string]any{
		"log_lines_ingested": c.total,
		"log_lines_new":      ingested,
		"log_buffer_size":    c.buffer.Len(),
	}, nil
}

// parseLogLine lifts the level token out of a raw line. Anything without
// a recognizable level is kept as INFO so pattern matching still sees it.
func parseLogLine(line, source string) LogEntry {
	level := "INFO"
	if m := levelPattern.FindString(line); m != "" {
		level = m
		if level == "WARNING" {
			level = "WARN"
		}
		if level == "CRITICAL" {
			level = "FATAL"
		}
	}
	return LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   line,
		Source:    source,
		Raw:       line,
	}
}
