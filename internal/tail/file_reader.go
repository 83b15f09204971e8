package tail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
)

// DefaultMaxLoadBytes is the largest delta loaded into memory per file and cycle (20MB)
const DefaultMaxLoadBytes int64 = 20 * 1024 * 1024

const megabyte = 1024 * 1024

// FileReader reads the bytes appended to files since a byte-offset cursor
type FileReader struct {
	maxLoadBytes int64
	logger       *pterm.Logger
}

// NewFileReader creates a file reader; maxLoadBytes <= 0 selects the default
func NewFileReader(maxLoadBytes int64, logger *pterm.Logger) *FileReader {
	if maxLoadBytes <= 0 {
		maxLoadBytes = DefaultMaxLoadBytes
	}
	return &FileReader{
		maxLoadBytes: maxLoadBytes,
		logger:       logger,
	}
}

// MaxLoadBytes returns the configured ceiling
func (r *FileReader) MaxLoadBytes() int64 {
	return r.maxLoadBytes
}

// Source binds the reader to a path
func (r *FileReader) Source(path string) Source {
	return &fileSource{path: path, reader: r}
}

// Size returns the current size of path
func (r *FileReader) Size(path string) (int64, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if stat.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return stat.Size(), nil
}

// Read returns the lines appended to path after cursor.
//
// A shrunk or unchanged file yields nothing and resyncs the cursor to the
// current size; the pre-shrink tail is not re-read. A delta above the load
// ceiling yields one error line and the skipped interval is lost.
func (r *FileReader) Read(ctx context.Context, path string, cursor int64) Result {
	if err := ctx.Err(); err != nil {
		return r.unavailable(path, cursor, err)
	}

	file, err := os.Open(path)
	if err != nil {
		return r.unavailable(path, cursor, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return r.unavailable(path, cursor, err)
	}
	if stat.IsDir() {
		return r.unavailable(path, cursor, errors.New("is a directory"))
	}

	size := stat.Size()
	delta := size - cursor

	if delta <= 0 {
		if delta < 0 {
			r.logger.Info("Log file shrank, resyncing to current end",
				r.logger.Args("path", path, "old_size", cursor, "new_size", size))
		}
		return Result{Cursor: size}
	}

	if delta > r.maxLoadBytes {
		r.logger.Warn("Pending data exceeds load ceiling, skipping",
			r.logger.Args("path", path, "delta_bytes", delta, "max_bytes", r.maxLoadBytes))
		return Result{
			Lines:  []string{overflowLine(delta, r.maxLoadBytes)},
			Cursor: size,
			Err:    ErrOverflow,
		}
	}

	// Read exactly the last delta bytes
	buf := make([]byte, delta)
	n, err := file.ReadAt(buf, size-delta)
	if err != nil && !errors.Is(err, io.EOF) {
		return r.unavailable(path, cursor, err)
	}

	lines := SplitLines(buf[:n])
	r.logger.Trace("Read from log file",
		r.logger.Args("path", path, "lines", len(lines), "old_position", cursor, "new_position", cursor+int64(n)))

	return Result{Lines: lines, Cursor: cursor + int64(n)}
}

func (r *FileReader) unavailable(path string, cursor int64, cause error) Result {
	r.logger.Warn("Log file unavailable", r.logger.Args("path", path, "error", cause))
	return Result{
		Lines:  []string{fmt.Sprintf("ERROR: log file %s is unavailable: %v", path, cause)},
		Cursor: cursor,
		Err:    fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, path, cause),
	}
}

func overflowLine(delta, max int64) string {
	return fmt.Sprintf("ERROR: attempted to load more (%.2fMB) than the maximum size (%.2fMB) of bytes into memory. "+
		"Lower the update interval to prevent this from happening.",
		float64(delta)/megabyte, float64(max)/megabyte)
}

// SplitLines splits data on '\n' and drops the single empty element a
// trailing newline produces.
func SplitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	parts := bytes.Split(data, []byte{'\n'})
	if len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(p)
	}
	return lines
}

type fileSource struct {
	path   string
	reader *FileReader
}

func (s *fileSource) ID() string { return s.path }

func (s *fileSource) Kind() Kind { return KindFile }

func (s *fileSource) Read(ctx context.Context, cursor int64) Result {
	return s.reader.Read(ctx, s.path, cursor)
}
