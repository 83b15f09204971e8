package cursor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"taillogs/internal/fileutil"

	"github.com/pterm/pterm"
)

// FileStore keeps the cursor map in a single JSON document
type FileStore struct {
	path   string
	logger *pterm.Logger
}

// NewFileStore creates a store backed by the JSON document at path
func NewFileStore(path string, logger *pterm.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Path returns the backing document path
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the cursor document. A missing, empty or corrupt document yields
// an empty map so that a poll always succeeds without history.
func (s *FileStore) Load(ctx context.Context) (Cursors, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("No cursor state yet, starting empty", s.logger.Args("path", s.path))
		return Cursors{}, nil
	}
	if err != nil {
		s.logger.Warn("Cursor state unreadable, starting empty",
			s.logger.Args("path", s.path, "error", err))
		return Cursors{}, nil
	}

	cursors, err := decode(data)
	if err != nil {
		s.logger.Warn("Cursor state corrupt, starting empty",
			s.logger.Args("path", s.path, "error", err))
		return Cursors{}, nil
	}

	s.logger.Trace("Loaded cursor state", s.logger.Args("path", s.path, "sources", len(cursors)))
	return cursors, nil
}

// Save rewrites the whole document atomically
func (s *FileStore) Save(ctx context.Context, cursors Cursors) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(cursors)
	if err != nil {
		return fmt.Errorf("encode cursor state: %w", err)
	}
	if err := fileutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write cursor state: %w", err)
	}

	s.logger.Trace("Saved cursor state", s.logger.Args("path", s.path, "sources", len(cursors)))
	return nil
}

func decode(data []byte) (Cursors, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Cursors{}, nil
	}

	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return sanitize(raw), nil
}
