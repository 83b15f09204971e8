package cursor

import (
	"context"
	"fmt"

	"taillogs/internal/database/repositories"

	"github.com/pterm/pterm"
)

// SQLStore keeps cursors in the read_cursors table of the state database
type SQLStore struct {
	repo   repositories.ReadCursorRepository
	logger *pterm.Logger
}

func NewSQLStore(repo repositories.ReadCursorRepository, logger *pterm.Logger) *SQLStore {
	return &SQLStore{repo: repo, logger: logger}
}

// Load reads every cursor row. A failing query degrades to an empty map.
func (s *SQLStore) Load(ctx context.Context) (Cursors, error) {
	rows, err := s.repo.FindAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("Cursor table unreadable, starting empty", s.logger.Args("error", err))
		return Cursors{}, nil
	}

	raw := make(map[string]int64, len(rows))
	for _, row := range rows {
		raw[row.SourceID] = row.Position
	}
	return sanitize(raw), nil
}

// Save replaces the stored set in one transaction
func (s *SQLStore) Save(ctx context.Context, cursors Cursors) error {
	if err := s.repo.ReplaceAll(ctx, cursors); err != nil {
		return fmt.Errorf("save cursors: %w", err)
	}
	s.logger.Trace("Saved cursor state", s.logger.Args("sources", len(cursors)))
	return nil
}
