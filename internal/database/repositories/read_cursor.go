package repositories

import (
	"context"
	"slices"
	"time"

	"taillogs/internal/database/models"

	"gorm.io/gorm"
)

type ReadCursorRepository interface {
	FindAll(ctx context.Context) ([]*models.ReadCursor, error)
	ReplaceAll(ctx context.Context, positions map[string]int64) error
}

type readCursorRepo struct {
	db *gorm.DB
}

func NewReadCursorRepository(db *gorm.DB) ReadCursorRepository {
	return &readCursorRepo{db: db}
}

func (r *readCursorRepo) FindAll(ctx context.Context) ([]*models.ReadCursor, error) {
	var cursors []*models.ReadCursor
	err := r.db.WithContext(ctx).Order("source_id").Find(&cursors).Error
	return cursors, err
}

// ReplaceAll swaps the complete cursor set inside one transaction, so readers
// see either the previous set or the new one.
func (r *readCursorRepo) ReplaceAll(ctx context.Context, positions map[string]int64) error {
	ids := make([]string, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	now := time.Now()
	rows := make([]*models.ReadCursor, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, &models.ReadCursor{SourceID: id, Position: positions[id], UpdatedAt: now})
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM read_cursors").Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 500).Error
	})
}
