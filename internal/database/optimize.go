package database

import (
	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// OptimizeDatabase verifies SQLite settings on the state database
func OptimizeDatabase(db *gorm.DB, logger *pterm.Logger) error {
	logger.Debug("Applying database optimizations...")

	// Only show if there's a problem
	var journalMode string
	if err := db.Raw("PRAGMA journal_mode").Scan(&journalMode).Error; err != nil {
		logger.Warn("Failed to check journal mode", logger.Args("error", err))
	} else if journalMode != "wal" {
		logger.Warn("Database not in WAL mode", logger.Args("mode", journalMode))
	} else {
		logger.Trace("Database journal mode verified", logger.Args("mode", journalMode))
	}

	var busyTimeout int
	if err := db.Raw("PRAGMA busy_timeout").Scan(&busyTimeout).Error; err != nil {
		logger.Debug("Failed to check busy timeout", logger.Args("error", err))
	} else {
		logger.Trace("Database busy timeout", logger.Args("ms", busyTimeout))
	}

	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_read_cursors_updated
		 ON read_cursors(updated_at DESC)`).Error; err != nil {
		logger.Warn("Failed to create index", logger.Args("error", err))
		return err
	}

	logger.Debug("Database optimizations completed")
	return nil
}
