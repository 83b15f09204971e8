package tail

import (
	"context"
	"fmt"
	"regexp"

	"taillogs/internal/database"
	"taillogs/internal/database/models"

	"github.com/benbjohnson/clock"
	"github.com/pterm/pterm"
)

// DefaultTableBatchSize caps the rows fetched per table source and cycle
const DefaultTableBatchSize = 1000

const logTimeLayout = "2006-01-02 15:04:05"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// TableSource identifies an audit table and how to reach it
type TableSource struct {
	Key    string // host:database, also the cursor key
	Params database.SourceParams
	Table  string
}

// QuerierFunc resolves the Querier for a table source
type QuerierFunc func(ctx context.Context, src TableSource) (database.Querier, error)

// TableReader reads rows appended to an audit table since a row-id cursor
type TableReader struct {
	querier   QuerierFunc
	batchSize int
	logger    *pterm.Logger
}

// NewTableReader creates a table reader; batchSize <= 0 selects the default
func NewTableReader(querier QuerierFunc, batchSize int, logger *pterm.Logger) *TableReader {
	if batchSize <= 0 {
		batchSize = DefaultTableBatchSize
	}
	return &TableReader{
		querier:   querier,
		batchSize: batchSize,
		logger:    logger,
	}
}

// ConnectorQuerier resolves queriers through a pooled connector. With
// queryLog set every statement is logged with its timing.
func ConnectorQuerier(connector *database.Connector, queryLog bool, logger *pterm.Logger, clk clock.Clock) QuerierFunc {
	return func(ctx context.Context, src TableSource) (database.Querier, error) {
		db, err := connector.Get(ctx, src.Key, src.Params)
		if err != nil {
			return nil, err
		}
		q := database.NewQuerier(db)
		if queryLog {
			q = database.WithQueryLogging(q, logger, clk)
		}
		return q, nil
	}
}

// Source binds the reader to a table
func (r *TableReader) Source(src TableSource) Source {
	if src.Table == "" {
		src.Table = models.AuditEntry{}.TableName()
	}
	return &tableSource{src: src, reader: r}
}

// Read returns rows with id above lastID, oldest first, at most one batch.
//
// When lastID no longer exists the table was truncated or rotated and the
// read restarts from id 0. Any failure leaves the cursor where it was so
// the next cycle retries from the same point.
func (r *TableReader) Read(ctx context.Context, src TableSource, lastID int64) Result {
	unchanged := Result{Cursor: lastID}

	if !identifier.MatchString(src.Table) {
		r.logger.Error("Invalid audit table name", r.logger.Args("source", src.Key, "table", src.Table))
		unchanged.Err = fmt.Errorf("%w: invalid table name %q", ErrQuery, src.Table)
		return unchanged
	}

	q, err := r.querier(ctx, src)
	if err != nil {
		r.logger.WithCaller().Error("Table source unreachable",
			r.logger.Args("source", src.Key, "error", err))
		unchanged.Err = fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, src.Key, err)
		return unchanged
	}

	lower := lastID
	if lastID != 0 {
		var id int64
		found, err := q.FetchScalar(ctx, &id, "SELECT id FROM "+src.Table+" WHERE id = ?", lastID)
		if err != nil {
			r.logger.WithCaller().Error("Failed to validate table cursor",
				r.logger.Args("source", src.Key, "last_id", lastID, "error", err))
			unchanged.Err = fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, src.Key, err)
			return unchanged
		}
		if !found {
			r.logger.Info("Last fetched row is gone, table truncated or rotated; restarting from the beginning",
				r.logger.Args("source", src.Key, "last_id", lastID))
			lower = 0
		}
	}

	var rows []models.AuditEntry
	err = q.FetchAll(ctx, &rows,
		"SELECT id, log_time, session, source, message, payload FROM "+src.Table+" WHERE id > ? ORDER BY id ASC LIMIT ?",
		lower, r.batchSize)
	if err != nil {
		r.logger.WithCaller().Error("Failed to fetch table rows",
			r.logger.Args("source", src.Key, "after_id", lower, "error", err))
		unchanged.Err = fmt.Errorf("%w: %s: %v", ErrQuery, src.Key, err)
		return unchanged
	}

	if len(rows) == 0 {
		// A reset with nothing new still forgets the vanished id
		return Result{Cursor: lower}
	}

	lines := make([]string, 0, len(rows))
	maxID := lower
	for i := range rows {
		lines = append(lines, FormatAuditEntry(&rows[i]))
		if rows[i].ID > maxID {
			maxID = rows[i].ID
		}
	}

	r.logger.Trace("Read from audit table",
		r.logger.Args("source", src.Key, "rows", len(rows), "old_id", lastID, "new_id", maxID))

	return Result{Lines: lines, Cursor: maxID}
}

// FormatAuditEntry renders a row as one opaque line:
// "<log_time> [<session>] <source>: <message> | <payload>"
func FormatAuditEntry(e *models.AuditEntry) string {
	return fmt.Sprintf("%s [%s] %s: %s | %s",
		e.LogTime.Format(logTimeLayout), e.Session, e.Source, e.Message, e.Payload)
}

type tableSource struct {
	src    TableSource
	reader *TableReader
}

func (s *tableSource) ID() string { return s.src.Key }

func (s *tableSource) Kind() Kind { return KindTable }

func (s *tableSource) Read(ctx context.Context, cursor int64) Result {
	return s.reader.Read(ctx, s.src, cursor)
}
