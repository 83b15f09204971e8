package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// Querier is the query capability table readers depend on
type Querier interface {
	// Exec runs a statement and returns the affected row count
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	// FetchAll scans every result row into dest, a pointer to a slice
	FetchAll(ctx context.Context, dest any, query string, args ...any) error
	// FetchScalar scans the first column of the first row into dest and
	// reports whether a row existed
	FetchScalar(ctx context.Context, dest any, query string, args ...any) (bool, error)
}

type gormQuerier struct {
	db *gorm.DB
}

// NewQuerier adapts a gorm pool to Querier
func NewQuerier(db *gorm.DB) Querier {
	return &gormQuerier{db: db}
}

func (q *gormQuerier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res := q.db.WithContext(ctx).Exec(query, args...)
	return res.RowsAffected, res.Error
}

func (q *gormQuerier) FetchAll(ctx context.Context, dest any, query string, args ...any) error {
	return q.db.WithContext(ctx).Raw(query, args...).Scan(dest).Error
}

func (q *gormQuerier) FetchScalar(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	row := q.db.WithContext(ctx).Raw(query, args...).Row()
	if row == nil {
		return false, errors.New("query returned no row handle")
	}
	if err := row.Scan(dest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// loggingQuerier times every call and logs the statement with its bound
// arguments substituted, the row count and the duration.
type loggingQuerier struct {
	next   Querier
	logger *pterm.Logger
	clock  clock.Clock
}

// WithQueryLogging wraps next so each call is logged at debug level
func WithQueryLogging(next Querier, logger *pterm.Logger, clk clock.Clock) Querier {
	if clk == nil {
		clk = clock.New()
	}
	return &loggingQuerier{next: next, logger: logger, clock: clk}
}

func (q *loggingQuerier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	start := q.clock.Now()
	n, err := q.next.Exec(ctx, query, args...)
	q.log("exec", query, args, n, start, err)
	return n, err
}

func (q *loggingQuerier) FetchAll(ctx context.Context, dest any, query string, args ...any) error {
	start := q.clock.Now()
	err := q.next.FetchAll(ctx, dest, query, args...)
	q.log("fetch_all", query, args, sliceLen(dest), start, err)
	return err
}

func (q *loggingQuerier) FetchScalar(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	start := q.clock.Now()
	found, err := q.next.FetchScalar(ctx, dest, query, args...)
	var rows int64
	if found {
		rows = 1
	}
	q.log("fetch_scalar", query, args, rows, start, err)
	return found, err
}

func (q *loggingQuerier) log(op, query string, args []any, rows int64, start time.Time, err error) {
	elapsed := q.clock.Since(start)
	fields := q.logger.Args(
		"op", op,
		"sql", InterpolateQuery(query, args),
		"rows", rows,
		"duration_ms", float64(elapsed.Microseconds())/1000,
	)
	if err != nil {
		q.logger.Debug("Query failed", fields, q.logger.Args("error", err))
		return
	}
	q.logger.Debug("Query executed", fields)
}

var placeholder = regexp.MustCompile(`\?`)

// InterpolateQuery substitutes positional arguments into query for logging.
// Strings are single-quoted with embedded quotes doubled; nil becomes NULL.
func InterpolateQuery(query string, args []any) string {
	i := 0
	return placeholder.ReplaceAllStringFunc(query, func(m string) string {
		if i >= len(args) {
			return m
		}
		v := args[i]
		i++
		switch x := v.(type) {
		case nil:
			return "NULL"
		case string:
			return "'" + strings.ReplaceAll(x, "'", "''") + "'"
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
			return fmt.Sprint(x)
		default:
			return "'" + strings.ReplaceAll(fmt.Sprint(x), "'", "''") + "'"
		}
	})
}

func sliceLen(dest any) int64 {
	v := reflect.ValueOf(dest)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return 0
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice {
		return 0
	}
	return int64(v.Len())
}
