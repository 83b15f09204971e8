// Package aggregator runs poll cycles: it reads every active stream's sources
// from their stored cursors and merges the new lines into one tagged list.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taillogs/internal/cursor"
	"taillogs/internal/database"
	"taillogs/internal/metrics"
	"taillogs/internal/streams"
	"taillogs/internal/tail"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"
)

// Palette is the colour rotation applied to non-empty sources
var Palette = [...]string{
	"#ff0000", "#8888ff", "#aaaaaa", "#ff00ea", "#ffff00",
	"#00e4ff", "#96b6ff", "#ffae00", "#00ff42", "#008f25",
}

const (
	// DefaultDeadline bounds one poll cycle, guard wait included
	DefaultDeadline = 10 * time.Second
	// DefaultWorkers is how many sources a cycle reads at once
	DefaultWorkers = 4
)

// TaggedRecord is one delivered line with its origin
type TaggedRecord struct {
	NodeName   string `json:"nodeName"`
	StreamName string `json:"streamName"`
	Color      string `json:"color"`
	Line       string `json:"line"`
}

// Aggregator polls the configured streams
type Aggregator struct {
	registry *streams.Registry
	store    cursor.Store
	guard    *cursor.Guard
	files    *tail.FileReader
	tables   *tail.TableReader
	stats    *metrics.Collector
	logger   *pterm.Logger
	deadline time.Duration
	workers  int
}

// New creates an aggregator. deadline bounds one cycle; workers bounds the
// sources read concurrently. Zero values select the defaults.
func New(
	registry *streams.Registry,
	store cursor.Store,
	guard *cursor.Guard,
	files *tail.FileReader,
	tables *tail.TableReader,
	stats *metrics.Collector,
	logger *pterm.Logger,
	deadline time.Duration,
	workers int,
) *Aggregator {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if stats == nil {
		stats = metrics.NewCollector(nil)
	}
	return &Aggregator{
		registry: registry,
		store:    store,
		guard:    guard,
		files:    files,
		tables:   tables,
		stats:    stats,
		logger:   logger,
		deadline: deadline,
		workers:  workers,
	}
}

// Stats returns the cycle statistics collector
func (a *Aggregator) Stats() *metrics.Collector {
	return a.stats
}

type job struct {
	stream string
	source tail.Source
	cursor int64
}

// jobs lists the sources of active streams in stream then source order. A
// source shared by several active streams is read once, for the first of
// them; the later streams would only see the advanced cursor.
func (a *Aggregator) jobs(doc *streams.Document, cursors cursor.Cursors) []job {
	var out []job
	seen := make(map[string]string)
	for _, s := range doc.Streams {
		if !s.Active {
			continue
		}
		for _, spec := range s.Sources() {
			if owner, ok := seen[spec.ID]; ok {
				a.logger.Trace("Source already read by an earlier stream",
					a.logger.Args("source", spec.ID, "stream", s.Name, "owner", owner))
				continue
			}
			seen[spec.ID] = s.Name
			out = append(out, job{
				stream: s.Name,
				source: a.bind(spec),
				cursor: cursors.Get(spec.ID),
			})
		}
	}
	return out
}

func (a *Aggregator) bind(spec streams.SourceSpec) tail.Source {
	if !spec.IsTable() {
		return a.files.Source(spec.Path)
	}
	return a.tables.Source(tableSource(spec))
}

func tableSource(spec streams.SourceSpec) tail.TableSource {
	db := spec.DB
	return tail.TableSource{
		Key: spec.ID,
		Params: database.SourceParams{
			Driver:   db.Driver,
			Host:     db.Host,
			Port:     db.Port,
			Database: db.Database,
			User:     db.User,
			Password: db.Password,
			Charset:  db.Charset,
		},
		Table: db.Table,
	}
}

// Poll runs one cycle and returns the lines produced since the previous one.
//
// Per-source failures never abort the cycle: the source contributes its
// explanatory line, if any, and keeps or resyncs its cursor. The records are
// returned even when saving the cursors fails; the error reports that the
// same lines may be delivered again.
func (a *Aggregator) Poll(ctx context.Context) ([]TaggedRecord, error) {
	cycleID := uuid.NewString()
	start := a.stats.Now()

	ctx, cancel := context.WithTimeout(ctx, a.deadline)
	defer cancel()

	release, err := a.guard.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire poll guard: %w", err)
	}
	defer release()

	cursors, err := a.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cursors: %w", err)
	}

	doc := a.registry.Snapshot()
	jobs := a.jobs(doc, cursors)

	results := make([]tail.Result, len(jobs))
	var g errgroup.Group
	g.SetLimit(a.workers)
	for i, j := range jobs {
		g.Go(func() error {
			results[i] = j.source.Read(ctx, j.cursor)
			return nil
		})
	}
	_ = g.Wait()

	records, next, cycle := merge(doc.NodeName, jobs, results, cursors)

	// Lines have been read: persist even when the cycle deadline has passed
	saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), a.deadline)
	defer saveCancel()
	saveErr := a.store.Save(saveCtx, next)
	if saveErr != nil {
		a.logger.WithCaller().Error("Failed to save cursors, lines may be delivered again",
			a.logger.Args("cycle", cycleID, "error", saveErr))
		saveErr = fmt.Errorf("failed to save cursors: %w", saveErr)
		cycle.SaveFailed = true
	}

	cycle.Duration = a.stats.Since(start)
	a.stats.Record(cycle)

	a.logger.Debug("Poll cycle completed", a.logger.Args(
		"cycle", cycleID,
		"sources", len(jobs),
		"records", len(records),
		"unavailable", len(cycle.Unavailable),
		"duration_ms", cycle.Duration.Milliseconds(),
	))

	return records, saveErr
}

// merge tags the results in job order. The colour index advances once per
// source that contributed at least one line.
func merge(nodeName string, jobs []job, results []tail.Result, cursors cursor.Cursors) ([]TaggedRecord, cursor.Cursors, metrics.Cycle) {
	records := make([]TaggedRecord, 0)
	next := cursors.Clone()
	var cycle metrics.Cycle

	colour := 0
	for i, j := range jobs {
		res := results[i]

		switch {
		case errors.Is(res.Err, tail.ErrOverflow):
			cycle.Overflows++
		case errors.Is(res.Err, tail.ErrSourceUnavailable):
			cycle.Unavailable = append(cycle.Unavailable, j.source.ID())
		case errors.Is(res.Err, tail.ErrQuery):
			cycle.QueryErrors++
		}

		if len(res.Lines) > 0 {
			c := Palette[colour%len(Palette)]
			colour++
			for _, line := range res.Lines {
				records = append(records, TaggedRecord{
					NodeName:   nodeName,
					StreamName: j.stream,
					Color:      c,
					Line:       line,
				})
			}
		}

		next.Set(j.source.ID(), res.Cursor)
	}

	cycle.Records = len(records)
	return records, next, cycle
}

// ResetToEnd moves every active stream's file cursors to the current end of
// the file so the next poll only returns lines written afterwards. Missing
// files are skipped; table cursors are left alone.
func (a *Aggregator) ResetToEnd(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.deadline)
	defer cancel()

	release, err := a.guard.Lock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire poll guard: %w", err)
	}
	defer release()

	cursors, err := a.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cursors: %w", err)
	}
	if cursors == nil {
		cursors = cursor.Cursors{}
	}

	moved := 0
	for _, s := range a.registry.Snapshot().Streams {
		if !s.Active {
			continue
		}
		for _, path := range s.LogFiles {
			size, err := a.files.Size(path)
			if err != nil {
				a.logger.Warn("Skipping unavailable file on reset",
					a.logger.Args("stream", s.Name, "path", path, "error", err))
				continue
			}
			cursors.Set(path, size)
			moved++
		}
	}

	if err := a.store.Save(ctx, cursors); err != nil {
		return fmt.Errorf("failed to save cursors: %w", err)
	}

	a.logger.Info("Cursors reset to end of files", a.logger.Args("files", moved))
	return nil
}
