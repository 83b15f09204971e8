package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"taillogs/internal/cursor"
	"taillogs/internal/database"
	"taillogs/internal/database/models"
	"taillogs/internal/logging"
	"taillogs/internal/metrics"
	"taillogs/internal/streams"
	"taillogs/internal/tail"

	"github.com/benbjohnson/clock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type harness struct {
	store     *cursor.FileStore
	registry  *streams.Registry
	guard     *cursor.Guard
	agg       *Aggregator
	connector *database.Connector
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	maxLoadBytes int64
	store        cursor.Store
	deadline     time.Duration
	workers      int
}

func withDeadline(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.deadline = d }
}

func withWorkers(n int) harnessOption {
	return func(c *harnessConfig) { c.workers = n }
}

func withMaxLoadBytes(n int64) harnessOption {
	return func(c *harnessConfig) { c.maxLoadBytes = n }
}

func withStore(s cursor.Store) harnessOption {
	return func(c *harnessConfig) { c.store = s }
}

func newHarness(t *testing.T, doc *streams.Document, opts ...harnessOption) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := harnessConfig{deadline: 5 * time.Second, workers: 2}
	for _, opt := range opts {
		opt(&cfg)
	}

	log := logging.Discard()
	fileStore := cursor.NewFileStore(filepath.Join(dir, "var", "state.json"), log)
	var store cursor.Store = fileStore
	if cfg.store != nil {
		store = cfg.store
	}

	registry := streams.NewRegistry(doc, filepath.Join(dir, "config", "default.json"), log)
	connector := database.NewConnector(log)
	t.Cleanup(func() { connector.Close() })
	guard := cursor.NewGuard(filepath.Join(dir, "var", "state.json.lock"))

	agg := New(
		registry,
		store,
		guard,
		tail.NewFileReader(cfg.maxLoadBytes, log),
		tail.NewTableReader(tail.ConnectorQuerier(connector, false, log, clock.New()), 0, log),
		metrics.NewCollector(clock.NewMock()),
		log,
		cfg.deadline,
		cfg.workers,
	)

	return &harness{store: fileStore, registry: registry, guard: guard, agg: agg, connector: connector}
}

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func lines(records []TaggedRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Line)
	}
	return out
}

// fileDoc builds a document whose streams each tail the given file names,
// resolved inside dir
func fileDoc(dir string, streamFiles ...[]string) *streams.Document {
	doc := &streams.Document{NodeName: "web-1"}
	for i, files := range streamFiles {
		paths := make([]string, 0, len(files))
		for _, f := range files {
			paths = append(paths, filepath.Join(dir, f))
		}
		doc.Streams = append(doc.Streams, streams.Stream{
			Name:     fmt.Sprintf("s%d", i+1),
			Active:   true,
			LogFiles: paths,
		})
	}
	return doc
}

func TestPoll_DeliversOnlyNewLines(t *testing.T) {
	dir := t.TempDir()
	log := filepath.Join(dir, "app.log")
	appendFile(t, log, "")
	h := newHarness(t, fileDoc(dir, []string{"app.log"}))
	ctx := context.Background()

	records, err := h.agg.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NotNil(t, records)

	appendFile(t, log, "a\nb\nc\n")
	records, err = h.agg.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, lines(records))
	assert.Equal(t, TaggedRecord{NodeName: "web-1", StreamName: "s1", Color: "#ff0000", Line: "a"}, records[0])

	cursors, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), cursors.Get(log))

	appendFile(t, log, "d\n")
	records, err = h.agg.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, lines(records))

	cursors, err = h.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), cursors.Get(log))

	stats := h.agg.Stats().Snapshot()
	assert.Equal(t, int64(3), stats.Cycles)
	assert.Equal(t, int64(4), stats.Records)
}

func TestPoll_ColourCounterSkipsEmptySources(t *testing.T) {
	dir := t.TempDir()
	appendFile(t, filepath.Join(dir, "empty.log"), "")
	appendFile(t, filepath.Join(dir, "one.log"), "x\ny\n")
	appendFile(t, filepath.Join(dir, "two.log"), "z\n")
	h := newHarness(t, fileDoc(dir, []string{"empty.log", "one.log"}, []string{"two.log"}))

	records, err := h.agg.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "s1", records[0].StreamName)
	assert.Equal(t, Palette[0], records[0].Color)
	assert.Equal(t, Palette[0], records[1].Color)
	assert.Equal(t, "s2", records[2].StreamName)
	assert.Equal(t, Palette[1], records[2].Color)
}

func TestPoll_ColourWrapsAfterPalette(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for i := range len(Palette) + 2 {
		name := fmt.Sprintf("f%02d.log", i)
		appendFile(t, filepath.Join(dir, name), name+"\n")
		files = append(files, name)
	}
	h := newHarness(t, fileDoc(dir, files))

	records, err := h.agg.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, len(Palette)+2)
	assert.Equal(t, Palette[0], records[len(Palette)].Color)
	assert.Equal(t, Palette[1], records[len(Palette)+1].Color)
}

func TestPoll_InactiveStreamIsNotRead(t *testing.T) {
	dir := t.TempDir()
	on := filepath.Join(dir, "on.log")
	off := filepath.Join(dir, "off.log")
	appendFile(t, on, "on\n")
	appendFile(t, off, "off\n")

	doc := fileDoc(dir, []string{"on.log"}, []string{"off.log"})
	doc.Streams[1].Active = false
	h := newHarness(t, doc)
	ctx := context.Background()

	records, err := h.agg.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"on"}, lines(records))

	cursors, err := h.store.Load(ctx)
	require.NoError(t, err)
	_, tracked := cursors[off]
	assert.False(t, tracked, "inactive source cursor must not move")
}

func TestPoll_MissingFileKeepsCursorAndReportsEveryCycle(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, fileDoc(dir, []string{"gone.log"}))
	ctx := context.Background()

	for range 2 {
		records, err := h.agg.Poll(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.True(t, strings.HasPrefix(records[0].Line, "ERROR: log file "))
		assert.Equal(t, Palette[0], records[0].Color)
	}

	stats := h.agg.Stats().Snapshot()
	assert.Equal(t, int64(2), stats.Unavailable)
	assert.Equal(t, int64(2), stats.UnavailableSources[filepath.Join(dir, "gone.log")])
}

func TestPoll_OverflowSkipsIntervalOnce(t *testing.T) {
	dir := t.TempDir()
	log := filepath.Join(dir, "big.log")
	appendFile(t, log, strings.Repeat("0123456789\n", 200))
	h := newHarness(t, fileDoc(dir, []string{"big.log"}), withMaxLoadBytes(1024))
	ctx := context.Background()

	records, err := h.agg.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Line, "maximum size")

	records, err = h.agg.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	appendFile(t, log, "after\n")
	records, err = h.agg.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"after"}, lines(records))
	assert.Equal(t, int64(1), h.agg.Stats().Snapshot().Overflows)
}

func TestPoll_CorruptCursorStateStartsFromZero(t *testing.T) {
	dir := t.TempDir()
	appendFile(t, filepath.Join(dir, "app.log"), "one\n")
	h := newHarness(t, fileDoc(dir, []string{"app.log"}))

	require.NoError(t, os.MkdirAll(filepath.Dir(h.store.Path()), 0o755))
	require.NoError(t, os.WriteFile(h.store.Path(), []byte("{not json"), 0o644))

	records, err := h.agg.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, lines(records))
}

func TestResetToEnd_NextPollIsEmpty(t *testing.T) {
	dir := t.TempDir()
	log := filepath.Join(dir, "app.log")
	appendFile(t, log, "old\nold\n")
	h := newHarness(t, fileDoc(dir, []string{"app.log", "missing.log"}))
	ctx := context.Background()

	require.NoError(t, h.agg.ResetToEnd(ctx))

	cursors, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), cursors.Get(log))
	_, tracked := cursors[filepath.Join(dir, "missing.log")]
	assert.False(t, tracked)

	appendFile(t, log, "new\n")
	records, err := h.agg.Poll(ctx)
	require.NoError(t, err)

	var got []string
	for _, r := range records {
		if !strings.HasPrefix(r.Line, "ERROR:") {
			got = append(got, r.Line)
		}
	}
	assert.Equal(t, []string{"new"}, got)
}

func TestPoll_ConcurrentPollsDeliverOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	log := filepath.Join(dir, "app.log")
	appendFile(t, log, "")
	h := newHarness(t, fileDoc(dir, []string{"app.log"}))
	ctx := context.Background()

	_, err := h.agg.Poll(ctx)
	require.NoError(t, err)
	appendFile(t, log, "1\n2\n3\n4\n5\n")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total []string
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records, err := h.agg.Poll(ctx)
			assert.NoError(t, err)
			mu.Lock()
			total = append(total, lines(records)...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"1", "2", "3", "4", "5"}, total)
}

type failingStore struct {
	cursor.Cursors
}

func (s *failingStore) Load(ctx context.Context) (cursor.Cursors, error) {
	return s.Cursors.Clone(), nil
}

func (s *failingStore) Save(ctx context.Context, c cursor.Cursors) error {
	return errors.New("disk full")
}

func TestPoll_SaveFailureStillReturnsRecords(t *testing.T) {
	dir := t.TempDir()
	appendFile(t, filepath.Join(dir, "app.log"), "kept\n")
	h := newHarness(t, fileDoc(dir, []string{"app.log"}), withStore(&failingStore{Cursors: cursor.Cursors{}}))

	records, err := h.agg.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []string{"kept"}, lines(records))
	assert.Equal(t, int64(1), h.agg.Stats().Snapshot().SaveFailures)
}

func TestPoll_GuardTimeout(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, fileDoc(dir))

	release, err := h.guard.Lock(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = h.agg.Poll(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// newAuditDB creates a sqlite audit table holding one row and returns its path
func newAuditDB(t *testing.T, dir string) string {
	t.Helper()
	dbPath := filepath.Join(dir, "audit.db")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	require.NoError(t, db.AutoMigrate(&models.AuditEntry{}))
	require.NoError(t, db.Create(&models.AuditEntry{
		ID:      1,
		LogTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Session: "s",
		Source:  "api",
		Message: "row",
		Payload: "{}",
	}).Error)
	return dbPath
}

func TestPoll_TableSourceFollowsFiles(t *testing.T) {
	dir := t.TempDir()
	dbPath := newAuditDB(t, dir)

	appendFile(t, filepath.Join(dir, "app.log"), "file line\n")
	doc := fileDoc(dir, []string{"app.log"})
	doc.Streams[0].DB = &streams.DatabaseSource{Driver: "sqlite", Database: dbPath}
	h := newHarness(t, doc)
	ctx := context.Background()

	records, err := h.agg.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "file line", records[0].Line)
	assert.Equal(t, "2024-01-02 03:04:05 [s] api: row | {}", records[1].Line)
	assert.Equal(t, Palette[1], records[1].Color)

	cursors, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursors.Get(":"+dbPath))

	records, err = h.agg.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPoll_SharedFileDeliveredOnceForFirstStream(t *testing.T) {
	dir := t.TempDir()
	log := filepath.Join(dir, "app.log")
	appendFile(t, log, "a\nb\n")
	appendFile(t, filepath.Join(dir, "other.log"), "c\n")
	h := newHarness(t, fileDoc(dir, []string{"app.log"}, []string{"app.log", "other.log"}))
	ctx := context.Background()

	records, err := h.agg.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, TaggedRecord{NodeName: "web-1", StreamName: "s1", Color: Palette[0], Line: "a"}, records[0])
	assert.Equal(t, TaggedRecord{NodeName: "web-1", StreamName: "s1", Color: Palette[0], Line: "b"}, records[1])
	assert.Equal(t, TaggedRecord{NodeName: "web-1", StreamName: "s2", Color: Palette[1], Line: "c"}, records[2])

	cursors, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cursors.Get(log))

	// With the first stream off the second one owns the file
	_, err = streams.NewFilters(h.registry, h.guard, logging.Discard()).Apply(ctx, map[string]string{"s1": "false", "s2": "true"})
	require.NoError(t, err)
	appendFile(t, log, "d\n")

	records, err = h.agg.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "s2", records[0].StreamName)
	assert.Equal(t, "d", records[0].Line)
}

func TestPoll_ReactivatedStreamCatchesUpOnce(t *testing.T) {
	dir := t.TempDir()
	log := filepath.Join(dir, "app.log")
	appendFile(t, log, "a\n")
	h := newHarness(t, fileDoc(dir, []string{"app.log"}))
	filters := streams.NewFilters(h.registry, h.guard, logging.Discard())
	ctx := context.Background()

	records, err := h.agg.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, lines(records))

	active, err := filters.Apply(ctx, map[string]string{"s1": "false"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"s1": false}, active)

	appendFile(t, log, "b\nc\n")
	records, err = h.agg.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	cursors, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cursors.Get(log), "cursor must not move while inactive")

	_, err = filters.Apply(ctx, map[string]string{"s1": "true"})
	require.NoError(t, err)

	records, err = h.agg.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, lines(records))

	records, err = h.agg.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

// silentMySQL accepts TCP connections and never sends a handshake
func silentMySQL(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestPoll_HungDatabaseStaysWithinDeadline(t *testing.T) {
	dir := t.TempDir()
	host, port := silentMySQL(t)
	dbPath := newAuditDB(t, dir)

	doc := &streams.Document{
		NodeName: "web-1",
		Streams: []streams.Stream{
			{Name: "hung", Active: true, LogFiles: []string{},
				DB: &streams.DatabaseSource{Driver: "mysql", Host: host, Port: port, Database: "audit", User: "tail"}},
			{Name: "ok", Active: true, LogFiles: []string{},
				DB: &streams.DatabaseSource{Driver: "sqlite", Database: dbPath}},
		},
	}
	h := newHarness(t, doc, withDeadline(time.Second), withWorkers(4))

	type outcome struct {
		records []TaggedRecord
		err     error
	}
	poll := func() outcome {
		done := make(chan outcome, 1)
		go func() {
			records, err := h.agg.Poll(context.Background())
			done <- outcome{records, err}
		}()
		select {
		case o := <-done:
			return o
		case <-time.After(10 * time.Second):
			t.Fatal("poll did not return within its deadline")
			return outcome{}
		}
	}

	first := poll()
	require.NoError(t, first.err)
	require.Len(t, first.records, 1)
	assert.Equal(t, "ok", first.records[0].StreamName)
	assert.Equal(t, "2024-01-02 03:04:05 [s] api: row | {}", first.records[0].Line)

	stats := h.agg.Stats().Snapshot()
	assert.Equal(t, int64(1), stats.UnavailableSources[host+":audit"])

	// The guard was released, so the next cycle and a reset still run
	second := poll()
	require.NoError(t, second.err)
	assert.Empty(t, second.records)
	require.NoError(t, h.agg.ResetToEnd(context.Background()))
}
