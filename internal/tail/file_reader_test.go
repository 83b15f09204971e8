package tail

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"taillogs/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFileReader_IncrementalAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, path, "")
	r := NewFileReader(0, logging.Discard())
	ctx := context.Background()

	res := r.Read(ctx, path, 0)
	require.NoError(t, res.Err)
	assert.Empty(t, res.Lines)
	assert.Equal(t, int64(0), res.Cursor)

	appendFile(t, path, "a\nb\nc\n")
	res = r.Read(ctx, path, res.Cursor)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"a", "b", "c"}, res.Lines)
	assert.Equal(t, int64(6), res.Cursor)

	appendFile(t, path, "d\n")
	res = r.Read(ctx, path, res.Cursor)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"d"}, res.Lines)
	assert.Equal(t, int64(8), res.Cursor)

	res = r.Read(ctx, path, res.Cursor)
	assert.Empty(t, res.Lines)
	assert.Equal(t, int64(8), res.Cursor)
}

func TestFileReader_PartialLineIsDeliveredAsIs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, path, "first\nsecond-half")
	r := NewFileReader(0, logging.Discard())

	res := r.Read(context.Background(), path, 0)
	assert.Equal(t, []string{"first", "second-half"}, res.Lines)
	assert.Equal(t, int64(17), res.Cursor)
}

func TestFileReader_OnlyOneTrailingEmptyLineDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, path, "x\n\n")
	r := NewFileReader(0, logging.Discard())

	res := r.Read(context.Background(), path, 0)
	assert.Equal(t, []string{"x", ""}, res.Lines)
}

func TestFileReader_ShrinkResyncsToCurrentSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, path, "abc\n")
	r := NewFileReader(0, logging.Discard())

	res := r.Read(context.Background(), path, 100)
	require.NoError(t, res.Err)
	assert.Empty(t, res.Lines)
	assert.Equal(t, int64(4), res.Cursor)
}

func TestFileReader_Overflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.log")
	appendFile(t, path, strings.Repeat("0123456789\n", 300))
	r := NewFileReader(1024, logging.Discard())
	ctx := context.Background()

	res := r.Read(ctx, path, 0)
	require.ErrorIs(t, res.Err, ErrOverflow)
	require.Len(t, res.Lines, 1)
	assert.Contains(t, res.Lines[0], "(0.00MB)")
	assert.Contains(t, res.Lines[0], "attempted to load more")
	assert.Contains(t, res.Lines[0], "maximum size")
	assert.Equal(t, int64(3300), res.Cursor)

	// The skipped interval is gone: polling again returns nothing
	res = r.Read(ctx, path, res.Cursor)
	require.NoError(t, res.Err)
	assert.Empty(t, res.Lines)
}

func TestOverflowLine_MentionsBothSizes(t *testing.T) {
	line := overflowLine(25*megabyte, DefaultMaxLoadBytes)
	assert.Contains(t, line, "(25.00MB)")
	assert.Contains(t, line, "(20.00MB)")
}

func TestFileReader_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.log")
	r := NewFileReader(0, logging.Discard())

	res := r.Read(context.Background(), path, 42)
	require.ErrorIs(t, res.Err, ErrSourceUnavailable)
	require.Len(t, res.Lines, 1)
	assert.Contains(t, res.Lines[0], path)
	assert.Equal(t, int64(42), res.Cursor, "cursor must not move")
}

func TestFileReader_CancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, path, "a\n")
	r := NewFileReader(0, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Read(ctx, path, 0)
	require.ErrorIs(t, res.Err, ErrSourceUnavailable)
	assert.Equal(t, int64(0), res.Cursor)
}

func TestFileReader_SourceBinding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, path, "hello\n")
	src := NewFileReader(0, logging.Discard()).Source(path)

	assert.Equal(t, path, src.ID())
	assert.Equal(t, KindFile, src.Kind())
	assert.Equal(t, []string{"hello"}, src.Read(context.Background(), 0).Lines)
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"\n", []string{""}},
		{"a", []string{"a"}},
		{"a\nb", []string{"a", "b"}},
		{"a\nb\n", []string{"a", "b"}},
		{"a\r\nb\r\n", []string{"a\r", "b\r"}},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, SplitLines([]byte(tc.in)), "input %q", tc.in)
	}
}
