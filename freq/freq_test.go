package freq

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAddAndMerge(t *testing.T) {
	a := NewCounter()
	a.Add([]uint32{1, 2, 2, 3, 3, 3})
	b := NewCounter()
	b.Add([]uint32{3, 4})

	ab := NewCounter()
	ab.Merge(a)
	ab.Merge(b)
	ba := NewCounter()
	ba.Merge(b)
	ba.Merge(a)

	assert.Equal(t, ab, ba)
	assert.Equal(t, uint64(4), ab.Get(3))
	assert.Equal(t, uint64(0), ab.Get(99))
	assert.Equal(t, 4, ab.Len())
	assert.Equal(t, uint64(8), ab.Total())
}

func TestCounterMostCommon(t *testing.T) {
	c := NewCounter()
	c.Add([]uint32{7, 5, 5, 9, 9, 1, 1, 1})

	assert.Equal(t, []Entry{{1, 3}, {5, 2}, {9, 2}}, c.MostCommon(3))
	assert.Len(t, c.MostCommon(-1), 4)
	assert.Len(t, c.MostCommon(100), 4)
	assert.Empty(t, c.MostCommon(0))
}

func sampleTable() *Table {
	counts := NewCounter()
	counts.Add([]uint32{50256, 198, 198, 262, 262, 262})
	table := NewTable("wikitext103", "gpt2", counts, 3)
	table.Settings = map[string]string{"text_field": "text", "sanitize": "true"}
	return table
}

func TestTableSameSettings(t *testing.T) {
	table := sampleTable()
	assert.True(t, table.SameSettings(map[string]string{
		"sanitize": "true", "text_field": "text"}))
	assert.False(t, table.SameSettings(map[string]string{
		"sanitize": "false", "text_field": "text"}))
	assert.False(t, table.SameSettings(map[string]string{"sanitize": "true"}))
	assert.False(t, NewTable("d", "t", nil, 0).SameSettings(table.Settings))
}

func TestTableChecksum(t *testing.T) {
	table := sampleTable()
	require.NoError(t, table.Verify())
	assert.Len(t, table.Checksum, 64)
	assert.NotEmpty(t, table.RunID)

	table.Counts[262]++
	assert.ErrorIs(t, table.Verify(), ErrChecksumMismatch)
}

func TestSavePath(t *testing.T) {
	dir := t.TempDir()
	path, err := SavePath(dir, "openwebtext", "EleutherAI/gpt-neox-20b", "json")
	require.NoError(t, err)
	assert.Equal(t,
		filepath.Join(dir, "freqs", "openwebtext_EleutherAI--gpt-neox-20b.json"),
		path)
	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSaveLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.json")
	table := sampleTable()
	require.NoError(t, Save(path, table))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, table.Counts, loaded.Counts)
	assert.Equal(t, table.RunID, loaded.RunID)
	assert.Equal(t, table.Records, loaded.Records)
	assert.True(t, table.Created.Equal(loaded.Created))
	assert.Equal(t, table.Settings, loaded.Settings)
}

func TestLoadRejectsTamperedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.json")
	table := sampleTable()
	require.NoError(t, Save(path, table))

	// Edit a count but keep the stale checksum, as a hand edit would.
	table.Counts[198] = 1000
	table.Total = table.Counts.Total()
	require.NoError(t, Save(path, table))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestSaveLoadSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "freqs", "table.sqlite")
	table := sampleTable()
	require.NoError(t, SaveSQLite(ctx, path, table))

	loaded, err := LoadSQLite(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, table.Counts, loaded.Counts)
	assert.Equal(t, table.Dataset, loaded.Dataset)
	assert.Equal(t, table.Tokenizer, loaded.Tokenizer)
	assert.Equal(t, table.Total, loaded.Total)
	assert.Equal(t, table.Checksum, loaded.Checksum)
	assert.Equal(t, table.Settings, loaded.Settings)

	// Saving again replaces the previous contents.
	other := NewTable("wikitext103", "gpt2", Counter{1: 1}, 1)
	require.NoError(t, SaveSQLite(ctx, path, other))
	loaded, err = LoadSQLite(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, Counter{1: 1}, loaded.Counts)
	assert.Empty(t, loaded.Settings)
}

func TestLoadSQLiteMissingFile(t *testing.T) {
	_, err := LoadSQLite(context.Background(),
		filepath.Join(t.TempDir(), "missing.sqlite"))
	assert.Error(t, err)
}

func TestWriteTop(t *testing.T) {
	table := NewTable("corpus", "lengths",
		Counter{1: 3000, 2: 1000, 3: 1000}, 10)
	decode := func(ids []uint32) string {
		return strings.Repeat("x", int(ids[0]))
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTop(&buf, table, decode, 2))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "3,000")
	assert.Contains(t, lines[0], "60.00%")
	assert.Contains(t, lines[0], `"x"`)
	assert.Contains(t, lines[1], `"xx"`)
}
