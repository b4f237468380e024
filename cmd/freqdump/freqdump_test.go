package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/tokenfreq"
	"github.com/wbrown/tokenfreq/freq"
)

func TestDumpRaw(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	table := freq.NewTable("wikitext103", "gpt2",
		freq.Counter{262: 40, 198: 10, 13: 25}, 12)

	for _, ext := range []string{"json", "sqlite"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "table."+ext)
			require.NoError(t, tokenfreq.SaveTable(ctx, path, table))

			var buf bytes.Buffer
			require.NoError(t, dump(ctx, &buf,
				options{input: path, top: 2, raw: true}, logger))
			out := buf.String()
			assert.Contains(t, out, "dataset:   wikitext103")
			assert.Contains(t, out, "tokens:    75")
			lines := strings.Split(strings.TrimSpace(out), "\n")
			require.GreaterOrEqual(t, len(lines), 2)
			assert.Contains(t, lines[len(lines)-2], `"#262"`)
			assert.Contains(t, lines[len(lines)-1], `"#13"`)
		})
	}
}

func TestDumpErrors(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var buf bytes.Buffer

	assert.Error(t, dump(ctx, &buf, options{}, logger))
	assert.Error(t, dump(ctx, &buf, options{
		input: filepath.Join(t.TempDir(), "missing.json"), raw: true,
	}, logger))
}
