package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/wbrown/tokenfreq"
	"github.com/wbrown/tokenfreq/freq"
	"github.com/wbrown/tokenfreq/pkg/logging"
	"github.com/wbrown/tokenfreq/tokenize"
)

type options struct {
	input       string
	tokenizerId string
	top         int
	raw         bool
}

// rawIds renders token ids without a vocabulary.
func rawIds(ids []uint32) string {
	if len(ids) == 0 {
		return ""
	}
	return "#" + strconv.FormatUint(uint64(ids[0]), 10)
}

// dump loads the table at opts.input and writes its header and top tokens.
func dump(ctx context.Context, w io.Writer, opts options,
	logger *slog.Logger) error {
	if opts.input == "" {
		return errors.New("must provide --input")
	}
	table, err := tokenfreq.LoadTable(ctx, opts.input)
	if err != nil {
		return err
	}
	logger.Info("loaded table", "path", opts.input, "run_id", table.RunID,
		"created", humanize.Time(table.Created))

	decode := rawIds
	if !opts.raw {
		id := opts.tokenizerId
		if id == "" {
			id = table.Tokenizer
		}
		tok, err := tokenize.Load(id)
		if err != nil {
			return errors.Wrapf(err, "loading tokenizer %q, use --raw to "+
				"print ids only", id)
		}
		decode = tok.Decode
	}

	fmt.Fprintf(w, "dataset:   %s\ntokenizer: %s\nrecords:   %s\n"+
		"tokens:    %s\ndistinct:  %s\n\n", table.Dataset, table.Tokenizer,
		humanize.Comma(table.Records), humanize.Comma(int64(table.Total)),
		humanize.Comma(int64(table.Counts.Len())))
	return freq.WriteTop(w, table, decode, opts.top)
}

func main() {
	var opts options
	logLevel := pflag.String("log-level", "INFO",
		"log level [DEBUG, INFO, WARN, ERROR]")
	pflag.StringVar(&opts.input, "input", "",
		"frequency table to read (.json, .sqlite or .db)")
	pflag.StringVar(&opts.tokenizerId, "tokenizer", "",
		"tokenizer used to decode ids, defaults to the table's tokenizer")
	pflag.IntVar(&opts.top, "top", 50,
		"number of tokens to print, -1 for all")
	pflag.BoolVar(&opts.raw, "raw", false,
		"print token ids without decoding them")
	pflag.Parse()

	logger := logging.Setup(*logLevel, os.Stderr)
	if err := dump(context.Background(), os.Stdout, opts, logger); err != nil {
		pflag.Usage()
		logger.Error("freqdump failed", "error", err)
		os.Exit(1)
	}
}
