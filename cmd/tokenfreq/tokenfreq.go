package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/pflag"

	"github.com/wbrown/tokenfreq"
	"github.com/wbrown/tokenfreq/dispatch"
	"github.com/wbrown/tokenfreq/freq"
	"github.com/wbrown/tokenfreq/pkg/logging"
	"github.com/wbrown/tokenfreq/pkg/metrics"
	"github.com/wbrown/tokenfreq/tokenize"
)

// progressObserver advances a bar by one for every completed shard.
type progressObserver struct {
	bar *progressbar.ProgressBar
}

func (p *progressObserver) Submitted(int) {}

func (p *progressObserver) Completed(int, time.Duration, error) {
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

type flagValues struct {
	configPath  string
	tokenizerId string
	numWorkers  int
	workDir     string
	format      string
	textField   string
	sanitize    bool
	reorder     string
	cacheSize   int
	timeout     time.Duration
	force       bool
	top         int
	metricsFile string
	logLevel    string
	logFile     string
	noProgress  bool
}

func parseFlags(flags *pflag.FlagSet, args []string) (*flagValues, error) {
	defaults := tokenfreq.DefaultConfig()
	v := &flagValues{}
	flags.StringVar(&v.configPath, "config", "",
		"YAML config file, flags override its values")
	flags.StringVar(&v.tokenizerId, "tokenizer", defaults.Tokenizer,
		"tokenizer to use [gpt2, pile, clip, nerdstash, huggingface-id, "+
			"path to tokenizer.json]")
	flags.IntVar(&v.numWorkers, "num-workers", defaults.NumWorkers,
		"number of shards counted in parallel, capped at the shard count")
	flags.StringVar(&v.workDir, "work-dir", defaults.WorkDir,
		"directory under which freqs/ is written")
	flags.StringVar(&v.format, "format", defaults.Format,
		"output format [json, sqlite]")
	flags.StringVar(&v.textField, "text-field", defaults.TextField,
		"JSON field holding the text of .jsonl records")
	flags.BoolVar(&v.sanitize, "sanitize", defaults.Sanitize,
		"sanitize records of whitespace issues")
	flags.StringVar(&v.reorder, "reorder", defaults.Order,
		"shard order [path_ascending, path_descending, size_ascending, "+
			"size_descending, random]")
	flags.IntVar(&v.cacheSize, "cache-size", defaults.CacheSize,
		"number of short records whose tokens are cached, 0 disables")
	flags.DurationVar(&v.timeout, "timeout", defaults.Timeout,
		"overall deadline for counting, 0 for none")
	flags.BoolVar(&v.force, "force", defaults.Force,
		"recount even if the output is newer than the dataset")
	flags.IntVar(&v.top, "top", defaults.Top,
		"print the N most common tokens after counting")
	flags.StringVar(&v.metricsFile, "metrics-file", defaults.MetricsFile,
		"write Prometheus metrics to this file")
	flags.StringVar(&v.logLevel, "log-level", defaults.LogLevel,
		"log level [DEBUG, INFO, WARN, ERROR]")
	flags.StringVar(&v.logFile, "log-file", defaults.LogFile,
		"also write the log to this file, cleared on every run")
	flags.BoolVar(&v.noProgress, "no-progress", !defaults.Progress,
		"do not show a progress bar")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr,
			"usage: tokenfreq [flags] <dataset name | path | s3://bucket/prefix>\n")
		flags.PrintDefaults()
	}
	return v, flags.Parse(args)
}

// buildConfig loads the config file, if any, and applies only the flags
// that were set on the command line over it.
func buildConfig(flags *pflag.FlagSet, v *flagValues) (tokenfreq.Config, error) {
	cfg := tokenfreq.DefaultConfig()
	if v.configPath != "" {
		var err error
		if cfg, err = tokenfreq.LoadConfig(v.configPath); err != nil {
			return cfg, err
		}
	}
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "tokenizer":
			cfg.Tokenizer = v.tokenizerId
		case "num-workers":
			cfg.NumWorkers = v.numWorkers
		case "work-dir":
			cfg.WorkDir = v.workDir
		case "format":
			cfg.Format = v.format
		case "text-field":
			cfg.TextField = v.textField
		case "sanitize":
			cfg.Sanitize = v.sanitize
		case "reorder":
			cfg.Order = v.reorder
		case "cache-size":
			cfg.CacheSize = v.cacheSize
		case "timeout":
			cfg.Timeout = v.timeout
		case "force":
			cfg.Force = v.force
		case "top":
			cfg.Top = v.top
		case "metrics-file":
			cfg.MetricsFile = v.metricsFile
		case "log-level":
			cfg.LogLevel = v.logLevel
		case "log-file":
			cfg.LogFile = v.logFile
		case "no-progress":
			cfg.Progress = !v.noProgress
		}
	})
	if flags.NArg() > 0 {
		cfg.Dataset = flags.Arg(0)
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg tokenfreq.Config, logger *slog.Logger) error {
	m := metrics.New("tokenfreq")
	progress := &progressObserver{}
	job, err := tokenfreq.NewJob(ctx, cfg,
		tokenfreq.WithLogger(logger),
		tokenfreq.WithObserver(dispatch.Observers(m, progress)),
		tokenfreq.WithShardCallback(func(result tokenfreq.ShardResult) {
			m.ObserveShard(result.Records, int64(result.Tokens),
				result.BytesRead)
		}))
	if err != nil {
		return err
	}
	if cfg.Progress {
		progress.bar = progressbar.NewOptions(job.Dataset.NumShards(),
			progressbar.OptionSetDescription("counting shards"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(os.Stderr)
			}))
	}

	begin := time.Now()
	table, path, err := job.Execute(ctx)
	if err != nil {
		return err
	}
	duration := time.Since(begin).Seconds()
	logger.Info("counted tokens",
		"dataset", table.Dataset,
		"tokenizer", table.Tokenizer,
		"records", humanize.Comma(table.Records),
		"tokens", humanize.Comma(int64(table.Total)),
		"distinct", humanize.Comma(int64(table.Counts.Len())),
		"read", humanize.Bytes(uint64(job.Dataset.Size())),
		"seconds", fmt.Sprintf("%0.2f", duration),
		"path", path)

	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			return err
		}
	}
	if cfg.Top > 0 {
		tok, err := tokenize.Load(cfg.Tokenizer)
		if err != nil {
			return err
		}
		return freq.WriteTop(os.Stdout, table, tok.Decode, cfg.Top)
	}
	return nil
}

func main() {
	flags := pflag.NewFlagSet("tokenfreq", pflag.ExitOnError)
	v, _ := parseFlags(flags, os.Args[1:])
	cfg, err := buildConfig(flags, v)
	logger := logging.Setup(cfg.LogLevel, os.Stderr)
	if err != nil {
		flags.Usage()
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	if cfg.LogFile != "" {
		logFile, fileErr := logging.OpenLogFile(cfg.LogFile)
		if fileErr != nil {
			logger.Error("opening log file", "error", fileErr)
			os.Exit(2)
		}
		defer logFile.Close()
		logger = logging.Setup(cfg.LogLevel, io.MultiWriter(os.Stderr, logFile))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("tokenfreq failed", "error", err)
		stop()
		os.Exit(1)
	}
}
