// Package tokenfreq counts how often each token id of a tokenizer occurs in
// a text dataset. Shards of the dataset are counted in parallel by a
// saturating worker pool and the per-shard counts are merged into a single
// frequency table.
package tokenfreq

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/wbrown/tokenfreq/dataset"
	"github.com/wbrown/tokenfreq/dispatch"
	"github.com/wbrown/tokenfreq/freq"
	"github.com/wbrown/tokenfreq/pkg/logging"
	"github.com/wbrown/tokenfreq/tokenize"
)

// ShardResult is the outcome of counting one shard.
type ShardResult struct {
	Shard     string
	Counts    freq.Counter
	Records   int64
	Tokens    uint64
	BytesRead int64
	Elapsed   time.Duration
}

// CountShard
// Reads every record of shard, encodes it with tok, and counts the token ids.
func CountShard(
	ctx context.Context,
	shard dataset.Shard,
	tok tokenize.Tokenizer,
) (ShardResult, error) {
	begin := time.Now()
	result := ShardResult{Shard: shard.Name(), Counts: freq.NewCounter()}
	reader, err := shard.Open(ctx)
	if err != nil {
		return result, err
	}
	defer reader.Close()
	for {
		if err := ctx.Err(); err != nil {
			return result, errors.Wrapf(err, "counting %s", shard.Name())
		}
		text, err := reader.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return result, err
		}
		ids, err := tok.Encode(text)
		if err != nil {
			return result, errors.Wrapf(err, "%s: record %d", shard.Name(),
				result.Records+1)
		}
		result.Counts.Add(ids)
		result.Records++
		result.Tokens += uint64(len(ids))
	}
	result.BytesRead = reader.BytesRead()
	result.Elapsed = time.Since(begin)
	return result, nil
}

// Job counts token frequencies over one dataset with one tokenizer.
type Job struct {
	Config     Config
	Name       string
	Dataset    *dataset.Dataset
	tokenizers tokenize.Factory
	pool       *tokenize.Pool
	settings   map[string]string
	observer   dispatch.Observer
	onShard    func(ShardResult)
	s3         dataset.S3Client
	logger     *slog.Logger
}

// JobOption customises a Job.
type JobOption func(*Job)

// WithTokenizers replaces the tokenizer factory derived from the config.
func WithTokenizers(factory tokenize.Factory) JobOption {
	return func(j *Job) { j.tokenizers = factory }
}

// WithObserver receives dispatcher submission and completion events.
func WithObserver(observer dispatch.Observer) JobOption {
	return func(j *Job) { j.observer = observer }
}

// WithShardCallback is called with each counted shard. It is invoked from
// worker goroutines and must be safe for concurrent use.
func WithShardCallback(onShard func(ShardResult)) JobOption {
	return func(j *Job) { j.onShard = onShard }
}

// WithS3Client sets the client used for s3:// datasets.
func WithS3Client(client dataset.S3Client) JobOption {
	return func(j *Job) { j.s3 = client }
}

func WithLogger(logger *slog.Logger) JobOption {
	return func(j *Job) { j.logger = logger }
}

// NewJob validates cfg, resolves and opens the dataset, and prepares the
// tokenizer factory.
func NewJob(ctx context.Context, cfg Config, opts ...JobOption) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	job := &Job{Config: cfg}
	for _, opt := range opts {
		opt(job)
	}
	job.logger = logging.WithComponent(job.logger, "tokenfreq")

	name, dsCfg, err := cfg.ResolveDataset()
	if err != nil {
		return nil, err
	}
	job.Name = name
	job.Dataset, err = dataset.Open(ctx, dsCfg.URI, dataset.Options{
		TextField: dsCfg.TextField,
		Sanitize:  cfg.Sanitize,
		Order:     cfg.Order,
		S3:        job.s3,
	})
	if err != nil {
		return nil, err
	}
	job.logger.Info("loaded dataset", "dataset", name, "uri", dsCfg.URI,
		"shards", job.Dataset.NumShards(), "bytes", job.Dataset.Size())

	if job.tokenizers == nil {
		cache, cacheErr := tokenize.NewCache(cfg.CacheSize)
		if cacheErr != nil {
			return nil, cacheErr
		}
		if job.tokenizers, err = tokenize.NewFactory(cfg.Tokenizer,
			cache); err != nil {
			return nil, err
		}
		job.logger.Info("loaded tokenizer", "tokenizer", cfg.Tokenizer)
	}
	job.pool = tokenize.NewPool(job.NumWorkers(), job.tokenizers)
	job.settings = map[string]string{
		"uri":        dsCfg.URI,
		"text_field": dsCfg.TextField,
		"sanitize":   strconv.FormatBool(cfg.Sanitize),
	}
	return job, nil
}

// NumWorkers is the configured worker count capped at the number of shards.
func (j *Job) NumWorkers() int {
	return max(1, min(j.Config.NumWorkers, j.Dataset.NumShards()))
}

// Run counts every shard and merges the counts into a table. Any failed
// shard fails the whole run.
func (j *Job) Run(ctx context.Context) (*freq.Table, error) {
	numWorkers := j.NumWorkers()
	d, err := dispatch.New[int, ShardResult](
		numWorkers,
		dispatch.Range(j.Dataset.NumShards()),
		j.countShard,
		dispatch.WithTimeout(j.Config.Timeout),
		dispatch.WithLogger(j.logger),
		dispatch.WithObserver(j.observer),
	)
	if err != nil {
		return nil, err
	}
	j.logger.Info("counting", "dataset", j.Name, "workers", d.NumWorkers())
	results, err := d.Run(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "counting %s", j.Name)
	}
	j.logger.Debug("counted every shard", "tokenizer_loads", j.pool.Loads())

	total := freq.NewCounter()
	var records int64
	for idx := range results {
		total.Merge(results[idx].Counts)
		records += results[idx].Records
		results[idx].Counts = nil
	}
	table := freq.NewTable(j.Name, j.Config.Tokenizer, total, records)
	table.Settings = j.settings
	return table, nil
}

// TokenizerLoads returns how many tokenizer instances the job has created.
func (j *Job) TokenizerLoads() int64 {
	return j.pool.Loads()
}

func (j *Job) countShard(ctx context.Context, idx int) (ShardResult, error) {
	tok, err := j.pool.Get()
	if err != nil {
		return ShardResult{}, err
	}
	defer j.pool.Put(tok)
	shard := j.Dataset.Shard(idx)
	j.logger.Debug("counting shard", "shard", idx, "name", shard.Name())
	result, err := CountShard(ctx, shard, tok)
	if err != nil {
		return result, err
	}
	j.logger.Debug("counted shard", "shard", idx, "records", result.Records,
		"tokens", result.Tokens, "elapsed", result.Elapsed)
	if j.onShard != nil {
		j.onShard(result)
	}
	return result, nil
}

// OutputPath returns where the table of this job is saved.
func (j *Job) OutputPath() (string, error) {
	ext := "json"
	if j.Config.Format == "sqlite" {
		ext = "sqlite"
	}
	return freq.SavePath(j.Config.WorkDir, j.Name, j.Config.Tokenizer, ext)
}

// Fresh reports whether path exists and is newer than every shard.
func (j *Job) Fresh(path string) (bool, error) {
	stat, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, errors.WithStack(err)
	}
	return j.Dataset.NewestModTime().Before(stat.ModTime()), nil
}

// Execute
// Runs the job and saves the table to OutputPath. Unless Force is set, an
// existing output newer than every shard and counted with the same reader
// settings is loaded instead of recounting.
func (j *Job) Execute(ctx context.Context) (*freq.Table, string, error) {
	path, err := j.OutputPath()
	if err != nil {
		return nil, "", err
	}
	if !j.Config.Force {
		fresh, freshErr := j.Fresh(path)
		if freshErr != nil {
			return nil, path, freshErr
		}
		if fresh {
			table, loadErr := LoadTable(ctx, path)
			if loadErr != nil {
				return nil, path, loadErr
			}
			if table.SameSettings(j.settings) {
				j.logger.Info("output is newer than every shard, not "+
					"recounting; use --force to recount", "path", path)
				return table, path, nil
			}
			j.logger.Info("output was counted with other settings, recounting",
				"path", path, "settings", table.Settings)
		}
	}
	table, err := j.Run(ctx)
	if err != nil {
		return nil, path, err
	}
	j.logger.Info("saving", "path", path)
	return table, path, SaveTable(ctx, path, table)
}

// SaveTable writes table as SQLite when path ends in .sqlite or .db, and as
// JSON otherwise.
func SaveTable(ctx context.Context, path string, table *freq.Table) error {
	if isSQLite(path) {
		return freq.SaveSQLite(ctx, path, table)
	}
	return freq.Save(path, table)
}

// LoadTable reads a table saved by SaveTable.
func LoadTable(ctx context.Context, path string) (*freq.Table, error) {
	if isSQLite(path) {
		return freq.LoadSQLite(ctx, path)
	}
	return freq.Load(path)
}

func isSQLite(path string) bool {
	switch filepath.Ext(path) {
	case ".sqlite", ".db":
		return true
	}
	return false
}
