// Package dataset splits a text dataset into independently readable shards
// and streams text records out of each shard.
package dataset

import (
	"context"
	"math/rand"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var ErrNoShards = errors.New("dataset: no .txt or .jsonl shards found")

// Format is the record layout of a shard.
type Format int

const (
	// FormatText yields one record per line.
	FormatText Format = iota
	// FormatJSONL yields one field of each JSON object, one object per line.
	FormatJSONL
)

// FormatOf returns the format implied by a file name, and false when the
// extension is not a supported shard type.
func FormatOf(name string) (Format, bool) {
	switch strings.ToLower(path.Ext(name)) {
	case ".txt":
		return FormatText, true
	case ".jsonl":
		return FormatJSONL, true
	}
	return FormatText, false
}

// Options control how shards are discovered and read.
type Options struct {
	// TextField is the JSON field holding record text, "text" when empty.
	TextField string
	// Sanitize normalises whitespace in every record.
	Sanitize bool
	// Order is one of path_ascending (default), path_descending,
	// size_ascending, size_descending or random.
	Order string
	// S3 overrides the client used for s3:// datasets.
	S3 S3Client
}

func (o Options) textField() string {
	if o.TextField == "" {
		return "text"
	}
	return o.TextField
}

// Shard is one independently readable part of a dataset.
type Shard interface {
	Name() string
	Size() int64
	ModTime() time.Time
	Open(ctx context.Context) (RecordReader, error)
}

// Dataset is an ordered list of shards.
type Dataset struct {
	URI    string
	shards []Shard
}

// Open
// Resolves uri to a Dataset. `s3://bucket/prefix` lists objects under the
// prefix; anything else is treated as a local file or directory, searched
// recursively for `.txt` and `.jsonl` files.
func Open(ctx context.Context, uri string, opts Options) (*Dataset, error) {
	var shards []Shard
	var err error
	if strings.HasPrefix(uri, "s3://") {
		u, parseErr := url.Parse(uri)
		if parseErr != nil {
			return nil, errors.Wrapf(parseErr, "parsing %s", uri)
		}
		client := opts.S3
		if client == nil {
			if client, err = NewS3Client(); err != nil {
				return nil, err
			}
		}
		shards, err = listS3Shards(ctx, client, u.Host,
			strings.TrimPrefix(u.Path, "/"), opts)
	} else {
		shards, err = globShards(uri, opts)
	}
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, errors.Wrap(ErrNoShards, uri)
	}
	if err := SortShards(shards, opts.Order); err != nil {
		return nil, err
	}
	return &Dataset{URI: uri, shards: shards}, nil
}

func (d *Dataset) NumShards() int {
	return len(d.shards)
}

func (d *Dataset) Shard(idx int) Shard {
	return d.shards[idx]
}

func (d *Dataset) Shards() []Shard {
	return d.shards
}

// Size returns the total size in bytes of every shard.
func (d *Dataset) Size() (size int64) {
	for _, shard := range d.shards {
		size += shard.Size()
	}
	return size
}

// NewestModTime returns the most recent shard modification time.
func (d *Dataset) NewestModTime() (newest time.Time) {
	for _, shard := range d.shards {
		if shard.ModTime().After(newest) {
			newest = shard.ModTime()
		}
	}
	return newest
}

// SortShards orders shards in place according to spec.
func SortShards(shards []Shard, spec string) error {
	switch spec {
	case "", "path_ascending":
		sort.SliceStable(shards, func(i, j int) bool {
			return shards[i].Name() < shards[j].Name()
		})
	case "path_descending":
		sort.SliceStable(shards, func(i, j int) bool {
			return shards[i].Name() > shards[j].Name()
		})
	case "size_ascending":
		sort.SliceStable(shards, func(i, j int) bool {
			return shards[i].Size() < shards[j].Size()
		})
	case "size_descending":
		sort.SliceStable(shards, func(i, j int) bool {
			return shards[i].Size() > shards[j].Size()
		})
	case "random":
		rand.Shuffle(len(shards), func(i, j int) {
			shards[i], shards[j] = shards[j], shards[i]
		})
	default:
		return errors.Errorf("invalid sort spec: %s", spec)
	}
	return nil
}
