package dataset

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"github.com/yargevad/filepathx"
)

type localShard struct {
	path    string
	size    int64
	modTime time.Time
	format  Format
	opts    Options
}

// NewLocalShard stats path and returns it as a shard.
func NewLocalShard(path string, opts Options) (Shard, error) {
	format, ok := FormatOf(path)
	if !ok {
		return nil, errors.Errorf("%s is not a .txt or .jsonl file", path)
	}
	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &localShard{
		path:    path,
		size:    stat.Size(),
		modTime: stat.ModTime(),
		format:  format,
		opts:    opts,
	}, nil
}

// globShards
// Given a file, returns it as the only shard. Given a directory, recursively
// finds all `.txt` and `.jsonl` files.
func globShards(root string, opts Options) ([]Shard, error) {
	stat, err := os.Stat(root)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !stat.IsDir() {
		shard, shardErr := NewLocalShard(root, opts)
		if shardErr != nil {
			return nil, shardErr
		}
		return []Shard{shard}, nil
	}
	var paths []string
	for _, pattern := range []string{"/**/*.txt", "/**/*.jsonl"} {
		matches, globErr := filepathx.Glob(filepath.Clean(root) + pattern)
		if globErr != nil {
			return nil, errors.Wrapf(globErr, "globbing %s", root)
		}
		paths = append(paths, matches...)
	}
	shards := make([]Shard, 0, len(paths))
	for _, path := range paths {
		shard, shardErr := NewLocalShard(path, opts)
		if shardErr != nil {
			return nil, shardErr
		}
		shards = append(shards, shard)
	}
	return shards, nil
}

func (s *localShard) Name() string       { return s.path }
func (s *localShard) Size() int64        { return s.size }
func (s *localShard) ModTime() time.Time { return s.modTime }

// Open maps the file read-only. Empty files cannot be mapped and are read
// as an empty shard.
func (s *localShard) Open(ctx context.Context) (RecordReader, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.WithStack(err)
	}
	if stat.Size() == 0 {
		return NewRecordReader(s.path, bytes.NewReader(nil), file,
			s.format, s.opts), nil
	}
	mapped, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "mapping %s", s.path)
	}
	closer := &mappedFile{file: file, mapped: mapped}
	return NewRecordReader(s.path, bytes.NewReader(mapped), closer,
		s.format, s.opts), nil
}

type mappedFile struct {
	file   *os.File
	mapped mmap.MMap
}

func (m *mappedFile) Close() error {
	unmapErr := m.mapped.Unmap()
	closeErr := m.file.Close()
	if unmapErr != nil {
		return errors.Wrap(unmapErr, "unmapping")
	}
	return errors.WithStack(closeErr)
}
