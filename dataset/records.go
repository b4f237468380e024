package dataset

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// RecordReader streams the text records of one shard.
type RecordReader interface {
	// Next returns the next record, or io.EOF once the shard is exhausted.
	Next() (string, error)
	// BytesRead returns the number of shard bytes consumed so far.
	BytesRead() int64
	Close() error
}

const readerBufSz = 8 * 1024 * 1024

type recordReader struct {
	name      string
	reader    *bufio.Reader
	closer    io.Closer
	format    Format
	textField string
	sanitize  bool
	bytesRead int64
	line      int
}

// NewRecordReader reads records of the given format from r. closer, when
// non-nil, is closed by Close.
func NewRecordReader(
	name string,
	r io.Reader,
	closer io.Closer,
	format Format,
	opts Options,
) RecordReader {
	return &recordReader{
		name:      name,
		reader:    bufio.NewReaderSize(r, readerBufSz),
		closer:    closer,
		format:    format,
		textField: opts.textField(),
		sanitize:  opts.Sanitize,
	}
}

func (r *recordReader) Next() (string, error) {
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", errors.Wrapf(err, "%s: reading line %d", r.name,
				r.line+1)
		}
		if len(line) == 0 && err == io.EOF {
			return "", io.EOF
		}
		r.bytesRead += int64(len(line))
		r.line++

		text := line
		if r.format == FormatJSONL {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			var extractErr error
			if text, extractErr = r.extract(trimmed); extractErr != nil {
				return "", extractErr
			}
		}
		if r.sanitize {
			text = SanitizeText(text)
		}
		return text, nil
	}
}

func (r *recordReader) extract(line string) (string, error) {
	var record map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return "", errors.Wrapf(err, "%s: line %d", r.name, r.line)
	}
	raw, ok := record[r.textField]
	if !ok {
		return "", errors.Errorf("%s: line %d: missing field %q", r.name,
			r.line, r.textField)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", errors.Wrapf(err, "%s: line %d: field %q", r.name,
			r.line, r.textField)
	}
	return text, nil
}

func (r *recordReader) BytesRead() int64 {
	return r.bytesRead
}

func (r *recordReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
