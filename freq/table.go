package freq

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

var ErrChecksumMismatch = errors.New("freq: checksum mismatch")

// Table is a Counter together with the provenance of the counts.
type Table struct {
	Dataset   string    `json:"dataset"`
	Tokenizer string    `json:"tokenizer"`
	RunID     string    `json:"run_id"`
	Created   time.Time `json:"created"`
	Records   int64     `json:"records"`
	Total     uint64    `json:"total"`
	Checksum  string    `json:"checksum"`
	Counts    Counter   `json:"counts"`

	// Settings records the reader options the counts depend on.
	Settings map[string]string `json:"settings,omitempty"`
}

// SameSettings reports whether the table was counted with settings.
func (t *Table) SameSettings(settings map[string]string) bool {
	if len(t.Settings) != len(settings) {
		return false
	}
	for key, value := range settings {
		if stored, ok := t.Settings[key]; !ok || stored != value {
			return false
		}
	}
	return true
}

// NewTable wraps counts in a Table stamped with a fresh run id and checksum.
func NewTable(dataset, tokenizer string, counts Counter, records int64) *Table {
	if counts == nil {
		counts = NewCounter()
	}
	table := &Table{
		Dataset:   dataset,
		Tokenizer: tokenizer,
		RunID:     uuid.NewString(),
		Created:   time.Now().UTC(),
		Records:   records,
		Total:     counts.Total(),
		Counts:    counts,
	}
	table.Checksum = table.ComputeChecksum()
	return table
}

// ComputeChecksum hashes the counts with BLAKE3. Entries are hashed in
// ascending token id order as little-endian uint32 id, uint64 count pairs.
func (t *Table) ComputeChecksum() string {
	hasher := blake3.New()
	var buf [12]byte
	for _, entry := range t.Counts.Entries() {
		binary.LittleEndian.PutUint32(buf[:4], entry.Token)
		binary.LittleEndian.PutUint64(buf[4:], entry.Count)
		_, _ = hasher.Write(buf[:])
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// Verify checks the stored checksum and total against the counts.
func (t *Table) Verify() error {
	if actual := t.ComputeChecksum(); actual != t.Checksum {
		return errors.Wrapf(ErrChecksumMismatch, "expected %s, got %s",
			t.Checksum, actual)
	}
	if total := t.Counts.Total(); total != t.Total {
		return errors.Wrapf(ErrChecksumMismatch,
			"recorded total %d does not match counted total %d",
			t.Total, total)
	}
	return nil
}

// SavePath
// Returns `<workDir>/freqs/<dataset>_<tokenizer>.<ext>`, creating the parent
// directory. Path separators in names are replaced with `--`, so Hugging Face
// ids such as `EleutherAI/gpt-neox-20b` stay a single file name.
func SavePath(workDir, dataset, tokenizer, ext string) (string, error) {
	clean := func(name string) string {
		name = strings.ReplaceAll(name, "/", "--")
		return strings.ReplaceAll(name, string(filepath.Separator), "--")
	}
	dir := filepath.Join(workDir, "freqs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "creating %s", dir)
	}
	name := clean(dataset) + "_" + clean(tokenizer) + "." +
		strings.TrimPrefix(ext, ".")
	return filepath.Join(dir, name), nil
}

// Save writes the table as JSON. The file is written to a temporary path
// first and renamed into place.
func Save(path string, table *Table) error {
	if table.Checksum == "" {
		table.Checksum = table.ComputeChecksum()
	}
	data, err := json.Marshal(table)
	if err != nil {
		return errors.Wrap(err, "encoding frequency table")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "renaming %s", tmp)
	}
	return nil
}

// Load reads a JSON table written by Save and verifies its checksum.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	table := &Table{}
	if err := json.Unmarshal(data, table); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	if table.Counts == nil {
		table.Counts = NewCounter()
	}
	if err := table.Verify(); err != nil {
		return nil, errors.Wrapf(err, "verifying %s", path)
	}
	return table, nil
}
