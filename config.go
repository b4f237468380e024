package tokenfreq

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrUnknownDataset = errors.New("tokenfreq: unknown dataset")

// DatasetConfig describes a named dataset.
type DatasetConfig struct {
	URI       string `yaml:"uri"`
	TextField string `yaml:"text_field,omitempty"`
}

// Config
// Everything a counting run needs. Zero values are filled from
// DefaultConfig when loaded from YAML.
type Config struct {
	Dataset     string                   `yaml:"dataset"`
	Tokenizer   string                   `yaml:"tokenizer"`
	NumWorkers  int                      `yaml:"num_workers"`
	WorkDir     string                   `yaml:"work_dir"`
	Format      string                   `yaml:"format"`
	TextField   string                   `yaml:"text_field"`
	Sanitize    bool                     `yaml:"sanitize"`
	Order       string                   `yaml:"order"`
	CacheSize   int                      `yaml:"cache_size"`
	Timeout     time.Duration            `yaml:"timeout"`
	Force       bool                     `yaml:"force"`
	Top         int                      `yaml:"top"`
	MetricsFile string                   `yaml:"metrics_file"`
	LogLevel    string                   `yaml:"log_level"`
	LogFile     string                   `yaml:"log_file"`
	Progress    bool                     `yaml:"progress"`
	Datasets    map[string]DatasetConfig `yaml:"datasets"`
}

// DefaultConfig
// Returns the default configuration: gpt2, a single worker, JSON output in
// the current directory, and the two well-known dataset names mapped to
// local directories.
func DefaultConfig() Config {
	return Config{
		Tokenizer:  "gpt2",
		NumWorkers: 1,
		WorkDir:    ".",
		Format:     "json",
		TextField:  "text",
		CacheSize:  65536,
		LogLevel:   "INFO",
		Progress:   true,
		Datasets: map[string]DatasetConfig{
			"wikitext103": {URI: "data/wikitext-103-raw-v1"},
			"openwebtext": {URI: "data/openwebtext"},
		},
	}
}

// LoadConfig reads a YAML file over the defaults. Named datasets in the file
// are added to, or replace, the default ones.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

// Validate checks the fields that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	if c.Dataset == "" {
		return errors.New("config: dataset is required")
	}
	if c.Tokenizer == "" {
		return errors.New("config: tokenizer is required")
	}
	if c.NumWorkers < 1 {
		return errors.Errorf("config: num_workers must be positive, got %d",
			c.NumWorkers)
	}
	if c.Format != "json" && c.Format != "sqlite" {
		return errors.Errorf("config: format must be json or sqlite, got %q",
			c.Format)
	}
	if c.CacheSize < 0 {
		return errors.Errorf("config: cache_size must not be negative, got %d",
			c.CacheSize)
	}
	if c.Timeout < 0 {
		return errors.Errorf("config: timeout must not be negative, got %s",
			c.Timeout)
	}
	return nil
}

// ResolveDataset
// Maps the configured dataset to a name, used in the output path, and a
// location. A configured name wins; otherwise the dataset must be an
// `s3://` URI or an existing path, named after its last element.
func (c Config) ResolveDataset() (string, DatasetConfig, error) {
	if named, ok := c.Datasets[c.Dataset]; ok {
		if named.TextField == "" {
			named.TextField = c.TextField
		}
		return c.Dataset, named, nil
	}
	resolved := DatasetConfig{URI: c.Dataset, TextField: c.TextField}
	if strings.HasPrefix(c.Dataset, "s3://") {
		return datasetName(strings.TrimSuffix(c.Dataset, "/")), resolved, nil
	}
	if _, err := os.Stat(c.Dataset); err != nil {
		return "", resolved, errors.Wrap(ErrUnknownDataset, c.Dataset)
	}
	return datasetName(c.Dataset), resolved, nil
}

func datasetName(location string) string {
	base := filepath.Base(filepath.Clean(location))
	return strings.TrimSuffix(base, filepath.Ext(base))
}
