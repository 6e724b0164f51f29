// Package config handles configuration loading for geftools.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the geftools configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Convert ConvertConfig `yaml:"convert"`
	GeneMap GeneMapConfig `yaml:"genemap"`
	Cache   CacheConfig   `yaml:"cache"`
	Render  RenderConfig  `yaml:"render"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int      `yaml:"port"`
	CORSOrigins  []string `yaml:"cors_origins"`
	Title        string   `yaml:"title"`
	MaxTileCells int      `yaml:"max_tile_cells"` // dense cells one tile may read
	RequestLog   bool     `yaml:"request_log"`
}

// DatasetConfig points at one finished bGEF store.
type DatasetConfig struct {
	StorePath string `yaml:"store_path"`
	Name      string `yaml:"name"`
}

// DataConfig lists the stores served over HTTP. In YAML it is either a
// single dataset (store_path at the top level, served as "default") or a
// mapping of dataset id to dataset, kept in file order.
type DataConfig struct {
	Datasets       map[string]DatasetConfig
	DefaultDataset string
	order          []string
}

// DatasetIDs returns dataset ids in configuration order.
func (d DataConfig) DatasetIDs() []string {
	return append([]string(nil), d.order...)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data: expected a mapping, got %v", node.Tag)
	}
	d.Datasets = make(map[string]DatasetConfig)
	d.order = nil

	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "store_path" && node.Content[i+1].Kind == yaml.ScalarNode {
			var ds DatasetConfig
			if err := node.Decode(&ds); err != nil {
				return err
			}
			d.add("default", ds)
			d.DefaultDataset = "default"
			return nil
		}
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		id := node.Content[i].Value
		var ds DatasetConfig
		if err := node.Content[i+1].Decode(&ds); err != nil {
			return fmt.Errorf("data.%s: %w", id, err)
		}
		d.add(id, ds)
	}
	if len(d.order) > 0 {
		d.DefaultDataset = d.order[0]
	}
	return nil
}

func (d *DataConfig) add(id string, ds DatasetConfig) {
	if d.Datasets == nil {
		d.Datasets = make(map[string]DatasetConfig)
	}
	if _, ok := d.Datasets[id]; !ok {
		d.order = append(d.order, id)
	}
	if ds.Name == "" {
		ds.Name = id
	}
	d.Datasets[id] = ds
}

// AddDataset appends a dataset, as used for stores named on the command line.
func (d *DataConfig) AddDataset(id string, ds DatasetConfig) {
	d.add(id, ds)
	if d.DefaultDataset == "" {
		d.DefaultDataset = id
	}
}

// ConvertConfig contains GEM conversion settings.
type ConvertConfig struct {
	Bins          []int  `yaml:"bins"`
	BatchSize     int    `yaml:"batch_size"`
	Region        string `yaml:"region"`
	MaxDenseCells int64  `yaml:"max_dense_cells"`
	ProgressEvery uint64 `yaml:"progress_every"`
	Resolution    int    `yaml:"resolution"`
	Omics         string `yaml:"omics"`
	UseGeneMap    bool   `yaml:"use_gene_map"`
	ChunkSize1D   int    `yaml:"chunk_size_1d"`
	ChunkSize2D   int    `yaml:"chunk_size_2d"`
}

// GeneMapConfig locates the gene symbol table.
type GeneMapConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	CacheSize  int    `yaml:"cache_size"`
	Prefix     string `yaml:"prefix"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	TileSizeMB     int `yaml:"tile_size_mb"`
	TileTTLMinutes int `yaml:"tile_ttl_minutes"`
	QueryCacheSize int `yaml:"query_cache_size"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	TileSize        int    `yaml:"tile_size"`
	DefaultColormap string `yaml:"default_colormap"`
	DefaultLayer    string `yaml:"default_layer"`
}

// JobsConfig contains conversion job queue settings.
type JobsConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	SQLitePath    string `yaml:"sqlite_path"`
	RetentionDays int    `yaml:"retention_days"`
	InputDir      string `yaml:"input_dir"`
	OutputDir     string `yaml:"output_dir"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Convert: ConvertConfig{
			Bins:          []int{1},
			BatchSize:     1 << 16,
			MaxDenseCells: 1 << 30,
			ProgressEvery: 5_000_000,
			Resolution:    1,
			Omics:         "Transcriptomics",
		},
		GeneMap: GeneMapConfig{
			SQLitePath: "./data/gene_map.db",
			CacheSize:  4096,
			Prefix:     "ENS",
		},
		Cache: CacheConfig{
			TileSizeMB:     512,
			TileTTLMinutes: 10,
			QueryCacheSize: 1000,
		},
		Render: RenderConfig{
			TileSize:        256,
			DefaultColormap: "viridis",
			DefaultLayer:    "mid",
		},
		Jobs: JobsConfig{
			MaxConcurrent: 1,
			SQLitePath:    "./data/jobs.db",
			RetentionDays: 7,
			InputDir:      "./data/gem",
			OutputDir:     "./data/stores",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
	cfg.Data.AddDataset("default", DatasetConfig{StorePath: "./data/stores/default.bgef"})
	return cfg
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if len(cfg.Data.Datasets) == 0 {
		cfg.Data = defaults.Data
	}

	if len(cfg.Convert.Bins) == 0 {
		cfg.Convert.Bins = defaults.Convert.Bins
	}
	if cfg.Convert.BatchSize == 0 {
		cfg.Convert.BatchSize = defaults.Convert.BatchSize
	}
	if cfg.Convert.MaxDenseCells == 0 {
		cfg.Convert.MaxDenseCells = defaults.Convert.MaxDenseCells
	}
	if cfg.Convert.ProgressEvery == 0 {
		cfg.Convert.ProgressEvery = defaults.Convert.ProgressEvery
	}
	if cfg.Convert.Resolution == 0 {
		cfg.Convert.Resolution = defaults.Convert.Resolution
	}
	if cfg.Convert.Omics == "" {
		cfg.Convert.Omics = defaults.Convert.Omics
	}

	if cfg.GeneMap.SQLitePath == "" {
		cfg.GeneMap.SQLitePath = defaults.GeneMap.SQLitePath
	}
	if cfg.GeneMap.CacheSize == 0 {
		cfg.GeneMap.CacheSize = defaults.GeneMap.CacheSize
	}
	if cfg.GeneMap.Prefix == "" {
		cfg.GeneMap.Prefix = defaults.GeneMap.Prefix
	}

	if cfg.Cache.TileSizeMB == 0 {
		cfg.Cache.TileSizeMB = defaults.Cache.TileSizeMB
	}
	if cfg.Cache.TileTTLMinutes == 0 {
		cfg.Cache.TileTTLMinutes = defaults.Cache.TileTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Render.TileSize == 0 {
		cfg.Render.TileSize = defaults.Render.TileSize
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Render.DefaultLayer == "" {
		cfg.Render.DefaultLayer = defaults.Render.DefaultLayer
	}

	if cfg.Jobs.MaxConcurrent == 0 {
		cfg.Jobs.MaxConcurrent = defaults.Jobs.MaxConcurrent
	}
	if cfg.Jobs.SQLitePath == "" {
		cfg.Jobs.SQLitePath = defaults.Jobs.SQLitePath
	}
	if cfg.Jobs.RetentionDays == 0 {
		cfg.Jobs.RetentionDays = defaults.Jobs.RetentionDays
	}
	if cfg.Jobs.InputDir == "" {
		cfg.Jobs.InputDir = defaults.Jobs.InputDir
	}
	if cfg.Jobs.OutputDir == "" {
		cfg.Jobs.OutputDir = defaults.Jobs.OutputDir
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}
