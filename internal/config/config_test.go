package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoad_SingleDatasetFormat(t *testing.T) {
	content := `
server:
  port: 9000
data:
  store_path: "/data/legacy/mouse_brain.bgef"
cache:
  tile_size_mb: 256
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Data.DefaultDataset != "default" {
		t.Errorf("expected default dataset 'default', got %q", cfg.Data.DefaultDataset)
	}
	ds, ok := cfg.Data.Datasets["default"]
	if !ok {
		t.Fatal("expected 'default' dataset")
	}
	if ds.StorePath != "/data/legacy/mouse_brain.bgef" {
		t.Errorf("unexpected store_path: %s", ds.StorePath)
	}
	if ds.Name != "default" {
		t.Errorf("expected name to default to id, got %q", ds.Name)
	}
}

func TestLoad_MultiDatasetFormat(t *testing.T) {
	content := `
server:
  port: 8080
data:
  brain:
    store_path: "/data/brain.bgef"
    name: "Mouse brain E16.5"
  liver:
    store_path: "/data/liver.bgef"
`
	cfg := loadFromString(t, content)

	if len(cfg.Data.Datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(cfg.Data.Datasets))
	}

	// First dataset in YAML order should be default
	if cfg.Data.DefaultDataset != "brain" {
		t.Errorf("expected default dataset 'brain', got %q", cfg.Data.DefaultDataset)
	}

	brain := cfg.Data.Datasets["brain"]
	if brain.StorePath != "/data/brain.bgef" || brain.Name != "Mouse brain E16.5" {
		t.Errorf("unexpected brain dataset: %+v", brain)
	}
	liver := cfg.Data.Datasets["liver"]
	if liver.StorePath != "/data/liver.bgef" {
		t.Errorf("unexpected liver store_path: %s", liver.StorePath)
	}

	// Check order preserved
	ids := cfg.Data.DatasetIDs()
	if len(ids) != 2 || ids[0] != "brain" || ids[1] != "liver" {
		t.Errorf("unexpected dataset order: %v", ids)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
data:
  test:
    store_path: "/test/a.bgef"
convert:
  bins: [1, 50]
log:
  format: json
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Cache.TileSizeMB != 512 {
		t.Errorf("expected default cache size 512, got %d", cfg.Cache.TileSizeMB)
	}
	if cfg.Render.TileSize != 256 {
		t.Errorf("expected default tile size 256, got %d", cfg.Render.TileSize)
	}
	if !reflect.DeepEqual(cfg.Convert.Bins, []int{1, 50}) {
		t.Errorf("unexpected bins: %v", cfg.Convert.Bins)
	}
	if cfg.Convert.MaxDenseCells != 1<<30 || cfg.Convert.Omics != "Transcriptomics" {
		t.Errorf("convert defaults not applied: %+v", cfg.Convert)
	}
	if cfg.GeneMap.Prefix != "ENS" {
		t.Errorf("expected gene prefix ENS, got %q", cfg.GeneMap.Prefix)
	}
	if cfg.Jobs.MaxConcurrent != 1 || cfg.Jobs.RetentionDays != 7 {
		t.Errorf("jobs defaults not applied: %+v", cfg.Jobs)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
}

func TestLoad_NoDataSection(t *testing.T) {
	content := `
server:
  port: 8080
`
	cfg := loadFromString(t, content)

	if cfg.Data.DefaultDataset != "default" {
		t.Errorf("expected default dataset, got %q", cfg.Data.DefaultDataset)
	}
	if len(cfg.Data.Datasets) != 1 {
		t.Errorf("expected 1 default dataset, got %d", len(cfg.Data.Datasets))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should yield defaults, got %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Data.DefaultDataset != "default" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoad_BadData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("data: [1, 2]\n"), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for non-mapping data section")
	}
}

func TestDataConfig_AddDataset(t *testing.T) {
	var d DataConfig
	d.AddDataset("cli", DatasetConfig{StorePath: "/tmp/a.bgef"})
	d.AddDataset("other", DatasetConfig{StorePath: "/tmp/b.bgef"})
	if d.DefaultDataset != "cli" {
		t.Errorf("expected first added dataset as default, got %q", d.DefaultDataset)
	}
	if ids := d.DatasetIDs(); !reflect.DeepEqual(ids, []string{"cli", "other"}) {
		t.Errorf("unexpected ids: %v", ids)
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
