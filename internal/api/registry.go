package api

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/atlasmap-sc/geftools/internal/bgef"
	"github.com/atlasmap-sc/geftools/internal/cache"
	"github.com/atlasmap-sc/geftools/internal/render"
	"github.com/atlasmap-sc/geftools/internal/service"
)

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	Bins []int  `json:"bins"`
}

// RegistryConfig contains dataset registry configuration.
type RegistryConfig struct {
	DefaultDataset string
	Title          string
	Cache          *cache.Manager
	Renderer       *render.TileRenderer
	MaxTileCells   int
}

// DatasetRegistry holds dataset services for all served stores. Datasets can
// be added while serving, e.g. when a conversion job finishes.
type DatasetRegistry struct {
	cfg RegistryConfig

	mu             sync.RWMutex
	services       map[string]*service.DatasetService
	defaultDataset string
	datasetOrder   []string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry(cfg RegistryConfig) *DatasetRegistry {
	return &DatasetRegistry{
		cfg:            cfg,
		services:       make(map[string]*service.DatasetService),
		defaultDataset: cfg.DefaultDataset,
	}
}

// Open opens the store at path and serves it as id, replacing any dataset
// already registered under that id.
func (r *DatasetRegistry) Open(id, name, path string) error {
	store, err := bgef.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open dataset %s at %s: %w", id, path, err)
	}
	svc, err := service.NewDatasetService(service.DatasetServiceConfig{
		DatasetID:    id,
		Name:         name,
		Store:        store,
		Cache:        r.cfg.Cache,
		Renderer:     r.cfg.Renderer,
		MaxTileCells: r.cfg.MaxTileCells,
	})
	if err != nil {
		store.Close()
		return err
	}
	r.Register(id, svc)
	return nil
}

// Register adds a dataset service.
func (r *DatasetRegistry) Register(id string, svc *service.DatasetService) {
	r.mu.Lock()
	old, exists := r.services[id]
	r.services[id] = svc
	if !exists {
		r.datasetOrder = append(r.datasetOrder, id)
	}
	if r.defaultDataset == "" {
		r.defaultDataset = id
	}
	r.mu.Unlock()

	if exists && old != svc {
		if r.cfg.Cache != nil {
			r.cfg.Cache.PurgeDataset(id)
		}
		old.Store().Close()
		logrus.WithField("dataset", id).Info("Dataset replaced")
	}
}

// Get returns the service for a dataset, or nil if not found.
func (r *DatasetRegistry) Get(id string) *service.DatasetService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[id]
}

// Default returns the default dataset's service.
func (r *DatasetRegistry) Default() *service.DatasetService {
	return r.Get(r.DefaultDatasetID())
}

// DefaultDatasetID returns the default dataset ID.
func (r *DatasetRegistry) DefaultDatasetID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultDataset
}

// DatasetIDs returns all dataset IDs in registration order.
func (r *DatasetRegistry) DatasetIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.datasetOrder...)
}

// Title returns the configured site title.
func (r *DatasetRegistry) Title() string {
	if r.cfg.Title != "" {
		return r.cfg.Title
	}
	return "geftools"
}

// Datasets returns dataset info for all registered datasets.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	ids := r.DatasetIDs()
	infos := make([]DatasetInfo, 0, len(ids))
	for _, id := range ids {
		svc := r.Get(id)
		if svc == nil {
			continue
		}
		infos = append(infos, DatasetInfo{
			ID:   id,
			Name: svc.Name(),
			Path: svc.Store().Path(),
			Bins: svc.Store().Bins(),
		})
	}
	return infos
}

// Close closes every store.
func (r *DatasetRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, svc := range r.services {
		svc.Store().Close()
	}
	r.services = make(map[string]*service.DatasetService)
	r.datasetOrder = nil
}
