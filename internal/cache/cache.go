// Package cache provides caching for rendered tiles and store query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	TileCacheSizeMB int
	TileTTL         time.Duration
	QueryCacheSize  int
}

// Manager manages tile and query caches.
type Manager struct {
	tileCache  *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TileTTL <= 0 {
		cfg.TileTTL = 10 * time.Minute
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 1000
	}

	tileCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.TileTTL,
		CleanWindow:        cfg.TileTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       100 * 1024, // 100KB per tile
		HardMaxCacheSize:   cfg.TileCacheSizeMB,
		Verbose:            false,
	}

	tileCache, err := bigcache.New(context.Background(), tileCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		tileCache.Close()
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		tileCache:  tileCache,
		queryCache: queryCache,
	}, nil
}

// GetTile retrieves a tile from cache.
func (m *Manager) GetTile(key string) ([]byte, bool) {
	data, err := m.tileCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetTile stores a tile in cache.
func (m *Manager) SetTile(key string, data []byte) error {
	return m.tileCache.Set(key, data)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// PurgeDataset drops every cached query result that belongs to dataset.
// Tiles age out through the TTL.
func (m *Manager) PurgeDataset(dataset string) int {
	prefix := dataset + "|"
	n := 0
	for _, k := range m.queryCache.Keys() {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			m.queryCache.Remove(k)
			n++
		}
	}
	return n
}

// LayerTileKey generates a cache key for a whole-expression layer tile.
func LayerTileKey(dataset string, bin int, layer string, z, x, y int, colormap string) string {
	return fmt.Sprintf("%s|layer:%d:%s:%d/%d/%d:%s", dataset, bin, layer, z, x, y, colormap)
}

// GeneTileKey generates a cache key for a per-gene expression tile.
func GeneTileKey(dataset string, bin int, gene string, z, x, y int, colormap string) string {
	return fmt.Sprintf("%s|gene:%d:%s:%d/%d/%d:%s", dataset, bin, gene, z, x, y, colormap)
}

// QueryKey generates a cache key for a query result. Parameters are hashed
// in key order so equal parameter sets map to the same key.
func QueryKey(dataset, kind string, params map[string]interface{}) string {
	base := dataset + "|" + kind
	if len(params) == 0 {
		return base
	}

	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, k := range names {
		fmt.Fprintf(h, "%s=%v;", k, params[k])
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"tile_cache_len":  m.tileCache.Len(),
		"tile_cache_cap":  m.tileCache.Capacity(),
		"query_cache_len": m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.tileCache.Close()
}
