package cache

import (
	"testing"
	"time"
)

func TestQueryKey(t *testing.T) {
	base := "brain|genes"

	t.Run("nilParams", func(t *testing.T) {
		got := QueryKey("brain", "genes", nil)
		if got != base {
			t.Fatalf("expected %q, got %q", base, got)
		}
	})

	t.Run("stableOrder", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			key1 := QueryKey("brain", "genes", map[string]interface{}{"bin": 50, "offset": 0, "limit": 100})
			key2 := QueryKey("brain", "genes", map[string]interface{}{"limit": 100, "bin": 50, "offset": 0})
			if key1 != key2 {
				t.Fatalf("expected stable key, got %q vs %q", key1, key2)
			}
		}
	})

	t.Run("paramsMatter", func(t *testing.T) {
		key1 := QueryKey("brain", "genes", map[string]interface{}{"bin": 50})
		key2 := QueryKey("brain", "genes", map[string]interface{}{"bin": 100})
		if key1 == key2 || key1 == base {
			t.Fatalf("expected distinct keys, got %q and %q", key1, key2)
		}
	})
}

func TestTileKeys(t *testing.T) {
	if got, want := LayerTileKey("brain", 50, "mid", 2, 1, 3, "viridis"), "brain|layer:50:mid:2/1/3:viridis"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if GeneTileKey("brain", 50, "Actb", 2, 1, 3, "viridis") == GeneTileKey("brain", 50, "Actb", 2, 1, 3, "magma") {
		t.Fatalf("colormap must be part of the gene tile key")
	}
}

func TestManager(t *testing.T) {
	m, err := NewManager(Config{TileCacheSizeMB: 8, TileTTL: time.Minute, QueryCacheSize: 4})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if _, ok := m.GetTile("missing"); ok {
		t.Fatalf("expected miss")
	}
	if err := m.SetTile("t", []byte{1, 2, 3}); err != nil {
		t.Fatalf("SetTile: %v", err)
	}
	if data, ok := m.GetTile("t"); !ok || len(data) != 3 {
		t.Fatalf("expected cached tile, got %v %v", data, ok)
	}

	m.SetQuery(QueryKey("brain", "stats", nil), []byte("a"))
	m.SetQuery(QueryKey("brain", "genes", map[string]interface{}{"bin": 1}), []byte("b"))
	m.SetQuery(QueryKey("liver", "stats", nil), []byte("c"))
	if n := m.PurgeDataset("brain"); n != 2 {
		t.Fatalf("expected 2 purged entries, got %d", n)
	}
	if _, ok := m.GetQuery(QueryKey("liver", "stats", nil)); !ok {
		t.Fatalf("other datasets must survive a purge")
	}
}
