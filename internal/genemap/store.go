// Package genemap maintains a gene symbol to stable gene id table in SQLite,
// populated from GTF annotations.
package genemap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

// DefaultPrefix restricts imports to Ensembl gene ids.
const DefaultPrefix = "ENS"

const defaultCacheSize = 4096

// Store is a SQLite-backed symbol lookup with an in-memory LRU in front.
// Symbols are matched case-insensitively.
type Store struct {
	db    *sql.DB
	cache *lru.Cache[string, string]
	mu    sync.Mutex
}

// Open opens (or creates) the table at dbPath.
func Open(dbPath string, cacheSize int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create lookup cache: %w", err)
	}

	s := &Store{db: db, cache: cache}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS gene_map (
		symbol TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		gene_id TEXT NOT NULL
	);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Replace swaps the table contents for genes in a single transaction. For a
// symbol listed more than once, the first id wins.
func (s *Store) Replace(ctx context.Context, genes []Gene) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM gene_map`); err != nil {
		return 0, fmt.Errorf("failed to clear gene_map: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO gene_map (symbol, name, gene_id) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, g := range genes {
		res, err := stmt.ExecContext(ctx, strings.ToLower(g.Name), g.Name, g.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to insert %s: %w", g.Name, err)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	s.cache.Purge()
	return n, nil
}

// ImportGTF reads gene records from the GTF at path and replaces the table.
func (s *Store) ImportGTF(ctx context.Context, path, prefix string) (int, error) {
	genes, err := ReadGTFFile(path, prefix)
	if err != nil {
		return 0, err
	}
	return s.Replace(ctx, genes)
}

// Query returns the id stored for symbol.
func (s *Store) Query(ctx context.Context, symbol string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT gene_id FROM gene_map WHERE symbol = ?`, strings.ToLower(symbol)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query %s: %w", symbol, err)
	}
	return id, true, nil
}

// Lookup resolves a symbol through the cache. Misses are cached too; query
// errors count as misses.
func (s *Store) Lookup(symbol string) (string, bool) {
	key := strings.ToLower(symbol)
	if id, ok := s.cache.Get(key); ok {
		return id, id != ""
	}
	id, ok, err := s.Query(context.Background(), symbol)
	if err != nil {
		return "", false
	}
	s.cache.Add(key, id)
	return id, ok
}

// Count returns the number of symbols in the table.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gene_map`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count gene_map: %w", err)
	}
	return n, nil
}
