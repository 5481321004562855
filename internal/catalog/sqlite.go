package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cwf-platform/shop-assistant/internal/embedding"
)

// SQLiteStore implements Store for development. SQLite has no vector type,
// so embeddings are stored as JSON and ranked in-process; the scalar filters
// still run in SQL.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path         string
	MaxOpenConns int
}

// NewSQLiteStore opens the database and creates the products table if absent.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)

	schema := `
		CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			policy TEXT,
			unit_price REAL NOT NULL DEFAULT 0,
			stock_quantity INTEGER NOT NULL DEFAULT 0,
			unit TEXT,
			image_url TEXT,
			sellable INTEGER NOT NULL DEFAULT 1,
			embedding TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_products_org ON products(organization_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Insert adds one catalog entry. Used by seeding and tests.
func (s *SQLiteStore) Insert(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	var emb interface{}
	if e.Embedding != nil {
		data, err := json.Marshal(e.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		emb = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, organization_id, name, description, policy,
			unit_price, stock_quantity, unit, image_url, sellable, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID.String(), e.TenantID, e.Name, e.Description, e.Policy,
		e.UnitPrice, e.StockQuantity, e.Unit, e.ImageURL, e.Sellable, emb)
	return err
}

// SearchSimilar filters in SQL and ranks by cosine similarity in-process.
func (s *SQLiteStore) SearchSimilar(ctx context.Context, tenantID string, query []float32, filters SearchFilters, limit int) ([]SimilarEntry, error) {
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}
	if limit <= 0 {
		limit = 10
	}

	q := `
		SELECT id, name, COALESCE(description, ''), COALESCE(policy, ''),
			unit_price, stock_quantity, COALESCE(unit, ''), COALESCE(image_url, ''),
			embedding
		FROM products
		WHERE organization_id = ?
			AND sellable = 1
			AND embedding IS NOT NULL
			AND (? IS NULL OR unit_price >= ?)
			AND (? IS NULL OR unit_price <= ?)
		ORDER BY rowid
	`

	rows, err := s.db.QueryContext(ctx, q,
		tenantID, filters.PriceMin, filters.PriceMin, filters.PriceMax, filters.PriceMax)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	defer rows.Close()

	var results []SimilarEntry
	for rows.Next() {
		var se SimilarEntry
		var id, emb string
		if err := rows.Scan(
			&id, &se.Name, &se.Description, &se.Policy,
			&se.UnitPrice, &se.StockQuantity, &se.Unit, &se.ImageURL, &emb,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		se.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse product id %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(emb), &se.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", id, err)
		}
		se.TenantID = tenantID
		se.Sellable = true
		similarity := float64(1 - embedding.CosineDistance(query, se.Embedding))
		se.Similarity = &similarity
		results = append(results, se)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Stable sort keeps catalog order for equal similarities.
	sort.SliceStable(results, func(i, j int) bool {
		return *results[i].Similarity > *results[j].Similarity
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
