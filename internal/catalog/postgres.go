package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store against Postgres with the pgvector
// extension. Similarity ranking runs in the database so full embedding
// vectors never cross the wire.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// SearchSimilar ranks sellable, embedded products for one tenant by cosine
// similarity under the given price bounds.
func (s *PostgresStore) SearchSimilar(ctx context.Context, tenantID string, query []float32, filters SearchFilters, limit int) ([]SimilarEntry, error) {
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}
	if limit <= 0 {
		limit = 10
	}

	// <=> is pgvector cosine distance; id is the tiebreak so equal-distance
	// rows keep catalog order.
	q := `
		SELECT id, name, COALESCE(description, ''), COALESCE(policy, ''),
			unit_price, stock_quantity, COALESCE(unit, ''), COALESCE(image_url, ''),
			1 - (embedding <=> $1::vector) AS similarity
		FROM products
		WHERE organization_id = $2
			AND sellable = TRUE
			AND embedding IS NOT NULL
			AND ($3::float8 IS NULL OR unit_price >= $3)
			AND ($4::float8 IS NULL OR unit_price <= $4)
		ORDER BY embedding <=> $1::vector, id
		LIMIT $5
	`

	rows, err := s.db.QueryContext(ctx, q,
		vectorLiteral(query), tenantID, filters.PriceMin, filters.PriceMax, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	defer rows.Close()

	var results []SimilarEntry
	for rows.Next() {
		var se SimilarEntry
		var id string
		var similarity float64
		if err := rows.Scan(
			&id, &se.Name, &se.Description, &se.Policy,
			&se.UnitPrice, &se.StockQuantity, &se.Unit, &se.ImageURL,
			&similarity,
		); err != nil {
			return nil, fmt.Errorf("scan similarity row: %w", err)
		}
		se.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse product id %q: %w", id, err)
		}
		se.TenantID = tenantID
		se.Sellable = true
		se.Similarity = &similarity
		results = append(results, se)
	}

	return results, rows.Err()
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// vectorLiteral renders a float32 slice as a pgvector input literal.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

var _ Store = (*PostgresStore)(nil)
