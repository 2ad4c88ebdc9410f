package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/zaebee/aura/internal/logger"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database holding items and locked deals.
type Store struct {
	sql       *sql.DB
	vectorDim int
}

// Item is a catalog entry. Meta carries free-form attributes such as
// internal_cost, occupancy, and value_add_inventory.
type Item struct {
	ID         string
	Name       string
	BasePrice  float64
	FloorPrice float64
	Active     bool
	Meta       map[string]interface{}
	Embedding  []float32
}

// SearchHit is one vector-search result, best matches first.
type SearchHit struct {
	Item  Item
	Score float64 // cosine similarity in [-1, 1]
}

// Open opens (or creates) the SQLite database at url and runs migrations.
func Open(url string, vectorDim int) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", url+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{sql: sqlDB, vectorDim: vectorDim}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", url))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sql.Close()
}

// Health executes SELECT 1 so readiness probes see real store availability.
func (s *Store) Health(ctx context.Context) error {
	var one int
	if err := s.sql.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("store health: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	version := 0
	// Try to read current version
	s.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS items (
				id          TEXT PRIMARY KEY,
				name        TEXT NOT NULL,
				base_price  REAL NOT NULL,
				floor_price REAL NOT NULL,
				active      INTEGER NOT NULL DEFAULT 1,
				meta        TEXT NOT NULL DEFAULT '{}',
				embedding   TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_items_active ON items(active);

			CREATE TABLE IF NOT EXISTS locked_deals (
				id                TEXT PRIMARY KEY,
				item_id           TEXT NOT NULL,
				item_name         TEXT NOT NULL,
				final_price       REAL NOT NULL,
				currency          TEXT NOT NULL,
				crypto_amount     REAL NOT NULL,
				payment_memo      TEXT NOT NULL UNIQUE,
				secret_ciphertext TEXT NOT NULL,
				status            TEXT NOT NULL DEFAULT 'PENDING',
				buyer_did         TEXT,
				tx_hash           TEXT,
				block             INTEGER,
				from_address      TEXT,
				created_at        TEXT NOT NULL,
				expires_at        TEXT NOT NULL,
				paid_at           TEXT,
				updated_at        TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_deals_status ON locked_deals(status);
			CREATE INDEX IF NOT EXISTS idx_deals_expires ON locked_deals(expires_at);
			CREATE INDEX IF NOT EXISTS idx_deals_item ON locked_deals(item_id);
			CREATE INDEX IF NOT EXISTS idx_deals_buyer ON locked_deals(buyer_did);

			INSERT INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}
	return nil
}

// UpsertItem inserts or replaces a catalog item. Item writes happen
// out-of-band (seeding); negotiation only reads.
func (s *Store) UpsertItem(ctx context.Context, it Item) error {
	metaJSON, err := json.Marshal(it.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	var embJSON interface{}
	if len(it.Embedding) > 0 {
		b, err := json.Marshal(it.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		embJSON = string(b)
	}
	active := 0
	if it.Active {
		active = 1
	}
	_, err = s.sql.ExecContext(ctx, `
		INSERT INTO items (id, name, base_price, floor_price, active, meta, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			base_price = excluded.base_price,
			floor_price = excluded.floor_price,
			active = excluded.active,
			meta = excluded.meta,
			embedding = excluded.embedding
	`, it.ID, it.Name, it.BasePrice, it.FloorPrice, active, string(metaJSON), embJSON)
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", it.ID, err)
	}
	return nil
}

// GetItem returns an item by id, or ErrNotFound.
func (s *Store) GetItem(ctx context.Context, id string) (*Item, error) {
	row := s.sql.QueryRowContext(ctx, `
		SELECT id, name, base_price, floor_price, active, meta, embedding
		FROM items WHERE id = ?
	`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	return it, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*Item, error) {
	var it Item
	var active int
	var metaJSON string
	var embJSON sql.NullString
	if err := row.Scan(&it.ID, &it.Name, &it.BasePrice, &it.FloorPrice, &active, &metaJSON, &embJSON); err != nil {
		return nil, err
	}
	it.Active = active != 0
	if err := json.Unmarshal([]byte(metaJSON), &it.Meta); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	if embJSON.Valid && embJSON.String != "" {
		if err := json.Unmarshal([]byte(embJSON.String), &it.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}
	return &it, nil
}

// SearchByVector returns active items ranked by cosine similarity against
// the query vector. Items without an embedding are skipped. Results below
// minSimilarity are filtered out when minSimilarity > 0.
func (s *Store) SearchByVector(ctx context.Context, query []float32, limit int, minSimilarity float64) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.sql.QueryContext(ctx, `
		SELECT id, name, base_price, floor_price, active, meta, embedding
		FROM items WHERE active = 1 AND embedding IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("search scan: %w", err)
		}
		if len(it.Embedding) != len(query) {
			continue
		}
		score := cosineSimilarity(query, it.Embedding)
		if minSimilarity > 0 && score < minSimilarity {
			continue
		}
		hits = append(hits, SearchHit{Item: *it, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search rows: %w", err)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// nowUTC is the single timestamp format used in the deals table.
func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
