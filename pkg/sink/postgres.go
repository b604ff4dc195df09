package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const upsertChunkSize = 500

// PostgresMirror keeps a bina_listings table in sync with the final
// artifacts. It is optional; the files stay authoritative.
type PostgresMirror struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresMirror connects to databaseURL and verifies the connection.
func NewPostgresMirror(ctx context.Context, databaseURL string, logger zerolog.Logger) (*PostgresMirror, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}

	return &PostgresMirror{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (m *PostgresMirror) Close() {
	if m.pool != nil {
		m.pool.Close()
	}
}

// EnsureSchema creates the table and indexes if they do not exist.
func (m *PostgresMirror) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	sql := `
	CREATE TABLE IF NOT EXISTS bina_listings (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		price NUMERIC(14,2) NOT NULL,
		currency TEXT,
		area NUMERIC(10,2),
		area_units TEXT,
		floor INTEGER,
		floors INTEGER,
		rooms INTEGER,
		property_type TEXT NOT NULL,
		category_code TEXT,
		category_label TEXT,
		city_name TEXT,
		location_name TEXT,
		location_full_name TEXT,
		has_mortgage BOOLEAN NOT NULL,
		has_bill_of_sale BOOLEAN NOT NULL,
		has_repair BOOLEAN NOT NULL,
		agent_name TEXT,
		agent_kind TEXT NOT NULL,
		photos JSONB NOT NULL DEFAULT '[]',
		url TEXT,
		updated_at TEXT,
		scraped_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bina_listings_kind ON bina_listings(kind);
	CREATE INDEX IF NOT EXISTS idx_bina_listings_price ON bina_listings(price);
	CREATE INDEX IF NOT EXISTS idx_bina_listings_city ON bina_listings(city_name);
	`

	if _, err := m.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	return nil
}

const upsertSQL = `
	INSERT INTO bina_listings (
		id, kind, price, currency, area, area_units, floor, floors, rooms,
		property_type, category_code, category_label, city_name, location_name,
		location_full_name, has_mortgage, has_bill_of_sale, has_repair,
		agent_name, agent_kind, photos, url, updated_at, scraped_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	ON CONFLICT (id) DO UPDATE SET
		kind = EXCLUDED.kind,
		price = EXCLUDED.price,
		currency = EXCLUDED.currency,
		area = EXCLUDED.area,
		area_units = EXCLUDED.area_units,
		floor = EXCLUDED.floor,
		floors = EXCLUDED.floors,
		rooms = EXCLUDED.rooms,
		property_type = EXCLUDED.property_type,
		category_code = EXCLUDED.category_code,
		category_label = EXCLUDED.category_label,
		city_name = EXCLUDED.city_name,
		location_name = EXCLUDED.location_name,
		location_full_name = EXCLUDED.location_full_name,
		has_mortgage = EXCLUDED.has_mortgage,
		has_bill_of_sale = EXCLUDED.has_bill_of_sale,
		has_repair = EXCLUDED.has_repair,
		agent_name = EXCLUDED.agent_name,
		agent_kind = EXCLUDED.agent_kind,
		photos = EXCLUDED.photos,
		url = EXCLUDED.url,
		updated_at = EXCLUDED.updated_at,
		scraped_at = EXCLUDED.scraped_at;
	`

// Upsert writes records in batches. It returns the number of rows sent.
func (m *PostgresMirror) Upsert(ctx context.Context, records []listing.Listing) (int, error) {
	written := 0
	for start := 0; start < len(records); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(records))
		n, err := m.upsertChunk(ctx, records[start:end])
		written += n
		if err != nil {
			sinkWritesTotal.WithLabelValues("postgres", "error").Inc()
			return written, &PersistenceError{Format: "postgres", Path: "bina_listings", Err: err}
		}
	}
	sinkWritesTotal.WithLabelValues("postgres", "ok").Inc()

	m.logger.Info().Int("items", written).Msg("Listings mirrored to postgres")
	return written, nil
}

func (m *PostgresMirror) upsertChunk(ctx context.Context, records []listing.Listing) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	batch := &pgx.Batch{}
	for i := range records {
		l := &records[i]
		photos, err := json.Marshal(l.PhotoURLs())
		if err != nil {
			return 0, fmt.Errorf("encode photos of %s: %w", l.ID, err)
		}
		var code, label *string
		if l.Category != nil {
			c := string(l.Category.Code)
			code, label = &c, &l.Category.Label
		}

		batch.Queue(
			upsertSQL,
			l.ID,
			string(l.Kind),
			l.Price,
			l.Currency,
			l.Area,
			l.AreaUnits,
			l.Floor,
			l.Floors,
			l.Rooms,
			string(l.PropertyType),
			code,
			label,
			l.CityName,
			l.LocationName,
			l.LocationFullName,
			l.HasMortgage,
			l.HasBillOfSale,
			l.HasRepair,
			l.AgentName,
			string(l.AgentKind),
			string(photos),
			l.URL,
			l.UpdatedAt,
			l.ScrapedAt,
		)
	}

	results := m.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range records {
		if _, err := results.Exec(); err != nil {
			return i, fmt.Errorf("batch upsert failed at row %d: %w", i, err)
		}
	}

	return len(records), nil
}
