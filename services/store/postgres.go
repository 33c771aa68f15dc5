package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"enjoytravel/traveldealworker/internal/crawler"
	"enjoytravel/traveldealworker/pkg/errors"
)

// PostgresStorage persists listings to PostgreSQL.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage opens a connection, runs schema migrations and
// returns a ready-to-use PostgresStorage.
func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.NewPersistence("postgres", "failed to open connection", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, errors.NewPersistence("postgres", "ping failed after retries", err)
	}

	ps := &PostgresStorage{db: db}
	if err := ps.migrate(); err != nil {
		return nil, errors.NewPersistence("postgres", "migration failed", err)
	}

	return ps, nil
}

func (ps *PostgresStorage) migrate() error {
	_, err := ps.db.Exec(`
		CREATE TABLE IF NOT EXISTS listings (
			id                    TEXT PRIMARY KEY,
			title                 TEXT NOT NULL,
			slug                  TEXT NOT NULL,
			description           TEXT NOT NULL DEFAULT '',
			price_text            TEXT NOT NULL DEFAULT '',
			price_amount          NUMERIC(10,2),
			original_price_text   TEXT NOT NULL DEFAULT '',
			original_price_amount NUMERIC(10,2),
			discount              TEXT NOT NULL DEFAULT '',
			image                 TEXT NOT NULL DEFAULT '',
			category              TEXT NOT NULL DEFAULT '',
			location              TEXT NOT NULL DEFAULT '',
			rating                NUMERIC(4,2),
			link                  TEXT NOT NULL DEFAULT '',
			duration              TEXT NOT NULL DEFAULT '',
			age_restriction       TEXT NOT NULL DEFAULT '',
			cancellation          TEXT NOT NULL DEFAULT '',
			valid_from            TEXT NOT NULL DEFAULT '',
			valid_to              TEXT NOT NULL DEFAULT '',
			last_seen_at          TIMESTAMPTZ NOT NULL,
			is_active             BOOLEAN NOT NULL DEFAULT TRUE,
			raw                   JSONB,
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listings_active   ON listings(is_active);
		CREATE INDEX IF NOT EXISTS idx_listings_slug     ON listings(slug);
		CREATE INDEX IF NOT EXISTS idx_listings_price    ON listings(price_amount);
		CREATE INDEX IF NOT EXISTS idx_listings_rating   ON listings(rating);
		CREATE INDEX IF NOT EXISTS idx_listings_category ON listings(category);
	`)
	return err
}

// FindActive returns active listings matching the query along with the
// total match count and the most recent update time.
func (ps *PostgresStorage) FindActive(q Query) ([]*crawler.ListingRecord, int, time.Time, error) {
	where := []string{"is_active = TRUE"}
	var args []interface{}

	if q.Search != "" {
		args = append(args, "%"+q.Search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(title ILIKE $%d OR description ILIKE $%d OR category ILIKE $%d OR location ILIKE $%d)",
			n, n, n, n))
	}
	if q.Category != "" {
		args = append(args, q.Category)
		where = append(where, fmt.Sprintf("category ILIKE $%d", len(args)))
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	var maxUpdated sql.NullTime
	err := ps.db.QueryRow(
		"SELECT COUNT(*), MAX(updated_at) FROM listings WHERE "+whereClause, args...,
	).Scan(&total, &maxUpdated)
	if err != nil {
		return nil, 0, time.Time{}, errors.NewPersistence("postgres", "count query failed", err)
	}

	limitArgs := append(append([]interface{}{}, args...), q.Limit, q.Offset())
	query := fmt.Sprintf(`
		SELECT raw FROM listings
		WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d
	`, whereClause, buildOrderBy(q), len(args)+1, len(args)+2)

	rows, err := ps.db.Query(query, limitArgs...)
	if err != nil {
		return nil, 0, time.Time{}, errors.NewPersistence("postgres", "select query failed", err)
	}
	defer rows.Close()

	var records []*crawler.ListingRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, 0, time.Time{}, errors.NewPersistence("postgres", "row scan failed", err)
		}
		var rec crawler.ListingRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, 0, time.Time{}, errors.NewPersistence("postgres", "raw payload decode failed", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, time.Time{}, errors.NewPersistence("postgres", "row iteration failed", err)
	}

	var updated time.Time
	if maxUpdated.Valid {
		updated = maxUpdated.Time
	}
	return records, total, updated, nil
}

// FindBySlug returns one active listing by slug, nil when absent.
func (ps *PostgresStorage) FindBySlug(slug string) (*crawler.ListingRecord, error) {
	var raw []byte
	err := ps.db.QueryRow(
		"SELECT raw FROM listings WHERE is_active = TRUE AND (slug = $1 OR id = $1)", slug,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewPersistence("postgres", "slug lookup failed", err)
	}

	var rec crawler.ListingRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.NewPersistence("postgres", "raw payload decode failed", err)
	}
	return &rec, nil
}

// Upsert inserts or updates a listing and marks it active.
func (ps *PostgresStorage) Upsert(rec *crawler.ListingRecord, seenAt time.Time) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.NewPersistence(rec.ID, "raw payload encode failed", err)
	}

	_, err = ps.db.Exec(`
		INSERT INTO listings (
			id, title, slug, description,
			price_text, price_amount, original_price_text, original_price_amount, discount,
			image, category, location, rating, link,
			duration, age_restriction, cancellation, valid_from, valid_to,
			last_seen_at, is_active, raw, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, TRUE, $21, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			slug = EXCLUDED.slug,
			description = EXCLUDED.description,
			price_text = EXCLUDED.price_text,
			price_amount = EXCLUDED.price_amount,
			original_price_text = EXCLUDED.original_price_text,
			original_price_amount = EXCLUDED.original_price_amount,
			discount = EXCLUDED.discount,
			image = EXCLUDED.image,
			category = EXCLUDED.category,
			location = EXCLUDED.location,
			rating = EXCLUDED.rating,
			link = EXCLUDED.link,
			duration = EXCLUDED.duration,
			age_restriction = EXCLUDED.age_restriction,
			cancellation = EXCLUDED.cancellation,
			valid_from = EXCLUDED.valid_from,
			valid_to = EXCLUDED.valid_to,
			last_seen_at = EXCLUDED.last_seen_at,
			is_active = TRUE,
			raw = EXCLUDED.raw,
			updated_at = NOW()
	`,
		rec.ID, rec.Title, rec.ID, rec.Description,
		rec.Price, nullFloat(rec.PriceAmount), rec.OriginalPrice, nullFloat(rec.OriginalAmount), rec.Discount,
		rec.Image, rec.Category, rec.Location, nullFloat(rec.Rating), rec.Link,
		rec.Duration, rec.AgeRestriction, rec.Cancellation, rec.ValidFrom, rec.ValidTo,
		seenAt, raw,
	)
	if err != nil {
		return errors.NewPersistence(rec.ID, "upsert failed", err)
	}
	return nil
}

// MarkInactiveExcept deactivates every listing whose ID is not in ids.
func (ps *PostgresStorage) MarkInactiveExcept(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := ps.db.Exec(
		"UPDATE listings SET is_active = FALSE, updated_at = NOW() WHERE NOT (id = ANY($1))",
		pq.Array(ids),
	)
	if err != nil {
		return errors.NewPersistence("postgres", "mark inactive failed", err)
	}
	return nil
}

// Close closes the database connection.
func (ps *PostgresStorage) Close() error {
	return ps.db.Close()
}

func buildOrderBy(q Query) string {
	dir := "ASC"
	if q.SortOrder == "desc" {
		dir = "DESC"
	}

	switch q.SortBy {
	case "price":
		return fmt.Sprintf("price_amount %s NULLS LAST, price_text %s, title ASC", dir, dir)
	case "rating":
		return fmt.Sprintf("rating %s NULLS LAST, title ASC", dir)
	case "date":
		return fmt.Sprintf("last_seen_at %s, title ASC", dir)
	case "title":
		return fmt.Sprintf("title %s", dir)
	default:
		return "last_seen_at DESC, title ASC"
	}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
