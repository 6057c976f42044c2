package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/martyniukyurii/KovchegBackend/models"
)

// PostgresStore persists canonical listings and the property catalog.
// It implements both ListingStore and Catalog so that promotion can run
// in a single SQL transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema
// migrations, and returns a ready-to-use PostgresStore.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := &PostgresStore{db: db}
	if err := ps.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return ps, nil
}

func (ps *PostgresStore) migrate() error {
	_, err := ps.db.Exec(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS parsed_listings (
			id                    UUID PRIMARY KEY,
			title                 TEXT          NOT NULL DEFAULT '',
			description           TEXT          NOT NULL DEFAULT '',
			price_amount          NUMERIC(14,2) NOT NULL DEFAULT 0,
			price_currency        VARCHAR(8)    NOT NULL DEFAULT '',
			rent_price            JSONB,
			property_type         VARCHAR(50)   NOT NULL DEFAULT '',
			address               TEXT          NOT NULL DEFAULT '',
			city                  TEXT          NOT NULL DEFAULT '',
			region                TEXT          NOT NULL DEFAULT '',
			postal_code           TEXT          NOT NULL DEFAULT '',
			country               TEXT          NOT NULL DEFAULT '',
			lat                   DOUBLE PRECISION,
			lon                   DOUBLE PRECISION,
			features              JSONB         NOT NULL DEFAULT '{}',
			media                 JSONB         NOT NULL DEFAULT '{}',
			contact_info          JSONB         NOT NULL DEFAULT '{}',
			state                 VARCHAR(16)   NOT NULL DEFAULT 'new',
			missed_checks         INT           NOT NULL DEFAULT 0,
			parsed_at             TIMESTAMPTZ   NOT NULL,
			last_checked          TIMESTAMPTZ   NOT NULL,
			is_active             BOOLEAN       NOT NULL DEFAULT TRUE,
			is_verified           BOOLEAN       NOT NULL DEFAULT FALSE,
			needs_review          BOOLEAN       NOT NULL DEFAULT FALSE,
			imported_to_properties BOOLEAN      NOT NULL DEFAULT FALSE,
			property_id           UUID,
			address_hash          BIGINT        NOT NULL DEFAULT 0,
			phone_fingerprint     VARCHAR(32)   NOT NULL DEFAULT '',
			price_bucket          INT           NOT NULL DEFAULT 0,
			area_bucket           INT           NOT NULL DEFAULT 0,
			content_hash          BIGINT        NOT NULL DEFAULT 0,
			embedding             VECTOR(1536),
			raw_data              JSONB
		);

		CREATE TABLE IF NOT EXISTS listing_sources (
			platform   VARCHAR(50) NOT NULL,
			source_id  TEXT        NOT NULL,
			listing_id UUID        NOT NULL REFERENCES parsed_listings(id) ON DELETE CASCADE,
			PRIMARY KEY (platform, source_id)
		);

		CREATE TABLE IF NOT EXISTS properties (
			id                UUID PRIMARY KEY,
			parsed_listing_id UUID          NOT NULL,
			title             TEXT          NOT NULL DEFAULT '',
			description       TEXT          NOT NULL DEFAULT '',
			property_type     VARCHAR(50)   NOT NULL DEFAULT '',
			price_amount      NUMERIC(14,2) NOT NULL DEFAULT 0,
			price_currency    VARCHAR(8)    NOT NULL DEFAULT '',
			location          JSONB         NOT NULL DEFAULT '{}',
			features          JSONB         NOT NULL DEFAULT '{}',
			photos            JSONB         NOT NULL DEFAULT '[]',
			is_active         BOOLEAN       NOT NULL DEFAULT TRUE,
			created_at        TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listings_address_hash ON parsed_listings(address_hash);
		CREATE INDEX IF NOT EXISTS idx_listings_phone_fp     ON parsed_listings(phone_fingerprint);
		CREATE INDEX IF NOT EXISTS idx_listings_city         ON parsed_listings(city);
		CREATE INDEX IF NOT EXISTS idx_listings_active       ON parsed_listings(is_active);
		CREATE INDEX IF NOT EXISTS idx_listings_last_checked ON parsed_listings(last_checked);
		CREATE INDEX IF NOT EXISTS idx_sources_listing       ON listing_sources(listing_id);
		CREATE INDEX IF NOT EXISTS idx_properties_listing    ON properties(parsed_listing_id);

		CREATE INDEX IF NOT EXISTS idx_listings_embedding ON parsed_listings
			USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
	`)
	return err
}

const listingColumns = `
	id, title, description, price_amount, price_currency, rent_price,
	property_type, address, city, region, postal_code, country, lat, lon,
	features, media, contact_info, state, missed_checks, parsed_at,
	last_checked, is_active, is_verified, needs_review,
	imported_to_properties, property_id, address_hash, phone_fingerprint,
	price_bucket, area_bucket, content_hash, embedding, raw_data`

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (ps *PostgresStore) listingArgs(l *models.CanonicalListing) ([]interface{}, error) {
	features, err := json.Marshal(l.Features)
	if err != nil {
		return nil, err
	}
	media, err := json.Marshal(l.Media)
	if err != nil {
		return nil, err
	}
	contact, err := json.Marshal(l.ContactInfo)
	if err != nil {
		return nil, err
	}
	var rent interface{}
	if l.RentPrice != nil {
		rent, err = json.Marshal(l.RentPrice)
		if err != nil {
			return nil, err
		}
	}
	var raw interface{}
	if l.RawData != nil {
		raw, err = json.Marshal(l.RawData)
		if err != nil {
			return nil, err
		}
	}
	var lat, lon interface{}
	if c := l.Location.Coordinates; c != nil {
		lat, lon = c.Lat, c.Lon
	}
	var emb interface{}
	if len(l.Embedding) > 0 {
		emb = pgvector.NewVector(l.Embedding)
	}
	var propertyID interface{}
	if l.PropertyID != "" {
		propertyID = l.PropertyID
	}

	return []interface{}{
		l.ID, l.Title, l.Description, l.Price.Amount, l.Price.Currency, rent,
		l.PropertyType, l.Location.Address, l.Location.City, l.Location.Region,
		l.Location.PostalCode, l.Location.Country, lat, lon,
		features, media, contact, l.State, l.MissedChecks, l.ParsedAt,
		l.LastChecked, l.IsActive, l.IsVerified, l.NeedsReview,
		l.ImportedToProperties, propertyID, int64(l.AddressHash), l.PhoneFingerprint,
		l.PriceBucket, l.AreaBucket, int64(l.ContentHash), emb, raw,
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (*models.CanonicalListing, error) {
	l := &models.CanonicalListing{}
	var (
		rent, features, media, contact, raw []byte
		lat, lon                            sql.NullFloat64
		propertyID                          sql.NullString
		addressHash, contentHash            int64
		emb                                 pgvector.Vector
		embValid                            bool
	)
	embNull := nullVector{v: &emb, valid: &embValid}

	err := row.Scan(
		&l.ID, &l.Title, &l.Description, &l.Price.Amount, &l.Price.Currency, &rent,
		&l.PropertyType, &l.Location.Address, &l.Location.City, &l.Location.Region,
		&l.Location.PostalCode, &l.Location.Country, &lat, &lon,
		&features, &media, &contact, &l.State, &l.MissedChecks, &l.ParsedAt,
		&l.LastChecked, &l.IsActive, &l.IsVerified, &l.NeedsReview,
		&l.ImportedToProperties, &propertyID, &addressHash, &l.PhoneFingerprint,
		&l.PriceBucket, &l.AreaBucket, &contentHash, &embNull, &raw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres: scan listing: %w", err)
	}

	if lat.Valid && lon.Valid {
		l.Location.Coordinates = &models.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
	}
	if propertyID.Valid {
		l.PropertyID = propertyID.String
	}
	l.AddressHash = uint64(addressHash)
	l.ContentHash = uint64(contentHash)
	if embValid {
		l.Embedding = emb.Slice()
	}
	if len(rent) > 0 {
		var rp models.RentPrice
		if err := json.Unmarshal(rent, &rp); err == nil {
			l.RentPrice = &rp
		}
	}
	if len(features) > 0 {
		_ = json.Unmarshal(features, &l.Features)
	}
	if len(media) > 0 {
		_ = json.Unmarshal(media, &l.Media)
	}
	if len(contact) > 0 {
		_ = json.Unmarshal(contact, &l.ContactInfo)
	}
	if len(raw) > 0 {
		var rr models.RawRecord
		if err := json.Unmarshal(raw, &rr); err == nil {
			l.RawData = &rr
		}
	}
	return l, nil
}

// nullVector scans a possibly-NULL vector column.
type nullVector struct {
	v     *pgvector.Vector
	valid *bool
}

func (n *nullVector) Scan(src interface{}) error {
	if src == nil {
		*n.valid = false
		return nil
	}
	*n.valid = true
	return n.v.Scan(src)
}

// Insert writes a new listing plus its source aliases. A duplicate
// (platform, source id) alias surfaces as ErrDuplicateKey.
func (ps *PostgresStore) Insert(ctx context.Context, l *models.CanonicalListing) error {
	args, err := ps.listingArgs(l)
	if err != nil {
		return fmt.Errorf("postgres: marshal listing: %w", err)
	}

	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO parsed_listings (`+listingColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,
		        $18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33)
	`, args...); err != nil {
		return fmt.Errorf("postgres: insert listing: %w", err)
	}

	for _, ref := range l.SourceRefs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO listing_sources (platform, source_id, listing_id) VALUES ($1,$2,$3)
		`, ref.Platform, ref.SourceID, l.ID); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, ref.Platform, ref.SourceID)
			}
			return fmt.Errorf("postgres: insert source ref: %w", err)
		}
	}

	return tx.Commit()
}

// Update rewrites a listing row and reconciles its alias set.
func (ps *PostgresStore) Update(ctx context.Context, l *models.CanonicalListing) error {
	args, err := ps.listingArgs(l)
	if err != nil {
		return fmt.Errorf("postgres: marshal listing: %w", err)
	}

	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE parsed_listings SET
			title=$2, description=$3, price_amount=$4, price_currency=$5, rent_price=$6,
			property_type=$7, address=$8, city=$9, region=$10, postal_code=$11,
			country=$12, lat=$13, lon=$14, features=$15, media=$16, contact_info=$17,
			state=$18, missed_checks=$19, parsed_at=$20, last_checked=$21,
			is_active=$22, is_verified=$23, needs_review=$24,
			imported_to_properties=$25, property_id=$26, address_hash=$27,
			phone_fingerprint=$28, price_bucket=$29, area_bucket=$30,
			content_hash=$31, embedding=$32, raw_data=$33
		WHERE id=$1
	`, args...)
	if err != nil {
		return fmt.Errorf("postgres: update listing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	for _, ref := range l.SourceRefs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO listing_sources (platform, source_id, listing_id) VALUES ($1,$2,$3)
			ON CONFLICT (platform, source_id) DO UPDATE SET listing_id = EXCLUDED.listing_id
		`, ref.Platform, ref.SourceID, l.ID); err != nil {
			return fmt.Errorf("postgres: upsert source ref: %w", err)
		}
	}

	return tx.Commit()
}

func (ps *PostgresStore) GetByID(ctx context.Context, id string) (*models.CanonicalListing, error) {
	row := ps.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM parsed_listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if err != nil {
		return nil, err
	}
	return ps.attachSourceRefs(ctx, l)
}

func (ps *PostgresStore) FindByExternalID(ctx context.Context, ext models.ExternalID) (*models.CanonicalListing, error) {
	row := ps.db.QueryRowContext(ctx, `
		SELECT `+listingColumns+` FROM parsed_listings
		WHERE id = (SELECT listing_id FROM listing_sources WHERE platform = $1 AND source_id = $2)
	`, ext.Platform, ext.SourceID)
	l, err := scanListing(row)
	if err != nil {
		return nil, err
	}
	return ps.attachSourceRefs(ctx, l)
}

func (ps *PostgresStore) attachSourceRefs(ctx context.Context, l *models.CanonicalListing) (*models.CanonicalListing, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT platform, source_id FROM listing_sources WHERE listing_id = $1 ORDER BY ctid
	`, l.ID)
	if err != nil {
		return nil, fmt.Errorf("postgres: source refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref models.ExternalID
		if err := rows.Scan(&ref.Platform, &ref.SourceID); err != nil {
			return nil, fmt.Errorf("postgres: scan source ref: %w", err)
		}
		l.SourceRefs = append(l.SourceRefs, ref)
	}
	return l, rows.Err()
}

func (ps *PostgresStore) queryListings(ctx context.Context, query string, args ...interface{}) ([]*models.CanonicalListing, error) {
	rows, err := ps.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query listings: %w", err)
	}
	defer rows.Close()

	var out []*models.CanonicalListing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, l := range out {
		if _, err := ps.attachSourceRefs(ctx, l); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (ps *PostgresStore) FindByAddressHash(ctx context.Context, hash uint64) ([]*models.CanonicalListing, error) {
	if hash == 0 {
		return nil, nil
	}
	return ps.queryListings(ctx,
		`SELECT `+listingColumns+` FROM parsed_listings WHERE address_hash = $1`, int64(hash))
}

func (ps *PostgresStore) FindByPhoneFingerprint(ctx context.Context, fp string) ([]*models.CanonicalListing, error) {
	if fp == "" {
		return nil, nil
	}
	return ps.queryListings(ctx,
		`SELECT `+listingColumns+` FROM parsed_listings WHERE phone_fingerprint = $1`, fp)
}

// NearestByEmbedding runs an approximate nearest-neighbor query over the
// ivfflat index; <=> is cosine distance, so similarity = 1 - distance.
func (ps *PostgresStore) NearestByEmbedding(ctx context.Context, city string, vec []float32, floor float64, limit int) ([]*models.CanonicalListing, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	return ps.queryListings(ctx, `
		SELECT `+listingColumns+` FROM parsed_listings
		WHERE city = $1 AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $2) >= $3
		ORDER BY embedding <=> $2
		LIMIT $4
	`, city, pgvector.NewVector(vec), floor, limit)
}

func (ps *PostgresStore) ListCheckedBefore(ctx context.Context, platform string, cutoff time.Time) ([]*models.CanonicalListing, error) {
	return ps.queryListings(ctx, `
		SELECT `+listingColumns+` FROM parsed_listings
		WHERE last_checked < $2
		  AND id IN (SELECT listing_id FROM listing_sources WHERE platform = $1)
	`, platform, cutoff)
}

func (ps *PostgresStore) ListArchivable(ctx context.Context, cutoff time.Time) ([]*models.CanonicalListing, error) {
	return ps.queryListings(ctx, `
		SELECT `+listingColumns+` FROM parsed_listings
		WHERE is_active = FALSE AND property_id IS NULL AND last_checked < $1
	`, cutoff)
}

// Archive hard-deletes an unlinked listing; aliases go with it via
// ON DELETE CASCADE. Linked listings are refused.
func (ps *PostgresStore) Archive(ctx context.Context, id string) error {
	res, err := ps.db.ExecContext(ctx, `
		DELETE FROM parsed_listings WHERE id = $1 AND property_id IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("postgres: archive: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("listing %s not archivable", id)
	}
	return nil
}

// CreateFromListing promotes a listing inside one transaction: the
// catalog row and the listing's imported flags land together or not at all.
func (ps *PostgresStore) CreateFromListing(ctx context.Context, l *models.CanonicalListing) (string, error) {
	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("postgres: begin promotion: %w", err)
	}
	defer tx.Rollback()

	location, err := json.Marshal(l.Location)
	if err != nil {
		return "", err
	}
	features, err := json.Marshal(l.Features)
	if err != nil {
		return "", err
	}
	photos, err := json.Marshal(l.Media.Photos)
	if err != nil {
		return "", err
	}

	propertyID := uuid.New().String()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO properties
			(id, parsed_listing_id, title, description, property_type,
			 price_amount, price_currency, location, features, photos, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,TRUE)
	`, propertyID, l.ID, l.Title, l.Description, l.PropertyType,
		l.Price.Amount, l.Price.Currency, location, features, photos); err != nil {
		return "", fmt.Errorf("postgres: insert property: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE parsed_listings
		SET imported_to_properties = TRUE, property_id = $2
		WHERE id = $1 AND imported_to_properties = FALSE
	`, l.ID, propertyID)
	if err != nil {
		return "", fmt.Errorf("postgres: mark imported: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already imported or gone; roll the catalog row back.
		return "", fmt.Errorf("listing %s not promotable", l.ID)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("postgres: commit promotion: %w", err)
	}
	return propertyID, nil
}

func (ps *PostgresStore) UpdateEntry(ctx context.Context, propertyID string, delta *models.PropertyDelta) error {
	entry, err := ps.GetEntry(ctx, propertyID)
	if err != nil {
		return err
	}

	if delta.Price != nil {
		entry.Price = *delta.Price
	}
	if delta.IsActive != nil {
		entry.IsActive = *delta.IsActive
	}
	if delta.Features != nil {
		entry.Features = *delta.Features
	}
	if len(delta.Photos) > 0 {
		entry.Photos = delta.Photos
	}

	features, err := json.Marshal(entry.Features)
	if err != nil {
		return err
	}
	photos, err := json.Marshal(entry.Photos)
	if err != nil {
		return err
	}

	// updated_at moves only when a column actually changes, keeping the
	// delta application idempotent.
	_, err = ps.db.ExecContext(ctx, `
		UPDATE properties SET
			price_amount = $2, price_currency = $3, is_active = $4,
			features = $5, photos = $6, updated_at = NOW()
		WHERE id = $1
		  AND (price_amount, price_currency, is_active, features::text, photos::text)
		      IS DISTINCT FROM ($2, $3, $4, $5::jsonb::text, $6::jsonb::text)
	`, propertyID, entry.Price.Amount, entry.Price.Currency, entry.IsActive, features, photos)
	if err != nil {
		return fmt.Errorf("postgres: update property: %w", err)
	}
	return nil
}

func (ps *PostgresStore) GetEntry(ctx context.Context, propertyID string) (*models.PropertyEntry, error) {
	row := ps.db.QueryRowContext(ctx, `
		SELECT id, parsed_listing_id, title, description, property_type,
		       price_amount, price_currency, location, features, photos,
		       is_active, created_at, updated_at
		FROM properties WHERE id = $1
	`, propertyID)

	e := &models.PropertyEntry{}
	var location, features, photos []byte
	err := row.Scan(&e.ID, &e.ParsedListingID, &e.Title, &e.Description, &e.PropertyType,
		&e.Price.Amount, &e.Price.Currency, &location, &features, &photos,
		&e.IsActive, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres: scan property: %w", err)
	}
	_ = json.Unmarshal(location, &e.Location)
	_ = json.Unmarshal(features, &e.Features)
	_ = json.Unmarshal(photos, &e.Photos)
	return e, nil
}

func (ps *PostgresStore) Exists(ctx context.Context, propertyID string) (bool, error) {
	var one int
	err := ps.db.QueryRowContext(ctx,
		`SELECT 1 FROM properties WHERE id = $1`, propertyID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: exists: %w", err)
	}
	return true, nil
}

// Close closes the underlying connection pool.
func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}
