package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Santt-m/new-caminando-sub003/internal/product"
)

const productColumns = `
	id, name, slug, ean, brand_slug, category_slug, subcategories,
	price, currency, available, image, tags, variants, sources,
	created_at, updated_at
`

// productRow is the flat database shape; JSONB columns stay raw until
// decoded into the domain type.
type productRow struct {
	ID            string          `db:"id"`
	Name          string          `db:"name"`
	Slug          string          `db:"slug"`
	EAN           sql.NullString  `db:"ean"`
	BrandSlug     sql.NullString  `db:"brand_slug"`
	CategorySlug  sql.NullString  `db:"category_slug"`
	Subcategories json.RawMessage `db:"subcategories"`
	Price         float64         `db:"price"`
	Currency      string          `db:"currency"`
	Available     bool            `db:"available"`
	Image         sql.NullString  `db:"image"`
	Tags          json.RawMessage `db:"tags"`
	Variants      json.RawMessage `db:"variants"`
	Sources       json.RawMessage `db:"sources"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func (r *productRow) toDomain() (*product.CanonicalProduct, error) {
	p := &product.CanonicalProduct{
		ID:           r.ID,
		Name:         r.Name,
		Slug:         r.Slug,
		EAN:          r.EAN.String,
		BrandSlug:    r.BrandSlug.String,
		CategorySlug: r.CategorySlug.String,
		Price:        r.Price,
		Currency:     r.Currency,
		Available:    r.Available,
		Image:        r.Image.String,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}

	for _, pair := range []struct {
		raw json.RawMessage
		dst any
	}{
		{r.Subcategories, &p.Subcategories},
		{r.Tags, &p.Tags},
		{r.Variants, &p.Variants},
		{r.Sources, &p.Sources},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", r.ID, err)
		}
	}

	return p, nil
}

func encodeJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("[]"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// queryer abstracts *sqlx.DB and *sqlx.Tx.
type queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getProduct(ctx context.Context, q queryer, query string, args ...any) (*product.CanonicalProduct, error) {
	var row productRow
	if err := q.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query product: %w", err)
	}
	return row.toDomain()
}

// pgTx implements Tx over one open transaction. The finders append
// FOR UPDATE so the matched row stays locked until commit.
type pgTx struct {
	tx *sqlx.Tx
}

// AcquireIdentifier takes an advisory lock keyed on the identifier, held
// until the transaction ends. FOR UPDATE only covers rows that already
// exist; this covers concurrent first-scrapes of the same product, where
// both transactions would otherwise see no row and insert twice.
func (t *pgTx) AcquireIdentifier(ctx context.Context, ean string) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ean); err != nil {
		return fmt.Errorf("lock identifier %s: %w", ean, err)
	}
	return nil
}

func (t *pgTx) FindByEANs(ctx context.Context, eans []string) (*product.CanonicalProduct, error) {
	if len(eans) == 0 {
		return nil, ErrNotFound
	}
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE ean = ANY($1)
		   OR EXISTS (
			SELECT 1 FROM jsonb_array_elements(variants) v
			WHERE v->>'ean' = ANY($1)
		   )
		LIMIT 1
		FOR UPDATE
	`
	return getProduct(ctx, t.tx, query, pq.Array(eans))
}

func (t *pgTx) FindBySource(ctx context.Context, store product.Store, productID string) (*product.CanonicalProduct, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE sources @> jsonb_build_array(
			jsonb_build_object('store', $1::text, 'productId', $2::text)
		)
		LIMIT 1
		FOR UPDATE
	`
	return getProduct(ctx, t.tx, query, string(store), productID)
}

func (t *pgTx) FindBySlug(ctx context.Context, slug string) (*product.CanonicalProduct, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE slug = $1 FOR UPDATE`
	return getProduct(ctx, t.tx, query, slug)
}

func (t *pgTx) Insert(ctx context.Context, p *product.CanonicalProduct) error {
	subcats, err := encodeJSON(p.Subcategories)
	if err != nil {
		return fmt.Errorf("encode subcategories: %w", err)
	}
	tags, err := encodeJSON(p.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	variants, err := encodeJSON(p.Variants)
	if err != nil {
		return fmt.Errorf("encode variants: %w", err)
	}
	sources, err := encodeJSON(p.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}

	query := `
		INSERT INTO products (
			id, name, slug, ean, brand_slug, category_slug, subcategories,
			price, currency, available, image, tags, variants, sources
		) VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),$7,$8,$9,$10,NULLIF($11,''),$12,$13,$14)
		RETURNING created_at, updated_at
	`
	err = t.tx.QueryRowxContext(ctx, query,
		p.ID, p.Name, p.Slug, p.EAN, p.BrandSlug, p.CategorySlug, subcats,
		p.Price, p.Currency, p.Available, p.Image, tags, variants, sources,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicateSlug
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (t *pgTx) Update(ctx context.Context, p *product.CanonicalProduct) error {
	subcats, err := encodeJSON(p.Subcategories)
	if err != nil {
		return fmt.Errorf("encode subcategories: %w", err)
	}
	tags, err := encodeJSON(p.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	variants, err := encodeJSON(p.Variants)
	if err != nil {
		return fmt.Errorf("encode variants: %w", err)
	}
	sources, err := encodeJSON(p.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}

	query := `
		UPDATE products
		SET name = $2,
		    ean = NULLIF($3,''),
		    brand_slug = NULLIF($4,''),
		    category_slug = NULLIF($5,''),
		    subcategories = $6,
		    price = $7,
		    currency = $8,
		    available = $9,
		    image = NULLIF($10,''),
		    tags = $11,
		    variants = $12,
		    sources = $13,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err = t.tx.QueryRowxContext(ctx, query,
		p.ID, p.Name, p.EAN, p.BrandSlug, p.CategorySlug, subcats,
		p.Price, p.Currency, p.Available, p.Image, tags, variants, sources,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update product %s: %w", p.ID, err)
	}
	return nil
}

// Read surface (no locks).

func (s *Postgres) ProductBySlug(ctx context.Context, slug string) (*product.CanonicalProduct, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE slug = $1`
	return getProduct(ctx, s.db, query, slug)
}

func (s *Postgres) ProductByEAN(ctx context.Context, ean string) (*product.CanonicalProduct, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE ean = $1
		   OR EXISTS (
			SELECT 1 FROM jsonb_array_elements(variants) v
			WHERE v->>'ean' = $1
		   )
		LIMIT 1
	`
	return getProduct(ctx, s.db, query, ean)
}

func (s *Postgres) ProductBySource(ctx context.Context, store product.Store, productID string) (*product.CanonicalProduct, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE sources @> jsonb_build_array(
			jsonb_build_object('store', $1::text, 'productId', $2::text)
		)
		LIMIT 1
	`
	return getProduct(ctx, s.db, query, string(store), productID)
}

func (s *Postgres) ListProducts(ctx context.Context, f ListFilter) ([]*product.CanonicalProduct, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE 1=1`
	args := []any{}

	if f.CategorySlug != "" {
		args = append(args, f.CategorySlug)
		query += fmt.Sprintf(" AND category_slug = $%d", len(args))
	}
	if f.BrandSlug != "" {
		args = append(args, f.BrandSlug)
		query += fmt.Sprintf(" AND brand_slug = $%d", len(args))
	}
	if f.OnlyAvailable {
		query += " AND available"
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	out := make([]*product.CanonicalProduct, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
