package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Santt-m/new-caminando-sub003/internal/product"
)

type categoryRow struct {
	Slug        string          `db:"slug"`
	Name        string          `db:"name"`
	URL         sql.NullString  `db:"url"`
	Level       int             `db:"level"`
	ParentSlug  sql.NullString  `db:"parent_slug"`
	ExternalIDs json.RawMessage `db:"external_ids"`
}

func (r *categoryRow) toDomain() (*product.Category, error) {
	c := &product.Category{
		Slug:       r.Slug,
		Name:       r.Name,
		URL:        r.URL.String,
		Level:      r.Level,
		ParentSlug: r.ParentSlug.String,
	}
	if len(r.ExternalIDs) > 0 {
		if err := json.Unmarshal(r.ExternalIDs, &c.ExternalIDs); err != nil {
			return nil, fmt.Errorf("decode category %s: %w", r.Slug, err)
		}
	}
	return c, nil
}

const categoryColumns = `slug, name, url, level, parent_slug, external_ids`

// CategoryByExternalID looks a category up by one store's id for it.
func (s *Postgres) CategoryByExternalID(ctx context.Context, store product.Store, externalID string) (*product.Category, error) {
	query := `
		SELECT ` + categoryColumns + `
		FROM categories
		WHERE external_ids->>$1 = $2
	`
	var row categoryRow
	if err := s.db.GetContext(ctx, &row, query, string(store), externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("category by external id: %w", err)
	}
	return row.toDomain()
}

// UpsertCategory records one store's view of a taxonomy node. Matching is
// by the store's external id first, then by generated slug, so two stores
// naming the same category converge on one row.
func (s *Postgres) UpsertCategory(ctx context.Context, store product.Store, externalID string, c product.Category) error {
	if c.Slug == "" {
		return fmt.Errorf("category without slug: %q", c.Name)
	}

	update := `
		UPDATE categories
		SET name = $2,
		    url = COALESCE(NULLIF($3,''), url),
		    level = $4,
		    parent_slug = COALESCE(NULLIF($5,''), parent_slug),
		    external_ids = external_ids || jsonb_build_object($6::text, $7::text)
		WHERE external_ids->>$6 = $7 OR slug = $1
	`
	res, err := s.db.ExecContext(ctx, update,
		c.Slug, c.Name, c.URL, c.Level, c.ParentSlug, string(store), externalID)
	if err != nil {
		return fmt.Errorf("update category %s: %w", c.Slug, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	insert := `
		INSERT INTO categories (slug, name, url, level, parent_slug, external_ids)
		VALUES ($1, $2, NULLIF($3,''), $4, NULLIF($5,''), jsonb_build_object($6::text, $7::text))
		ON CONFLICT (slug) DO UPDATE
		SET external_ids = categories.external_ids || EXCLUDED.external_ids
	`
	if _, err := s.db.ExecContext(ctx, insert,
		c.Slug, c.Name, c.URL, c.Level, c.ParentSlug, string(store), externalID); err != nil {
		return fmt.Errorf("insert category %s: %w", c.Slug, err)
	}
	return nil
}
