package catalog

import (
	"context"
	"fmt"

	"github.com/Santt-m/new-caminando-sub003/internal/product"
)

// UpsertBrand inserts the brand or refreshes its display name. Brands are
// shared across stores, keyed by slug.
func (s *Postgres) UpsertBrand(ctx context.Context, b product.Brand) error {
	if b.Slug == "" {
		return fmt.Errorf("brand without slug: %q", b.Name)
	}

	query := `
		INSERT INTO brands (slug, name)
		VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
	`
	if _, err := s.db.ExecContext(ctx, query, b.Slug, b.Name); err != nil {
		return fmt.Errorf("upsert brand %s: %w", b.Slug, err)
	}
	return nil
}
