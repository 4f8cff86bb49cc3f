// Package resolver decides, for every extraction record, which canonical
// product it belongs to and merges it in without losing another store's
// contribution.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Santt-m/new-caminando-sub003/internal/catalog"
	"github.com/Santt-m/new-caminando-sub003/internal/product"
)

// ErrConflict is a concurrent merge collision on the same canonical
// product; callers retry with a fresh read.
var ErrConflict = errors.New("resolver: concurrent merge conflict")

// ErrSkipped means the record was rejected before resolution (no items,
// missing store product id) and extraction should continue.
var ErrSkipped = errors.New("resolver: record skipped")

const conflictRetries = 3

// Resolver runs the resolution ladder and merge engine against a catalog.
type Resolver struct {
	cat catalog.Catalog
	log zerolog.Logger
	now func() time.Time
}

// New builds a Resolver backed by cat.
func New(cat catalog.Catalog, log zerolog.Logger) *Resolver {
	return &Resolver{
		cat: cat,
		log: log.With().Str("component", "resolver").Logger(),
		now: time.Now,
	}
}

// Process resolves and merges one extraction record. It retries conflict
// collisions with a fresh read; anything else surfaces to the caller.
func (r *Resolver) Process(ctx context.Context, rec product.ExtractionRecord) (*product.CanonicalProduct, error) {
	if rec.ProductID == "" || rec.Name == "" {
		r.log.Warn().
			Str("store", string(rec.Store)).
			Str("name", rec.Name).
			Msg("record missing product id or name")
		return nil, ErrSkipped
	}
	if len(rec.Items) == 0 {
		r.log.Warn().
			Str("store", string(rec.Store)).
			Str("product_id", rec.ProductID).
			Str("name", rec.Name).
			Msg("record carries no items")
		return nil, ErrSkipped
	}

	var out *product.CanonicalProduct
	var err error
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		out, err = r.resolveOnce(ctx, rec)
		if !errors.Is(err, ErrConflict) {
			return out, err
		}
		r.log.Debug().
			Str("store", string(rec.Store)).
			Str("product_id", rec.ProductID).
			Int("attempt", attempt+1).
			Msg("merge conflict, retrying with fresh read")
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrConflict, rec.Store, rec.ProductID)
}

func (r *Resolver) resolveOnce(ctx context.Context, rec product.ExtractionRecord) (*product.CanonicalProduct, error) {
	var result *product.CanonicalProduct

	err := r.cat.Resolve(ctx, func(tx catalog.Tx) error {
		// Serialize on the record's identifiers before reading anything:
		// a concurrent first-scrape of the same product from another
		// store holds the same lock, so the second arrival re-reads the
		// committed row instead of inserting a twin. Sorted order keeps
		// two workers with overlapping identifier sets deadlock-free.
		eans := rec.EANs()
		sort.Strings(eans)
		for _, e := range eans {
			if err := tx.AcquireIdentifier(ctx, e); err != nil {
				return err
			}
		}

		target, err := r.resolveTarget(ctx, tx, rec)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return err
		}

		now := r.now()

		if target == nil {
			created := r.newProduct(rec, now)
			if insErr := tx.Insert(ctx, created); insErr != nil {
				if errors.Is(insErr, catalog.ErrDuplicateSlug) {
					// Another worker created it between our read and
					// write; resolve again against the fresh row.
					return ErrConflict
				}
				return insErr
			}
			r.log.Info().
				Str("store", string(rec.Store)).
				Str("product_id", rec.ProductID).
				Str("slug", created.Slug).
				Msg("canonical product created")
			result = created
			return nil
		}

		merged := Merge(*target, rec, now)
		if updErr := tx.Update(ctx, &merged); updErr != nil {
			return updErr
		}
		result = &merged
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// resolveTarget walks the resolution ladder: global identifier, then
// same-store product id, then deterministic slug. First match wins; only
// the identifier step links across stores.
func (r *Resolver) resolveTarget(ctx context.Context, tx catalog.Tx, rec product.ExtractionRecord) (*product.CanonicalProduct, error) {
	if eans := rec.EANs(); len(eans) > 0 {
		p, err := tx.FindByEANs(ctx, eans)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			return nil, err
		}
	}

	p, err := tx.FindBySource(ctx, rec.Store, rec.ProductID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}

	return tx.FindBySlug(ctx, product.ProductSlug(rec.Name, rec.ProductID))
}

// newProduct builds the canonical record for a first-ever extraction: one
// source, variants from the record's items, best item price.
func (r *Resolver) newProduct(rec product.ExtractionRecord, now time.Time) *product.CanonicalProduct {
	p := &product.CanonicalProduct{
		ID:           uuid.NewString(),
		Name:         rec.Name,
		Slug:         product.ProductSlug(rec.Name, rec.ProductID),
		CategorySlug: rec.CategorySlug,
		Currency:     "ARS",
	}

	if rec.BrandName != "" {
		p.BrandSlug = product.Slugify(rec.BrandName)
	}
	if it, ok := rec.PrimaryItem(); ok {
		p.EAN = it.EAN
		if len(it.Images) > 0 {
			p.Image = it.Images[0]
		}
	}

	for _, it := range rec.Items {
		if it.EAN == "" {
			r.log.Warn().
				Str("store", string(rec.Store)).
				Str("product_id", rec.ProductID).
				Str("sku", it.SKU).
				Msg("item without identifier dropped")
			continue
		}
		p.Variants = mergeVariant(p.Variants, variantFromItem(it))
	}

	p.Sources = []product.Source{sourceFromRecord(rec, now)}
	p.Price = clampToVariants(rec.BestPrice(), p.Variants)
	p.Available = rec.Availability() == product.Available

	return p
}
