package resolver

import (
	"time"

	"github.com/Santt-m/new-caminando-sub003/internal/product"
)

// Merge folds one extraction record into an existing canonical product and
// returns the merged state. Pure: neither argument is mutated, so the rule
// set is testable in isolation and idempotent (same record twice yields the
// same state, timestamps aside).
func Merge(old product.CanonicalProduct, rec product.ExtractionRecord, now time.Time) product.CanonicalProduct {
	merged := old
	merged.Variants = append([]product.Variant(nil), old.Variants...)
	merged.Sources = append([]product.Source(nil), old.Sources...)
	merged.Subcategories = append([]string(nil), old.Subcategories...)
	merged.Tags = append([]string(nil), old.Tags...)

	// Latest extraction wins for display purposes.
	if rec.Name != "" {
		merged.Name = rec.Name
	}

	// First store to report wins; later stores never overwrite.
	if merged.BrandSlug == "" && rec.BrandName != "" {
		merged.BrandSlug = product.Slugify(rec.BrandName)
	}
	if merged.CategorySlug == "" && rec.CategorySlug != "" {
		merged.CategorySlug = rec.CategorySlug
	}
	if merged.Image == "" {
		if it, ok := rec.PrimaryItem(); ok && len(it.Images) > 0 {
			merged.Image = it.Images[0]
		}
	}

	for _, it := range rec.Items {
		if it.EAN == "" {
			continue
		}
		merged.Variants = mergeVariant(merged.Variants, variantFromItem(it))
	}

	merged.Sources = mergeSource(merged.Sources, sourceFromRecord(rec, now))

	// Best observed price across stores, never the last observed.
	if p := rec.BestPrice(); p > 0 && (merged.Price == 0 || p < merged.Price) {
		merged.Price = p
	}
	merged.Price = clampToVariants(merged.Price, merged.Variants)

	// Available anywhere means available.
	merged.Available = false
	for _, src := range merged.Sources {
		if src.Availability == product.Available {
			merged.Available = true
			break
		}
	}

	return merged
}

// mergeVariant replaces the variant sharing the incoming trade number, or
// appends when the number is new. Identifiers compare by exact string:
// two distinct temporary identifiers never merge.
func mergeVariant(variants []product.Variant, incoming product.Variant) []product.Variant {
	for i, v := range variants {
		if v.EAN == incoming.EAN {
			variants[i] = incoming
			return variants
		}
	}
	return append(variants, incoming)
}

// mergeSource updates the record's store entry in place or appends it.
func mergeSource(sources []product.Source, incoming product.Source) []product.Source {
	for i, s := range sources {
		if s.Store == incoming.Store {
			sources[i] = incoming
			return sources
		}
	}
	return append(sources, incoming)
}

func variantFromItem(it product.ExtractedItem) product.Variant {
	v := product.Variant{
		SKU:           it.SKU,
		EAN:           it.EAN,
		Attributes:    it.Attributes,
		Price:         it.Price,
		OriginalPrice: it.OriginalPrice,
		Stock:         it.Stock,
		Available:     it.Available,
		Images:        it.Images,
		Unit:          it.Unit,
	}
	// A list price below the selling price is store noise; drop it.
	if v.OriginalPrice > 0 && v.OriginalPrice < v.Price {
		v.OriginalPrice = 0
	}
	return v
}

func sourceFromRecord(rec product.ExtractionRecord, now time.Time) product.Source {
	return product.Source{
		Store:        rec.Store,
		ProductID:    rec.ProductID,
		URL:          rec.URL,
		LastScraped:  now,
		Availability: rec.Availability(),
		Price:        rec.BestPrice(),
		CategoryPath: rec.CategoryPath,
	}
}

// clampToVariants keeps the representative price inside the variant price
// range whenever variants exist. The range takes precedence over Source
// prices from earlier scrapes: when a re-scrape raises the only variant's
// price, the canonical price follows it up even past a stale Source minimum.
func clampToVariants(price float64, variants []product.Variant) float64 {
	lo, hi := 0.0, 0.0
	for _, v := range variants {
		if v.Price <= 0 {
			continue
		}
		if lo == 0 || v.Price < lo {
			lo = v.Price
		}
		if v.Price > hi {
			hi = v.Price
		}
	}
	if lo == 0 {
		return price
	}
	if price < lo {
		return lo
	}
	if price > hi {
		return hi
	}
	return price
}
