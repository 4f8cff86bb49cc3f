// Package catalog persists the canonical Product/Brand/Category graph and
// exposes the read surface the outer HTTP layers consume.
package catalog

import (
	"context"
	"errors"

	"github.com/Santt-m/new-caminando-sub003/internal/product"
)

var (
	// ErrNotFound means no row matched the lookup.
	ErrNotFound = errors.New("catalog: not found")

	// ErrDuplicateSlug means an insert collided with an existing slug.
	// The resolver retries resolution with a fresh read when it sees this.
	ErrDuplicateSlug = errors.New("catalog: duplicate slug")
)

// ListFilter narrows paginated product listings.
type ListFilter struct {
	CategorySlug  string
	BrandSlug     string
	OnlyAvailable bool
	Limit         int
	Offset        int
}

// Catalog is the full store surface. All product mutation goes through
// Resolve so concurrent merges for one product serialize on the row.
type Catalog interface {
	Reader

	// Resolve runs fn inside one read-modify-write unit. Lookups made
	// through the Tx lock the rows they return until fn finishes.
	Resolve(ctx context.Context, fn func(Tx) error) error

	UpsertBrand(ctx context.Context, b product.Brand) error
	UpsertCategory(ctx context.Context, store product.Store, externalID string, c product.Category) error
	CategoryByExternalID(ctx context.Context, store product.Store, externalID string) (*product.Category, error)
}

// Tx is the transactional view the identity resolver works against.
type Tx interface {
	// AcquireIdentifier takes a transaction-scoped lock on one primary
	// identifier. Two resolutions carrying the same identifier serialize
	// on it even when no product row exists yet to lock.
	AcquireIdentifier(ctx context.Context, ean string) error

	// FindByEANs returns the product owning any of the given identifiers,
	// as primary or as a variant identifier. ErrNotFound when none match.
	FindByEANs(ctx context.Context, eans []string) (*product.CanonicalProduct, error)

	// FindBySource returns the product with a Source matching (store, productID).
	FindBySource(ctx context.Context, store product.Store, productID string) (*product.CanonicalProduct, error)

	// FindBySlug returns the product with the given slug.
	FindBySlug(ctx context.Context, slug string) (*product.CanonicalProduct, error)

	// Insert persists a new product. ErrDuplicateSlug on slug collision.
	Insert(ctx context.Context, p *product.CanonicalProduct) error

	// Update persists the merged state of an existing product.
	Update(ctx context.Context, p *product.CanonicalProduct) error
}

// Reader is the read-only query surface served over the HTTP API.
type Reader interface {
	ProductBySlug(ctx context.Context, slug string) (*product.CanonicalProduct, error)
	ProductByEAN(ctx context.Context, ean string) (*product.CanonicalProduct, error)
	ProductBySource(ctx context.Context, store product.Store, productID string) (*product.CanonicalProduct, error)
	ListProducts(ctx context.Context, f ListFilter) ([]*product.CanonicalProduct, error)
	SearchProducts(ctx context.Context, query string, limit int) ([]*product.CanonicalProduct, error)
}
