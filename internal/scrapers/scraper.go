// Package scrapers holds one adapter per store behind a shared interface,
// so everything above it stays store-agnostic. The store set is closed:
// jumbo, vea, disco and carrefour speak the VTEX catalog API; coto is
// DOM-only.
package scrapers

import (
	"context"
	"errors"

	"github.com/Santt-m/new-caminando-sub003/internal/product"
	"github.com/Santt-m/new-caminando-sub003/internal/queue"
)

var (
	// ErrNetwork is a transient fetch/navigation failure. Retryable.
	ErrNetwork = errors.New("scrapers: network failure")

	// ErrParse means the store's markup or payload shape changed. Not
	// retried automatically; the adapter needs updating.
	ErrParse = errors.New("scrapers: parse failure")

	// ErrValidation is a malformed item (identifier, price). The item is
	// skipped and extraction continues.
	ErrValidation = errors.New("scrapers: validation failure")
)

// Session is the slice of a pooled browser session the adapters need.
// *browser.Session implements it; tests substitute fakes.
type Session interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context, sel string) (string, error)
	FetchJSON(ctx context.Context, url string, out any) error
}

// TaxonomyWriter is the slice of the catalog adapters write during
// discovery. Product persistence stays with the resolver.
type TaxonomyWriter interface {
	UpsertBrand(ctx context.Context, b product.Brand) error
	UpsertCategory(ctx context.Context, store product.Store, externalID string, c product.Category) error
}

// Leaf is a category with no children: the unit of extraction work.
type Leaf struct {
	Slug       string
	ExternalID string
	Name       string
	URL        string
	IDPath     []string // ids from root to leaf, for nested category filters
}

// Emit receives one normalized extraction record. A non-nil return is
// logged per item; it never aborts the page.
type Emit func(product.ExtractionRecord) error

// Scraper is one store's adapter: category discovery plus paginated
// product extraction.
type Scraper interface {
	Store() product.Store

	// CanHandle is a pure predicate on job shape: action plus required
	// fields. Used for routing only.
	CanHandle(job queue.Job) bool

	// DiscoverCategories walks the store's category tree, upserts every
	// node into the master taxonomy and returns only the leaves.
	DiscoverCategories(ctx context.Context, sess Session) ([]Leaf, error)

	// DiscoverBrands upserts the brands reachable from the job's scope.
	DiscoverBrands(ctx context.Context, sess Session, job queue.Job) error

	// ExtractProducts streams normalized records for one leaf category
	// until the store is exhausted. Restartable from offset 0.
	ExtractProducts(ctx context.Context, sess Session, job queue.Job, emit Emit) error
}

// Registry routes jobs to the first adapter claiming them.
type Registry struct {
	scrapers []Scraper
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(scrapers ...Scraper) *Registry {
	return &Registry{scrapers: scrapers}
}

// Route returns the adapter for a job, or false when none claims it.
func (r *Registry) Route(job queue.Job) (Scraper, bool) {
	for _, s := range r.scrapers {
		if s.CanHandle(job) {
			return s, true
		}
	}
	return nil, false
}

// All returns every registered adapter.
func (r *Registry) All() []Scraper {
	return r.scrapers
}
