// Package product defines the canonical catalog domain model shared by the
// scrapers, the identity resolver and the storage layer.
package product

import "time"

// Store identifies a retail back-end. The set is closed: adding a store
// means adding a scraper for it.
type Store string

const (
	StoreJumbo     Store = "jumbo"
	StoreVea       Store = "vea"
	StoreDisco     Store = "disco"
	StoreCarrefour Store = "carrefour"
	StoreCoto      Store = "coto"
)

// Code returns the three-letter code used when synthesizing temporary
// identifiers for stores that expose no EAN.
func (s Store) Code() string {
	switch s {
	case StoreJumbo:
		return "jum"
	case StoreVea:
		return "vea"
	case StoreDisco:
		return "dis"
	case StoreCarrefour:
		return "car"
	case StoreCoto:
		return "cot"
	default:
		return "unk"
	}
}

// AllStores lists every supported store.
func AllStores() []Store {
	return []Store{StoreJumbo, StoreVea, StoreDisco, StoreCarrefour, StoreCoto}
}

// Availability is one store's stock status for a product.
type Availability string

const (
	Available    Availability = "available"
	OutOfStock   Availability = "out_of_stock"
	Discontinued Availability = "discontinued"
)

// CanonicalProduct is the merged, store-agnostic product record. One per
// real-world product; every store selling it contributes a Source.
type CanonicalProduct struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Slug          string    `db:"slug" json:"slug"`
	EAN           string    `db:"ean" json:"ean,omitempty"`
	BrandSlug     string    `db:"brand_slug" json:"brand,omitempty"`
	CategorySlug  string    `db:"category_slug" json:"category,omitempty"`
	Subcategories []string  `db:"-" json:"subcategories,omitempty"`
	Price         float64   `db:"price" json:"price"`
	Currency      string    `db:"currency" json:"currency"`
	Available     bool      `db:"available" json:"available"`
	Image         string    `db:"image" json:"image,omitempty"`
	Tags          []string  `db:"-" json:"tags,omitempty"`
	Variants      []Variant `db:"-" json:"variants"`
	Sources       []Source  `db:"-" json:"sources"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// Variant is one purchasable SKU of a canonical product, keyed by EAN
// (possibly a synthesized temporary one) within the product.
type Variant struct {
	SKU           string            `json:"sku"`
	EAN           string            `json:"ean"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Price         float64           `json:"price"`
	OriginalPrice float64           `json:"originalPrice,omitempty"`
	Stock         int               `json:"stock"`
	Available     bool              `json:"available"`
	Images        []string          `json:"images,omitempty"`
	Unit          string            `json:"unit,omitempty"`
}

// Source is one store's view of a canonical product. At most one per
// (product, store); re-scrapes update it in place.
type Source struct {
	Store        Store        `json:"store"`
	ProductID    string       `json:"productId"`
	URL          string       `json:"url,omitempty"`
	LastScraped  time.Time    `json:"lastScraped"`
	Availability Availability `json:"availability"`
	Price        float64      `json:"price"`
	CategoryPath []string     `json:"categoryPath,omitempty"`
}

// Brand is a shared reference entity keyed by slug.
type Brand struct {
	Slug      string    `db:"slug" json:"slug"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Category is a node of the master taxonomy. ExternalIDs maps each store's
// own category id back to this node so per-store trees stay relatable.
type Category struct {
	Slug        string           `db:"slug" json:"slug"`
	Name        string           `db:"name" json:"name"`
	URL         string           `db:"url" json:"url,omitempty"`
	Level       int              `db:"level" json:"level"`
	ParentSlug  string           `db:"parent_slug" json:"parentSlug,omitempty"`
	ExternalIDs map[Store]string `db:"-" json:"externalIds,omitempty"`
}

// ExternalID returns the store's id for this category, if mapped.
func (c *Category) ExternalID(store Store) (string, bool) {
	id, ok := c.ExternalIDs[store]
	return id, ok
}

// ExtractionRecord is the normalized output of one scraped listing. It is
// ephemeral: scrapers produce it, the resolver consumes it, nothing
// persists it as-is.
type ExtractionRecord struct {
	Store        Store
	ProductID    string
	Name         string
	BrandName    string
	Items        []ExtractedItem
	CategorySlug string
	CategoryPath []string
	URL          string
}

// ExtractedItem is one SKU inside an ExtractionRecord.
type ExtractedItem struct {
	SKU           string
	EAN           string
	Price         float64
	OriginalPrice float64
	Stock         int
	Available     bool
	Images        []string
	Unit          string
	Attributes    map[string]string
}

// PrimaryItem returns the record's first item, the one whose EAN seeds
// identity resolution. False when the record carries no items.
func (r *ExtractionRecord) PrimaryItem() (ExtractedItem, bool) {
	if len(r.Items) == 0 {
		return ExtractedItem{}, false
	}
	return r.Items[0], true
}

// EANs returns every identifier carried by the record's items, primary
// first, without duplicates.
func (r *ExtractionRecord) EANs() []string {
	seen := make(map[string]struct{}, len(r.Items))
	out := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		if it.EAN == "" {
			continue
		}
		if _, dup := seen[it.EAN]; dup {
			continue
		}
		seen[it.EAN] = struct{}{}
		out = append(out, it.EAN)
	}
	return out
}

// Availability maps the record's items to a Source availability status.
func (r *ExtractionRecord) Availability() Availability {
	for _, it := range r.Items {
		if it.Available {
			return Available
		}
	}
	return OutOfStock
}

// BestPrice is the lowest non-zero item price in the record.
func (r *ExtractionRecord) BestPrice() float64 {
	best := 0.0
	for _, it := range r.Items {
		if it.Price <= 0 {
			continue
		}
		if best == 0 || it.Price < best {
			best = it.Price
		}
	}
	return best
}
