package scrapers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Santt-m/new-caminando-sub003/internal/ean"
	"github.com/Santt-m/new-caminando-sub003/internal/product"
	"github.com/Santt-m/new-caminando-sub003/internal/queue"
)

const (
	vtexPageSize  = 50
	vtexMaxItems  = 2500
	vtexTreeDepth = 5

	// One request every ~1.2s per store keeps us inside acceptable rates.
	vtexRequestInterval = 1200 * time.Millisecond
)

// VTEX payload shapes. Only the fields we read.

type vtexCategory struct {
	ID       int            `json:"id"`
	Name     string         `json:"name"`
	URL      string         `json:"url"`
	Children []vtexCategory `json:"children"`
}

type vtexBrand struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}

type vtexProduct struct {
	ProductID   string     `json:"productId"`
	ProductName string     `json:"productName"`
	Brand       string     `json:"brand"`
	Link        string     `json:"link"`
	Items       []vtexItem `json:"items"`
}

type vtexItem struct {
	ItemID  string `json:"itemId"`
	EAN     string `json:"ean"`
	Unit    string `json:"measurementUnit"`
	Images  []struct {
		ImageURL string `json:"imageUrl"`
	} `json:"images"`
	Sellers []struct {
		Offer struct {
			Price       float64 `json:"Price"`
			ListPrice   float64 `json:"ListPrice"`
			Stock       int     `json:"AvailableQuantity"`
			IsAvailable bool    `json:"IsAvailable"`
		} `json:"commertialOffer"`
	} `json:"sellers"`
	Variations []struct {
		Name   string   `json:"name"`
		Values []string `json:"values"`
	} `json:"variations"`
}

// vtexScraper adapts one VTEX-backed store.
type vtexScraper struct {
	store       product.Store
	baseURL     string
	taxonomy    TaxonomyWriter
	limiter     *rate.Limiter
	pageTimeout time.Duration
	log         zerolog.Logger
}

func newVTEX(store product.Store, baseURL string, taxonomy TaxonomyWriter, pageTimeout time.Duration, log zerolog.Logger) *vtexScraper {
	return &vtexScraper{
		store:       store,
		baseURL:     strings.TrimRight(baseURL, "/"),
		taxonomy:    taxonomy,
		limiter:     rate.NewLimiter(rate.Every(vtexRequestInterval), 1),
		pageTimeout: pageTimeout,
		log:         log.With().Str("component", "scraper").Str("store", string(store)).Logger(),
	}
}

func (v *vtexScraper) Store() product.Store { return v.store }

func (v *vtexScraper) CanHandle(job queue.Job) bool {
	if job.Store != v.store {
		return false
	}
	switch job.Action {
	case queue.ActionDiscoverCategories, queue.ActionDiscoverBrands:
		return true
	case queue.ActionScrapeProducts:
		return job.ExternalID != ""
	}
	return false
}

// DiscoverCategories fetches the store's category tree endpoint and
// recurses it, upserting every node and collecting the leaves.
func (v *vtexScraper) DiscoverCategories(ctx context.Context, sess Session) ([]Leaf, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/catalog_system/pub/category/tree/%d", v.baseURL, vtexTreeDepth)

	fctx, cancel := context.WithTimeout(ctx, v.pageTimeout)
	defer cancel()

	var tree []vtexCategory
	if err := sess.FetchJSON(fctx, url, &tree); err != nil {
		return nil, fmt.Errorf("%w: category tree: %v", ErrNetwork, err)
	}

	var leaves []Leaf
	for _, node := range tree {
		ls, err := v.walkCategory(ctx, node, "", nil, 0)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, ls...)
	}

	v.log.Info().Int("leaves", len(leaves)).Msg("category tree discovered")
	return leaves, nil
}

// walkCategory upserts one node and recurses its children. Non-leaf nodes
// contribute no extraction work themselves.
func (v *vtexScraper) walkCategory(ctx context.Context, node vtexCategory, parentSlug string, idPath []string, level int) ([]Leaf, error) {
	slug := product.Slugify(node.Name)
	externalID := strconv.Itoa(node.ID)
	path := append(append([]string(nil), idPath...), externalID)

	cat := product.Category{
		Slug:       slug,
		Name:       node.Name,
		URL:        node.URL,
		Level:      level,
		ParentSlug: parentSlug,
	}
	if err := v.taxonomy.UpsertCategory(ctx, v.store, externalID, cat); err != nil {
		return nil, err
	}

	if len(node.Children) == 0 {
		return []Leaf{{
			Slug:       slug,
			ExternalID: externalID,
			Name:       node.Name,
			URL:        node.URL,
			IDPath:     path,
		}}, nil
	}

	var leaves []Leaf
	for _, child := range node.Children {
		ls, err := v.walkCategory(ctx, child, slug, path, level+1)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, ls...)
	}
	return leaves, nil
}

// DiscoverBrands pulls the store's brand list endpoint.
func (v *vtexScraper) DiscoverBrands(ctx context.Context, sess Session, _ queue.Job) error {
	if err := v.limiter.Wait(ctx); err != nil {
		return err
	}

	url := v.baseURL + "/api/catalog_system/pub/brand/list"

	fctx, cancel := context.WithTimeout(ctx, v.pageTimeout)
	defer cancel()

	var brands []vtexBrand
	if err := sess.FetchJSON(fctx, url, &brands); err != nil {
		return fmt.Errorf("%w: brand list: %v", ErrNetwork, err)
	}

	n := 0
	for _, b := range brands {
		if !b.IsActive || b.Name == "" {
			continue
		}
		brand := product.Brand{Slug: product.Slugify(b.Name), Name: b.Name}
		if err := v.taxonomy.UpsertBrand(ctx, brand); err != nil {
			v.log.Warn().Err(err).Str("brand", b.Name).Msg("brand upsert failed")
			continue
		}
		n++
	}
	v.log.Info().Int("brands", n).Msg("brands discovered")
	return nil
}

// ExtractProducts pages through the category filter in windows of 50
// until an empty page, a failed page, or the safety cap. Page failures
// end pagination as if exhausted; item failures skip the item.
func (v *vtexScraper) ExtractProducts(ctx context.Context, sess Session, job queue.Job, emit Emit) error {
	filter := job.ExternalID
	if len(job.IDPath) > 0 {
		filter = strings.Join(job.IDPath, "/")
	}

	for offset := 0; offset < vtexMaxItems; offset += vtexPageSize {
		if err := v.limiter.Wait(ctx); err != nil {
			return err
		}

		url := fmt.Sprintf(
			"%s/api/catalog_system/pub/products/search?fq=C:/%s/&_from=%d&_to=%d",
			v.baseURL, filter, offset, offset+vtexPageSize-1,
		)

		fctx, cancel := context.WithTimeout(ctx, v.pageTimeout)
		var page []vtexProduct
		err := sess.FetchJSON(fctx, url, &page)
		cancel()
		if err != nil {
			// A failed or hung page ends the loop without losing the
			// records already emitted.
			v.log.Warn().Err(err).
				Str("category", job.ExternalID).
				Int("offset", offset).
				Msg("page fetch failed, ending pagination")
			return nil
		}
		if len(page) == 0 {
			return nil
		}

		for _, raw := range page {
			rec, err := v.normalize(raw, job)
			if err != nil {
				v.log.Warn().Err(err).
					Str("category", job.ExternalID).
					Str("product_id", raw.ProductID).
					Str("name", raw.ProductName).
					Msg("product skipped")
				continue
			}
			if err := emit(rec); err != nil {
				v.log.Error().Err(err).
					Str("category", job.ExternalID).
					Str("product_id", rec.ProductID).
					Str("name", rec.Name).
					Msg("record rejected")
			}
		}

		if len(page) < vtexPageSize {
			return nil
		}
	}
	return nil
}

// normalize translates one VTEX product into the internal record shape.
func (v *vtexScraper) normalize(raw vtexProduct, job queue.Job) (product.ExtractionRecord, error) {
	if raw.ProductID == "" || raw.ProductName == "" {
		return product.ExtractionRecord{}, fmt.Errorf("%w: missing product id or name", ErrParse)
	}

	rec := product.ExtractionRecord{
		Store:        v.store,
		ProductID:    raw.ProductID,
		Name:         raw.ProductName,
		BrandName:    raw.Brand,
		CategorySlug: job.CategoryID,
		CategoryPath: job.IDPath,
		URL:          raw.Link,
	}

	for _, it := range raw.Items {
		item, err := v.normalizeItem(raw.ProductID, it)
		if err != nil {
			v.log.Debug().Err(err).
				Str("product_id", raw.ProductID).
				Str("sku", it.ItemID).
				Msg("item skipped")
			continue
		}
		rec.Items = append(rec.Items, item)
	}

	if len(rec.Items) == 0 {
		return product.ExtractionRecord{}, fmt.Errorf("%w: no usable items", ErrValidation)
	}
	return rec, nil
}

func (v *vtexScraper) normalizeItem(productID string, it vtexItem) (product.ExtractedItem, error) {
	if len(it.Sellers) == 0 {
		return product.ExtractedItem{}, fmt.Errorf("%w: item without sellers", ErrValidation)
	}
	offer := it.Sellers[0].Offer
	if offer.Price < 0 || offer.ListPrice < 0 {
		return product.ExtractedItem{}, fmt.Errorf("%w: negative price", ErrValidation)
	}

	item := product.ExtractedItem{
		SKU:           it.ItemID,
		EAN:           v.resolveEAN(productID, it),
		Price:         offer.Price,
		OriginalPrice: offer.ListPrice,
		Stock:         offer.Stock,
		Available:     offer.IsAvailable,
		Unit:          it.Unit,
	}

	for _, img := range it.Images {
		if img.ImageURL != "" {
			item.Images = append(item.Images, img.ImageURL)
		}
	}
	for _, variation := range it.Variations {
		if len(variation.Values) == 0 {
			continue
		}
		if item.Attributes == nil {
			item.Attributes = make(map[string]string)
		}
		item.Attributes[variation.Name] = variation.Values[0]
	}

	return item, nil
}

// resolveEAN takes the item's declared identifier when it validates,
// otherwise scans it for an embedded valid one, otherwise synthesizes a
// temporary identifier stable for this (store, sku).
func (v *vtexScraper) resolveEAN(productID string, it vtexItem) string {
	if ean.IsValid(it.EAN) {
		return it.EAN
	}
	if candidates := ean.ExtractCandidates(it.EAN); len(candidates) > 0 {
		return candidates[0]
	}
	return ean.Synthesize(v.store.Code(), productID+":"+it.ItemID)
}
