package scrapers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/Santt-m/new-caminando-sub003/internal/ean"
	"github.com/Santt-m/new-caminando-sub003/internal/product"
	"github.com/Santt-m/new-caminando-sub003/internal/queue"
)

// cotoScraper adapts the one DOM-only store. Coto exposes no catalog API,
// so categories come from the rendered menu and products from one rendered
// category page at a time (no pagination offset available).
type cotoScraper struct {
	baseURL     string
	taxonomy    TaxonomyWriter
	pageTimeout time.Duration
	log         zerolog.Logger
}

func newCoto(baseURL string, taxonomy TaxonomyWriter, pageTimeout time.Duration, log zerolog.Logger) *cotoScraper {
	return &cotoScraper{
		baseURL:     strings.TrimRight(baseURL, "/"),
		taxonomy:    taxonomy,
		pageTimeout: pageTimeout,
		log:         log.With().Str("component", "scraper").Str("store", string(product.StoreCoto)).Logger(),
	}
}

func (c *cotoScraper) Store() product.Store { return product.StoreCoto }

func (c *cotoScraper) CanHandle(job queue.Job) bool {
	if job.Store != product.StoreCoto {
		return false
	}
	switch job.Action {
	case queue.ActionDiscoverCategories:
		return true
	case queue.ActionDiscoverBrands, queue.ActionScrapeProducts:
		// DOM jobs carry the page to render.
		return job.URL != ""
	}
	return false
}

// DiscoverCategories renders the home page and parses the category menu.
// A menu entry without a nested list is a leaf.
func (c *cotoScraper) DiscoverCategories(ctx context.Context, sess Session) ([]Leaf, error) {
	nctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	if err := sess.Navigate(nctx, c.baseURL+"/sitios/cdigi/"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	html, err := sess.HTML(nctx, "html")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: menu: %v", ErrParse, err)
	}

	var leaves []Leaf
	var walkErr error
	doc.Find("nav#menuHeader li").Each(func(_ int, li *goquery.Selection) {
		if walkErr != nil {
			return
		}
		link := li.ChildrenFiltered("a").First()
		href, ok := link.Attr("href")
		name := strings.TrimSpace(link.Text())
		if !ok || name == "" || !strings.Contains(href, "/categoria/") {
			return
		}

		externalID := categoryIDFromURL(href)
		level := strings.Count(strings.Trim(strings.SplitN(href, "categoria/", 2)[1], "/"), "/")
		slug := product.Slugify(name)

		cat := product.Category{
			Slug:  slug,
			Name:  name,
			URL:   c.absolute(href),
			Level: level,
		}
		if parent := li.ParentsFiltered("li").First().ChildrenFiltered("a").First(); parent.Length() > 0 {
			cat.ParentSlug = product.Slugify(strings.TrimSpace(parent.Text()))
		}
		if err := c.taxonomy.UpsertCategory(ctx, product.StoreCoto, externalID, cat); err != nil {
			walkErr = err
			return
		}

		if li.Find("ul").Length() == 0 {
			leaves = append(leaves, Leaf{
				Slug:       slug,
				ExternalID: externalID,
				Name:       name,
				URL:        c.absolute(href),
			})
		}
	})
	if walkErr != nil {
		return nil, walkErr
	}

	c.log.Info().Int("leaves", len(leaves)).Msg("category menu discovered")
	return leaves, nil
}

// DiscoverBrands parses the brand filter block on a rendered category page.
func (c *cotoScraper) DiscoverBrands(ctx context.Context, sess Session, job queue.Job) error {
	nctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	if err := sess.Navigate(nctx, job.URL); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	html, err := sess.HTML(nctx, "html")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("%w: brand filter: %v", ErrParse, err)
	}

	n := 0
	doc.Find("#atg_store_facetInput_marca li a, .filtros_marca li a").Each(func(_ int, a *goquery.Selection) {
		name := strings.TrimSpace(a.Text())
		// Filter labels carry counts like "La Serenísima (12)".
		if i := strings.LastIndex(name, "("); i > 0 {
			name = strings.TrimSpace(name[:i])
		}
		if name == "" {
			return
		}
		brand := product.Brand{Slug: product.Slugify(name), Name: name}
		if err := c.taxonomy.UpsertBrand(ctx, brand); err != nil {
			c.log.Warn().Err(err).Str("brand", name).Msg("brand upsert failed")
			return
		}
		n++
	})

	c.log.Info().Int("brands", n).Str("category", job.CategoryID).Msg("brands discovered")
	return nil
}

// ExtractProducts renders the category page and parses its product cards.
// One page per job; item failures skip the item.
func (c *cotoScraper) ExtractProducts(ctx context.Context, sess Session, job queue.Job, emit Emit) error {
	nctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	if err := sess.Navigate(nctx, job.URL); err != nil {
		// Same semantics as a failed page in the API stores: no more pages.
		c.log.Warn().Err(err).Str("category", job.CategoryID).Msg("category page failed, ending extraction")
		return nil
	}
	html, err := sess.HTML(nctx, "html")
	if err != nil {
		c.log.Warn().Err(err).Str("category", job.CategoryID).Msg("category page unreadable, ending extraction")
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("%w: category page: %v", ErrParse, err)
	}

	doc.Find("li[id^='li_prod']").Each(func(_ int, card *goquery.Selection) {
		rec, err := c.parseCard(card, job)
		if err != nil {
			c.log.Warn().Err(err).
				Str("category", job.CategoryID).
				Str("name", strings.TrimSpace(card.Find(".descrip_full").Text())).
				Msg("product card skipped")
			return
		}
		if err := emit(rec); err != nil {
			c.log.Error().Err(err).
				Str("category", job.CategoryID).
				Str("product_id", rec.ProductID).
				Str("name", rec.Name).
				Msg("record rejected")
		}
	})
	return nil
}

func (c *cotoScraper) parseCard(card *goquery.Selection, job queue.Job) (product.ExtractionRecord, error) {
	id, _ := card.Attr("id")
	internalID := strings.TrimPrefix(id, "li_prod")
	name := strings.TrimSpace(card.Find(".descrip_full").Text())
	if internalID == "" || name == "" {
		return product.ExtractionRecord{}, fmt.Errorf("%w: card without id or name", ErrParse)
	}

	price, err := parsePesos(card.Find(".atg_store_newPrice").First().Text())
	if err != nil {
		return product.ExtractionRecord{}, fmt.Errorf("%w: price: %v", ErrValidation, err)
	}
	listPrice, _ := parsePesos(card.Find(".atg_store_regularPrice").First().Text())

	href, _ := card.Find("a").First().Attr("href")
	img, _ := card.Find("img").First().Attr("src")

	// Coto exposes no trade number; take one embedded in the detail URL
	// when present, else synthesize from the internal id.
	code := ""
	if candidates := ean.ExtractCandidates(href); len(candidates) > 0 {
		code = candidates[0]
	} else {
		code = ean.Synthesize(product.StoreCoto.Code(), internalID)
	}

	item := product.ExtractedItem{
		SKU:           internalID,
		EAN:           code,
		Price:         price,
		OriginalPrice: listPrice,
		Available:     price > 0,
	}
	if img != "" {
		item.Images = []string{img}
	}
	if unit := strings.TrimSpace(card.Find(".unit").Text()); unit != "" {
		item.Unit = unit
	}

	return product.ExtractionRecord{
		Store:        product.StoreCoto,
		ProductID:    internalID,
		Name:         name,
		BrandName:    strings.TrimSpace(card.Find(".atg_store_brand").Text()),
		Items:        []product.ExtractedItem{item},
		CategorySlug: job.CategoryID,
		URL:          c.absolute(href),
	}, nil
}

func (c *cotoScraper) absolute(href string) string {
	if href == "" || strings.HasPrefix(href, "http") {
		return href
	}
	return c.baseURL + "/" + strings.TrimLeft(href, "/")
}

// categoryIDFromURL takes the last path segment as the store's category id.
func categoryIDFromURL(href string) string {
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		return href[i+1:]
	}
	return href
}

// parsePesos parses "$ 1.234,56" into 1234.56.
func parsePesos(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty price")
	}
	var v float64
	if _, err := fmt.Sscanf(s, "%f", &v); err != nil {
		return 0, fmt.Errorf("unparseable price %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative price %q", s)
	}
	return v, nil
}
