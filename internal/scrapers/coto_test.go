package scrapers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Santt-m/new-caminando-sub003/internal/ean"
	"github.com/Santt-m/new-caminando-sub003/internal/product"
	"github.com/Santt-m/new-caminando-sub003/internal/queue"
)

func newTestCoto(taxonomy TaxonomyWriter) *cotoScraper {
	return newCoto("https://www.cotodigital3.com.ar", taxonomy, 5*time.Second, zerolog.Nop())
}

const cotoMenuHTML = `<html><body>
<nav id="menuHeader"><ul>
  <li><a href="/sitios/cdigi/categoria/almacen/_/N-abc">Almacén</a>
    <ul>
      <li><a href="/sitios/cdigi/categoria/almacen/aceites/_/N-def">Aceites</a></li>
    </ul>
  </li>
  <li><a href="/sitios/cdigi/categoria/bebidas/_/N-xyz">Bebidas</a></li>
  <li><a href="/sitios/cdigi/ayuda">Ayuda</a></li>
</ul></nav>
</body></html>`

func TestCotoDiscoverCategories(t *testing.T) {
	rec := newTaxonomyRec()
	c := newTestCoto(rec)
	sess := &fakeSession{page: func(sel string) (string, error) {
		assert.Equal(t, "html", sel)
		return cotoMenuHTML, nil
	}}

	leaves, err := c.DiscoverCategories(context.Background(), sess)
	require.NoError(t, err)

	require.Len(t, sess.urls, 1)
	assert.Contains(t, sess.urls[0], "/sitios/cdigi/")

	// "Ayuda" is not a category link; "Almacén" has children
	assert.Len(t, rec.categories, 3)
	require.Len(t, leaves, 2)
	assert.Equal(t, "aceites", leaves[0].Slug)
	assert.Equal(t, "N-def", leaves[0].ExternalID)
	assert.Equal(t, "https://www.cotodigital3.com.ar/sitios/cdigi/categoria/almacen/aceites/_/N-def", leaves[0].URL)
	assert.Equal(t, "bebidas", leaves[1].Slug)

	assert.Equal(t, "almacen", rec.categories["N-def"].ParentSlug)
}

func TestCotoDiscoverCategoriesNavigationError(t *testing.T) {
	c := newTestCoto(newTaxonomyRec())
	sess := &fakeSession{nav: func(string) error { return errors.New("net::ERR_TIMED_OUT") }}

	_, err := c.DiscoverCategories(context.Background(), sess)
	assert.ErrorIs(t, err, ErrNetwork)
}

const cotoBrandsHTML = `<html><body>
<div id="atg_store_facetInput_marca"><ul>
  <li><a href="#">La Serenísima (12)</a></li>
  <li><a href="#">Cocinero (3)</a></li>
  <li><a href="#">   </a></li>
</ul></div>
</body></html>`

func TestCotoDiscoverBrands(t *testing.T) {
	rec := newTaxonomyRec()
	c := newTestCoto(rec)
	sess := &fakeSession{page: func(string) (string, error) { return cotoBrandsHTML, nil }}

	job := queue.NewJob(product.StoreCoto, queue.ActionDiscoverBrands)
	job.URL = "https://www.cotodigital3.com.ar/sitios/cdigi/categoria/aceites/_/N-def"

	require.NoError(t, c.DiscoverBrands(context.Background(), sess, job))
	require.Len(t, rec.brands, 2)
	assert.Equal(t, "la-serenisima", rec.brands[0].Slug)
	assert.Equal(t, "La Serenísima", rec.brands[0].Name, "the facet count is stripped")
	assert.Equal(t, "cocinero", rec.brands[1].Slug)
}

const cotoProductsHTML = `<html><body><ul>
<li id="li_prod00123">
  <a href="/sitios/cdigi/producto/aceite-cocinero-900ml/_/A-00123">
    <img src="https://static.cotodigital3.com.ar/sitios/fotos/full/00123.jpg">
    <span class="descrip_full">Aceite Cocinero 900ml</span>
    <span class="atg_store_brand">Cocinero</span>
    <span class="atg_store_newPrice">$ 1.234,56</span>
    <span class="atg_store_regularPrice">$ 1.500,00</span>
    <span class="unit">Precio por litro: $ 1.371,73</span>
  </a>
</li>
<li id="li_prod00456">
  <span class="descrip_full">Sin precio</span>
</li>
</ul></body></html>`

func TestCotoExtractProducts(t *testing.T) {
	c := newTestCoto(newTaxonomyRec())
	sess := &fakeSession{page: func(string) (string, error) { return cotoProductsHTML, nil }}

	job := queue.NewJob(product.StoreCoto, queue.ActionScrapeProducts)
	job.CategoryID = "aceites"
	job.URL = "https://www.cotodigital3.com.ar/sitios/cdigi/categoria/aceites/_/N-def"

	var got []product.ExtractionRecord
	require.NoError(t, c.ExtractProducts(context.Background(), sess, job, emitInto(&got)))

	require.Len(t, got, 1, "the priceless card is skipped")
	rec := got[0]
	assert.Equal(t, product.StoreCoto, rec.Store)
	assert.Equal(t, "00123", rec.ProductID)
	assert.Equal(t, "Aceite Cocinero 900ml", rec.Name)
	assert.Equal(t, "Cocinero", rec.BrandName)
	assert.Equal(t, "aceites", rec.CategorySlug)

	require.Len(t, rec.Items, 1)
	it := rec.Items[0]
	assert.Equal(t, 1234.56, it.Price)
	assert.Equal(t, 1500.0, it.OriginalPrice)
	assert.True(t, it.Available)
	assert.True(t, ean.IsTemporary(it.EAN), "no trade number on the card, one is synthesized")
	require.Len(t, it.Images, 1)
}

func TestCotoExtractProductsNavigationEndsQuietly(t *testing.T) {
	c := newTestCoto(newTaxonomyRec())
	sess := &fakeSession{nav: func(string) error { return errors.New("timeout") }}

	job := queue.NewJob(product.StoreCoto, queue.ActionScrapeProducts)
	job.URL = "https://www.cotodigital3.com.ar/sitios/cdigi/categoria/aceites/_/N-def"

	var got []product.ExtractionRecord
	assert.NoError(t, c.ExtractProducts(context.Background(), sess, job, emitInto(&got)))
	assert.Empty(t, got)
}

func TestCotoCanHandle(t *testing.T) {
	c := newTestCoto(newTaxonomyRec())

	assert.True(t, c.CanHandle(queue.NewJob(product.StoreCoto, queue.ActionDiscoverCategories)))

	scrape := queue.NewJob(product.StoreCoto, queue.ActionScrapeProducts)
	assert.False(t, c.CanHandle(scrape), "rendered extraction needs a page url")
	scrape.URL = "https://www.cotodigital3.com.ar/sitios/cdigi/categoria/aceites/_/N-def"
	assert.True(t, c.CanHandle(scrape))

	assert.False(t, c.CanHandle(queue.NewJob(product.StoreJumbo, queue.ActionScrapeProducts)))
}

func TestParsePesos(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"$ 1.234,56", 1234.56},
		{"$99,90", 99.90},
		{" $ 10 ", 10},
		{"1.000,00", 1000},
	}
	for _, c := range cases {
		got, err := parsePesos(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	_, err := parsePesos("")
	assert.Error(t, err)
	_, err = parsePesos("precio")
	assert.Error(t, err)
	_, err = parsePesos("$ -5,00")
	assert.Error(t, err)
}

func TestCategoryIDFromURL(t *testing.T) {
	assert.Equal(t, "N-def", categoryIDFromURL("/sitios/cdigi/categoria/almacen/aceites/_/N-def"))
	assert.Equal(t, "N-abc", categoryIDFromURL("/categoria/almacen/_/N-abc/"))
	assert.Equal(t, "solo", categoryIDFromURL("solo"))
}
