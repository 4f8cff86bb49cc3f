package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Santt-m/new-caminando-sub003/internal/catalog"
	"github.com/Santt-m/new-caminando-sub003/internal/ean"
	"github.com/Santt-m/new-caminando-sub003/internal/product"
)

func newTestResolver(t *testing.T) (*Resolver, *catalog.Memory) {
	t.Helper()
	mem := catalog.NewMemory()
	r := New(mem, zerolog.Nop())
	r.now = func() time.Time { return mergeNow }
	return r, mem
}

func jumboRecord() product.ExtractionRecord {
	return product.ExtractionRecord{
		Store:     product.StoreJumbo,
		ProductID: "A-1",
		Name:      "Aceite de Girasol 900ml",
		Items: []product.ExtractedItem{
			{SKU: "X", EAN: "7790070501001", Price: 100, Available: true},
		},
	}
}

func TestProcessCreatesCanonicalProduct(t *testing.T) {
	r, mem := newTestResolver(t)
	ctx := context.Background()

	got, err := r.Process(ctx, jumboRecord())
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "aceite-de-girasol-900ml-a-1", got.Slug)
	assert.Equal(t, "7790070501001", got.EAN)
	assert.Equal(t, "ARS", got.Currency)
	assert.Equal(t, 100.0, got.Price)
	assert.True(t, got.Available)
	require.Len(t, got.Sources, 1)
	require.Len(t, got.Variants, 1)

	stored, err := mem.ProductByEAN(ctx, "7790070501001")
	require.NoError(t, err)
	assert.Equal(t, got.ID, stored.ID)
}

func TestProcessLinksSecondStoreByIdentifier(t *testing.T) {
	r, mem := newTestResolver(t)
	ctx := context.Background()

	first, err := r.Process(ctx, jumboRecord())
	require.NoError(t, err)

	coto := product.ExtractionRecord{
		Store:     product.StoreCoto,
		ProductID: "B-9",
		Name:      "Aceite Girasol Cocinero 900 ml",
		Items: []product.ExtractedItem{
			{SKU: "Y", EAN: "7790070501001", Price: 90, Available: true},
		},
	}
	second, err := r.Process(ctx, coto)
	require.NoError(t, err)

	// one canonical product, not two
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 90.0, second.Price)
	require.Len(t, second.Sources, 2)
	require.Len(t, second.Variants, 1)

	// both store lookups land on the same row
	byJumbo, err := mem.ProductBySource(ctx, product.StoreJumbo, "A-1")
	require.NoError(t, err)
	byCoto, err := mem.ProductBySource(ctx, product.StoreCoto, "B-9")
	require.NoError(t, err)
	assert.Equal(t, byJumbo.ID, byCoto.ID)
}

func TestProcessSameStoreRescrapeUpdatesInPlace(t *testing.T) {
	r, mem := newTestResolver(t)
	ctx := context.Background()

	_, err := r.Process(ctx, jumboRecord())
	require.NoError(t, err)

	rec := jumboRecord()
	rec.Items[0].Price = 110
	got, err := r.Process(ctx, rec)
	require.NoError(t, err)

	require.Len(t, got.Sources, 1)
	assert.Equal(t, 110.0, got.Sources[0].Price)

	all, err := mem.ListProducts(ctx, catalog.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProcessResolvesBySourceWhenIdentifierChanges(t *testing.T) {
	r, mem := newTestResolver(t)
	ctx := context.Background()

	noEAN := product.ExtractionRecord{
		Store:     product.StoreCoto,
		ProductID: "55",
		Name:      "Pan Lactal",
		Items: []product.ExtractedItem{
			{SKU: "s", EAN: ean.Synthesize("cot", "55"), Price: 40, Available: true},
		},
	}
	first, err := r.Process(ctx, noEAN)
	require.NoError(t, err)

	// next scrape the store starts exposing a real number; the source
	// step still finds the existing product and the new variant appends
	withEAN := noEAN
	withEAN.Items = []product.ExtractedItem{
		{SKU: "s", EAN: "7790070501004", Price: 40, Available: true},
	}
	second, err := r.Process(ctx, withEAN)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Variants, 2)

	got, err := mem.ProductByEAN(ctx, "7790070501004")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestProcessSkipsUnusableRecords(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := r.Process(ctx, product.ExtractionRecord{Store: product.StoreJumbo, Name: "sin id"})
	assert.ErrorIs(t, err, ErrSkipped)

	_, err = r.Process(ctx, product.ExtractionRecord{Store: product.StoreJumbo, ProductID: "1"})
	assert.ErrorIs(t, err, ErrSkipped)

	_, err = r.Process(ctx, product.ExtractionRecord{Store: product.StoreJumbo, ProductID: "1", Name: "sin items"})
	assert.ErrorIs(t, err, ErrSkipped)
}

func TestProcessDropsItemsWithoutIdentifierOnCreate(t *testing.T) {
	r, _ := newTestResolver(t)

	rec := product.ExtractionRecord{
		Store:     product.StoreCarrefour,
		ProductID: "77",
		Name:      "Galletitas Surtidas",
		Items: []product.ExtractedItem{
			{SKU: "a", EAN: "", Price: 30, Available: true},
			{SKU: "b", EAN: "7790070501004", Price: 35, Available: true},
		},
	}
	got, err := r.Process(context.Background(), rec)
	require.NoError(t, err)

	require.Len(t, got.Variants, 1)
	assert.Equal(t, "b", got.Variants[0].SKU)
	// price clamps to the surviving variant range
	assert.Equal(t, 35.0, got.Price)
}

// conflictCatalog wraps Memory and forces ErrDuplicateSlug on the first
// n inserts, simulating another worker winning the create race.
type conflictCatalog struct {
	*catalog.Memory
	failures int
}

type conflictTx struct {
	catalog.Tx
	c *conflictCatalog
}

func (c *conflictCatalog) Resolve(ctx context.Context, fn func(catalog.Tx) error) error {
	return c.Memory.Resolve(ctx, func(tx catalog.Tx) error {
		return fn(&conflictTx{Tx: tx, c: c})
	})
}

func (t *conflictTx) Insert(ctx context.Context, p *product.CanonicalProduct) error {
	if t.c.failures > 0 {
		t.c.failures--
		return catalog.ErrDuplicateSlug
	}
	return t.Tx.Insert(ctx, p)
}

func TestProcessRetriesCreateRace(t *testing.T) {
	cat := &conflictCatalog{Memory: catalog.NewMemory(), failures: 2}
	r := New(cat, zerolog.Nop())
	r.now = func() time.Time { return mergeNow }

	got, err := r.Process(context.Background(), jumboRecord())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Zero(t, cat.failures)
}

func TestProcessGivesUpAfterRepeatedConflicts(t *testing.T) {
	cat := &conflictCatalog{Memory: catalog.NewMemory(), failures: 100}
	r := New(cat, zerolog.Nop())

	_, err := r.Process(context.Background(), jumboRecord())
	assert.ErrorIs(t, err, ErrConflict)
}

// callOrderCatalog records the sequence of Tx operations.
type callOrderCatalog struct {
	*catalog.Memory
	calls []string
}

type callOrderTx struct {
	catalog.Tx
	c *callOrderCatalog
}

func (c *callOrderCatalog) Resolve(ctx context.Context, fn func(catalog.Tx) error) error {
	return c.Memory.Resolve(ctx, func(tx catalog.Tx) error {
		return fn(&callOrderTx{Tx: tx, c: c})
	})
}

func (t *callOrderTx) AcquireIdentifier(ctx context.Context, ean string) error {
	t.c.calls = append(t.c.calls, "lock:"+ean)
	return t.Tx.AcquireIdentifier(ctx, ean)
}

func (t *callOrderTx) FindByEANs(ctx context.Context, eans []string) (*product.CanonicalProduct, error) {
	t.c.calls = append(t.c.calls, "find-eans")
	return t.Tx.FindByEANs(ctx, eans)
}

func TestProcessLocksIdentifiersBeforeLookup(t *testing.T) {
	cat := &callOrderCatalog{Memory: catalog.NewMemory()}
	r := New(cat, zerolog.Nop())

	rec := product.ExtractionRecord{
		Store:     product.StoreJumbo,
		ProductID: "A-1",
		Name:      "Aceite de Girasol 900ml",
		Items: []product.ExtractedItem{
			{SKU: "X", EAN: "7790070501004", Price: 100, Available: true},
			{SKU: "Y", EAN: "2016123456786", Price: 120, Available: true},
		},
	}
	_, err := r.Process(context.Background(), rec)
	require.NoError(t, err)

	// every identifier locked, in sorted order, before any read
	require.GreaterOrEqual(t, len(cat.calls), 3)
	assert.Equal(t, []string{"lock:2016123456786", "lock:7790070501004", "find-eans"}, cat.calls[:3])
}

// keyedCatalog mirrors the Postgres locking model: every Tx operation is
// its own short critical section, and only the identifier locks span the
// whole resolve, held until the callback returns. Nothing else serializes
// two concurrent resolves.
type keyedCatalog struct {
	*catalog.Memory
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedCatalog() *keyedCatalog {
	return &keyedCatalog{Memory: catalog.NewMemory(), locks: make(map[string]*sync.Mutex)}
}

func (c *keyedCatalog) Resolve(_ context.Context, fn func(catalog.Tx) error) error {
	tx := &keyedTx{c: c}
	defer tx.unlockAll()
	return fn(tx)
}

type keyedTx struct {
	c    *keyedCatalog
	held []*sync.Mutex
}

func (t *keyedTx) unlockAll() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
}

func (t *keyedTx) AcquireIdentifier(_ context.Context, ean string) error {
	t.c.mu.Lock()
	l, ok := t.c.locks[ean]
	if !ok {
		l = &sync.Mutex{}
		t.c.locks[ean] = l
	}
	t.c.mu.Unlock()

	l.Lock()
	t.held = append(t.held, l)
	return nil
}

func (t *keyedTx) step(ctx context.Context, fn func(catalog.Tx) error) error {
	return t.c.Memory.Resolve(ctx, fn)
}

func (t *keyedTx) FindByEANs(ctx context.Context, eans []string) (p *product.CanonicalProduct, err error) {
	stepErr := t.step(ctx, func(tx catalog.Tx) error {
		p, err = tx.FindByEANs(ctx, eans)
		return nil
	})
	if stepErr != nil {
		return nil, stepErr
	}
	return p, err
}

func (t *keyedTx) FindBySource(ctx context.Context, store product.Store, productID string) (p *product.CanonicalProduct, err error) {
	stepErr := t.step(ctx, func(tx catalog.Tx) error {
		p, err = tx.FindBySource(ctx, store, productID)
		return nil
	})
	if stepErr != nil {
		return nil, stepErr
	}
	return p, err
}

func (t *keyedTx) FindBySlug(ctx context.Context, slug string) (p *product.CanonicalProduct, err error) {
	stepErr := t.step(ctx, func(tx catalog.Tx) error {
		p, err = tx.FindBySlug(ctx, slug)
		return nil
	})
	if stepErr != nil {
		return nil, stepErr
	}
	return p, err
}

func (t *keyedTx) Insert(ctx context.Context, p *product.CanonicalProduct) (err error) {
	stepErr := t.step(ctx, func(tx catalog.Tx) error {
		err = tx.Insert(ctx, p)
		return nil
	})
	if stepErr != nil {
		return stepErr
	}
	return err
}

func (t *keyedTx) Update(ctx context.Context, p *product.CanonicalProduct) (err error) {
	stepErr := t.step(ctx, func(tx catalog.Tx) error {
		err = tx.Update(ctx, p)
		return nil
	})
	if stepErr != nil {
		return stepErr
	}
	return err
}

func TestConcurrentFirstScrapesCreateOneProduct(t *testing.T) {
	cat := newKeyedCatalog()
	r := New(cat, zerolog.Nop())
	r.now = func() time.Time { return mergeNow }

	records := []product.ExtractionRecord{
		{
			Store:     product.StoreJumbo,
			ProductID: "A-1",
			Name:      "Aceite de Girasol 900ml",
			Items:     []product.ExtractedItem{{SKU: "X", EAN: "7790070501001", Price: 100, Available: true}},
		},
		{
			Store:     product.StoreCoto,
			ProductID: "B-9",
			Name:      "Aceite Girasol Cocinero 900 ml",
			Items:     []product.ExtractedItem{{SKU: "Y", EAN: "7790070501001", Price: 90, Available: true}},
		},
	}

	// both workers start their first-ever scrape of this product at once;
	// slugs differ (store product ids differ), so only the identifier
	// lock stands between them and twin inserts
	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, rec := range records {
		rec := rec
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := r.Process(context.Background(), rec)
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	all, err := cat.ListProducts(context.Background(), catalog.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1, "same identifier must converge on one canonical product")
	assert.Len(t, all[0].Sources, 2)
	assert.Len(t, all[0].Variants, 1)
}

func TestEndToEndTwoStoresOneProduct(t *testing.T) {
	r, mem := newTestResolver(t)
	ctx := context.Background()

	_, err := r.Process(ctx, product.ExtractionRecord{
		Store:     product.StoreJumbo,
		ProductID: "A-1",
		Name:      "Aceite de Girasol 900ml",
		Items:     []product.ExtractedItem{{SKU: "X", EAN: "7790070501001", Price: 100, Available: true}},
	})
	require.NoError(t, err)

	_, err = r.Process(ctx, product.ExtractionRecord{
		Store:     product.StoreCoto,
		ProductID: "B-9",
		Name:      "Aceite de Girasol 900ml",
		Items:     []product.ExtractedItem{{SKU: "Y", EAN: "7790070501001", Price: 90, Available: true}},
	})
	require.NoError(t, err)

	got, err := mem.ProductByEAN(ctx, "7790070501001")
	require.NoError(t, err)

	assert.Equal(t, 90.0, got.Price)
	assert.Len(t, got.Sources, 2)
	assert.Len(t, got.Variants, 1)
}
