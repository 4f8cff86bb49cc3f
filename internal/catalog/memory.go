package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/Santt-m/new-caminando-sub003/internal/product"
)

// Memory is an in-process Catalog used by tests and local runs without
// Postgres. Resolve serializes on one mutex, which gives the same
// read-modify-write atomicity the Postgres row locks provide.
type Memory struct {
	mu         sync.Mutex
	products   map[string]*product.CanonicalProduct // by id
	brands     map[string]product.Brand
	categories map[string]*product.Category // by slug
}

// NewMemory returns an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{
		products:   make(map[string]*product.CanonicalProduct),
		brands:     make(map[string]product.Brand),
		categories: make(map[string]*product.Category),
	}
}

func clone(p *product.CanonicalProduct) *product.CanonicalProduct {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Subcategories = append([]string(nil), p.Subcategories...)
	cp.Tags = append([]string(nil), p.Tags...)
	cp.Variants = append([]product.Variant(nil), p.Variants...)
	cp.Sources = append([]product.Source(nil), p.Sources...)
	return &cp
}

type memTx struct {
	m *Memory
}

// AcquireIdentifier is a no-op: the catalog mutex held for the whole
// Resolve call already serializes every identifier.
func (t *memTx) AcquireIdentifier(context.Context, string) error { return nil }

func (t *memTx) FindByEANs(_ context.Context, eans []string) (*product.CanonicalProduct, error) {
	want := make(map[string]struct{}, len(eans))
	for _, e := range eans {
		if e != "" {
			want[e] = struct{}{}
		}
	}
	if len(want) == 0 {
		return nil, ErrNotFound
	}
	for _, p := range t.m.products {
		if _, ok := want[p.EAN]; ok {
			return clone(p), nil
		}
		for _, v := range p.Variants {
			if _, ok := want[v.EAN]; ok {
				return clone(p), nil
			}
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) FindBySource(_ context.Context, store product.Store, productID string) (*product.CanonicalProduct, error) {
	for _, p := range t.m.products {
		for _, src := range p.Sources {
			if src.Store == store && src.ProductID == productID {
				return clone(p), nil
			}
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) FindBySlug(_ context.Context, slug string) (*product.CanonicalProduct, error) {
	for _, p := range t.m.products {
		if p.Slug == slug {
			return clone(p), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) Insert(_ context.Context, p *product.CanonicalProduct) error {
	for _, existing := range t.m.products {
		if existing.Slug == p.Slug {
			return ErrDuplicateSlug
		}
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	t.m.products[p.ID] = clone(p)
	return nil
}

func (t *memTx) Update(_ context.Context, p *product.CanonicalProduct) error {
	if _, ok := t.m.products[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now()
	t.m.products[p.ID] = clone(p)
	return nil
}

// Resolve runs fn holding the catalog mutex.
func (m *Memory) Resolve(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{m: m})
}

func (m *Memory) UpsertBrand(_ context.Context, b product.Brand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brands[b.Slug] = b
	return nil
}

func (m *Memory) UpsertCategory(_ context.Context, store product.Store, externalID string, c product.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.categories[c.Slug]
	for _, existing := range m.categories {
		if id, ok := existing.ExternalIDs[store]; ok && id == externalID {
			target = existing
			break
		}
	}
	if target == nil {
		cc := c
		cc.ExternalIDs = map[product.Store]string{store: externalID}
		m.categories[c.Slug] = &cc
		return nil
	}
	target.Name = c.Name
	target.Level = c.Level
	if c.URL != "" {
		target.URL = c.URL
	}
	if c.ParentSlug != "" {
		target.ParentSlug = c.ParentSlug
	}
	if target.ExternalIDs == nil {
		target.ExternalIDs = make(map[product.Store]string)
	}
	target.ExternalIDs[store] = externalID
	return nil
}

func (m *Memory) CategoryByExternalID(_ context.Context, store product.Store, externalID string) (*product.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.categories {
		if id, ok := c.ExternalIDs[store]; ok && id == externalID {
			cc := *c
			return &cc, nil
		}
	}
	return nil, ErrNotFound
}

// Read surface.

func (m *Memory) ProductBySlug(ctx context.Context, slug string) (*product.CanonicalProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{m: m}).FindBySlug(ctx, slug)
}

func (m *Memory) ProductByEAN(ctx context.Context, ean string) (*product.CanonicalProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{m: m}).FindByEANs(ctx, []string{ean})
}

func (m *Memory) ProductBySource(ctx context.Context, store product.Store, productID string) (*product.CanonicalProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{m: m}).FindBySource(ctx, store, productID)
}

func (m *Memory) ListProducts(_ context.Context, f ListFilter) ([]*product.CanonicalProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*product.CanonicalProduct
	for _, p := range m.products {
		if f.CategorySlug != "" && p.CategorySlug != f.CategorySlug {
			continue
		}
		if f.BrandSlug != "" && p.BrandSlug != f.BrandSlug {
			continue
		}
		if f.OnlyAvailable && !p.Available {
			continue
		}
		out = append(out, clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SearchProducts(_ context.Context, query string, limit int) ([]*product.CanonicalProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	var candidates []*product.CanonicalProduct
	for _, p := range m.products {
		if fuzzy.MatchNormalizedFold(query, p.Name) {
			candidates = append(candidates, clone(p))
		}
	}
	return rankByName(query, candidates, limit), nil
}
