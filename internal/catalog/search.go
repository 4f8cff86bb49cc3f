package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/Santt-m/new-caminando-sub003/internal/product"
)

// searchPrefilterLimit caps the rows pulled for in-memory fuzzy ranking.
const searchPrefilterLimit = 200

// SearchProducts runs a fuzzy name search: a cheap ILIKE prefilter on the
// first query token narrows the candidate set, then fuzzysearch ranks the
// survivors against the full query.
func (s *Postgres) SearchProducts(ctx context.Context, query string, limit int) ([]*product.CanonicalProduct, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	token := strings.Fields(product.Normalize(query))[0]

	sql := `
		SELECT ` + productColumns + `
		FROM products
		WHERE translate(lower(name), 'áéíóúüñ', 'aeiouun') LIKE '%' || $1 || '%'
		LIMIT $2
	`
	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, sql, token, searchPrefilterLimit); err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}

	candidates := make([]*product.CanonicalProduct, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, p)
	}

	return rankByName(query, candidates, limit), nil
}

// rankByName orders candidates by fuzzy match distance to query and trims
// non-matches.
func rankByName(query string, candidates []*product.CanonicalProduct, limit int) []*product.CanonicalProduct {
	type ranked struct {
		p    *product.CanonicalProduct
		rank int
	}

	matches := make([]ranked, 0, len(candidates))
	for _, p := range candidates {
		r := fuzzy.RankMatchNormalizedFold(query, p.Name)
		if r < 0 {
			continue
		}
		matches = append(matches, ranked{p: p, rank: r})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].rank < matches[j].rank })

	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]*product.CanonicalProduct, len(matches))
	for i, m := range matches {
		out[i] = m.p
	}
	return out
}
