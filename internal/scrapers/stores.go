package scrapers

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/Santt-m/new-caminando-sub003/internal/product"
)

// Store base URLs. Jumbo, Vea and Disco share the Cencosud VTEX platform;
// Carrefour runs its own VTEX instance; Coto is DOM-only.
const (
	jumboBaseURL     = "https://www.jumbo.com.ar"
	veaBaseURL       = "https://www.vea.com.ar"
	discoBaseURL     = "https://www.disco.com.ar"
	carrefourBaseURL = "https://www.carrefour.com.ar"
	cotoBaseURL      = "https://www.cotodigital3.com.ar"
)

// DefaultRegistry wires one adapter per supported store.
func DefaultRegistry(taxonomy TaxonomyWriter, pageTimeout time.Duration, log zerolog.Logger) *Registry {
	return NewRegistry(
		newVTEX(product.StoreJumbo, jumboBaseURL, taxonomy, pageTimeout, log),
		newVTEX(product.StoreVea, veaBaseURL, taxonomy, pageTimeout, log),
		newVTEX(product.StoreDisco, discoBaseURL, taxonomy, pageTimeout, log),
		newVTEX(product.StoreCarrefour, carrefourBaseURL, taxonomy, pageTimeout, log),
		newCoto(cotoBaseURL, taxonomy, pageTimeout, log),
	)
}
