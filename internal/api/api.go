// Package api serves the read-only catalog query surface consumed by the
// admin and dashboard layers. All catalog mutation stays with the
// resolver; nothing here writes.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Santt-m/new-caminando-sub003/internal/catalog"
	"github.com/Santt-m/new-caminando-sub003/internal/product"
	"github.com/Santt-m/new-caminando-sub003/internal/queue"
)

// Server exposes the catalog reads plus an operational health endpoint.
type Server struct {
	cat   catalog.Reader
	queue *queue.Queue
	log   zerolog.Logger
}

// New builds the server.
func New(cat catalog.Reader, q *queue.Queue, log zerolog.Logger) *Server {
	return &Server{cat: cat, queue: q, log: log.With().Str("component", "api").Logger()}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router(debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.GET("/healthz", s.health)
	r.GET("/products", s.listProducts)
	r.GET("/products/:slug", s.productBySlug)
	r.GET("/search", s.search)

	return r
}

func (s *Server) health(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if s.queue != nil {
		depths, err := s.queue.Depths(c.Request.Context())
		if err != nil {
			s.log.Warn().Err(err).Msg("queue depth check failed")
			status["queue"] = "unreachable"
		} else {
			status["queue"] = depths
		}
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) productBySlug(c *gin.Context) {
	p, err := s.cat.ProductBySlug(c.Request.Context(), c.Param("slug"))
	s.respondOne(c, p, err)
}

// listProducts handles the keyed lookups (?ean=, ?store=&pid=) and the
// paginated listing with category/brand/availability filters.
func (s *Server) listProducts(c *gin.Context) {
	ctx := c.Request.Context()

	if ean := c.Query("ean"); ean != "" {
		p, err := s.cat.ProductByEAN(ctx, ean)
		s.respondOne(c, p, err)
		return
	}

	if store := c.Query("store"); store != "" {
		pid := c.Query("pid")
		if pid == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pid required with store"})
			return
		}
		p, err := s.cat.ProductBySource(ctx, product.Store(store), pid)
		s.respondOne(c, p, err)
		return
	}

	f := catalog.ListFilter{
		CategorySlug:  c.Query("category"),
		BrandSlug:     c.Query("brand"),
		OnlyAvailable: c.Query("available") == "true",
		Limit:         intQuery(c, "limit", 50),
		Offset:        intQuery(c, "offset", 0),
	}
	list, err := s.cat.ListProducts(ctx, f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": list, "count": len(list)})
}

func (s *Server) search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q required"})
		return
	}
	list, err := s.cat.SearchProducts(c.Request.Context(), q, intQuery(c, "limit", 20))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": list, "count": len(list)})
}

func (s *Server) respondOne(c *gin.Context, p *product.CanonicalProduct, err error) {
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) fail(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) {
		c.Status(http.StatusRequestTimeout)
		return
	}
	s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
