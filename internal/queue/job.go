// Package queue is the durable, priority-ordered work queue that sequences
// discovery before extraction per store.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/Santt-m/new-caminando-sub003/internal/product"
)

// Action is a job kind.
type Action string

const (
	ActionDiscoverCategories Action = "discover-categories"
	ActionDiscoverBrands     Action = "discover-brands"
	ActionScrapeProducts     Action = "scrape-products"
)

// Band is a priority band. Discovery outranks extraction so category trees
// are fully mapped before bulk product scraping begins; within a band the
// queue is FIFO.
type Band int

const (
	BandDiscovery Band = iota
	BandExtraction
)

func (b Band) String() string {
	if b == BandDiscovery {
		return "discovery"
	}
	return "extraction"
}

// Job is one unit of scraping work.
type Job struct {
	ID         string        `json:"id"`
	Store      product.Store `json:"store"`
	Action     Action        `json:"action"`
	CategoryID string        `json:"categoryId,omitempty"` // master taxonomy slug
	ExternalID string        `json:"externalId,omitempty"` // store's own category id
	URL        string        `json:"url,omitempty"`
	IDPath     []string      `json:"idPath,omitempty"` // nested category filter path
	Attempts   int           `json:"attempts"`
	EnqueuedAt time.Time     `json:"enqueuedAt"`
	LastError  string        `json:"lastError,omitempty"`
}

// NewJob builds a job with a fresh id.
func NewJob(store product.Store, action Action) Job {
	return Job{
		ID:         uuid.NewString(),
		Store:      store,
		Action:     action,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Band returns the priority band the job's action belongs to.
func (j Job) Band() Band {
	if j.Action == ActionScrapeProducts {
		return BandExtraction
	}
	return BandDiscovery
}
