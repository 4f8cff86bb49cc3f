// Package worker runs the fixed-size pool that pulls jobs off the queue
// and drives the store adapters.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Santt-m/new-caminando-sub003/internal/browser"
	"github.com/Santt-m/new-caminando-sub003/internal/product"
	"github.com/Santt-m/new-caminando-sub003/internal/queue"
	"github.com/Santt-m/new-caminando-sub003/internal/resolver"
	"github.com/Santt-m/new-caminando-sub003/internal/scrapers"
)

// Pool coordinates the job workers. Its size is bounded by the browser
// pool's process cap, so a worker never waits long for a session in the
// steady state.
type Pool struct {
	queue    *queue.Queue
	browsers *browser.Pool
	registry *scrapers.Registry
	resolver *resolver.Resolver
	size     int
	log      zerolog.Logger
}

// New builds a worker pool of the given size.
func New(q *queue.Queue, browsers *browser.Pool, registry *scrapers.Registry, res *resolver.Resolver, size int, log zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		queue:    q,
		browsers: browsers,
		registry: registry,
		resolver: res,
		size:     size,
		log:      log.With().Str("component", "worker").Logger(),
	}
}

// Run starts the workers and blocks until ctx is canceled and every
// in-flight job has finished.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, id int) {
	log := p.log.With().Int("worker", id).Logger()
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("dequeue failed")
			continue
		}
		if job == nil {
			continue
		}

		p.handle(ctx, log, *job)
	}
}

// handle runs one job to completion on this worker: one browser session
// for the whole job, released on every path.
func (p *Pool) handle(ctx context.Context, log zerolog.Logger, job queue.Job) {
	log = log.With().
		Str("job_id", job.ID).
		Str("store", string(job.Store)).
		Str("action", string(job.Action)).
		Str("category", job.ExternalID).
		Logger()

	scr, ok := p.registry.Route(job)
	if !ok {
		log.Error().Msg("no adapter claims job")
		if err := p.queue.Bury(ctx, job); err != nil {
			log.Error().Err(err).Msg("bury failed")
		}
		return
	}

	sess, err := p.browsers.Acquire(ctx)
	if err != nil {
		p.fail(ctx, log, job, err)
		return
	}
	defer sess.Release()

	if err := p.dispatch(ctx, sess, scr, job); err != nil {
		p.fail(ctx, log, job, err)
		return
	}
	log.Info().Msg("job done")
}

func (p *Pool) dispatch(ctx context.Context, sess *browser.Session, scr scrapers.Scraper, job queue.Job) error {
	switch job.Action {
	case queue.ActionDiscoverCategories:
		return p.discover(ctx, sess, scr, job)
	case queue.ActionDiscoverBrands:
		return scr.DiscoverBrands(ctx, sess, job)
	case queue.ActionScrapeProducts:
		return scr.ExtractProducts(ctx, sess, job, p.emit(ctx))
	default:
		return fmt.Errorf("unknown action %q", job.Action)
	}
}

// discover maps the store's tree and fans out one extraction job per leaf,
// plus one brand discovery job. Extraction jobs land in the lower band, so
// discovery for every store finishes draining first.
func (p *Pool) discover(ctx context.Context, sess *browser.Session, scr scrapers.Scraper, job queue.Job) error {
	leaves, err := scr.DiscoverCategories(ctx, sess)
	if err != nil {
		return err
	}

	for _, leaf := range leaves {
		j := queue.NewJob(job.Store, queue.ActionScrapeProducts)
		j.CategoryID = leaf.Slug
		j.ExternalID = leaf.ExternalID
		j.URL = leaf.URL
		j.IDPath = leaf.IDPath
		if err := p.queue.Enqueue(ctx, j); err != nil {
			return fmt.Errorf("enqueue extraction for %s: %w", leaf.Slug, err)
		}
	}

	if len(leaves) > 0 {
		j := queue.NewJob(job.Store, queue.ActionDiscoverBrands)
		j.CategoryID = leaves[0].Slug
		j.URL = leaves[0].URL
		if err := p.queue.Enqueue(ctx, j); err != nil {
			return fmt.Errorf("enqueue brand discovery: %w", err)
		}
	}
	return nil
}

// emit feeds extracted records into the resolver. Skips are already
// logged by the resolver; anything else bubbles to the adapter's
// per-item handling.
func (p *Pool) emit(ctx context.Context) scrapers.Emit {
	return func(rec product.ExtractionRecord) error {
		_, err := p.resolver.Process(ctx, rec)
		if errors.Is(err, resolver.ErrSkipped) {
			return nil
		}
		return err
	}
}

// fail routes a job failure: transient causes retry with backoff,
// permanent ones go straight to the dead list.
func (p *Pool) fail(ctx context.Context, log zerolog.Logger, job queue.Job, cause error) {
	if !retryable(cause) {
		log.Error().Err(cause).Msg("permanent job failure")
		job.LastError = cause.Error()
		if err := p.queue.Bury(ctx, job); err != nil {
			log.Error().Err(err).Msg("bury failed")
		}
		return
	}

	again, err := p.queue.Retry(ctx, job, cause)
	if err != nil {
		log.Error().Err(err).Msg("retry scheduling failed")
		return
	}
	if !again {
		log.Error().Err(cause).Msg("job retries exhausted")
	}
}

// retryable classifies transient failures: network, browser pool
// exhaustion, timeouts and merge conflicts.
func retryable(err error) bool {
	switch {
	case errors.Is(err, browser.ErrPoolExhausted),
		errors.Is(err, scrapers.ErrNetwork),
		errors.Is(err, resolver.ErrConflict),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// EnqueueDiscovery seeds one category discovery job per store. Called at
// startup and by the re-discovery schedule.
func EnqueueDiscovery(ctx context.Context, q *queue.Queue, stores []product.Store) error {
	for _, s := range stores {
		if err := q.Enqueue(ctx, queue.NewJob(s, queue.ActionDiscoverCategories)); err != nil {
			return fmt.Errorf("enqueue discovery for %s: %w", s, err)
		}
	}
	return nil
}
