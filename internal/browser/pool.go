// Package browser manages a bounded pool of headless Chrome processes and
// hands out isolated browsing sessions that look like one consistent
// Buenos Aires client.
package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrPoolExhausted means no browser process freed up within the acquire
// timeout. Retryable at the job level.
var ErrPoolExhausted = errors.New("browser: pool exhausted")

// ErrPoolClosed means the pool has been shut down.
var ErrPoolClosed = errors.New("browser: pool closed")

const validateTimeout = 2 * time.Second

// Config bounds the pool.
type Config struct {
	Min            int           // warm processes kept alive
	Max            int           // hard cap on concurrent processes
	AcquireTimeout time.Duration // max wait for a free process
	IdleTimeout    time.Duration // idle process eviction threshold
	SweepInterval  time.Duration // idle sweep period
	Headless       bool
}

func (c *Config) defaults() {
	if c.Max <= 0 {
		c.Max = 4
	}
	if c.Min < 0 {
		c.Min = 0
	}
	if c.Min > c.Max {
		c.Min = c.Max
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 60 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 2 * time.Minute
	}
}

// proc is one live browser process. The function fields are wired by the
// launcher, which keeps the pool accounting testable without Chrome.
type proc struct {
	ping     func(ctx context.Context) error
	newTab   func() (context.Context, context.CancelFunc, error)
	clearTab func(ctx context.Context) error
	stop     func()
	lastUsed time.Time
}

// launcher creates a browser process. Swapped for a fake in tests.
type launcher func(headless bool) (*proc, error)

// Pool is the shared browser process pool. Constructed once at startup and
// passed by handle to every worker.
type Pool struct {
	cfg    Config
	log    zerolog.Logger
	launch launcher

	mu     sync.Mutex
	live   int  // processes currently in existence
	closed bool
	free   chan *proc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool builds and warms the pool.
func NewPool(cfg Config, log zerolog.Logger) *Pool {
	return newPool(cfg, log, launchChrome)
}

func newPool(cfg Config, log zerolog.Logger, launch launcher) *Pool {
	cfg.defaults()

	p := &Pool{
		cfg:    cfg,
		log:    log.With().Str("component", "browser").Logger(),
		launch: launch,
		free:   make(chan *proc, cfg.Max),
		stopCh: make(chan struct{}),
	}

	for i := 0; i < cfg.Min; i++ {
		pr, err := p.spawn()
		if err != nil {
			// Warmup failures are not fatal; acquisition retries.
			p.log.Error().Err(err).Msg("warm browser launch failed")
			continue
		}
		p.free <- pr
	}

	p.wg.Add(1)
	go p.sweep()

	return p
}

// Acquire blocks up to the configured timeout for a responsive browser
// process and returns a fresh session on it. Every acquired session must
// be released exactly once.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	deadline := time.NewTimer(p.cfg.AcquireTimeout)
	defer deadline.Stop()

	for {
		pr, err := p.next(ctx, deadline.C)
		if err != nil {
			return nil, err
		}

		if pingErr := p.validate(pr); pingErr != nil {
			// Dead process: discard it and try again transparently.
			p.log.Warn().Err(pingErr).Msg("browser failed validation, discarding")
			p.destroy(pr)
			continue
		}

		sess, err := newSession(p, pr)
		if err != nil {
			p.log.Error().Err(err).Msg("session creation failed")
			p.destroy(pr)
			return nil, err
		}
		return sess, nil
	}
}

// next returns a free process, launching one when under the cap.
func (p *Pool) next(ctx context.Context, timeout <-chan time.Time) (*proc, error) {
	select {
	case pr := <-p.free:
		return pr, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.live < p.cfg.Max {
		p.live++
		p.mu.Unlock()

		pr, err := p.launch(p.cfg.Headless)
		if err != nil {
			p.mu.Lock()
			p.live--
			p.mu.Unlock()
			// Creation failure surfaces only to this caller.
			p.log.Error().Err(err).Msg("browser launch failed")
			return nil, err
		}
		pr.lastUsed = time.Now()
		return pr, nil
	}
	p.mu.Unlock()

	select {
	case pr := <-p.free:
		return pr, nil
	case <-timeout:
		return nil, ErrPoolExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stopCh:
		return nil, ErrPoolClosed
	}
}

func (p *Pool) spawn() (*proc, error) {
	p.mu.Lock()
	if p.closed || p.live >= p.cfg.Max {
		p.mu.Unlock()
		return nil, ErrPoolExhausted
	}
	p.live++
	p.mu.Unlock()

	pr, err := p.launch(p.cfg.Headless)
	if err != nil {
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		return nil, err
	}
	pr.lastUsed = time.Now()
	return pr, nil
}

func (p *Pool) validate(pr *proc) error {
	ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
	defer cancel()
	return pr.ping(ctx)
}

// release returns a process to the free list after a session ends.
func (p *Pool) release(pr *proc) {
	pr.lastUsed = time.Now()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.destroy(pr)
		return
	}

	select {
	case p.free <- pr:
	default:
		// Should not happen (free is sized to Max); drop defensively.
		p.destroy(pr)
	}
}

// destroy stops a process and decrements the live count. Failures are
// logged, never propagated.
func (p *Pool) destroy(pr *proc) {
	pr.stop()
	p.mu.Lock()
	p.live--
	p.mu.Unlock()
}

// sweep evicts processes idle past the threshold, keeping Min warm.
func (p *Pool) sweep() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
		}

		var keep []*proc
		for {
			select {
			case pr := <-p.free:
				p.mu.Lock()
				evictable := p.live > p.cfg.Min
				p.mu.Unlock()
				if evictable && time.Since(pr.lastUsed) > p.cfg.IdleTimeout {
					p.log.Debug().Msg("evicting idle browser")
					p.destroy(pr)
				} else {
					keep = append(keep, pr)
				}
				continue
			default:
			}
			break
		}
		for _, pr := range keep {
			p.free <- pr
		}
	}
}

// Live reports the number of processes currently alive.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Close drains the pool and stops every process.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()

	for {
		select {
		case pr := <-p.free:
			p.destroy(pr)
			continue
		default:
		}
		break
	}
}
