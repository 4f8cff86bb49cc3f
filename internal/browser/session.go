package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// Session is one isolated browsing context on a pooled process. Sessions
// are not safe for concurrent use; a job owns its session for its whole
// duration and releases it exactly once.
type Session struct {
	pool      *Pool
	proc      *proc
	tabCtx    context.Context
	tabCancel context.CancelFunc
	released  atomic.Bool
}

func newSession(p *Pool, pr *proc) (*Session, error) {
	tabCtx, tabCancel, err := pr.newTab()
	if err != nil {
		return nil, err
	}
	return &Session{pool: p, proc: pr, tabCtx: tabCtx, tabCancel: tabCancel}, nil
}

// Release destroys the session's cookies and state and returns the
// process to the pool. Safe to call more than once; failures are logged,
// never returned.
func (s *Session) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}

	if err := s.proc.clearTab(s.tabCtx); err != nil {
		s.pool.log.Warn().Err(err).Msg("clearing session state failed")
	}
	s.tabCancel()
	s.pool.release(s.proc)
}

// Navigate loads url and waits for the document body. The caller context's
// deadline bounds the navigation.
func (s *Session) Navigate(ctx context.Context, url string) error {
	tctx, cancel := boundTo(s.tabCtx, ctx)
	defer cancel()

	err := chromedp.Run(tctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// HTML returns the rendered outer HTML of the first node matching sel
// ("html" for the whole document).
func (s *Session) HTML(ctx context.Context, sel string) (string, error) {
	tctx, cancel := boundTo(s.tabCtx, ctx)
	defer cancel()

	var html string
	if err := chromedp.Run(tctx, chromedp.OuterHTML(sel, &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html %q: %w", sel, err)
	}
	return html, nil
}

// FetchJSON performs a fetch from inside the page, so the request carries
// the session's cookies and fingerprint, and decodes the JSON body into out.
func (s *Session) FetchJSON(ctx context.Context, url string, out any) error {
	tctx, cancel := boundTo(s.tabCtx, ctx)
	defer cancel()

	expr := fmt.Sprintf(
		`fetch(%q, {headers: {accept: "application/json"}}).then(r => { if (!r.ok) throw new Error("HTTP " + r.status); return r.text(); })`,
		url,
	)

	var body string
	err := chromedp.Run(tctx, chromedp.Evaluate(expr, &body,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		},
	))
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}

	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
