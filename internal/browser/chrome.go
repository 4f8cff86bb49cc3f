package browser

import (
	"context"
	"fmt"
	"math/rand"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// All sessions present as one consistent Buenos Aires client: fixed
// viewport, locale, timezone and geolocation, with only the user agent
// drawn from a small pool.
const (
	viewportWidth  = 1366
	viewportHeight = 768
	acceptLanguage = "es-AR,es;q=0.9,en;q=0.6"
	timezone       = "America/Argentina/Buenos_Aires"
	geoLatitude    = -34.6037
	geoLongitude   = -58.3816
	geoAccuracy    = 100
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
}

// launchChrome starts a headless Chrome process and wires the proc hooks.
func launchChrome(headless bool) (*proc, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "es-AR"),
		chromedp.WindowSize(viewportWidth, viewportHeight),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Force the process to actually start so launch failures surface here,
	// not on first use.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &proc{
		ping: func(ctx context.Context) error {
			tctx, cancel := boundTo(browserCtx, ctx)
			defer cancel()
			var one int
			return chromedp.Run(tctx, chromedp.Evaluate(`1+1`, &one))
		},
		newTab: func() (context.Context, context.CancelFunc, error) {
			tabCtx, tabCancel := chromedp.NewContext(browserCtx)
			ua := userAgents[rand.Intn(len(userAgents))]
			err := chromedp.Run(tabCtx,
				emulation.SetUserAgentOverride(ua).WithAcceptLanguage(acceptLanguage),
				chromedp.EmulateViewport(viewportWidth, viewportHeight),
				emulation.SetTimezoneOverride(timezone),
				emulation.SetGeolocationOverride().
					WithLatitude(geoLatitude).
					WithLongitude(geoLongitude).
					WithAccuracy(geoAccuracy),
				cdpbrowser.GrantPermissions([]cdpbrowser.PermissionType{
					cdpbrowser.PermissionTypeGeolocation,
				}),
			)
			if err != nil {
				tabCancel()
				return nil, nil, fmt.Errorf("prepare tab: %w", err)
			}
			return tabCtx, tabCancel, nil
		},
		clearTab: func(tabCtx context.Context) error {
			return chromedp.Run(tabCtx, network.ClearBrowserCookies())
		},
		stop: func() {
			browserCancel()
			allocCancel()
		},
	}, nil
}

// boundTo derives a child of base that honors the caller context's
// deadline and cancellation. chromedp actions must run on the browser's
// context chain, so the caller's ctx cannot be used directly.
func boundTo(base, caller context.Context) (context.Context, context.CancelFunc) {
	var ctx context.Context
	var cancel context.CancelFunc
	if d, ok := caller.Deadline(); ok {
		ctx, cancel = context.WithDeadline(base, d)
	} else {
		ctx, cancel = context.WithCancel(base)
	}
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
