package browserpool

import (
	"context"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

// launchFlags is the hardened flag set for scanning untrusted pages.
// Sandboxing is disabled on purpose: the browser runs inside the scanner's
// own isolation boundary and must be able to load hostile content.
var launchFlags = []chromedp.ExecAllocatorOption{
	chromedp.Flag("headless", true),
	chromedp.Flag("no-sandbox", true),
	chromedp.Flag("disable-setuid-sandbox", true),
	chromedp.Flag("disable-dev-shm-usage", true),
	chromedp.Flag("disable-gpu", true),
	chromedp.Flag("disable-web-security", true),
	chromedp.Flag("disable-features", "VizDisplayCompositor"),
	chromedp.NoFirstRun,
	chromedp.NoDefaultBrowserCheck,
}

type chromeHandle struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// ChromeLauncher starts a headless Chrome process via chromedp and wraps
// it in a Handle. The process stays alive until Close.
func ChromeLauncher(ctx context.Context) (Handle, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, launchFlags...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Force the process to start now so launch failures surface here
	// rather than on first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}

	return &chromeHandle{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

func (h *chromeHandle) Context() context.Context {
	return h.browserCtx
}

// Ping asks the browser for its version over CDP, the same cheap probe
// the devtools protocol exposes for health checks.
func (h *chromeHandle) Ping(ctx context.Context) error {
	if err := h.browserCtx.Err(); err != nil {
		return err
	}
	probe := chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, err := cdpbrowser.GetVersion().Do(ctx)
		return err
	})
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(h.browserCtx, probe)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *chromeHandle) Close() {
	h.browserCancel()
	h.allocCancel()
}
