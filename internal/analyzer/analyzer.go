// Package analyzer drives one pooled browser through a navigate-and-observe
// cycle for a single URL and produces the scan telemetry. Failures are
// encoded into the telemetry (AnalysisFailed) rather than returned as
// errors: a page we cannot observe is a result, not an infrastructure
// fault.
package analyzer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/raysh454/kansa/internal/browserpool"
	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/model"
)

// Config controls analysis behavior.
type Config struct {
	// UserAgent is sent with every scan navigation.
	UserAgent string

	// SettleDelay is the fixed wait after the load event for late
	// synchronous script execution. Deliberately a plain constant, no
	// adaptive idle detection.
	SettleDelay time.Duration
}

// DefaultConfig returns analyzer defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		SettleDelay: 200 * time.Millisecond,
	}
}

// Runner analyzes one URL on a checked-out browser handle.
type Runner interface {
	Analyze(ctx context.Context, url string, timeout time.Duration, h browserpool.Handle) model.Telemetry
}

// observerJS runs before any page script. It counts childList mutations
// and records the document's original location so redirects can be
// detected after settle.
const observerJS = `(() => {
	window.__scanMutations = 0;
	window.__scanOriginalLocation = window.location.href;
	const obs = new MutationObserver((muts) => {
		for (const m of muts) {
			if (m.type === 'childList') window.__scanMutations++;
		}
	});
	obs.observe(document, { childList: true, subtree: true });
})();`

// ChromeRunner implements Runner on a chromedp browser handle.
type ChromeRunner struct {
	cfg    Config
	logger logging.Logger
}

// NewChromeRunner creates a ChromeRunner.
func NewChromeRunner(cfg Config, logger logging.Logger) *ChromeRunner {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultConfig().SettleDelay
	}
	return &ChromeRunner{cfg: cfg, logger: logger}
}

// Analyze opens one tab on the handle, navigates to url waiting for the
// load event only (not network idle, which hangs on long-polling pages),
// waits the settle delay and reads the page back. The tab is torn down on
// every exit path.
func (r *ChromeRunner) Analyze(ctx context.Context, url string, timeout time.Duration, h browserpool.Handle) model.Telemetry {
	tel := model.Telemetry{FinalURL: url}

	tabCtx, cancelTab := chromedp.NewContext(h.Context())
	defer cancelTab()

	runCtx, cancelRun := context.WithTimeout(tabCtx, timeout)
	defer cancelRun()

	// Propagate the caller's cancellation into the tab.
	stop := context.AfterFunc(ctx, cancelRun)
	defer stop()

	var mu sync.Mutex
	chromedp.ListenTarget(runCtx, func(ev any) {
		mu.Lock()
		defer mu.Unlock()
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			tel.Requests = append(tel.Requests, model.RequestRecord{
				URL:          e.Request.URL,
				Method:       e.Request.Method,
				ResourceType: string(e.Type),
			})
		case *network.EventResponseReceived:
			tel.Responses = append(tel.Responses, model.ResponseRecord{
				URL:         e.Response.URL,
				Status:      int(e.Response.Status),
				ContentType: e.Response.MimeType,
			})
		case *network.EventLoadingFailed:
			tel.NetworkErrors = append(tel.NetworkErrors, model.NetworkError{
				Error: e.ErrorText,
			})
		case *runtime.EventConsoleAPICalled:
			tel.ConsoleMessages = append(tel.ConsoleMessages, model.ConsoleMessage{
				Type: string(e.Type),
				Text: consoleText(e),
			})
		}
	})

	err := chromedp.Run(runCtx,
		network.Enable(),
		runtime.Enable(),
		emulation.SetUserAgentOverride(r.cfg.UserAgent),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(observerJS).Do(ctx)
			return err
		}),
		chromedp.Navigate(url),
		chromedp.Sleep(r.cfg.SettleDelay),
	)
	if err != nil {
		return r.failed(&mu, &tel, url, "navigation", err)
	}

	var (
		mutations int
		original  string
		finalURL  string
		html      string
	)
	err = chromedp.Run(runCtx,
		chromedp.Evaluate(`window.__scanMutations || 0`, &mutations),
		chromedp.Evaluate(`window.__scanOriginalLocation || ""`, &original),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return r.failed(&mu, &tel, url, "readback", err)
	}

	mu.Lock()
	defer mu.Unlock()

	tel.DOMMutationCount = mutations
	tel.FinalURL = finalURL
	tel.Redirected = original != "" && finalURL != original
	tel.PageHTML = html
	tel.ContentHash = ContentHash(html)

	feats, err := ExtractPageFeatures(html)
	if err != nil {
		tel.AnalysisFailed = true
		tel.FailureDetail = err.Error()
		return tel
	}
	tel.DynamicScripts = feats.Scripts
	tel.DynamicIframes = feats.Iframes

	if r.logger != nil {
		r.logger.Debug("analysis finished",
			logging.Field{Key: "url", Value: url},
			logging.Field{Key: "requests", Value: len(tel.Requests)},
			logging.Field{Key: "mutations", Value: mutations})
	}
	return tel
}

// failed marks the telemetry as unusable and returns a copy taken under
// the listener mutex, since CDP events may still be arriving.
func (r *ChromeRunner) failed(mu *sync.Mutex, tel *model.Telemetry, url, phase string, err error) model.Telemetry {
	if r.logger != nil {
		r.logger.Warn("analysis failed",
			logging.Field{Key: "url", Value: url},
			logging.Field{Key: "phase", Value: phase},
			logging.Field{Key: "error", Value: err.Error()})
	}
	mu.Lock()
	defer mu.Unlock()
	tel.AnalysisFailed = true
	tel.FailureDetail = err.Error()
	return *tel
}

func consoleText(e *runtime.EventConsoleAPICalled) string {
	parts := make([]string, 0, len(e.Args))
	for _, arg := range e.Args {
		switch {
		case len(arg.Value) > 0:
			parts = append(parts, string(arg.Value))
		case arg.Description != "":
			parts = append(parts, arg.Description)
		}
	}
	return strings.Join(parts, " ")
}
