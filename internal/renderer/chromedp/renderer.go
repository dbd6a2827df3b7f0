// Package chromedp renders JavaScript-heavy review pages through
// headless Chrome. One Factory owns a shared browser allocator; each
// pooled session gets its own tab context.
package chromedp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/reviewlens/reviewlens/internal/scraper"
)

// settleDelay gives late-loading review widgets a moment to attach
// after the DOM is ready.
const settleDelay = 500 * time.Millisecond

// Config controls browser behavior for all sessions from one Factory.
type Config struct {
	Headless    bool
	UserAgent   string
	PageTimeout time.Duration
}

// Factory creates chromedp-backed render sessions from a shared
// allocator.
type Factory struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewFactory builds the shared browser allocator.
func NewFactory(cfg Config) *Factory {
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 30 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Factory{cfg: cfg, allocator: allocCtx, allocCancel: allocCancel}
}

// NewRenderer opens a fresh browser tab context.
func (f *Factory) NewRenderer(_ context.Context) (scraper.Renderer, error) {
	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	return &renderer{cfg: f.cfg, taskCtx: taskCtx, cancel: taskCancel}, nil
}

// Close tears down the shared allocator and with it every remaining
// browser process.
func (f *Factory) Close() {
	f.allocCancel()
}

type renderer struct {
	cfg     Config
	taskCtx context.Context
	cancel  context.CancelFunc
}

// Render navigates to url, waits for the body plus a settle delay, and
// returns the rendered DOM. Non-2xx document responses and navigation
// errors surface as render failures.
func (r *renderer) Render(ctx context.Context, url string) (string, error) {
	runCtx, cancel := context.WithTimeout(r.taskCtx, r.cfg.PageTimeout)
	defer cancel()

	// honor caller cancellation alongside the page deadline
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := &documentMeta{}
	chromedp.ListenTarget(runCtx, meta.captureEvent)

	var html string
	actions := []chromedp.Action{
		r.setupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return "", fmt.Errorf("%w: chromedp run: %v", scraper.ErrRenderFailure, err)
	}

	if status := meta.status(); status >= http.StatusBadRequest {
		return "", fmt.Errorf("%w: document status %d", scraper.ErrRenderFailure, status)
	}
	return html, nil
}

// Close releases the tab context.
func (r *renderer) Close() error {
	r.cancel()
	return nil
}

func (r *renderer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// documentMeta tracks the status of the top-level document response.
type documentMeta struct {
	mu         sync.Mutex
	statusCode int
}

func (m *documentMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.statusCode = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *documentMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCode
}
