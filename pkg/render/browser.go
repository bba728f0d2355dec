package render

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/bookfetch/pkg/config"
)

// initialViewportHeight is the window height before the full-page capture resizes it
const initialViewportHeight = 1024

// Browser opens pages in an off-screen browser
type Browser interface {
	// Open navigates to url and returns once the document body is ready.
	Open(ctx context.Context, url string) (Tab, error)
}

// Tab is one loaded page
type Tab interface {
	// ContentHeight returns the current layout height in CSS pixels.
	ContentHeight(ctx context.Context) (int64, error)
	// Screenshot captures the full page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// ChromeBrowser drives a headless Chrome through chromedp. Each Open starts
// its own browser process, released by Tab.Close.
type ChromeBrowser struct {
	cfg config.RendererConfig
	log *logrus.Entry
}

// NewChromeBrowser creates a Browser backed by headless Chrome
func NewChromeBrowser(cfg config.RendererConfig, log *logrus.Entry) *ChromeBrowser {
	return &ChromeBrowser{cfg: cfg, log: log}
}

// Open implements Browser
func (b *ChromeBrowser) Open(ctx context.Context, url string) (Tab, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(b.cfg.ViewportWidth, initialViewportHeight),
	)
	if b.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ChromePath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(b.log.Debugf))
	tab := &chromeTab{ctx: tabCtx, cancel: func() { cancelTab(); cancelAlloc() }}

	// Start the browser on the long-lived context; a timeout on the first Run would kill it
	if err := chromedp.Run(tabCtx); err != nil {
		tab.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	navCtx, cancelNav := context.WithTimeout(tabCtx, b.cfg.NavigationTimeout)
	defer cancelNav()
	err := chromedp.Run(navCtx,
		chromedp.EmulateViewport(int64(b.cfg.ViewportWidth), initialViewportHeight),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		tab.Close()
		return nil, fmt.Errorf("navigate to '%s': %w", url, err)
	}
	b.log.WithField("url", url).Debug("Page loaded")
	return tab, nil
}

type chromeTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (t *chromeTab) ContentHeight(ctx context.Context) (int64, error) {
	var height int64
	if err := t.run(ctx, chromedp.Evaluate(`document.body.scrollHeight`, &height)); err != nil {
		return 0, fmt.Errorf("read layout height: %w", err)
	}
	return height, nil
}

func (t *chromeTab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 selects PNG
	if err := t.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (t *chromeTab) Close() error {
	t.cancel()
	return nil
}

// run executes actions on the tab, aborting when the caller's ctx ends
func (t *chromeTab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
