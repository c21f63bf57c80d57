package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserOptions configures headless Chrome sessions.
type BrowserOptions struct {
	Headless     bool
	ExecPath     string
	UserAgent    string
	Timeout      time.Duration
	DisableGPU   bool
	NoSandbox    bool
	ScrollOffset int
	Logger       *slog.Logger
}

// Browser opens interactive chromedp sessions, one per discovery run.
type Browser struct {
	opts   BrowserOptions
	logger *slog.Logger
}

// NewBrowser constructs a Browser. No Chrome process starts until Open is called.
func NewBrowser(opts BrowserOptions) *Browser {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Browser{opts: opts, logger: opts.Logger}
}

// Open launches a browser and returns a session bound to it. The caller owns
// the session and must Close it.
func (b *Browser) Open(ctx context.Context) (*ChromeSession, error) {
	execOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	execOpts = append(execOpts,
		chromedp.Flag("headless", b.opts.Headless),
		chromedp.Flag("disable-gpu", b.opts.DisableGPU),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", b.opts.NoSandbox),
	)
	if path := strings.TrimSpace(b.opts.ExecPath); path != "" {
		execOpts = append(execOpts, chromedp.ExecPath(path))
	}
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}

	// The session outlives the caller's ctx for a single call; cancellation
	// of the run is propagated per action in ChromeSession.run.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), execOpts...)
	chromeCtx, chromeCancel := chromedp.NewContext(allocCtx)

	// Starts the browser process.
	if err := chromedp.Run(chromeCtx); err != nil {
		chromeCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	b.logger.Debug("browser session opened", "headless", b.opts.Headless)

	return &ChromeSession{
		ctx:          chromeCtx,
		cancel:       func() { chromeCancel(); allocCancel() },
		timeout:      b.opts.Timeout,
		scrollOffset: b.opts.ScrollOffset,
		logger:       b.logger,
	}, nil
}

// ChromeSession is a live page that can be navigated, clicked and scanned.
type ChromeSession struct {
	ctx          context.Context
	cancel       func()
	timeout      time.Duration
	scrollOffset int
	logger       *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Navigate loads rawURL and waits for the document to finish loading.
func (s *ChromeSession) Navigate(ctx context.Context, rawURL string) error {
	if err := s.run(ctx, s.timeout, chromedp.Navigate(rawURL), waitForDocumentReady(s.logger)); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	return nil
}

// WaitInteractable waits up to timeout for selector to become visible.
func (s *ChromeSession) WaitInteractable(ctx context.Context, selector string, timeout time.Duration) error {
	err := s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", selector, ErrNotInteractable)
	}
	return err
}

// Activate scrolls the control into view and clicks it natively. When another
// element covers the control the click is not sent and ErrRevealBlocked is returned.
func (s *ChromeSession) Activate(ctx context.Context, selector string) error {
	sel, err := jsString(selector)
	if err != nil {
		return err
	}
	script := fmt.Sprintf(`(function(sel, offset) {
  const el = document.querySelector(sel);
  if (!el) { return "missing"; }
  el.scrollIntoView({block: "center"});
  if (offset) { window.scrollBy(0, -offset); }
  const r = el.getBoundingClientRect();
  const top = document.elementFromPoint(r.left + r.width / 2, r.top + r.height / 2);
  return (top && (top === el || el.contains(top))) ? "ok" : "blocked";
})(%s, %d)`, sel, s.scrollOffset)

	var state string
	if err := s.run(ctx, s.timeout, chromedp.Evaluate(script, &state)); err != nil {
		return fmt.Errorf("scroll to %s: %w", selector, err)
	}
	switch state {
	case "missing":
		return fmt.Errorf("%s: %w", selector, ErrNotInteractable)
	case "blocked":
		return fmt.Errorf("%s: %w", selector, ErrRevealBlocked)
	}
	if err := s.run(ctx, s.timeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// ForceActivate triggers the control through a script click, bypassing overlays.
func (s *ChromeSession) ForceActivate(ctx context.Context, selector string) error {
	sel, err := jsString(selector)
	if err != nil {
		return err
	}
	script := fmt.Sprintf(`(function(sel) {
  const el = document.querySelector(sel);
  if (!el) { return false; }
  el.click();
  return true;
})(%s)`, sel)
	var clicked bool
	if err := s.run(ctx, s.timeout, chromedp.Evaluate(script, &clicked)); err != nil {
		return fmt.Errorf("script click %s: %w", selector, err)
	}
	if !clicked {
		return fmt.Errorf("%s: %w", selector, ErrNotInteractable)
	}
	return nil
}

// Links returns the absolute href of every element matching selector, in document order.
func (s *ChromeSession) Links(ctx context.Context, selector string) ([]string, error) {
	sel, err := jsString(selector)
	if err != nil {
		return nil, err
	}
	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(function(a) {
  return a.href || a.getAttribute("href") || "";
}).filter(function(h) { return h !== ""; })`, sel)
	var links []string
	if err := s.run(ctx, s.timeout, chromedp.Evaluate(script, &links)); err != nil {
		return nil, fmt.Errorf("scan %s: %w", selector, err)
	}
	return links, nil
}

// Close shuts the browser down. Safe to call more than once.
func (s *ChromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = chromedp.Cancel(s.ctx)
		s.cancel()
		if errors.Is(s.closeErr, context.Canceled) {
			s.closeErr = nil
		}
		s.logger.Debug("browser session closed")
	})
	return s.closeErr
}

// run executes actions against the session, bounded by timeout and by the caller's ctx.
func (s *ChromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(s.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(s.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func jsString(v string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode selector: %w", err)
	}
	return string(raw), nil
}

func waitForDocumentReady(logger *slog.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				logger.Warn("waitForDocumentReady evaluate failed", "error", err)
				return err
			}
			if readyState == "complete" {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}
