// Package browser drives a single Chromium page through Rod.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/AirQuality-CVL/internal/config"
	"github.com/IshaanNene/AirQuality-CVL/internal/extract"
	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

// closeTimeout bounds the graceful shutdown before the process is killed.
const closeTimeout = 10 * time.Second

// process is the launched Chromium. Cleanup blocks until it has exited.
type process interface {
	Kill()
	Cleanup()
}

// Session owns one browser process and one page. It is not safe for
// concurrent use.
type Session struct {
	cfg    config.BrowserConfig
	logger *slog.Logger
	proc   process
	// closeBrowser asks the browser to exit; nil once closed.
	closeBrowser func(ctx context.Context) error
	page         *rod.Page
}

var _ extract.Session = (*Session)(nil)

// Open launches Chromium and creates the page every later call works on.
// All failures wrap types.ErrDriverInit.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Session, error) {
	s := &Session{
		cfg:    cfg.Browser,
		logger: logger.With("component", "browser"),
	}

	launchURL, err := s.launch()
	if err != nil {
		return nil, fmt.Errorf("%w: launch: %v", types.ErrDriverInit, err)
	}

	b := rod.New().ControlURL(launchURL).Context(ctx)
	if err := b.Connect(); err != nil {
		s.proc.Kill()
		s.proc.Cleanup()
		return nil, fmt.Errorf("%w: connect: %v", types.ErrDriverInit, err)
	}
	s.closeBrowser = func(ctx context.Context) error {
		return b.Context(ctx).Close()
	}

	var page *rod.Page
	if s.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: open page: %v", types.ErrDriverInit, err)
	}
	s.page = page

	if ua := s.cfg.UserAgent; ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			s.logger.Warn("failed to set user agent", "error", err)
		}
	}

	s.logger.Info("browser ready",
		"headless", s.cfg.Headless,
		"stealth", s.cfg.Stealth,
		"window_size", s.cfg.WindowSize,
	)
	return s, nil
}

func (s *Session) launch() (string, error) {
	l := launcher.New().
		Headless(s.cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	if s.cfg.WindowSize != "" {
		l = l.Set("window-size", s.cfg.WindowSize)
	}
	if s.cfg.Bin != "" {
		l = l.Bin(s.cfg.Bin)
	}
	s.proc = l

	return l.Launch()
}

// Navigate loads url and waits for the page to settle. Running out of time
// returns an error wrapping types.ErrPageTimeout; the page keeps whatever it
// has rendered so far.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p := s.page.Context(ctx).Timeout(timeout)

	if err := p.Navigate(url); err != nil {
		return timeoutOr(err)
	}
	if err := p.WaitLoad(); err != nil {
		return timeoutOr(err)
	}
	if err := p.WaitStable(300 * time.Millisecond); err != nil {
		s.logger.Warn("page stability timeout, continuing", "url", url, "error", err)
	}
	return nil
}

// WaitFor blocks until selector matches or timeout elapses.
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if _, err := s.page.Context(ctx).Timeout(timeout).Element(selector); err != nil {
		return timeoutOr(err)
	}
	return nil
}

// Title returns the document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

// HTML returns the rendered markup.
func (s *Session) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

// Elements returns every element matching selector without waiting.
func (s *Session) Elements(ctx context.Context, selector string) ([]extract.Element, error) {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	out := make([]extract.Element, 0, len(els))
	for _, el := range els {
		out = append(out, wrap(el))
	}
	return out, nil
}

// Element returns the first element matching selector without waiting.
func (s *Session) Element(ctx context.Context, selector string) (extract.Element, error) {
	ok, el, err := s.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.ErrElementNotFound
	}
	return wrap(el), nil
}

// Eval runs a function expression in the page and returns its JSON value.
func (s *Session) Eval(ctx context.Context, js string) (json.RawMessage, error) {
	res, err := s.page.Context(ctx).Eval(js)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(res.Value.JSON("", "")), nil
}

// Screenshot captures the visible viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Close shuts the browser down, even after the run context was cancelled.
// If the browser does not exit on request its process is killed. It is safe
// to call more than once.
func (s *Session) Close() error {
	var err error
	if s.closeBrowser != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		err = s.closeBrowser(ctx)
		cancel()
		s.closeBrowser = nil
	}
	if s.proc != nil {
		if err != nil {
			s.logger.Warn("browser did not close, killing it", "error", err)
			s.proc.Kill()
		}
		s.proc.Cleanup()
		s.proc = nil
	}
	s.logger.Debug("browser closed")
	return err
}

func timeoutOr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", types.ErrPageTimeout, err)
	}
	return err
}

// element adapts a Rod element to extract.Element.
type element struct {
	el  *rod.Element
	key string
}

func wrap(el *rod.Element) *element {
	e := &element{el: el, key: string(el.Object.ObjectID)}
	if node, err := el.Describe(0, false); err == nil {
		e.key = strconv.Itoa(int(node.BackendNodeID))
	}
	return e
}

func (e *element) Key() string { return e.key }

func (e *element) ScrollIntoView(ctx context.Context) error {
	return e.el.Context(ctx).ScrollIntoView()
}

// Click fires the element's click handler directly, so overlapping map
// layers cannot swallow it.
func (e *element) Click(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => this.click()`)
	return err
}

func (e *element) Visible(ctx context.Context) (bool, error) {
	return e.el.Context(ctx).Visible()
}

func (e *element) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}
