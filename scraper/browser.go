package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/rednote/config"
	"github.com/use-agent/rednote/models"
	"github.com/ysmood/gson"
)

// chromeUA is pinned so the replayed API request and the browser present the
// same client identity.
const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36"

// Browser owns the launched Chromium process and creates session handles.
// It is safe for concurrent use.
type Browser struct {
	browser *rod.Browser
}

// NewBrowser launches a Chromium instance with the anti-automation-detection
// flag set and connects to it.
func NewBrowser(cfg config.BrowserConfig) (*Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.UserDataDir != "" {
		l = l.UserDataDir(cfg.UserDataDir)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-infobars"))
	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("disable-dev-shm-usage"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL, "headless", cfg.Headless)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	return &Browser{browser: browser}, nil
}

// NewSession opens a fresh tab with the pinned user agent and the stealth
// script installed for every subsequent navigation.
func (b *Browser) NewSession() (Session, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to open tab", err)
	}

	if err := (proto.NetworkSetUserAgentOverride{UserAgent: chromeUA}).Call(page); err != nil {
		slog.Warn("failed to override user agent", "error", err)
	}
	// Stealth JS must be installed before the first navigation to take effect.
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
	}

	return &rodSession{page: page}, nil
}

// CleanTabs closes every open tab but the most recent one. It is the
// pre-retry hook: a failed run can leave half-navigated tabs behind, and a
// retry should start from a single clean one.
func (b *Browser) CleanTabs() {
	pages, err := b.browser.Pages()
	if err != nil {
		slog.Warn("clean tabs: failed to list pages", "error", err)
		return
	}
	for i, p := range pages {
		if i == len(pages)-1 {
			break
		}
		if err := p.Close(); err != nil {
			slog.Warn("clean tabs: failed to close page", "error", err)
		}
	}
}

// Close disconnects from and kills the browser process.
func (b *Browser) Close() {
	if err := b.browser.Close(); err != nil {
		slog.Warn("browser close failed", "error", err)
	}
}

// rodSession adapts one rod page to the Session interface.
type rodSession struct {
	page *rod.Page
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	// Best effort: dynamic pages keep streaming content, element probes have
	// their own waits.
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		slog.Debug("DOM did not stabilise, proceeding", "url", url, "error", err)
	}
	return nil
}

func (s *rodSession) Title() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.Title
}

func (s *rodSession) HTML() (string, error) {
	return s.page.HTML()
}

func (s *rodSession) Element(selector string, timeout time.Duration) (Element, bool) {
	el, err := s.page.Timeout(timeout).Element(selector)
	if err != nil {
		return nil, false
	}
	return &rodElement{el: el}, true
}

func (s *rodSession) Eval(js string) (gson.JSON, error) {
	res, err := s.page.Eval(js)
	if err != nil {
		return gson.New(nil), err
	}
	return res.Value, nil
}

func (s *rodSession) Cookies() map[string]string {
	cookies, err := s.page.Cookies(nil)
	if err != nil {
		slog.Warn("failed to read cookies", "error", err)
		return nil
	}
	jar := make(map[string]string, len(cookies))
	for _, c := range cookies {
		jar[c.Name] = c.Value
	}
	return jar
}

func (s *rodSession) UserAgent() string {
	return chromeUA
}

func (s *rodSession) CaptureExchange(ctx context.Context, pathPattern string, trigger func() error, timeout time.Duration) (*Exchange, error) {
	captured := make(chan *Exchange, 1)

	router := s.page.HijackRequests()
	err := router.Add("*"+pathPattern+"*", "", func(h *rod.Hijack) {
		ex := &Exchange{
			Method:  h.Request.Method(),
			URL:     h.Request.URL().String(),
			Headers: make(map[string]string),
			Body:    []byte(h.Request.Body()),
		}
		for k, v := range h.Request.Headers() {
			ex.Headers[k] = v.Str()
		}

		// Let the request through so the page behaves normally, keeping a
		// copy of the response for the caller.
		if err := h.LoadResponse(http.DefaultClient, true); err != nil {
			slog.Warn("capture: failed to load response", "url", ex.URL, "error", err)
			h.Response.Fail(proto.NetworkErrorReasonFailed)
			return
		}
		payload := h.Response.Payload()
		ex.Status = payload.ResponseCode
		ex.ResponseBody = payload.Body

		select {
		case captured <- ex:
		default: // only the first matching exchange is kept
		}
	})
	if err != nil {
		return nil, fmt.Errorf("capture: arm interceptor: %w", err)
	}

	// router.Run blocks; it exits when router.Stop is called.
	go router.Run()
	defer func() { _ = router.Stop() }()

	if err := trigger(); err != nil {
		return nil, err
	}

	select {
	case ex := <-captured:
		return ex, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("capture %s: %w", pathPattern, context.DeadlineExceeded)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *rodSession) Close() error {
	return s.page.Close()
}

// rodElement adapts a located rod element.
type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Text() string {
	text, err := e.el.Text()
	if err != nil {
		return ""
	}
	return text
}

func (e *rodElement) Attribute(name string) string {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return ""
	}
	return *v
}
