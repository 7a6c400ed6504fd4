package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/time/rate"

	"github.com/use-agent/rednote/models"
	"github.com/use-agent/rednote/notify"
)

// challengeTitle is the page title of the slider-captcha verification page.
// Hitting it means the whole run's browsing context is burned and a human has
// to clear it.
const challengeTitle = "安全验证"

const detailURLFormat = "https://www.xiaohongshu.com/search_result/%s?xsec_token=%s&xsec_source=pc_search"

// Detail-page extraction selectors, compiled once.
var (
	descMatcher  = cascadia.MustCompile(`div#detail-desc span.note-text > span:first-of-type`)
	videoMatcher = cascadia.MustCompile(`video[mediatype="video"]`)
	tagMatcher   = cascadia.MustCompile(`div#detail-desc span.note-text a#hash-tag`)
)

// securityFlag is the run-scoped "hostile environment detected" signal. Any
// task may trip it; every task checks it at entry and skips its fetch when
// set. The operator is notified at most once per run.
type securityFlag struct {
	tripped    atomic.Bool
	notifyOnce sync.Once
}

// Trip sets the flag and reports whether this call was the first to set it.
func (f *securityFlag) Trip() bool {
	return f.tripped.CompareAndSwap(false, true)
}

func (f *securityFlag) IsSet() bool {
	return f.tripped.Load()
}

// SessionFactory opens a new browser session for a pipeline run.
type SessionFactory func() (Session, error)

// Pipeline fans detail-page visits out over a run-scoped session pool.
// Each run builds fresh sessions, shares them across all item tasks, and
// tears them down when every task has finished; the flag is likewise scoped
// to a single run.
type Pipeline struct {
	factory        SessionFactory
	size           int
	notifier       notify.Notifier
	limiter        *rate.Limiter
	elementTimeout time.Duration

	flag     *securityFlag
	acquired atomic.Int64
	released atomic.Int64
}

// NewPipeline creates a detail pipeline with a pool of size sessions whose
// navigations are paced at navPerSecond across all workers.
func NewPipeline(factory SessionFactory, size int, navPerSecond float64, elementTimeout time.Duration, notifier notify.Notifier) *Pipeline {
	if size < 1 {
		size = 1
	}
	return &Pipeline{
		factory:        factory,
		size:           size,
		notifier:       notifier,
		limiter:        rate.NewLimiter(rate.Limit(navPerSecond), size),
		elementTimeout: elementTimeout,
		flag:           &securityFlag{},
	}
}

// SecurityTriggered reports whether the last run hit the verification page.
func (p *Pipeline) SecurityTriggered() bool { return p.flag.IsSet() }

// Acquired and Released expose the last run's pool accounting.
func (p *Pipeline) Acquired() int64 { return p.acquired.Load() }
func (p *Pipeline) Released() int64 { return p.released.Load() }

// FetchAll visits each item's detail page and returns one DetailPageInfo per
// requested id, using the zero placeholder for items whose fetch was skipped
// or failed, so the result cardinality always equals len(tokens).
//
// All item tasks run concurrently; the session pool capacity, not the item
// count, bounds true parallelism. The listing must be fully resolved before
// this is called.
func (p *Pipeline) FetchAll(ctx context.Context, tokens map[string]string) map[string]models.DetailPageInfo {
	p.flag = &securityFlag{} // verification state is per run
	p.acquired.Store(0)
	p.released.Store(0)

	results := make(map[string]models.DetailPageInfo, len(tokens))
	for id := range tokens {
		results[id] = models.DetailPageInfo{}
	}
	if len(tokens) == 0 {
		return results
	}

	sessions := make([]Session, 0, p.size)
	for i := 0; i < p.size; i++ {
		s, err := p.factory()
		if err != nil {
			slog.Warn("detail pipeline: failed to open session", "error", err)
			continue
		}
		sessions = append(sessions, s)
	}
	if len(sessions) == 0 {
		slog.Error("detail pipeline: no sessions available, returning placeholders")
		return results
	}

	pool := NewPool(sessions)
	defer pool.Close()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for id, token := range tokens {
		wg.Add(1)
		go func(id, token string) {
			defer wg.Done()
			info := p.fetchOne(ctx, pool, fmt.Sprintf(detailURLFormat, id, token))
			mu.Lock()
			results[id] = info
			mu.Unlock()
		}(id, token)
	}
	wg.Wait()

	p.acquired.Store(pool.Acquired())
	p.released.Store(pool.Released())
	return results
}

// fetchOne visits a single detail page. Missing optional nodes degrade to
// empty fields, never to an error; the placeholder is returned whenever the
// page could not be visited at all.
func (p *Pipeline) fetchOne(ctx context.Context, pool *Pool, detailURL string) models.DetailPageInfo {
	// Do not burn pool capacity once the context is known hostile.
	if p.flag.IsSet() {
		return models.DetailPageInfo{}
	}

	var info models.DetailPageInfo
	err := pool.With(ctx, func(sess Session) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := sess.Navigate(ctx, detailURL); err != nil {
			return err
		}
		if sess.Title() == challengeTitle {
			p.reportChallenge(ctx)
			return nil // placeholder result, session still released
		}

		// Give the async description render a chance before snapshotting.
		_, _ = sess.Element("div#detail-desc", p.elementTimeout)

		page, err := sess.HTML()
		if err != nil {
			return err
		}
		info = extractDetail(detailURL, page)
		return nil
	})
	if err != nil {
		slog.Warn("detail fetch failed", "url", detailURL, "error", err)
		return models.DetailPageInfo{}
	}
	return info
}

// reportChallenge trips the run flag and pushes the operator notification,
// once per run no matter how many tasks detect the page simultaneously.
func (p *Pipeline) reportChallenge(ctx context.Context) {
	p.flag.Trip()
	p.flag.notifyOnce.Do(func() {
		slog.Error("slider verification triggered, manual intervention required")
		body := fmt.Sprintf("- 时间：%s\n- 提示：账户触发滑动验证码，请手动访问小红书网站处理！", readableTime())
		if err := p.notifier.Send(ctx, "触发验证", body, nil); err != nil {
			slog.Warn("verification notification failed", "error", err)
		}
	})
}

// extractDetail pulls the structured fields out of a rendered detail page.
func extractDetail(detailURL, page string) models.DetailPageInfo {
	info := models.DetailPageInfo{
		NoteID: noteIDFromURL(detailURL),
		URL:    detailURL,
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		slog.Warn("detail parse failed", "url", detailURL, "error", err)
		return info
	}

	if desc := doc.FindMatcher(descMatcher).First(); desc.Length() > 0 {
		if h, err := desc.Html(); err == nil {
			info.DescHTML = strings.TrimSpace(h)
		}
	}

	if src, ok := doc.FindMatcher(videoMatcher).First().Attr("src"); ok {
		info.VideoURL = strings.TrimPrefix(src, "blob:")
	}

	doc.FindMatcher(tagMatcher).Each(func(_ int, s *goquery.Selection) {
		if tag := strings.TrimSpace(s.Text()); tag != "" {
			info.Tags = append(info.Tags, tag)
		}
	})

	return info
}

// noteIDFromURL returns the last path segment of a detail URL.
func noteIDFromURL(detailURL string) string {
	u, err := url.Parse(detailURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
	return parts[len(parts)-1]
}
