package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/use-agent/rednote/config"
	"github.com/use-agent/rednote/models"
	"github.com/use-agent/rednote/notify"
)

// Engine creates and manages browser sessions. *Browser is the production
// implementation; tests substitute fakes.
type Engine interface {
	NewSession() (Session, error)
	CleanTabs()
	Close()
}

// Stats is a snapshot of the service's run history for the status surface.
type Stats struct {
	Runs              int64     `json:"runs"`
	LastQuery         string    `json:"last_query"`
	LastRunAt         time.Time `json:"last_run_at"`
	LastItemCount     int       `json:"last_item_count"`
	SecurityTriggered bool      `json:"security_triggered"`
	SessionsAcquired  int64     `json:"sessions_acquired"`
	SessionsReleased  int64     `json:"sessions_released"`
	LoginState        string    `json:"login_state"`
}

// Service composes the login gate, the capture-and-replay search and the
// detail pipeline into the one public operation: ranked posts for a query,
// rendered as markdown.
type Service struct {
	engine   Engine
	gate     *Gate
	search   *SearchClient
	pipeline *Pipeline
	cfg      config.FetchConfig

	mu    sync.Mutex
	stats Stats
}

// NewService wires a Service from its collaborators.
func NewService(engine Engine, notifier notify.Notifier, cfg config.FetchConfig) *Service {
	return &Service{
		engine: engine,
		gate:   NewGate(notifier, cfg.LoginPoll, cfg.LoginWait, cfg.ElementTimeout),
		search: NewSearchClient(cfg.CaptureTimeout, cfg.ReplayTimeout),
		pipeline: NewPipeline(func() (Session, error) {
			return engine.NewSession()
		}, cfg.DetailSessions, cfg.NavPerSecond, cfg.ElementTimeout, notifier),
		cfg: cfg,
	}
}

// FetchHotPosts returns the markdown document for the top-ranked posts
// matching search. The listing fetch, including login resolution, completes
// before any detail fetch starts; detail fetches then fan out over a fresh
// run-scoped session pool.
//
// Input constraints are the tool layer's concern, not this method's.
func (s *Service) FetchHotPosts(ctx context.Context, search string, limit int) (string, error) {
	started := time.Now()

	sess, err := s.engine.NewSession()
	if err != nil {
		return "", err
	}
	defer func() { _ = sess.Close() }()

	if err := sess.Navigate(ctx, fmt.Sprintf(searchURLFormat, url.QueryEscape(search))); err != nil {
		return "", models.NewFetchError(models.ErrCodeBrowserCrash, "无法打开搜索页", err)
	}

	if !s.gate.IsAuthenticated(sess, s.cfg.ElementTimeout) {
		identity, err := s.gate.Resolve(ctx, sess)
		if err != nil {
			s.record(search, 0, started)
			return "", err
		}
		slog.Info("login resolved", "nickname", identity.Nickname)
	}

	listing, err := s.search.SearchListing(ctx, sess, search)
	if err != nil {
		s.record(search, 0, started)
		return "", err
	}
	listing.Truncate(limit)
	if len(listing.Items) == 0 {
		s.record(search, 0, started)
		return "", models.NewFetchError(models.ErrCodeEmptyResult, "无数据", nil)
	}

	details := s.pipeline.FetchAll(ctx, listing.Tokens())

	output := models.RenderPosts(listing, details)
	s.record(search, len(listing.Items), started)
	slog.Info("run complete",
		"query", search,
		"items", len(listing.Items),
		"security", s.pipeline.SecurityTriggered(),
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return output, nil
}

// CleanTabs closes stale tabs, keeping the most recent. The outer retry
// policy calls it before each new attempt.
func (s *Service) CleanTabs() {
	s.engine.CleanTabs()
}

// Stats returns a snapshot of the service's run counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Service) record(query string, items int, started time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Runs++
	s.stats.LastQuery = query
	s.stats.LastRunAt = started
	s.stats.LastItemCount = items
	s.stats.SecurityTriggered = s.pipeline.SecurityTriggered()
	s.stats.SessionsAcquired += s.pipeline.Acquired()
	s.stats.SessionsReleased += s.pipeline.Released()
	s.stats.LoginState = s.gate.State().String()
}
