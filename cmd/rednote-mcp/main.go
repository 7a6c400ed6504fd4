package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/rednote/api"
	"github.com/use-agent/rednote/cache"
	"github.com/use-agent/rednote/config"
	"github.com/use-agent/rednote/models"
	"github.com/use-agent/rednote/notify"
	"github.com/use-agent/rednote/scraper"
)

const (
	maxQueryRunes = 15
	maxPostLimit  = 10

	retryAttempts = 3
	retryWait     = 200 * time.Millisecond
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("rednote-mcp starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"statusPort", cfg.Server.StatusPort,
		"detailSessions", cfg.Fetch.DetailSessions,
	)

	if cfg.DingTalk.WebhookURL == "" {
		slog.Error("DINGTALK_WEBHOOK_URI is required")
		os.Exit(1)
	}
	notifier := notify.NewDingTalk(cfg.DingTalk.WebhookURL, cfg.DingTalk.Secret)

	// ── 3. Launch the browser ───────────────────────────────────────
	browser, err := scraper.NewBrowser(cfg.Browser)
	if err != nil {
		slog.Error("failed to launch browser", "error", err)
		os.Exit(1)
	}
	defer browser.Close()

	svc := scraper.NewService(browser, notifier, cfg.Fetch)
	cc := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	startTime := time.Now()

	// ── 4. MCP server with the fetch_hot_posts tool ─────────────────
	s := server.NewMCPServer(
		"RednoteServer",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	fetchTool := mcp.NewTool("fetch_hot_posts",
		mcp.WithDescription("从小红书获取爆款帖子数据，返回 markdown 形式的帖子内容"),
		mcp.WithString("search",
			mcp.Required(),
			mcp.Description("搜索主题，长度不超过15个字"),
		),
		mcp.WithNumber("limit",
			mcp.Description("获取帖子数量，较多会增加耗时，不超过10"),
		),
	)
	s.AddTool(fetchTool, handleFetchHotPosts(svc, cc))

	sse := server.NewSSEServer(s)
	mcpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		if err := sse.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("MCP server error", "error", err)
			os.Exit(1)
		}
	}()
	slog.Info("MCP server listening", "addr", mcpAddr, "transport", "sse")

	// ── 5. Status surface ───────────────────────────────────────────
	var statusSrv *http.Server
	if cfg.Server.StatusPort > 0 {
		statusSrv = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.StatusPort),
			Handler: api.NewRouter(svc, cfg, startTime),
		}
		go func() {
			if err := statusSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("status server error", "error", err)
			}
		}()
	}

	// ── 6. Wait for shutdown signal ─────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sse.Shutdown(ctx); err != nil {
		slog.Warn("MCP server shutdown", "error", err)
	}
	if statusSrv != nil {
		if err := statusSrv.Shutdown(ctx); err != nil {
			slog.Warn("status server shutdown", "error", err)
		}
	}
}

// handleFetchHotPosts validates tool input, consults the result cache, and
// runs the fetch under the outer retry policy.
func handleFetchHotPosts(svc *scraper.Service, cc *cache.Cache) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		search, err := request.RequireString("search")
		if err != nil {
			return mcp.NewToolResultError("search is required"), nil
		}
		// Constraint violations answer immediately, before any network work.
		if len([]rune(search)) > maxQueryRunes {
			return mcp.NewToolResultError("Error: 搜索字符串长度不能超过15个字"), nil
		}

		limit := 5
		if v, ok := request.GetArguments()["limit"].(float64); ok && v > 0 {
			limit = int(v)
		}
		if limit > maxPostLimit {
			limit = maxPostLimit
		}

		key := cache.Key(search, limit)
		if output, hit := cc.Get(key); hit {
			slog.Info("cache hit", "search", search, "limit", limit)
			return mcp.NewToolResultText(output), nil
		}

		output, err := fetchWithRetry(ctx, svc, search, limit)
		if err != nil {
			slog.Error("fetch_hot_posts failed", "search", search, "error", err)
			return mcp.NewToolResultError(models.UserMessage(err)), nil
		}

		cc.Set(key, output)
		return mcp.NewToolResultText(output), nil
	}
}

// fetchWithRetry runs the fetch up to retryAttempts times with a fixed wait,
// closing stale tabs before each attempt so a retry starts from a clean
// browsing context. Hitting the security verification is never retried: the
// operator has been notified and blind retries would worsen detection.
func fetchWithRetry(ctx context.Context, svc *scraper.Service, search string, limit int) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(retryWait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			slog.Info("retrying fetch", "attempt", attempt, "search", search)
		}
		svc.CleanTabs()

		output, err := svc.FetchHotPosts(ctx, search, limit)
		if err == nil {
			return output, nil
		}
		lastErr = err

		if models.IsCode(err, models.ErrCodeSecurityCheck) ||
			models.IsCode(err, models.ErrCodeEmptyResult) ||
			errors.Is(err, context.Canceled) {
			return "", err
		}
	}
	return "", lastErr
}

// initLogger configures the global slog logger from config.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(h))
}
