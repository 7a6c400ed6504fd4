package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/use-agent/rednote/models"
)

const (
	// notesAPIPath is the background call the search page issues; it is the
	// exchange the interceptor captures and replays.
	notesAPIPath = "api/sns/web/v1/search/notes"
	notesAPIURL  = "https://edith.xiaohongshu.com/" + notesAPIPath

	searchURLFormat = "https://www.xiaohongshu.com/search_result?keyword=%s"
)

// replayFunc issues the mutated request directly over HTTP.
type replayFunc func(ctx context.Context, targetURL string, headers, cookies map[string]string, body []byte) (int, []byte, error)

// SearchClient obtains the ranked listing for a query by capturing the search
// page's own notes API call and replaying it with a controlled sort order and
// type filter, bypassing the pagination and ranking baked into the page's
// default call.
type SearchClient struct {
	captureTimeout time.Duration
	replay         replayFunc
}

// NewSearchClient creates a SearchClient whose replays go out with a Chrome
// TLS fingerprint.
func NewSearchClient(captureTimeout, replayTimeout time.Duration) *SearchClient {
	fetcher := newHTTPFetcher(replayTimeout)
	return &SearchClient{
		captureTimeout: captureTimeout,
		replay:         fetcher.postJSON,
	}
}

// SearchListing navigates sess to the search page for query, captures the
// in-flight notes exchange, and replays it sorted by popularity and filtered
// to image notes. The captured response itself only gates the replay: its
// payload is discarded once validated.
func (c *SearchClient) SearchListing(ctx context.Context, sess Session, query string) (*models.Listing, error) {
	searchURL := fmt.Sprintf(searchURLFormat, url.QueryEscape(query))

	ex, err := sess.CaptureExchange(ctx, notesAPIPath, func() error {
		return sess.Navigate(ctx, searchURL)
	}, c.captureTimeout)
	if err != nil {
		slog.Error("search capture failed", "query", query, "error", err)
		return nil, models.NewFetchError(models.ErrCodeIntercept, "监听请求失败：/search/notes", err)
	}
	if err := validateCaptured(ex); err != nil {
		slog.Error("captured exchange rejected", "query", query, "status", ex.Status, "error", err)
		return nil, models.NewFetchError(models.ErrCodeIntercept, "监听请求失败：/search/notes", err)
	}

	body, err := mutateParams(ex.Body)
	if err != nil {
		slog.Error("captured request body not mutable", "query", query, "error", err)
		return nil, models.NewFetchError(models.ErrCodeIntercept, "监听请求失败：/search/notes", err)
	}

	status, respBody, err := c.replay(ctx, notesAPIURL, ex.Headers, sess.Cookies(), body)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeReplay, "请求失败", err)
	}
	if status != http.StatusOK {
		return nil, models.NewFetchError(models.ErrCodeReplay, fmt.Sprintf("请求失败：%d", status), nil)
	}

	return models.ParseListing(respBody)
}

// validateCaptured gates the replay on the captured exchange: transport
// status and the application-level status code inside the body both have to
// be clean, since soft failures come back as HTTP 200.
func validateCaptured(ex *Exchange) error {
	if ex.Status != http.StatusOK {
		return fmt.Errorf("captured response status %d", ex.Status)
	}
	var probe struct {
		Code *int `json:"code"`
	}
	if err := json.Unmarshal(ex.ResponseBody, &probe); err != nil {
		return fmt.Errorf("captured body is not a JSON object: %w", err)
	}
	if probe.Code == nil {
		return fmt.Errorf("captured body carries no status code")
	}
	if *probe.Code != 0 {
		return fmt.Errorf("captured body status code %d", *probe.Code)
	}
	return nil
}

// mutateParams rewrites the captured request parameters: ranked by
// popularity, image+text notes only.
func mutateParams(captured []byte) ([]byte, error) {
	params := map[string]any{}
	if err := json.Unmarshal(captured, &params); err != nil {
		return nil, fmt.Errorf("parse captured request body: %w", err)
	}
	params["sort"] = "popularity_descending"
	params["note_type"] = 2
	return json.Marshal(params)
}
