package scraper

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/rednote/config"
	"github.com/use-agent/rednote/models"
)

func testFetchConfig() config.FetchConfig {
	return config.FetchConfig{
		DetailSessions: 2,
		LoginWait:      50 * time.Millisecond,
		LoginPoll:      5 * time.Millisecond,
		CaptureTimeout: time.Second,
		ReplayTimeout:  time.Second,
		ElementTimeout: time.Millisecond,
		NavPerSecond:   1000,
	}
}

// authedSearchSession is a primary session that is already logged in and whose
// search navigation yields a clean captured exchange.
func authedSearchSession() *fakeSession {
	s := newFakeSession()
	s.elements[loginMarker] = &fakeElement{}
	s.exchange = &Exchange{
		Method:       "POST",
		URL:          notesAPIURL,
		Headers:      map[string]string{"X-S": "sig"},
		Body:         []byte(`{"keyword":"美食"}`),
		Status:       200,
		ResponseBody: []byte(`{"code":0}`),
	}
	return s
}

func TestService_FetchHotPosts(t *testing.T) {
	var mu sync.Mutex
	var detailSessions []*fakeSession
	engine := &fakeEngine{
		queue: []*fakeSession{authedSearchSession()},
		makeSession: func() *fakeSession {
			s := newFakeSession()
			s.html = detailPage
			mu.Lock()
			detailSessions = append(detailSessions, s)
			mu.Unlock()
			return s
		},
	}
	notifier := &fakeNotifier{}
	svc := NewService(engine, notifier, testFetchConfig())
	svc.search.replay = func(context.Context, string, map[string]string, map[string]string, []byte) (int, []byte, error) {
		return 200, listingBody(8), nil
	}
	svc.gate.DumpFile = ""

	out, err := svc.FetchHotPosts(context.Background(), "美食", 5)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	if got := strings.Count(out, "篇帖子 ############"); got != 5 {
		t.Errorf("rendered %d post sections, want 5 after truncation", got)
	}
	if !strings.Contains(out, "############ 第 1 篇帖子 ############") {
		t.Errorf("missing first section header:\n%s", out)
	}
	if !strings.Contains(out, "标题1") {
		t.Error("listing titles missing from the output")
	}

	// Only the truncated items reach the detail pipeline.
	mu.Lock()
	visits := 0
	for _, s := range detailSessions {
		visits += s.visitCount()
	}
	mu.Unlock()
	if visits != 5 {
		t.Errorf("%d detail navigations, want 5", visits)
	}
	if notifier.count() != 0 {
		t.Errorf("authenticated run sent %d notifications", notifier.count())
	}

	stats := svc.Stats()
	if stats.Runs != 1 || stats.LastQuery != "美食" || stats.LastItemCount != 5 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.SessionsAcquired != stats.SessionsReleased {
		t.Errorf("stats leak sessions: %+v", stats)
	}
}

func TestService_EmptyListingIsEmptyResult(t *testing.T) {
	engine := &fakeEngine{queue: []*fakeSession{authedSearchSession()}}
	svc := NewService(engine, &fakeNotifier{}, testFetchConfig())
	svc.search.replay = func(context.Context, string, map[string]string, map[string]string, []byte) (int, []byte, error) {
		return 200, listingBody(0), nil
	}

	_, err := svc.FetchHotPosts(context.Background(), "没有结果的词", 5)
	if !models.IsCode(err, models.ErrCodeEmptyResult) {
		t.Fatalf("want EMPTY_RESULT, got %v", err)
	}
	if svc.Stats().Runs != 1 {
		t.Error("failed runs must still be recorded")
	}
}

func TestService_LoginTimeoutSurfaces(t *testing.T) {
	sess := newFakeSession() // unauthenticated
	sess.elements[qrSelector] = &fakeElement{attrs: map[string]string{"src": "data:image/png;base64,x"}}
	engine := &fakeEngine{queue: []*fakeSession{sess}}
	notifier := &fakeNotifier{}
	svc := NewService(engine, notifier, testFetchConfig())
	svc.gate.DumpFile = ""

	_, err := svc.FetchHotPosts(context.Background(), "美食", 5)
	if !models.IsCode(err, models.ErrCodeLoginTimeout) {
		t.Fatalf("want LOGIN_TIMEOUT, got %v", err)
	}
	if titles := notifier.titles(); len(titles) != 1 || titles[0] != "扫码登录" {
		t.Errorf("notifications = %v", titles)
	}
	if svc.Stats().LoginState != StateTimedOut.String() {
		t.Errorf("login state = %q", svc.Stats().LoginState)
	}
}

func TestService_NavigateFailureIsBrowserCrash(t *testing.T) {
	sess := newFakeSession()
	sess.navErr = context.DeadlineExceeded
	engine := &fakeEngine{queue: []*fakeSession{sess}}
	svc := NewService(engine, &fakeNotifier{}, testFetchConfig())

	_, err := svc.FetchHotPosts(context.Background(), "美食", 5)
	if !models.IsCode(err, models.ErrCodeBrowserCrash) {
		t.Fatalf("want BROWSER_CRASH, got %v", err)
	}
}

func TestService_ClosesPrimarySession(t *testing.T) {
	sess := authedSearchSession()
	engine := &fakeEngine{queue: []*fakeSession{sess}, makeSession: func() *fakeSession {
		s := newFakeSession()
		s.html = detailPage
		return s
	}}
	svc := NewService(engine, &fakeNotifier{}, testFetchConfig())
	svc.search.replay = func(context.Context, string, map[string]string, map[string]string, []byte) (int, []byte, error) {
		return 200, listingBody(1), nil
	}

	if _, err := svc.FetchHotPosts(context.Background(), "美食", 5); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !sess.closed {
		t.Error("primary session was not closed after the run")
	}
}
