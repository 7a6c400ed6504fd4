package scraper

import (
	"context"
	"sync"
	"time"

	"github.com/ysmood/gson"
)

// fakeElement is a canned DOM node.
type fakeElement struct {
	text  string
	attrs map[string]string
}

func (e *fakeElement) Text() string { return e.text }

func (e *fakeElement) Attribute(name string) string { return e.attrs[name] }

// fakeSession scripts the automation-engine surface for tests.
type fakeSession struct {
	mu sync.Mutex

	title      string
	html       string
	navErr     error
	navigated  []string
	onNavigate func(s *fakeSession, url string)

	elements     map[string]*fakeElement
	elementAfter map[string]int // selector resolves only after N failed probes
	probes       map[string]int

	evalResult any
	evalErr    error

	cookies map[string]string

	exchange    *Exchange
	exchangeErr error

	closed bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		elements:     map[string]*fakeElement{},
		elementAfter: map[string]int{},
		probes:       map[string]int{},
		cookies:      map[string]string{"web_session": "abc"},
	}
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	s.navigated = append(s.navigated, url)
	hook := s.onNavigate
	s.mu.Unlock()
	if hook != nil {
		hook(s, url)
	}
	return s.navErr
}

func (s *fakeSession) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

func (s *fakeSession) setTitle(title string) {
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
}

func (s *fakeSession) HTML() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.html, nil
}

func (s *fakeSession) Element(selector string, timeout time.Duration) (Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes[selector]++
	if after, gated := s.elementAfter[selector]; gated && s.probes[selector] <= after {
		return nil, false
	}
	el, ok := s.elements[selector]
	if !ok {
		return nil, false
	}
	return el, true
}

func (s *fakeSession) Eval(js string) (gson.JSON, error) {
	if s.evalErr != nil {
		return gson.New(nil), s.evalErr
	}
	return gson.New(s.evalResult), nil
}

func (s *fakeSession) Cookies() map[string]string { return s.cookies }

func (s *fakeSession) UserAgent() string { return "test-agent" }

func (s *fakeSession) CaptureExchange(ctx context.Context, pathPattern string, trigger func() error, timeout time.Duration) (*Exchange, error) {
	if err := trigger(); err != nil {
		return nil, err
	}
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return s.exchange, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) visitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.navigated)
}

// fakeNotifier records operator notifications.
type fakeNotifier struct {
	mu    sync.Mutex
	sends []sentMessage
	err   error
}

type sentMessage struct {
	title  string
	body   string
	images []string
}

func (n *fakeNotifier) Send(ctx context.Context, title, markdown string, images []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sends = append(n.sends, sentMessage{title: title, body: markdown, images: images})
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sends)
}

func (n *fakeNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	titles := make([]string, len(n.sends))
	for i, s := range n.sends {
		titles[i] = s.title
	}
	return titles
}

// fakeEngine hands out scripted sessions: first from the queue, then from
// makeSession for the detail pipeline's run-scoped sessions.
type fakeEngine struct {
	mu          sync.Mutex
	queue       []*fakeSession
	makeSession func() *fakeSession
	created     []*fakeSession
}

func (e *fakeEngine) NewSession() (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var s *fakeSession
	if len(e.queue) > 0 {
		s = e.queue[0]
		e.queue = e.queue[1:]
	} else if e.makeSession != nil {
		s = e.makeSession()
	} else {
		s = newFakeSession()
	}
	e.created = append(e.created, s)
	return s, nil
}

func (e *fakeEngine) CleanTabs() {}

func (e *fakeEngine) Close() {}
