package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	tls2 "github.com/refraction-networking/utls"
)

// httpFetcher issues direct HTTP requests with a Chrome TLS fingerprint
// (utls), so a replayed API call presents the same client the browser does.
type httpFetcher struct {
	timeout time.Duration
}

func newHTTPFetcher(timeout time.Duration) *httpFetcher {
	return &httpFetcher{timeout: timeout}
}

// postJSON replays a JSON POST with the given headers and cookie jar and
// returns the response status and body. Bodies above 10 MB are truncated.
func (f *httpFetcher) postJSON(ctx context.Context, targetURL string, headers, cookies map[string]string, body []byte) (int, []byte, error) {
	transport := &http.Transport{
		DialTLSContext: dialTLSChrome,
	}
	client := &http.Client{Transport: transport, Timeout: f.timeout}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("httpfetch: build request: %w", err)
	}

	for k, v := range headers {
		// Headers from the captured request; length and cookie values are
		// recomputed for the replay.
		switch strings.ToLower(k) {
		case "content-length", "cookie":
			continue
		}
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", chromeUA)
	}
	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("httpfetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("httpfetch: read body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// dialTLSChrome establishes a TLS connection using a Chrome fingerprint via utls.
func dialTLSChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls2.UClient(rawConn, &tls2.Config{
		ServerName: host,
	}, tls2.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}
