package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Notifier delivers operator-facing messages. Implementations must treat a
// non-zero provider error code as a hard failure of the send.
type Notifier interface {
	// Send delivers a markdown message with optional inline images
	// (URLs or data: URIs, rendered above the body).
	Send(ctx context.Context, title, markdown string, images []string) error
}

// DingTalk sends markdown messages to a DingTalk group robot webhook.
// When Secret is non-empty each request is signed with HMAC-SHA256 over
// "<timestamp>\n<secret>" and the signature is appended as query parameters.
type DingTalk struct {
	WebhookURL string
	Secret     string
	Client     *http.Client
}

// NewDingTalk creates a DingTalk notifier with a 10s request timeout.
func NewDingTalk(webhookURL, secret string) *DingTalk {
	return &DingTalk{
		WebhookURL: webhookURL,
		Secret:     secret,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// dingResponse is the robot API result envelope.
type dingResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (d *DingTalk) Send(ctx context.Context, title, markdown string, images []string) error {
	text := markdown
	if len(images) > 0 {
		var imgLines bytes.Buffer
		for _, img := range images {
			fmt.Fprintf(&imgLines, "![screenshot](%s)\n", img)
		}
		text = imgLines.String() + "\n\n" + markdown
	}

	payload := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": title,
			"text":  text,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.signedURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify: endpoint returned status %d", resp.StatusCode)
	}

	var result dingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("notify: parse response: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("notify: dingtalk errcode %d: %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

// signedURL appends the timestamp and HMAC-SHA256 signature required by
// robots configured with a signing secret.
func (d *DingTalk) signedURL() string {
	if d.Secret == "" {
		return d.WebhookURL
	}
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	stringToSign := timestamp + "\n" + d.Secret

	mac := hmac.New(sha256.New, []byte(d.Secret))
	mac.Write([]byte(stringToSign))
	sign := url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	return d.WebhookURL + "&timestamp=" + timestamp + "&sign=" + sign
}
