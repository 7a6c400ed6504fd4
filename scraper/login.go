package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"

	"github.com/use-agent/rednote/models"
	"github.com/use-agent/rednote/notify"
)

// LoginState is the login gate's position in its challenge-resolution cycle.
type LoginState int32

const (
	StateUnauthenticated LoginState = iota
	StateChallengePending
	StateAuthenticated
	StateTimedOut
	StateFailed
)

func (s LoginState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateChallengePending:
		return "challenge_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// loginMarker is only rendered for authenticated users.
	loginMarker = "li.user.side-bar-component"

	// qrSelector locates the QR challenge image shown to logged-out visitors.
	qrSelector = "img.qrcode-img"

	// blockTitle is the page title of the anti-automation block page.
	blockTitle = "安全限制"
)

// UserIdentity is the best-effort identity read from the page's client-side
// state after a successful login.
type UserIdentity struct {
	Nickname string
	UserID   string
}

// Gate decides whether the browsing context is authenticated and, when it is
// not, drives the challenge cycle (notify the operator with the QR, then
// poll for the marker) to completion or timeout.
type Gate struct {
	Notifier     notify.Notifier
	PollInterval time.Duration // cadence of the post-challenge probe
	WaitCeiling  time.Duration // hard ceiling on the whole challenge wait
	ProbeTimeout time.Duration // per-probe DOM wait
	DumpFile     string        // diagnostic HTML dump target, "" disables

	state atomic.Int32
}

// NewGate creates a Gate with the given operator channel and timing.
func NewGate(notifier notify.Notifier, pollInterval, waitCeiling, probeTimeout time.Duration) *Gate {
	return &Gate{
		Notifier:     notifier,
		PollInterval: pollInterval,
		WaitCeiling:  waitCeiling,
		ProbeTimeout: probeTimeout,
		DumpFile:     "qrcode.html",
	}
}

// State returns the gate's position after the last Resolve.
func (g *Gate) State() LoginState {
	return LoginState(g.state.Load())
}

func (g *Gate) setState(s LoginState) {
	prev := LoginState(g.state.Swap(int32(s)))
	if prev != s {
		slog.Debug("login state", "from", prev, "to", s)
	}
}

// IsAuthenticated probes the page for the authenticated-only marker, waiting
// at most timeout for it to appear.
func (g *Gate) IsAuthenticated(sess Session, timeout time.Duration) bool {
	_, ok := sess.Element(loginMarker, timeout)
	return ok
}

// Resolve drives the challenge cycle on an unauthenticated session. Callers
// must have already determined the session is unauthenticated.
//
// No QR element on the page means the surface served something unexpected,
// usually a prior block, and the run must abort rather than wait. When the
// challenge is present, the QR image is pushed to the operator and the page
// is polled until the authenticated marker appears or the ceiling is hit.
func (g *Gate) Resolve(ctx context.Context, sess Session) (UserIdentity, error) {
	g.setState(StateUnauthenticated)

	qr, ok := sess.Element(qrSelector, g.ProbeTimeout)
	if !ok {
		g.setState(StateFailed)
		if blocked := g.dumpUnexpectedPage(sess); blocked {
			// An anti-automation block page; retrying would only dig deeper.
			return UserIdentity{}, models.NewFetchError(models.ErrCodeSecurityCheck, "网页错误，请联系开发者检查", nil)
		}
		return UserIdentity{}, models.NewFetchError(models.ErrCodeNoChallenge, "网页错误，请联系开发者检查", nil)
	}
	qrImage := qr.Attribute("src") // data:image/... URI

	g.setState(StateChallengePending)
	body := fmt.Sprintf("- 时间: %s\n- OS: %s\n- 提示：请使用手机版小红书app扫码登录，程序等待%d秒",
		readableTime(), osLabel(), int(g.WaitCeiling.Seconds()))
	if err := g.Notifier.Send(ctx, "扫码登录", body, []string{qrImage}); err != nil {
		g.setState(StateFailed)
		return UserIdentity{}, models.NewFetchError(models.ErrCodeNotify, "发送钉钉消息失败，请联系开发者检查", err)
	}

	slog.Info("waiting for QR scan", "ceiling", g.WaitCeiling)
	ok = pollUntil(ctx, g.PollInterval, g.WaitCeiling, func() bool {
		return g.IsAuthenticated(sess, 100*time.Millisecond)
	})
	if !ok {
		g.setState(StateTimedOut)
		return UserIdentity{}, models.NewFetchError(models.ErrCodeLoginTimeout, "等待登录超时，程序结束。", nil)
	}
	g.setState(StateAuthenticated)

	identity := g.readIdentity(sess)
	if identity.Nickname != "" {
		confirm := fmt.Sprintf("- 时间: %s\n- 提示：用户【%s】登录成功！", readableTime(), identity.Nickname)
		if err := g.Notifier.Send(ctx, "登录成功", confirm, nil); err != nil {
			slog.Warn("login confirmation notification failed", "error", err)
		}
	} else {
		slog.Warn("login succeeded but user identity could not be read")
	}
	return identity, nil
}

// readIdentity pulls user info from the page's client-side state.
// Failure here is never fatal.
func (g *Gate) readIdentity(sess Session) UserIdentity {
	res, err := sess.Eval(`() => {
		try {
			const u = window.__INITIAL_STATE__.user.userInfo.value;
			return { nickname: u.nickname || "", user_id: u.user_id || "" };
		} catch (e) {
			return null;
		}
	}`)
	if err != nil {
		slog.Warn("failed to read user identity", "error", err)
		return UserIdentity{}
	}
	return UserIdentity{
		Nickname: res.Get("nickname").Str(),
		UserID:   res.Get("user_id").Str(),
	}
}

// dumpUnexpectedPage records what the surface actually served when no
// challenge was found, reporting whether it was the anti-automation block
// page. A block page is only logged; anything else is written to DumpFile
// for offline diagnosis.
func (g *Gate) dumpUnexpectedPage(sess Session) bool {
	title := sess.Title()
	if title == blockTitle {
		slog.Error("anti-automation block page served", "title", title, "ua", sess.UserAgent())
		return true
	}
	if g.DumpFile == "" {
		return false
	}
	page, err := sess.HTML()
	if err != nil {
		slog.Warn("diagnostic dump: failed to read page HTML", "error", err)
		return false
	}
	if err := os.WriteFile(g.DumpFile, []byte(page), 0o644); err != nil {
		slog.Warn("diagnostic dump: write failed", "file", g.DumpFile, "error", err)
		return false
	}
	slog.Info("unexpected page dumped", "file", g.DumpFile, "title", htmlTitle(page))
	return false
}

// htmlTitle extracts the <title> content from raw HTML.
func htmlTitle(page string) string {
	tokenizer := html.NewTokenizer(bytes.NewReader([]byte(page)))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				if tokenizer.Next() == html.TextToken {
					return strings.TrimSpace(string(tokenizer.Text()))
				}
				return ""
			}
		}
	}
}

func osLabel() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS"
	case "linux":
		return "Linux"
	default:
		return "Windows"
	}
}

func readableTime() string {
	return time.Now().Format("2006-01-02 15:04:05")
}
