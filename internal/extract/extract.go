// Package extract drives a headless browser to fetch a page and distill
// its textual content. Each call launches its own isolated browser
// instance; nothing is shared between concurrent extractions.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

const (
	defaultNavTimeout  = 30 * time.Second
	defaultSettleDelay = 2 * time.Second

	// Below this many characters a content region is considered empty and
	// the whole document body is used instead.
	minRegionLength = 100

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type Kind int

const (
	KindTimeout Kind = iota
	KindNetwork
	KindOther
)

// Error classifies an extraction failure for the retry policy.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("extraction timed out: %v", e.Err)
	case KindNetwork:
		return fmt.Sprintf("extraction network failure: %v", e.Err)
	default:
		return fmt.Sprintf("extraction failed: %v", e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Result struct {
	Title     string
	Content   string
	URL       string
	Timestamp time.Time
}

type Extractor struct {
	navTimeout  time.Duration
	settleDelay time.Duration
	browserPath string
	log         zerolog.Logger
}

func New(log zerolog.Logger) *Extractor {
	return &Extractor{
		navTimeout:  defaultNavTimeout,
		settleDelay: defaultSettleDelay,
		log:         log.With().Str("component", "extractor").Logger(),
	}
}

// SetBrowserPath points the launcher at a pre-installed browser binary
// instead of downloading one.
func (x *Extractor) SetBrowserPath(path string) {
	x.browserPath = path
}

// SetTimings overrides the navigation timeout and settle delay.
func (x *Extractor) SetTimings(navTimeout, settleDelay time.Duration) {
	if navTimeout > 0 {
		x.navTimeout = navTimeout
	}
	if settleDelay >= 0 {
		x.settleDelay = settleDelay
	}
}

// extractScript runs in the page after load: strip non-content nodes,
// pick the first sufficiently long content region, fall back to the body.
const extractScript = `() => {
	const title = document.title || 'No title found';

	document.querySelectorAll('script, style, noscript, iframe').forEach((el) => el.remove());

	let content = '';
	const selectors = ['main', 'article', '[role="main"]', '.content', '#content'];
	for (const selector of selectors) {
		const el = document.querySelector(selector);
		if (el && el.innerText && el.innerText.length >= 100) {
			content = el.innerText;
			break;
		}
	}
	if (!content) {
		content = document.body ? document.body.innerText : '';
	}

	return { title, content };
}`

// Extract fetches the page at url and returns its cleaned text. The
// browser is torn down on every exit path.
func (x *Extractor) Extract(ctx context.Context, url string) (*Result, error) {
	x.log.Debug().Str("url", url).Msg("launching browser")

	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Set("disable-dev-shm-usage").
		Set("disable-gpu")
	if x.browserPath != "" {
		l = l.Bin(x.browserPath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, &Error{Kind: KindOther, Err: fmt.Errorf("failed to launch browser: %w", err)}
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, &Error{Kind: KindOther, Err: fmt.Errorf("failed to connect to browser: %w", err)}
	}
	defer func() {
		_ = browser.Close()
		l.Cleanup()
	}()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, classify(err)
	}
	page = page.Context(ctx).Timeout(x.navTimeout)

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      userAgent,
		AcceptLanguage: "en-US,en;q=0.9",
	}); err != nil {
		return nil, classify(err)
	}

	if err := page.Navigate(url); err != nil {
		return nil, classify(err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, classify(err)
	}

	// Give client-rendered content a moment to populate.
	if x.settleDelay > 0 {
		select {
		case <-time.After(x.settleDelay):
		case <-ctx.Done():
			return nil, classify(ctx.Err())
		}
	}

	obj, err := page.Eval(extractScript)
	if err != nil {
		return nil, classify(err)
	}

	title := obj.Value.Get("title").Str()
	content := normalizeContent(obj.Value.Get("content").Str())

	x.log.Debug().Str("url", url).Int("chars", len(content)).Msg("extraction finished")

	return &Result{
		Title:     title,
		Content:   content,
		URL:       url,
		Timestamp: time.Now().UTC(),
	}, nil
}

var (
	spaceRuns = regexp.MustCompile(`[ \t]+`)
	lineEdges = regexp.MustCompile(` *\n *`)
	blankRuns = regexp.MustCompile(`\n{3,}`)
)

// normalizeContent collapses runs of spaces and caps consecutive blank
// lines at one.
func normalizeContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRuns.ReplaceAllString(s, " ")
	s = lineEdges.ReplaceAllString(s, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func classify(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Err: err}
	case isNetworkError(err):
		return &Error{Kind: KindNetwork, Err: err}
	default:
		return &Error{Kind: KindOther, Err: err}
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Chromium reports network-level failures as net:: error codes.
	return strings.Contains(err.Error(), "net::ERR")
}
