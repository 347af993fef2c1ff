// Package robots loads a vendor's robots.txt once per crawl run and turns it
// into a politeness policy: allow/deny rules, inter-page delay and backoff.
package robots

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const maxRobotsBytes = 1 << 20

// Options tunes policy defaults.
type Options struct {
	UserAgent  string
	MinDelay   time.Duration
	MaxDelay   time.Duration
	MaxBackoff time.Duration
	Timeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.MinDelay <= 0 {
		o.MinDelay = time.Second
	}
	if o.MaxDelay < o.MinDelay {
		o.MaxDelay = o.MinDelay + 1500*time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = "*"
	}
	return o
}

// Loader fetches robots.txt documents.
type Loader struct {
	client *http.Client
	opts   Options
	logger *zap.Logger
}

// NewLoader builds a Loader. A nil client gets one with the configured timeout.
func NewLoader(client *http.Client, opts Options, logger *zap.Logger) *Loader {
	opts = opts.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{client: client, opts: opts, logger: logger}
}

// Load returns the policy for baseURL. Fetch or parse failures yield the
// default policy, never an error.
func (l *Loader) Load(ctx context.Context, baseURL string) *Policy {
	body, status, err := l.fetch(ctx, baseURL)
	if err != nil {
		l.logger.Warn("robots fetch failed; using default policy", zap.String("base_url", baseURL), zap.Error(err))
		return Default(l.opts)
	}
	policy, err := Parse(status, body, l.opts)
	if err != nil {
		l.logger.Warn("robots parse failed; using default policy", zap.String("base_url", baseURL), zap.Error(err))
		return Default(l.opts)
	}
	l.logger.Debug("robots loaded",
		zap.String("base_url", baseURL),
		zap.Int("status", status),
		zap.Bool("explicit_delay", policy.HasExplicitDelay()),
		zap.Int("disallowed", len(policy.DisallowedPaths())),
	)
	return policy
}

func (l *Loader) fetch(ctx context.Context, baseURL string) ([]byte, int, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, 0, fmt.Errorf("parse base url: %w", err)
	}
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", l.opts.UserAgent)
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			l.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read robots body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// Policy is the parsed politeness policy for one vendor host.
type Policy struct {
	group      *robotstxt.Group
	crawlDelay time.Duration
	explicit   bool
	allowed    []string
	disallowed []string
	opts       Options
}

// Default returns the conservative policy used when robots.txt is unusable.
func Default(opts Options) *Policy {
	return &Policy{opts: opts.withDefaults()}
}

// Parse builds a policy from a robots.txt response. Non-2xx statuses yield
// the default policy.
func Parse(status int, body []byte, opts Options) (*Policy, error) {
	opts = opts.withDefaults()
	if status < 200 || status >= 300 {
		return Default(opts), nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	p := &Policy{opts: opts, group: data.FindGroup(opts.UserAgent)}
	if p.group != nil && p.group.CrawlDelay > 0 {
		p.crawlDelay = p.group.CrawlDelay
		p.explicit = true
	}
	p.allowed, p.disallowed = collectRules(body, opts.UserAgent)
	return p, nil
}

// IsAllowed reports whether rawURL may be fetched. Unparseable URLs are denied.
func (p *Policy) IsAllowed(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if p.group == nil {
		return true
	}
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return p.group.Test(target)
}

// CrawlDelay returns the explicit crawl delay, zero when none was declared.
func (p *Policy) CrawlDelay() time.Duration {
	return p.crawlDelay
}

// HasExplicitDelay reports whether robots.txt declared a Crawl-delay.
func (p *Policy) HasExplicitDelay() bool {
	return p.explicit
}

// AllowedPaths returns the Allow rules of the matched group.
func (p *Policy) AllowedPaths() []string {
	return append([]string(nil), p.allowed...)
}

// DisallowedPaths returns the Disallow rules of the matched group.
func (p *Policy) DisallowedPaths() []string {
	return append([]string(nil), p.disallowed...)
}

// Delay returns the pause to take between two pages. Without an explicit
// crawl delay every call draws a fresh value in [MinDelay, MaxDelay].
func (p *Policy) Delay() time.Duration {
	if p.explicit {
		return p.crawlDelay
	}
	return p.opts.MinDelay + jitter(p.opts.MaxDelay-p.opts.MinDelay)
}

// ShouldRetry reports whether a response status is worth retrying.
func (p *Policy) ShouldRetry(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// BackoffDelay returns the wait before retry number attempt (1-based) after
// a response with the given status.
func (p *Policy) BackoffDelay(status, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.opts.MinDelay
	if p.explicit {
		base = p.crawlDelay
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1)) * statusFactor(status)
	if delay > float64(p.opts.MaxBackoff) {
		return p.opts.MaxBackoff
	}
	return time.Duration(delay)
}

func statusFactor(status int) float64 {
	switch status {
	case http.StatusTooManyRequests:
		return 3
	case http.StatusServiceUnavailable:
		return 2
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return 1.5
	default:
		return 1
	}
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// collectRules extracts the Allow/Disallow lines for the group that matches
// userAgent, falling back to "*". robotstxt keeps its rules unexported.
func collectRules(body []byte, userAgent string) (allowed, disallowed []string) {
	type group struct {
		agents     []string
		allowed    []string
		disallowed []string
	}
	var groups []*group
	var current *group
	lastWasAgent := false

	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "user-agent":
			if current == nil || !lastWasAgent {
				current = &group{}
				groups = append(groups, current)
			}
			current.agents = append(current.agents, strings.ToLower(value))
			lastWasAgent = true
		case "allow", "disallow":
			lastWasAgent = false
			if current == nil || value == "" {
				continue
			}
			if key == "allow" {
				current.allowed = append(current.allowed, value)
			} else {
				current.disallowed = append(current.disallowed, value)
			}
		default:
			lastWasAgent = false
		}
	}

	ua := strings.ToLower(userAgent)
	var best, wildcard *group
	bestLen := 0
	for _, g := range groups {
		for _, agent := range g.agents {
			if agent == "*" {
				if wildcard == nil {
					wildcard = g
				}
				continue
			}
			if strings.HasPrefix(ua, agent) && len(agent) > bestLen {
				best, bestLen = g, len(agent)
			}
		}
	}
	if best == nil {
		best = wildcard
	}
	if best == nil {
		return nil, nil
	}
	return best.allowed, best.disallowed
}
