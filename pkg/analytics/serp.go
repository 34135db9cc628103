package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"seo-optimizer/pkg/logger"
)

// SERPResult is one organic result.
type SERPResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Snippet  string `json:"snippet"`
	Domain   string `json:"domain"`
}

// SERPSnapshot is the structured result page for one keyword.
type SERPSnapshot struct {
	Keyword         string       `json:"keyword"`
	Results         []SERPResult `json:"results"`
	FeaturedSnippet string       `json:"featuredSnippet,omitempty"`
	FetchedAt       time.Time    `json:"timestamp"`
}

func (s SERPSnapshot) Titles() []string {
	out := make([]string, 0, len(s.Results))
	for _, r := range s.Results {
		if r.Title != "" {
			out = append(out, r.Title)
		}
	}
	return out
}

func (s SERPSnapshot) Descriptions() []string {
	out := make([]string, 0, len(s.Results))
	for _, r := range s.Results {
		if r.Snippet != "" {
			out = append(out, r.Snippet)
		}
	}
	return out
}

// Domains lists distinct result domains in rank order.
func (s SERPSnapshot) Domains() []string {
	seen := make(map[string]bool, len(s.Results))
	var out []string
	for _, r := range s.Results {
		d := r.Domain
		if d == "" {
			d = domainOf(r.URL)
		}
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// SERPSource returns the result page snapshot for a keyword.
type SERPSource interface {
	Lookup(ctx context.Context, keyword string) (SERPSnapshot, error)
}

// SERPConfig covers the provider connection. How many keywords are looked
// up per cycle, and how fast, is the caller's choice (see LookupAll).
type SERPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	// BreakerFailures consecutive failures open the circuit for
	// BreakerReset; zero disables the breaker.
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerReset    time.Duration `mapstructure:"breaker_reset"`
	Client          ClientConfig  `mapstructure:",squash"`
}

// SERPClient fetches snapshots from an HTTP scraping service that answers
// GET <endpoint>?q=<keyword> with a SERPSnapshot document.
type SERPClient struct {
	cfg     SERPConfig
	client  *client
	breaker *Breaker
	log     *logger.Logger
}

func NewSERPClient(cfg SERPConfig, log *logger.Logger, opts ...ClientOption) (*SERPClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("serp: endpoint is required")
	}
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.Component("serp")
	c := &SERPClient{cfg: cfg, client: newClient(cfg.Client, log, opts...), log: log}
	if cfg.BreakerFailures > 0 {
		c.breaker = NewBreaker(cfg.BreakerFailures, cfg.BreakerReset)
	}
	return c, nil
}

func (c *SERPClient) Lookup(ctx context.Context, keyword string) (SERPSnapshot, error) {
	sep := "?"
	if strings.Contains(c.cfg.Endpoint, "?") {
		sep = "&"
	}
	uri := c.cfg.Endpoint + sep + "q=" + url.QueryEscape(keyword)

	var snap SERPSnapshot
	fetch := func() error {
		return c.client.doJSON(ctx, fasthttp.MethodGet, uri, c.cfg.APIKey, nil, &snap)
	}
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, fetch)
	} else {
		err = fetch()
	}
	if err != nil {
		return SERPSnapshot{}, fmt.Errorf("%w: serp %q: %w", ErrCollaborator, keyword, err)
	}
	if snap.Keyword == "" {
		snap.Keyword = keyword
	}
	for i := range snap.Results {
		if snap.Results[i].Domain == "" {
			snap.Results[i].Domain = domainOf(snap.Results[i].URL)
		}
	}
	return snap, nil
}

// LookupAll fetches up to max keywords in order, waiting delay between
// calls. A failed keyword is logged and left out; cancellation or an open
// circuit stops the loop early.
func LookupAll(ctx context.Context, src SERPSource, keywords []string, max int, delay time.Duration, log *logger.Logger) (map[string]SERPSnapshot, []error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if max > 0 && len(keywords) > max {
		keywords = keywords[:max]
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	out := make(map[string]SERPSnapshot, len(keywords))
	var errs []error
	for _, kw := range keywords {
		if _, done := out[kw]; done {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%w: serp %q: %w", ErrCollaborator, kw, err))
			break
		}
		snap, err := src.Lookup(ctx, kw)
		if err != nil {
			log.WithField("keyword", kw).WithError(err).Warn("SERP lookup failed")
			errs = append(errs, err)
			if errors.Is(err, ErrCircuitOpen) {
				break
			}
			continue
		}
		out[kw] = snap
	}
	return out, errs
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
