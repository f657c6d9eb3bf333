// Package collyfetcher implements gazette.PageFetcher and gazette.PageLister
// over plain HTTP using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

// Default URL templates relative to Config.BaseURL.
const (
	DefaultPagePath = "/cadernos/{volume}/{issue}/{notebook}/{page}"
	DefaultListPath = "/edicoes?data={date}"
)

// Config controls collector behavior.
type Config struct {
	BaseURL       string
	PagePath      string
	ListPath      string
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher retrieves page text with the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// response accumulates what the collector callbacks observe for one visit.
type response struct {
	status int
	body   []byte
	text   string
	err    error
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("source base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse source base URL: %w", err)
	}
	if cfg.PagePath == "" {
		cfg.PagePath = DefaultPagePath
	}
	if cfg.ListPath == "" {
		cfg.ListPath = DefaultListPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}, nil
}

// Fetch returns the text of one gazette page.
func (f *Fetcher) Fetch(ctx context.Context, key gazette.PageKey) (string, error) {
	resp, err := f.visit(ctx, f.PageURL(key))
	if err != nil {
		return "", fmt.Errorf("fetch page %s: %w", key, err)
	}
	if resp.text != "" {
		return resp.text, nil
	}
	return string(resp.body), nil
}

// ListPages returns the page keys published on date.
func (f *Fetcher) ListPages(ctx context.Context, date time.Time) ([]gazette.PageKey, error) {
	resp, err := f.visit(ctx, f.ListURL(date))
	if err != nil {
		return nil, fmt.Errorf("list pages for %s: %w", date.Format("02/01/2006"), err)
	}
	dec := json.NewDecoder(bytes.NewReader(resp.body))
	dec.DisallowUnknownFields()
	var keys []gazette.PageKey
	if err := dec.Decode(&keys); err != nil {
		return nil, fmt.Errorf("decode page listing: %w", err)
	}
	return keys, nil
}

// PageURL renders the page template for key.
func (f *Fetcher) PageURL(key gazette.PageKey) string {
	r := strings.NewReplacer(
		"{volume}", url.PathEscape(key.VolumeID),
		"{issue}", url.PathEscape(key.IssueID),
		"{notebook}", url.PathEscape(key.NotebookID),
		"{page}", strconv.Itoa(key.PageNumber),
	)
	return strings.TrimRight(f.cfg.BaseURL, "/") + r.Replace(f.cfg.PagePath)
}

// ListURL renders the listing template for date.
func (f *Fetcher) ListURL(date time.Time) string {
	r := strings.NewReplacer("{date}", url.QueryEscape(date.Format("2006-01-02")))
	return strings.TrimRight(f.cfg.BaseURL, "/") + r.Replace(f.cfg.ListPath)
}

func (f *Fetcher) visit(ctx context.Context, target string) (*response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("colly fetch canceled: %w", err)
	}
	collector := f.buildCollector()
	resp := &response{}
	f.configureCollectorHooks(collector, resp)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if resp.err != nil {
			return nil, fmt.Errorf("colly response failed (status %d): %w", resp.status, resp.err)
		}
		if err != nil {
			return nil, fmt.Errorf("colly visit failed: %w", err)
		}
		return resp, nil
	}
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, resp *response) {
	hooks.OnResponse(func(r *colly.Response) {
		resp.status = r.StatusCode
		resp.body = append([]byte(nil), r.Body...)
	})

	hooks.OnHTML("body", func(e *colly.HTMLElement) {
		resp.text = strings.TrimSpace(e.Text)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			resp.status = r.StatusCode
		}
		resp.err = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
