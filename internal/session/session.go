// Package session scrapes one gazette date: it lists the published pages,
// fetches them through a bounded page cache, reconstructs records split
// across page boundaries, and writes each record to the output directory.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
	"github.com/JakeFAU/gazette-ingest/internal/hash/sha256"
	"github.com/JakeFAU/gazette-ingest/internal/metrics"
	"github.com/JakeFAU/gazette-ingest/internal/stitch"
)

// Config tunes a scraping session.
type Config struct {
	OutputDir string
	CacheSize int
	// RequestsPerSecond caps source fetches; zero disables the limit.
	RequestsPerSecond float64
	Burst             int
	Stitch            stitch.Config
}

// Session scrapes dates one at a time. It is owned by a single worker and
// is not safe for concurrent Run calls.
type Session struct {
	lister   gazette.PageLister
	cache    *stitch.PageCache
	stitcher *stitch.Stitcher
	patterns stitch.Patterns
	limiter  *rate.Limiter
	clock    gazette.Clock
	cfg      Config
	logger   *zap.Logger
	closer   func()
}

// New builds a Session with its own page cache.
func New(
	fetcher gazette.PageFetcher,
	lister gazette.PageLister,
	patterns stitch.Patterns,
	clock gazette.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Session, error) {
	if fetcher == nil || lister == nil {
		return nil, errors.New("page fetcher and lister are required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return nil, errors.New("output directory is required")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	cache := stitch.NewPageCache(&limitedFetcher{next: fetcher, limiter: limiter}, cfg.CacheSize)
	return &Session{
		lister:   lister,
		cache:    cache,
		stitcher: stitch.New(cache, patterns, cfg.Stitch, logger),
		patterns: patterns,
		limiter:  limiter,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// OnClose registers fn to run when the session is closed, e.g. to shut
// down a browser owned by the fetcher.
func (s *Session) OnClose(fn func()) {
	s.closer = fn
}

// Close releases resources held by the session.
func (s *Session) Close() {
	if s.closer != nil {
		s.closer()
	}
}

// Run scrapes date and returns the number of records written.
func (s *Session) Run(ctx context.Context, date gazette.Date) (int, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}
	keys, err := s.lister.ListPages(ctx, date.Time())
	if err != nil {
		return 0, fmt.Errorf("list pages for %s: %w", date, err)
	}
	logger := s.logger.With(zap.String("date", date.String()))
	logger.Info("scraping date", zap.Int("pages", len(keys)))

	run := &dateRun{session: s, date: date, logger: logger, written: make(map[string]struct{})}
	failed := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return run.count, err
		}
		content, err := s.cache.GetOrFetch(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return run.count, ctx.Err()
			}
			if errors.Is(err, gazette.ErrSessionFatal) {
				return run.count, err
			}
			failed++
			logger.Warn("page fetch failed", zap.String("page", key.String()), zap.Error(err))
			continue
		}
		if err := run.page(ctx, key, content); err != nil {
			return run.count, err
		}
	}
	if err := run.flush(); err != nil {
		return run.count, err
	}
	if len(keys) > 0 && failed == len(keys) {
		return run.count, fmt.Errorf("all %d pages failed to download", failed)
	}

	stats := s.cache.Stats()
	logger.Info("date scraped",
		zap.Int("records", run.count),
		zap.Int("failed_pages", failed),
		zap.Int64("cache_hits", stats.Hits),
		zap.Int64("cache_misses", stats.Misses),
	)
	return run.count, nil
}

// dateRun carries the per-date extraction state. The last relevant record
// of each page is held back until the next page shows whether it continues
// across the boundary.
type dateRun struct {
	session *Session
	date    gazette.Date
	logger  *zap.Logger
	held    *gazette.Record
	written map[string]struct{}
	count   int
}

func (r *dateRun) page(ctx context.Context, key gazette.PageKey, content string) error {
	p := r.session.patterns
	anchors := p.Anchors(content)
	hits := p.DomainHits(content)

	firstAnchor := len(content)
	if len(anchors) > 0 {
		firstAnchor = anchors[0].StartOffset
	}

	if len(hits) > 0 && hits[0] < firstAnchor {
		if err := r.boundary(ctx, key, content, hits[0], firstAnchor); err != nil {
			return err
		}
	}
	if err := r.flush(); err != nil {
		return err
	}

	for i, anchor := range anchors {
		end := len(content)
		if i+1 < len(anchors) {
			end = anchors[i+1].StartOffset
		}
		if !anyWithin(hits, anchor.StartOffset, end) {
			continue
		}
		rec := r.record(anchor.RecordID, content[anchor.StartOffset:end], key, false, 0)
		if i == len(anchors)-1 {
			r.held = &rec
			continue
		}
		if err := r.emit(rec); err != nil {
			return err
		}
	}
	return nil
}

// boundary handles a page whose first match has no anchor before it.
func (r *dateRun) boundary(ctx context.Context, key gazette.PageKey, content string, match, firstAnchor int) error {
	result, err := r.session.stitcher.Stitch(ctx, content, match, key)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Warn("stitching skipped", zap.String("page", key.String()), zap.Error(err))
		result = gazette.StitchResult{MergedContent: content}
	}

	if result.SpansPages {
		anchor, ok := r.session.patterns.FirstAnchor(result.MergedContent)
		if !ok {
			return nil
		}
		rec := r.record(anchor.RecordID, result.MergedContent, key, true, result.QualityScore)
		rec.Source = sourceOf(key, true)
		if r.held != nil && r.held.RecordID == rec.RecordID {
			r.held = nil
		}
		return r.emit(rec)
	}

	if result.Reason != "" {
		r.logger.Debug("record left unmerged", zap.String("page", key.String()), zap.String("reason", result.Reason))
	}
	head := content[:firstAnchor]
	id, ok := r.session.patterns.Identifier(head)
	if !ok {
		r.logger.Debug("dropping fragment without identifier", zap.String("page", key.String()))
		return nil
	}
	return r.emit(r.record(id, head, key, false, 0))
}

func (r *dateRun) record(id, segment string, key gazette.PageKey, stitched bool, score float64) gazette.Record {
	fields := extractFields(segment)
	if score == 0 {
		score = r.session.patterns.Score(segment)
	}
	return gazette.Record{
		RecordID:     id,
		Date:         r.date.ISO(),
		Narrative:    cleanNarrative(segment),
		Parties:      fields.parties,
		Counsel:      fields.counsel,
		Amount:       fields.amount,
		Source:       sourceOf(key, false),
		Stitched:     stitched,
		QualityScore: score,
		ContentHash:  sha256.Fingerprint(segment),
		ExtractedAt:  r.session.clock.Now(),
	}
}

// sourceOf returns where a record starts. Stitched records start on the
// previous page.
func sourceOf(key gazette.PageKey, stitched bool) gazette.RecordSource {
	if stitched {
		if prev, ok := key.Previous(); ok {
			key = prev
		}
	}
	return gazette.RecordSource{
		VolumeID:   key.VolumeID,
		IssueID:    key.IssueID,
		NotebookID: key.NotebookID,
		PageNumber: key.PageNumber,
	}
}

func (r *dateRun) flush() error {
	if r.held == nil {
		return nil
	}
	rec := *r.held
	r.held = nil
	return r.emit(rec)
}

func (r *dateRun) emit(rec gazette.Record) error {
	if _, dup := r.written[rec.RecordID]; dup {
		return nil
	}
	if err := r.session.write(rec); err != nil {
		return err
	}
	r.written[rec.RecordID] = struct{}{}
	r.count++
	metrics.ObserveRecordExtracted(rec.Stitched)
	return nil
}

// FileName returns the output file name for rec.
func FileName(rec gazette.Record) string {
	id := strings.NewReplacer("/", "_", `\`, "_", " ", "_").Replace(rec.RecordID)
	return rec.Date + "_" + id + ".json"
}

// write stores rec via a hidden temp file and a rename, so watchers only
// ever see complete files under the final name.
func (s *Session) write(rec gazette.Record) error {
	name := FileName(rec)
	tmp, err := os.CreateTemp(s.cfg.OutputDir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record file: %w", err)
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("encode record %s: %w", rec.RecordID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp record file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.cfg.OutputDir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publish record %s: %w", rec.RecordID, err)
	}
	return nil
}

func anyWithin(hits []int, start, end int) bool {
	for _, h := range hits {
		if h >= start && h < end {
			return true
		}
	}
	return false
}

// limitedFetcher applies the session rate limit to source fetches.
type limitedFetcher struct {
	next    gazette.PageFetcher
	limiter *rate.Limiter
}

func (f *limitedFetcher) Fetch(ctx context.Context, key gazette.PageKey) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return f.next.Fetch(ctx, key)
}
