package stitch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
	"github.com/JakeFAU/gazette-ingest/internal/metrics"
)

// Defaults applied when Config fields are unset.
const (
	DefaultMaxWindow = 3000
	DefaultMinScore  = 0.7
	DefaultMinLength = 50
)

// Stitch outcomes reported to metrics and carried in StitchResult.Reason.
const (
	OutcomeAnchored       = "anchored"
	OutcomeFirstPage      = "first_page"
	OutcomeMerged         = "merged"
	OutcomeNoPrevAnchor   = "no_previous_anchor"
	OutcomeLowQuality     = "low_quality"
	OutcomeTooShort       = "too_short"
	OutcomeFetchFailed    = "fetch_failed"
	outcomeReasonTemplate = "%s (score %.2f, length %d)"
)

// Config tunes the stitcher.
type Config struct {
	MaxWindow int     `mapstructure:"max_window"`
	MinScore  float64 `mapstructure:"min_score"`
	MinLength int     `mapstructure:"min_length"`
}

// Pages resolves page bodies; PageCache satisfies it.
type Pages interface {
	GetOrFetch(ctx context.Context, key gazette.PageKey) (string, error)
}

// Stitcher reconstructs records split across a pagination boundary.
type Stitcher struct {
	pages    Pages
	patterns Patterns
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Stitcher.
func New(pages Pages, patterns Patterns, cfg Config, logger *zap.Logger) *Stitcher {
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = DefaultMaxWindow
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = DefaultMinScore
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultMinLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stitcher{
		pages:    pages,
		patterns: patterns,
		cfg:      cfg,
		logger:   logger,
	}
}

// FindAnchorBefore finds the last anchor within the configured window before
// position.
func (s *Stitcher) FindAnchorBefore(content string, position int) (gazette.RecordAnchor, bool) {
	return s.patterns.FindAnchorBefore(content, position, s.cfg.MaxWindow)
}

// Stitch resolves the record that contains matchPosition on the current page.
//
// When an anchor precedes the match the page is returned unmodified. Otherwise
// the tail of the previous page (from its last anchor) is joined to the head
// of the current page (up to its first anchor). Merges below the quality or
// length threshold fall back to the unmerged page. A fetch failure for the
// previous page is returned wrapped in gazette.ErrStitchingFailure.
func (s *Stitcher) Stitch(
	ctx context.Context,
	current string,
	matchPosition int,
	key gazette.PageKey,
) (gazette.StitchResult, error) {
	if _, ok := s.FindAnchorBefore(current, matchPosition); ok {
		metrics.ObserveStitch(OutcomeAnchored)
		return s.unmerged(current, ""), nil
	}
	prevKey, ok := key.Previous()
	if !ok {
		metrics.ObserveStitch(OutcomeFirstPage)
		return s.unmerged(current, OutcomeFirstPage), nil
	}

	previous, err := s.pages.GetOrFetch(ctx, prevKey)
	if err != nil {
		metrics.ObserveStitch(OutcomeFetchFailed)
		s.logger.Warn("previous page fetch failed; stitching skipped",
			zap.String("page", key.String()),
			zap.String("previous", prevKey.String()),
			zap.Error(err),
		)
		return gazette.StitchResult{}, fmt.Errorf("%w: page %s: %w", gazette.ErrStitchingFailure, key, err)
	}

	tail, ok := s.patterns.LastAnchor(previous)
	if !ok {
		metrics.ObserveStitch(OutcomeNoPrevAnchor)
		return s.unmerged(current, OutcomeNoPrevAnchor), nil
	}
	end := len(current)
	if next, ok := s.patterns.FirstAnchor(current); ok {
		end = next.StartOffset
	}
	merged := previous[tail.StartOffset:] + current[:end]
	score := s.patterns.Score(merged)

	switch {
	case score < s.cfg.MinScore:
		metrics.ObserveStitch(OutcomeLowQuality)
		s.logger.Debug("stitch rejected",
			zap.String("page", key.String()),
			zap.String("record_id", tail.RecordID),
			zap.Float64("score", score),
		)
		return s.unmerged(current, fmt.Sprintf(outcomeReasonTemplate, OutcomeLowQuality, score, len(merged))), nil
	case len(merged) < s.cfg.MinLength:
		metrics.ObserveStitch(OutcomeTooShort)
		return s.unmerged(current, fmt.Sprintf(outcomeReasonTemplate, OutcomeTooShort, score, len(merged))), nil
	}

	metrics.ObserveStitch(OutcomeMerged)
	s.logger.Debug("record stitched across pages",
		zap.String("page", key.String()),
		zap.String("record_id", tail.RecordID),
		zap.Float64("score", score),
	)
	return gazette.StitchResult{
		MergedContent: merged,
		QualityScore:  score,
		SpansPages:    true,
	}, nil
}

func (s *Stitcher) unmerged(current, reason string) gazette.StitchResult {
	return gazette.StitchResult{
		MergedContent: current,
		QualityScore:  s.patterns.Score(current),
		SpansPages:    false,
		Reason:        reason,
	}
}
