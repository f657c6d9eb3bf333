package stitch

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

// Default pattern set for Brazilian electronic court gazettes.
const (
	DefaultAnchorPattern     = `(?i)\bprocesso(?:\s+n[º°o]?\.?)?\s*:?\s*(\d{7}-\d{2}\.\d{4}\.\d\.\d{2}\.\d{4})`
	DefaultIdentifierPattern = `\d{7}-\d{2}\.\d{4}\.\d\.\d{2}\.\d{4}`
)

// Quality weights; they sum to 1.0.
const (
	WeightIdentifier = 0.3
	WeightDomain     = 0.3
	WeightCounsel    = 0.2
	WeightMoney      = 0.2
)

// DefaultDomainKeywords are the terms that make a record relevant.
var DefaultDomainKeywords = []string{
	"precatório",
	"requisição de pequeno valor",
	"rpv",
	"cumprimento de sentença",
	"expedição de ofício requisitório",
}

// DefaultCounselMarkers identify the counsel section of a record.
var DefaultCounselMarkers = []string{"advogado", "advogada", "adv.", "oab"}

// DefaultMoneyMarkers identify monetary amounts.
var DefaultMoneyMarkers = []string{"r$"}

// PatternConfig holds the raw, uncompiled pattern settings.
type PatternConfig struct {
	AnchorPattern     string   `mapstructure:"anchor_pattern"`
	IdentifierPattern string   `mapstructure:"identifier_pattern"`
	DomainKeywords    []string `mapstructure:"domain_keywords"`
	CounselMarkers    []string `mapstructure:"counsel_markers"`
	MoneyMarkers      []string `mapstructure:"money_markers"`
}

// Patterns is the compiled form of PatternConfig.
type Patterns struct {
	anchor         *regexp.Regexp
	identifier     *regexp.Regexp
	domainKeywords []string
	counselMarkers []string
	moneyMarkers   []string
}

// DefaultPatterns returns the compiled default pattern set.
func DefaultPatterns() Patterns {
	p, err := NewPatterns(PatternConfig{})
	if err != nil {
		panic(fmt.Sprintf("default stitch patterns: %v", err))
	}
	return p
}

// NewPatterns compiles cfg, filling unset fields with defaults. The anchor
// pattern must contain a capture group for the record identifier.
func NewPatterns(cfg PatternConfig) (Patterns, error) {
	anchorSrc := cfg.AnchorPattern
	if strings.TrimSpace(anchorSrc) == "" {
		anchorSrc = DefaultAnchorPattern
	}
	anchor, err := regexp.Compile(anchorSrc)
	if err != nil {
		return Patterns{}, fmt.Errorf("compile anchor pattern: %w", err)
	}
	if anchor.NumSubexp() < 1 {
		return Patterns{}, errors.New("anchor pattern must capture the record identifier")
	}
	identSrc := cfg.IdentifierPattern
	if strings.TrimSpace(identSrc) == "" {
		identSrc = DefaultIdentifierPattern
	}
	identifier, err := regexp.Compile(identSrc)
	if err != nil {
		return Patterns{}, fmt.Errorf("compile identifier pattern: %w", err)
	}
	return Patterns{
		anchor:         anchor,
		identifier:     identifier,
		domainKeywords: lowerAll(orDefault(cfg.DomainKeywords, DefaultDomainKeywords)),
		counselMarkers: lowerAll(orDefault(cfg.CounselMarkers, DefaultCounselMarkers)),
		moneyMarkers:   lowerAll(orDefault(cfg.MoneyMarkers, DefaultMoneyMarkers)),
	}, nil
}

// Anchors returns every record anchor in content in offset order.
func (p Patterns) Anchors(content string) []gazette.RecordAnchor {
	matches := p.anchor.FindAllStringSubmatchIndex(content, -1)
	out := make([]gazette.RecordAnchor, 0, len(matches))
	for _, m := range matches {
		out = append(out, gazette.RecordAnchor{RecordID: content[m[2]:m[3]], StartOffset: m[0]})
	}
	return out
}

// FirstAnchor returns the earliest anchor in content.
func (p Patterns) FirstAnchor(content string) (gazette.RecordAnchor, bool) {
	m := p.anchor.FindStringSubmatchIndex(content)
	if m == nil {
		return gazette.RecordAnchor{}, false
	}
	return gazette.RecordAnchor{RecordID: content[m[2]:m[3]], StartOffset: m[0]}, true
}

// LastAnchor returns the final anchor in content.
func (p Patterns) LastAnchor(content string) (gazette.RecordAnchor, bool) {
	anchors := p.Anchors(content)
	if len(anchors) == 0 {
		return gazette.RecordAnchor{}, false
	}
	return anchors[len(anchors)-1], true
}

// FindAnchorBefore returns the last anchor that starts in the maxWindow bytes
// before position. Matching runs over the whole content so word boundaries
// at the window edge see the real preceding text.
func (p Patterns) FindAnchorBefore(content string, position, maxWindow int) (gazette.RecordAnchor, bool) {
	position = clamp(position, 0, len(content))
	start := 0
	if maxWindow > 0 {
		start = max(0, position-maxWindow)
	}
	var (
		found gazette.RecordAnchor
		ok    bool
	)
	for _, m := range p.anchor.FindAllStringSubmatchIndex(content, -1) {
		if m[0] >= position {
			break
		}
		if m[0] < start {
			continue
		}
		found = gazette.RecordAnchor{RecordID: content[m[2]:m[3]], StartOffset: m[0]}
		ok = true
	}
	return found, ok
}

// DomainHits returns the byte offsets of every domain keyword occurrence in
// content, in ascending order.
func (p Patterns) DomainHits(content string) []int {
	lower := strings.ToLower(content)
	var hits []int
	for _, kw := range p.domainKeywords {
		for from := 0; ; {
			idx := strings.Index(lower[from:], kw)
			if idx < 0 {
				break
			}
			hits = append(hits, from+idx)
			from += idx + len(kw)
		}
	}
	slices.Sort(hits)
	return hits
}

// Identifier returns the first record identifier in content.
func (p Patterns) Identifier(content string) (string, bool) {
	id := p.identifier.FindString(content)
	return id, id != ""
}

// Score rates how complete a record looks.
func (p Patterns) Score(content string) float64 {
	lower := strings.ToLower(content)
	score := 0.0
	if p.identifier.MatchString(content) {
		score += WeightIdentifier
	}
	if containsAny(lower, p.domainKeywords) {
		score += WeightDomain
	}
	if containsAny(lower, p.counselMarkers) {
		score += WeightCounsel
	}
	if containsAny(lower, p.moneyMarkers) {
		score += WeightMoney
	}
	return math.Round(score*100) / 100
}

func containsAny(lower string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

func orDefault(in, def []string) []string {
	if len(in) == 0 {
		return def
	}
	return in
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
