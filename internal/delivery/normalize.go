package delivery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

// CanonicalTimeLayout is the timestamp form sent downstream.
const CanonicalTimeLayout = time.RFC3339

// Payload is the normalized body POSTed to the endpoint.
type Payload struct {
	RecordID     string               `json:"record_id"`
	Date         string               `json:"date"`
	Narrative    string               `json:"narrative"`
	Parties      []string             `json:"parties"`
	Counsel      []string             `json:"counsel,omitempty"`
	AmountCents  int64                `json:"amount_cents"`
	Source       gazette.RecordSource `json:"source"`
	Stitched     bool                 `json:"stitched"`
	QualityScore float64              `json:"quality_score"`
	ContentHash  string               `json:"content_hash,omitempty"`
	ExtractedAt  string               `json:"extracted_at"`
}

var sqlMetaReplacer = strings.NewReplacer(
	"--", "",
	"/*", "",
	"*/", "",
	"'", "",
	`"`, "",
	";", "",
	`\`, "",
)

// dateLayouts is tried in order; day-first wins for ambiguous slash dates.
var dateLayouts = buildDateLayouts()

func buildDateLayouts() []string {
	layouts := []string{time.RFC3339Nano, time.RFC3339}
	for _, day := range []string{"2006-01-02", "02/01/2006", "01/02/2006"} {
		for _, sep := range []string{"T", " "} {
			layouts = append(layouts, day+sep+"15:04:05", day+sep+"15:04")
		}
		layouts = append(layouts, day)
	}
	return layouts
}

// Normalize validates rec and converts it into the downstream payload.
// Validation failures wrap gazette.ErrValidation.
func Normalize(rec gazette.Record, logger *zap.Logger) (Payload, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case strings.TrimSpace(rec.RecordID) == "":
		return Payload{}, fmt.Errorf("%w: record_id is required", gazette.ErrValidation)
	case strings.TrimSpace(rec.Date) == "":
		return Payload{}, fmt.Errorf("%w: date is required", gazette.ErrValidation)
	case strings.TrimSpace(rec.Narrative) == "":
		return Payload{}, fmt.Errorf("%w: narrative is required", gazette.ErrValidation)
	case len(nonEmpty(rec.Parties)) == 0:
		return Payload{}, fmt.Errorf("%w: parties are required", gazette.ErrValidation)
	}

	date, err := NormalizeDate(rec.Date)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %w", gazette.ErrValidation, err)
	}

	var cents int64
	if strings.TrimSpace(rec.Amount) != "" {
		var ok bool
		cents, ok = ParseAmount(rec.Amount)
		if !ok {
			logger.Warn("unparseable amount, defaulting to zero",
				zap.String("record_id", rec.RecordID),
				zap.String("amount", rec.Amount),
			)
		}
	}

	extracted := ""
	if !rec.ExtractedAt.IsZero() {
		extracted = rec.ExtractedAt.UTC().Format(CanonicalTimeLayout)
	}

	return Payload{
		RecordID:     strings.TrimSpace(rec.RecordID),
		Date:         date,
		Narrative:    SanitizeText(rec.Narrative),
		Parties:      nonEmpty(rec.Parties),
		Counsel:      nonEmpty(rec.Counsel),
		AmountCents:  cents,
		Source:       rec.Source,
		Stitched:     rec.Stitched,
		QualityScore: rec.QualityScore,
		ContentHash:  rec.ContentHash,
		ExtractedAt:  extracted,
	}, nil
}

// SanitizeText strips SQL metacharacters and surrounding whitespace.
func SanitizeText(s string) string {
	return strings.TrimSpace(sqlMetaReplacer.Replace(s))
}

// NormalizeDate parses s using the accepted input formats and renders it in
// CanonicalTimeLayout, in UTC.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(CanonicalTimeLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", s)
}

// ParseAmount converts a locale-formatted money string into minor units.
// When both ',' and '.' appear the rightmost one is the decimal separator.
// A lone separator followed by one or two digits is decimal; otherwise it
// groups thousands. ok is false when the value cannot be parsed.
func ParseAmount(s string) (cents int64, ok bool) {
	var b strings.Builder
	negative := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			negative = true
		}
	}
	clean := b.String()
	if clean == "" {
		return 0, false
	}

	intPart, fracPart, ok := splitAmount(clean)
	if !ok {
		return 0, false
	}
	if intPart == "" {
		intPart = "0"
	}
	units, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, false
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}
	frac, err := strconv.ParseInt(fracPart[:2], 10, 64)
	if err != nil {
		return 0, false
	}
	cents = units*100 + frac
	if negative {
		cents = -cents
	}
	return cents, true
}

func splitAmount(s string) (intPart, fracPart string, ok bool) {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	var decimal int
	switch {
	case lastComma >= 0 && lastDot >= 0:
		decimal = max(lastComma, lastDot)
		if strings.Count(s, string(s[decimal])) > 1 {
			return "", "", false
		}
	case lastComma >= 0 || lastDot >= 0:
		sep := max(lastComma, lastDot)
		tail := len(s) - sep - 1
		if strings.Count(s, string(s[sep])) == 1 && tail >= 1 && tail <= 2 {
			decimal = sep
		} else {
			decimal = -1
		}
	default:
		decimal = -1
	}

	if decimal < 0 {
		return stripSeparators(s), "", true
	}
	fracPart = s[decimal+1:]
	if fracPart == "" || strings.ContainsAny(fracPart, ",.") {
		return "", "", false
	}
	return stripSeparators(s[:decimal]), fracPart, true
}

func stripSeparators(s string) string {
	return strings.NewReplacer(",", "", ".", "").Replace(s)
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
