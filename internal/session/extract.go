package session

import (
	"regexp"
	"strings"
)

// Extraction only lifts the fields the scoring markers recognize; the
// downstream service does full parsing.
var (
	partyPattern = regexp.MustCompile(
		`(?i)(?:requerente|requerid[oa]|autora?|réu|ré|reclamante|reclamad[oa]|exequente|executad[oa]|` +
			`credora?|devedora?|impetrante|impetrad[oa])s?\s*:\s*([^\n;]+?)\s*(?:\s-\s|;|\n|$)`)
	counselPattern = regexp.MustCompile(`(?i)\badv(?:ogad[oa]s?)?\.?\s*:\s*([^\n;]+?)\s*(?:\s-\s|;|\n|$)`)
	amountPattern  = regexp.MustCompile(`R\$\s*-?\s*\d[\d.,]*`)
	spacePattern   = regexp.MustCompile(`[ \t\r\f\v]+`)
)

// extracted holds the fields lifted from a record segment.
type extracted struct {
	parties []string
	counsel []string
	amount  string
}

func extractFields(segment string) extracted {
	return extracted{
		parties: captures(partyPattern, segment),
		counsel: captures(counselPattern, segment),
		amount:  strings.TrimRight(amountPattern.FindString(segment), ".,"),
	}
}

func captures(re *regexp.Regexp, s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		v := strings.TrimRight(strings.TrimSpace(m[1]), ".,")
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// cleanNarrative collapses runs of horizontal whitespace and blank lines.
func cleanNarrative(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spacePattern.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
