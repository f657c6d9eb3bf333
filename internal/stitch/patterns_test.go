package stitch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindAnchorBeforeRespectsWindow(t *testing.T) {
	t.Parallel()

	p := DefaultPatterns()
	content := "Processo " + splitRecordID + " " + strings.Repeat("x", 4000) + " precatório"
	pos := strings.Index(content, "precatório")

	_, ok := p.FindAnchorBefore(content, pos, 3000)
	require.False(t, ok, "anchor is beyond the scan window")

	anchor, ok := p.FindAnchorBefore(content, pos, 5000)
	require.True(t, ok)
	require.Equal(t, splitRecordID, anchor.RecordID)
	require.Zero(t, anchor.StartOffset)
}

func TestFindAnchorBeforeIgnoresWordCutAtWindowEdge(t *testing.T) {
	t.Parallel()

	p := DefaultPatterns()
	// The window opens on "processo", but in the page it is part of "xprocesso".
	glued := "xprocesso " + splitRecordID + " fim"
	_, ok := p.FindAnchorBefore(glued, len(glued), len(glued)-1)
	require.False(t, ok)

	spaced := "x processo " + splitRecordID + " fim"
	anchor, ok := p.FindAnchorBefore(spaced, len(spaced), len(spaced)-2)
	require.True(t, ok)
	require.Equal(t, splitRecordID, anchor.RecordID)
	require.Equal(t, 2, anchor.StartOffset)
}

func TestFindAnchorBeforePicksLastAnchor(t *testing.T) {
	t.Parallel()

	p := DefaultPatterns()
	pos := strings.Index(previousPage, "Maria")
	anchor, ok := p.FindAnchorBefore(previousPage, pos, DefaultMaxWindow)
	require.True(t, ok)
	require.Equal(t, splitRecordID, anchor.RecordID)
	require.Equal(t, strings.Index(previousPage, "Processo "+splitRecordID), anchor.StartOffset)

	_, ok = p.FindAnchorBefore(previousPage, 0, DefaultMaxWindow)
	require.False(t, ok, "an anchor starting at the position is not before it")

	_, ok = p.FindAnchorBefore(previousPage, -5, DefaultMaxWindow)
	require.False(t, ok)
}

func TestAnchorVariants(t *testing.T) {
	t.Parallel()

	p := DefaultPatterns()
	for _, text := range []string{
		"PROCESSO: " + splitRecordID,
		"Processo nº " + splitRecordID,
		"processo n. " + splitRecordID,
	} {
		anchor, ok := p.FirstAnchor(text)
		require.True(t, ok, text)
		require.Equal(t, splitRecordID, anchor.RecordID, text)
	}
	_, ok := p.FirstAnchor("Processo sem número")
	require.False(t, ok)
}

func TestScoreWeights(t *testing.T) {
	t.Parallel()

	p := DefaultPatterns()
	require.InDelta(t, 0.0, p.Score("nothing relevant"), 1e-9)
	require.InDelta(t, 0.3, p.Score(splitRecordID), 1e-9)
	require.InDelta(t, 0.6, p.Score(splitRecordID+" RPV"), 1e-9)
	require.InDelta(t, 0.8, p.Score(splitRecordID+" RPV Advogado"), 1e-9)
	require.InDelta(t, 1.0, p.Score(splitRecordID+" RPV Advogado R$ 10,00"), 1e-9)
	require.InDelta(t, 0.7, p.Score("RPV OAB R$ 1"), 1e-9)
}

func TestNewPatternsRequiresCaptureGroup(t *testing.T) {
	t.Parallel()

	_, err := NewPatterns(PatternConfig{AnchorPattern: `Processo \d+`})
	require.Error(t, err)
	_, err = NewPatterns(PatternConfig{AnchorPattern: `(`})
	require.Error(t, err)
}

func TestDomainHitsSorted(t *testing.T) {
	t.Parallel()

	p := DefaultPatterns()
	text := "RPV expedida; precatório pendente; nova RPV"
	hits := p.DomainHits(text)
	require.Equal(t, []int{0, strings.Index(text, "precatório"), strings.LastIndex(text, "RPV")}, hits)
}

func TestIdentifier(t *testing.T) {
	t.Parallel()

	p := DefaultPatterns()
	id, ok := p.Identifier("vistos. autos 0005555-12.2023.8.26.0053 conclusos")
	require.True(t, ok)
	require.Equal(t, "0005555-12.2023.8.26.0053", id)

	_, ok = p.Identifier("sem número")
	require.False(t, ok)
}
