package delivery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

func TestParseAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{in: "R$ 1.234,56", want: 123456, ok: true},
		{in: "1,234.56", want: 123456, ok: true},
		{in: "1.234", want: 123400, ok: true},
		{in: "1,234", want: 123400, ok: true},
		{in: "12,5", want: 1250, ok: true},
		{in: "12.50", want: 1250, ok: true},
		{in: "1.234.567", want: 123456700, ok: true},
		{in: "1.234.567,89", want: 123456789, ok: true},
		{in: "R$ 350", want: 35000, ok: true},
		{in: "-10,00", want: -1000, ok: true},
		{in: "abc", want: 0, ok: false},
		{in: "1,2,3.4.5", want: 0, ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseAmount(tt.in)
		require.Equal(t, tt.ok, ok, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}

func TestNormalizeDate(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"2024-03-15":           "2024-03-15T00:00:00Z",
		"2024-03-15 10:20:30":  "2024-03-15T10:20:30Z",
		"2024-03-15T10:20:30":  "2024-03-15T10:20:30Z",
		"2024-03-15T10:20:30Z": "2024-03-15T10:20:30Z",
		"15/03/2024":           "2024-03-15T00:00:00Z",
		"05/03/2024":           "2024-03-05T00:00:00Z",
		"03/15/2024":           "2024-03-15T00:00:00Z",
		"15/03/2024 08:00:00":  "2024-03-15T08:00:00Z",
		"03/15/2024T08:00":     "2024-03-15T08:00:00Z",
	}
	for in, want := range tests {
		got, err := NormalizeDate(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := NormalizeDate("March 15")
	require.Error(t, err)
}

func TestSanitizeText(t *testing.T) {
	t.Parallel()

	got := SanitizeText(` Robert'); DROP TABLE records;-- /* x */ "q" \ `)
	require.Equal(t, "Robert) DROP TABLE records  x  q", got)
}

func TestNormalizeRequiresFields(t *testing.T) {
	t.Parallel()

	mutate := []func(*gazette.Record){
		func(r *gazette.Record) { r.RecordID = " " },
		func(r *gazette.Record) { r.Date = "" },
		func(r *gazette.Record) { r.Narrative = "" },
		func(r *gazette.Record) { r.Parties = []string{" "} },
		func(r *gazette.Record) { r.Date = "not a date" },
	}
	for _, m := range mutate {
		rec := validRecord()
		m(&rec)
		_, err := Normalize(rec, nil)
		require.ErrorIs(t, err, gazette.ErrValidation)
	}
}

func TestNormalizeUnparseableAmountDefaultsToZero(t *testing.T) {
	t.Parallel()

	rec := validRecord()
	rec.Amount = "a combinar"
	payload, err := Normalize(rec, nil)
	require.NoError(t, err)
	require.Zero(t, payload.AmountCents)
	require.Equal(t, []string{"Fazenda do Estado", "Maria Silva"}, payload.Parties)
}
