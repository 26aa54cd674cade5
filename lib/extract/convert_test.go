package extract

import (
	"testing"
	"time"

	"datafetch-backend/lib/sites"
	"datafetch-backend/lib/tabular"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestParseNumber(t *testing.T) {
	testCases := []struct {
		in       string
		expected float64
		fails    bool
	}{
		{in: "42", expected: 42},
		{in: "-3.5", expected: -3.5},
		{in: "1,234,567.89", expected: 1234567.89},
		{in: "$19.99", expected: 19.99},
		{in: "4.2%", expected: 4.2},
		{in: " 7 ", expected: 7},
		{in: "n/a", fails: true},
		{in: "", fails: true},
	}
	for _, tc := range testCases {
		v, err := parseNumber(tc.in)
		if tc.fails {
			require.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.expected, v.Num, "input %q", tc.in)
	}
}

func TestParseTime(t *testing.T) {
	plain := sites.FieldMapping{Kind: sites.FieldTime}

	{
		// unix seconds
		v, err := parseTime(plain, "1704067200")
		require.NoError(t, err)
		require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), v.Time)
	}
	{
		// unix milliseconds
		v, err := parseTime(plain, "1704067200000")
		require.NoError(t, err)
		require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), v.Time)
	}
	{
		v, err := parseTime(plain, "2024-01-01")
		require.NoError(t, err)
		require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), v.Time)
	}
	{
		custom := sites.FieldMapping{Kind: sites.FieldTime, TimeFormat: "Jan 2, 2006"}
		v, err := parseTime(custom, "Mar 15, 2024")
		require.NoError(t, err)
		require.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), v.Time)
	}
	{
		// a declared layout disables the fallback layouts
		custom := sites.FieldMapping{Kind: sites.FieldTime, TimeFormat: "Jan 2, 2006"}
		_, err := parseTime(custom, "2024-01-01")
		require.Error(t, err)
	}
	{
		// a declared numeric layout wins over the unix heuristic
		compact := sites.FieldMapping{Kind: sites.FieldTime, TimeFormat: "20060102"}
		v, err := parseTime(compact, "20240101")
		require.NoError(t, err)
		require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), v.Time)
	}
	{
		_, err := parseTime(plain, "not a date")
		require.Error(t, err)
	}
}

func TestConvertJsonTime(t *testing.T) {
	{
		// bare numbers are unix timestamps
		v, err := convertJson(
			sites.FieldMapping{Kind: sites.FieldTime},
			gjson.Parse("1704067200"))
		require.NoError(t, err)
		require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), v.Time)
	}
	{
		// unless the field declares a layout for them
		v, err := convertJson(
			sites.FieldMapping{Kind: sites.FieldTime, TimeFormat: "20060102"},
			gjson.Parse("20240101"))
		require.NoError(t, err)
		require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), v.Time)
	}
}

func TestRowsFromGrid(t *testing.T) {
	d := &sites.Descriptor{
		Id: "grid-source",
		Fields: []sites.FieldMapping{
			{Remote: "Date", Canonical: "date", Kind: sites.FieldTime},
			{Remote: "Close", Canonical: "close", Kind: sites.FieldNumber},
		},
	}

	table, err := rowsFromGrid(d, [][]string{
		{"Date", "Close", "Volume"},
		{"2024-01-01", "101.5", "900"},
		{"2024-01-02", "", "800"},
	})
	require.NoError(t, err)

	require.Equal(t, []string{"date", "close"}, table.Columns)
	require.Len(t, table.Rows, 2)
	require.Equal(t, 101.5, table.Rows[0]["close"].Num)

	// unmapped and empty cells just stay unset
	_, present := table.Rows[0]["Volume"]
	require.False(t, present)
	_, present = table.Rows[1]["close"]
	require.False(t, present)
}

func TestResolveUrl(t *testing.T) {
	require.Equal(t,
		"https://example.com/api/data",
		resolveUrl("https://example.com", "/api/data"))
	require.Equal(t,
		"https://other.com/data",
		resolveUrl("https://example.com", "https://other.com/data"))
}

func TestUnixTimeCutoff(t *testing.T) {
	require.Equal(t, tabular.KindTime, unixTime(1704067200).Kind)
	require.Equal(t, unixTime(1704067200).Time, unixTime(1704067200000).Time)
}
