package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestCleanCell(t *testing.T) {
	require.Equal(t, "GDP 100.5", CleanCell("  GDP \n\t 100.5  "))
	require.Equal(t, "plain", CleanCell("plain"))
	require.Equal(t, "", CleanCell("\n\t "))
}

func TestBiggestTable(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<html><body>
		<table><tr><td>nav</td><td>links</td></tr></table>
		<table>
			<thead><tr><th>Date</th><th>Value</th></tr></thead>
			<tbody>
				<tr><td>2024-01-01</td><td>100</td></tr>
				<tr><td>2024-01-02</td><td>110</td></tr>
			</tbody>
		</table>
		</body></html>
	`))
	require.NoError(t, err)

	grid := BiggestTable(doc)
	require.Equal(t, [][]string{
		{"Date", "Value"},
		{"2024-01-01", "100"},
		{"2024-01-02", "110"},
	}, grid)
}

func TestBiggestTableNoTables(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body><p>hi</p></body></html>"))
	require.NoError(t, err)
	require.Nil(t, BiggestTable(doc))
}
