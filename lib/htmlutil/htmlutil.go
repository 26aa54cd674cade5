package htmlutil

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

func CleanCell(s string) string {
	var out strings.Builder
	for _, c := range s {
		if unicode.IsPrint(c) {
			out.WriteRune(c)
		}
	}
	return strings.Join(strings.Fields(out.String()), " ")
}

// ExtractTables pulls every <table> out of a document as a grid of cleaned
// cell strings. The first row of each grid is the header row when the table
// declares one (<th> cells or a <thead>), otherwise just the first data row.
func ExtractTables(doc *goquery.Document) [][][]string {
	var tables [][][]string

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		var grid [][]string

		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var row []string
			tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				row = append(row, CleanCell(cell.Text()))
			})
			if len(row) > 0 {
				grid = append(grid, row)
			}
		})

		if len(grid) > 0 {
			tables = append(tables, grid)
		}
	})

	return tables
}

// BiggestTable returns the table grid with the most data cells, or nil when
// the document has no tables. Pages usually carry navigation tables too, the
// data table is almost always the largest.
func BiggestTable(doc *goquery.Document) [][]string {
	var best [][]string
	bestCells := 0

	for _, grid := range ExtractTables(doc) {
		cells := 0
		for _, row := range grid {
			cells += len(row)
		}
		if cells > bestCells {
			best = grid
			bestCells = cells
		}
	}

	return best
}
