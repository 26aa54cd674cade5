package extract

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"datafetch-backend/lib/sites"
	"datafetch-backend/lib/tabular"

	"github.com/tidwall/gjson"
)

// unix timestamps past this magnitude are treated as milliseconds
const unixMillisCutoff = 1e12

var fallbackTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// convertJson turns one JSON field into a typed cell per its mapping.
func convertJson(field sites.FieldMapping, v gjson.Result) (tabular.Value, error) {
	switch field.Kind {
	case sites.FieldNumber:
		if v.Type == gjson.String {
			return parseNumber(v.Str)
		}
		return tabular.Number(v.Float()), nil
	case sites.FieldTime:
		if v.Type == gjson.Number && field.TimeFormat == "" {
			return unixTime(v.Float()), nil
		}
		return parseTime(field, v.String())
	}
	return tabular.String(v.String()), nil
}

// convertCell turns one textual cell (csv, spreadsheet, html) into a typed
// cell per its mapping.
func convertCell(field sites.FieldMapping, cell string) (tabular.Value, error) {
	cell = strings.TrimSpace(cell)
	switch field.Kind {
	case sites.FieldNumber:
		return parseNumber(cell)
	case sites.FieldTime:
		return parseTime(field, cell)
	}
	return tabular.String(cell), nil
}

func parseNumber(s string) (tabular.Value, error) {
	// strip the separators financial sources are fond of
	cleaned := strings.NewReplacer(",", "", "$", "", "%", "").Replace(strings.TrimSpace(s))
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return tabular.Value{}, fmt.Errorf("cannot parse %q as a number", s)
	}
	return tabular.Number(n), nil
}

func parseTime(field sites.FieldMapping, s string) (tabular.Value, error) {
	s = strings.TrimSpace(s)

	// a declared layout is authoritative, compact numeric dates like
	// 20060102 would otherwise be read as unix seconds
	if field.TimeFormat != "" {
		t, err := time.Parse(field.TimeFormat, s)
		if err != nil {
			return tabular.Value{}, fmt.Errorf(
				"cannot parse %q with layout %q", s, field.TimeFormat)
		}
		return tabular.Time(t.UTC()), nil
	}

	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return unixTime(n), nil
	}

	for _, layout := range fallbackTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return tabular.Time(t.UTC()), nil
		}
	}
	return tabular.Value{}, fmt.Errorf("cannot parse %q as a timestamp", s)
}

func unixTime(n float64) tabular.Value {
	if n >= unixMillisCutoff {
		return tabular.Time(time.UnixMilli(int64(n)).UTC())
	}
	return tabular.Time(time.Unix(int64(n), 0).UTC())
}

// rowsFromJson maps an array of JSON objects through the descriptor's
// field mappings. Unmapped remote fields are dropped, absent optional
// fields stay unset.
func rowsFromJson(d *sites.Descriptor, data gjson.Result) (*tabular.Table, error) {
	table := &tabular.Table{}
	for _, field := range d.Fields {
		table.AddColumn(field.Canonical)
	}

	var convErr error
	data.ForEach(func(_, item gjson.Result) bool {
		row := tabular.Row{}
		for _, field := range d.Fields {
			v := item.Get(field.Remote)
			if !v.Exists() || v.Type == gjson.Null {
				continue
			}
			cell, err := convertJson(field, v)
			if err != nil {
				convErr = fmt.Errorf("field %q: %w", field.Canonical, err)
				return false
			}
			row[field.Canonical] = cell
		}
		table.Rows = append(table.Rows, row)
		return true
	})
	if convErr != nil {
		return nil, convErr
	}
	return table, nil
}

// rowsFromGrid maps a header-plus-rows text grid through the descriptor's
// field mappings. Header cells are matched to remote names case
// insensitively.
func rowsFromGrid(d *sites.Descriptor, grid [][]string) (*tabular.Table, error) {
	if len(grid) == 0 {
		return &tabular.Table{}, nil
	}

	colFor := map[int]sites.FieldMapping{}
	for i, header := range grid[0] {
		for _, field := range d.Fields {
			if strings.EqualFold(strings.TrimSpace(header), field.Remote) {
				colFor[i] = field
				break
			}
		}
	}

	table := &tabular.Table{}
	for _, field := range d.Fields {
		for _, mapped := range colFor {
			if mapped.Canonical == field.Canonical {
				table.AddColumn(field.Canonical)
				break
			}
		}
	}

	for rowIdx, cells := range grid[1:] {
		row := tabular.Row{}
		for i, cell := range cells {
			field, mapped := colFor[i]
			if !mapped || strings.TrimSpace(cell) == "" {
				continue
			}
			v, err := convertCell(field, cell)
			if err != nil {
				return nil, fmt.Errorf("row %d, field %q: %w", rowIdx+1, field.Canonical, err)
			}
			row[field.Canonical] = v
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}
