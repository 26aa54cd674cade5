// Package export writes extraction results to spreadsheet workbooks for
// hand-off to analysts.
package export

import (
	"fmt"

	"datafetch-backend/lib/tabular"

	"github.com/xuri/excelize/v2"
)

const (
	dataSheet     = "Data"
	metadataSheet = "Metadata"
)

// Workbook renders a table into a two-sheet workbook: the data itself plus
// a provenance sheet recording where and when it came from.
func Workbook(runId string, table *tabular.Table) (*excelize.File, error) {
	book := excelize.NewFile()

	index, err := book.NewSheet(dataSheet)
	if err != nil {
		return nil, err
	}
	book.SetActiveSheet(index)

	err = writeData(book, table)
	if err != nil {
		return nil, err
	}
	err = writeMetadata(book, runId, table)
	if err != nil {
		return nil, err
	}

	// excelize's default sheet is not one of ours
	err = book.DeleteSheet("Sheet1")
	if err != nil {
		return nil, err
	}
	return book, nil
}

// Write renders and saves a workbook to path.
func Write(path, runId string, table *tabular.Table) error {
	book, err := Workbook(runId, table)
	if err != nil {
		return fmt.Errorf("building workbook: %w", err)
	}
	defer book.Close()

	err = book.SaveAs(path)
	if err != nil {
		return fmt.Errorf("writing workbook %s: %w", path, err)
	}
	return nil
}

func writeData(book *excelize.File, table *tabular.Table) error {
	header := make([]any, len(table.Columns))
	for i, col := range table.Columns {
		header[i] = col
	}
	err := book.SetSheetRow(dataSheet, "A1", &header)
	if err != nil {
		return err
	}

	for i, row := range table.Rows {
		cells := make([]any, len(table.Columns))
		for j, col := range table.Columns {
			v, present := row[col]
			if !present {
				continue
			}
			switch v.Kind {
			case tabular.KindNumber:
				cells[j] = v.Num
			default:
				cells[j] = v.Format()
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		err = book.SetSheetRow(dataSheet, cell, &cells)
		if err != nil {
			return err
		}
	}
	return nil
}

func writeMetadata(book *excelize.File, runId string, table *tabular.Table) error {
	_, err := book.NewSheet(metadataSheet)
	if err != nil {
		return err
	}

	rows := [][]any{
		{"source", table.Provenance.Source},
		{"run_id", runId},
		{"fetched_at", table.Provenance.FetchedAt.UTC().Format("2006-01-02 15:04:05")},
		{"checksum", table.Provenance.Checksum},
		{"rows", len(table.Rows)},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		err = book.SetSheetRow(metadataSheet, cell, &row)
		if err != nil {
			return err
		}
	}
	return nil
}
