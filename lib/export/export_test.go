package export

import (
	"testing"
	"time"

	"datafetch-backend/lib/tabular"

	"github.com/stretchr/testify/require"
)

func TestWorkbook(t *testing.T) {
	result := &tabular.Table{
		Columns: []string{"date", "value"},
		Rows: []tabular.Row{
			{
				"date":  tabular.Time(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
				"value": tabular.Number(100.5),
			},
			{
				"date": tabular.Time(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)),
			},
		},
		Provenance: tabular.Provenance{
			Source:    "fred-gdp",
			FetchedAt: time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC),
			Checksum:  "abc123",
		},
	}

	book, err := Workbook("run-1", result)
	require.NoError(t, err)
	defer book.Close()

	{
		rows, err := book.GetRows("Data")
		require.NoError(t, err)
		require.Len(t, rows, 3)
		require.Equal(t, []string{"date", "value"}, rows[0])
		require.Equal(t, "2024-01-01T00:00:00Z", rows[1][0])
		require.Equal(t, "100.5", rows[1][1])
		// the second row's value is unset, the cell stays empty
		require.Equal(t, "2024-01-02T00:00:00Z", rows[2][0])
	}
	{
		rows, err := book.GetRows("Metadata")
		require.NoError(t, err)
		meta := map[string]string{}
		for _, row := range rows {
			require.Len(t, row, 2)
			meta[row[0]] = row[1]
		}
		require.Equal(t, "fred-gdp", meta["source"])
		require.Equal(t, "run-1", meta["run_id"])
		require.Equal(t, "abc123", meta["checksum"])
		require.Equal(t, "2", meta["rows"])
	}

	// the default sheet is gone
	require.ElementsMatch(t, []string{"Data", "Metadata"}, book.GetSheetList())
}
