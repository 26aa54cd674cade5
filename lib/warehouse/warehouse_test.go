package warehouse

import (
	"context"
	"testing"
	"time"

	"datafetch-backend/lib/tabular"
	"datafetch-backend/lib/testutil"

	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func seriesTable() *tabular.Table {
	return &tabular.Table{
		Columns: []string{"date", "gdp", "note"},
		Rows: []tabular.Row{
			{"date": tabular.Time(day(1)), "gdp": tabular.Number(100), "note": tabular.String("x")},
			{"date": tabular.Time(day(2)), "gdp": tabular.Number(110)},
		},
		Provenance: tabular.Provenance{
			Source:    "fred-gdp",
			FetchedAt: day(3),
			Checksum:  "abc123",
		},
	}
}

func TestRecordAndQuery(t *testing.T) {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "lib/warehouse",
	})
	defer cleanup()

	store, err := OpenDB(setup.DB)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	err = store.Record(ctx, "run-1", seriesTable())
	require.NoError(t, err)

	points, err := store.Query(ctx, "fred-gdp", day(1), day(31))
	require.NoError(t, err)

	// string columns are not series, only the numeric one lands
	require.Len(t, points, 2)
	require.Equal(t, "gdp", points[0].Metric)
	require.Equal(t, 100.0, points[0].Value)
	require.Equal(t, day(1), points[0].Ts)
	require.Equal(t, "run-1", points[0].RunId)
	require.Equal(t, 110.0, points[1].Value)
}

func TestRecordIsIdempotent(t *testing.T) {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "lib/warehouse",
	})
	defer cleanup()

	store, err := OpenDB(setup.DB)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	require.NoError(t, store.Record(ctx, "run-1", seriesTable()))
	require.NoError(t, store.Record(ctx, "run-2", seriesTable()))

	points, err := store.Query(ctx, "fred-gdp", day(1), day(31))
	require.NoError(t, err)
	require.Len(t, points, 2)
	// the rerun owns the points now
	require.Equal(t, "run-2", points[0].RunId)
}

func TestQueryBounds(t *testing.T) {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "lib/warehouse",
	})
	defer cleanup()

	store, err := OpenDB(setup.DB)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	require.NoError(t, store.Record(ctx, "run-1", seriesTable()))

	points, err := store.Query(ctx, "fred-gdp", day(2), day(31))
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, day(2), points[0].Ts)

	points, err = store.Query(ctx, "other-source", day(1), day(31))
	require.NoError(t, err)
	require.Empty(t, points)
}
