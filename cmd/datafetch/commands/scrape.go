package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"datafetch-backend/lib/export"
	"datafetch-backend/lib/pipeline"
	"datafetch-backend/lib/serviceutil"
	"datafetch-backend/lib/tabular"
	"datafetch-backend/lib/warehouse"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	scrapeSite         *string
	scrapeUrl          *string
	scrapeOverride     *bool
	scrapeNoFallbacks  *bool
	scrapeNoExport     *bool
	scrapeOutput       *string
	scrapePreviewLimit *int
)

func init() {
	scrapeSite = scrapeCmd.Flags().String("site", "", "The site id to extract from.")
	scrapeUrl = scrapeCmd.Flags().String("url", "",
		"Resolve the site by url instead of id.")
	scrapeOverride = scrapeCmd.Flags().Bool("override-robots", false,
		"Proceed when the robots policy cannot be determined. Explicit disallows are still honored.")
	scrapeNoFallbacks = scrapeCmd.Flags().Bool("no-fallbacks", false,
		"Only try the requested site, never its fallbacks.")
	scrapeNoExport = scrapeCmd.Flags().Bool("no-export", false, "Skip writing the workbook.")
	scrapeOutput = scrapeCmd.Flags().String("output", "",
		"Workbook output path, defaults to <site>-<run>.xlsx.")
	scrapePreviewLimit = scrapeCmd.Flags().Int("preview", 10, "Rows to print after extraction.")
	scrapeCmd.MarkFlagsOneRequired("site", "url")
	scrapeCmd.MarkFlagsMutuallyExclusive("site", "url")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape --site <id> | --url <url> [--override-robots] [--no-fallbacks]",
	Short: "Runs the extraction pipeline for one site and exports the result.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		registry := loadRegistry()
		orchestrator := pipeline.New(registry, newGate(), newDeps())

		siteId := *scrapeSite
		if *scrapeUrl != "" {
			d, err := registry.FindByUrl(*scrapeUrl)
			if err != nil {
				serviceutil.Fatal("could not resolve site from url", err)
			}
			siteId = d.Id
		}

		t1 := time.Now()
		outcome, err := orchestrator.Fetch(ctx, siteId, pipeline.Options{
			OverrideUnknownRobots: *scrapeOverride,
			NoFallbacks:           *scrapeNoFallbacks,
		})
		if err != nil {
			serviceutil.Fatal("extraction aborted", err)
		}

		if outcome.Kind != pipeline.Success {
			slog.Error("extraction did not produce data",
				"site", siteId, "outcome", string(outcome.Kind))
			for _, reason := range outcome.Reasons {
				slog.Error("reason", "detail", reason)
			}
			os.Exit(1)
		}

		slog.Info("extraction finished",
			"site", outcome.Source,
			"run", outcome.RunId,
			"rows", len(outcome.Result.Rows),
			"seconds", time.Since(t1).Seconds())

		printPreview(outcome.Result, *scrapePreviewLimit)

		if config.Warehouse != "" {
			store, err := warehouse.Open(config.Warehouse)
			if err != nil {
				serviceutil.Fatal("failed to open warehouse", err)
			}
			defer store.Close()

			err = store.Record(ctx, outcome.RunId, outcome.Result)
			if err != nil {
				serviceutil.Fatal("failed to record results", err)
			}
		}

		if !*scrapeNoExport {
			path := *scrapeOutput
			if path == "" {
				path = fmt.Sprintf("%s-%s.xlsx", outcome.Source, outcome.RunId)
			}
			err := export.Write(path, outcome.RunId, outcome.Result)
			if err != nil {
				serviceutil.Fatal("failed to write workbook", err)
			}
			slog.Info("workbook written", "path", path)
		}
	},
}

func printPreview(result *tabular.Table, limit int) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)

	header := table.Row{}
	for _, col := range result.Columns {
		header = append(header, col)
	}
	t.AppendHeader(header)

	for i, row := range result.Rows {
		if i >= limit {
			break
		}
		cells := table.Row{}
		for _, col := range result.Columns {
			cells = append(cells, row[col].Format())
		}
		t.AppendRow(cells)
	}
	t.Render()

	if len(result.Rows) > limit {
		fmt.Printf("... and %d more rows\n", len(result.Rows)-limit)
	}
}
