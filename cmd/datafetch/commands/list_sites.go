package commands

import (
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listSitesCmd)
}

var listSitesCmd = &cobra.Command{
	Use:   "list-sites",
	Short: "Lists every configured site with its strategy and fallbacks.",
	Run: func(cmd *cobra.Command, args []string) {
		registry := loadRegistry()

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"id", "name", "strategy", "rate limit", "fallbacks"})

		for _, d := range registry.List() {
			t.AppendRow(table.Row{
				d.Id,
				d.Name,
				d.Strategy,
				d.RateInterval().String(),
				strings.Join(d.Fallbacks, ", "),
			})
		}
		t.Render()
	},
}
