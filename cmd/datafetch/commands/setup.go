package commands

import (
	"fmt"
	"os"

	"datafetch-backend/lib/detect"
	"datafetch-backend/lib/serviceutil"
	"datafetch-backend/lib/sites"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	setupUrl    *string
	setupSample *string
	setupId     *string
)

func init() {
	setupUrl = setupCmd.Flags().String("url", "", "The source's page or endpoint url.")
	setupSample = setupCmd.Flags().String("sample", "",
		"Path to a captured sample payload from the source.")
	setupId = setupCmd.Flags().String("id", "new-source", "The id for the drafted site.")
	setupCmd.MarkFlagRequired("url")
	setupCmd.MarkFlagRequired("sample")
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup --url <url> --sample <payload file>",
	Short: "Drafts a site descriptor from a sample payload. Review before saving.",
	Run: func(cmd *cobra.Command, args []string) {
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			serviceutil.Fatal("setup needs a model",
				fmt.Errorf("OPENAI_API_KEY is not set"))
		}

		sample, err := os.ReadFile(*setupSample)
		if err != nil {
			serviceutil.Fatal("failed to read sample", err)
		}

		proposal, err := detect.New(apiKey).Propose(cmd.Context(), *setupUrl, string(sample))
		if err != nil {
			serviceutil.Fatal("failed to draft descriptor", err)
		}

		draft := sites.Descriptor{
			Id:       *setupId,
			Name:     *setupId,
			PageUrl:  *setupUrl,
			Strategy: proposal.Strategy,
			DataPath: proposal.DataPath,
			Fields:   proposal.Fields,
		}
		out, err := yaml.Marshal(map[string][]sites.Descriptor{"sites": {draft}})
		if err != nil {
			serviceutil.Fatal("failed to render descriptor", err)
		}
		fmt.Print(string(out))
	},
}
