package commands

import (
	"fmt"

	"datafetch-backend/lib/serviceutil"

	"github.com/spf13/cobra"
)

var (
	checkRobotsSite *string
	checkRobotsUrl  *string
)

func init() {
	checkRobotsSite = checkRobotsCmd.Flags().String("site", "",
		"Check a configured site's page url instead of a raw url.")
	checkRobotsUrl = checkRobotsCmd.Flags().String("url", "", "The url to check.")
	checkRobotsCmd.MarkFlagsOneRequired("site", "url")
	checkRobotsCmd.MarkFlagsMutuallyExclusive("site", "url")
	rootCmd.AddCommand(checkRobotsCmd)
}

var checkRobotsCmd = &cobra.Command{
	Use:   "check-robots --url <url> | --site <id>",
	Short: "Reports the robots.txt decision for a url or configured site.",
	Run: func(cmd *cobra.Command, args []string) {
		pageUrl := *checkRobotsUrl

		if *checkRobotsSite != "" {
			registry := loadRegistry()
			d, err := registry.Get(*checkRobotsSite)
			if err != nil {
				serviceutil.Fatal("unknown site", err)
			}
			pageUrl = d.PageUrl
			if pageUrl == "" {
				pageUrl = d.BaseUrl
			}
		}
		if pageUrl == "" {
			serviceutil.Fatal("nothing to check",
				fmt.Errorf("provide a url argument or --site"))
		}

		decision := newGate().Check(cmd.Context(), pageUrl)
		fmt.Printf("url:      %s\n", pageUrl)
		fmt.Printf("status:   %s\n", decision.Status)
		fmt.Printf("reason:   %s\n", decision.Reason)
		if decision.RobotsUrl != "" {
			fmt.Printf("robots:   %s\n", decision.RobotsUrl)
		}
	},
}
