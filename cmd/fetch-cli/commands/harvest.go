package commands

import (
	"fmt"

	"prodrec-backend/lib/browser"
	"prodrec-backend/lib/serviceutil"

	"github.com/spf13/cobra"
)

var harvestProxy *string

func init() {
	harvestProxy = harvestCmd.Flags().String("proxy", "", "Optional proxy url to route the browser through.")
	rootCmd.AddCommand(harvestCmd)
}

var harvestCmd = &cobra.Command{
	Use:   "harvest <site url> [--proxy <url>]",
	Short: "Harvests session cookies from a site with a headless browser and prints them.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		harvester := browser.NewHarvester(browser.Config{
			ProxyUrl: *harvestProxy,
		})
		cookie, err := harvester.HarvestCookies(cmd.Context(), args[0])
		if err != nil {
			serviceutil.Fatal("failed to harvest cookies", err)
		}
		fmt.Println(cookie)
	},
}
