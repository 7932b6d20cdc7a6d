package commands

import (
	"fmt"
	"os"
	"strings"

	"prodrec-backend/lib/browser"
	"prodrec-backend/lib/scrapers/aliexpress"
	"prodrec-backend/lib/scrapers/catalog"
	"prodrec-backend/lib/scrapers/hicart"
	"prodrec-backend/lib/scrapers/ishtari"
	"prodrec-backend/lib/serviceutil"
	"prodrec-backend/lib/sqliteutil"
	"prodrec-backend/services/keychain"
	"prodrec-backend/services/keychain/db"
	"prodrec-backend/services/recommend"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	fetchSite *string
	fetchDb   *string
)

func init() {
	fetchSite = fetchCmd.Flags().String("site", "all", "One of: all, aliexpress, ishtari, hicart.")
	fetchDb = fetchCmd.Flags().String("db", "keychain.db", "The credential database to use.")
	rootCmd.AddCommand(fetchCmd)
}

func buildExtractors(site string) []recommend.Extractor {
	database, err := sqliteutil.OpenDB(db.Schema, *fetchDb)
	if err != nil {
		serviceutil.Fatal("failed to open credential db", err)
	}
	keys := keychain.NewService(database, browser.NewHarvester(browser.Config{}))

	var extractors []recommend.Extractor
	if site == "all" || site == catalog.SiteAliExpress {
		extractors = append(extractors, aliexpress.NewClient(aliexpress.ClientOptions{
			Credentials: keys.Source(catalog.SiteAliExpress, "https://www.aliexpress.com"),
		}))
	}
	if site == "all" || site == catalog.SiteIshtari {
		extractors = append(extractors, ishtari.NewClient(ishtari.ClientOptions{
			Credentials: keys.Source(catalog.SiteIshtari, "https://www.ishtari.com"),
		}))
	}
	if site == "all" || site == catalog.SiteHiCart {
		extractors = append(extractors, hicart.NewClient(hicart.ClientOptions{}))
	}
	return extractors
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <keyword> [--site <site>] [--db <path/to/keychain.db>]",
	Short: "Fetches product recommendations for a keyword and prints them as a table.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		keyword := strings.Join(args, " ")
		extractors := buildExtractors(*fetchSite)
		if len(extractors) == 0 {
			serviceutil.Fatal("unknown site", fmt.Errorf("no extractor for site %q", *fetchSite))
		}

		results := make([][]catalog.Product, len(extractors))
		for i, ex := range extractors {
			results[i] = ex.Fetch(cmd.Context(), keyword)
		}
		batch := recommend.Aggregate(keyword, results...)

		best := batch.BestMatch()

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"", "Name", "Price", "Score", "Source", "Url"})
		for i, r := range batch.Records {
			marker := ""
			if i == best {
				marker = "*"
			}
			t.AppendRow(table.Row{marker, r.Name, r.Price, recommend.Percent(batch.Scores[i]), r.Source, r.Url})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		if best >= 0 {
			fmt.Printf("best match: %s (%s)\n", batch.Records[best].Name, recommend.Percent(batch.Scores[best]))
		}
	},
}
