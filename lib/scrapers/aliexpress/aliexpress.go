// Package aliexpress scrapes product search listings off the AliExpress
// storefront. Search pages render server-side, so a single GET with a
// warmed session cookie and browser-like headers returns the full
// product grid.
package aliexpress

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"prodrec-backend/lib/restyutil"
	"prodrec-backend/lib/scrapers/catalog"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/aliexpress")

const defaultBaseUrl = "https://www.aliexpress.com"

// structural markers of the search results grid. the trailing hash in
// the live class names changes per frontend build, so matching goes by
// the stable prefix.
const (
	titleMarker = `div[class*="multi--title--"]`
	cardMarker  = `a[class*="search-card-item"]`
	priceMarker = `div[class*="multi--price-sale--"]`
)

type Client struct {
	http    *resty.Client
	creds   catalog.CredentialSource
	baseUrl string
}

type ClientOptions struct {
	// defaults to the live site, tests point it at a local server
	BaseUrl     string
	Credentials catalog.CredentialSource
	// defaults to 3 minutes, the site is slow behind its bot gate
	Timeout time.Duration
}

func NewClient(opts ClientOptions) *Client {
	if opts.BaseUrl == "" {
		opts.BaseUrl = defaultBaseUrl
	}
	if opts.Timeout == 0 {
		opts.Timeout = 3 * time.Minute
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	restyutil.InstrumentClient(client, tracer, instrumentOutput)

	return &Client{
		http:    client,
		creds:   opts.Credentials,
		baseUrl: strings.TrimSuffix(opts.BaseUrl, "/"),
	}
}

// Fetch returns the products matching the keyword. It never fails:
// any error degrades to the single sentinel record so aggregation
// always has a row to show for this site.
func (c *Client) Fetch(ctx context.Context, keyword string) []catalog.Product {
	products, err := c.fetch(ctx, keyword)
	if err != nil {
		slog.ErrorContext(ctx, "returning no products from aliexpress", "keyword", keyword, "err", err)
		return []catalog.Product{catalog.Sentinel(catalog.SiteAliExpress)}
	}
	if len(products) == 0 {
		slog.InfoContext(ctx, "aliexpress search matched nothing", "keyword", keyword)
		return []catalog.Product{catalog.Sentinel(catalog.SiteAliExpress)}
	}
	return products
}

func (c *Client) fetch(ctx context.Context, keyword string) ([]catalog.Product, error) {
	ctx, span := tracer.Start(ctx, "client:Fetch")
	defer span.End()

	cookie, err := c.creds.Cookie(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "failed to warm credential")
		return nil, fmt.Errorf("warm credential: %w", err)
	}

	searchUrl := fmt.Sprintf("%s/w/wholesale-%s.html", c.baseUrl, strings.ReplaceAll(keyword, " ", "-"))

	res, err := c.search(ctx, searchUrl, cookie)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch search page")
		return nil, err
	}

	if res.StatusCode() == http.StatusUnauthorized {
		slog.InfoContext(ctx, "aliexpress cookie expired, fetching a new one")
		cookie, err = c.creds.Refresh(ctx)
		if err != nil {
			span.SetStatus(codes.Error, "failed to refresh credential")
			return nil, fmt.Errorf("refresh credential: %w", err)
		}
		res, err = c.search(ctx, searchUrl, cookie)
		if err != nil {
			span.SetStatus(codes.Error, "failed to retry search page")
			return nil, err
		}
	}

	if res.IsError() {
		span.SetStatus(codes.Error, "search page returned error status")
		return nil, fmt.Errorf("search page returned status %d", res.StatusCode())
	}

	return parseSearchPage(ctx, res.Body())
}

func (c *Client) search(ctx context.Context, searchUrl, cookie string) (*resty.Response, error) {
	return c.http.R().
		SetContext(ctx).
		SetHeaders(browserHeaders(c.baseUrl, searchUrl)).
		SetHeader("Cookie", cookie).
		Get(searchUrl)
}

func parseSearchPage(ctx context.Context, body []byte) ([]catalog.Product, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var titles []string
	doc.Find(titleMarker).Each(func(_ int, s *goquery.Selection) {
		titles = append(titles, strings.TrimSpace(s.Text()))
	})

	var links []string
	doc.Find(cardMarker).Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if strings.HasPrefix(href, "//") {
			href = "https:" + href
		}
		links = append(links, href)
	})

	var prices []string
	doc.Find(priceMarker).Each(func(_ int, s *goquery.Selection) {
		prices = append(prices, strings.TrimSpace(s.Text()))
	})

	// the three element lists are queried independently and zipped by
	// position. when the site returns mismatched counts, truncate to
	// the shortest list rather than misalign records.
	n := min(len(titles), len(links), len(prices))
	if n != len(titles) || n != len(links) || n != len(prices) {
		slog.WarnContext(
			ctx, "aliexpress element lists are misaligned, truncating",
			"titles", len(titles),
			"links", len(links),
			"prices", len(prices),
		)
	}

	products := make([]catalog.Product, 0, n)
	for i := 0; i < n; i++ {
		products = append(products, catalog.Product{
			Name:   titles[i],
			Url:    links[i],
			Price:  prices[i],
			Source: catalog.SiteAliExpress,
		})
	}
	return products, nil
}

func browserHeaders(origin, referer string) map[string]string {
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
		"Accept-Language":           "en-US,en;q=0.9",
		"Cache-Control":             "max-age=0",
		"Origin":                    origin,
		"Referer":                   referer,
		"Sec-Ch-Ua":                 `"Chromium";v="130", "Google Chrome";v="130", "Not?A_Brand";v="99"`,
		"Sec-Ch-Ua-Mobile":          "?0",
		"Sec-Ch-Ua-Platform":        `"Linux"`,
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-User":            "?1",
		"Sec-Fetch-Site":            "same-origin",
		"Upgrade-Insecure-Requests": "1",
		"User-Agent":                "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	}
}
