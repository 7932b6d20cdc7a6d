// Package hicart scrapes the HiCart storefront. The site sits behind
// Cloudflare bot protection rather than a session cookie, so no
// credential is needed; the transport carries the challenge-solving
// round tripper instead.
package hicart

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"prodrec-backend/lib/restyutil"
	"prodrec-backend/lib/scrapers/catalog"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/hicart")

const (
	defaultBaseUrl = "https://www.hicart.com"
	maxProducts    = 10
)

type Client struct {
	http     *resty.Client
	baseUrl  string
	fetchVia string
	proxyKey string
}

type ClientOptions struct {
	// defaults to the live site, tests point it at a local server
	BaseUrl string
	// FetchProxyUrl optionally routes every GET through a rotating-IP
	// fetch proxy that takes the target url and an api key as query
	// parameters. Empty disables the proxy.
	FetchProxyUrl string
	FetchProxyKey string
	// defaults to 3 minutes
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
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	restyutil.InstrumentClient(client, tracer, instrumentOutput)

	return &Client{
		http:     client,
		baseUrl:  strings.TrimSuffix(opts.BaseUrl, "/"),
		fetchVia: opts.FetchProxyUrl,
		proxyKey: opts.FetchProxyKey,
	}
}

// Fetch returns up to 10 products matching the keyword, preferring
// discounted listings. It never fails: any error degrades to the
// single sentinel record.
func (c *Client) Fetch(ctx context.Context, keyword string) []catalog.Product {
	products, err := c.fetch(ctx, keyword)
	if err != nil {
		slog.ErrorContext(ctx, "returning no products from hicart", "keyword", keyword, "err", err)
		return []catalog.Product{catalog.Sentinel(catalog.SiteHiCart)}
	}
	if len(products) == 0 {
		slog.InfoContext(ctx, "hicart search matched nothing", "keyword", keyword)
		return []catalog.Product{catalog.Sentinel(catalog.SiteHiCart)}
	}
	return products
}

func (c *Client) fetch(ctx context.Context, keyword string) ([]catalog.Product, error) {
	ctx, span := tracer.Start(ctx, "client:Fetch")
	defer span.End()

	searchUrl := fmt.Sprintf(
		"%s/catalogsearch/result/?q=%s",
		c.baseUrl, url.QueryEscape(strings.TrimSpace(keyword)),
	)

	req := c.http.R().SetContext(ctx)
	target := searchUrl
	if c.fetchVia != "" {
		target = c.fetchVia
		req.SetQueryParams(map[string]string{
			"api_key": c.proxyKey,
			"url":     searchUrl,
		})
	}

	res, err := req.Get(target)
	if err != nil {
		span.SetStatus(codes.Error, "search request failed")
		return nil, err
	}
	if res.IsError() {
		span.SetStatus(codes.Error, "search page returned error status")
		return nil, fmt.Errorf("search page returned status %d", res.StatusCode())
	}

	return parseSearchPage(res.Body())
}

func parseSearchPage(body []byte) ([]catalog.Product, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	type listing struct {
		name string
		href string
	}
	var listings []listing
	doc.Find("h2.product-name").Each(func(_ int, s *goquery.Selection) {
		anchor := s.Find("a").First()
		listings = append(listings, listing{
			name: strings.TrimSpace(anchor.Text()),
			href: strings.TrimSpace(anchor.AttrOr("href", "")),
		})
	})

	// a product block renders its price in one of two layouts:
	// price-box (discounted, or regular with a special offer slot) and
	// price-box-min (plain minimal price). prefer the discounted value
	// when a block carries both a special and a regular price.
	var discounted []string
	doc.Find("div.price-box").Each(func(_ int, s *goquery.Selection) {
		special := s.Find("p.special-price span.price").First()
		if special.Length() > 0 {
			discounted = append(discounted, "US "+strings.TrimSpace(special.Text()))
			return
		}
		regular := s.Find("span.regular-price span.price").First()
		discounted = append(discounted, "US "+strings.TrimSpace(regular.Text()))
	})

	var plain []string
	doc.Find("div.price-box-min").Each(func(_ int, s *goquery.Selection) {
		plain = append(plain, "US "+strings.TrimSpace(s.Find("p.minimal-price").First().Text()))
	})

	// discounted listings lead, then the rest
	prices := append(discounted, plain...)

	n := min(len(listings), len(prices), maxProducts)
	products := make([]catalog.Product, 0, n)
	for i := 0; i < n; i++ {
		products = append(products, catalog.Product{
			Name:   listings[i].name,
			Url:    listings[i].href,
			Price:  prices[i],
			Source: catalog.SiteHiCart,
		})
	}
	return products, nil
}
