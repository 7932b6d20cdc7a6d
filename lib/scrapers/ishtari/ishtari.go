// Package ishtari scrapes the Ishtari catalog through its JSON search
// API. The API authenticates with a bearer token that is not issued
// separately: it lives inside the harvested session cookie as the
// api-token parameter.
//
// The search endpoint does not always answer with products. For cached
// categories it answers with a redirect marker carrying a type_id, and
// the actual product data has to be fetched from the category endpoint
// parameterized by that id.
package ishtari

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"prodrec-backend/lib/cookieutil"
	"prodrec-backend/lib/restyutil"
	"prodrec-backend/lib/scrapers/catalog"
	"prodrec-backend/lib/textutil"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/ishtari")

const (
	defaultBaseUrl = "https://www.ishtari.com"
	maxProducts    = 10
)

type Client struct {
	http          *resty.Client
	creds         catalog.CredentialSource
	baseUrl       string
	redirectDelay time.Duration
}

type ClientOptions struct {
	// defaults to the live site, tests point it at a local server
	BaseUrl     string
	Credentials catalog.CredentialSource
	// pause before following a cached-category redirect, to stay under
	// the site's rate limit. defaults to 2 seconds.
	RedirectDelay time.Duration
	// defaults to 3 minutes
	Timeout time.Duration
}

func NewClient(opts ClientOptions) *Client {
	if opts.BaseUrl == "" {
		opts.BaseUrl = defaultBaseUrl
	}
	if opts.RedirectDelay == 0 {
		opts.RedirectDelay = 2 * time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 3 * time.Minute
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	restyutil.InstrumentClient(client, tracer, instrumentOutput)

	return &Client{
		http:          client,
		creds:         opts.Credentials,
		baseUrl:       strings.TrimSuffix(opts.BaseUrl, "/"),
		redirectDelay: opts.RedirectDelay,
	}
}

type apiResponse struct {
	Success bool    `json:"success"`
	Data    apiData `json:"data"`
}

type apiData struct {
	Redirect string       `json:"redirect"`
	TypeId   string       `json:"type_id"`
	Products []apiProduct `json:"products"`
}

type apiProduct struct {
	ProductId string `json:"product_id"`
	Name      string `json:"name"`
	FullName  string `json:"full_name"`
	Special   string `json:"special"`
}

// Fetch returns up to 10 products matching the keyword. It never
// fails: any error degrades to the single sentinel record.
func (c *Client) Fetch(ctx context.Context, keyword string) []catalog.Product {
	products, err := c.fetch(ctx, keyword)
	if err != nil {
		slog.ErrorContext(ctx, "returning no products from ishtari", "keyword", keyword, "err", err)
		return []catalog.Product{catalog.Sentinel(catalog.SiteIshtari)}
	}
	if len(products) == 0 {
		slog.InfoContext(ctx, "ishtari search matched nothing", "keyword", keyword)
		return []catalog.Product{catalog.Sentinel(catalog.SiteIshtari)}
	}
	return products
}

func (c *Client) fetch(ctx context.Context, keyword string) ([]catalog.Product, error) {
	ctx, span := tracer.Start(ctx, "client:Fetch")
	defer span.End()

	cookie, token, err := c.credential(ctx, false)
	if err != nil {
		span.SetStatus(codes.Error, "failed to warm credential")
		return nil, err
	}

	initialUrl := fmt.Sprintf(
		"%s/motor/v2/index.php?route=catalog/search&key=%s&limit=%d&page=0",
		c.baseUrl, strings.ReplaceAll(keyword, " ", "%20"), maxProducts,
	)

	res, err := c.get(ctx, initialUrl, keyword, cookie, token, false)
	if err != nil {
		span.SetStatus(codes.Error, "initial search request failed")
		return nil, err
	}

	if res.StatusCode() == http.StatusUnauthorized {
		slog.InfoContext(ctx, "ishtari token expired, fetching a new one")
		cookie, token, err = c.credential(ctx, true)
		if err != nil {
			span.SetStatus(codes.Error, "failed to refresh credential")
			return nil, err
		}
		res, err = c.get(ctx, initialUrl, keyword, cookie, token, false)
		if err != nil {
			span.SetStatus(codes.Error, "retried search request failed")
			return nil, err
		}
	}

	data, err := decode(res)
	if err != nil {
		span.SetStatus(codes.Error, "initial response is not usable")
		return nil, err
	}

	// a cached category answers with a redirect marker instead of
	// products. follow it against the category endpoint, paced to
	// avoid rate limiting.
	if data.Data.Redirect == "1" {
		slog.InfoContext(ctx, "ishtari answered with a cached redirect", "type_id", data.Data.TypeId)

		select {
		case <-time.After(c.redirectDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		categoryUrl := fmt.Sprintf(
			"%s/motor/v2/index.php?route=catalog/category&path=%s&source_id=1&limit=%d",
			c.baseUrl, data.Data.TypeId, maxProducts,
		)
		res, err = c.get(ctx, categoryUrl, keyword, cookie, token, true)
		if err != nil {
			span.SetStatus(codes.Error, "category request failed")
			return nil, err
		}
		data, err = decode(res)
		if err != nil {
			span.SetStatus(codes.Error, "category response is not usable")
			return nil, err
		}
	}

	return c.transform(data.Data.Products), nil
}

func (c *Client) credential(ctx context.Context, refresh bool) (cookie, token string, err error) {
	if refresh {
		cookie, err = c.creds.Refresh(ctx)
	} else {
		cookie, err = c.creds.Cookie(ctx)
	}
	if err != nil {
		return "", "", fmt.Errorf("obtain credential: %w", err)
	}
	token, err = cookieutil.DeriveAPIToken(cookie)
	if err != nil {
		return "", "", fmt.Errorf("derive api token: %w", err)
	}
	return cookie, token, nil
}

func (c *Client) get(ctx context.Context, link, keyword, cookie, token string, bustCache bool) (*resty.Response, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeaders(map[string]string{
			"Accept":          "application/json, text/plain, */*",
			"Accept-Language": "en-US,en;q=0.9",
			"Authorization":   "Bearer " + token,
			"Cache-Control":   "no-cache",
			"Pragma":          "no-cache",
			"Cookie":          cookie,
			"Referer":         fmt.Sprintf("%s/search?keyword=%s", c.baseUrl, keyword),
			"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		})
	if bustCache {
		req.SetHeaders(map[string]string{
			"Cache-Control": "no-cache, no-store, must-revalidate",
			"Expires":       "0",
		})
	}
	return req.Get(link)
}

func decode(res *resty.Response) (apiResponse, error) {
	if res.IsError() {
		return apiResponse{}, fmt.Errorf("request returned status %d", res.StatusCode())
	}
	var data apiResponse
	err := json.Unmarshal(res.Body(), &data)
	if err != nil {
		return apiResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if !data.Success {
		return apiResponse{}, fmt.Errorf("request was not successful: %s", res.String())
	}
	return data, nil
}

func (c *Client) transform(products []apiProduct) []catalog.Product {
	if len(products) > maxProducts {
		products = products[:maxProducts]
	}
	out := make([]catalog.Product, 0, len(products))
	for _, p := range products {
		out = append(out, catalog.Product{
			Name:   p.FullName,
			Url:    buildProductUrl(c.baseUrl, p.Name, p.ProductId),
			Price:  "US " + p.Special,
			Source: catalog.SiteIshtari,
		})
	}
	return out
}

// buildProductUrl constructs the product display link, since the API
// does not reliably include one. The display name drops its trailing
// two characters (the API pads names with decoration there), collapses
// whitespace, and joins with hyphens; the product id rides along as a
// /p= suffix.
func buildProductUrl(baseUrl, name, productId string) string {
	if len(name) >= 2 {
		name = name[:len(name)-2]
	}
	slug := strings.ReplaceAll(textutil.CollapseWhitespace(name), " ", "-")
	return fmt.Sprintf("%s/%s/p=%s", baseUrl, slug, productId)
}
