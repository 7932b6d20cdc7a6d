// Package catalog holds the canonical product record that every site
// scraper normalizes into, plus the credential contract scrapers use to
// obtain and refresh session cookies.
package catalog

import (
	"context"
	"fmt"
	"strings"
)

const (
	SiteAliExpress = "AliExpress"
	SiteIshtari    = "Ishtari"
	SiteHiCart     = "HiCart"
)

type Product struct {
	Name   string
	Url    string
	Price  string
	Source string
}

// Sentinel is the single placeholder record a scraper returns when a
// site query yields no usable products. Downstream row-writing always
// gets at least one record per site per keyword this way.
func Sentinel(site string) Product {
	return Product{
		Name:   fmt.Sprintf("No matched products from %s.com", site),
		Url:    fmt.Sprintf("https://www.%s.com/no-matched-products", strings.ToLower(site)),
		Price:  "US",
		Source: site,
	}
}

// CredentialSource hands a scraper the session cookie for its site.
// Cookie warms the credential lazily on first use; Refresh discards the
// stored value and harvests a new one, for use after an unauthorized
// response.
type CredentialSource interface {
	Cookie(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}
