package hicart

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"prodrec-backend/lib/scrapers/catalog"

	"github.com/stretchr/testify/require"
)

const searchPage = `<html><body>
<h2 class="product-name"><a href="https://www.hicart.com/p/1">Black Leather Shoes</a></h2>
<h2 class="product-name"><a href="https://www.hicart.com/p/2">White Canvas Shoes</a></h2>
<h2 class="product-name"><a href="https://www.hicart.com/p/3">Budget Sandals</a></h2>
<div class="price-box">
  <span class="regular-price"><span class="price">$40.00</span></span>
  <p class="special-price"><span class="price">$29.99</span></p>
</div>
<div class="price-box">
  <span class="regular-price"><span class="price">$15.50</span></span>
</div>
<div class="price-box-min"><p class="minimal-price">$5.00</p></div>
</body></html>`

func TestFetchParsesBothPriceLayouts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "black shoes", r.URL.Query().Get("q"))
		w.Write([]byte(searchPage))
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{BaseUrl: srv.URL})
	products := client.Fetch(context.Background(), "black shoes")

	require.Equal(t, []catalog.Product{
		{
			Name:   "Black Leather Shoes",
			Url:    "https://www.hicart.com/p/1",
			Price:  "US $29.99",
			Source: catalog.SiteHiCart,
		},
		{
			Name:   "White Canvas Shoes",
			Url:    "https://www.hicart.com/p/2",
			Price:  "US $15.50",
			Source: catalog.SiteHiCart,
		},
		{
			Name:   "Budget Sandals",
			Url:    "https://www.hicart.com/p/3",
			Price:  "US $5.00",
			Source: catalog.SiteHiCart,
		},
	}, products)
}

func TestFetchCapsProducts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 15; i++ {
			fmt.Fprintf(w, `<h2 class="product-name"><a href="/p/%d">Shoe %d</a></h2>`, i, i)
			fmt.Fprintf(w, `<div class="price-box-min"><p class="minimal-price">$%d.00</p></div>`, i)
		}
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{BaseUrl: srv.URL})
	products := client.Fetch(context.Background(), "shoes")
	require.Len(t, products, 10)
}

func TestFetchFailureModesReturnSentinel(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
		"no products":  func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html><body>empty</body></html>")) },
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			client := NewClient(ClientOptions{BaseUrl: srv.URL})
			products := client.Fetch(context.Background(), "shoes")
			require.Equal(t, []catalog.Product{catalog.Sentinel(catalog.SiteHiCart)}, products)
		})
	}
}

func TestFetchThroughFetchProxy(t *testing.T) {
	var proxied bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/proxy" {
			proxied = true
			require.Equal(t, "secret", r.URL.Query().Get("api_key"))
			require.Contains(t, r.URL.Query().Get("url"), "/catalogsearch/result/")
			w.Write([]byte(searchPage))
			return
		}
		t.Errorf("request bypassed the fetch proxy: %s", r.URL.Path)
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{
		BaseUrl:       srv.URL,
		FetchProxyUrl: srv.URL + "/proxy",
		FetchProxyKey: "secret",
	})
	products := client.Fetch(context.Background(), "black shoes")
	require.Len(t, products, 3)
	require.True(t, proxied)
}
