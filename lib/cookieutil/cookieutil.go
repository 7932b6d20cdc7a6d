// Package cookieutil manipulates raw "name=value; name=value" cookie
// strings captured from a browser session. Harvested cookies carry
// locale, region and currency markers from wherever the harvesting
// browser happens to run, and upstream sites localize their responses
// based on them, so the markers get rewritten to the US/international
// storefront before the cookie is ever sent.
package cookieutil

import (
	"fmt"
	"strings"
)

// Pair is a single cookie, order-preserving.
type Pair struct {
	Name  string
	Value string
}

// Parse splits a raw cookie header string into ordered pairs. Malformed
// fragments without an "=" are dropped.
func Parse(raw string) []Pair {
	var pairs []Pair
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found || name == "" {
			continue
		}
		pairs = append(pairs, Pair{Name: name, Value: value})
	}
	return pairs
}

// Serialize joins pairs back into a cookie header string.
func Serialize(pairs []Pair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.Name+"="+p.Value)
	}
	return strings.Join(parts, "; ")
}

// Value returns the value of the named cookie.
func Value(pairs []Pair, name string) (string, bool) {
	for _, p := range pairs {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// cookies whose value is itself an "&"-joined parameter set carrying
// locale state (e.g. aep_usuc_f=site=glo&province=&city=&c_tp=USD).
var localeParamCookies = map[string]bool{
	"aep_usuc_f": true,
	"xman_us_f":  true,
}

// cookies whose whole value is a locale identifier.
var localeValueCookies = map[string]bool{
	"intl_locale": true,
}

// NormalizeLocale rewrites locale, region and currency markers in a
// harvested cookie set so requests present as the en_US international
// storefront regardless of the network vantage point the browser
// harvested them from.
func NormalizeLocale(raw string) string {
	pairs := Parse(raw)
	for i, p := range pairs {
		switch {
		case localeValueCookies[p.Name]:
			pairs[i].Value = "en_US"
		case localeParamCookies[p.Name]:
			pairs[i].Value = normalizeLocaleParams(p.Value)
		}
	}
	return Serialize(pairs)
}

func normalizeLocaleParams(value string) string {
	params := strings.Split(value, "&")
	out := make([]string, 0, len(params))
	sawSite := false
	for _, param := range params {
		name, val, found := strings.Cut(param, "=")
		if !found {
			out = append(out, param)
			continue
		}
		switch name {
		case "site":
			sawSite = true
			if val != "glo" {
				val = "glo"
			}
		case "region":
			// region pins the storefront to the harvest country, drop it
			continue
		case "b_locale", "x_locale", "intl_locale":
			val = "en_US"
		case "c_tp":
			if val != "USD" && val != "SGD" {
				val = "USD"
			}
		}
		out = append(out, name+"="+val)
	}
	if sawSite && !strings.Contains(value, "province=") {
		out = append(out, "province=", "city=")
	}
	return strings.Join(out, "&")
}

// DeriveAPIToken extracts the bearer token embedded in a harvested
// cookie set under the api-token cookie. The redirect-catalog site
// authenticates its JSON API with this value rather than the session
// cookie itself.
func DeriveAPIToken(raw string) (string, error) {
	token, ok := Value(Parse(raw), "api-token")
	if !ok || token == "" {
		return "", fmt.Errorf("cookie set has no api-token parameter")
	}
	return token, nil
}
