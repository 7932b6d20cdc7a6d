// Package browser harvests session cookies by driving a real headless
// Chrome through the target site's landing page. Plain HTTP clients do
// not survive the sites' bot checks long enough to be issued a session,
// a full browser navigation does.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"prodrec-backend/lib/cookieutil"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/browser")

// fixed US vantage point. sites localize aggressively off the
// browser's locale and position; harvesting anywhere else yields
// cookies that pin the session to a regional storefront.
const (
	spoofLocale    = "en-US"
	spoofTimezone  = "America/Los_Angeles"
	spoofLatitude  = 37.7749
	spoofLongitude = -122.4194
)

type Config struct {
	// ProxyUrl routes Chrome's traffic through a rotating-IP proxy
	// when set. Empty connects directly.
	ProxyUrl string

	// NavigationTimeout bounds the landing-page navigation. Harvests
	// routinely take tens of seconds behind bot checks. Default: 2m.
	NavigationTimeout time.Duration
}

type Harvester struct {
	cfg Config
}

func NewHarvester(cfg Config) *Harvester {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 2 * time.Minute
	}
	return &Harvester{cfg: cfg}
}

// HarvestCookies launches a stealth headless Chrome spoofed to a US
// locale, navigates to siteUrl, and returns the captured session
// cookies as a single header string, locale-normalized for downstream
// requests.
func (h *Harvester) HarvestCookies(ctx context.Context, siteUrl string) (string, error) {
	ctx, span := tracer.Start(ctx, "harvester:HarvestCookies")
	defer span.End()

	start := time.Now()
	slog.InfoContext(ctx, "harvesting session cookies", "url", siteUrl)

	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("lang", spoofLocale)
	if h.cfg.ProxyUrl != "" {
		l = l.Proxy(h.cfg.ProxyUrl)
	}

	wsUrl, err := l.Launch()
	if err != nil {
		span.SetStatus(codes.Error, "failed to launch chrome")
		return "", fmt.Errorf("launch chrome: %w", err)
	}
	defer l.Cleanup()

	b := rod.New().ControlURL(wsUrl).Context(ctx)
	if err := b.Connect(); err != nil {
		span.SetStatus(codes.Error, "failed to connect to chrome")
		return "", fmt.Errorf("connect to chrome: %w", err)
	}
	defer b.Close()

	page, err := stealth.Page(b)
	if err != nil {
		span.SetStatus(codes.Error, "failed to open stealth page")
		return "", fmt.Errorf("open stealth page: %w", err)
	}

	err = h.spoofVantagePoint(page)
	if err != nil {
		span.SetStatus(codes.Error, "failed to spoof vantage point")
		return "", err
	}

	navCtx, cancel := context.WithTimeout(ctx, h.cfg.NavigationTimeout)
	defer cancel()

	err = page.Context(navCtx).Navigate(siteUrl)
	if err != nil {
		span.SetStatus(codes.Error, "failed to navigate")
		return "", fmt.Errorf("navigate %s: %w", siteUrl, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		slog.WarnContext(ctx, "landing page load timed out, using cookies captured so far", "url", siteUrl, "err", err)
	}

	cookies, err := page.Cookies([]string{siteUrl})
	if err != nil {
		span.SetStatus(codes.Error, "failed to read cookies")
		return "", fmt.Errorf("read cookies: %w", err)
	}

	var sb strings.Builder
	for i, c := range cookies {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(c.Name)
		sb.WriteString("=")
		sb.WriteString(c.Value)
	}

	slog.InfoContext(
		ctx, "harvested session cookies",
		"url", siteUrl,
		"cookies", len(cookies),
		"took", time.Since(start),
	)
	return cookieutil.NormalizeLocale(sb.String()), nil
}

func (h *Harvester) spoofVantagePoint(page *rod.Page) error {
	err := proto.EmulationSetLocaleOverride{Locale: spoofLocale}.Call(page)
	if err != nil {
		return fmt.Errorf("override locale: %w", err)
	}
	err = proto.EmulationSetTimezoneOverride{TimezoneID: spoofTimezone}.Call(page)
	if err != nil {
		return fmt.Errorf("override timezone: %w", err)
	}
	lat, lon, acc := spoofLatitude, spoofLongitude, 1.0
	err = proto.EmulationSetGeolocationOverride{
		Latitude:  &lat,
		Longitude: &lon,
		Accuracy:  &acc,
	}.Call(page)
	if err != nil {
		return fmt.Errorf("override geolocation: %w", err)
	}
	return nil
}
