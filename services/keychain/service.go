// Package keychain owns the per-site session credentials. Credentials
// are expensive to produce (a full headless-browser navigation), so
// they are cached in memory, persisted to sqlite across restarts, and
// refreshed behind a per-site lock so concurrent campaigns never
// trigger duplicate harvests.
package keychain

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Harvester produces a fresh session cookie string for a site by
// navigating it with a real browser. Implemented by lib/browser.
type Harvester interface {
	HarvestCookies(ctx context.Context, siteUrl string) (string, error)
}

type Service struct {
	db        *sql.DB
	harvester Harvester

	mu    sync.Mutex
	sites map[string]*siteEntry
}

type siteEntry struct {
	// held for the whole duration of a harvest. a waiter acquiring it
	// re-checks the stored cookie before harvesting again, so a burst
	// of 401s across campaigns costs one browser navigation, not one
	// per caller.
	mu     sync.Mutex
	cookie string
}

func NewService(database *sql.DB, harvester Harvester) *Service {
	return &Service{
		db:        database,
		harvester: harvester,
		sites:     map[string]*siteEntry{},
	}
}

func (s *Service) entry(site string) *siteEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sites[site]
	if !ok {
		e = &siteEntry{}
		s.sites[site] = e
	}
	return e
}

// Source returns the credential handle for one site, implementing the
// catalog.CredentialSource contract the scrapers consume.
func (s *Service) Source(site, siteUrl string) *SiteCredentials {
	return &SiteCredentials{svc: s, site: site, siteUrl: siteUrl}
}

// SiteCredentials hands out the cookie for a single site, warming it
// lazily on first use.
type SiteCredentials struct {
	svc     *Service
	site    string
	siteUrl string

	// the cookie value most recently handed to a caller, used to tell
	// a stale refresh request from a fresh one.
	lastMu     sync.Mutex
	lastIssued string
}

// Cookie returns the stored credential, harvesting one only if neither
// memory nor the database has it.
func (c *SiteCredentials) Cookie(ctx context.Context) (string, error) {
	e := c.svc.entry(c.site)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cookie != "" {
		slog.DebugContext(ctx, "credential already warm", "site", c.site)
		return c.issue(e.cookie), nil
	}

	cookie, err := c.svc.load(ctx, c.site)
	if err != nil {
		return "", err
	}
	if cookie != "" {
		slog.InfoContext(ctx, "loaded persisted credential", "site", c.site)
		e.cookie = cookie
		return c.issue(cookie), nil
	}

	cookie, err = c.harvest(ctx, e)
	if err != nil {
		return "", err
	}
	return c.issue(cookie), nil
}

// Refresh discards the stored credential and harvests a new one. When
// another caller already refreshed while this one was waiting on the
// site lock, the newer credential is returned without harvesting
// again.
func (c *SiteCredentials) Refresh(ctx context.Context) (string, error) {
	e := c.svc.entry(c.site)
	e.mu.Lock()
	defer e.mu.Unlock()

	c.lastMu.Lock()
	lastIssued := c.lastIssued
	c.lastMu.Unlock()

	if e.cookie != "" && e.cookie != lastIssued {
		slog.InfoContext(ctx, "credential already refreshed by another caller", "site", c.site)
		return c.issue(e.cookie), nil
	}

	cookie, err := c.harvest(ctx, e)
	if err != nil {
		return "", err
	}
	return c.issue(cookie), nil
}

func (c *SiteCredentials) harvest(ctx context.Context, e *siteEntry) (string, error) {
	cookie, err := c.svc.harvester.HarvestCookies(ctx, c.siteUrl)
	if err != nil {
		return "", fmt.Errorf("harvest credential for %s: %w", c.site, err)
	}
	if cookie == "" {
		return "", fmt.Errorf("harvest for %s returned an empty cookie set", c.site)
	}

	e.cookie = cookie
	err = c.svc.store(ctx, c.site, cookie)
	if err != nil {
		// the in-memory credential still works for this process
		slog.ErrorContext(ctx, "failed to persist credential", "site", c.site, "err", err)
	}
	return cookie, nil
}

func (c *SiteCredentials) issue(cookie string) string {
	c.lastMu.Lock()
	c.lastIssued = cookie
	c.lastMu.Unlock()
	return cookie
}

func (s *Service) load(ctx context.Context, site string) (string, error) {
	row := s.db.QueryRowContext(ctx, "SELECT cookie FROM credentials WHERE site = ?", site)
	var cookie string
	err := row.Scan(&cookie)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load credential for %s: %w", site, err)
	}
	return cookie, nil
}

func (s *Service) store(ctx context.Context, site, cookie string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO credentials (site, cookie, harvested_at) VALUES (?, ?, ?)
		 ON CONFLICT (site) DO UPDATE SET cookie = excluded.cookie, harvested_at = excluded.harvested_at`,
		site, cookie, time.Now().Unix(),
	)
	return err
}
