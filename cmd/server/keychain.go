package main

import (
	"prodrec-backend/lib/browser"
	"prodrec-backend/lib/sqliteutil"
	"prodrec-backend/services/keychain"
	"prodrec-backend/services/keychain/db"
)

type KeychainConfig struct {
	Database string `json:"database"`
	// optional rotating-IP proxy for the harvest browser
	ProxyUrl string `json:"proxy_url"`
}

func InitKeychain(cfg KeychainConfig) (*keychain.Service, error) {
	if cfg.Database == "" {
		cfg.Database = "keychain.db"
	}
	database, err := sqliteutil.OpenDB(db.Schema, cfg.Database)
	if err != nil {
		return nil, err
	}
	harvester := browser.NewHarvester(browser.Config{
		ProxyUrl: cfg.ProxyUrl,
	})
	return keychain.NewService(database, harvester), nil
}
