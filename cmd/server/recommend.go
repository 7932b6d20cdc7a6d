package main

import (
	"context"
	"time"

	"prodrec-backend/lib/scrapers/aliexpress"
	"prodrec-backend/lib/scrapers/catalog"
	"prodrec-backend/lib/scrapers/hicart"
	"prodrec-backend/lib/scrapers/ishtari"
	"prodrec-backend/services/keychain"
	"prodrec-backend/services/recommend"
	"prodrec-backend/services/sheets"
)

type FetchConfig struct {
	// pause between consecutive keywords, in seconds
	KeywordDelaySeconds int `json:"keyword_delay_seconds"`
	// optional overrides for the live sites, used in development
	AliexpressUrl string `json:"aliexpress_url"`
	IshtariUrl    string `json:"ishtari_url"`
	HicartUrl     string `json:"hicart_url"`
	// optional rotating-IP fetch proxy for the protected storefront
	FetchProxyUrl string `json:"fetch_proxy_url"`
	FetchProxyKey string `json:"fetch_proxy_key"`
}

type SheetsConfig struct {
	CredentialsFile string `json:"credentials_file"`
	SpreadsheetId   string `json:"spreadsheet_id"`
	InputSheet      string `json:"input_sheet"`
	ResultSheet     string `json:"result_sheet"`
}

func siteUrl(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

func InitRecommend(
	ctx context.Context,
	cfg FetchConfig,
	sheetsCfg SheetsConfig,
	keychainService *keychain.Service,
) (*recommend.Service, error) {
	aliexpressUrl := siteUrl(cfg.AliexpressUrl, "https://www.aliexpress.com")
	ishtariUrl := siteUrl(cfg.IshtariUrl, "https://www.ishtari.com")

	extractors := []recommend.Extractor{
		aliexpress.NewClient(aliexpress.ClientOptions{
			BaseUrl:     aliexpressUrl,
			Credentials: keychainService.Source(catalog.SiteAliExpress, aliexpressUrl),
		}),
		ishtari.NewClient(ishtari.ClientOptions{
			BaseUrl:     ishtariUrl,
			Credentials: keychainService.Source(catalog.SiteIshtari, ishtariUrl),
		}),
		hicart.NewClient(hicart.ClientOptions{
			BaseUrl:       cfg.HicartUrl,
			FetchProxyUrl: cfg.FetchProxyUrl,
			FetchProxyKey: cfg.FetchProxyKey,
		}),
	}

	sink, err := sheets.NewSink(ctx, sheets.Options{
		CredentialsFile: sheetsCfg.CredentialsFile,
		SpreadsheetId:   sheetsCfg.SpreadsheetId,
		InputSheet:      sheetsCfg.InputSheet,
		ResultSheet:     sheetsCfg.ResultSheet,
	})
	if err != nil {
		return nil, err
	}

	return recommend.NewService(recommend.Options{
		Extractors:   extractors,
		Sink:         sink,
		KeywordDelay: time.Duration(cfg.KeywordDelaySeconds) * time.Second,
	}), nil
}
