package main

import (
	"flag"

	"prodrec-backend/lib/configutil"
	"prodrec-backend/lib/serviceutil"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Config struct {
	Port     int            `json:"port"`
	Api      ApiConfig      `json:"api"`
	Keychain KeychainConfig `json:"keychain"`
	Fetch    FetchConfig    `json:"fetch"`
	Sheets   SheetsConfig   `json:"sheets"`
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	InitTelemetry(ctx, *verbose)

	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	keychainService, err := InitKeychain(cfg.Keychain)
	if err != nil {
		serviceutil.Fatal("init keychain", err)
	}
	recommendService, err := InitRecommend(ctx, cfg.Fetch, cfg.Sheets, keychainService)
	if err != nil {
		serviceutil.Fatal("init recommend", err)
	}
	InitApi(router, cfg.Api, recommendService)

	go serviceutil.StartHttpServer(cfg.Port, router)
	<-ctx.Done()
}
