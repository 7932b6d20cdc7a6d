package main

import (
	"context"

	"prodrec-backend/lib/restyutil"
	"prodrec-backend/lib/scrapers/aliexpress"
	"prodrec-backend/lib/scrapers/hicart"
	"prodrec-backend/lib/scrapers/ishtari"
	"prodrec-backend/lib/serviceutil"
	"prodrec-backend/lib/telemetry"
)

func InitTelemetry(ctx context.Context, verbose bool) {
	_, err := telemetry.SetupFromEnv(ctx, "server")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}

	telemetry.InitSlog(verbose)
	if !verbose {
		return
	}

	aliexpress.SetRestyInstrumentOutput(
		restyutil.NewFilesystemOutput("resty_telemetry/aliexpress"),
	)
	ishtari.SetRestyInstrumentOutput(
		restyutil.NewFilesystemOutput("resty_telemetry/ishtari"),
	)
	hicart.SetRestyInstrumentOutput(
		restyutil.NewFilesystemOutput("resty_telemetry/hicart"),
	)
}
