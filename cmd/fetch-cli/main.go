package main

import (
	"context"

	"prodrec-backend/cmd/fetch-cli/commands"
	"prodrec-backend/lib/telemetry"
)

func main() {
	telemetry.SetupFromEnv(context.Background(), "fetch-cli")
	telemetry.InitSlog(true)
	commands.ExecuteContext(context.Background())
}
