package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/app"
	"github.com/nimasrn/digest-dispatcher/internal/config"
	"github.com/nimasrn/digest-dispatcher/internal/dispatcher"
	"github.com/nimasrn/digest-dispatcher/pkg/logger"
	"github.com/nimasrn/digest-dispatcher/pkg/pg"
)

// usage:
//
//	cli --env=.env [--migrate] [--dir=./migrations]
//	cli --env=.env --send-now --to=owner@clinic.test --tenant=1 [--name=Dana] [--tz=America/New_York]
func main() {
	defer logger.Sync()

	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if hasFlag("--send-now") {
		if err := sendNow(); err != nil {
			logger.Error("send-now failed", "error", err)
			os.Exit(1)
		}
		return
	}

	err = pg.Migrate(config.Get().PostgresWrite(), getMigrationPath())
	if err != nil {
		logger.Error("migration: error running migrations", "error", err)
		os.Exit(1)
	}
}

func sendNow() error {
	tenantID, err := strconv.ParseInt(app.ArgValue(os.Args, "--tenant=", false), 10, 64)
	if err != nil {
		return err
	}

	a, err := app.Build(config.Get())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.Get().DispatchTimeout+10*time.Second)
	defer cancel()

	res, err := a.Processor.SendNow(ctx, dispatcher.SendNowRequest{
		Destination: app.ArgValue(os.Args, "--to=", false),
		TenantID:    tenantID,
		DisplayName: app.ArgValue(os.Args, "--name=", false),
		Timezone:    app.ArgValue(os.Args, "--tz=", false),
	}, time.Now())
	if err != nil {
		return err
	}
	logger.Info("digest sent", "id", res.ID, "subject", res.Subject)
	return nil
}

func hasFlag(name string) bool {
	for _, v := range os.Args {
		if v == name {
			return true
		}
	}
	return false
}

func getEnvPath() string {
	if p := app.EnvPath(os.Args); p != "" {
		return p
	}
	if _, err := os.Stat(".env"); err != nil {
		return ""
	}
	return ".env"
}

func getMigrationPath() string {
	if p := app.ArgValue(os.Args, "--dir=", true); p != "" {
		return p
	}
	return config.Get().MigrationsDir
}
