package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/app"
	"github.com/nimasrn/digest-dispatcher/internal/config"
	"github.com/nimasrn/digest-dispatcher/internal/handlers"
	"github.com/nimasrn/digest-dispatcher/internal/services"
	xhttp "github.com/nimasrn/digest-dispatcher/pkg/http"
	"github.com/nimasrn/digest-dispatcher/pkg/logger"
	"github.com/nimasrn/digest-dispatcher/pkg/prom"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer logger.Sync()

	err := config.Load(app.EnvPath(os.Args))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	log := logger.Named("dispatcher")
	log.Info("starting digest dispatcher", "version", version, "commit", commit, "date", date,
		"transport", config.Get().DispatchTransport)

	a, err := app.Build(config.Get())
	if err != nil {
		logger.Error("failed to build dispatcher", "error", err)
		return
	}
	defer a.Close()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	if config.Get().MetricsAddr != "" {
		go prom.ListenAndServer(config.Get().MetricsAddr, config.Get().MetricsURI)
	}

	// admin api
	s := xhttp.CreateServer()
	s.Use(xhttp.TimeoutMiddleware(config.Get().DispatchTimeout + 5*time.Second))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)

	digestService := services.NewDigestService(a.Processor, a.Recipients, a.Scheduler.Metrics(), a.DB, nil)
	g := s.Router.Group("/api/v1")
	handlers.RegisterDigestRoutes(g, handlers.NewDigestHandler(digestService))
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(digestService))

	go func() {
		if err := s.ListenAndServe(config.Get().HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	a.Scheduler.Start()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.Info("shutting down", "signal", sig.String())

	s.Shutdown()
	a.Scheduler.Stop()
}
