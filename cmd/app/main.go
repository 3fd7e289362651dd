package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/airbooking-payments/api"
	"github.com/Domenick1991/airbooking-payments/config"
	"github.com/Domenick1991/airbooking-payments/internal/auth"
	"github.com/Domenick1991/airbooking-payments/internal/bootstrap"
	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer deps.Close()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	routerCfg := api.RouterConfig{
		Bookings: deps.BookingService(),
		Payments: deps.PaymentService(cfg),
		Admin:    deps.Engine,
		Log:      deps.Log.WithField("component", "http"),
	}
	if cfg.Auth.AdminJWTSecret != "" {
		routerCfg.Tokens = auth.NewVerifier(cfg.Auth.AdminJWTSecret)
	}

	if err := bootstrap.Run(ctx, cfg, api.NewRouter(routerCfg), deps.Store, deps.Log); err != nil {
		deps.Log.WithError(err).Fatal("server error")
	}
}
