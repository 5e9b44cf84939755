package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spotbot-core/internal/engine"
	"spotbot-core/internal/events"
	"spotbot-core/internal/monitor"
	"spotbot-core/internal/transport"
	"spotbot-core/pkg/config"
	"spotbot-core/pkg/db"
	"spotbot-core/pkg/exchange"
	"spotbot-core/pkg/exchange/binance"
	"spotbot-core/pkg/exchange/mock"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("starting trading core")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	redacted := cfg.Redacted()
	log.Printf("config loaded: port=%s exchange=%s sandbox=%v apiKey=%s", redacted.Port, redacted.ExchangeID, redacted.IsSandbox, redacted.APIKey)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("database open failed: %v", err)
	}
	defer database.Close()

	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("database migrations failed: %v", err)
	}
	log.Printf("database ready at %s", cfg.DBPath)

	gateway := buildGateway(cfg)

	metrics := monitor.NewSystemMetrics()

	bus := events.NewBus()
	eng := engine.New(gateway, database.Queries(metrics), bus, metrics, cfg)

	if err := eng.Initialize(ctx); err != nil {
		log.Printf("engine initialize failed, starting in ERROR state: %v", err)
	} else {
		log.Println("engine initialized")
	}

	mon := &monitor.Monitor{
		Bus: bus,
		AlertFn: func(msg string) {
			log.Printf("[ALERT] %s", msg)
		},
	}
	mon.Start(ctx)

	operatorToken, err := transport.MintOperatorToken(cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		log.Fatalf("mint operator token failed: %v", err)
	}
	log.Printf("operator bearer token (valid 24h): %s", operatorToken)

	meta := transport.SystemMeta{
		ExchangeID: cfg.ExchangeID,
		Sandbox:    cfg.IsSandbox,
		Version:    "1.0.0",
	}
	server := transport.NewServer(bus, eng, metrics, meta, cfg.JWTSecret, cfg.RateLimitRPS, cfg.RateLimitBurst)

	go func() {
		addr := ":" + cfg.Port
		log.Printf("listening on %s", addr)
		if err := server.Start(addr); err != nil {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutdown signal received")
	eng.Stop(true)
	cancel()
	log.Println("shutdown complete")
}

// buildGateway selects the real venue client or the in-memory mock, per
// the resolved GatewayCredentials. The mock is also the fallback when
// no credentials are configured, so the engine still has something to
// drive in a local/dev checkout.
func buildGateway(cfg *config.Config) exchange.Gateway {
	creds := cfg.Credentials()
	if creds.APIKey == "" || creds.APISecret == "" {
		log.Println("no credentials configured, using in-memory mock gateway")
		return mock.New()
	}

	switch creds.ExchangeID {
	case "binance":
		return binance.New(binance.Config{
			APIKey:    creds.APIKey,
			APISecret: creds.APISecret,
			Sandbox:   creds.Sandbox,
		})
	default:
		log.Printf("unsupported exchange %q, falling back to mock gateway", creds.ExchangeID)
		return mock.New()
	}
}
