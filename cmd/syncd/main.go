package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/winzalabs/chainsync/config"
	"github.com/winzalabs/chainsync/internal/adapters/linera"
	"github.com/winzalabs/chainsync/internal/adapters/notify"
	"github.com/winzalabs/chainsync/internal/adapters/pricefeed"
	"github.com/winzalabs/chainsync/internal/adapters/storage"
	"github.com/winzalabs/chainsync/internal/application/lifecycle"
	"github.com/winzalabs/chainsync/internal/application/purchase"
	"github.com/winzalabs/chainsync/internal/application/reveal"
	appsync "github.com/winzalabs/chainsync/internal/application/sync"
	"github.com/winzalabs/chainsync/internal/domain"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one sync pass per domain and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("chainsync starting",
		"config", *configPath,
		"domains", len(cfg.Domains),
		"ledger", cfg.Ledger.HTTPBase,
		"once", *once,
	)

	store, err := storage.NewSQLiteCache(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open cache", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	client := linera.NewClient()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		runOnce(ctx, cfg, client, store)
		return
	}

	var wg sync.WaitGroup
	for _, d := range cfg.Domains {
		wg.Add(1)
		go func(d config.DomainConfig) {
			defer wg.Done()
			runDomain(ctx, cfg, d, client, store)
		}(d)
	}
	wg.Wait()

	slog.Info("chainsync stopped cleanly")
}

// runDomain arma y corre el stack completo de un dominio: suscripción,
// synchronizer, reveal y, si están habilitados, orchestrator y agente de
// compra. Los dominios no se coordinan entre sí — particiones de cache y
// endpoints separados por construcción.
func runDomain(ctx context.Context, cfg *config.Config, d config.DomainConfig, client *linera.Client, store *storage.SQLiteCache) {
	variant := domain.Variant(d.Variant)

	app := linera.NewApp(client, pricefeed.Static{Value: d.StaticPrice}, linera.AppConfig{
		Domain:           d.Name,
		Variant:          variant,
		Endpoint:         cfg.Endpoint(d, d.AppID),
		PurchaseEndpoint: purchaseEndpoint(cfg, d),
		Owner:            cfg.Purchase.Owner,
		Amount:           cfg.Purchase.Amount,
		Prediction:       cfg.Purchase.Prediction,
	})

	channel := linera.NewChannel(cfg.Ledger.WSBase, d.ChainID)

	// Cada consumidor recibe su propia copia de la señal en un canal con
	// buffer 1: señales redundantes se colapsan por consumidor.
	syncSignals := make(chan struct{}, 1)
	orchSignals := make(chan struct{}, 1)
	buySignals := make(chan struct{}, 1)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		channel.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		fanOut(ctx, channel.Signals(), syncSignals, orchSignals, buySignals)
	}()

	syncCfg := appsync.DefaultConfig()
	syncCfg.PollInterval = cfg.SyncInterval()
	syncCfg.Retention = cfg.Sync.RetentionRounds
	synchronizer := appsync.New(d.Name, variant, app, app, store, syncCfg)

	wg.Add(2)
	go func() {
		defer wg.Done()
		synchronizer.Run(ctx, syncSignals)
	}()
	go func() {
		defer wg.Done()
		reveal.New(d.Name, store, notify.NewConsole(), reveal.DefaultConfig()).Run(ctx)
	}()

	if d.Orchestrate {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lifecycle.New(d.Name, variant, app, app, lifecycle.DefaultConfig()).Run(ctx, orchSignals)
		}()
	}

	if cfg.Purchase.Enabled && d.PurchaseAppID != "" {
		buyCfg := purchase.DefaultConfig()
		buyCfg.MaxAttempts = cfg.Purchase.MaxAttempts
		wg.Add(1)
		go func() {
			defer wg.Done()
			purchase.New(d.Name, app, app, buyCfg).Run(ctx, buySignals)
		}()
	}

	wg.Wait()
}

// runOnce hace una pasada de sync por dominio e imprime el resultado.
func runOnce(ctx context.Context, cfg *config.Config, client *linera.Client, store *storage.SQLiteCache) {
	for _, d := range cfg.Domains {
		variant := domain.Variant(d.Variant)
		app := linera.NewApp(client, pricefeed.Static{Value: d.StaticPrice}, linera.AppConfig{
			Domain:   d.Name,
			Variant:  variant,
			Endpoint: cfg.Endpoint(d, d.AppID),
		})

		syncCfg := appsync.DefaultConfig()
		syncCfg.Retention = cfg.Sync.RetentionRounds
		res, err := appsync.New(d.Name, variant, app, app, store, syncCfg).Sync(ctx)
		if err != nil {
			slog.Error("sync failed", "domain", d.Name, "err", err)
			continue
		}
		fmt.Printf("%s: %d created, %d updated\n", d.Name, res.Created, res.Updated)
	}
}

func purchaseEndpoint(cfg *config.Config, d config.DomainConfig) string {
	if d.PurchaseAppID == "" {
		return ""
	}
	return cfg.Endpoint(d, d.PurchaseAppID)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// fanOut replica cada señal a todos los consumidores sin bloquear: si el
// buffer de un consumidor está lleno, esa copia se colapsa con la pendiente.
func fanOut(ctx context.Context, in <-chan struct{}, outs ...chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-in:
			for _, out := range outs {
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}
}
