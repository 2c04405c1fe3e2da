package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/odai-labs/bridge/bus"
	buspulse "github.com/odai-labs/bridge/bus/pulse"
	"github.com/odai-labs/bridge/config"
	"github.com/odai-labs/bridge/httpapi"
	"github.com/odai-labs/bridge/odai"
	"github.com/odai-labs/bridge/telemetry"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to YAML configuration file")
		addrF   = flag.String("http-addr", "", "HTTP listen address (overrides configuration)")
		dbgF    = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	// Setup logger.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatal(ctx, err)
	}
	if *addrF != "" {
		cfg.HTTP.Addr = *addrF
	}
	log.Print(ctx, log.KV{K: "http-addr", V: cfg.HTTP.Addr}, log.KV{K: "upstream", V: cfg.Upstream.BaseURL})

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewOTELMetrics()

	// Optional Redis-backed Pulse mirror for multi-process telemetry fan-out.
	var mirror bus.Mirror
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		pc, err := buspulse.NewClient(buspulse.ClientOptions{Redis: rdb, OperationTimeout: 5 * time.Second})
		if err != nil {
			log.Fatal(ctx, err)
		}
		m, err := buspulse.NewMirror(buspulse.MirrorOptions{Client: pc})
		if err != nil {
			log.Fatal(ctx, err)
		}
		defer func() { _ = m.Close(ctx) }()
		mirror = m
		log.Printf(ctx, "telemetry mirror enabled on %s", cfg.Redis.Addr)
	}

	b := bus.New(bus.Options{
		SubscriberBuffer: cfg.Bus.SubscriberBuffer,
		IdleTTL:          cfg.Bus.IdleTTL.Std(),
		Mirror:           mirror,
		Logger:           logger,
		Metrics:          metrics,
	})
	defer b.Close()

	client, err := odai.NewClient(odai.Options{
		BaseURL: cfg.Upstream.BaseURL,
		Tokens:  odai.StaticToken(cfg.Upstream.AccessToken),
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	svc, err := httpapi.New(httpapi.Options{
		Bus:           b,
		Client:        client,
		ChatPerMinute: cfg.Upstream.ChatPerMinute,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	// Channel used by both the signal handler and the server goroutine to
	// notify the main goroutine when to stop.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(ctx)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           svc.Handler(ctx, *dbgF),
		ReadHeaderTimeout: 60 * time.Second,
	}
	go func() {
		log.Printf(ctx, "HTTP server listening on %q", cfg.HTTP.Addr)
		errc <- srv.ListenAndServe()
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf(ctx, "failed to shutdown: %v", err)
	}
	log.Printf(ctx, "exited")
}
