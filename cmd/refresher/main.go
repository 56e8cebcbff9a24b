package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chartlab-api/internal/cli"
	"chartlab-api/internal/config"
	"chartlab-api/internal/refresher"
	"chartlab-api/internal/svc"
)

const shutdownTimeout = 30 * time.Second // Grace period for running imports

var (
	configFile = flag.String("f", "etc/chartlab.yaml", "the config file")
	once       = flag.Bool("once", false, "run one refresh tick, wait for the imports and exit")
)

// The refresher writes the same data dir as the API server. Run it only where
// no server is writing that dir; the server hosts the same refresh itself
// when Refresh.Watchlist is set.
func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[main] Starting watchlist refresher...")

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("[main] Failed to load config: %v", err)
	}
	log.Printf("[main] Configuration loaded:")
	for _, line := range cli.ConfigSummaryLines(cfg) {
		log.Printf("  - %s", line)
	}
	if !cfg.Refresh.Enabled() {
		log.Fatalf("[main] Refresh.Watchlist is empty, nothing to do")
	}

	svcCtx, err := svc.NewServiceContext(*cfg)
	if err != nil {
		log.Fatalf("[main] Failed to build service context: %v", err)
	}
	im, err := svcCtx.RefreshImporter()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	r, err := refresher.New(cfg.Refresh, im, svcCtx.Registry)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		n := r.RunOnce(ctx)
		im.Wait()
		log.Printf("[main] %d import(s) finished", n)
		return
	}

	if err := r.Start(ctx); err != nil {
		log.Fatalf("[main] %v", err)
	}
	log.Printf("[main] Refresher started with schedule %q. Press Ctrl+C to stop.", r.Schedule())

	<-ctx.Done()
	log.Println("[main] Shutdown signal received, stopping scheduler...")
	r.Stop()

	done := make(chan struct{})
	go func() {
		im.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[main] All imports finished")
	case <-time.After(shutdownTimeout):
		log.Println("[main] Shutdown timeout exceeded, running imports will be marked as interrupted on next start")
	}
}
