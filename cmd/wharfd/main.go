// wharfd provisions WordPress instances and runs their backup schedules,
// serving the management API and Prometheus metrics.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/polarfoxDev/wharf/internal/app"
	"github.com/polarfoxDev/wharf/internal/config"
)

func main() {
	configPath := envDefault("WHARF_CONFIG", "/etc/wharf/config.yml")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config %s: %v", configPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{Console: os.Stdout})
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()

	a.Log.Info("wharfd starting (executor %s, archive enabled: %v)", cfg.Runtime.Executor, cfg.ArchiveEnabled())
	if err := a.Run(ctx); err != nil {
		a.Log.Error("wharfd stopped: %v", err)
		a.Close()
		os.Exit(1)
	}
	a.Log.Info("wharfd stopped")
}

func envDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
