// Package main is the entry point for the mantagw S3-compatible gateway.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flag"

	"github.com/bleepstore/mantagw/internal/bsclient"
	"github.com/bleepstore/mantagw/internal/bsclient/awsbs"
	"github.com/bleepstore/mantagw/internal/bsclient/azurebs"
	"github.com/bleepstore/mantagw/internal/bsclient/gcsbs"
	"github.com/bleepstore/mantagw/internal/bsclient/local"
	"github.com/bleepstore/mantagw/internal/config"
	"github.com/bleepstore/mantagw/internal/logging"
	"github.com/bleepstore/mantagw/internal/metrics"
	"github.com/bleepstore/mantagw/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 9000)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	if cfg.Observability.Metrics {
		metrics.Register()
	}

	// The gateway owns no persistent state of its own: every durable fact
	// about a bucket or object lives behind the bsclient.Client interface,
	// in whichever backend is configured here. Crash-only design: every
	// startup is recovery, and there is no local metadata store to reseed.
	bs, err := newBackend(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize backing store: %v\n", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, bs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("mantagw listening on %s (backend=%s)", addr, cfg.Storage.Backend)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)

		timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
		log.Printf("Server stopped.")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}

// newBackend constructs the bsclient.Client named by cfg.Storage.Backend.
func newBackend(ctx context.Context, cfg *config.Config) (bsclient.Client, error) {
	switch cfg.Storage.Backend {
	case "aws":
		c := cfg.Storage.AWS
		if c.Bucket == "" {
			return nil, fmt.Errorf("storage.aws.bucket is required when backend is 'aws'")
		}
		return awsbs.New(ctx, c)
	case "gcp":
		c := cfg.Storage.GCP
		if c.Bucket == "" {
			return nil, fmt.Errorf("storage.gcp.bucket is required when backend is 'gcp'")
		}
		return gcsbs.New(ctx, c)
	case "azure":
		c := cfg.Storage.Azure
		if c.Container == "" {
			return nil, fmt.Errorf("storage.azure.container is required when backend is 'azure'")
		}
		return azurebs.New(ctx, c)
	default:
		return local.New(cfg.Storage.Local.RootDir)
	}
}
