// pgclient-check connects to the configured database, runs one health
// check and prints the result as JSON. The exit code reflects the status:
// 0 healthy, 1 degraded, 2 unhealthy or unreachable.
//
// With -serve it instead keeps running and exposes /healthz, /readyz and
// /metrics over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moneta/pgclient/config"
	"github.com/moneta/pgclient/db"
	"github.com/moneta/pgclient/logger"
	"github.com/moneta/pgclient/pkg/health"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file")
	serve := flag.String("serve", "", "keep running and serve health endpoints on this address (e.g. :9090)")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout for the one-shot check")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pgclient-check %s (%s)\n", version, commit)
		return
	}

	cfg := config.NewDefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(2)
		}
		cfg = loaded
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to initialize logger: %v\n", err)
		os.Exit(2)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := db.New(ctx, &cfg.Database)
	if err != nil {
		logger.Error("failed to create database client", "error", err)
		os.Exit(2)
	}
	defer client.Close()

	if *serve != "" {
		runServer(client, *serve)
		return
	}

	result := client.HealthCheck(ctx)
	out, err := json.MarshalIndent(struct {
		*health.Result
		Pool db.PoolInfo `json:"pool"`
	}{result, client.PoolInfo()}, "", "  ")
	if err != nil {
		logger.Error("failed to encode health result", "error", err)
		os.Exit(2)
	}
	fmt.Println(string(out))

	switch result.Status {
	case health.StatusHealthy:
		os.Exit(0)
	case health.StatusDegraded:
		os.Exit(1)
	default:
		os.Exit(2)
	}
}

func runServer(client *db.Client, addr string) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      health.NewHandler(client.Monitor()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("serving health endpoints", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", "error", err)
			os.Exit(2)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server shutdown failed", "error", err)
	}
}
