package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wentianbu/sft/internal/logger"
	"github.com/wentianbu/sft/pkg/auth"
	"github.com/wentianbu/sft/pkg/config"
	"github.com/wentianbu/sft/pkg/lastlogin"
	"github.com/wentianbu/sft/pkg/metrics"
	promMetrics "github.com/wentianbu/sft/pkg/metrics/prometheus"
	"github.com/wentianbu/sft/pkg/server"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] [<certFile> <keyFile> <rootDir> <userFile>]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Run with exactly four positional arguments, or none to use the\nconfiguration file and built-in defaults.\n\nFlags:\n")
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "Path to config file")
	logLevel := flag.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// TLS material and the served tree come either from the config file or
	// from exactly four positional arguments. Anything else is a usage
	// error.
	switch flag.NArg() {
	case 0:
	case 4:
		cfg.Server.CertFile = flag.Arg(0)
		cfg.Server.KeyFile = flag.Arg(1)
		cfg.Server.RootDir = flag.Arg(2)
		cfg.Server.UserFile = flag.Arg(3)
	default:
		usage()
		os.Exit(2)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logger.SetLevel(cfg.Logging.Level)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to set log output: %v", err)
	}

	fmt.Println("SFT - Secure File Transfer Server")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Serving directory: %s", cfg.Server.RootDir)

	if info, err := os.Stat(cfg.Server.RootDir); err != nil || !info.IsDir() {
		log.Fatalf("Root directory %q is not a directory", cfg.Server.RootDir)
	}

	creds, err := auth.LoadCredentialStore(cfg.Server.UserFile)
	if err != nil {
		log.Fatalf("Failed to load user file: %v", err)
	}
	logger.Info("Loaded %d user(s) from %s", creds.Len(), cfg.Server.UserFile)
	if cfg.Server.WatchUserFile {
		if err := creds.Watch(); err != nil {
			log.Fatalf("Failed to watch user file: %v", err)
		}
		defer creds.Close()
	}

	var lastLogin *lastlogin.Store
	llCfg, err := cfg.Server.LastLoginConfig()
	if err != nil {
		log.Fatalf("Invalid last_login configuration: %v", err)
	}
	if llCfg.DBPath != "" || llCfg.InMemory {
		lastLogin, err = lastlogin.Open(llCfg)
		if err != nil {
			log.Fatalf("Failed to open last-login store: %v", err)
		}
		defer lastLogin.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sftMetrics := metrics.NewNoopSFTMetrics()
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		sftMetrics = promMetrics.NewSFTMetrics()

		metricsServer := metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port})
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
		logger.Info("Metrics available on port %d", metricsServer.Port())
	}

	srv := server.New(cfg.Server, creds, lastLogin, sftMetrics)

	go func() {
		if err := srv.Serve(ctx); err != nil {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")
	<-sigChan

	logger.Info("Shutting down server...")
	cancel()

	// Give live sessions a chance to drain before exiting.
	deadline := time.After(cfg.Server.ShutdownTimeout)
	for srv.SessionCount() > 0 {
		select {
		case <-deadline:
			logger.Warn("Shutdown timeout reached with %d session(s) still open", srv.SessionCount())
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	logger.Info("Server stopped")
}
