package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kolabsync/otserver/pkg/logger"
	"github.com/kolabsync/otserver/pkg/server"
	"github.com/kolabsync/otserver/pkg/store"
)

// Config holds all server configuration, loaded from the environment.
type Config struct {
	Port               string
	SQLiteURI          string
	IdleTimeout        time.Duration
	SweepInterval      time.Duration
	PersistInterval    time.Duration
	MaxDocumentSize    int
	OutboundBufferSize int
}

func main() {
	// Initialize logger
	logger.Init()

	// Load configuration from environment
	config := Config{
		Port:               getEnv("PORT", "3030"),
		SQLiteURI:          os.Getenv("SQLITE_URI"),
		IdleTimeout:        time.Duration(getEnvInt("IDLE_TIMEOUT_HOURS", 1)) * time.Hour,
		SweepInterval:      time.Duration(getEnvInt("SWEEP_INTERVAL_MINUTES", 15)) * time.Minute,
		PersistInterval:    time.Duration(getEnvInt("PERSIST_INTERVAL_SECONDS", 30)) * time.Second,
		MaxDocumentSize:    getEnvInt("MAX_DOCUMENT_SIZE_KB", 256) * 1024, // KB x 1024, enforced as a rune count
		OutboundBufferSize: getEnvInt("OUTBOUND_BUFFER_SIZE", 16),
	}

	logger.Info("Starting otserver...")
	logger.Info("Port: %s", config.Port)

	// Initialize the snapshot store if configured
	var st *store.Store
	if config.SQLiteURI != "" {
		logger.Info("Store: %s", config.SQLiteURI)
		var err error
		st, err = store.Open(config.SQLiteURI)
		if err != nil {
			logger.Error("Failed to open store: %v", err)
			log.Fatalf("failed to open store: %v", err)
		}
		defer st.Close()
	} else {
		logger.Info("Store: disabled (in-memory only)")
	}

	srv := server.NewServer(st, server.Config{
		MaxDocumentSize:    config.MaxDocumentSize,
		OutboundBufferSize: config.OutboundBufferSize,
		IdleTimeout:        config.IdleTimeout,
		SweepInterval:      config.SweepInterval,
		PersistInterval:    config.PersistInterval,
	})

	// Start the idle-session sweeper
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.StartSweeper(ctx)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down...")
		cancel()
		os.Exit(0)
	}()

	// Start server
	addr := fmt.Sprintf(":%s", config.Port)
	log.Fatal(srv.ListenAndServe(addr))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
