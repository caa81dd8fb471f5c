package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/config"
	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/logging"
	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/server"
)

func main() {
	configFile := flag.String("config", "", "TOML config file (overrides CONFIG_FILE)")
	scriptPath := flag.String("script", "", "Script to serve (overrides config)")
	port := flag.String("port", "", "Server port (overrides config)")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}

	path := *configFile
	if path == "" {
		path = os.Getenv(config.FileEnv)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *scriptPath != "" {
		cfg.Script.Path = *scriptPath
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}
