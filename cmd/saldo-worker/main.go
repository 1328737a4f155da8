package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"saldo/internal/config"
	"saldo/internal/events"
	applog "saldo/internal/log"
	"saldo/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := applog.Setup(cfg.LogLevel, cfg.LogFormat).WithComponent(applog.ComponentWorker)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the journal worker")
		os.Exit(1)
	}

	journalPath := os.Getenv("JOURNAL_PATH")
	if journalPath == "" {
		journalPath = "./data/clearings.jsonl"
	}

	journal, err := worker.NewJournal(journalPath)
	if err != nil {
		logger.Error("Failed to open journal", "error", err, "path", journalPath)
		os.Exit(1)
	}
	defer journal.Close()

	amqpClient, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to connect event broker", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	logger.Info("Starting journal worker",
		"queue", cfg.AMQPQueue,
		"journal", journalPath)

	if err := journal.Run(ctx, amqpClient); err != nil && err != context.Canceled {
		logger.Error("Journal worker stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("Journal worker stopped gracefully")
}
