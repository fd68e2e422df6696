package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/kwheeler/mailstash/internal/config"
	"github.com/kwheeler/mailstash/internal/email"
	"github.com/kwheeler/mailstash/internal/store"
	"github.com/kwheeler/mailstash/internal/sync"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
	configPath  = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailstashd version %s\n", version)
		os.Exit(0)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Starting mailstashd")

	// A migration failure is fatal: never run against a partially
	// migrated schema.
	st, err := store.Open(cfg.StorePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accounts := email.NewAccountManager(cfg, logger)
	defer accounts.Close()

	poller := sync.NewPoller(sync.NewSyncer(st, cfg.BatchLimit, logger), cfg.SyncInterval, logger)

	for i := range cfg.Accounts {
		acc := &cfg.Accounts[i]

		id, err := st.AddAccount(ctx, acc.Email, acc.Provider)
		if errors.Is(err, store.ErrConflict) {
			// Already known from a previous run; keep the stored row.
			existing, getErr := st.GetAccountByEmail(ctx, acc.Email)
			if getErr != nil {
				logger.WithError(getErr).WithField("account", acc.Email).Fatal("Failed to look up account")
			}
			id = existing.ID
		} else if err != nil {
			logger.WithError(err).WithField("account", acc.Email).Fatal("Failed to register account")
		}

		poller.Register(id, acc.Email, accounts.Client(acc.Email))
	}

	poller.Start(ctx)
	defer poller.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.WithField("signal", sig).Info("Received shutdown signal")
	cancel()

	logger.Info("Shutting down mailstashd")
}
