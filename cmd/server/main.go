package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/Poovarasan1009/chat-app/internal/auth"
	"github.com/Poovarasan1009/chat-app/internal/config"
	"github.com/Poovarasan1009/chat-app/internal/logging"
	"github.com/Poovarasan1009/chat-app/internal/server"
	"github.com/Poovarasan1009/chat-app/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	secret, err := cfg.TokenSecret()
	if err != nil {
		logger.Fatal("token secret unavailable", zap.Error(err))
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal("create database directory", zap.Error(err))
		}
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}

	authSvc := auth.NewService(st, secret, cfg.Auth.TokenTTL)

	if cfg.Database.SeedUsers {
		if err := seedSampleUsers(logger, st); err != nil {
			logger.Fatal("seed sample users", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.NewChatServer(cfg, logger, st, authSvc)
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

// seedSampleUsers populates a fresh database with a few demo accounts so the
// contact list is not empty on first boot.
func seedSampleUsers(log *zap.Logger, st *store.Store) error {
	count, err := st.CountUsers()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	samples := []struct {
		username, email, password, avatar, status string
	}{
		{"john_doe", "john@example.com", "password123",
			"https://images.unsplash.com/photo-1507003211169-0a1dd7228f2d?w=100&h=100&fit=crop&crop=face",
			"Hey there! I am John."},
		{"sarah_johnson", "sarah@example.com", "password123",
			"https://images.unsplash.com/photo-1494790108755-2616b332765c?w=100&h=100&fit=crop&crop=face",
			"Available for chat!"},
		{"mike_chen", "mike@example.com", "password123",
			"https://images.unsplash.com/photo-1472099645785-5658abf4ff4e?w=100&h=100&fit=crop&crop=face",
			"Developer and coffee lover"},
	}

	for _, sample := range samples {
		hash, err := auth.HashPassword(sample.password)
		if err != nil {
			return err
		}
		if _, err := st.CreateUser(sample.username, sample.email, hash, sample.avatar, sample.status); err != nil {
			return err
		}
		log.Info("seeded sample user", zap.String("username", sample.username))
	}
	return nil
}
