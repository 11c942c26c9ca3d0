// Package main запускает Telegram-бота психологической поддержки вместе с
// HTTP-сервером (health, metrics, postback CryptoCloud, admin API).
//
// @title           Counsel Bot Admin API
// @version         1.0
// @description     Администрирование Telegram-бота психологической поддержки: промпты, цены, пользователи, статистика.

// @BasePath  /admin

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	counselbot "github.com/magabrotheeeer/counsel-bot/internal/app/counsel-bot"
	"github.com/magabrotheeeer/counsel-bot/internal/config"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := sl.New(cfg.Env, os.Stdout)

	logger.Info("starting counsel-bot", slog.String("env", cfg.Env))
	logger.Debug("config loaded", slog.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := counselbot.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize app", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("app stopped with error", sl.Err(err))
		os.Exit(1)
	}

	logger.Info("counsel-bot stopped gracefully")
}
