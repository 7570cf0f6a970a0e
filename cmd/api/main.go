package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/karmaly/authloader/internal/accounts"
	"github.com/karmaly/authloader/internal/config"
	"github.com/karmaly/authloader/internal/idp"
	"github.com/karmaly/authloader/internal/infra"
	"github.com/karmaly/authloader/internal/loader"
	"github.com/karmaly/authloader/internal/localdata"
	"github.com/karmaly/authloader/internal/localstore"
	"github.com/karmaly/authloader/internal/logging"
	"github.com/karmaly/authloader/internal/notification"
	"github.com/karmaly/authloader/internal/routes"
	"github.com/karmaly/authloader/internal/server"
	"github.com/karmaly/authloader/internal/userstate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.AppName, cfg.LogLevel)

	ctx := context.Background()

	res, err := infra.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backends", "error", err)
		os.Exit(1)
	}
	defer res.Close()

	driver, err := res.StoreDriver(ctx, cfg.StoreDriver)
	if err != nil {
		logger.Error("build local store driver", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	stores := localstore.NewFactory(driver, logger)
	defer stores.Close()

	var repo accounts.Repository = accounts.NewStoreRepository(stores)
	if res.Postgres != nil {
		repo, err = accounts.NewPostgresRepository(ctx, res.Postgres)
		if err != nil {
			logger.Error("prepare accounts schema", "error", err)
			os.Exit(1)
		}
	}

	tokens, err := accounts.NewTokens(cfg.TokenSecret, cfg.TokenTTL, cfg.AppName)
	if err != nil {
		logger.Error("build token issuer", "error", err)
		os.Exit(1)
	}

	sdk, err := idp.New(idp.Options{
		Accounts: accounts.NewService(repo),
		Tokens:   tokens,
		Stores:   stores,
		OAuth: idp.OAuthClient{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
		},
		Notifier: notification.NewLoggerNotifier(logger),
		Events:   res.Redis,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("build identity sdk", "error", err)
		os.Exit(1)
	}

	ld, err := loader.New(loader.Options{
		SDK:        sdk,
		Config:     cfg.Identity(),
		Production: cfg.Production(),
		Users:      userstate.New(),
		Logger:     logger,
	})
	if err != nil {
		logger.Error("build loader", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, routes.Deps{
		Loader: ld,
		Local:  localdata.New(stores, logger),
		Tokens: tokens,
		Cache:  res.Redis,
		Checks: res.Checks(),
		Logger: logger,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	ld.ActivateApp()
	if cfg.Production() {
		ld.ActivateAnalytics()
	}

	srvErrCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Address(), "driver", cfg.StoreDriver)
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	if err := ld.Drain(shutdownCtx); err != nil {
		logger.Warn("analytics events still in flight", "error", err)
	}

	logger.Info("server exited cleanly")
}
