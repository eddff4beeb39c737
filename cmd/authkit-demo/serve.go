package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"
	"github.com/torutek/authkit"
	"go.uber.org/zap"
)

type serveOptions struct {
	addr        string
	envFile     string
	exposeNonce bool
	trustProxy  bool
	purgeEvery  time.Duration
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.envFile, "env", ".env", "optional dotenv file")
	cmd.Flags().BoolVar(&opts.exposeNonce, "expose-nonce", false, "return issued nonces in the response body")
	cmd.Flags().BoolVar(&opts.trustProxy, "trust-proxy", false, "take the client IP from X-Forwarded-For / X-Real-IP")
	cmd.Flags().DurationVar(&opts.purgeEvery, "purge-interval", time.Minute, "expired row purge interval for the postgres backend")
	return cmd
}

func serve(parent context.Context, opts serveOptions) error {
	cfg, err := authkit.DecodeConfig(opts.envFile)
	if err != nil {
		return err
	}

	logger, err := authkit.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.JWT.Secret == "" && len(cfg.JWT.PrivateKey) == 0 && cfg.JWT.SigningMethod == "hs256" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
		cfg.JWT.Secret = hex.EncodeToString(secret)
		logger.Warn("AUTHKIT_JWT_SECRET not set, using an ephemeral secret")
	}

	if cfg.Cache.Backend == authkit.CacheRedis && cfg.Cache.RedisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		cfg.Cache.RedisAddr = mr.Addr()
		logger.Info("using miniredis", zap.String("addr", mr.Addr()))
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := authkit.New().
		WithConfig(cfg).
		WithLogger(logger).
		BuildContext(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("engine close failed", zap.Error(err))
		}
	}()

	for _, w := range engine.SecurityReport().Warnings {
		logger.Warn("security posture", zap.String("warning", w))
	}

	if cfg.Cache.Backend == authkit.CachePostgres && opts.purgeEvery > 0 {
		go purgeLoop(ctx, engine, opts.purgeEvery)
	}

	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           newServer(engine, logger, opts.exposeNonce, opts.trustProxy).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", opts.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func purgeLoop(ctx context.Context, engine *authkit.Engine, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.PurgeExpired(ctx)
			if err != nil {
				continue
			}
			if n > 0 {
				engine.Logger().Debug("purged expired nonces", zap.Int64("rows", n))
			}
		}
	}
}
