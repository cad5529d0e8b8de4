package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parleylabs/parley/backend/internal/auth"
	"github.com/parleylabs/parley/backend/internal/chat"
	"github.com/parleylabs/parley/backend/internal/config"
	"github.com/parleylabs/parley/backend/internal/database"
	"github.com/parleylabs/parley/backend/internal/logging"
	"github.com/parleylabs/parley/backend/internal/messages"
	"github.com/parleylabs/parley/backend/internal/payments"
	"github.com/parleylabs/parley/backend/internal/server"
	"github.com/parleylabs/parley/backend/internal/tenants"
	"github.com/parleylabs/parley/backend/internal/ws"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parley-api",
		Short: "Parley live-chat backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().Int("heartbeat-seconds", defaults.GetInt("chat.heartbeat_seconds"), "Per-connection heartbeat interval")
	cmd.PersistentFlags().Int("idle-timeout-seconds", defaults.GetInt("chat.idle_timeout_seconds"), "Idle timeout before a connection is reaped")
	cmd.PersistentFlags().Int("sweep-seconds", defaults.GetInt("chat.sweep_seconds"), "Liveness sweep interval")
	cmd.PersistentFlags().Int("typing-clear-ms", defaults.GetInt("chat.typing_clear_ms"), "Typing preview clear delay in milliseconds")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "chat.heartbeat_seconds", "heartbeat-seconds")
	bindFlag(cmd, "chat.idle_timeout_seconds", "idle-timeout-seconds")
	bindFlag(cmd, "chat.sweep_seconds", "sweep-seconds")
	bindFlag(cmd, "chat.typing_clear_ms", "typing-clear-ms")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	return viper.ReadInConfig()
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "parley-auth",
		Audience:      "parley-api",
	})

	paymentsService, err := payments.NewService(payments.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	tenantsService, err := tenants.NewService(tenants.ServiceConfig{
		Database: db,
		Payments: paymentsService,
	})
	if err != nil {
		return err
	}

	messageStore, err := messages.NewStore(messages.StoreConfig{
		Database:   db,
		IDProvider: messages.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	chatService, err := chat.NewService(chat.ServiceConfig{
		Store:             messageStore,
		Authorizer:        tenantsService,
		Logger:            logger,
		HeartbeatInterval: appConfig.HeartbeatInterval,
		IdleTimeout:       appConfig.IdleTimeout,
		SweepInterval:     appConfig.SweepInterval,
		TypingClearDelay:  appConfig.TypingClearDelay,
		HistoryLimit:      appConfig.HistoryLimit,
	})
	if err != nil {
		return err
	}
	defer chatService.Close()

	socketHandler, err := ws.NewHandler(ws.HandlerConfig{
		Service:   chatService,
		Validator: tokenManager,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		Operators:     tenantsService,
		ChatService:   chatService,
		SocketHandler: socketHandler.Serve,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
