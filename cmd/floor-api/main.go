package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumenfloor/backend/internal/canvas"
	"github.com/lumenfloor/backend/internal/config"
	"github.com/lumenfloor/backend/internal/database"
	"github.com/lumenfloor/backend/internal/logging"
	"github.com/lumenfloor/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "floor-api",
		Short: "Floor installation realtime backend",
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
	cmd.PersistentFlags().String("public-hostname", defaults.GetString("http.public_hostname"), "Externally addressable hostname for client reconnection")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("retention-cap", defaults.GetInt("retention.cap"), "Maximum retained items per kind")
	cmd.PersistentFlags().Int("probe-timeout-ms", defaults.GetInt("store.probe_timeout_ms"), "Durable store probe timeout in milliseconds")
	cmd.PersistentFlags().Int("message-max-chars", defaults.GetInt("limits.message_max_chars"), "Maximum message length in characters")
	cmd.PersistentFlags().Int("drawing-max-bytes", defaults.GetInt("limits.drawing_max_bytes"), "Maximum drawing payload size in bytes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.public_hostname", "public-hostname")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "retention.cap", "retention-cap")
	bindFlag(cmd, "store.probe_timeout_ms", "probe-timeout-ms")
	bindFlag(cmd, "limits.message_max_chars", "message-max-chars")
	bindFlag(cmd, "limits.drawing_max_bytes", "drawing-max-bytes")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
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

	idProvider := canvas.NewUUIDProvider()
	store, watermarks, closeStore := selectStores(ctx, appConfig, idProvider, logger)
	defer closeStore()

	hub, err := server.NewHub(server.HubConfig{
		Store:           store,
		Watermarks:      watermarks,
		RetentionCap:    appConfig.RetentionCap,
		MessageMaxChars: appConfig.MessageMaxChars,
		DrawingMaxBytes: appConfig.DrawingMaxBytes,
		Clock:           time.Now,
		IDProvider:      idProvider,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Hub:    hub,
		Logger: logger,
		// Leave headroom for the JSON envelope around a maximum-size drawing.
		ReadLimit: int64(appConfig.DrawingMaxBytes) + 4096,
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
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("public_hostname", appConfig.PublicHostname),
			zap.Int("retention_cap", appConfig.RetentionCap))
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

// selectStores opens the durable store and probes it, falling back to
// in-process storage for the whole run when it is unreachable. Mixed modes
// are never used: the watermark always lives in the same backend as the data.
func selectStores(ctx context.Context, appConfig config.AppConfig, idProvider canvas.IDProvider, logger *zap.Logger) (canvas.Store, canvas.WatermarkStore, func()) {
	memory, err := canvas.NewMemoryStore(canvas.MemoryStoreConfig{
		Capacity:   appConfig.RetentionCap,
		Clock:      time.Now,
		IDProvider: idProvider,
	})
	if err != nil {
		panic(err)
	}
	fallback := func() (canvas.Store, canvas.WatermarkStore, func()) {
		logger.Warn("running with in-memory storage, submissions will not survive a restart")
		return memory, canvas.NewMemoryWatermarkStore(), func() {}
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		logger.Warn("database open failed", zap.Error(err))
		return fallback()
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Warn("database handle unavailable", zap.Error(err))
		return fallback()
	}
	closeDB := func() { _ = sqlDB.Close() }

	durable, err := canvas.NewGormStore(canvas.GormStoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		logger.Warn("durable store construction failed", zap.Error(err))
		closeDB()
		return fallback()
	}

	selected := canvas.SelectStore(ctx, durable, memory, appConfig.ProbeTimeout, logger)
	if selected != canvas.Store(durable) {
		closeDB()
		return fallback()
	}

	watermarks, err := canvas.NewGormWatermarkStore(db, logger)
	if err != nil {
		logger.Warn("watermark store construction failed", zap.Error(err))
		closeDB()
		return fallback()
	}

	return durable, watermarks, closeDB
}
