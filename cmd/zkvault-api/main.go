package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zkvault/backend/internal/auth"
	"github.com/zkvault/backend/internal/config"
	"github.com/zkvault/backend/internal/database"
	"github.com/zkvault/backend/internal/logging"
	"github.com/zkvault/backend/internal/server"
	"github.com/zkvault/backend/internal/storage"
	"github.com/zkvault/backend/internal/upload"
	"github.com/zkvault/backend/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "zkvault-api",
		Short: "Zero-knowledge encrypted backup server",
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
	cmd.PersistentFlags().String("signing-secret", "", "JWT signing secret (overrides env)")
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Chunk storage backend (local, s3)")
	cmd.PersistentFlags().String("storage-path", defaults.GetString("storage.path"), "Chunk storage root for the local backend")
	cmd.PersistentFlags().Int64("max-chunk-bytes", defaults.GetInt64("storage.max_chunk_bytes"), "Maximum accepted chunk payload in bytes")
	cmd.PersistentFlags().String("s3-endpoint", defaults.GetString("s3.endpoint"), "S3-compatible endpoint URL (empty for AWS)")
	cmd.PersistentFlags().String("s3-region", defaults.GetString("s3.region"), "S3 region")
	cmd.PersistentFlags().String("s3-bucket", defaults.GetString("s3.bucket"), "S3 bucket for chunk blobs")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "storage.path", "storage-path")
	bindFlag(cmd, "storage.max_chunk_bytes", "max-chunk-bytes")
	bindFlag(cmd, "s3.endpoint", "s3-endpoint")
	bindFlag(cmd, "s3.region", "s3-region")
	bindFlag(cmd, "s3.bucket", "s3-bucket")
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

// newChunkStore builds the configured storage backend. The choice is made
// once here; everything downstream receives the store as a dependency.
func newChunkStore(ctx context.Context, appConfig config.AppConfig) (storage.ChunkStore, error) {
	switch appConfig.StorageBackend {
	case config.StorageBackendS3:
		return storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:  appConfig.S3Endpoint,
			Region:    appConfig.S3Region,
			Bucket:    appConfig.S3Bucket,
			AccessKey: appConfig.S3AccessKey,
			SecretKey: appConfig.S3SecretKey,
		})
	case config.StorageBackendLocal:
		return storage.NewFilesystemStore(appConfig.StoragePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", appConfig.StorageBackend)
	}
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

	chunkStore, err := newChunkStore(ctx, appConfig)
	if err != nil {
		return err
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "zkvault-api",
		AccessTTL:     appConfig.AccessTTL,
		RefreshTTL:    appConfig.RefreshTTL,
	})

	accountService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: upload.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	uploadService, err := upload.NewService(upload.ServiceConfig{
		Database:      db,
		Store:         chunkStore,
		MaxChunkBytes: appConfig.MaxChunkBytes,
		Clock:         time.Now,
		IDProvider:    upload.NewUUIDProvider(),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Accounts:      accountService,
		TokenManager:  tokenManager,
		UploadService: uploadService,
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
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("storage_backend", appConfig.StorageBackend))
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
