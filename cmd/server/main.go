package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xaenox/memo-web/internal/attachment"
	"github.com/xaenox/memo-web/internal/audit"
	"github.com/xaenox/memo-web/internal/auth"
	"github.com/xaenox/memo-web/internal/classifier"
	"github.com/xaenox/memo-web/internal/logger"
	handler "github.com/xaenox/memo-web/internal/server/handler/http"
	"github.com/xaenox/memo-web/internal/service"
	"github.com/xaenox/memo-web/internal/storage"
	"github.com/xaenox/memo-web/pkg/config"
	"go.uber.org/zap"
)

const defaultConfigPath = "config.yaml"

// formOverhead is the room left for form fields and multipart framing on top
// of the attachment size limit.
const formOverhead = 1 << 20

func configPath() string {
	path := os.Getenv("MEMO_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ""
	}
	return path
}

func main() {
	// Load configuration
	path := configPath()
	cfg, err := config.LoadConfig(path)
	if err != nil {
		panic(err)
	}

	// Initialize logger
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	zapLogger := log.Logger

	if path != "" {
		err := config.Watch(path, func(c *config.Config) {
			if err := log.SetLevel(c.Log.Level); err != nil {
				zapLogger.Warn("Ignoring log level from config", zap.Error(err))
			}
		}, func(err error) {
			zapLogger.Warn("Failed to reload config", zap.Error(err))
		})
		if err != nil {
			zapLogger.Warn("Config hot reload disabled", zap.Error(err))
		}
	}

	// Initialize storage
	store, err := storage.Open(storage.Options{
		Driver:   cfg.Storage.Driver,
		DataFile: cfg.Storage.DataFile,
		Postgres: storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		},
		DSN: cfg.Database.DSN,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()

	users := service.NewUserStore(store, auth.NewHasher(cfg.Auth.BcryptCost), cfg.Auth.ResetPassword)
	if cfg.Admin.Password != "" {
		created, err := users.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password)
		switch {
		case errors.Is(err, service.ErrNotAdmin):
			zapLogger.Warn("Configured admin account exists without admin role",
				zap.String("username", cfg.Admin.Username))
		case err != nil:
			zapLogger.Fatal("Failed to create admin account", zap.Error(err))
		}
		if created {
			zapLogger.Info("Admin account created", zap.String("username", cfg.Admin.Username))
		}
	}

	files, err := attachment.NewFileStore(attachment.Config{
		Root:           cfg.Server.UploadRoot,
		MaxBytes:       cfg.Attachments.MaxBytes,
		ValidateImages: cfg.Attachments.ValidateImages,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize upload directory", zap.Error(err))
	}

	// Sessions
	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			zapLogger.Fatal("Failed to generate session secret", zap.Error(err))
		}
		zapLogger.Warn("auth.jwt_secret is not set; sessions will not survive a restart")
	}
	signer := auth.NewSigner(secret, cfg.Auth.Issuer, cfg.Auth.SessionTTL)

	var revoker auth.Revoker
	switch cfg.Session.Store {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			zapLogger.Fatal("Failed to connect to redis", zap.Error(err), zap.String("addr", cfg.Redis.Addr))
		}
		revoker = auth.NewRedisRevoker(rdb, "memo:revoked:")
	default:
		revoker = auth.NewMemoryRevoker()
	}
	access := auth.NewAccessControl(signer, revoker, users, zapLogger)

	// Audit sinks
	var sinks audit.Multi
	if cfg.Audit.File != "" {
		sinks = append(sinks, audit.NewFileSink(cfg.Audit.File, zapLogger))
	}
	if cfg.Audit.Telegram.Token != "" {
		tg, err := audit.NewTelegramSink(cfg.Audit.Telegram.Token, cfg.Audit.Telegram.ChatID, zapLogger)
		if err != nil {
			zapLogger.Error("Telegram audit sink disabled", zap.Error(err))
		} else {
			defer tg.Close()
			sinks = append(sinks, tg)
		}
	}

	notes := service.NewNoteService(store, users, files, sinks, zapLogger)
	switch cfg.Classifier.Provider {
	case "simple":
		notes.WithTitler(classifier.NewSimpleClassifier(cfg.Classifier.MaxWords, 0))
	case "openai":
		notes.WithTitler(classifier.NewGPTClassifier(
			cfg.OpenAI.APIKey,
			cfg.OpenAI.Model,
			cfg.OpenAI.MaxTokens,
			cfg.OpenAI.Temperature,
			zapLogger,
		))
	}
	accounts := service.NewAccountService(users, signer, access, sinks, zapLogger)

	router := handler.NewRouter(
		&handler.AccountHandler{Accounts: accounts, Logger: zapLogger},
		&handler.NoteHandler{Notes: notes, Logger: zapLogger, MaxBodyBytes: maxBodyBytes(cfg.Attachments.MaxBytes)},
		access,
		files.Root(),
		zapLogger,
	)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		zapLogger.Info("Starting HTTP server", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-sigCtx.Done()
	zapLogger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

func maxBodyBytes(attachmentLimit int64) int64 {
	if attachmentLimit <= 0 {
		return 0
	}
	return attachmentLimit + formOverhead
}
