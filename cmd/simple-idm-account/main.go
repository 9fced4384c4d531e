package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tendant/simple-idm-account/idm"
	"github.com/tendant/simple-idm-account/internal/config"
	"github.com/tendant/simple-idm-account/pkg/account"
	"github.com/tendant/simple-idm-account/pkg/auth"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/notify"
	"github.com/tendant/simple-idm-account/pkg/social"
	"github.com/tendant/simple-idm-account/pkg/store"
	"github.com/tendant/simple-idm-account/pkg/store/memory"
	"github.com/tendant/simple-idm-account/pkg/store/mongo"
	"github.com/tendant/simple-idm-account/pkg/store/postgres"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	var revoker auth.Revoker = auth.NewMemoryRevoker()
	var states social.StateStore = social.NewMemoryStateStore()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		revoker = auth.NewRedisRevoker(rdb)
		states = social.NewRedisStateStore(rdb)
		logger.Info("connected to redis")
	} else if cfg.HasSocial() {
		logger.Warn("social login: using in-memory state storage (not safe for multi-replica)")
	}

	transport, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}
	mailer, err := notify.NewMailer(transport, notify.MailerConfig{SiteName: cfg.SiteName}, logger)
	if err != nil {
		return err
	}
	notifier := notify.NewAsync(mailer, logger)

	creds := make(map[string]social.Credentials, len(cfg.Social))
	providers := make([]string, 0, len(cfg.Social))
	for name, c := range cfg.Social {
		creds[name] = social.Credentials{ClientID: c.ClientID, ClientSecret: c.ClientSecret}
		providers = append(providers, name)
		logger.Info("social login enabled", "provider", name)
	}

	accounts, err := idm.New(idm.Config{
		Store:     st,
		JWTSecret: cfg.JWTSecret,
		JWTIssuer: cfg.JWTIssuer,
		TokenTTL:  cfg.TokenTTL,
		Revoker:   revoker,
		Account: &account.Config{
			SignupEnabled:        cfg.SignupEnabled,
			VerificationRequired: cfg.VerificationRequired,
			UsernameEnabled:      cfg.UsernameEnabled,
			PasswordlessEnabled:  cfg.PasswordlessEnabled,
			MinPasswordLength:    cfg.MinPasswordLength,
			TokenTTL:             cfg.AccountTokenTTL,
			Providers:            providers,
			BaseURL:              cfg.AppBaseURL,
			SiteName:             cfg.SiteName,
		},
		Notifier:           notifier,
		Social:             creds,
		OAuthRedirectBase:  cfg.OAuthRedirectBase,
		StateStore:         states,
		RateLimit:          cfg.RateLimit,
		SecurityHeaders:    cfg.SecurityHeaders,
		MaxRequestBodySize: cfg.Validation.MaxRequestBodySize,
		CookieSecure:       strings.HasPrefix(cfg.AppBaseURL, "https://"),
		ServePages:         cfg.ServePages,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      accounts.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", addr, "store", cfg.StoreDriver, "mail", cfg.MailTransport)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	notifier.Wait()

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, postgres.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("connected to database", "driver", cfg.StoreDriver)
		return postgres.New(db), nil

	case config.StoreMongo:
		st, err := mongo.Open(ctx, mongo.Config{
			URL:      cfg.MongoURL,
			Database: cfg.MongoDatabase,
			Providers: []string{
				domain.ProviderGoogle, domain.ProviderFacebook,
				domain.ProviderGithub, domain.ProviderTwitter,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("connect to mongodb: %w", err)
		}
		logger.Info("connected to database", "driver", cfg.StoreDriver)
		return st, nil

	default:
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil
	}
}

func newTransport(cfg *config.Config, logger *slog.Logger) (notify.Transport, error) {
	switch cfg.MailTransport {
	case config.MailSMTP:
		return notify.NewSMTPTransport(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.MailFrom,
			FromName: cfg.SMTP.FromName,
		}), nil
	case config.MailPostmark:
		return notify.NewPostmarkTransport(notify.PostmarkConfig{
			ServerToken:  cfg.Postmark.ServerToken,
			AccountToken: cfg.Postmark.AccountToken,
			From:         cfg.MailFrom,
			ReplyTo:      cfg.Postmark.ReplyTo,
		})
	default:
		return notify.NewLogTransport(logger), nil
	}
}
