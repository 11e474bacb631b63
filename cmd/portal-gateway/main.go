package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/carebridge/portal/internal/config"
	"github.com/carebridge/portal/internal/domain/channel"
	"github.com/carebridge/portal/internal/domain/otp"
	"github.com/carebridge/portal/internal/domain/profile"
	"github.com/carebridge/portal/internal/domain/redirect"
	"github.com/carebridge/portal/internal/domain/routeguard"
	"github.com/carebridge/portal/internal/domain/session"
	"github.com/carebridge/portal/internal/platform/db"
	"github.com/carebridge/portal/internal/platform/middleware"
	"github.com/carebridge/portal/internal/platform/provider"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-gateway",
		Short: "Hospital portal session gateway",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(routesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the portal route table and its access rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := routeguard.NewRuleset(routeguard.DefaultRules())
			if err != nil {
				return err
			}

			fmt.Printf("%-20s %-20s %s\n", "PREFIX", "ACCESS", "ROLES")
			fmt.Println("-------------------- -------------------- --------------------")
			for _, r := range rs.Rules() {
				roles := ""
				for i, role := range r.Roles {
					if i > 0 {
						roles += ", "
					}
					roles += role.String()
				}
				fmt.Printf("%-20s %-20s %s\n", r.PathPrefix, r.Access, roles)
			}
			return nil
		},
	}
}

// oauthEndpoints lists the external identity providers the portal can
// hand off to. Credentials stay with the hosted auth platform; the
// gateway only builds authorize URLs.
func oauthEndpoints() map[string]oauth2.Endpoint {
	return map[string]oauth2.Endpoint{
		"google": endpoints.Google,
		"azure":  endpoints.AzureAD("common"),
	}
}

// newRedisClient builds the client for the resend-cooldown store, or
// returns nil when no Redis URL is configured.
func newRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis (resend cooldowns); the gateway runs without it
	rdb, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid redis configuration")
	}
	if rdb != nil {
		defer rdb.Close()
		logger.Info().Msg("connected to redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set; resend cooldowns are not enforced")
	}

	// Profile store
	profileSvc := profile.NewService(profile.NewRepoPG(pool), logger)

	// Resend cooldown
	var cooldown *otp.Cooldown
	if rdb != nil {
		cooldown = otp.NewCooldown(rdb, cfg.ResendCooldown(), logger)
	}

	// Access token verification
	var verifier *provider.TokenVerifier
	if cfg.ProviderJWKSURL != "" || cfg.ProviderSigningKey != "" {
		verifier = provider.NewTokenVerifier(cfg.ProviderJWKSURL, []byte(cfg.ProviderSigningKey))
	} else {
		logger.Warn().Msg("no JWKS URL or signing key; provider tokens are not verified")
	}

	// Each browser session gets its own provider client, channel stores
	// and reconciler.
	factory := func() *session.Bundle {
		client := provider.NewHTTPClient(provider.HTTPConfig{
			BaseURL:        cfg.ProviderURL,
			APIKey:         cfg.ProviderKey,
			OAuthProviders: oauthEndpoints(),
			Verifier:       verifier,
			Logger:         logger,
		})

		password := channel.NewPasswordStore(client)
		otpPhone := channel.NewOTPStore(client, otp.ChannelPhone,
			otp.NewChallenge(client, otp.ChannelPhone, cfg.OTPTTL()), cooldown)
		otpEmail := channel.NewOTPStore(client, otp.ChannelEmail,
			otp.NewChallenge(client, otp.ChannelEmail, cfg.OTPTTL()), cooldown)

		bundle := &session.Bundle{
			Client:     client,
			Reconciler: session.New(client, password, otpPhone, otpEmail, profileSvc, logger),
			Password:   password,
			OTPPhone:   otpPhone,
			OTPEmail:   otpEmail,
		}
		if cfg.ProviderWSURL != "" {
			bundle.Stream = client.AttachStream(context.Background(), cfg.ProviderWSURL)
		}
		return bundle
	}

	manager := session.NewManager(factory, session.ManagerConfig{
		CookieName:   cfg.SessionCookie,
		IdleTTL:      cfg.SessionIdleTTL(),
		SecureCookie: cfg.IsProduction(),
	}, logger)
	defer manager.Close()
	manager.StartSweeper(10 * time.Minute)

	// Route guard
	ruleset, err := routeguard.NewRuleset(routeguard.DefaultRules())
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid route guard rules")
	}
	guard := routeguard.NewGuard(ruleset)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders:     []string{"Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	// Health check
	e.GET("/health", db.HealthHandler(pool, rdb))
	e.GET("/health/db", db.HealthHandler(pool, nil))

	// API surface. Credential endpoints get the tighter auth limit;
	// their paths already carry the /auth prefix.
	root := e.Group("", middleware.RateLimit(rateLimitCfg))
	authGroup := e.Group("", middleware.RateLimit(middleware.AuthRateLimitConfig()))

	session.NewHandler(manager, profileSvc).RegisterRoutes(root)
	channel.NewHandler(manager).RegisterRoutes(authGroup)
	routeguard.NewHandler(guard, manager).RegisterRoutes(root)
	redirect.NewHandler().RegisterRoutes(e)

	// Graceful shutdown
	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("portal gateway listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-stopCtx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	return nil
}
