package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noosi159/Hospital1-backend/internal/config"
	"github.com/noosi159/Hospital1-backend/internal/domain/adjrw"
	"github.com/noosi159/Hospital1-backend/internal/domain/casework"
	"github.com/noosi159/Hospital1-backend/internal/domain/coverage"
	"github.com/noosi159/Hospital1-backend/internal/domain/hissync"
	"github.com/noosi159/Hospital1-backend/internal/domain/snapshot"
	"github.com/noosi159/Hospital1-backend/internal/domain/user"
	"github.com/noosi159/Hospital1-backend/internal/platform/auth"
	"github.com/noosi159/Hospital1-backend/internal/platform/breaker"
	"github.com/noosi159/Hospital1-backend/internal/platform/db"
	"github.com/noosi159/Hospital1-backend/internal/platform/events"
	"github.com/noosi159/Hospital1-backend/internal/platform/metrics"
	"github.com/noosi159/Hospital1-backend/internal/platform/middleware"
	"github.com/noosi159/Hospital1-backend/internal/platform/tracing"
	"github.com/noosi159/Hospital1-backend/migrations"
)

const (
	serviceName    = "casereview"
	serviceVersion = "0.1.0"
	bodyLimit      = "2M"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "casereview",
		Short: "Hospital case review backend",
	}

	rootCmd.AddCommand(serveCmd(), migrateCmd(), coverageCmd(), userCmd(), hisCmd(), eventsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// env bundles what every subcommand needs.
type env struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBSchema)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &env{cfg: cfg, logger: logger, pool: pool}, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() || strings.EqualFold(cfg.LogFormat, "text") {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Str("service", serviceName).Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		SigningKey: []byte(cfg.JWTSigningKey),
		TTL:        cfg.JWTTTL,
		Skipper:    auth.AuthSkipper,
	}
}

// services is the wired domain layer shared by serve and the workers.
type services struct {
	coverage *coverage.Service
	adjrw    *adjrw.Service
	snapshot *snapshot.Service
	users    *user.Service
	cases    *casework.Service
	his      *hissync.Service
}

func buildServices(e *env, m *metrics.Metrics) (*services, error) {
	txm := db.NewTxManager(e.pool)

	covSvc := coverage.NewService(coverage.NewRepo(e.pool), txm)
	ledger := adjrw.NewService(adjrw.NewRepo(e.pool), covSvc, txm, m)
	snaps := snapshot.NewService(snapshot.NewRepo(e.pool))
	users := user.NewService(user.NewRepo(e.pool), jwtConfig(e.cfg), e.logger)
	outbox := events.NewOutbox(e.pool, e.cfg.CaseEventsTopic)
	cases := casework.NewService(casework.NewRepo(e.pool), txm, users, ledger, snaps, outbox, m)

	var fetcher hissync.Fetcher
	if e.cfg.HISBaseURL != "" {
		b, err := breaker.New(breaker.DefaultConfig("his"), e.logger, m)
		if err != nil {
			return nil, fmt.Errorf("create his breaker: %w", err)
		}
		fetcher = hissync.NewClient(e.cfg.HISBaseURL, e.cfg.HISTimeout, b)
	}
	his := hissync.NewService(hissync.NewRepo(e.pool), txm, fetcher, m, e.logger)

	return &services{
		coverage: covSvc,
		adjrw:    ledger,
		snapshot: snaps,
		users:    users,
		cases:    cases,
		his:      his,
	}, nil
}

func runServer() error {
	ctx := context.Background()
	e0, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e0.pool.Close()
	cfg, logger := e0.cfg, e0.logger

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRate:     cfg.OTelSampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	m := metrics.New(nil)
	svcs, err := buildServices(e0, m)
	if err != nil {
		return err
	}

	e := newEcho(cfg, logger, m)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(e0.pool))
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	registerRoutes(apiV1, svcs)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newEcho(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID},
	}))
	e.Use(echomw.BodyLimit(bodyLimit))
	e.Use(m.Middleware())

	if cfg.IsDev() && cfg.JWTSigningKey == "" {
		logger.Warn().Msg("JWT_SIGNING_KEY not set, every request runs as ADMIN")
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}
	return e
}

func registerRoutes(api *echo.Group, s *services) {
	user.NewHandler(s.users).RegisterRoutes(api)
	coverage.NewHandler(s.coverage).RegisterRoutes(api)
	adjrw.NewHandler(s.adjrw).RegisterRoutes(api)
	snapshot.NewHandler(s.snapshot).RegisterRoutes(api)
	casework.NewHandler(s.cases).RegisterRoutes(api)
	hissync.NewHandler(s.his).RegisterRoutes(api)
}

// migrationSource prefers an on-disk directory over the embedded files.
func migrationSource(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}

	var schema, dir string

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.pool.Close()

			migrator := db.NewMigrator(e.pool, migrationSource(firstNonEmpty(dir, e.cfg.MigrationsDir)))
			n, err := migrator.Up(ctx, firstNonEmpty(schema, e.cfg.DBSchema))
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			fmt.Printf("Applied %d migration(s)\n", n)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.pool.Close()

			migrator := db.NewMigrator(e.pool, migrationSource(firstNonEmpty(dir, e.cfg.MigrationsDir)))
			statuses, err := migrator.Status(ctx, firstNonEmpty(schema, e.cfg.DBSchema))
			if err != nil {
				return fmt.Errorf("migrate status: %w", err)
			}
			fmt.Printf("%-8s %-40s %-8s %s\n", "VERSION", "NAME", "APPLIED", "APPLIED AT")
			for _, s := range statuses {
				at := "-"
				if s.AppliedAt != nil {
					at = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Printf("%-8d %-40s %-8t %s\n", s.Version, s.Name, s.Applied, at)
			}
			return nil
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().StringVar(&schema, "schema", "", "target schema (defaults to DB_SCHEMA)")
		c.Flags().StringVar(&dir, "dir", "", "migrations directory (defaults to the embedded files)")
	}
	cmd.AddCommand(upCmd, statusCmd)
	return cmd
}

func coverageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Coverage rate table commands",
	}

	var file string
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load prefix mappings and rate rules from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open seed file: %w", err)
			}
			defer f.Close()
			seed, err := coverage.ParseSeed(f)
			if err != nil {
				return err
			}

			ctx := context.Background()
			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.pool.Close()

			svc := coverage.NewService(coverage.NewRepo(e.pool), db.NewTxManager(e.pool))
			res, err := svc.Seed(ctx, seed)
			if err != nil {
				return fmt.Errorf("seed coverage: %w", err)
			}
			fmt.Printf("Seeded %d mapping(s), %d rule(s); deactivated %d old rule(s)\n",
				res.Mappings, res.Rules, res.Deactivated)
			return nil
		},
	}
	seedCmd.Flags().StringVar(&file, "file", "coverage.yaml", "seed file")
	cmd.AddCommand(seedCmd)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User management commands",
	}

	var in user.CreateInput
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Password == "" {
				in.Password = os.Getenv("CASEREVIEW_PASSWORD")
			}
			ctx := context.Background()
			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.pool.Close()

			svc := user.NewService(user.NewRepo(e.pool), jwtConfig(e.cfg), e.logger)
			u, err := svc.Create(ctx, in)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Printf("Created user %d (%s, %s)\n", u.ID, u.Username, u.Role)
			return nil
		},
	}
	createCmd.Flags().StringVar(&in.Username, "username", "", "login name")
	createCmd.Flags().StringVar(&in.Password, "password", "", "password (or CASEREVIEW_PASSWORD)")
	createCmd.Flags().StringVar(&in.FullName, "full-name", "", "display name")
	createCmd.Flags().StringVar(&in.Role, "role", auth.RoleAuditor, "ADMIN, AUDITOR or CODER")
	_ = createCmd.MarkFlagRequired("username")
	cmd.AddCommand(createCmd)
	return cmd
}

func hisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "his",
		Short: "Hospital information system ingestion",
	}

	var q hissync.Query
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull discharges from the HIS HTTP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHIS(func(ctx context.Context, svc *hissync.Service) (*hissync.Result, error) {
				return svc.Sync(ctx, q)
			})
		},
	}
	syncCmd.Flags().StringVar(&q.HN, "hn", "", "hospital number")
	syncCmd.Flags().StringVar(&q.AN, "an", "", "admission number")
	syncCmd.Flags().StringVar(&q.DCSince, "since", "", "discharge date from (YYYY-MM-DD)")
	syncCmd.Flags().StringVar(&q.DCEnd, "until", "", "discharge date to (YYYY-MM-DD)")

	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import discharges from a Parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHIS(func(ctx context.Context, svc *hissync.Service) (*hissync.Result, error) {
				return svc.ImportFile(ctx, file)
			})
		},
	}
	importCmd.Flags().StringVar(&file, "file", "", "Parquet file")
	_ = importCmd.MarkFlagRequired("file")

	consumeCmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume the HIS discharge feed from Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.pool.Close()
			if !e.cfg.KafkaEnabled() {
				return errors.New("KAFKA_BROKERS is not set")
			}

			svcs, err := buildServices(e, metrics.New(nil))
			if err != nil {
				return err
			}
			if err := events.EnsureTopics(ctx, e.cfg.KafkaBrokers,
				events.DefaultTopics(e.cfg.CaseEventsTopic, e.cfg.HISFeedTopic), e.logger); err != nil {
				return err
			}
			consumer, err := events.NewConsumer(events.ConsumerConfig{
				Brokers: e.cfg.KafkaBrokers,
				GroupID: e.cfg.HISFeedGroup,
				Topics:  []string{e.cfg.HISFeedTopic},
			}, e.logger)
			if err != nil {
				return err
			}
			e.logger.Info().Str("topic", e.cfg.HISFeedTopic).Msg("consuming HIS feed")
			if err := consumer.Run(ctx, svcs.his.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.AddCommand(syncCmd, importCmd, consumeCmd)
	return cmd
}

func withHIS(fn func(ctx context.Context, svc *hissync.Service) (*hissync.Result, error)) error {
	ctx := context.Background()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.pool.Close()

	svcs, err := buildServices(e, metrics.New(nil))
	if err != nil {
		return err
	}
	res, err := fn(ctx, svcs.his)
	if res != nil {
		fmt.Printf("fetched=%d upserted=%d skipped=%d failed=%d\n",
			res.Fetched, res.Upserted, res.Skipped, res.Failed)
	}
	return err
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Case event outbox commands",
	}

	var once bool
	relayCmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish pending outbox events to Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.pool.Close()
			if !e.cfg.KafkaEnabled() {
				return errors.New("KAFKA_BROKERS is not set")
			}

			if err := events.EnsureTopics(ctx, e.cfg.KafkaBrokers,
				events.DefaultTopics(e.cfg.CaseEventsTopic, e.cfg.HISFeedTopic), e.logger); err != nil {
				return err
			}
			producer, err := events.NewProducer(e.cfg.KafkaBrokers, e.logger)
			if err != nil {
				return err
			}
			defer producer.Close()

			relay := events.NewRelay(e.pool, producer, relayConfig(e.cfg), e.logger, metrics.New(nil))
			if once {
				res, err := relay.ProcessBatch(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("published=%d failed=%d\n", res.Published, res.Failed)
				return nil
			}
			e.logger.Info().Str("topic", e.cfg.CaseEventsTopic).Msg("outbox relay started")
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	relayCmd.Flags().BoolVar(&once, "once", false, "process a single batch and exit")
	cmd.AddCommand(relayCmd)
	return cmd
}

func relayConfig(cfg *config.Config) events.RelayConfig {
	rc := events.DefaultRelayConfig()
	if cfg.OutboxBatchSize > 0 {
		rc.BatchSize = cfg.OutboxBatchSize
	}
	if cfg.OutboxPollInterval > 0 {
		rc.PollInterval = cfg.OutboxPollInterval
	}
	return rc
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
