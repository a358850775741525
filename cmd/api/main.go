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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/orderable/products-api/internal/catalog"
	"github.com/orderable/products-api/internal/handlers"
	"github.com/orderable/products-api/internal/platform/auth"
	"github.com/orderable/products-api/internal/platform/config"
	"github.com/orderable/products-api/internal/platform/docstore"
	"github.com/orderable/products-api/internal/platform/metrics"
	"github.com/orderable/products-api/internal/platform/observability"
	"github.com/orderable/products-api/internal/repositories"
	"github.com/orderable/products-api/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	m := metrics.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := m.RegisterCollectors(registry); err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise document store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer backend.close(logger)

	codec, err := docstore.CodecFor(cfg.Store.MetadataEncoding)
	if err != nil {
		logger.Fatal("unsupported metadata encoding", zap.Error(err))
	}
	storeOpts := []docstore.EntityStoreOption{
		docstore.WithCodec(codec),
		docstore.WithObserver(m),
	}
	if backend.precision > 0 {
		storeOpts = append(storeOpts, docstore.WithTimestampPrecision(backend.precision))
	}
	entityStore, err := docstore.NewEntityStore(backend.store, storeOpts...)
	if err != nil {
		logger.Fatal("failed to initialise entity store", zap.Error(err))
	}

	categories, err := catalog.LoadCategories(cfg.Catalog.CategoriesFile)
	if err != nil {
		logger.Fatal("failed to load categories", zap.Error(err))
	}
	productTypes, err := catalog.LoadProductTypes(cfg.Catalog.ProductTypesFile)
	if err != nil {
		logger.Fatal("failed to load product types", zap.Error(err))
	}
	logger.Info("catalog loaded",
		zap.Int("categories", categories.Len()),
		zap.Strings("product_types", productTypes.Names()),
	)

	notifier, err := openIndexing(ctx, cfg, logger.Named("indexing"), m)
	if err != nil {
		logger.Fatal("failed to initialise indexing notifier", zap.String("mode", cfg.Indexing.Mode), zap.Error(err))
	}

	productService, err := services.NewProductService(services.ProductServiceDeps{
		Store:        entityStore,
		Categories:   categories,
		ProductTypes: productTypes,
		Notifier:     notifier.notifier,
	})
	if err != nil {
		logger.Fatal("failed to initialise product service", zap.Error(err))
	}

	buildInfo := services.BuildInfo{
		Version:     cfg.Build.Version,
		CommitSHA:   cfg.Build.CommitSHA,
		Environment: cfg.Security.Environment,
		StartedAt:   startedAt,
	}
	healthRepo, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		repositories.StoreCheck(cfg.Store.Backend, backend.pinger),
		{Name: "secrets", Check: fetcher.Check},
	})
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}
	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Build:            buildInfo,
	})
	if err != nil {
		logger.Fatal("failed to initialise system service", zap.Error(err))
	}

	productMiddleware := auth.AllowAnonymous
	if cfg.Auth.Disabled {
		logger.Warn("token verification disabled; product routes are open")
	} else {
		verifier, err := auth.NewHS256Verifier(cfg.Auth.JWTSecret)
		if err != nil {
			logger.Fatal("invalid JWT secret", zap.Error(err))
		}
		productMiddleware = auth.NewAuthenticator(verifier).RequireJWT
	}

	httpLogger := logger.Named("http")
	productHandlers := handlers.NewProductHandlers(
		handlers.WithProductService(productService),
		handlers.WithProductTypes(productTypes),
		handlers.WithProductMaxBatch(cfg.Products.MaxBatch),
	)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(cfg.Store.Firestore.ProjectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware,
			m.Middleware,
		),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(buildInfo),
			handlers.WithHealthSystemService(systemService),
		)),
		handlers.WithMetricsHandler(metrics.Handler(registry)),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithProductMiddlewares(productMiddleware),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("products api listening",
			zap.String("store", cfg.Store.Backend),
			zap.String("indexing", cfg.Indexing.Mode),
			zap.String("version", buildInfo.Version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	// Requests are drained, so no new notifications can be queued.
	if err := notifier.close(shutdownCtx); err != nil {
		logger.Warn("indexing notifications still in flight at shutdown", zap.Error(err))
	}
}
