package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/orderable/products-api/internal/indexing"
	"github.com/orderable/products-api/internal/platform/config"
	"github.com/orderable/products-api/internal/platform/docstore"
	pfirestore "github.com/orderable/products-api/internal/platform/firestore"
	"github.com/orderable/products-api/internal/platform/metrics"
	"github.com/orderable/products-api/internal/platform/mongostore"
	"github.com/orderable/products-api/internal/platform/secrets"
)

const (
	storeConnectTimeout = 10 * time.Second
	storeCloseTimeout   = 5 * time.Second
)

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projects := secretProjectMapFromEnv(env); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPinsFromEnv(env); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if raw := lookup("API_SECRET_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse API_SECRET_CACHE_TTL: %w", err)
		}
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentials := lookup("API_GOOGLE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve before startup.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if disabled, _ := strconv.ParseBool(strings.TrimSpace(env["API_AUTH_DISABLED"])); !disabled {
		required = append(required, "Auth.JWTSecret")
	}
	if strings.EqualFold(strings.TrimSpace(env["API_STORE_BACKEND"]), config.BackendMongo) {
		required = append(required, "Store.Mongo.URI")
	}
	return required
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	projects := make(map[string]string)
	for label, project := range parseKeyValueList(env["API_SECRET_PROJECT_IDS"]) {
		projects[strings.ToLower(label)] = project
	}
	return projects
}

// secretVersionPinsFromEnv reads entries like "prod:secret://auth/jwt=5". The
// environment prefix is optional and sm:// references are normalised.
func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(env["API_SECRET_VERSION_PINS"]) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

// parseKeyValueList splits "a=1,b=2" on the last "=" of each entry so keys may carry
// query strings.
func parseKeyValueList(raw string) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		idx := strings.LastIndex(entry, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(entry[:idx])
		value := strings.TrimSpace(entry[idx+1:])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

type storeBackend struct {
	store     docstore.DocumentStore
	pinger    docstore.Pinger
	precision time.Duration
	closeFn   func(context.Context) error
}

func (b storeBackend) close(logger *zap.Logger) {
	if b.closeFn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeCloseTimeout)
	defer cancel()
	if err := b.closeFn(ctx); err != nil {
		logger.Warn("document store close error", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storeBackend, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory document store; data is lost on restart")
		store := docstore.NewMemoryStore()
		return storeBackend{store: store, pinger: store}, nil

	case config.BackendMongo:
		client, err := mongostore.Connect(ctx, cfg.Store.Mongo.URI, storeConnectTimeout)
		if err != nil {
			return storeBackend{}, err
		}
		store, err := mongostore.NewStore(client.Database(cfg.Store.Mongo.Database))
		if err != nil {
			_ = client.Disconnect(context.Background())
			return storeBackend{}, err
		}
		return storeBackend{
			store:     store,
			pinger:    store,
			precision: mongostore.Precision,
			closeFn:   disconnectMongo(client),
		}, nil

	case config.BackendFirestore:
		provider := pfirestore.NewProvider(cfg.Store.Firestore, pfirestore.WithDialTimeout(storeConnectTimeout))
		if _, err := provider.Client(ctx); err != nil {
			return storeBackend{}, err
		}
		store, err := pfirestore.NewStore(provider)
		if err != nil {
			_ = provider.Close(context.Background())
			return storeBackend{}, err
		}
		return storeBackend{store: store, pinger: store, closeFn: provider.Close}, nil
	}
	return storeBackend{}, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func disconnectMongo(client *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Disconnect(ctx)
	}
}

type indexingNotifier struct {
	notifier   indexing.Notifier
	dispatcher *indexing.Dispatcher
	cleanup    func()
}

// close drains in-flight notifications before releasing the transport.
func (n indexingNotifier) close(ctx context.Context) error {
	var err error
	if n.dispatcher != nil {
		err = n.dispatcher.Close(ctx)
	}
	if n.cleanup != nil {
		n.cleanup()
	}
	return err
}

func openIndexing(ctx context.Context, cfg config.Config, logger *zap.Logger, recorder *metrics.Metrics) (indexingNotifier, error) {
	var (
		sender  indexing.Sender
		cleanup func()
	)
	switch cfg.Indexing.Mode {
	case config.IndexingDisabled:
		logger.Info("search indexing notifications disabled")
		return indexingNotifier{notifier: indexing.Discard{}}, nil

	case config.IndexingHTTP:
		httpSender, err := indexing.NewHTTPSender(cfg.Indexing.Endpoint,
			indexing.WithSenderLogger(logger),
			indexing.WithBreakerConfig(indexing.DefaultBreakerConfig()),
		)
		if err != nil {
			return indexingNotifier{}, err
		}
		sender = httpSender

	case config.IndexingPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Indexing.ProjectID)
		if err != nil {
			return indexingNotifier{}, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Indexing.Topic)
		pubsubSender, err := indexing.NewPubSubSender(topic)
		if err != nil {
			_ = client.Close()
			return indexingNotifier{}, err
		}
		sender = pubsubSender
		cleanup = func() {
			topic.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub client close error", zap.Error(err))
			}
		}

	default:
		return indexingNotifier{}, fmt.Errorf("unknown indexing mode %q", cfg.Indexing.Mode)
	}

	dispatcher, err := indexing.NewDispatcher(sender,
		indexing.WithLogger(logger),
		indexing.WithRecorder(recorder),
		indexing.WithTimeout(cfg.Indexing.Timeout),
		indexing.WithMaxInFlight(cfg.Indexing.MaxInFlight),
	)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return indexingNotifier{}, err
	}
	return indexingNotifier{notifier: dispatcher, dispatcher: dispatcher, cleanup: cleanup}, nil
}
