package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile        = ".env"
	defaultPort           = "8080"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultEnvironment    = "local"
	defaultMongoDatabase  = "products"
	defaultIndexTimeout   = 5 * time.Second
	defaultIndexInFlight  = 64
	defaultMaxBatch       = 50
	defaultBuildVersion   = "dev"
	defaultBuildCommit    = "unknown"
)

// Store backends.
const (
	BackendFirestore = "firestore"
	BackendMongo     = "mongo"
	BackendMemory    = "memory"
)

// Indexing modes.
const (
	IndexingHTTP     = "http"
	IndexingPubSub   = "pubsub"
	IndexingDisabled = "disabled"
)

// Metadata encodings understood by the document codecs.
const (
	EncodingNested   = "nested"
	EncodingPrefixed = "prefixed"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Auth     AuthConfig
	Indexing IndexingConfig
	Catalog  CatalogConfig
	Products ProductsConfig
	Security SecurityConfig
	Build    BuildConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Backend          string
	MetadataEncoding string
	Firestore        FirestoreConfig
	Mongo            MongoConfig
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// MongoConfig points at a MongoDB deployment.
type MongoConfig struct {
	URI      string
	Database string
}

// AuthConfig controls bearer token verification on product routes.
type AuthConfig struct {
	// JWTSecret is the base64 encoded HS256 signing key.
	JWTSecret string
	Disabled  bool
}

// IndexingConfig configures the outbound search indexing notifier.
type IndexingConfig struct {
	Mode        string
	Endpoint    string
	ProjectID   string
	Topic       string
	Timeout     time.Duration
	MaxInFlight int
}

// CatalogConfig overrides the bundled category and product type tables.
type CatalogConfig struct {
	CategoriesFile   string
	ProductTypesFile string
}

// ProductsConfig holds product route limits.
type ProductsConfig struct {
	MaxBatch int
}

// SecurityConfig names the deployment environment used for secret project lookups.
type SecurityConfig struct {
	Environment string
}

// BuildConfig is reported by the health and version routes.
type BuildConfig struct {
	Version   string
	CommitSHA string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts...)

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := options.lookupFunc(dotEnvValues)

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: durationWithDefault(lookup, "API_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Store: StoreConfig{
			Backend:          strings.ToLower(stringWithDefault(lookup, "API_STORE_BACKEND", BackendFirestore)),
			MetadataEncoding: strings.ToLower(stringWithDefault(lookup, "API_STORE_METADATA_ENCODING", EncodingNested)),
			Firestore: FirestoreConfig{
				ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
				EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
			},
			Mongo: MongoConfig{
				URI:      stringWithDefault(lookup, "API_MONGO_URI", ""),
				Database: stringWithDefault(lookup, "API_MONGO_DATABASE", defaultMongoDatabase),
			},
		},
		Auth: AuthConfig{
			JWTSecret: stringWithDefault(lookup, "API_AUTH_JWT_SECRET", ""),
			Disabled:  boolWithDefault(lookup, "API_AUTH_DISABLED", false),
		},
		Indexing: IndexingConfig{
			Mode:        strings.ToLower(stringWithDefault(lookup, "API_INDEXING_MODE", IndexingHTTP)),
			Endpoint:    strings.TrimRight(stringWithDefault(lookup, "API_INDEXING_ENDPOINT", ""), "/"),
			ProjectID:   stringWithDefault(lookup, "API_INDEXING_PROJECT_ID", ""),
			Topic:       stringWithDefault(lookup, "API_INDEXING_TOPIC", ""),
			Timeout:     durationWithDefault(lookup, "API_INDEXING_TIMEOUT", defaultIndexTimeout),
			MaxInFlight: intWithDefault(lookup, "API_INDEXING_MAX_IN_FLIGHT", defaultIndexInFlight),
		},
		Catalog: CatalogConfig{
			CategoriesFile:   stringWithDefault(lookup, "API_CATALOG_CATEGORIES_FILE", ""),
			ProductTypesFile: stringWithDefault(lookup, "API_CATALOG_PRODUCT_TYPES_FILE", ""),
		},
		Products: ProductsConfig{
			MaxBatch: intWithDefault(lookup, "API_PRODUCTS_MAX_BATCH", defaultMaxBatch),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultEnvironment)),
		},
		Build: BuildConfig{
			Version:   stringWithDefault(lookup, "API_BUILD_VERSION", defaultBuildVersion),
			CommitSHA: stringWithDefault(lookup, "API_BUILD_COMMIT_SHA", defaultBuildCommit),
		},
	}

	// The indexing topic lives in the datastore project unless told otherwise.
	if cfg.Indexing.ProjectID == "" {
		cfg.Indexing.ProjectID = cfg.Store.Firestore.ProjectID
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Auth.JWTSecret", &cfg.Auth.JWTSecret},
		{"Store.Mongo.URI", &cfg.Store.Mongo.URI},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}

	switch cfg.Store.Backend {
	case BackendFirestore:
		if cfg.Store.Firestore.ProjectID == "" {
			invalid = append(invalid, "Store.Firestore.ProjectID")
		}
	case BackendMongo:
		if cfg.Store.Mongo.URI == "" {
			invalid = append(invalid, "Store.Mongo.URI")
		}
		if cfg.Store.Mongo.Database == "" {
			invalid = append(invalid, "Store.Mongo.Database")
		}
	case BackendMemory:
	default:
		invalid = append(invalid, "Store.Backend")
	}
	if cfg.Store.MetadataEncoding != EncodingNested && cfg.Store.MetadataEncoding != EncodingPrefixed {
		invalid = append(invalid, "Store.MetadataEncoding")
	}

	if !cfg.Auth.Disabled && strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		invalid = append(invalid, "Auth.JWTSecret")
	}

	switch cfg.Indexing.Mode {
	case IndexingHTTP:
		if cfg.Indexing.Endpoint == "" {
			invalid = append(invalid, "Indexing.Endpoint")
		}
	case IndexingPubSub:
		if cfg.Indexing.ProjectID == "" {
			invalid = append(invalid, "Indexing.ProjectID")
		}
		if cfg.Indexing.Topic == "" {
			invalid = append(invalid, "Indexing.Topic")
		}
	case IndexingDisabled:
	default:
		invalid = append(invalid, "Indexing.Mode")
	}
	if cfg.Indexing.Timeout <= 0 {
		invalid = append(invalid, "Indexing.Timeout")
	}
	if cfg.Indexing.MaxInFlight <= 0 {
		invalid = append(invalid, "Indexing.MaxInFlight")
	}

	if cfg.Products.MaxBatch <= 0 {
		invalid = append(invalid, "Products.MaxBatch")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
