package factory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"tenant-console/internal/apiclient"
	"tenant-console/internal/client"
	"tenant-console/internal/config"
	"tenant-console/internal/encryption"
	"tenant-console/internal/handler"
	"tenant-console/internal/hashing"
	redisrepo "tenant-console/internal/repository/redis"
	"tenant-console/internal/security"
	"tenant-console/internal/service"
	"tenant-console/internal/storage"
	"tenant-console/internal/util"
)

// Host supplies the rendering-side collaborators of the session core. Every
// field is optional.
type Host struct {
	Environment    security.EnvironmentProvider
	Notifier       security.Notifier
	FieldWiper     security.FieldWiper
	WindowMetrics  security.WindowMetrics
	FrameInspector security.FrameInspector
}

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config
	host   Host

	// Clients
	redisClient   *client.RedisClient
	kafkaProducer *client.KafkaProducer
	esClient      *client.ESClient

	// Managers
	hasher            *hashing.IdentityHasher
	encryptionManager *encryption.EncryptionManager

	// Stores
	tabStore     storage.Store
	durableStore storage.Store
	apiStore     storage.Store

	securityManager *security.Manager
	apiClient       *apiclient.Client
	authService     *service.AuthService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes all application dependencies
func NewFactory(host Host) (*Factory, error) {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	return NewFactoryWithConfig(cfg, host)
}

// NewFactoryWithConfig builds every component from an already loaded configuration.
func NewFactoryWithConfig(cfg *config.Config, host Host) (*Factory, error) {
	factory := &Factory{
		config: cfg,
		host:   host,
		closed: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := factory.initializeClients(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := factory.initializeManagers(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}
	if err := factory.initializeSession(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize session security: %w", err)
	}
	factory.initializeAPI()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("api_base_url", cfg.APIBaseURL()),
		util.Bool("redis_enabled", factory.redisClient != nil),
		util.Bool("kafka_enabled", factory.kafkaProducer != nil),
		util.Bool("elasticsearch_enabled", factory.esClient != nil),
		util.String("sealing", cfg.Session.Sealing),
	)

	return factory, nil
}

// initializeClients connects the optional external services. Outside
// production a failing service is logged and skipped.
func (f *Factory) initializeClients(ctx context.Context) error {
	var initErrors []error
	logger := util.Get()

	if f.config.Redis.Enabled {
		if rc, err := client.NewRedisClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else if err := rc.HealthCheck(ctx); err != nil {
			rc.Close()
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			f.redisClient = rc
			util.Info("Redis client initialized and healthy")
		}
	}

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, logger); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.Elasticsearch.Enabled {
		if es, err := client.NewElasticsearchClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = es
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			f.closeClients()
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers builds the identity hasher and, when tokens are sealed,
// the envelope encryption manager.
func (f *Factory) initializeManagers(ctx context.Context) error {
	hasher, err := hashing.NewIdentityHasher(f.config.Session.IdentityHashKey)
	if err != nil {
		return fmt.Errorf("identity hasher: %w", err)
	}
	f.hasher = hasher

	switch f.config.Session.Sealing {
	case "", "none":
	case "aead":
		var provider encryption.KeyProvider
		if f.config.KMS.Enabled {
			provider, err = encryption.NewKMSKeyProviderFromEnv(ctx, f.config.KMS.Region, f.config.KMS.KeyID)
		} else {
			provider, err = encryption.NewLocalKeyProvider()
		}
		if err != nil {
			return fmt.Errorf("key provider: %w", err)
		}
		f.encryptionManager = encryption.NewEncryptionManager(provider, util.Get())
	default:
		return fmt.Errorf("unknown session sealing %q", f.config.Session.Sealing)
	}

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("encryption_initialized", f.encryptionManager != nil),
		util.Bool("kms_enabled", f.config.KMS.Enabled),
	)
	return nil
}

func (f *Factory) initializeSession() error {
	sessionCfg := f.config.Session
	logger := util.Get()

	f.tabStore = storage.NewMemoryStore()
	if f.redisClient != nil {
		f.durableStore = redisrepo.NewStore(f.redisClient)
	} else {
		f.durableStore = storage.NewMemoryStore()
	}
	f.apiStore = f.durableStore

	deps := security.Deps{
		TabStore:       f.tabStore,
		DurableStore:   f.durableStore,
		Environment:    f.host.Environment,
		Hasher:         f.hasher,
		Notifier:       f.host.Notifier,
		FieldWiper:     f.host.FieldWiper,
		WindowMetrics:  f.host.WindowMetrics,
		FrameInspector: f.host.FrameInspector,
		Logger:         logger,
	}

	if f.encryptionManager != nil {
		deps.Sealer = security.NewAEADSealer(f.encryptionManager)
	}

	switch sessionCfg.LedgerBackend {
	case "", "store":
	case "redis":
		if f.redisClient == nil {
			return errors.New("redis ledger requires REDIS_ENABLED")
		}
		deps.Ledger = redisrepo.NewAttemptLedger(f.redisClient)
	default:
		return fmt.Errorf("unknown ledger backend %q", sessionCfg.LedgerBackend)
	}

	switch sessionCfg.TabBroadcast {
	case "":
	case "memory":
		deps.Broadcaster = security.NewMemoryBroadcaster()
	case "redis":
		if f.redisClient == nil {
			return errors.New("redis tab broadcast requires REDIS_ENABLED")
		}
		deps.Broadcaster = redisrepo.NewTabChannel(f.redisClient)
	default:
		return fmt.Errorf("unknown tab broadcast %q", sessionCfg.TabBroadcast)
	}

	if f.kafkaProducer != nil {
		deps.AuditSinks = append(deps.AuditSinks, security.NewKafkaSink(f.kafkaProducer, f.config.Kafka.AuditTopic))
	}
	if f.esClient != nil {
		deps.AuditSinks = append(deps.AuditSinks, security.NewElasticSink(f.esClient, f.config.Elasticsearch.AuditIndex))
	}

	cfg := security.DefaultConfig()
	cfg.SessionTimeout = sessionCfg.Timeout
	cfg.MaxLoginAttempts = sessionCfg.MaxLoginAttempts
	cfg.LockoutDuration = sessionCfg.LockoutDuration
	cfg.AttemptWindow = sessionCfg.AttemptWindow
	cfg.TokenBytes = sessionCfg.TokenBytes
	cfg.DevtoolsInterval = sessionCfg.DevtoolsInterval
	cfg.BaseURL = f.config.APIBaseURL()

	manager, err := security.NewManager(cfg, deps)
	if err != nil {
		return err
	}
	f.securityManager = manager
	return nil
}

func (f *Factory) initializeAPI() {
	apiCfg := f.config.API
	f.apiClient = apiclient.New(apiclient.Config{
		BaseURL:       f.config.APIBaseURL(),
		Timeout:       apiCfg.Timeout,
		RetryAttempts: apiCfg.RetryAttempts,
		RetryBase:     apiCfg.RetryBase,
		CacheTTL:      apiCfg.CacheTTL,
		ProbeInterval: apiCfg.ProbeInterval,
	},
		apiclient.WithTokenSource(f.securityManager),
		apiclient.WithCSRFSource(f.securityManager),
		apiclient.WithSessionStore(f.securityManager),
		apiclient.WithStore(f.apiStore),
		apiclient.WithLogger(util.Get()),
	)
	f.authService = service.NewAuthService(f.securityManager, f.apiClient, util.Get())
}

// Start runs the session monitors and, when configured, the connectivity probe.
func (f *Factory) Start(ctx context.Context) error {
	if err := f.securityManager.Start(ctx); err != nil {
		return err
	}
	f.apiClient.StartProbe(ctx)
	return nil
}

// MockHandler builds the in-memory backend used for local development.
func (f *Factory) MockHandler() (http.Handler, error) {
	backend := handler.NewBackend(f.config.Session.Timeout)
	if f.config.Mock.SeedData {
		if err := backend.Seed(f.config.Mock.DemoEmail, f.config.Mock.DemoPassword); err != nil {
			return nil, fmt.Errorf("seed mock backend: %w", err)
		}
	}
	h := handler.NewHandler(backend, util.Get())
	return handler.NewRouter(h, handler.RouterOptions{
		RequireTLS:     f.config.IsProduction(),
		RequestTimeout: f.config.Server.WriteTimeout,
	}, util.Get()), nil
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else if f.config.Redis.Enabled {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	} else if f.config.Elasticsearch.Enabled {
		healthErrors["elasticsearch"] = fmt.Errorf("elasticsearch client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.securityManager == nil {
		healthErrors["security"] = fmt.Errorf("security manager not initialized")
	}
	if !f.apiClient.IsOnline() {
		healthErrors["api"] = fmt.Errorf("api %s unreachable", f.apiClient.BaseURL())
	}

	return healthErrors
}

// IsHealthy ignores Kafka, which only carries best-effort audit copies.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

// closeClients releases the external service clients and forgets them.
func (f *Factory) closeClients() {
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.Close(); err != nil {
			util.Error("Failed to close Kafka producer", util.ErrorField(err))
		} else {
			util.Info("Kafka producer closed")
		}
		f.kafkaProducer = nil
	}

	if f.redisClient != nil {
		if err := f.redisClient.Close(); err != nil {
			util.Error("Failed to close Redis client", util.ErrorField(err))
		} else {
			util.Info("Redis client closed")
		}
		f.redisClient = nil
	}

	// The Elasticsearch client holds no connections of its own.
	f.esClient = nil
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.securityManager != nil {
			f.securityManager.Stop()
		}

		f.closeClients()

		for _, store := range []storage.Store{f.tabStore, f.durableStore} {
			if mem, ok := store.(*storage.MemoryStore); ok {
				mem.Close()
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) SecurityManager() *security.Manager {
	return f.securityManager
}

func (f *Factory) APIClient() *apiclient.Client {
	return f.apiClient
}

func (f *Factory) AuthService() *service.AuthService {
	return f.authService
}

func (f *Factory) DurableStore() storage.Store {
	return f.durableStore
}
