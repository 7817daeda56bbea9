// Package factory builds the process dependency graph and owns its lifecycle.
package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"phone-auth-service/internal/audit"
	"phone-auth-service/internal/bucketing"
	"phone-auth-service/internal/client"
	"phone-auth-service/internal/config"
	"phone-auth-service/internal/encryption"
	cache "phone-auth-service/internal/repository/redis"
	"phone-auth-service/internal/repository/scylla"
	"phone-auth-service/internal/service"
	"phone-auth-service/internal/sms"
	"phone-auth-service/internal/tls"
	"phone-auth-service/internal/util"
)

var errNotInitialized = errors.New("not initialized")

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	turnstile        *client.TurnstileClient

	// Managers
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	store          *cache.KVStore
	userRepository *scylla.UserRepository
	smsSender      sms.Sender
	dispatcher     *audit.Dispatcher
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory loads configuration and builds every dependency. Redis and
// ScyllaDB are required. Audit backends are optional outside production.
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := util.Direct(util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format))

	f := &Factory{
		config: cfg,
		logger: logger,
	}

	if cfg.UsesOTPSecretFallback() {
		logger.Warn("OTP_HMAC_SECRET is not set; OTP hashes are keyed with the JWT secret")
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg.Server, cfg.IsProduction(), logger)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := f.initializeClients(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeManagers(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	f.initializeAudit(ctx)

	f.serviceFactory = service.NewServiceFactory(
		cfg,
		f.store,
		f.turnstile,
		f.smsSender,
		f.userRepository,
		f.events(),
		logger,
	)

	logger.Info("Factory initialized successfully",
		zap.String("environment", cfg.Environment),
		zap.Bool("tls_enabled", cfg.Server.EnableTLS),
		zap.Bool("kms_enabled", f.encryptionManager.UsesKMS()),
		zap.String("sms_provider", cfg.SMS.Provider),
		zap.Bool("audit_enabled", f.dispatcher != nil),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
	)

	return f, nil
}

func (f *Factory) initializeClients(ctx context.Context) error {
	redisClient, err := client.NewRedisClient(f.config, f.logger)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	f.store = cache.NewKVStore(redisClient.Client, f.config.Redis.CommandTimeout, f.logger)

	scyllaClient, err := scylla.NewScyllaClient(f.config, f.logger)
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient
	if err := scyllaClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("scylla health check: %w", err)
	}

	f.turnstile = client.NewTurnstileClient(
		f.config.Turnstile.SecretKey,
		f.config.Turnstile.VerifyURL,
		f.config.Turnstile.Timeout,
		f.logger,
	)
	if f.config.Turnstile.SecretKey == "" {
		f.logger.Warn("Turnstile secret is empty; every bot challenge will be rejected")
	}

	return nil
}

// initializeManagers builds encryption, bucketing, SMS delivery and the user
// directory. AWS configuration is loaded only when KMS or SNS is in use.
func (f *Factory) initializeManagers(ctx context.Context) error {
	var awsCfg *aws.Config
	if f.config.KMS.Enabled || f.config.SMS.Provider == "sns" {
		loaded, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.AWS.Region))
		if err != nil {
			return fmt.Errorf("aws config: %w", err)
		}
		awsCfg = &loaded
	}

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		kmsClient = kms.NewFromConfig(*awsCfg, func(o *kms.Options) {
			if f.config.AWS.Endpoint != "" {
				o.BaseEndpoint = aws.String(f.config.AWS.Endpoint)
			}
		})
		f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsClient)
	} else {
		f.encryptionManager = encryption.NewEncryptionManager(f.config, nil)
		if f.config.IsProduction() {
			f.logger.Warn("KMS is disabled; phone numbers are sealed with unwrapped data keys")
		}
	}

	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	switch f.config.SMS.Provider {
	case "sns":
		snsClient := sns.NewFromConfig(*awsCfg, func(o *sns.Options) {
			if f.config.AWS.Endpoint != "" {
				o.BaseEndpoint = aws.String(f.config.AWS.Endpoint)
			}
		})
		f.smsSender = sms.NewSNSSender(snsClient, f.config.SMS.SenderID)
	case "log", "":
		if f.config.IsProduction() {
			return fmt.Errorf("%w: sms.provider must be sns in production", config.ErrConfigRequired)
		}
		f.smsSender = sms.NewLogSender(f.logger)
	default:
		return fmt.Errorf("unknown sms provider %q", f.config.SMS.Provider)
	}

	f.userRepository = scylla.NewUserRepository(
		f.scyllaClient,
		f.encryptionManager,
		f.bucketingManager,
		f.logger,
	)

	f.logger.Info("Managers initialized",
		zap.Bool("kms", f.encryptionManager.UsesKMS()),
		zap.Int("user_buckets", f.bucketingManager.UserBuckets()),
		zap.String("sms_provider", f.config.SMS.Provider),
	)

	return nil
}

// initializeAudit connects the enabled audit backends. A backend that fails
// to connect is skipped; the log sink is always present.
func (f *Factory) initializeAudit(ctx context.Context) {
	if !f.config.Audit.Enabled {
		return
	}

	sinks := audit.MultiSink{audit.NewLogSink(f.logger)}

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, f.logger); err != nil {
			f.logger.Warn("Kafka producer initialization failed - proceeding without Kafka", zap.Error(err))
		} else {
			f.kafkaProducer = producer
			sinks = append(sinks, audit.NewKafkaSink(producer))
		}
	}

	if f.config.Clickhouse.Enabled {
		if ch, err := client.NewClickHouseClient(f.config, f.logger); err != nil {
			f.logger.Warn("ClickHouse initialization failed - proceeding without ClickHouse", zap.Error(err))
		} else {
			f.clickhouseClient = ch
			sink := audit.NewClickHouseSink(ch, f.config.Clickhouse.Table)
			if err := sink.EnsureTable(ctx); err != nil {
				f.logger.Warn("ClickHouse audit table unavailable", zap.Error(err))
			} else {
				sinks = append(sinks, sink)
			}
		}
	}

	if f.config.Elasticsearch.Enabled {
		if es, err := client.NewElasticsearchClient(f.config, f.logger); err != nil {
			f.logger.Warn("Elasticsearch initialization failed - proceeding without Elasticsearch", zap.Error(err))
		} else {
			f.esClient = es
			sinks = append(sinks, audit.NewElasticsearchSink(es, f.config.Elasticsearch.Index))
		}
	}

	f.dispatcher = audit.NewDispatcher(f.config.Audit.BufferSize, sinks, f.logger)
	f.logger.Info("Audit dispatcher started", zap.Int("sinks", len(sinks)))
}

// events keeps a disabled audit trail a nil interface rather than a typed
// nil pointer.
func (f *Factory) events() audit.Emitter {
	if f.dispatcher == nil {
		return nil
	}
	return f.dispatcher
}

// HealthCheck probes every initialized dependency concurrently. Required
// dependencies that were never built report errNotInitialized.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var (
		mu      sync.Mutex
		results = make(map[string]error)
		g       errgroup.Group
	)

	check := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			err := fn(ctx)
			mu.Lock()
			results[name] = err
			mu.Unlock()
			return nil
		})
	}

	if f.redisClient != nil {
		check("redis", f.redisClient.HealthCheck)
	} else {
		results["redis"] = fmt.Errorf("redis client %w", errNotInitialized)
	}

	if f.scyllaClient != nil {
		check("scylla", f.scyllaClient.HealthCheck)
	} else {
		results["scylla"] = fmt.Errorf("scylla client %w", errNotInitialized)
	}

	if f.kafkaProducer != nil {
		check("kafka", f.kafkaProducer.HealthCheck)
	}
	if f.clickhouseClient != nil {
		check("clickhouse", f.clickhouseClient.HealthCheck)
	}
	if f.esClient != nil {
		check("elasticsearch", f.esClient.HealthCheck)
	}

	_ = g.Wait()
	return results
}

// IsHealthy ignores the audit backends, which never block requests.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	results := f.HealthCheck(ctx)
	return results["redis"] == nil && results["scylla"] == nil
}

type redisPoolStats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
}

type runtimeStats struct {
	OTP          cache.OTPStats  `json:"otp"`
	RedisPool    *redisPoolStats `json:"redis_pool,omitempty"`
	AuditDropped uint64          `json:"audit_dropped"`
}

// Stats reports OTP key counts, Redis pool usage and dropped audit events.
func (f *Factory) Stats(ctx context.Context) any {
	stats := runtimeStats{AuditDropped: f.dispatcher.Dropped()}
	if f.serviceFactory != nil {
		stats.OTP = f.serviceFactory.OTPService().Stats(ctx)
	}
	if f.redisClient != nil {
		ps := f.redisClient.PoolStats()
		stats.RedisPool = &redisPoolStats{
			Hits:       ps.Hits,
			Misses:     ps.Misses,
			Timeouts:   ps.Timeouts,
			TotalConns: ps.TotalConns,
			IdleConns:  ps.IdleConns,
		}
	}
	return stats
}

// Close releases dependencies in reverse construction order. Safe to call
// more than once and on a partially built factory.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		f.logger.Info("Shutting down factory...")

		if f.dispatcher != nil {
			f.dispatcher.Close()
			f.logger.Info("Audit dispatcher drained", zap.Uint64("dropped", f.dispatcher.Dropped()))
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				f.logger.Error("Failed to close ClickHouse client", zap.Error(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				f.logger.Error("Failed to close Kafka producer", zap.Error(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			f.logger.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				f.logger.Error("Failed to close Redis client", zap.Error(err))
			}
		}

		f.logger.Info("Factory shutdown completed")
		util.Sync()
	})
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

// TLSManager is nil when TLS is disabled.
func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}
