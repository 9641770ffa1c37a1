package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/db"
	"github.com/Ramsey-B/fern/internal/app"
	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/startup"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/internal/tracing/exporters"
	"github.com/Ramsey-B/fern/pkg/blob"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/projection"
	fernredis "github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/snapshot"
)

// runtime owns the connections a command opens and closes them in reverse order.
type runtime struct {
	cfg      *config.Config
	logger   ectologger.Logger
	syncLogs func() error

	db       database.DB
	redis    *fernredis.Client
	producer *kafka.Producer
	graph    *projection.Client
	blob     blob.Store
	services *app.Services

	startup *startup.Startup
	closers []func(ctx context.Context) error
}

func newLogger(cfg *config.Config) (ectologger.Logger, func() error, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	zapLogger = zapLogger.With(zap.String("app", cfg.AppName))
	return zapadapter.NewZapEctoLogger(zapLogger, nil), zapLogger.Sync, nil
}

// runtimeOptions selects which optional backends a command needs.
type runtimeOptions struct {
	Migrate  bool
	Blob     bool
	Emitters bool
}

// newRuntime connects every dependency the command needs, retrying through
// the startup manager, and wires the service graph on top.
func newRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	logger, syncLogs, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		syncLogs: syncLogs,
		startup:  startup.NewStartup(logger, cfg.StartupMaxAttempts),
	}

	rt.startup.AddDependency(startup.Func{
		Name: "database",
		OnStart: func(ctx context.Context) error {
			conn, err := database.Open(ctx, database.OpenConfig{
				Driver:          cfg.DatabaseDriver,
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				User:            cfg.DatabaseUserName,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				Path:            cfg.DatabasePath,
				MaxOpenConns:    cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}, logger)
			if err != nil {
				return err
			}
			rt.db = conn
			return nil
		},
		OnStop: func(context.Context) error {
			return rt.db.Close()
		},
	})

	if opts.Migrate {
		rt.startup.AddDependency(startup.Func{
			Name:     "migrations",
			Requires: []string{"database"},
			OnStart: func(context.Context) error {
				return rt.migrate()
			},
		})
	}

	if cfg.SnapshotCache == "redis" || cfg.IntegrityScanLockEnabled {
		rt.startup.AddDependency(startup.Func{
			Name: "redis",
			OnStart: func(ctx context.Context) error {
				client, err := fernredis.NewClient(ctx, fernredis.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, logger)
				if err != nil {
					return err
				}
				rt.redis = client
				return nil
			},
			OnStop: func(context.Context) error {
				return rt.redis.Close()
			},
		})
	}

	if opts.Blob {
		rt.startup.AddDependency(startup.Func{
			Name: "blob",
			OnStart: func(ctx context.Context) error {
				store, err := blob.New(ctx, blob.Config{
					Backend:            cfg.BlobBackend,
					Dir:                cfg.BlobDir,
					S3Bucket:           cfg.BlobS3Bucket,
					S3Region:           cfg.BlobS3Region,
					S3Endpoint:         cfg.BlobS3Endpoint,
					S3AccessKey:        cfg.BlobS3AccessKey,
					S3SecretKey:        cfg.BlobS3SecretKey,
					GCSBucket:          cfg.BlobGCSBucket,
					GCSCredentialsFile: cfg.BlobGCSCredentialsFile,
				}, logger)
				if err != nil {
					return err
				}
				rt.blob = store
				return nil
			},
			OnStop: func(context.Context) error {
				return rt.blob.Close()
			},
		})
	}

	if opts.Emitters && cfg.GraphProjectionEnabled {
		rt.startup.AddDependency(startup.Func{
			Name: "graph",
			OnStart: func(ctx context.Context) error {
				client, err := projection.NewClient(projection.Config{
					Host:     cfg.GraphDBHost,
					Port:     cfg.GraphDBPort,
					Username: cfg.GraphDBUser,
					Password: cfg.GraphDBPassword,
				}, logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return err
				}
				rt.graph = client
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return rt.graph.Close(ctx)
			},
		})
	}

	if err := rt.startup.Start(ctx); err != nil {
		_ = rt.startup.Stop(ctx)
		return nil, err
	}
	rt.closers = append(rt.closers, rt.startup.Stop)

	if opts.Emitters && cfg.KafkaEnabled {
		rt.producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		rt.closers = append(rt.closers, func(context.Context) error { return rt.producer.Close() })
	}

	rt.services = app.NewServices(rt.db, logger, app.Options{
		Blob:         rt.blob,
		Cache:        rt.cache(),
		Emitter:      rt.emitter(),
		AcyclicTypes: acyclicTypes(cfg.AcyclicRelationshipTypes),
	})

	return rt, nil
}

func (rt *runtime) migrate() error {
	return database.NewMigrationService(rt.logger, &database.MigrationConfig{
		Migrations:   db.Migrations,
		Version:      rt.cfg.DatabaseMigrationVersion,
		Force:        rt.cfg.DatabaseMigrationForce,
		AutoRollback: rt.cfg.DatabaseMigrationAutoRollback,
	}).Migrate(rt.db)
}

func (rt *runtime) cache() snapshot.Cache {
	switch rt.cfg.SnapshotCache {
	case "redis":
		return snapshot.NewRedisCache(rt.redis, rt.cfg.SnapshotCacheTTL)
	case "none":
		return snapshot.NoopCache{}
	default:
		return snapshot.NewMemoryCache(rt.cfg.SnapshotCacheMaxEntries)
	}
}

func (rt *runtime) emitter() events.Emitter {
	var emitters events.Multi
	if rt.producer != nil {
		emitters = append(emitters, events.NewKafkaEmitter(rt.producer, rt.logger))
	}
	if rt.graph != nil {
		emitters = append(emitters, projection.NewProjector(rt.graph, rt.logger))
	}
	if len(emitters) == 0 {
		return events.Noop{}
	}
	return emitters
}

// checks lists the readiness probes for every backend this runtime opened.
func (rt *runtime) checks() map[string]health.Pinger {
	checks := map[string]health.Pinger{}
	if rt.redis != nil {
		checks["redis"] = health.PingFunc(rt.redis.Ping)
	}
	if rt.graph != nil {
		checks["graph"] = health.PingFunc(rt.graph.VerifyConnectivity)
	}
	return checks
}

// seedSchemas applies the configured schema file, if any.
func (rt *runtime) seedSchemas(ctx context.Context) error {
	if rt.cfg.SchemaSeedFile == "" {
		return nil
	}
	file, err := schema.LoadFile(rt.cfg.SchemaSeedFile)
	if err != nil {
		return err
	}
	applied, err := rt.services.Schemas.Apply(ctx, file)
	if err != nil {
		return err
	}
	rt.logger.WithContext(ctx).WithFields(map[string]any{
		"file":    rt.cfg.SchemaSeedFile,
		"schemas": len(applied),
	}).Info("Applied schema seed file")
	return nil
}

// setupTracing installs the OTLP exporter when tracing is enabled.
func (rt *runtime) setupTracing(ctx context.Context) error {
	if !rt.cfg.TracingEnabled {
		return nil
	}
	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: rt.cfg.TracingOTLPEndpoint,
		Protocol: rt.cfg.TracingOTLPProtocol,
		Insecure: rt.cfg.TracingOTLPInsecure,
	})
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, tracing.Setup(rt.cfg.AppName, exporter))
	return nil
}

func (rt *runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.logger.WithContext(ctx).WithError(err).Warn("Failed to close dependency")
		}
	}
	_ = rt.syncLogs()
}

func acyclicTypes(names []string) []models.RelationshipType {
	types := make([]models.RelationshipType, 0, len(names))
	for _, name := range names {
		if name != "" {
			types = append(types, models.RelationshipType(name))
		}
	}
	return types
}
