// Command ecrd runs the entity store daemon.
//
// At start-up it bootstraps the Neo4j schema, registers the built-in type
// catalog (and an optional extra catalog read from a blob bucket), and then
// serves the admin endpoint while consuming metric messages into InfluxDB.
// Entity changes are published to a pubsub topic when one is configured.
//
// Usage:
//
//	ecrd -config /etc/ecr/ecrd.yaml
//
// Pubsub and blob URLs select their driver by scheme: mem://, nats:// and
// rabbit:// for pubsub; file://, mem:// and s3:// for blobs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/danielorbach/go-component"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub"
	_ "gocloud.dev/pubsub/natspubsub"
	_ "gocloud.dev/pubsub/rabbitpubsub"
	"golang.org/x/sync/errgroup"

	"github.com/go-digitaltwin/go-ecr"
	"github.com/go-digitaltwin/go-ecr/neo4jgraph"
	"github.com/go-digitaltwin/go-ecr/timeseries"
	"github.com/go-digitaltwin/go-ecr/timeseries/influxdb"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	adminAddress := flag.String("admin-address", "", "override the configured address of the admin endpoint")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ecrd:", err)
		os.Exit(2)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *adminAddress != "" {
		cfg.Admin.Address = *adminAddress
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "ecrd:", err)
		os.Exit(2)
	}

	logger := newLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = component.InjectLogger(ctx, logger)

	if err := run(ctx, cfg); err != nil {
		logger.Error("Daemon stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("Daemon stopped")
}

func run(ctx context.Context, cfg Config) error {
	logger := component.Logger(ctx)

	driver, err := openNeo4j(ctx, cfg.Neo4j)
	if err != nil {
		return err
	}
	defer func() { _ = driver.Close(context.Background()) }()

	graph := neo4jgraph.New(driver, cfg.Neo4j.Database)
	registry := ecr.NewTypeRegistry(graph)
	if err := loadCatalogs(ctx, registry, cfg.Catalog); err != nil {
		return err
	}

	var opts []ecr.Option
	if cfg.Events.Topic != "" {
		topic, err := pubsub.OpenTopic(ctx, cfg.Events.Topic)
		if err != nil {
			return fmt.Errorf("open events topic: %w", err)
		}
		defer func() { _ = topic.Shutdown(context.Background()) }()
		opts = append(opts, ecr.WithNotifier(ecr.NewTopicNotifier(topic)))
		logger.Info("Publishing entity changes", "topic", cfg.Events.Topic)
	}
	store := ecr.NewEntityStore(graph, registry, opts...)

	checks := []healthCheck{{name: "neo4j", check: driver.VerifyConnectivity}}
	api := inspector{store: store}

	var (
		writer *timeseries.Writer
		sub    *pubsub.Subscription
	)
	if cfg.InfluxDB != nil {
		metrics := influxdb.New(*cfg.InfluxDB)
		defer metrics.Close()
		checks = append(checks, healthCheck{name: "influxdb", check: metrics.Ping})
		api.metrics = metrics

		writer = timeseries.NewWriter(ctx, metrics, cfg.Writer)
		defer func() {
			// The signal context is done by now; the final flush gets a fresh one.
			ctx, cancel := context.WithTimeout(context.Background(), writer.Config().FlushTimeout)
			defer cancel()
			if err := writer.Close(ctx); err != nil {
				logger.Error("Failed to flush buffered points", "error", err, "dropped", writer.Len())
			}
		}()

		if cfg.Ingest.Subscription != "" {
			sub, err = pubsub.OpenSubscription(ctx, cfg.Ingest.Subscription)
			if err != nil {
				return fmt.Errorf("open ingest subscription: %w", err)
			}
			defer func() { _ = sub.Shutdown(context.Background()) }()
		}
	}

	admin := newAdmin(newRegistry(writer), checks...)
	api.register(admin)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Admin endpoint listening", "address", cfg.Admin.Address)
		if err := admin.Start(cfg.Admin.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin endpoint: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout)
		defer cancel()
		return admin.Shutdown(ctx)
	})
	if sub != nil {
		g.Go(func() error {
			logger.Info("Ingesting metrics", "subscription", cfg.Ingest.Subscription)
			return timeseries.Consume(gctx, writer, sub)
		})
	}
	return g.Wait()
}

func openNeo4j(ctx context.Context, cfg Neo4jConfig) (neo4j.DriverWithContext, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connect to neo4j: %w", err)
	}

	if cfg.CreateDatabase {
		err = neo4jgraph.BootstrapDatabase(ctx, driver, cfg.Database)
	} else {
		err = neo4jgraph.BootstrapSchema(ctx, driver, cfg.Database)
	}
	if err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("bootstrap neo4j: %w", err)
	}
	if cfg.RewriteLegacy {
		if err := neo4jgraph.RewriteLegacyProperties(ctx, driver, cfg.Database); err != nil {
			_ = driver.Close(ctx)
			return nil, fmt.Errorf("rewrite legacy properties: %w", err)
		}
	}
	return driver, nil
}

// loadCatalogs registers the built-in catalog, then the configured one, which
// therefore overrides built-in types of the same name.
func loadCatalogs(ctx context.Context, registry *ecr.TypeRegistry, cfg CatalogConfig) error {
	if err := ecr.LoadCatalog(ctx, registry, ecr.BuiltinCatalog()); err != nil {
		return fmt.Errorf("load built-in catalog: %w", err)
	}
	if cfg.Bucket == "" {
		return nil
	}
	bucket, err := blob.OpenBucket(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("open catalog bucket: %w", err)
	}
	defer func() { _ = bucket.Close() }()
	c, err := ecr.ReadCatalogBlob(ctx, bucket, cfg.Key)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	if err := ecr.LoadCatalog(ctx, registry, c); err != nil {
		return fmt.Errorf("load catalog %q: %w", cfg.Key, err)
	}
	return nil
}
