// Package main runs the oracle adapter service: it loads registered
// adapters from storage, serves the REST API, and refreshes TWAP adapters
// from the upstream feed. Every external dependency degrades to an
// in-memory stand-in when its configuration is absent, so the binary also
// runs self-contained for local development.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"

	httpadapter "github.com/archon-research/paymaster-oracle/internal/adapters/inbound/http"
	"github.com/archon-research/paymaster-oracle/internal/adapters/outbound/ethtx"
	"github.com/archon-research/paymaster-oracle/internal/adapters/outbound/hermes"
	"github.com/archon-research/paymaster-oracle/internal/adapters/outbound/memory"
	"github.com/archon-research/paymaster-oracle/internal/adapters/outbound/postgres"
	"github.com/archon-research/paymaster-oracle/internal/adapters/outbound/pyth"
	redisadapter "github.com/archon-research/paymaster-oracle/internal/adapters/outbound/redis"
	snsadapter "github.com/archon-research/paymaster-oracle/internal/adapters/outbound/sns"
	sqsadapter "github.com/archon-research/paymaster-oracle/internal/adapters/outbound/sqs"
	"github.com/archon-research/paymaster-oracle/internal/adapters/outbound/telemetry"
	"github.com/archon-research/paymaster-oracle/internal/pkg/blockchain"
	"github.com/archon-research/paymaster-oracle/internal/pkg/blockchain/multicall"
	"github.com/archon-research/paymaster-oracle/internal/pkg/env"
	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
	"github.com/archon-research/paymaster-oracle/internal/services/adapter_factory"
	"github.com/archon-research/paymaster-oracle/internal/services/refresh_worker"
	"github.com/archon-research/paymaster-oracle/internal/services/shared"

	snsclient "github.com/aws/aws-sdk-go-v2/service/sns"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	dbURL        string
	redisAddr    string
	queueURL     string
	topicARN     string
	feedSource   string
	ethRPCURL    string
	pythContract string
	hermesURL    string
	deployer     [20]byte
	apiAddr      string
	healthAddr   string
	otlpEndpoint string
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("oracled", flag.ContinueOnError)
	dbURL := fs.String("db", "", "PostgreSQL connection URL (empty: in-memory registry)")
	apiAddr := fs.String("api", "", "API listen address")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		dbURL:        *dbURL,
		redisAddr:    env.Get("REDIS_ADDR", ""),
		queueURL:     env.Get("AWS_SQS_QUEUE_URL", ""),
		topicARN:     env.Get("AWS_SNS_TOPIC_ARN", ""),
		feedSource:   env.Get("FEED_SOURCE", "hermes"),
		ethRPCURL:    env.Get("ETH_RPC_URL", ""),
		pythContract: env.Get("PYTH_CONTRACT_ADDRESS", ""),
		hermesURL:    env.Get("HERMES_URL", ""),
		apiAddr:      *apiAddr,
		healthAddr:   env.Get("HEALTH_ADDR", ":8080"),
		otlpEndpoint: env.Get("OTLP_ENDPOINT", ""),
	}
	if cfg.dbURL == "" {
		cfg.dbURL = env.Get("DATABASE_URL", "")
	}
	if cfg.apiAddr == "" {
		cfg.apiAddr = env.Get("API_ADDR", ":8081")
	}

	switch cfg.feedSource {
	case "hermes", "pyth":
	default:
		return cliConfig{}, fmt.Errorf("FEED_SOURCE must be hermes or pyth, got %q", cfg.feedSource)
	}
	if cfg.feedSource == "pyth" {
		if cfg.ethRPCURL == "" {
			return cliConfig{}, fmt.Errorf("ETH_RPC_URL is required for the pyth feed source")
		}
		if cfg.pythContract == "" {
			return cliConfig{}, fmt.Errorf("PYTH_CONTRACT_ADDRESS is required for the pyth feed source")
		}
	}

	if raw := env.Get("DEPLOYER_ADDRESS", ""); raw != "" {
		decoded, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
		if err != nil || len(decoded) != 20 {
			return cliConfig{}, fmt.Errorf("DEPLOYER_ADDRESS must be a 20-byte hex address")
		}
		copy(cfg.deployer[:], decoded)
	}

	return cfg, nil
}

func run(ctx context.Context, args []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	logger.Info("starting oracle adapter service",
		"feedSource", cfg.feedSource,
		"api", cfg.apiAddr,
	)

	// Telemetry
	metricsShutdown, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    "oracled",
		ServiceVersion: env.Get("SERVICE_VERSION", "dev"),
		Environment:    env.Get("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.otlpEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		if err := metricsShutdown(context.Background()); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	if env.Get("TRACING_ENABLED", "false") == "true" {
		tracerCfg := telemetry.TracerConfigDefaults()
		tracerCfg.ServiceVersion = env.Get("SERVICE_VERSION", tracerCfg.ServiceVersion)
		tracerCfg.Environment = env.Get("ENVIRONMENT", tracerCfg.Environment)
		tracerCfg.JaegerEndpoint = env.Get("JAEGER_ENDPOINT", tracerCfg.JaegerEndpoint)
		tracerShutdown, err := telemetry.InitTracer(ctx, tracerCfg)
		if err != nil {
			return fmt.Errorf("initializing tracer: %w", err)
		}
		defer func() {
			if err := tracerShutdown(context.Background()); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	appTelemetry, err := shared.NewAppTelemetry()
	if err != nil {
		return fmt.Errorf("creating telemetry: %w", err)
	}

	// Storage
	var repo outbound.AdapterRepository
	if cfg.dbURL != "" {
		pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.dbURL))
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()

		repo, err = postgres.NewAdapterRepository(pool, logger)
		if err != nil {
			return fmt.Errorf("creating repository: %w", err)
		}
		logger.Info("PostgreSQL connected")
	} else {
		repo = memory.NewAdapterRepository()
		logger.Warn("DATABASE_URL not set, using in-memory registry")
	}

	// Quote cache
	var cache outbound.QuoteCache
	if cfg.redisAddr != "" {
		redisCfg := redisadapter.ConfigDefaults()
		redisCfg.Addr = cfg.redisAddr
		redisCache, err := redisadapter.NewQuoteCache(redisCfg, logger)
		if err != nil {
			return fmt.Errorf("creating quote cache: %w", err)
		}
		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("pinging redis: %w", err)
		}
		cache = redisCache
		logger.Info("Redis connected", "addr", cfg.redisAddr)
	} else {
		cache = memory.NewQuoteCache(5 * time.Minute)
		logger.Warn("REDIS_ADDR not set, using in-memory quote cache")
	}
	defer cache.Close()

	// Events and refresh queue
	events, consumer, memQueue, err := buildMessaging(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer events.Close()

	// Upstream feed
	feed, err := buildFeed(cfg, logger)
	if err != nil {
		return err
	}

	// Application services
	factory, err := adapter_factory.NewService(adapter_factory.Config{
		Deployer: cfg.deployer,
		Logger:   logger,
	}, repo, feed, events)
	if err != nil {
		return fmt.Errorf("creating adapter factory: %w", err)
	}

	if err := factory.LoadEnabled(ctx); err != nil {
		return fmt.Errorf("loading adapters: %w", err)
	}

	refreshInterval, err := time.ParseDuration(env.Get("REFRESH_INTERVAL", "15s"))
	if err != nil {
		return fmt.Errorf("parsing REFRESH_INTERVAL: %w", err)
	}

	worker, err := refresh_worker.NewService(refresh_worker.Config{
		RefreshInterval: refreshInterval,
		Logger:          logger,
	}, factory, consumer, cache, appTelemetry)
	if err != nil {
		return fmt.Errorf("creating refresh worker: %w", err)
	}

	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("starting refresh worker: %w", err)
	}

	// Live price pushes. With a local queue and a Hermes websocket endpoint,
	// stream updates become refresh requests so TWAP histories advance as
	// soon as the upstream publishes, not just on the periodic ticker.
	if cfg.feedSource == "hermes" && memQueue != nil {
		if wsURL := env.Get("HERMES_WS_URL", ""); wsURL != "" {
			stream, err := startStreamBridge(ctx, wsURL, factory, memQueue, logger)
			if err != nil {
				return fmt.Errorf("starting hermes stream: %w", err)
			}
			if stream != nil {
				defer stream.Close()
			}
		}
	}

	// HTTP surface
	var shuttingDown atomic.Bool

	handler, err := httpadapter.NewHandler(factory, cache, logger)
	if err != nil {
		return fmt.Errorf("creating HTTP handler: %w", err)
	}
	apiServer := httpadapter.NewServer(httpadapter.ServerConfig{
		Addr:   cfg.apiAddr,
		Logger: logger,
	}, handler)
	apiServer.Start()

	healthServer := httpadapter.NewHealthServer(httpadapter.HealthServerConfig{
		Addr:   cfg.healthAddr,
		Logger: logger,
	}, worker, &shuttingDown)
	healthServer.Start()

	logger.Info("service started")

	<-ctx.Done()
	logger.Info("shutting down...")
	shuttingDown.Store(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer shutdownCancel()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		if err := apiServer.Shutdown(10 * time.Second); err != nil {
			logger.Error("error stopping API server", "error", err)
		}
		if err := worker.Stop(); err != nil {
			logger.Error("error stopping refresh worker", "error", err)
		}
		if err := healthServer.Shutdown(5 * time.Second); err != nil {
			logger.Error("error stopping health server", "error", err)
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timed out")
	}

	return nil
}

// buildMessaging wires the SNS event sink and SQS refresh queue, falling
// back to in-memory stand-ins when either is unconfigured. The returned
// memory queue is non-nil only on the fallback path; the stream bridge
// needs it to enqueue refresh requests locally.
func buildMessaging(ctx context.Context, cfg cliConfig, logger *slog.Logger) (outbound.EventSink, outbound.QueueConsumer, *memory.QueueConsumer, error) {
	var (
		events   outbound.EventSink
		consumer outbound.QueueConsumer
		memQueue *memory.QueueConsumer
	)

	needAWS := cfg.topicARN != "" || cfg.queueURL != ""
	var awsCfg aws.Config
	if needAWS {
		loaded, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(env.Get("AWS_REGION", "eu-west-1")),
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading AWS config: %w", err)
		}
		awsCfg = loaded
	}

	if cfg.topicARN != "" {
		snsCfg := snsadapter.ConfigDefaults()
		snsCfg.TopicARN = cfg.topicARN
		snsCfg.Logger = logger
		sink, err := snsadapter.NewEventSink(snsclient.NewFromConfig(awsCfg), snsCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating SNS event sink: %w", err)
		}
		events = sink
		logger.Info("SNS event sink configured", "topic", cfg.topicARN)
	} else {
		events = memory.NewEventSink()
		logger.Warn("AWS_SNS_TOPIC_ARN not set, events stay in memory")
	}

	if cfg.queueURL != "" {
		var sqsOptFns []func(*sqs.Options)
		if endpoint := env.Get("AWS_SQS_ENDPOINT", ""); endpoint != "" {
			sqsOptFns = append(sqsOptFns, func(o *sqs.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			})
		}
		c, err := sqsadapter.NewConsumerWithOptions(awsCfg, sqsadapter.Config{
			QueueURL: cfg.queueURL,
		}, logger, sqsOptFns...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating SQS consumer: %w", err)
		}
		consumer = c
		logger.Info("SQS refresh queue configured", "queue", cfg.queueURL)
	} else {
		memQueue = memory.NewQueueConsumer()
		consumer = memQueue
		logger.Warn("AWS_SQS_QUEUE_URL not set, refresh queue stays in memory")
	}

	return events, consumer, memQueue, nil
}

// startStreamBridge subscribes to the Hermes websocket for every loaded TWAP
// adapter and turns each push into a local refresh request. Returns nil when
// no TWAP adapter is registered yet.
func startStreamBridge(
	ctx context.Context,
	wsURL string,
	factory *adapter_factory.Service,
	queue *memory.QueueConsumer,
	logger *slog.Logger,
) (*hermes.Stream, error) {
	services := factory.TwapServices()
	if len(services) == 0 {
		logger.Info("no TWAP adapters loaded, skipping stream bridge")
		return nil, nil
	}

	feedIDs := make([][32]byte, 0, len(services))
	byFeed := make(map[[32]byte][][20]byte)
	for _, svc := range services {
		feedID := svc.Adapter().FeedID
		if _, seen := byFeed[feedID]; !seen {
			feedIDs = append(feedIDs, feedID)
		}
		byFeed[feedID] = append(byFeed[feedID], svc.Adapter().Address)
	}

	stream, err := hermes.NewStream(hermes.StreamConfig{
		WebSocketURL: wsURL,
		FeedIDs:      feedIDs,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	updates, err := stream.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	go func() {
		for update := range updates {
			for _, address := range byFeed[update.FeedID] {
				body, err := refresh_worker.RefreshRequestBody(address, update.UpdateData)
				if err != nil {
					logger.Error("failed to encode refresh request", "error", err)
					continue
				}
				queue.Enqueue(body)
			}
		}
	}()

	logger.Info("Hermes stream bridge started", "feeds", len(feedIDs), "url", wsURL)
	return stream, nil
}

// buildFeed selects the upstream price source: the Hermes HTTP API, or a
// Pyth contract read through multicall (with an optional tx sender for
// on-chain refreshes).
func buildFeed(cfg cliConfig, logger *slog.Logger) (outbound.PriceFeed, error) {
	if cfg.feedSource == "hermes" {
		clientCfg := hermes.ClientConfigDefaults()
		if cfg.hermesURL != "" {
			clientCfg.BaseURL = cfg.hermesURL
		}
		clientCfg.Logger = logger
		client, err := hermes.NewClient(clientCfg)
		if err != nil {
			return nil, fmt.Errorf("creating hermes client: %w", err)
		}
		logger.Info("Hermes feed configured", "baseURL", clientCfg.BaseURL)
		return client, nil
	}

	ethClient, err := ethclient.Dial(cfg.ethRPCURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to Ethereum node: %w", err)
	}

	mc, err := multicall.NewClient(ethClient, blockchain.Multicall3)
	if err != nil {
		return nil, fmt.Errorf("creating multicall client: %w", err)
	}

	var sender outbound.TxSender
	if keyHex := env.Get("ETH_PRIVATE_KEY", ""); keyHex != "" {
		chainID, err := strconv.ParseInt(env.Get("CHAIN_ID", "1"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing CHAIN_ID: %w", err)
		}
		sender, err = ethtx.NewSender(ethClient, ethtx.Config{
			PrivateKeyHex: keyHex,
			ChainID:       chainID,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating tx sender: %w", err)
		}
	}

	feed, err := pyth.NewFeed(pyth.Config{
		ContractAddress: common.HexToAddress(cfg.pythContract),
		Logger:          logger,
	}, mc, sender)
	if err != nil {
		return nil, fmt.Errorf("creating pyth feed: %w", err)
	}
	logger.Info("Pyth feed configured", "contract", cfg.pythContract, "canSubmit", sender != nil)
	return feed, nil
}
