package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/mike840609/debezium-nats-cdc/detect"
	"github.com/mike840609/debezium-nats-cdc/engine"
	"github.com/mike840609/debezium-nats-cdc/enrich"
	"github.com/mike840609/debezium-nats-cdc/publish"
	"github.com/mike840609/debezium-nats-cdc/stream"
	"github.com/mike840609/debezium-nats-cdc/support"
	"github.com/mike840609/debezium-nats-cdc/telemetry"
	"github.com/mike840609/debezium-nats-cdc/validate"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the configuration file")
	flag.Parse()

	config, err := support.LoadConfig(*configPath)
	if err != nil {
		os.Stderr.WriteString("hrcdc: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := support.NewLogger(config.Logging)

	if err := run(config, logger); err != nil {
		logger.Fatal().Err(err).Msg("service stopped")
	}
}

func run(config *support.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := publish.NewNATSTransport(
		config.NATS.URL,
		config.NATS.MaxReconnect,
		config.NATS.ReconnectWait,
		logger,
	)
	if err != nil {
		return err
	}
	defer transport.Close()

	reader, err := stream.NewNATSReader(
		transport.Conn(),
		config.NATS.ChangeStream,
		stream.WithReaderLogger(logger),
	)
	if err != nil {
		return err
	}
	defer reader.Close()

	dynamo, err := support.DynamoClient(ctx, config.DynamoDB.Endpoint)
	if err != nil {
		return err
	}

	db, err := sql.Open("mysql", config.ReadModel.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewPrometheusSink(registry)

	detectors := detect.NewRegistry(
		detect.WithLogger(logger),
		detect.WithMetrics(metrics),
	)
	detect.RegisterHRRules(detectors)

	enricher := enrich.NewEnricher(
		enrich.NewSQLReadModel(db),
		enrich.HRResolutions(),
		enrich.WithEnrichLogger(logger),
	)

	publisher := publish.NewPublisher(
		publish.NewDynamoEventLog(dynamo, config.DynamoDB.Table),
		transport,
		publish.WithPublishLogger(logger),
		publish.WithPublishMetrics(metrics),
	)

	processor, err := engine.New(
		engine.Components{
			Detectors:   detectors,
			Enricher:    enricher,
			Validator:   validate.HRValidator(),
			Publisher:   publisher,
			DeadLetters: publish.NewNATSDeadLetterSink(transport.Conn(), publish.DeadLetterSubject),
			Checkpoints: engine.NewFileCheckpointStore(config.Checkpoint.Path),
		},
		engine.Config{
			Lanes:             config.Engine.Lanes,
			InFlightLimit:     config.Engine.InFlightLimit,
			EnrichMaxAttempts: config.Engine.EnrichMaxAttempts,
			EnrichRetryDelay:  config.Engine.EnrichRetryDelay,
			PublishRetryDelay: config.Engine.PublishRetryDelay,
			PublishRetryMax:   config.Engine.PublishRetryMax,
		},
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:    config.HTTP.Address,
		Handler: adminHandler(registry),
	}
	go func() {
		logger.Info().Str("address", config.HTTP.Address).Msg("admin listener started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin listener failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Str("stream", config.NATS.ChangeStream).
		Str("table", config.DynamoDB.Table).
		Msg("transformation engine starting")

	return processor.Run(ctx, reader)
}
