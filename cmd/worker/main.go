// Worker purges expired and revoked sessions on a schedule and, when KAFKA_BROKERS and LOKI_URL are
// set, forwards auth events from Kafka to Loki.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Svyat0y/form-builder-backend/internal/config"
	"github.com/Svyat0y/form-builder-backend/internal/db"
	"github.com/Svyat0y/form-builder-backend/internal/platform/logger"
	"github.com/Svyat0y/form-builder-backend/internal/session/cleanup"
	sessionrepo "github.com/Svyat0y/form-builder-backend/internal/session/repository"
	"github.com/Svyat0y/form-builder-backend/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Dev: cfg.LogDev, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := cfg.DatabaseURL
	if cfg.DatabaseDriver == config.DriverSQLite {
		dsn = cfg.SQLitePath
	}
	conn, err := db.Open(cfg.DatabaseDriver, dsn)
	if err != nil {
		log.Fatal("worker: open database", zap.Error(err))
	}
	defer conn.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.New(sessionrepo.NewSQLRepository(conn), cfg.CleanupKeepRevoked, cfg.CleanupEvery(), log).Loop(ctx)
	}()

	brokers := cfg.TelemetryKafkaBrokersList()
	if len(brokers) > 0 && cfg.LokiURL != "" {
		client, err := loki.NewClient(cfg.LokiURL, nil)
		if err != nil {
			log.Fatal("worker: loki client", zap.Error(err))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			forward(ctx, cfg, brokers, client, log)
		}()
	} else {
		log.Info("worker: event forwarding disabled; set KAFKA_BROKERS and LOKI_URL to enable it")
	}

	<-ctx.Done()
	log.Info("worker: shutting down")
	wg.Wait()
}

// eventReader is the part of *kafka.Reader the forwarder uses.
type eventReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// eventPusher is the part of *loki.Client the forwarder uses.
type eventPusher interface {
	PushEventJSON(ctx context.Context, raw []byte) error
}

const pushTimeout = 10 * time.Second

func forward(ctx context.Context, cfg *config.Config, brokers []string, client *loki.Client, log *zap.Logger) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.TelemetryKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	log.Info("worker: forwarding events",
		zap.String("topic", cfg.TelemetryKafkaTopic),
		zap.String("group", cfg.KafkaGroupID),
		zap.String("loki", cfg.LokiURL),
	)
	forwardLoop(ctx, reader, client, newReadBackoff(), log)
}

// newReadBackoff spaces out retries while Kafka keeps failing: 100ms doubling up to 5s.
func newReadBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.Reset()
	return b
}

// forwardLoop pushes every message to Loki until ctx ends. Push failures are logged and the message skipped.
// Read failures wait out the next backoff interval; a successful read resets it.
func forwardLoop(ctx context.Context, reader eventReader, pusher eventPusher, bo backoff.BackOff, log *zap.Logger) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			wait := bo.NextBackOff()
			log.Warn("worker: kafka read failed", zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		if err := pusher.PushEventJSON(pushCtx, msg.Value); err != nil {
			log.Warn("worker: loki push failed", zap.Error(err), zap.Int64("offset", msg.Offset))
		}
		cancel()
	}
}
