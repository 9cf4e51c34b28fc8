package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	ledgerguard "github.com/ledgerguard/ledgerguard"
	"github.com/ledgerguard/ledgerguard/config"
	redis_db "github.com/ledgerguard/ledgerguard/internal/redis-db"
)

// processTransactionEvent runs the asynchronous transaction detectors
// against a committed transaction from the queue. Returning an error
// re-queues the task; detection is at-least-once and the detectors'
// window dedup absorbs replays.
func (l *ledgerInstance) processTransactionEvent(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("ledgerguard.workers").Start(ctx, "Process Transaction From Redis Queue")
	defer span.End()

	var payload ledgerguard.TransactionEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	incidents := l.ledger.RiskEngine().HandleTransaction(ctx, &payload.Data)
	log.Printf(" [*] Transaction event processed %s, %d incident(s)", payload.Data.TransactionID, len(incidents))
	return nil
}

// processIncidentEvent logs incident fan-out from the queue. The webhook
// dispatch already happened at raise time; this consumer exists for
// dashboard-side processing and replays idempotently.
func (l *ledgerInstance) processIncidentEvent(_ context.Context, t *asynq.Task) error {
	var payload ledgerguard.IncidentEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	log.Printf(" [*] Incident raised: %s (%s)", payload.Data.Label, payload.Data.Severity)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.TransactionQueue] = 3
	queues[cfg.Queue.IncidentQueue] = 2
	queues[cfg.Queue.WebhookQueue] = 3
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(fmt.Sprintf("redis://%s", conf.Redis.Dns))
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisOption.Addr,
			Password: redisOption.Password,
			DB:       redisOption.DB,
		},
		asynq.Config{
			Concurrency: conf.Transaction.MaxWorkers,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(l *ledgerInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.TransactionQueue, l.processTransactionEvent)
	mux.HandleFunc(cfg.Queue.IncidentQueue, l.processIncidentEvent)
	mux.HandleFunc(cfg.Queue.WebhookQueue, ledgerguard.ProcessWebhook)
}

// workerCommands defines the "workers" command that consumes the
// post-commit queues.
func workerCommands(l *ledgerInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start ledgerguard workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error fetching config: %v", err)
			}

			queues := initializeQueues()
			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatalf("Error initializing worker server: %v", err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(l, mux)

			if err := srv.Run(mux); err != nil {
				log.Fatalf("Error running worker server: %v", err)
			}
		},
	}
	return cmd
}
