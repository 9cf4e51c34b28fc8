package ledgerguard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/ledgerguard/ledgerguard/config"
	redis_db "github.com/ledgerguard/ledgerguard/internal/redis-db"
	"github.com/ledgerguard/ledgerguard/model"
)

// Queue carries post-commit events to the async workers. Delivery is
// at-least-once; consumers must tolerate replays.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// TransactionEventPayload is the body of a transaction.created task.
type TransactionEventPayload struct {
	Data model.Transaction
}

// IncidentEventPayload is the body of an incident.raised task.
type IncidentEventPayload struct {
	Data model.Incident
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(fmt.Sprintf("redis://%s", conf.Redis.Dns))
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// Enqueue pushes a committed transaction onto the transaction queue for
// the async risk detectors and webhook fan-out. The task id is the
// transaction id, so a replayed enqueue of the same transaction dedupes
// at the broker.
func (q *Queue) Enqueue(ctx context.Context, transaction *model.Transaction) error {
	ctx, span := tracer.Start(ctx, "Adding Transaction To Redis Queue")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(TransactionEventPayload{Data: *transaction})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(transaction.TransactionID),
		asynq.Queue(cfg.Queue.TransactionQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cfg.Queue.TransactionQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued transaction: %+v", transaction.TransactionID)
	return nil
}

// EnqueueIncident pushes a raised incident onto the incident queue for
// dashboards and notification fan-out.
func (q *Queue) EnqueueIncident(ctx context.Context, incident *model.Incident) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(IncidentEventPayload{Data: *incident})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(incident.IncidentID),
		asynq.Queue(cfg.Queue.IncidentQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cfg.Queue.IncidentQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}
