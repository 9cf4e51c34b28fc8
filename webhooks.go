package ledgerguard

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/ledgerguard/ledgerguard/config"
	"github.com/ledgerguard/ledgerguard/internal/request"
	"github.com/pkg/errors"
)

// Webhook event names consumed by external notification dispatch.
const (
	EventTransactionCreated = "transaction.created"
	EventIncidentRaised     = "incident.raised"
)

// NewWebhook is the envelope delivered to the configured webhook URL.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

func processHTTP(data NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		log.Println("Error fetching config:", err)
		return err
	}

	jsonData, err := request.ToJsonReq(&data)
	if err != nil {
		log.Println("Error converting data to JSON:", err)
		return err
	}

	payload, err := http.NewRequest(http.MethodPost, conf.Notification.Webhook.Url, jsonData)
	if err != nil {
		log.Println("Error creating request:", err)
		return err
	}
	payload.Header.Set("Content-Type", "application/json")
	for key, value := range conf.Notification.Webhook.Headers {
		payload.Header.Set(key, value)
	}

	var response map[string]interface{}
	resp, err := request.Call(payload, &response)
	if err != nil {
		log.Println("Error sending webhook:", err)
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		log.Println("Webhook failed with status:", resp.StatusCode)
		return errors.Errorf("webhook delivery failed with status %d", resp.StatusCode)
	}

	log.Println("Webhook notification sent successfully:", data.Event)
	return nil
}

// SendWebhook enqueues a webhook notification task. A no-op when no
// webhook URL is configured.
func SendWebhook(newWebhook NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: conf.Redis.Dns})
	defer func() {
		if err := client.Close(); err != nil {
			log.Println("Error closing queue client:", err)
		}
	}()
	payload, err := json.Marshal(newWebhook)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.Queue(conf.Queue.WebhookQueue),
		asynq.MaxRetry(conf.Queue.MaxRetryAttempts),
		asynq.Timeout(30 * time.Second),
	}
	task := asynq.NewTask(conf.Queue.WebhookQueue, payload, taskOptions...)
	info, err := client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// ProcessWebhook processes a webhook notification task from the queue.
func ProcessWebhook(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	return processHTTP(payload)
}
