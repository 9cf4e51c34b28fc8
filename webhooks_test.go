package ledgerguard

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/ledgerguard/ledgerguard/config"
	"github.com/stretchr/testify/assert"
)

func TestSendWebhook(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	cnf := testConfig(mr.Addr())
	cnf.Notification.Webhook.Url = "http://webhooks.test/hook"
	config.MockConfig(cnf)

	err = SendWebhook(NewWebhook{
		Event:   EventTransactionCreated,
		Payload: map[string]string{"id": "txn_1"},
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, mr.Keys())
}

func TestSendWebhookWithoutURLIsNoOp(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	config.MockConfig(testConfig(mr.Addr()))

	err = SendWebhook(NewWebhook{Event: EventTransactionCreated})
	assert.NoError(t, err)
	assert.Empty(t, mr.Keys())
}

func TestProcessWebhook(t *testing.T) {
	cnf := testConfig("localhost:6379")
	cnf.Notification.Webhook.Url = "http://webhooks.test/hook"
	cnf.Notification.Webhook.Headers = map[string]string{"X-Signature": "sig_1"}
	config.MockConfig(cnf)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var received NewWebhook
	httpmock.RegisterResponder(http.MethodPost, "http://webhooks.test/hook",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "sig_1", req.Header.Get("X-Signature"))
			if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
				return nil, err
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]string{"status": "ok"})
		})

	payload, err := json.Marshal(NewWebhook{Event: EventIncidentRaised, Payload: map[string]string{"incident_id": "inc_1"}})
	assert.NoError(t, err)

	err = ProcessWebhook(context.Background(), asynq.NewTask("new:webhook", payload))
	assert.NoError(t, err)
	assert.Equal(t, EventIncidentRaised, received.Event)
}

func TestProcessWebhookDeliveryFailure(t *testing.T) {
	cnf := testConfig("localhost:6379")
	cnf.Notification.Webhook.Url = "http://webhooks.test/hook"
	config.MockConfig(cnf)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodPost, "http://webhooks.test/hook",
		httpmock.NewJsonResponderOrPanic(http.StatusBadGateway, map[string]string{"error": "downstream"}))

	payload, err := json.Marshal(NewWebhook{Event: EventTransactionCreated})
	assert.NoError(t, err)

	// A failed delivery must error so the queue retries the task.
	err = ProcessWebhook(context.Background(), asynq.NewTask("new:webhook", payload))
	assert.Error(t, err)
}
