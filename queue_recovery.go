package ledgerguard

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/ledgerguard/ledgerguard/config"
	"github.com/sirupsen/logrus"
)

// QueueRecoveryProcessor periodically re-runs post-commit tasks that the
// broker archived after exhausting their retries. Post-commit consumers
// are at-least-once, so re-running an already-handled task is safe.
type QueueRecoveryProcessor struct {
	queue        *Queue
	pollInterval time.Duration
	batchSize    int
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

func NewQueueRecoveryProcessor(queue *Queue) *QueueRecoveryProcessor {
	return &QueueRecoveryProcessor{
		queue:        queue,
		pollInterval: 30 * time.Second,
		batchSize:    100,
		stopCh:       make(chan struct{}),
	}
}

func (p *QueueRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Queue recovery processor started")
}

func (p *QueueRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Queue recovery processor stopped")
}

func (p *QueueRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *QueueRecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Queue recovery processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Queue recovery processor stop signal received")
			return
		case <-ticker.C:
			p.processBatch(ctx)
		}
	}
}

func (p *QueueRecoveryProcessor) processBatch(ctx context.Context) {
	cfg, err := config.Fetch()
	if err != nil {
		logrus.Errorf("queue recovery: config unavailable: %v", err)
		return
	}

	for _, queueName := range []string{cfg.Queue.TransactionQueue, cfg.Queue.IncidentQueue, cfg.Queue.WebhookQueue} {
		if recovered := p.recoverQueue(ctx, queueName); recovered > 0 {
			logrus.Infof("Recovered %d archived tasks from queue %s", recovered, queueName)
		}
	}
}

// recoverQueue moves archived tasks back to pending. The listing is
// retried with exponential backoff so a briefly unreachable broker does
// not skip a whole cycle.
func (p *QueueRecoveryProcessor) recoverQueue(ctx context.Context, queueName string) int {
	var archived []*asynq.TaskInfo
	operation := func() error {
		var err error
		archived, err = p.queue.Inspector.ListArchivedTasks(queueName, asynq.PageSize(p.batchSize))
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		logrus.Errorf("queue recovery: failed to list archived tasks on %s: %v", queueName, err)
		return 0
	}

	recovered := 0
	for _, task := range archived {
		if err := p.queue.Inspector.RunTask(queueName, task.ID); err != nil {
			logrus.Errorf("queue recovery: failed to re-run task %s on %s: %v", task.ID, queueName, err)
			continue
		}
		recovered++
	}
	return recovered
}
