package ledgerguard

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerguard/ledgerguard/config"
	"github.com/ledgerguard/ledgerguard/internal/apierror"
	redlock "github.com/ledgerguard/ledgerguard/internal/lock"
	"github.com/ledgerguard/ledgerguard/internal/notification"
	"github.com/ledgerguard/ledgerguard/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ledgerguard.transactions")

// Transfer moves amount from sender to receiver atomically. Validation
// errors reject before any lock is taken; consistency errors detected
// under lock roll the whole transfer back. A replayed idempotency key
// returns the original transaction and triggers no post-commit events.
func (l *LedgerGuard) Transfer(ctx context.Context, req *model.TransferRequest) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Transfer")
	defer span.End()

	txn, err := l.buildTransfer(req)
	if err != nil {
		return nil, err
	}
	if err := l.enforceWithdrawalLimit(ctx, txn.Sender, txn.Amount); err != nil {
		return nil, err
	}

	locker, err := l.acquireTransferLock(ctx, txn.Sender, txn.Receiver)
	if err != nil {
		return nil, err
	}
	if locker != nil {
		defer func() {
			if err := locker.Unlock(context.Background()); err != nil {
				logrus.Error("failed to release transfer lock", err)
			}
		}()
	}

	recorded, err := l.datasource.PerformTransfer(ctx, txn)
	if err != nil {
		return nil, err
	}

	// A differing id means the store answered with a previously committed
	// transaction for this idempotency key. Replays produce no events.
	if recorded.TransactionID != txn.TransactionID {
		return recorded, nil
	}

	l.postTransactionActions(ctx, recorded)
	return recorded, nil
}

// RefundTransaction reverses a committed transfer by creating a
// compensating transaction in the opposite direction. The original row
// is never touched. Fees are not refunded.
func (l *LedgerGuard) RefundTransaction(ctx context.Context, transactionID string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "RefundTransaction")
	defer span.End()

	original, err := l.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if original.Status != model.StatusSuccess {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Transaction '%s' is not refundable in status %s", transactionID, original.Status), nil)
	}

	// The derived idempotency key makes repeated refund calls for the
	// same transaction settle exactly once.
	refund := &model.Transaction{
		TransactionID:     model.GenerateUUIDWithSuffix("txn"),
		Sender:            original.Receiver,
		Receiver:          original.Sender,
		Amount:            original.Amount,
		Currency:          original.Currency,
		Status:            model.StatusRefunded,
		IdempotencyKey:    fmt.Sprintf("refund_%s", original.TransactionID),
		Description:       fmt.Sprintf("Refund of %s", original.TransactionID),
		ParentTransaction: original.TransactionID,
		MetaData:          map[string]interface{}{"refund": true},
	}

	locker, err := l.acquireTransferLock(ctx, refund.Sender, refund.Receiver)
	if err != nil {
		return nil, err
	}
	if locker != nil {
		defer func() {
			if err := locker.Unlock(context.Background()); err != nil {
				logrus.Error("failed to release transfer lock", err)
			}
		}()
	}

	recorded, err := l.datasource.PerformTransfer(ctx, refund)
	if err != nil {
		return nil, err
	}
	if recorded.TransactionID != refund.TransactionID {
		return recorded, nil
	}
	l.postTransactionActions(ctx, recorded)
	return recorded, nil
}

// GetTransaction retrieves a single transaction by id.
func (l *LedgerGuard) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	return l.datasource.GetTransaction(ctx, id)
}

// GetAllTransactions retrieves a page of transactions.
func (l *LedgerGuard) GetAllTransactions(ctx context.Context, limit, offset int) ([]model.Transaction, error) {
	return l.datasource.GetAllTransactions(ctx, limit, offset)
}

// buildTransfer validates a transfer request and shapes it into the
// transaction the store will commit. Everything here runs before any
// lock is taken, so a rejection has no side effects.
func (l *LedgerGuard) buildTransfer(req *model.TransferRequest) (*model.Transaction, error) {
	if req.Amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, "Transfer amount must be positive", nil)
	}
	if req.Sender == "" || req.Receiver == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Sender and receiver are required", nil)
	}
	if req.Sender == req.Receiver {
		return nil, apierror.NewAPIError(apierror.ErrSameAccount, "Sender and receiver must differ", nil)
	}
	if req.Fee < 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, "Transfer fee cannot be negative", nil)
	}

	txn := &model.Transaction{
		TransactionID:  model.GenerateUUIDWithSuffix("txn"),
		Sender:         req.Sender,
		Receiver:       req.Receiver,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Fee:            req.Fee,
		IdempotencyKey: req.IdempotencyKey,
		Description:    req.Description,
		MetaData:       req.MetaData,
	}

	if req.Fee > 0 {
		conf, err := config.Fetch()
		if err != nil {
			return nil, err
		}
		if conf.Transaction.FeeAccount == "" {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Transfers with a fee require a configured fee account", nil)
		}
		txn.FeeAccount = conf.Transaction.FeeAccount
	}
	return txn, nil
}

// enforceWithdrawalLimit rejects transfers above the sender's per-type
// maximum. Account type never changes, so reading it outside the lock
// is safe.
func (l *LedgerGuard) enforceWithdrawalLimit(ctx context.Context, sender string, amount int64) error {
	account, err := l.datasource.GetAccountByNumber(ctx, sender)
	if err != nil {
		return err
	}
	if limit := account.Type.MaxWithdrawal(); amount > limit {
		return apierror.NewAPIError(apierror.ErrInvalidAmount,
			fmt.Sprintf("Amount exceeds the %s withdrawal limit of %s", account.Type, model.FormatAmount(limit)), nil)
	}
	return nil
}

// acquireTransferLock takes the engine-level guard lock over both
// accounts in ascending order. The database row locks are the source of
// truth for correctness; this lock only keeps hot retry storms from
// piling up on the database. Skipped when redis is not wired (tests).
func (l *LedgerGuard) acquireTransferLock(ctx context.Context, sender, receiver string) (*redlock.PairLocker, error) {
	if l.redis == nil {
		return nil, nil
	}
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	lockDuration := time.Duration(conf.Transaction.LockDuration) * time.Second

	locker := redlock.NewPairLocker(l.redis, sender, receiver, model.GenerateUUIDWithSuffix("loc"))
	if err := locker.Lock(ctx, lockDuration, lockDuration); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Transfer is locked by a concurrent operation", err)
	}
	return locker, nil
}

// postTransactionActions fans a committed transaction out to the async
// workers and the webhook dispatcher. Failures are logged and reported,
// never surfaced: the transfer has already committed.
func (l *LedgerGuard) postTransactionActions(ctx context.Context, txn *model.Transaction) {
	if l.queue != nil {
		if err := l.queue.Enqueue(ctx, txn); err != nil {
			notification.NotifyError(err)
			logrus.Errorf("failed to enqueue transaction %s: %v", txn.TransactionID, err)
		}
	}
	if err := SendWebhook(NewWebhook{Event: EventTransactionCreated, Payload: txn}); err != nil {
		notification.NotifyError(err)
	}
}

// postIncidentActions is the risk engine's fan-out hook.
func (l *LedgerGuard) postIncidentActions(ctx context.Context, incident *model.Incident) {
	if l.queue != nil {
		if err := l.queue.EnqueueIncident(ctx, incident); err != nil {
			notification.NotifyError(err)
			logrus.Errorf("failed to enqueue incident %s: %v", incident.IncidentID, err)
		}
	}
	if err := SendWebhook(NewWebhook{Event: EventIncidentRaised, Payload: incident}); err != nil {
		notification.NotifyError(err)
	}
}
