package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/ledgerguard/ledgerguard/internal/apierror"
	"github.com/ledgerguard/ledgerguard/model"
)

// lockTimeout bounds how long a transfer may wait on a contended row lock
// before the statement fails instead of piling up callers.
const lockTimeout = "5s"

type lockedAccount struct {
	number   string
	balance  int64
	active   bool
	currency string
}

// errIdempotencyRace signals that the unique index caught a concurrent
// retry with the same idempotency key. The failed statement leaves the
// enclosing transaction aborted, so the winner must be read outside it
// after a rollback.
var errIdempotencyRace = errors.New("idempotency key committed by a concurrent transfer")

// PerformTransfer executes the whole critical section of a transfer in a
// single database transaction: row locks on every participating account
// in ascending account-number order, re-validation under lock, balance
// deltas, and the immutable transaction row with both post-balances.
// On any failure the transaction rolls back; no partial mutation is ever
// observable.
//
// If txn carries an idempotency key that has already been used, the
// original transaction is returned unchanged (detectable by the caller
// via the differing TransactionID) and no side effects occur.
func (d Datasource) PerformTransfer(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	ctx, span := otel.Tracer("ledger.database").Start(ctx, "Performing transfer")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transfer transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	recorded, err := d.performTransferTx(ctx, tx, txn)
	if errors.Is(err, errIdempotencyRace) {
		// The loser's balance updates must never commit; roll back and
		// surface the winner instead.
		_ = tx.Rollback()
		return d.GetTransactionByIdempotencyKey(ctx, txn.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transfer", err)
	}
	return recorded, nil
}

// performTransferTx runs the transfer steps inside the caller's
// transaction so bill payments can join the same atomic unit.
func (d Datasource) performTransferTx(ctx context.Context, tx *sql.Tx, txn *model.Transaction) (*model.Transaction, error) {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`SET LOCAL lock_timeout = '%s'`, lockTimeout)); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to bound lock wait", err)
	}

	participants := transferParticipants(txn)
	locked, err := lockAccounts(ctx, tx, participants)
	if err != nil {
		return nil, err
	}

	// Replay check under lock: a concurrent identical retry serializes on
	// the account locks, so exactly one of them inserts.
	if txn.IdempotencyKey != "" {
		existing, err := d.getTransactionByIdempotencyKeyTx(ctx, tx, txn.IdempotencyKey)
		if err != nil && !apierror.Is(err, apierror.ErrNotFound) {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	sender, receiver := locked[txn.Sender], locked[txn.Receiver]
	if !sender.active {
		return nil, apierror.NewAPIError(apierror.ErrAccountInactive, fmt.Sprintf("Account '%s' is inactive", sender.number), nil)
	}
	if !receiver.active {
		return nil, apierror.NewAPIError(apierror.ErrAccountInactive, fmt.Sprintf("Account '%s' is inactive", receiver.number), nil)
	}
	if sender.balance < txn.Amount+txn.Fee {
		return nil, apierror.NewAPIError(apierror.ErrInsufficientFunds, fmt.Sprintf("Account '%s' has insufficient funds", sender.number), nil)
	}

	sender.balance -= txn.Amount + txn.Fee
	receiver.balance += txn.Amount
	if txn.Fee > 0 {
		locked[txn.FeeAccount].balance += txn.Fee
	}

	for _, number := range participants {
		acc := locked[number]
		if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = $2 WHERE account_number = $1`, acc.number, acc.balance); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update account balance", err)
		}
	}

	// Refunds arrive with their status pre-set; everything else commits
	// as SUCCESS.
	if txn.Status == "" {
		txn.Status = model.StatusSuccess
	}
	txn.SenderBalanceAfter = sender.balance
	txn.ReceiverBalanceAfter = receiver.balance
	txn.CreatedAt = time.Now()
	txn.Hash = txn.HashTxn()

	metaDataJSON, err := json.Marshal(txn.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	var idempotencyKey sql.NullString
	if txn.IdempotencyKey != "" {
		idempotencyKey = sql.NullString{String: txn.IdempotencyKey, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions(transaction_id, sender, receiver, amount, currency, fee, idempotency_key, status, sender_balance_after, receiver_balance_after, description, parent_transaction, hash, created_at, meta_data) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		txn.TransactionID, txn.Sender, txn.Receiver, txn.Amount, txn.Currency, txn.Fee, idempotencyKey, txn.Status, txn.SenderBalanceAfter, txn.ReceiverBalanceAfter, txn.Description, txn.ParentTransaction, txn.Hash, txn.CreatedAt, metaDataJSON,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && txn.IdempotencyKey != "" {
			// Lost the idempotency race against a transfer on a different
			// account pair. The session is now in the aborted state, so
			// recovery belongs to the caller owning the transaction.
			return nil, errIdempotencyRace
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transaction", err)
	}

	return txn, nil
}

// transferParticipants lists every account whose balance the transfer
// touches, in the fixed ascending order locks are taken in.
func transferParticipants(txn *model.Transaction) []string {
	numbers := []string{txn.Sender, txn.Receiver}
	if txn.Fee > 0 && txn.FeeAccount != "" {
		numbers = append(numbers, txn.FeeAccount)
	}
	sort.Strings(numbers)
	return numbers
}

func lockAccounts(ctx context.Context, tx *sql.Tx, numbers []string) (map[string]*lockedAccount, error) {
	locked := make(map[string]*lockedAccount, len(numbers))
	for _, number := range numbers {
		row := tx.QueryRowContext(ctx, `
			SELECT account_number, balance, active, currency
			FROM accounts
			WHERE account_number = $1
			FOR UPDATE
		`, number)

		acc := &lockedAccount{}
		err := row.Scan(&acc.number, &acc.balance, &acc.active, &acc.currency)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account with number '%s' not found", number), err)
			}
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock account", err)
		}
		locked[acc.number] = acc
	}
	return locked, nil
}

func (d Datasource) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT transaction_id, sender, receiver, amount, currency, fee, COALESCE(idempotency_key, ''), status, sender_balance_after, receiver_balance_after, COALESCE(description, ''), COALESCE(parent_transaction, ''), COALESCE(hash, ''), created_at, meta_data
		FROM transactions
		WHERE transaction_id = $1
	`, id)
	return scanTransaction(row)
}

func (d Datasource) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT transaction_id, sender, receiver, amount, currency, fee, COALESCE(idempotency_key, ''), status, sender_balance_after, receiver_balance_after, COALESCE(description, ''), COALESCE(parent_transaction, ''), COALESCE(hash, ''), created_at, meta_data
		FROM transactions
		WHERE idempotency_key = $1
	`, key)
	return scanTransaction(row)
}

func (d Datasource) getTransactionByIdempotencyKeyTx(ctx context.Context, tx *sql.Tx, key string) (*model.Transaction, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT transaction_id, sender, receiver, amount, currency, fee, COALESCE(idempotency_key, ''), status, sender_balance_after, receiver_balance_after, COALESCE(description, ''), COALESCE(parent_transaction, ''), COALESCE(hash, ''), created_at, meta_data
		FROM transactions
		WHERE idempotency_key = $1
	`, key)
	return scanTransaction(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	txn := &model.Transaction{}
	var metaDataJSON []byte
	err := row.Scan(&txn.TransactionID, &txn.Sender, &txn.Receiver, &txn.Amount, &txn.Currency, &txn.Fee, &txn.IdempotencyKey, &txn.Status, &txn.SenderBalanceAfter, &txn.ReceiverBalanceAfter, &txn.Description, &txn.ParentTransaction, &txn.Hash, &txn.CreatedAt, &metaDataJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Transaction not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}

	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &txn.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}
	return txn, nil
}

func (d Datasource) GetAllTransactions(ctx context.Context, limit, offset int) ([]model.Transaction, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT transaction_id, sender, receiver, amount, currency, fee, COALESCE(idempotency_key, ''), status, sender_balance_after, receiver_balance_after, COALESCE(description, ''), COALESCE(parent_transaction, ''), COALESCE(hash, ''), created_at, meta_data
		FROM transactions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions", err)
	}
	defer rows.Close()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over transactions", err)
	}

	return transactions, nil
}

// GetSenderWindowStats returns the number and total amount of successful
// transfers sent by an account since the given instant. The velocity
// detector queries this on every transaction event.
func (d Datasource) GetSenderWindowStats(ctx context.Context, sender string, since time.Time) (int, int64, error) {
	var count int
	var total int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE sender = $1 AND status = $2 AND created_at >= $3
	`, sender, model.StatusSuccess, since).Scan(&count, &total)
	if err != nil {
		return 0, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute sender window stats", err)
	}
	return count, total, nil
}

// GetSenderAverageAmount returns the average successful transfer amount
// for an account since the given instant, in minor units. The transaction
// identified by excludeTxnID is left out so a just-committed transfer can
// be compared against the history that preceded it. Zero when the account
// has no history in the window.
func (d Datasource) GetSenderAverageAmount(ctx context.Context, sender, excludeTxnID string, since time.Time) (int64, error) {
	var average int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(amount), 0)::BIGINT
		FROM transactions
		WHERE sender = $1 AND status = $2 AND created_at >= $3 AND transaction_id != $4
	`, sender, model.StatusSuccess, since, excludeTxnID).Scan(&average)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute sender average", err)
	}
	return average, nil
}
