package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ledgerguard/ledgerguard/internal/apierror"
	"github.com/ledgerguard/ledgerguard/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

var transactionTestColumns = []string{"transaction_id", "sender", "receiver", "amount", "currency", "fee", "idempotency_key", "status", "sender_balance_after", "receiver_balance_after", "description", "parent_transaction", "hash", "created_at", "meta_data"}

func TestPerformTransferLocksInAscendingOrder(t *testing.T) {
	d, mock := newTestDatasource(t)

	// Receiver sorts before sender; the lock order must follow the sort,
	// not the transfer direction.
	sender, receiver := "2000000002", "1000000001"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout = '5s'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(receiver).
		WillReturnRows(sqlmock.NewRows([]string{"account_number", "balance", "active", "currency"}).
			AddRow(receiver, int64(0), true, "USD"))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(sender).
		WillReturnRows(sqlmock.NewRows([]string{"account_number", "balance", "active", "currency"}).
			AddRow(sender, int64(5000), true, "USD"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET balance = $2")).
		WithArgs(receiver, int64(3000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET balance = $2")).
		WithArgs(sender, int64(2000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	txn, err := d.PerformTransfer(context.Background(), &model.Transaction{
		TransactionID: "txn_1",
		Sender:        sender,
		Receiver:      receiver,
		Amount:        3000,
		Currency:      "USD",
	})
	assert.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, txn.Status)
	assert.Equal(t, int64(2000), txn.SenderBalanceAfter)
	assert.Equal(t, int64(3000), txn.ReceiverBalanceAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPerformTransferAccountNotFound(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("1000000001").
		WillReturnRows(sqlmock.NewRows([]string{"account_number"}))
	mock.ExpectRollback()

	_, err := d.PerformTransfer(context.Background(), &model.Transaction{
		TransactionID: "txn_1",
		Sender:        "1000000001",
		Receiver:      "1000000002",
		Amount:        3000,
	})
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPerformTransferLosesIdempotencyRace(t *testing.T) {
	d, mock := newTestDatasource(t)

	sender, receiver := "1000000001", "1000000002"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(sender).
		WillReturnRows(sqlmock.NewRows([]string{"account_number", "balance", "active", "currency"}).
			AddRow(sender, int64(5000), true, "USD"))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(receiver).
		WillReturnRows(sqlmock.NewRows([]string{"account_number", "balance", "active", "currency"}).
			AddRow(receiver, int64(0), true, "USD"))
	// Under-lock replay check misses; the unique index catches the race.
	mock.ExpectQuery(regexp.QuoteMeta("WHERE idempotency_key = $1")).
		WithArgs("ikey_race").
		WillReturnRows(sqlmock.NewRows(transactionTestColumns))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET balance = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET balance = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnError(&pq.Error{Code: "23505"})
	// The failed insert aborts the transaction: the loser's balance
	// updates roll back and the winner is read outside the transaction.
	mock.ExpectRollback()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE idempotency_key = $1")).
		WithArgs("ikey_race").
		WillReturnRows(sqlmock.NewRows(transactionTestColumns).
			AddRow("txn_winner", sender, receiver, int64(3000), "USD", int64(0), "ikey_race", model.StatusSuccess, int64(2000), int64(3000), "", "", "hash", time.Now(), []byte(nil)))

	txn, err := d.PerformTransfer(context.Background(), &model.Transaction{
		TransactionID:  "txn_loser",
		Sender:         sender,
		Receiver:       receiver,
		Amount:         3000,
		Currency:       "USD",
		IdempotencyKey: "ikey_race",
	})
	assert.NoError(t, err)
	assert.Equal(t, "txn_winner", txn.TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSenderWindowStats(t *testing.T) {
	d, mock := newTestDatasource(t)

	since := time.Now().Add(-15 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), COALESCE(SUM(amount), 0)")).
		WithArgs("1000000001", model.StatusSuccess, since).
		WillReturnRows(sqlmock.NewRows([]string{"count", "total"}).AddRow(7, int64(42000)))

	count, total, err := d.GetSenderWindowStats(context.Background(), "1000000001", since)
	assert.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.Equal(t, int64(42000), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSenderAverageAmountExcludesTriggeringTransaction(t *testing.T) {
	d, mock := newTestDatasource(t)

	since := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("AND transaction_id != $4")).
		WithArgs("1000000001", model.StatusSuccess, since, "txn_current").
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(int64(3500)))

	average, err := d.GetSenderAverageAmount(context.Background(), "1000000001", "txn_current", since)
	assert.NoError(t, err)
	assert.Equal(t, int64(3500), average)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransactionNotFound(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE transaction_id = $1")).
		WithArgs("txn_missing").
		WillReturnRows(sqlmock.NewRows(transactionTestColumns))

	_, err := d.GetTransaction(context.Background(), "txn_missing")
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAllTransactions(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT $1 OFFSET $2")).
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows(transactionTestColumns).
			AddRow("txn_1", "1000000001", "1000000002", int64(3000), "USD", int64(0), "", model.StatusSuccess, int64(2000), int64(3000), "", "", "hash", time.Now(), []byte(`{"channel":"mobile"}`)))

	transactions, err := d.GetAllTransactions(context.Background(), 50, 0)
	assert.NoError(t, err)
	assert.Len(t, transactions, 1)
	assert.Equal(t, "mobile", transactions[0].MetaData["channel"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
