package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ledgerguard/ledgerguard/internal/apierror"
	"github.com/ledgerguard/ledgerguard/model"
	"github.com/stretchr/testify/assert"
)

func TestCreateBillPaymentAssignsID(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bill_payments")).
		WithArgs(sqlmock.AnyArg(), "usr_1", "1000000001", "blr_1", "REF-001", int64(2500), "USD", model.BillPaymentPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	payment, err := d.CreateBillPayment(context.Background(), model.BillPayment{
		UserID:          "usr_1",
		SourceAccount:   "1000000001",
		BillerID:        "blr_1",
		ReferenceNumber: "REF-001",
		Amount:          2500,
		Currency:        "USD",
	})
	assert.NoError(t, err)
	assert.Contains(t, payment.PaymentID, "bip_")
	assert.Equal(t, model.BillPaymentPending, payment.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleBillPaymentNotPending(t *testing.T) {
	d, mock := newTestDatasource(t)

	source, system := "1000000001", "9000000001"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(source).
		WillReturnRows(sqlmock.NewRows([]string{"account_number", "balance", "active", "currency"}).
			AddRow(source, int64(10000), true, "USD"))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(system).
		WillReturnRows(sqlmock.NewRows([]string{"account_number", "balance", "active", "currency"}).
			AddRow(system, int64(0), true, "USD"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET balance = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET balance = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// Another settlement already flipped the payment; zero rows means the
	// whole transfer rolls back with it.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bill_payments SET status = $2, transaction_id = $3")).
		WithArgs("bip_1", model.BillPaymentPaid, sqlmock.AnyArg(), model.BillPaymentPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := d.SettleBillPayment(context.Background(), "bip_1", &model.Transaction{
		TransactionID: "txn_1",
		Sender:        source,
		Receiver:      system,
		Amount:        2500,
		Currency:      "USD",
	})
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBillPaymentStatusNotFound(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE bill_payments SET status = $2")).
		WithArgs("bip_missing", model.BillPaymentFailed, model.BillPaymentPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM bill_payments WHERE payment_id = $1")).
		WithArgs("bip_missing").
		WillReturnRows(sqlmock.NewRows([]string{"payment_id"}))

	err := d.UpdateBillPaymentStatus(context.Background(), "bip_missing", model.BillPaymentFailed)
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBillPaymentStatusNeverOverwritesPaid(t *testing.T) {
	d, mock := newTestDatasource(t)

	// A FAILED mark racing a committed settlement touches zero rows and
	// reports Conflict instead of downgrading the PAID payment.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bill_payments SET status = $2")).
		WithArgs("bip_1", model.BillPaymentFailed, model.BillPaymentPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM bill_payments WHERE payment_id = $1")).
		WithArgs("bip_1").
		WillReturnRows(sqlmock.NewRows([]string{"payment_id", "user_id", "source_account", "biller_id", "reference_number", "amount", "currency", "status", "transaction_id", "created_at"}).
			AddRow("bip_1", "usr_1", "1000000001", "blr_1", "REF-001", int64(2500), "USD", model.BillPaymentPaid, "txn_1", time.Now()))

	err := d.UpdateBillPaymentStatus(context.Background(), "bip_1", model.BillPaymentFailed)
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBillPayment(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM bill_payments WHERE payment_id = $1")).
		WithArgs("bip_1").
		WillReturnRows(sqlmock.NewRows([]string{"payment_id", "user_id", "source_account", "biller_id", "reference_number", "amount", "currency", "status", "transaction_id", "created_at"}).
			AddRow("bip_1", "usr_1", "1000000001", "blr_1", "REF-001", int64(2500), "USD", model.BillPaymentPaid, "txn_1", time.Now()))

	payment, err := d.GetBillPayment(context.Background(), "bip_1")
	assert.NoError(t, err)
	assert.Equal(t, model.BillPaymentPaid, payment.Status)
	assert.Equal(t, "txn_1", payment.TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBillerNotFound(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM billers WHERE biller_id = $1")).
		WithArgs("blr_missing").
		WillReturnRows(sqlmock.NewRows([]string{"biller_id"}))

	_, err := d.GetBiller(context.Background(), "blr_missing")
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
