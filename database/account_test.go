package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/ledgerguard/ledgerguard/internal/apierror"
	"github.com/ledgerguard/ledgerguard/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func newTestDatasource(t *testing.T) (Datasource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return Datasource{Conn: db}, mock
}

func TestCreateAccountGeneratesNumber(t *testing.T) {
	d, mock := newTestDatasource(t)

	owner := gofakeit.UUID()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WithArgs(sqlmock.AnyArg(), owner, "SAVINGS", "USD", int64(0), true, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	account, err := d.CreateAccount(context.Background(), model.Account{
		OwnerID:  owner,
		Type:     model.AccountTypeSavings,
		Currency: "USD",
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, account.Number)
	assert.True(t, account.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccountRetriesOnGeneratedCollision(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	account, err := d.CreateAccount(context.Background(), model.Account{
		OwnerID:  "usr_1",
		Type:     model.AccountTypeBasic,
		Currency: "USD",
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, account.Number)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccountSuppliedNumberConflicts(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := d.CreateAccount(context.Background(), model.Account{
		Number:   "1000000001",
		OwnerID:  "usr_1",
		Type:     model.AccountTypeBasic,
		Currency: "USD",
	})
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountByNumberNotFound(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE account_number = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"account_number"}))

	_, err := d.GetAccountByNumber(context.Background(), "missing")
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAccountStatusAlreadyInState(t *testing.T) {
	d, mock := newTestDatasource(t)

	number := "1000000001"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET active = $2")).
		WithArgs(number, false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE account_number = $1")).
		WithArgs(number).
		WillReturnRows(sqlmock.NewRows([]string{"account_number", "owner_id", "account_type", "currency", "balance", "active", "bank_name", "created_at", "meta_data"}).
			AddRow(number, "usr_1", "BASIC", "USD", int64(5000), false, "", time.Now(), []byte(nil)))

	err := d.UpdateAccountStatus(context.Background(), number, false)
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrAlreadyInState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAccountStatusMissingAccount(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET active = $2")).
		WithArgs("missing", false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE account_number = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"account_number"}))

	err := d.UpdateAccountStatus(context.Background(), "missing", false)
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
