package database

import (
	"context"
	"time"

	"github.com/ledgerguard/ledgerguard/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	account     // Interface for account-related operations
	transaction // Interface for transaction-related operations
	billpayment // Interface for bill-payment operations
	events      // Interface for incident and login-event operations
}

// account defines methods for handling accounts. Balances are mutated
// exclusively through PerformTransfer; the account methods here never
// touch them.
type account interface {
	CreateAccount(ctx context.Context, account model.Account) (model.Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*model.Account, error)
	GetAllAccounts(ctx context.Context, limit, offset int) ([]model.Account, error)
	UpdateAccountStatus(ctx context.Context, number string, active bool) error
}

// transaction defines methods for handling transactions.
type transaction interface {
	PerformTransfer(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*model.Transaction, error)
	GetAllTransactions(ctx context.Context, limit, offset int) ([]model.Transaction, error)
	GetSenderWindowStats(ctx context.Context, sender string, since time.Time) (int, int64, error)
	GetSenderAverageAmount(ctx context.Context, sender, excludeTxnID string, since time.Time) (int64, error)
}

// billpayment defines methods for billers and bill payments.
type billpayment interface {
	CreateBiller(ctx context.Context, biller model.Biller) (model.Biller, error)
	GetBiller(ctx context.Context, id string) (*model.Biller, error)
	GetAllBillers(ctx context.Context) ([]model.Biller, error)
	CreateBillPayment(ctx context.Context, payment model.BillPayment) (model.BillPayment, error)
	GetBillPayment(ctx context.Context, id string) (*model.BillPayment, error)
	SettleBillPayment(ctx context.Context, paymentID string, txn *model.Transaction) (*model.Transaction, error)
	UpdateBillPaymentStatus(ctx context.Context, paymentID string, status string) error
}

// events defines the append-only write path and the trailing-window read
// path the risk detectors depend on.
type events interface {
	RecordLoginEvent(ctx context.Context, event *model.LoginEvent) (*model.LoginEvent, error)
	RecordIncident(ctx context.Context, incident *model.Incident) (*model.Incident, error)
	IncidentExists(ctx context.Context, label, dedupKey string, since time.Time) (bool, error)
	GetIncidents(ctx context.Context, filter model.IncidentFilter) ([]model.Incident, error)
	GetLoginEvents(ctx context.Context, filter model.IncidentFilter) ([]model.LoginEvent, error)
	GetPriorSuccessfulLogin(ctx context.Context, userID, excludeEventID string) (*model.LoginEvent, error)
	CountFailedLoginsByIP(ctx context.Context, ip string, since time.Time) (int, error)
	CountDistinctFailedEmailsByIP(ctx context.Context, ip string, since time.Time) (int, error)
	CountFailedLoginsByEmail(ctx context.Context, email string, since time.Time) (int, error)
	CountDistinctUsersByIP(ctx context.Context, ip string, since time.Time) (int, error)
}
