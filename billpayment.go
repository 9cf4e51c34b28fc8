package ledgerguard

import (
	"context"
	"fmt"

	"github.com/ledgerguard/ledgerguard/internal/apierror"
	"github.com/ledgerguard/ledgerguard/model"
	"github.com/sirupsen/logrus"
)

// BillPayRequest is the input to the BillPay operation. Amount is
// optional for fixed-fee billers.
type BillPayRequest struct {
	UserID          string                 `json:"user_id"`
	SourceAccount   string                 `json:"source_account"`
	BillerID        string                 `json:"biller_id"`
	ReferenceNumber string                 `json:"reference_number"`
	Amount          int64                  `json:"amount,omitempty"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"`
}

// CreateBiller registers a biller and its system settlement account.
func (l *LedgerGuard) CreateBiller(ctx context.Context, biller model.Biller) (model.Biller, error) {
	if biller.Name == "" || biller.SystemAccount == "" {
		return model.Biller{}, apierror.NewAPIError(apierror.ErrInvalidInput, "Biller name and system account are required", nil)
	}
	return l.datasource.CreateBiller(ctx, biller)
}

// GetBiller retrieves a biller by id.
func (l *LedgerGuard) GetBiller(ctx context.Context, id string) (*model.Biller, error) {
	return l.datasource.GetBiller(ctx, id)
}

// GetAllBillers lists all registered billers.
func (l *LedgerGuard) GetAllBillers(ctx context.Context) ([]model.Biller, error) {
	return l.datasource.GetAllBillers(ctx)
}

// GetBillPayment retrieves a bill payment by id.
func (l *LedgerGuard) GetBillPayment(ctx context.Context, id string) (*model.BillPayment, error) {
	return l.datasource.GetBillPayment(ctx, id)
}

// BillPay settles a bill: it records a PENDING payment, then moves the
// funds to the biller's system account and flips the payment to PAID in
// one database transaction. On settlement failure the payment is marked
// FAILED and no money moves. A repeated (biller, reference) pair rejects
// with Conflict before any settlement is attempted.
func (l *LedgerGuard) BillPay(ctx context.Context, req BillPayRequest) (*model.BillPayment, error) {
	ctx, span := tracer.Start(ctx, "BillPay")
	defer span.End()

	biller, err := l.datasource.GetBiller(ctx, req.BillerID)
	if err != nil {
		return nil, err
	}

	amount := req.Amount
	if amount == 0 {
		amount = biller.FixedAmount
	}
	if amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, "Bill amount must be positive", nil)
	}
	if req.SourceAccount == "" || req.ReferenceNumber == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Source account and reference number are required", nil)
	}
	if req.SourceAccount == biller.SystemAccount {
		return nil, apierror.NewAPIError(apierror.ErrSameAccount, "Source account cannot be the biller settlement account", nil)
	}

	source, err := l.datasource.GetAccountByNumber(ctx, req.SourceAccount)
	if err != nil {
		return nil, err
	}
	if err := l.enforceWithdrawalLimit(ctx, source.Number, amount); err != nil {
		return nil, err
	}

	payment, err := l.datasource.CreateBillPayment(ctx, model.BillPayment{
		UserID:          req.UserID,
		SourceAccount:   req.SourceAccount,
		BillerID:        biller.BillerID,
		ReferenceNumber: req.ReferenceNumber,
		Amount:          amount,
		Currency:        source.Currency,
		Status:          model.BillPaymentPending,
	})
	if err != nil {
		return nil, err
	}

	settlement := &model.Transaction{
		TransactionID: model.GenerateUUIDWithSuffix("txn"),
		Sender:        req.SourceAccount,
		Receiver:      biller.SystemAccount,
		Amount:        amount,
		Currency:      source.Currency,
		Description:   fmt.Sprintf("Bill payment %s to %s", payment.PaymentID, biller.Name),
		MetaData:      req.MetaData,
	}

	locker, err := l.acquireTransferLock(ctx, settlement.Sender, settlement.Receiver)
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

	txn, err := l.datasource.SettleBillPayment(ctx, payment.PaymentID, settlement)
	if err != nil {
		if updateErr := l.datasource.UpdateBillPaymentStatus(ctx, payment.PaymentID, model.BillPaymentFailed); updateErr != nil {
			logrus.Errorf("failed to mark bill payment %s as failed: %v", payment.PaymentID, updateErr)
		}
		return nil, err
	}

	payment.Status = model.BillPaymentPaid
	payment.TransactionID = txn.TransactionID
	l.postTransactionActions(ctx, txn)
	return &payment, nil
}
