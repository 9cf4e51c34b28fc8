package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/ledgerguard/ledgerguard/internal/apierror"
	"github.com/ledgerguard/ledgerguard/model"
)

func (d Datasource) CreateBiller(ctx context.Context, biller model.Biller) (model.Biller, error) {
	biller.BillerID = model.GenerateUUIDWithSuffix("blr")
	biller.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO billers(biller_id, name, category, fixed_amount, system_account, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		biller.BillerID, biller.Name, biller.Category, biller.FixedAmount, biller.SystemAccount, biller.CreatedAt,
	)
	if err != nil {
		return model.Biller{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create biller", err)
	}
	return biller, nil
}

func (d Datasource) GetBiller(ctx context.Context, id string) (*model.Biller, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT biller_id, name, COALESCE(category, ''), fixed_amount, system_account, created_at
		FROM billers
		WHERE biller_id = $1
	`, id)

	biller := &model.Biller{}
	err := row.Scan(&biller.BillerID, &biller.Name, &biller.Category, &biller.FixedAmount, &biller.SystemAccount, &biller.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Biller with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve biller", err)
	}
	return biller, nil
}

func (d Datasource) GetAllBillers(ctx context.Context) ([]model.Biller, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT biller_id, name, COALESCE(category, ''), fixed_amount, system_account, created_at
		FROM billers
		ORDER BY name
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve billers", err)
	}
	defer rows.Close()

	var billers []model.Biller
	for rows.Next() {
		biller := model.Biller{}
		if err := rows.Scan(&biller.BillerID, &biller.Name, &biller.Category, &biller.FixedAmount, &biller.SystemAccount, &biller.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan biller data", err)
		}
		billers = append(billers, biller)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over billers", err)
	}
	return billers, nil
}

func (d Datasource) CreateBillPayment(ctx context.Context, payment model.BillPayment) (model.BillPayment, error) {
	payment.PaymentID = model.GenerateUUIDWithSuffix("bip")
	payment.Status = model.BillPaymentPending
	payment.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO bill_payments(payment_id, user_id, source_account, biller_id, reference_number, amount, currency, status, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		payment.PaymentID, payment.UserID, payment.SourceAccount, payment.BillerID, payment.ReferenceNumber, payment.Amount, payment.Currency, payment.Status, payment.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return model.BillPayment{}, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Reference number '%s' already used for this biller", payment.ReferenceNumber), err)
		}
		return model.BillPayment{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create bill payment", err)
	}
	return payment, nil
}

func (d Datasource) GetBillPayment(ctx context.Context, id string) (*model.BillPayment, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT payment_id, user_id, source_account, biller_id, reference_number, amount, currency, status, COALESCE(transaction_id, ''), created_at
		FROM bill_payments
		WHERE payment_id = $1
	`, id)

	payment := &model.BillPayment{}
	err := row.Scan(&payment.PaymentID, &payment.UserID, &payment.SourceAccount, &payment.BillerID, &payment.ReferenceNumber, &payment.Amount, &payment.Currency, &payment.Status, &payment.TransactionID, &payment.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Bill payment with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve bill payment", err)
	}
	return payment, nil
}

// SettleBillPayment runs the settlement transfer and the bill-payment
// status flip in one database transaction: either both commit or neither
// does.
func (d Datasource) SettleBillPayment(ctx context.Context, paymentID string, txn *model.Transaction) (*model.Transaction, error) {
	ctx, span := otel.Tracer("ledger.database").Start(ctx, "Settling bill payment")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin settlement transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	recorded, err := d.performTransferTx(ctx, tx, txn)
	if errors.Is(err, errIdempotencyRace) {
		// Settlement transfers never reuse idempotency keys, so a race
		// here means a concurrent settlement of the same payment won.
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Bill payment '%s' was settled concurrently", paymentID), err)
	}
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE bill_payments
		SET status = $2, transaction_id = $3
		WHERE payment_id = $1 AND status = $4
	`, paymentID, model.BillPaymentPaid, recorded.TransactionID, model.BillPaymentPending)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update bill payment status", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Bill payment '%s' is not pending", paymentID), nil)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit settlement", err)
	}
	return recorded, nil
}

// UpdateBillPaymentStatus marks a payment FAILED after a rejected
// settlement. Only PENDING payments move; the PAID transition happens
// exclusively inside SettleBillPayment's transaction and a FAILED mark
// racing a successful settlement must lose.
func (d Datasource) UpdateBillPaymentStatus(ctx context.Context, paymentID string, status string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE bill_payments
		SET status = $2
		WHERE payment_id = $1 AND status = $3
	`, paymentID, status, model.BillPaymentPending)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update bill payment status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		if _, err := d.GetBillPayment(ctx, paymentID); err != nil {
			return err
		}
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Bill payment '%s' is no longer pending", paymentID), nil)
	}
	return nil
}
