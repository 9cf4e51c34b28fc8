package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/ledgerguard/ledgerguard/internal/apierror"
	"github.com/ledgerguard/ledgerguard/model"
)

const accountNumberAttempts = 5

// CreateAccount inserts a new account. When the caller has not supplied
// an account number one is generated and collision-checked by retrying
// on the unique constraint.
func (d Datasource) CreateAccount(ctx context.Context, account model.Account) (model.Account, error) {
	ctx, span := otel.Tracer("account.database").Start(ctx, "Saving account to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(account.MetaData)
	if err != nil {
		return model.Account{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	account.CreatedAt = time.Now()
	account.Active = true

	supplied := account.Number != ""
	for attempt := 0; attempt < accountNumberAttempts; attempt++ {
		if !supplied {
			account.Number = model.GenerateAccountNumber()
		}

		_, err = d.Conn.ExecContext(ctx,
			`INSERT INTO accounts(account_number, owner_id, account_type, currency, balance, active, bank_name, created_at, meta_data) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			account.Number, account.OwnerID, account.Type, account.Currency, account.Balance, account.Active, account.BankName, account.CreatedAt, metaDataJSON,
		)
		if err == nil {
			return account, nil
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if supplied {
				return model.Account{}, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Account number '%s' already exists", account.Number), err)
			}
			continue // collision on a generated number, try another
		}
		return model.Account{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create account", err)
	}

	return model.Account{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to generate a unique account number", err)
}

func (d Datasource) GetAccountByNumber(ctx context.Context, number string) (*model.Account, error) {
	cacheKey := fmt.Sprintf("account:%s", number)
	if d.Cache != nil {
		var cached model.Account
		if err := d.Cache.Get(ctx, cacheKey, &cached); err == nil && cached.Number == number {
			return &cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT account_number, owner_id, account_type, currency, balance, active, COALESCE(bank_name, ''), created_at, meta_data
		FROM accounts
		WHERE account_number = $1
	`, number)

	account := &model.Account{}
	var metaDataJSON []byte
	err := row.Scan(&account.Number, &account.OwnerID, &account.Type, &account.Currency, &account.Balance, &account.Active, &account.BankName, &account.CreatedAt, &metaDataJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account with number '%s' not found", number), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve account", err)
	}

	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &account.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}

	if d.Cache != nil {
		// Balance moves too often to cache for long.
		_ = d.Cache.Set(ctx, cacheKey, account, 10*time.Second)
	}

	return account, nil
}

func (d Datasource) GetAllAccounts(ctx context.Context, limit, offset int) ([]model.Account, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT account_number, owner_id, account_type, currency, balance, active, COALESCE(bank_name, ''), created_at, meta_data
		FROM accounts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve accounts", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		account := model.Account{}
		var metaDataJSON []byte
		err = rows.Scan(&account.Number, &account.OwnerID, &account.Type, &account.Currency, &account.Balance, &account.Active, &account.BankName, &account.CreatedAt, &metaDataJSON)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan account data", err)
		}
		if len(metaDataJSON) > 0 {
			if err := json.Unmarshal(metaDataJSON, &account.MetaData); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
			}
		}
		accounts = append(accounts, account)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over accounts", err)
	}

	return accounts, nil
}

// UpdateAccountStatus toggles the active flag only. It never touches the
// balance. A no-op toggle is rejected so admin freezes are auditable
// exactly once.
func (d Datasource) UpdateAccountStatus(ctx context.Context, number string, active bool) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE accounts
		SET active = $2
		WHERE account_number = $1 AND active != $2
	`, number, active)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update account status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	if rowsAffected == 0 {
		if _, err := d.GetAccountByNumber(ctx, number); err != nil {
			return err
		}
		return apierror.NewAPIError(apierror.ErrAlreadyInState, fmt.Sprintf("Account '%s' is already in the requested state", number), nil)
	}

	if d.Cache != nil {
		_ = d.Cache.Delete(ctx, fmt.Sprintf("account:%s", number))
	}

	return nil
}
