package ledgerguard

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ledgerguard/ledgerguard/config"
	"github.com/ledgerguard/ledgerguard/internal/apierror"
	"github.com/ledgerguard/ledgerguard/internal/request"
	"github.com/ledgerguard/ledgerguard/model"
)

// applyExternalAccount sets the account number and bank name from the
// configured account-number generation service. When auto generation is
// disabled the account keeps whatever number the caller supplied (or
// none, which lets the store generate one).
func applyExternalAccount(account *model.Account) error {
	type accountDetails struct {
		AccountNumber string `json:"account_number"`
		BankName      string `json:"bank_name"`
	}

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	if cnf.AccountNumberGeneration.EnableAutoGeneration {
		req, err := http.NewRequest(http.MethodGet, cnf.AccountNumberGeneration.HttpService.Url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", cnf.AccountNumberGeneration.HttpService.Headers.Authorization)

		var response accountDetails
		_, err = request.Call(req, &response)
		if err != nil {
			return err
		}

		if response.AccountNumber != "" && response.BankName != "" {
			account.Number = response.AccountNumber
			account.BankName = response.BankName
		}
	}

	return nil
}

// CreateAccount provisions a new account. New accounts start active with
// whatever opening balance the caller supplies (administrative
// provisioning); thereafter the balance moves only through transfers.
func (l *LedgerGuard) CreateAccount(ctx context.Context, account model.Account) (model.Account, error) {
	if !account.Type.Valid() {
		return model.Account{}, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("Unknown account type '%s'", account.Type), nil)
	}
	if account.OwnerID == "" {
		return model.Account{}, apierror.NewAPIError(apierror.ErrInvalidInput, "Owner is required", nil)
	}
	if account.Balance < 0 {
		return model.Account{}, apierror.NewAPIError(apierror.ErrInvalidAmount, "Opening balance cannot be negative", nil)
	}

	if err := applyExternalAccount(&account); err != nil {
		return model.Account{}, err
	}
	return l.datasource.CreateAccount(ctx, account)
}

// GetAccount retrieves an account by its account number.
func (l *LedgerGuard) GetAccount(ctx context.Context, number string) (*model.Account, error) {
	return l.datasource.GetAccountByNumber(ctx, number)
}

// GetAllAccounts retrieves a page of accounts.
func (l *LedgerGuard) GetAllAccounts(ctx context.Context, limit, offset int) ([]model.Account, error) {
	return l.datasource.GetAllAccounts(ctx, limit, offset)
}

// FreezeAccount deactivates an account. The balance is untouched;
// transfers involving the account reject with AccountInactive until it
// is unfrozen. Freezing an already-frozen account is AlreadyInState.
func (l *LedgerGuard) FreezeAccount(ctx context.Context, number, actor string) error {
	if err := l.datasource.UpdateAccountStatus(ctx, number, false); err != nil {
		return err
	}
	l.recordAdminIncident(ctx, actor, "Account frozen", map[string]interface{}{"account_number": number})
	return nil
}

// UnfreezeAccount reactivates a frozen account.
func (l *LedgerGuard) UnfreezeAccount(ctx context.Context, number, actor string) error {
	if err := l.datasource.UpdateAccountStatus(ctx, number, true); err != nil {
		return err
	}
	l.recordAdminIncident(ctx, actor, "Account unfrozen", map[string]interface{}{"account_number": number})
	return nil
}
