package model

import (
	"time"
)

type AccountType string

const (
	AccountTypeSavings AccountType = "SAVINGS"
	AccountTypeSalary  AccountType = "SALARY"
	AccountTypeBasic   AccountType = "BASIC"
)

// MaxWithdrawal returns the per-type maximum single withdrawal in minor
// units. The limit is derived from the account type and never stored.
func (t AccountType) MaxWithdrawal() int64 {
	switch t {
	case AccountTypeSavings:
		return 1000000 // 10,000.00
	case AccountTypeSalary:
		return 2500000 // 25,000.00
	case AccountTypeBasic:
		return 500000 // 5,000.00
	default:
		return 0
	}
}

// Valid reports whether t is one of the known account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeSavings, AccountTypeSalary, AccountTypeBasic:
		return true
	}
	return false
}

type Account struct {
	ID        int64                  `json:"-"`
	Number    string                 `json:"account_number"`
	OwnerID   string                 `json:"owner_id"`
	Type      AccountType            `json:"account_type"`
	Currency  string                 `json:"currency"`
	Balance   int64                  `json:"balance"`
	Active    bool                   `json:"active"`
	BankName  string                 `json:"bank_name,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	MetaData  map[string]interface{} `json:"meta_data,omitempty"`
}

type Biller struct {
	ID            int64     `json:"-"`
	BillerID      string    `json:"biller_id"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	FixedAmount   int64     `json:"fixed_amount"`
	SystemAccount string    `json:"system_account"`
	CreatedAt     time.Time `json:"created_at"`
}
