package model

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/ledgerguard/ledgerguard/model"
)

// amountRule validates a decimal amount string without committing to a
// conversion yet; conversion happens in the To* methods.
func amountRule(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := model.ParseAmount(s); err != nil {
		return errors.New("amount must be a positive decimal with at most 2 decimal places")
	}
	return nil
}

// CreateAccount is the request body for provisioning an account. Amounts
// travel as decimal strings; the ledger stores minor units.
type CreateAccount struct {
	OwnerID        string                 `json:"owner_id"`
	Type           string                 `json:"account_type"`
	Currency       string                 `json:"currency"`
	Number         string                 `json:"account_number,omitempty"`
	OpeningBalance string                 `json:"opening_balance,omitempty"`
	MetaData       map[string]interface{} `json:"meta_data,omitempty"`
}

func (a *CreateAccount) ValidateCreateAccount() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.OwnerID, validation.Required),
		validation.Field(&a.Type, validation.Required, validation.In("SAVINGS", "SALARY", "BASIC")),
		validation.Field(&a.Currency, validation.Required, validation.Length(3, 3)),
		validation.Field(&a.OpeningBalance, validation.By(amountRule)),
	)
}

func (a *CreateAccount) ToAccount() model.Account {
	var balance int64
	if a.OpeningBalance != "" {
		balance, _ = model.ParseAmount(a.OpeningBalance)
	}
	return model.Account{
		OwnerID:  a.OwnerID,
		Type:     model.AccountType(a.Type),
		Currency: a.Currency,
		Number:   a.Number,
		Balance:  balance,
		MetaData: a.MetaData,
	}
}

// RecordTransfer is the request body for the transfer operation.
type RecordTransfer struct {
	Sender         string                 `json:"sender"`
	Receiver       string                 `json:"receiver"`
	Amount         string                 `json:"amount"`
	Currency       string                 `json:"currency"`
	Fee            string                 `json:"fee,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	Description    string                 `json:"description,omitempty"`
	MetaData       map[string]interface{} `json:"meta_data,omitempty"`
}

func (t *RecordTransfer) ValidateRecordTransfer() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.Sender, validation.Required),
		validation.Field(&t.Receiver, validation.Required),
		validation.Field(&t.Amount, validation.Required, validation.By(amountRule)),
		validation.Field(&t.Currency, validation.Required, validation.Length(3, 3)),
		validation.Field(&t.Fee, validation.By(amountRule)),
	)
}

func (t *RecordTransfer) ToTransferRequest() (*model.TransferRequest, error) {
	amount, err := model.ParseAmount(t.Amount)
	if err != nil {
		return nil, err
	}
	var fee int64
	if t.Fee != "" {
		fee, err = model.ParseAmount(t.Fee)
		if err != nil {
			return nil, err
		}
	}
	return &model.TransferRequest{
		Sender:         t.Sender,
		Receiver:       t.Receiver,
		Amount:         amount,
		Currency:       t.Currency,
		Fee:            fee,
		IdempotencyKey: t.IdempotencyKey,
		Description:    t.Description,
		MetaData:       t.MetaData,
	}, nil
}

// CreateBiller is the request body for registering a biller.
type CreateBiller struct {
	Name          string `json:"name"`
	Category      string `json:"category,omitempty"`
	FixedAmount   string `json:"fixed_amount,omitempty"`
	SystemAccount string `json:"system_account"`
}

func (b *CreateBiller) ValidateCreateBiller() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.Name, validation.Required),
		validation.Field(&b.SystemAccount, validation.Required),
		validation.Field(&b.FixedAmount, validation.By(amountRule)),
	)
}

func (b *CreateBiller) ToBiller() model.Biller {
	var fixed int64
	if b.FixedAmount != "" {
		fixed, _ = model.ParseAmount(b.FixedAmount)
	}
	return model.Biller{
		Name:          b.Name,
		Category:      b.Category,
		FixedAmount:   fixed,
		SystemAccount: b.SystemAccount,
	}
}

// RecordBillPayment is the request body for paying a bill. Amount is
// optional for fixed-fee billers.
type RecordBillPayment struct {
	UserID          string                 `json:"user_id"`
	SourceAccount   string                 `json:"source_account"`
	BillerID        string                 `json:"biller_id"`
	ReferenceNumber string                 `json:"reference_number"`
	Amount          string                 `json:"amount,omitempty"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"`
}

func (p *RecordBillPayment) ValidateRecordBillPayment() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.UserID, validation.Required),
		validation.Field(&p.SourceAccount, validation.Required),
		validation.Field(&p.BillerID, validation.Required),
		validation.Field(&p.ReferenceNumber, validation.Required),
		validation.Field(&p.Amount, validation.By(amountRule)),
	)
}

// RecordLoginEvent is the authentication-result ingest body, fed by the
// external auth collaborator after every attempt.
type RecordLoginEvent struct {
	UserID         string `json:"user_id,omitempty"`
	IP             string `json:"ip"`
	Country        string `json:"country,omitempty"`
	Success        *bool  `json:"success"`
	AttemptedEmail string `json:"attempted_email,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
}

func (e *RecordLoginEvent) ValidateRecordLoginEvent() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.IP, validation.Required, is.IP),
		validation.Field(&e.Success, validation.NotNil),
		validation.Field(&e.AttemptedEmail, is.EmailFormat),
	)
}

func (e *RecordLoginEvent) ToLoginEvent() *model.LoginEvent {
	return &model.LoginEvent{
		UserID:         e.UserID,
		IP:             e.IP,
		Country:        e.Country,
		Success:        e.Success != nil && *e.Success,
		AttemptedEmail: e.AttemptedEmail,
		FailureReason:  e.FailureReason,
		UserAgent:      e.UserAgent,
	}
}
