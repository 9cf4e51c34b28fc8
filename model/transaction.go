package model

import (
	"encoding/json"
	"time"
)

const (
	StatusPending  = "PENDING"
	StatusSuccess  = "SUCCESS"
	StatusFailed   = "FAILED"
	StatusRefunded = "REFUNDED"

	BillPaymentPending = "PENDING"
	BillPaymentPaid    = "PAID"
	BillPaymentFailed  = "FAILED"
)

type Transaction struct {
	ID                   int64                  `json:"-"`
	TransactionID        string                 `json:"id"`
	Sender               string                 `json:"sender"`
	Receiver             string                 `json:"receiver"`
	Amount               int64                  `json:"amount"`
	Currency             string                 `json:"currency"`
	Fee                  int64                  `json:"fee"`
	FeeAccount           string                 `json:"-"`
	IdempotencyKey       string                 `json:"idempotency_key,omitempty"`
	Status               string                 `json:"status"`
	SenderBalanceAfter   int64                  `json:"sender_balance_after"`
	ReceiverBalanceAfter int64                  `json:"receiver_balance_after"`
	Description          string                 `json:"description,omitempty"`
	ParentTransaction    string                 `json:"parent_transaction,omitempty"`
	Hash                 string                 `json:"hash"`
	CreatedAt            time.Time              `json:"created_at"`
	MetaData             map[string]interface{} `json:"meta_data,omitempty"`
}

func (transaction *Transaction) ToJSON() ([]byte, error) {
	return json.Marshal(transaction)
}

// TransferRequest is the input to the ledger engine's Transfer operation.
type TransferRequest struct {
	Sender         string                 `json:"sender"`
	Receiver       string                 `json:"receiver"`
	Amount         int64                  `json:"amount"`
	Currency       string                 `json:"currency"`
	Fee            int64                  `json:"fee"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	Description    string                 `json:"description,omitempty"`
	MetaData       map[string]interface{} `json:"meta_data,omitempty"`
}

type BillPayment struct {
	ID              int64     `json:"-"`
	PaymentID       string    `json:"payment_id"`
	UserID          string    `json:"user_id"`
	SourceAccount   string    `json:"source_account"`
	BillerID        string    `json:"biller_id"`
	ReferenceNumber string    `json:"reference_number"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	TransactionID   string    `json:"transaction_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
