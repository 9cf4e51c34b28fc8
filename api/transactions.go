package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	model2 "github.com/ledgerguard/ledgerguard/api/model"
)

// RecordTransfer executes a transfer synchronously and returns the
// committed transaction with both post-transfer balances. A replayed
// idempotency key returns the originally committed transaction.
func (a Api) RecordTransfer(c *gin.Context) {
	var newTransfer model2.RecordTransfer
	if err := c.ShouldBindJSON(&newTransfer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := newTransfer.ValidateRecordTransfer(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	req, err := newTransfer.ToTransferRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txn, err := a.ledger.Transfer(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, txn)
}

func (a Api) RefundTransaction(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	refund, err := a.ledger.RefundTransaction(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

func (a Api) GetTransaction(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	txn, err := a.ledger.GetTransaction(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (a Api) GetAllTransactions(c *gin.Context) {
	limit, offset := pagination(c)
	transactions, err := a.ledger.GetAllTransactions(c.Request.Context(), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, transactions)
}
