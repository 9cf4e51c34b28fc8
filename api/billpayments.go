package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerguard "github.com/ledgerguard/ledgerguard"
	model2 "github.com/ledgerguard/ledgerguard/api/model"
	"github.com/ledgerguard/ledgerguard/model"
)

func (a Api) CreateBiller(c *gin.Context) {
	var newBiller model2.CreateBiller
	if err := c.ShouldBindJSON(&newBiller); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := newBiller.ValidateCreateBiller(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.ledger.CreateBiller(c.Request.Context(), newBiller.ToBiller())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetBiller(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	biller, err := a.ledger.GetBiller(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, biller)
}

func (a Api) GetAllBillers(c *gin.Context) {
	billers, err := a.ledger.GetAllBillers(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, billers)
}

// RecordBillPayment settles a bill payment synchronously. The response
// carries the PAID payment including its settlement transaction id.
func (a Api) RecordBillPayment(c *gin.Context) {
	var newPayment model2.RecordBillPayment
	if err := c.ShouldBindJSON(&newPayment); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := newPayment.ValidateRecordBillPayment(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	var amount int64
	if newPayment.Amount != "" {
		parsed, err := model.ParseAmount(newPayment.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amount = parsed
	}

	payment, err := a.ledger.BillPay(c.Request.Context(), ledgerguard.BillPayRequest{
		UserID:          newPayment.UserID,
		SourceAccount:   newPayment.SourceAccount,
		BillerID:        newPayment.BillerID,
		ReferenceNumber: newPayment.ReferenceNumber,
		Amount:          amount,
		MetaData:        newPayment.MetaData,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (a Api) GetBillPayment(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	payment, err := a.ledger.GetBillPayment(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}
