package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	model2 "github.com/ledgerguard/ledgerguard/api/model"
)

func (a Api) CreateAccount(c *gin.Context) {
	var newAccount model2.CreateAccount
	if err := c.ShouldBindJSON(&newAccount); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := newAccount.ValidateCreateAccount(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.ledger.CreateAccount(c.Request.Context(), newAccount.ToAccount())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetAccount(c *gin.Context) {
	number, passed := c.Params.Get("number")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account number is required. pass number in the route /:number"})
		return
	}

	account, err := a.ledger.GetAccount(c.Request.Context(), number)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (a Api) GetAllAccounts(c *gin.Context) {
	limit, offset := pagination(c)
	accounts, err := a.ledger.GetAllAccounts(c.Request.Context(), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, accounts)
}

// pagination reads limit/offset query params with sane bounds.
func pagination(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
