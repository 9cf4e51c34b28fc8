package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerguard "github.com/ledgerguard/ledgerguard"
	"github.com/ledgerguard/ledgerguard/api/middleware"
	"github.com/ledgerguard/ledgerguard/config"
	"github.com/ledgerguard/ledgerguard/internal/apierror"
	"github.com/ledgerguard/ledgerguard/model"
)

type Api struct {
	ledger *ledgerguard.LedgerGuard
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/accounts", a.CreateAccount)
	router.GET("/accounts/:number", a.GetAccount)
	router.GET("/accounts", a.GetAllAccounts)

	router.POST("/transactions", a.RecordTransfer)
	router.POST("/refund-transaction/:id", a.RefundTransaction)
	router.GET("/transactions/:id", a.GetTransaction)
	router.GET("/transactions", a.GetAllTransactions)

	router.POST("/billers", a.CreateBiller)
	router.GET("/billers/:id", a.GetBiller)
	router.GET("/billers", a.GetAllBillers)
	router.POST("/bill-payments", a.RecordBillPayment)
	router.GET("/bill-payments/:id", a.GetBillPayment)

	router.POST("/login-events", a.RecordLoginEvent)
	router.GET("/login-events", a.GetLoginEvents)
	router.GET("/incidents", a.GetIncidents)

	admin := router.Group("/admin")
	admin.POST("/accounts/:number/freeze", a.FreezeAccount)
	admin.POST("/accounts/:number/unfreeze", a.UnfreezeAccount)
	admin.POST("/users/:id/block", a.BlockUser)
	admin.POST("/users/:id/unblock", a.UnblockUser)
	admin.POST("/users/:id/terminate-sessions", a.TerminateSessions)

	return a.router
}

func NewAPI(l *ledgerguard.LedgerGuard) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	a := &Api{ledger: l, router: r}

	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}
	r.Use(middleware.RateLimitMiddleware(conf, func(c *gin.Context, event *model.RequestEvent) {
		l.RecordRequestEvent(c.Request.Context(), event)
	}))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return a
}

// handleError writes an error response with the status the error's
// domain code maps to.
func handleError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		c.JSON(status, gin.H{"error": apiErr.Message, "code": apiErr.Code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
