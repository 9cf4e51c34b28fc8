package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Administrative commands. Each one records an audit incident naming the
// acting operator, taken from the X-Actor header.

func actor(c *gin.Context) string {
	if actor := c.GetHeader("X-Actor"); actor != "" {
		return actor
	}
	return "system"
}

func (a Api) FreezeAccount(c *gin.Context) {
	number, passed := c.Params.Get("number")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account number is required. pass number in the route /:number"})
		return
	}

	if err := a.ledger.FreezeAccount(c.Request.Context(), number, actor(c)); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "account frozen"})
}

func (a Api) UnfreezeAccount(c *gin.Context) {
	number, passed := c.Params.Get("number")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account number is required. pass number in the route /:number"})
		return
	}

	if err := a.ledger.UnfreezeAccount(c.Request.Context(), number, actor(c)); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "account unfrozen"})
}

func (a Api) BlockUser(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	a.ledger.BlockUser(c.Request.Context(), id, actor(c))
	c.JSON(http.StatusOK, gin.H{"message": "user blocked"})
}

func (a Api) UnblockUser(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	a.ledger.UnblockUser(c.Request.Context(), id, actor(c))
	c.JSON(http.StatusOK, gin.H{"message": "user unblocked"})
}

func (a Api) TerminateSessions(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	a.ledger.TerminateSessions(c.Request.Context(), id, actor(c))
	c.JSON(http.StatusOK, gin.H{"message": "sessions terminated"})
}
