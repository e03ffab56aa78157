package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AnTengye/escrowdash/pkg/tez"
	"github.com/AnTengye/escrowdash/service"
)

type AccountHandler struct {
	reader *service.Reader
}

func NewAccountHandler(reader *service.Reader) *AccountHandler {
	return &AccountHandler{reader: reader}
}

// Commissions lists the commissions address takes part in, owned first.
func (h *AccountHandler) Commissions(c *gin.Context) {
	address := c.Param("address")
	c.JSON(http.StatusOK, gin.H{
		"address": address,
		"items":   h.reader.ListByParty(c.Request.Context(), address),
	})
}

func (h *AccountHandler) Balance(c *gin.Context) {
	address := c.Param("address")
	m := h.reader.Balance(c.Request.Context(), address)
	c.JSON(http.StatusOK, gin.H{
		"address":       address,
		"balance_mutez": m,
		"balance":       m.String(),
		"display":       tez.FormatCompact(m),
	})
}
