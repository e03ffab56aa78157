package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AnTengye/escrowdash/service"
)

// ActivityHandler serves the notice feed and confirmed operation receipts.
type ActivityHandler struct {
	feed     *service.Feed
	receipts *service.ReceiptStore
}

func NewActivityHandler(feed *service.Feed, receipts *service.ReceiptStore) *ActivityHandler {
	return &ActivityHandler{feed: feed, receipts: receipts}
}

// Notifications handles GET /api/notifications?limit=
func (h *ActivityHandler) Notifications(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "Invalid limit")
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"items": h.feed.Recent(limit)})
}

// Receipts handles GET /api/receipts?transaction_id=
func (h *ActivityHandler) Receipts(c *gin.Context) {
	items := h.receipts.List(c.Query("transaction_id"))
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

func (h *ActivityHandler) Receipt(c *gin.Context) {
	r := h.receipts.Get(c.Param("id"))
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Receipt not found"})
		return
	}
	c.JSON(http.StatusOK, r)
}
