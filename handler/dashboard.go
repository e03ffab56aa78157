package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AnTengye/escrowdash/service"
)

// DashboardHandler exposes the stateful listing of the dashboard screen.
type DashboardHandler struct {
	pager *service.Pager
}

func NewDashboardHandler(pager *service.Pager) *DashboardHandler {
	return &DashboardHandler{pager: pager}
}

// View handles GET /api/dashboard. Query parameters that are present change
// the pager state; absent ones keep it. refresh=true forces a re-read.
func (h *DashboardHandler) View(c *gin.Context) {
	var req service.PageRequest

	if v, ok := c.GetQuery("filter"); ok {
		f, err := service.ParseFilter(v)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		req.Filter = &f
	}
	if v, ok := c.GetQuery("page"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "Invalid page")
			return
		}
		req.Page = &n
	}
	if v, ok := c.GetQuery("page_size"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "Invalid page_size")
			return
		}
		req.PageSize = &n
	}

	ctx := c.Request.Context()
	if c.Query("refresh") == "true" {
		h.pager.Apply(ctx, req)
		c.JSON(http.StatusOK, h.pager.Refresh(ctx))
		return
	}
	c.JSON(http.StatusOK, h.pager.Apply(ctx, req))
}
