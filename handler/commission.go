package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AnTengye/escrowdash/middleware"
	"github.com/AnTengye/escrowdash/model"
	"github.com/AnTengye/escrowdash/pkg/logger"
	"github.com/AnTengye/escrowdash/pkg/tez"
	"github.com/AnTengye/escrowdash/service"
)

// Submitter runs a contract call to confirmation.
type Submitter interface {
	Submit(ctx context.Context, a service.Action) (*model.Receipt, error)
}

type CommissionHandler struct {
	reader    *service.Reader
	submitter Submitter
}

func NewCommissionHandler(reader *service.Reader, submitter Submitter) *CommissionHandler {
	return &CommissionHandler{reader: reader, submitter: submitter}
}

// WriteResponse is returned by every successful write: the receipt and the
// commission as re-read from the indexer.
type WriteResponse struct {
	Receipt    *model.Receipt          `json:"receipt"`
	Commission *model.CommissionDetail `json:"commission,omitempty"`
}

type ListResponse struct {
	Filter   service.Filter     `json:"filter"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []model.Commission `json:"items"`
}

type DepositRequest struct {
	// Amount in tez, e.g. "1.5". Defaults to the commission's offer for the
	// owner and its fee for the counterparty.
	Amount string `json:"amount"`
}

type ClaimRequest struct {
	Secret string `json:"secret" binding:"required"`
}

// pageParams reads page and page_size. page is zero based.
func pageParams(c *gin.Context) (page, size int, ok bool) {
	page, size = 0, service.DefaultPageSize
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "Invalid page")
			return 0, 0, false
		}
		page = n
	}
	if v := c.Query("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "Invalid page_size")
			return 0, 0, false
		}
		size = n
	}
	return page, size, true
}

// List handles GET /api/commissions
func (h *CommissionHandler) List(c *gin.Context) {
	filter, err := service.ParseFilter(c.Query("filter"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	page, size, ok := pageParams(c)
	if !ok {
		return
	}

	items := h.reader.List(c.Request.Context(), filter, page*size, size)
	c.JSON(http.StatusOK, ListResponse{Filter: filter, Page: page, PageSize: size, Items: items})
}

func (h *CommissionHandler) Count(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"total": h.reader.Count(c.Request.Context())})
}

// Get handles GET /api/commissions/:id
func (h *CommissionHandler) Get(c *gin.Context) {
	detail, err := h.reader.GetOne(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// Reverts handles GET /api/admin/reverts
func (h *CommissionHandler) Reverts(c *gin.Context) {
	page, size, ok := pageParams(c)
	if !ok {
		return
	}
	items := h.reader.ListPendingReverts(c.Request.Context(), page*size, size)
	c.JSON(http.StatusOK, ListResponse{Filter: service.FilterReverts, Page: page, PageSize: size, Items: items})
}

// Post handles POST /api/commissions
func (h *CommissionHandler) Post(c *gin.Context) {
	var draft model.CommissionDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	a, err := service.PostCommission(draft)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	h.run(c, a)
}

// Simple returns a handler for the actions that only carry the id.
func (h *CommissionHandler) Simple(build func(id string) service.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.run(c, build(c.Param("id")))
	}
}

// DepositOwner handles POST /api/commissions/:id/deposit-owner
func (h *CommissionHandler) DepositOwner(c *gin.Context) {
	h.deposit(c, func(cm model.Commission) tez.Mutez { return cm.Offer }, service.DepositOwner)
}

// DepositCounterparty handles POST /api/commissions/:id/deposit-counterparty
func (h *CommissionHandler) DepositCounterparty(c *gin.Context) {
	h.deposit(c, func(cm model.Commission) tez.Mutez { return cm.Fee }, service.DepositCounterparty)
}

func (h *CommissionHandler) deposit(c *gin.Context, stake func(model.Commission) tez.Mutez, build func(string, tez.Mutez) service.Action) {
	id := c.Param("id")

	var req DepositRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request")
			return
		}
	}

	var amount tez.Mutez
	if req.Amount != "" {
		m, err := tez.ParseTez(req.Amount)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		amount = m
	} else {
		detail, err := h.reader.GetOne(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		amount = stake(detail.Commission)
	}
	if amount <= 0 {
		badRequest(c, "Deposit amount must be positive")
		return
	}

	h.run(c, build(id, amount))
}

// ClaimCounterparty handles POST /api/commissions/:id/claim-counterparty.
// The secret is checked against the stored hash before anything is sent.
func (h *CommissionHandler) ClaimCounterparty(c *gin.Context) {
	id := c.Param("id")

	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Secret is required")
		return
	}

	detail, err := h.reader.GetOne(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := service.VerifyClaimSecret(detail.Commission, req.Secret); err != nil {
		respondError(c, err)
		return
	}

	h.run(c, service.ClaimCounterparty(id, req.Secret))
}

// run submits a, waits for confirmation and re-reads the commission.
func (h *CommissionHandler) run(c *gin.Context, a service.Action) {
	ctx := c.Request.Context()
	a.Sender = middleware.GetAddress(c)

	receipt, err := h.submitter.Submit(ctx, a)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := WriteResponse{Receipt: receipt}
	detail, err := h.reader.GetOne(ctx, a.TransactionID)
	if err != nil {
		// the indexer may lag the node by a block
		logger.Warn(ctx, "re-read after write failed", "transaction_id", a.TransactionID, "error", err)
	} else {
		resp.Commission = &detail
	}
	c.JSON(http.StatusOK, resp)
}
