package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AnTengye/escrowdash/config"
	"github.com/AnTengye/escrowdash/middleware"
	"github.com/AnTengye/escrowdash/model"
	"github.com/AnTengye/escrowdash/service"
)

// Deps are the services the API is built on.
type Deps struct {
	Config    *config.Config
	Sessions  Sessions
	Reader    *service.Reader
	Pager     *service.Pager
	Submitter Submitter
	Feed      *service.Feed
	Receipts  *service.ReceiptStore
}

// Register mounts every route on router.
func Register(router *gin.Engine, d Deps) {
	sessionHandler := NewSessionHandler(d.Sessions, &d.Config.Auth)
	commissionHandler := NewCommissionHandler(d.Reader, d.Submitter)
	dashboardHandler := NewDashboardHandler(d.Pager)
	accountHandler := NewAccountHandler(d.Reader)
	activityHandler := NewActivityHandler(d.Feed, d.Receipts)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"network":   d.Config.Chain.Network,
			"contract":  d.Config.Chain.ContractAddress,
			"session":   d.Sessions.State(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	api := router.Group("/api")
	{
		api.GET("/session", sessionHandler.Get)
		api.POST("/session/connect", sessionHandler.Connect)
		api.POST("/session/disconnect", sessionHandler.Disconnect)
	}

	protected := api.Group("/")
	protected.Use(middleware.SessionAuth(&d.Config.Auth, d.Sessions))
	{
		protected.GET("/commissions", commissionHandler.List)
		protected.GET("/commissions/count", commissionHandler.Count)
		protected.GET("/commissions/:id", commissionHandler.Get)
		protected.POST("/commissions", commissionHandler.Post)
		protected.POST("/commissions/:id/accept", commissionHandler.Simple(service.Accept))
		protected.POST("/commissions/:id/approve", commissionHandler.Simple(service.Approve))
		protected.POST("/commissions/:id/deposit-owner", commissionHandler.DepositOwner)
		protected.POST("/commissions/:id/deposit-counterparty", commissionHandler.DepositCounterparty)
		protected.POST("/commissions/:id/claim-owner", commissionHandler.Simple(service.ClaimOwner))
		protected.POST("/commissions/:id/claim-counterparty", commissionHandler.ClaimCounterparty)
		protected.POST("/commissions/:id/cancel-owner", commissionHandler.Simple(service.CancelOwner))
		protected.POST("/commissions/:id/cancel-counterparty", commissionHandler.Simple(service.CancelCounterparty))

		protected.GET("/dashboard", dashboardHandler.View)
		protected.GET("/accounts/:address/commissions", accountHandler.Commissions)
		protected.GET("/accounts/:address/balance", accountHandler.Balance)

		protected.GET("/notifications", activityHandler.Notifications)
		protected.GET("/receipts", activityHandler.Receipts)
		protected.GET("/receipts/:id", activityHandler.Receipt)
	}

	admin := protected.Group("/admin")
	admin.Use(middleware.RequireRole(d.Sessions, model.RoleAdmin))
	{
		admin.GET("/reverts", commissionHandler.Reverts)
		admin.POST("/commissions/:id/revert", commissionHandler.Simple(service.Revert))
	}
}
