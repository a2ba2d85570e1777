package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/settlement-backend/internal/config"
	"github.com/ignatzorin/settlement-backend/internal/http/handlers"
	"github.com/ignatzorin/settlement-backend/internal/http/middleware"
)

func SetupRouter(
	cfg *config.Config,
	tokens middleware.TokenParser,
	bookingHandler *handlers.BookingHandler,
	financeHandler *handlers.FinanceHandler,
	disputeHandler *handlers.DisputeHandler,
	campaignHandler *handlers.CampaignHandler,
	notificationHandler *handlers.NotificationHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")

	// WebSocket авторизуется токеном из query.
	api.GET("/ws", wsHandler.Handle)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokens))

	adminOnly := middleware.RequireRole("admin")
	moneyRateLimit := middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod)

	bookings := protected.Group("/bookings")
	{
		bookings.POST("", bookingHandler.CreateBooking)
		bookings.GET("", bookingHandler.ListBookings)
		bookings.GET("/:id", middleware.UUIDValidator("id"), bookingHandler.GetBooking)
		bookings.PATCH("/:id/status", middleware.UUIDValidator("id"), bookingHandler.UpdateStatus)
		bookings.POST("/:id/cancel", middleware.UUIDValidator("id"), bookingHandler.Cancel)
		bookings.POST("/:id/payment", middleware.UUIDValidator("id"), moneyRateLimit, bookingHandler.CapturePayment)
		bookings.POST("/:id/refund-request", middleware.UUIDValidator("id"), bookingHandler.RequestRefund)
		bookings.GET("/:id/ledger", middleware.UUIDValidator("id"), bookingHandler.Ledger)
	}

	finance := protected.Group("/finance")
	finance.Use(adminOnly, moneyRateLimit)
	{
		finance.POST("/escrow/:bookingId/release", middleware.UUIDValidator("bookingId"), financeHandler.ReleaseEscrow)
		finance.POST("/refunds/:bookingId/process", middleware.UUIDValidator("bookingId"), financeHandler.ProcessRefund)
	}

	disputes := protected.Group("/disputes")
	{
		disputes.POST("", disputeHandler.CreateDispute)
		disputes.GET("", disputeHandler.ListDisputes)
		disputes.GET("/:id", middleware.UUIDValidator("id"), disputeHandler.GetDispute)
		disputes.POST("/:id/messages", middleware.UUIDValidator("id"), disputeHandler.AddMessage)
		disputes.PATCH("/:id/status", middleware.UUIDValidator("id"), adminOnly, disputeHandler.UpdateStatus)
		disputes.POST("/:id/resolve", middleware.UUIDValidator("id"), adminOnly, disputeHandler.Resolve)
	}

	campaigns := protected.Group("/bulk-notifications")
	campaigns.Use(adminOnly)
	{
		campaigns.POST("", campaignHandler.CreateCampaign)
		campaigns.GET("", campaignHandler.ListCampaigns)
		campaigns.GET("/:id", middleware.UUIDValidator("id"), campaignHandler.GetCampaign)
		campaigns.PUT("/:id", middleware.UUIDValidator("id"), campaignHandler.UpdateCampaign)
		campaigns.POST("/:id/send", middleware.UUIDValidator("id"), middleware.RateLimitMiddleware(5, cfg.RateLimitPeriod), campaignHandler.SendCampaign)
		campaigns.POST("/:id/redeliver", middleware.UUIDValidator("id"), campaignHandler.RedeliverPending)
		campaigns.POST("/:id/cancel", middleware.UUIDValidator("id"), campaignHandler.CancelCampaign)
		campaigns.GET("/:id/delivery-records", middleware.UUIDValidator("id"), campaignHandler.DeliveryRecords)
	}

	protected.POST("/deliveries/:id/opened", middleware.UUIDValidator("id"), campaignHandler.TrackOpen)

	notifications := protected.Group("/notifications")
	{
		notifications.GET("", notificationHandler.ListNotifications)
		notifications.GET("/unread/count", notificationHandler.CountUnread)
		notifications.PUT("/read-all", notificationHandler.MarkAllAsRead)
		notifications.PUT("/:id/read", middleware.UUIDValidator("id"), notificationHandler.MarkAsRead)
	}

	return r
}
