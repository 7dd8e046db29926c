// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"droply/internal/http/handlers"
	"droply/internal/http/middleware"
	"droply/internal/modules/delivery"
	"droply/internal/modules/matching"
	"droply/internal/modules/partner"
	"droply/internal/modules/settlement"
)

func NewRouter(
	deliveryService *delivery.Service,
	partnerService *partner.Service,
	matchingService *matching.Service,
	settlementService *settlement.Service,
) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Logging(), middleware.Recovery())

	deliveryHandler := handlers.NewDeliveryHandler(deliveryService, matchingService)
	r.POST("/api/deliveries", deliveryHandler.Create)
	r.GET("/api/deliveries", deliveryHandler.List)
	r.GET("/api/deliveries/:id", deliveryHandler.Get)
	r.POST("/api/deliveries/:id/cancel", deliveryHandler.Cancel)
	r.POST("/api/deliveries/:id/rating", deliveryHandler.Rate)
	r.GET("/api/deliveries/:id/bids", deliveryHandler.ListBids)
	r.POST("/api/deliveries/:id/bids/:bid_id/accept", deliveryHandler.AcceptBid)
	r.GET("/api/track/:code", deliveryHandler.Track)

	partnerHandler := handlers.NewPartnerHandler(partnerService, matchingService, deliveryService)
	r.POST("/api/partners", partnerHandler.Register)
	r.GET("/api/partners/:id", partnerHandler.Get)
	r.POST("/api/partners/:id/approve", partnerHandler.Approve)
	r.POST("/api/partners/:id/vehicles", partnerHandler.AddVehicle)
	r.POST("/api/partners/:id/vehicles/:vehicle_id/verify", partnerHandler.VerifyVehicle)
	r.POST("/api/partners/:id/online", partnerHandler.GoOnline)
	r.POST("/api/partners/:id/offline", partnerHandler.GoOffline)
	r.PUT("/api/partners/:id/location", partnerHandler.UpdateLocation)
	r.GET("/api/partners/:id/requests", partnerHandler.ListNearby)
	r.POST("/api/partners/:id/deliveries/:delivery_id/accept", partnerHandler.Accept)
	r.POST("/api/partners/:id/deliveries/:delivery_id/bid", partnerHandler.SubmitBid)
	r.POST("/api/partners/:id/deliveries/:delivery_id/status", partnerHandler.UpdateStatus)

	settlementHandler := handlers.NewSettlementHandler(settlementService)
	r.POST("/api/payments/confirm", settlementHandler.Confirm)
	r.POST("/api/payments/webhook", settlementHandler.Confirm)
	r.POST("/api/payments/:id/refund/resolve", settlementHandler.ResolveRefund)
	r.GET("/api/payments/:id", settlementHandler.ListByDelivery)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	return r
}
