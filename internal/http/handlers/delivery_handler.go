// README: Customer-facing delivery handlers: create, track, cancel, rate, bids.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"droply/internal/modules/delivery"
	"droply/internal/modules/matching"
	"droply/internal/modules/pricing"
	"droply/internal/types"
)

type DeliveryHandler struct {
	delivery *delivery.Service
	matching *matching.Service
}

func NewDeliveryHandler(deliverySvc *delivery.Service, matchingSvc *matching.Service) *DeliveryHandler {
	return &DeliveryHandler{delivery: deliverySvc, matching: matchingSvc}
}

type stopReq struct {
	Address      string  `json:"address"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	ContactName  string  `json:"contact_name"`
	ContactPhone string  `json:"contact_phone"`
	Instructions string  `json:"instructions"`
}

func (r stopReq) toStop() delivery.Stop {
	return delivery.Stop{
		Address:      r.Address,
		Position:     types.Point{Lat: r.Lat, Lng: r.Lng},
		ContactName:  r.ContactName,
		ContactPhone: r.ContactPhone,
		Instructions: r.Instructions,
	}
}

type packageReq struct {
	Description string  `json:"description"`
	WeightKg    float64 `json:"weight_kg"`
	Dimensions  string  `json:"dimensions"`
	Quantity    int     `json:"quantity"`
	Fragile     bool    `json:"fragile"`
	Category    string  `json:"category"`
}

type createDeliveryReq struct {
	CustomerID    string     `json:"customer_id"`
	Type          string     `json:"type"`
	VehicleType   string     `json:"vehicle_type"`
	Pickup        stopReq    `json:"pickup"`
	Drop          stopReq    `json:"drop"`
	Package       packageReq `json:"package"`
	ScheduledAt   *time.Time `json:"scheduled_at"`
	PaymentMethod string     `json:"payment_method"`
	ProposedPrice int64      `json:"proposed_price"`
}

func (h *DeliveryHandler) Create(c *gin.Context) {
	var req createDeliveryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	typ := delivery.Type(req.Type)
	if typ == "" {
		typ = delivery.TypeInstant
	}
	d, err := h.delivery.Create(c.Request.Context(), delivery.CreateCommand{
		CustomerID:  types.ID(req.CustomerID),
		Type:        typ,
		VehicleType: pricing.VehicleType(req.VehicleType),
		Pickup:      req.Pickup.toStop(),
		Drop:        req.Drop.toStop(),
		Package: delivery.Package{
			Description: req.Package.Description,
			WeightKg:    req.Package.WeightKg,
			Dimensions:  req.Package.Dimensions,
			Quantity:    req.Package.Quantity,
			Fragile:     req.Package.Fragile,
			Category:    req.Package.Category,
		},
		ScheduledAt:   req.ScheduledAt,
		Method:        delivery.PaymentMethod(req.PaymentMethod),
		ProposedPrice: req.ProposedPrice,
	})
	if err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, deliveryView(d))
}

func (h *DeliveryHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing delivery id")
		return
	}
	d, err := h.delivery.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusOK, deliveryView(d))
}

func (h *DeliveryHandler) Track(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		writeError(c, http.StatusBadRequest, "missing tracking code")
		return
	}
	d, err := h.delivery.GetByTrackingCode(c.Request.Context(), code)
	if err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusOK, trackingView(d))
}

func (h *DeliveryHandler) List(c *gin.Context) {
	customerID := c.Query("customer_id")
	if customerID == "" {
		writeError(c, http.StatusBadRequest, "missing customer_id")
		return
	}
	ds, err := h.delivery.ListByCustomer(c.Request.Context(), types.ID(customerID))
	if err != nil {
		writeFault(c, err)
		return
	}
	views := make([]gin.H, 0, len(ds))
	for _, d := range ds {
		views = append(views, deliveryView(d))
	}
	writeJSON(c, http.StatusOK, gin.H{"deliveries": views})
}

type cancelReq struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Reason  string `json:"reason"`
}

func (h *DeliveryHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing delivery id")
		return
	}
	var req cancelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	role := delivery.ActorRole(req.Role)
	if role == "" {
		role = delivery.ActorUser
	}
	d, err := h.delivery.Cancel(c.Request.Context(), delivery.CancelCommand{
		DeliveryID: types.ID(id),
		ActorID:    types.ID(req.ActorID),
		ActorRole:  role,
		Reason:     req.Reason,
	})
	if err != nil {
		writeFault(c, err)
		return
	}
	resp := gin.H{"delivery_id": d.ID, "status": d.Status}
	if d.Cancellation != nil {
		resp["refund_status"] = d.Cancellation.RefundStatus
	}
	writeJSON(c, http.StatusOK, resp)
}

type rateReq struct {
	CustomerID string `json:"customer_id"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment"`
}

func (h *DeliveryHandler) Rate(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing delivery id")
		return
	}
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.delivery.Rate(c.Request.Context(), delivery.RateCommand{
		DeliveryID: types.ID(id),
		CustomerID: types.ID(req.CustomerID),
		Value:      req.Rating,
		Comment:    req.Comment,
	})
	if err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"delivery_id": d.ID, "rating": d.Rating.Value})
}

func (h *DeliveryHandler) ListBids(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing delivery id")
		return
	}
	d, err := h.delivery.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeFault(c, err)
		return
	}
	if d.CustomBid == nil {
		writeError(c, http.StatusBadRequest, "delivery does not accept bids")
		return
	}
	bids := make([]gin.H, 0, len(d.CustomBid.Bids))
	for _, b := range d.CustomBid.Bids {
		bids = append(bids, gin.H{
			"bid_id":         b.ID,
			"partner_id":     b.PartnerID,
			"price":          b.Price,
			"pickup_eta_min": int(b.PickupETA.Minutes()),
			"message":        b.Message,
			"submitted_at":   b.SubmittedAt,
		})
	}
	writeJSON(c, http.StatusOK, gin.H{
		"delivery_id":    d.ID,
		"proposed_price": d.CustomBid.ProposedPrice,
		"bid_status":     d.CustomBid.Status,
		"expires_at":     d.CustomBid.ExpiresAt,
		"bids":           bids,
	})
}

type acceptBidReq struct {
	CustomerID    string `json:"customer_id"`
	PaymentMethod string `json:"payment_method"`
}

func (h *DeliveryHandler) AcceptBid(c *gin.Context) {
	id := c.Param("id")
	bidID := c.Param("bid_id")
	if id == "" || bidID == "" {
		writeError(c, http.StatusBadRequest, "missing delivery or bid id")
		return
	}
	var req acceptBidReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.matching.AcceptBid(c.Request.Context(), matching.AcceptBidCommand{
		CustomerID: types.ID(req.CustomerID),
		DeliveryID: types.ID(id),
		BidID:      types.ID(bidID),
		Method:     delivery.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"delivery_id": d.ID,
		"status":      d.Status,
		"partner_id":  d.PartnerID,
		"total_price": d.Pricing.TotalPrice,
	})
}

func deliveryView(d *delivery.Delivery) gin.H {
	v := gin.H{
		"delivery_id":   d.ID,
		"tracking_code": d.TrackingCode,
		"type":          d.Type,
		"status":        d.Status,
		"vehicle_type":  d.VehicleType,
		"total_price":   d.Pricing.TotalPrice,
		"payment": gin.H{
			"method": d.Payment.Method,
			"status": d.Payment.Status,
		},
		"distance_km":  d.DistanceKm,
		"duration_min": d.DurationMin,
		"created_at":   d.CreatedAt,
	}
	if d.PartnerID != nil {
		v["partner_id"] = *d.PartnerID
	}
	if d.ScheduledAt != nil {
		v["scheduled_at"] = *d.ScheduledAt
	}
	if d.CustomBid != nil {
		v["proposed_price"] = d.CustomBid.ProposedPrice
		v["bid_status"] = d.CustomBid.Status
		v["bid_expires_at"] = d.CustomBid.ExpiresAt
	}
	return v
}

func trackingView(d *delivery.Delivery) gin.H {
	timeline := make([]gin.H, 0, len(d.Timeline))
	for _, e := range d.Timeline {
		entry := gin.H{"status": e.Status, "at": e.At, "description": e.Description}
		if e.Location != nil {
			entry["lat"] = e.Location.Lat
			entry["lng"] = e.Location.Lng
		}
		timeline = append(timeline, entry)
	}
	v := gin.H{
		"tracking_code": d.TrackingCode,
		"status":        d.Status,
		"timeline":      timeline,
	}
	if len(d.Waypoints) > 0 {
		last := d.Waypoints[len(d.Waypoints)-1]
		v["last_position"] = gin.H{"lat": last.Position.Lat, "lng": last.Position.Lng, "at": last.At}
	}
	return v
}
