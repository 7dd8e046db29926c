// README: Partner-facing handlers: onboarding, availability, jobs, bids, status.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"droply/internal/modules/delivery"
	"droply/internal/modules/matching"
	"droply/internal/modules/partner"
	"droply/internal/modules/pricing"
	"droply/internal/types"
)

type PartnerHandler struct {
	partner  *partner.Service
	matching *matching.Service
	delivery *delivery.Service
}

func NewPartnerHandler(partnerSvc *partner.Service, matchingSvc *matching.Service, deliverySvc *delivery.Service) *PartnerHandler {
	return &PartnerHandler{partner: partnerSvc, matching: matchingSvc, delivery: deliverySvc}
}

type registerPartnerReq struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (h *PartnerHandler) Register(c *gin.Context) {
	var req registerPartnerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	p, err := h.partner.Register(c.Request.Context(), partner.RegisterCommand{
		Name:  req.Name,
		Phone: req.Phone,
	})
	if err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{
		"partner_id":   p.ID,
		"verification": p.Verification,
	})
}

func (h *PartnerHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing partner id")
		return
	}
	p, err := h.partner.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeFault(c, err)
		return
	}
	vehicles := make([]gin.H, 0, len(p.Vehicles))
	for _, v := range p.Vehicles {
		vehicles = append(vehicles, gin.H{
			"vehicle_id":      v.ID,
			"type":            v.Type,
			"registration_no": v.RegistrationNo,
			"verified":        v.Verified,
			"active":          v.Active,
		})
	}
	writeJSON(c, http.StatusOK, gin.H{
		"partner_id":       p.ID,
		"name":             p.Name,
		"verification":     p.Verification,
		"availability":     p.Availability,
		"rating":           p.Rating(),
		"total_deliveries": p.TotalDeliveries,
		"vehicles":         vehicles,
	})
}

func (h *PartnerHandler) Approve(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing partner id")
		return
	}
	if err := h.partner.Approve(c.Request.Context(), types.ID(id)); err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"partner_id": id, "verification": partner.VerificationApproved})
}

type addVehicleReq struct {
	Type           string `json:"type"`
	RegistrationNo string `json:"registration_no"`
}

func (h *PartnerHandler) AddVehicle(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing partner id")
		return
	}
	var req addVehicleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	v, err := h.partner.AddVehicle(c.Request.Context(), partner.AddVehicleCommand{
		PartnerID:      types.ID(id),
		Type:           pricing.VehicleType(req.Type),
		RegistrationNo: req.RegistrationNo,
	})
	if err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"vehicle_id": v.ID, "type": v.Type})
}

func (h *PartnerHandler) VerifyVehicle(c *gin.Context) {
	id := c.Param("id")
	vehicleID := c.Param("vehicle_id")
	if id == "" || vehicleID == "" {
		writeError(c, http.StatusBadRequest, "missing partner or vehicle id")
		return
	}
	if err := h.partner.VerifyVehicle(c.Request.Context(), types.ID(id), types.ID(vehicleID)); err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"vehicle_id": vehicleID, "verified": true})
}

func (h *PartnerHandler) GoOnline(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing partner id")
		return
	}
	if err := h.partner.GoOnline(c.Request.Context(), types.ID(id)); err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"partner_id": id, "availability": partner.AvailabilityOnline})
}

func (h *PartnerHandler) GoOffline(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing partner id")
		return
	}
	if err := h.partner.GoOffline(c.Request.Context(), types.ID(id)); err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"partner_id": id, "availability": partner.AvailabilityOffline})
}

type locationReq struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

func (h *PartnerHandler) UpdateLocation(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing partner id")
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.partner.UpdateLocation(c.Request.Context(), partner.LocationUpdate{
		PartnerID: types.ID(id),
		Position:  types.Point{Lat: req.Lat, Lng: req.Lng},
		Address:   req.Address,
	})
	if err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"partner_id": id})
}

func (h *PartnerHandler) ListNearby(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing partner id")
		return
	}
	reqs, err := h.matching.ListNearby(c.Request.Context(), types.ID(id))
	if err != nil {
		writeFault(c, err)
		return
	}
	views := make([]gin.H, 0, len(reqs))
	for _, r := range reqs {
		views = append(views, gin.H{
			"delivery_id":  r.Delivery.ID,
			"type":         r.Delivery.Type,
			"vehicle_type": r.Delivery.VehicleType,
			"pickup":       gin.H{"lat": r.Delivery.Pickup.Position.Lat, "lng": r.Delivery.Pickup.Position.Lng, "address": r.Delivery.Pickup.Address},
			"drop":         gin.H{"lat": r.Delivery.Drop.Position.Lat, "lng": r.Delivery.Drop.Position.Lng, "address": r.Delivery.Drop.Address},
			"total_price":  r.Delivery.Pricing.TotalPrice,
			"distance_km":  r.DistanceKm,
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"requests": views})
}

type acceptDeliveryReq struct {
	VehicleID string `json:"vehicle_id"`
}

func (h *PartnerHandler) Accept(c *gin.Context) {
	partnerID := c.Param("id")
	deliveryID := c.Param("delivery_id")
	if partnerID == "" || deliveryID == "" {
		writeError(c, http.StatusBadRequest, "missing partner or delivery id")
		return
	}
	var req acceptDeliveryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.matching.Accept(c.Request.Context(), matching.AcceptCommand{
		PartnerID:  types.ID(partnerID),
		DeliveryID: types.ID(deliveryID),
		VehicleID:  types.ID(req.VehicleID),
	})
	if err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"delivery_id": d.ID, "status": d.Status})
}

type submitBidReq struct {
	Price        int64  `json:"price"`
	PickupETAMin int    `json:"pickup_eta_min"`
	Message      string `json:"message"`
}

func (h *PartnerHandler) SubmitBid(c *gin.Context) {
	partnerID := c.Param("id")
	deliveryID := c.Param("delivery_id")
	if partnerID == "" || deliveryID == "" {
		writeError(c, http.StatusBadRequest, "missing partner or delivery id")
		return
	}
	var req submitBidReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	b, err := h.matching.SubmitBid(c.Request.Context(), matching.SubmitBidCommand{
		PartnerID:  types.ID(partnerID),
		DeliveryID: types.ID(deliveryID),
		Price:      req.Price,
		PickupETA:  time.Duration(req.PickupETAMin) * time.Minute,
		Message:    req.Message,
	})
	if err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"bid_id": b.ID, "price": b.Price})
}

type updateStatusReq struct {
	Status string   `json:"status"`
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
}

func (h *PartnerHandler) UpdateStatus(c *gin.Context) {
	partnerID := c.Param("id")
	deliveryID := c.Param("delivery_id")
	if partnerID == "" || deliveryID == "" {
		writeError(c, http.StatusBadRequest, "missing partner or delivery id")
		return
	}
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	var loc *types.Point
	if req.Lat != nil && req.Lng != nil {
		loc = &types.Point{Lat: *req.Lat, Lng: *req.Lng}
	}
	d, err := h.delivery.UpdateStatus(c.Request.Context(), delivery.UpdateStatusCommand{
		DeliveryID: types.ID(deliveryID),
		PartnerID:  types.ID(partnerID),
		NewStatus:  delivery.Status(req.Status),
		Location:   loc,
	})
	if err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"delivery_id": d.ID, "status": d.Status})
}
