// README: Payment handlers: gateway webhook, manual confirm, refund resolution.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"droply/internal/modules/settlement"
	"droply/internal/types"
)

type SettlementHandler struct {
	settlement *settlement.Service
}

func NewSettlementHandler(svc *settlement.Service) *SettlementHandler {
	return &SettlementHandler{settlement: svc}
}

type confirmPaymentReq struct {
	DeliveryID     string `json:"delivery_id"`
	GatewayEventID string `json:"gateway_event_id"`
	Gateway        string `json:"gateway"`
	Amount         int64  `json:"amount"`
}

// Confirm handles both the gateway webhook and manual confirmation. Replays of
// the same gateway event id return 200 with duplicate set to true.
func (h *SettlementHandler) Confirm(c *gin.Context) {
	var req confirmPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := h.settlement.Confirm(c.Request.Context(), settlement.ConfirmCommand{
		DeliveryID:     types.ID(req.DeliveryID),
		GatewayEventID: req.GatewayEventID,
		Gateway:        req.Gateway,
		Amount:         req.Amount,
	})
	if err != nil {
		writeFault(c, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(c, status, gin.H{
		"payment_id":  res.Payment.ID,
		"delivery_id": res.Payment.DeliveryID,
		"amount":      res.Payment.Amount,
		"payout":      res.Payment.Payout.Amount,
		"duplicate":   res.Duplicate,
	})
}

type resolveRefundReq struct {
	Succeeded bool `json:"succeeded"`
}

func (h *SettlementHandler) ResolveRefund(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing delivery id")
		return
	}
	var req resolveRefundReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.settlement.ResolveRefund(c.Request.Context(), types.ID(id), req.Succeeded); err != nil {
		writeFault(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"delivery_id": id, "resolved": true})
}

func (h *SettlementHandler) ListByDelivery(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing delivery id")
		return
	}
	payments, err := h.settlement.ListByDelivery(c.Request.Context(), types.ID(id))
	if err != nil {
		writeFault(c, err)
		return
	}
	views := make([]gin.H, 0, len(payments))
	for _, p := range payments {
		v := gin.H{
			"payment_id":    p.ID,
			"amount":        p.Amount,
			"method":        p.Method,
			"gateway":       p.Gateway,
			"payout":        p.Payout.Amount,
			"payout_status": p.Payout.Status,
			"created_at":    p.CreatedAt,
		}
		if p.Refund != nil {
			v["refund_status"] = p.Refund.Status
			v["refund_amount"] = p.Refund.Amount
		}
		views = append(views, v)
	}
	writeJSON(c, http.StatusOK, gin.H{"payments": views})
}
