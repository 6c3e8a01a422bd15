// README: Delivery handlers: create, accept, advance status, list, stream.
package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"agronet/internal/modules/delivery"
	"agronet/internal/types"
)

// AvailableWatcher is the live query the SSE stream is backed by; the
// Firestore store implements it.
type AvailableWatcher interface {
	WatchAvailable(ctx context.Context) <-chan []delivery.Delivery
}

type DeliveryHandler struct {
	delivery *delivery.Service
	watcher  AvailableWatcher
}

func NewDeliveryHandler(svc *delivery.Service, watcher AvailableWatcher) *DeliveryHandler {
	return &DeliveryHandler{delivery: svc, watcher: watcher}
}

type createDeliveryReq struct {
	OrderID string              `json:"order_id"`
	Pickup  delivery.GeoAddress `json:"pickup"`
	Drop    delivery.GeoAddress `json:"drop"`
}

func (h *DeliveryHandler) Create(c *gin.Context) {
	var req createDeliveryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.OrderID == "" {
		writeError(c, http.StatusBadRequest, "missing order_id")
		return
	}
	id, err := h.delivery.Create(c.Request.Context(), delivery.CreateCommand{
		OrderID: types.ID(req.OrderID),
		Pickup:  req.Pickup,
		Drop:    req.Drop,
	})
	if err != nil {
		writeDeliveryError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"delivery_id": id, "status": delivery.StatusSearching})
}

func (h *DeliveryHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing delivery id")
		return
	}
	d, err := h.delivery.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDeliveryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *DeliveryHandler) Accept(c *gin.Context) {
	id := c.Param("id")
	driverID := c.Query("driver_id")
	if id == "" || driverID == "" {
		writeError(c, http.StatusBadRequest, "missing delivery id or driver_id")
		return
	}
	err := h.delivery.Accept(c.Request.Context(), delivery.AcceptCommand{
		DeliveryID: types.ID(id),
		DriverID:   types.ID(driverID),
	})
	if err != nil {
		writeDeliveryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": delivery.StatusAssigned})
}

type advanceStatusReq struct {
	DriverID string          `json:"driver_id"`
	Status   delivery.Status `json:"status"`
}

func (h *DeliveryHandler) AdvanceStatus(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing delivery id")
		return
	}
	var req advanceStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.delivery.Advance(c.Request.Context(), delivery.AdvanceCommand{
		DeliveryID: types.ID(id),
		DriverID:   types.ID(req.DriverID),
		NextStatus: req.Status,
	})
	if err != nil {
		writeDeliveryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": req.Status})
}

func (h *DeliveryHandler) ListAvailable(c *gin.Context) {
	ds, err := h.delivery.ListAvailable(c.Request.Context())
	if err != nil {
		writeDeliveryError(c, err)
		return
	}
	if ds == nil {
		ds = []delivery.Delivery{}
	}
	writeJSON(c, http.StatusOK, gin.H{"deliveries": ds})
}

// StreamAvailable pushes the SEARCHING result set as server-sent events on
// every change until the client disconnects.
func (h *DeliveryHandler) StreamAvailable(c *gin.Context) {
	if h.watcher == nil {
		writeError(c, http.StatusServiceUnavailable, "live updates unavailable")
		return
	}
	ch := h.watcher.WatchAvailable(c.Request.Context())
	c.Stream(func(w io.Writer) bool {
		ds, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent("deliveries", ds)
		return true
	})
}
