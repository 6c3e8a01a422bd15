// README: Driver handlers: location reports and assigned-delivery listing.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"agronet/internal/modules/delivery"
	"agronet/internal/modules/driver"
	"agronet/internal/modules/geo"
	"agronet/internal/types"
)

type DriverHandler struct {
	delivery *delivery.Service
	drivers  *driver.Store
}

func NewDriverHandler(deliverySvc *delivery.Service, drivers *driver.Store) *DriverHandler {
	return &DriverHandler{delivery: deliverySvc, drivers: drivers}
}

type locationReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ReportLocation is the driver location reporter: it upserts position and a
// freshly computed geohash onto the driver's user document.
func (h *DriverHandler) ReportLocation(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing driver id")
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.drivers.ReportLocation(c.Request.Context(), types.ID(id), types.Point{Lat: req.Lat, Lng: req.Lng})
	if errors.Is(err, geo.ErrInvalidCoordinate) {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *DriverHandler) ListDeliveries(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing driver id")
		return
	}
	ds, err := h.delivery.ListByDriver(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDeliveryError(c, err)
		return
	}
	if ds == nil {
		ds = []delivery.Delivery{}
	}
	writeJSON(c, http.StatusOK, gin.H{"deliveries": ds})
}
