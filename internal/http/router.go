// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agronet/internal/http/handlers"
	"agronet/internal/modules/delivery"
	"agronet/internal/modules/driver"
)

func NewRouter(
	deliverySvc *delivery.Service,
	driverStore *driver.Store,
	watcher handlers.AvailableWatcher,
) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	deliveryHandler := handlers.NewDeliveryHandler(deliverySvc, watcher)
	r.POST("/api/deliveries", deliveryHandler.Create)
	r.GET("/api/deliveries/available", deliveryHandler.ListAvailable)
	r.GET("/api/deliveries/available/stream", deliveryHandler.StreamAvailable)
	r.GET("/api/deliveries/:id", deliveryHandler.Get)
	r.POST("/api/deliveries/:id/accept", deliveryHandler.Accept)
	r.POST("/api/deliveries/:id/status", deliveryHandler.AdvanceStatus)

	driverHandler := handlers.NewDriverHandler(deliverySvc, driverStore)
	r.PUT("/api/drivers/:id/location", driverHandler.ReportLocation)
	r.GET("/api/drivers/:id/deliveries", driverHandler.ListDeliveries)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
