package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"fleet-usage-backend/config"
	"fleet-usage-backend/internal/mw"
	"fleet-usage-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(s store.Store, webpushOptions *webpush.Options, loc *time.Location, srv *config.ServerConfig) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, webpushOptions, loc)

	rateLimiter := mw.RateLimiter(rate.Limit(srv.RateLimitPerSec), int(srv.RateLimitPerSec)/2+1, srv.RequestIPHeader)

	// Short TTL: usage decisions flip on evaluator ticks and should not be
	// served stale for long.
	cacheTTL := time.Duration(srv.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/shifts", handler.CreateShift)
		api.GET("/shifts", caching, handler.ListShifts)
		api.GET("/shifts/:id", handler.GetShift)
		api.PATCH("/shifts/:id", handler.PatchShift)
		api.DELETE("/shifts/:id", handler.DeleteShift)

		api.POST("/devices", handler.PostDevice)
		api.GET("/devices", caching, handler.GetDevices)
		api.GET("/devices/:device_id/assignments", handler.ListDeviceAssignments)
		api.GET("/devices/:device_id/usage", handler.GetDeviceUsage)

		api.POST("/drivers", handler.PostDriver)
		api.GET("/drivers", caching, handler.GetDrivers)

		api.POST("/assignments", handler.PostAssignment)
		api.POST("/assignments/:id/extend", handler.ExtendAssignment)
		api.DELETE("/assignments/:id", handler.DeleteAssignment)

		api.GET("/usage", caching, handler.GetFleetUsage)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
